// Package hardware detects host resource limits the lifecycle manager uses
// to clamp a model's context length to the available RAM.
package hardware

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// AvailableRAMGB returns the RAM available to the current process in
// gigabytes.
//
// Priority order (highest to lowest):
//  1. cgroup v2 memory limit (/sys/fs/cgroup/memory.max)       — containers
//  2. cgroup v1 memory limit (/sys/fs/cgroup/memory/memory.limit_in_bytes)
//  3. /proc/meminfo MemTotal                                    — Linux host
//  4. Go runtime Sys bytes, or an 8 GB default if even that looks bogus
//
// Reading the cgroup limit before /proc/meminfo means a container with
// --memory=1g correctly reports 1 GB instead of the host's full RAM.
func AvailableRAMGB() float64 {
	if gb := readCgroupV2MemLimit(); gb > 0 {
		return gb
	}
	if gb := readCgroupV1MemLimit(); gb > 0 {
		return gb
	}
	if gb := readProcMeminfo(); gb > 0 {
		return gb
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	gb := float64(ms.Sys) / 1e9
	if gb < 1 {
		return 8
	}
	return gb
}

func readCgroupV2MemLimit() float64 {
	data, err := os.ReadFile("/sys/fs/cgroup/memory.max")
	if err != nil {
		return 0
	}
	s := strings.TrimSpace(string(data))
	if s == "max" || s == "" {
		return 0
	}
	bytes, err := strconv.ParseInt(s, 10, 64)
	if err != nil || bytes <= 0 {
		return 0
	}
	return float64(bytes) / 1e9
}

func readCgroupV1MemLimit() float64 {
	data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes")
	if err != nil {
		return 0
	}
	bytes, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || bytes <= 0 {
		return 0
	}
	const maxSentinel = 4 * 1024 * 1024 * 1024 * 1024 * 1024 // 4 PiB, kernel's "no limit" sentinel
	if bytes >= maxSentinel {
		return 0
	}
	return float64(bytes) / 1e9
}

func readProcMeminfo() float64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return float64(kb) / (1024 * 1024)
	}
	return 0
}

// ClampContextLen returns the smaller of requested and a RAM-derived ceiling.
// Each 1K of context costs roughly contextCostMBPerK of resident memory on top
// of the weights themselves; below minRAMGBHeadroom free after the clamp the
// runtime risks an OOM kill mid-generation, so the clamp is conservative
// rather than exact.
func ClampContextLen(requested int32, ramGB float64) int32 {
	const (
		contextCostMBPerK  = 64.0
		minRAMGBHeadroom   = 2.0
	)
	usableGB := ramGB - minRAMGBHeadroom
	if usableGB <= 0 {
		return requested
	}
	maxK := (usableGB * 1024) / contextCostMBPerK
	maxLen := int32(maxK * 1024)
	if maxLen <= 0 || requested <= maxLen {
		return requested
	}
	return maxLen
}
