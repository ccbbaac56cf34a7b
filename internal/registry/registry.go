// Package registry discovers installed RKLLM models laid out one folder
// per model under a models root, and serves lookups by friendly name.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// modelFileExt is the extension the registry scans for inside each model
// folder. When several files carry it, the first in directory order is
// used and a warning is logged.
const modelFileExt = ".rkllm"

var ctxPattern = regexp.MustCompile(`(?i)ctx(\d+)`)

// defaultContextLen is used when the filename carries no ctxNNNN marker.
const defaultContextLen = 4096

// Descriptor describes one discovered model.
type Descriptor struct {
	FriendlyName string
	Path         string
	ContextLen   int
	SizeBytes    int64
}

// Registry is a friendly-name -> Descriptor map built by scanning a root
// directory. Safe for concurrent use; Rescan swaps the underlying map
// atomically so readers never see a partially built registry.
type Registry struct {
	root string

	mu   sync.RWMutex
	byName map[string]Descriptor
}

// New creates a Registry rooted at root. Discover must be called at least
// once before lookups return anything.
func New(root string) *Registry {
	return &Registry{root: root, byName: map[string]Descriptor{}}
}

// Discover scans the models root and rebuilds the registry. Safe to call
// repeatedly; two discoveries over the same filesystem produce equal
// registries (idempotent).
func (r *Registry) Discover() error {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("root", r.root).Msg("models root does not exist; registry is empty")
			r.swap(map[string]Descriptor{})
			return nil
		}
		return fmt.Errorf("read models root %s: %w", r.root, err)
	}

	next := make(map[string]Descriptor, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		dir := filepath.Join(r.root, name)

		candidates, err := matchingModelFiles(dir)
		if err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("failed to scan model directory")
			continue
		}
		if len(candidates) == 0 {
			continue
		}
		if len(candidates) > 1 {
			log.Warn().Str("dir", dir).Int("count", len(candidates)).
				Msg("multiple model files found, using the first")
		}

		chosen := candidates[0]
		info, err := os.Stat(chosen)
		if err != nil {
			log.Warn().Err(err).Str("file", chosen).Msg("failed to stat model file")
			continue
		}

		next[strings.ToLower(name)] = Descriptor{
			FriendlyName: name,
			Path:         chosen,
			ContextLen:   parseContextLen(filepath.Base(chosen)),
			SizeBytes:    info.Size(),
		}
	}

	if len(next) == 0 {
		log.Warn().Str("root", r.root).Msg("no models discovered")
	}

	r.swap(next)
	return nil
}

// Rescan is an alias for Discover, for call sites where "rescan" reads
// better than "discover".
func (r *Registry) Rescan() error { return r.Discover() }

func (r *Registry) swap(m map[string]Descriptor) {
	r.mu.Lock()
	r.byName = m
	r.mu.Unlock()
}

// List returns all descriptors ordered ascending by byte size.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SizeBytes < out[j].SizeBytes })
	return out
}

// Lookup finds a descriptor by friendly name, case-insensitively. No
// fuzzy matching is performed.
func (r *Registry) Lookup(identifier string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[strings.ToLower(identifier)]
	return d, ok
}

func matchingModelFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), modelFileExt) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// parseContextLen extracts the ctxNNNN substring from a model filename,
// e.g. "google_gemma-3-270m-w8a8-opt0-hybrid0-npu3-ctx16384-rk3588.rkllm"
// yields 16384. Returns defaultContextLen if no marker is present.
func parseContextLen(filename string) int {
	m := ctxPattern.FindStringSubmatch(filename)
	if m == nil {
		return defaultContextLen
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return defaultContextLen
	}
	return n
}
