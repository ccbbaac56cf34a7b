// Package lifecycle owns the single loaded model instance: load, unload,
// and the "what's currently loaded" query the HTTP surface and CLI need.
// Only one model may be resident at a time — loading a second evicts the
// first — since porpulse targets exactly one NPU handle.
package lifecycle

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hartyporpoise/porpulse/internal/config"
	"github.com/hartyporpoise/porpulse/internal/cpu"
	"github.com/hartyporpoise/porpulse/internal/hardware"
	"github.com/hartyporpoise/porpulse/internal/registry"
	"github.com/hartyporpoise/porpulse/internal/rkllm"
)

// ErrNoModelLoaded is returned by operations that require a resident model.
var ErrNoModelLoaded = fmt.Errorf("lifecycle: no model is currently loaded")

// Loaded describes the currently resident model.
type Loaded struct {
	Name       string
	Descriptor registry.Descriptor
	Engine     *rkllm.Engine
}

// Manager is the process-wide singleton that owns rkllm_init/rkllm_destroy
// calls. Safe for concurrent use; Load evicts whatever was previously
// resident before initializing the replacement (porpulse never runs two
// models at once).
type Manager struct {
	binding rkllm.Binder
	reg     *registry.Registry
	cfg     *config.Config
	topo    *cpu.Topology

	mu      sync.Mutex
	current *Loaded
}

// New builds a Manager. binding is the FFI layer (cgo-backed or the stub),
// reg is the discovered model set, cfg supplies hardware/inference defaults,
// and topo is the detected CPU topology consulted whenever
// hardware.enabled_cpus_num is left at its zero-value default. topo may be
// nil, in which case the config's literal value (including zero) is used
// unmodified.
func New(binding rkllm.Binder, reg *registry.Registry, cfg *config.Config, topo *cpu.Topology) *Manager {
	return &Manager{binding: binding, reg: reg, cfg: cfg, topo: topo}
}

// Current returns the resident model, or ok=false if none is loaded.
func (m *Manager) Current() (Loaded, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Loaded{}, false
	}
	return *m.current, true
}

// EnsureLoaded loads name if it is not already the resident model;
// otherwise it's a no-op returning the already-loaded instance.
func (m *Manager) EnsureLoaded(name string) (Loaded, error) {
	m.mu.Lock()
	if m.current != nil && strings.EqualFold(m.current.Name, name) {
		cur := *m.current
		m.mu.Unlock()
		return cur, nil
	}
	m.mu.Unlock()
	return m.Load(name)
}

// Load evicts any resident model and initializes name. A name missing from
// the registry is rejected before eviction, so the resident model stays
// loaded; if native initialization fails after eviction, the manager is
// left with no model loaded rather than a half-initialized handle.
func (m *Manager) Load(name string) (Loaded, error) {
	desc, ok := m.reg.Lookup(name)
	if !ok {
		return Loaded{}, fmt.Errorf("lifecycle: model %q not found in registry", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		log.Info().Str("model", m.current.Name).Msg("lifecycle: evicting resident model before load")
		if err := m.destroyLocked(); err != nil {
			log.Warn().Err(err).Msg("lifecycle: best-effort unload of previous model reported an error, continuing")
		}
	}

	ctxLen := int32(desc.ContextLen)
	if m.cfg != nil {
		ramGB := hardware.AvailableRAMGB()
		ctxLen = hardware.ClampContextLen(ctxLen, ramGB)
		if int(ctxLen) != desc.ContextLen {
			log.Warn().
				Int("requested_ctx", desc.ContextLen).
				Int32("clamped_ctx", ctxLen).
				Float64("ram_gb", ramGB).
				Msg("lifecycle: clamped context length to fit available RAM")
		}
	}

	param := m.paramFor(desc, ctxLen)

	handle, err := m.binding.Init(param, func(rkllm.Result) bool { return false })
	if err != nil {
		return Loaded{}, fmt.Errorf("lifecycle: init model %q: %w", name, err)
	}

	engine := rkllm.NewEngine(m.binding, handle, param.IsAsync)
	loaded := &Loaded{Name: desc.FriendlyName, Descriptor: desc, Engine: engine}
	m.current = loaded

	log.Info().Str("model", desc.FriendlyName).Int32("context_len", ctxLen).Msg("lifecycle: model loaded")
	return *loaded, nil
}

// Unload destroys the resident model's handle, returning ErrNoModelLoaded
// when none is resident. The model is dropped from the manager even when
// the native destroy call fails; that failure is returned to the caller.
func (m *Manager) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNoModelLoaded
	}
	return m.destroyLocked()
}

func (m *Manager) destroyLocked() error {
	name := m.current.Name
	handle := m.current.Engine.Handle()
	m.current = nil

	if err := m.binding.Destroy(handle); err != nil {
		return fmt.Errorf("lifecycle: destroy model %q: %w", name, err)
	}
	log.Info().Str("model", name).Msg("lifecycle: model unloaded")
	return nil
}

func (m *Manager) paramFor(desc registry.Descriptor, ctxLen int32) rkllm.Param {
	hw := m.cfg.Hardware
	inf := m.cfg.InferenceParams
	defs := m.cfg.ModelDefaults

	enabledCPUsNum := hw.EnabledCPUsNum
	if enabledCPUsNum == 0 && m.topo != nil {
		enabledCPUsNum = cpu.OptimalThreadCount(m.topo)
		log.Debug().Int("enabled_cpus_num", enabledCPUsNum).
			Msg("lifecycle: hardware.enabled_cpus_num unset, using CPU topology advisor")
	}

	return rkllm.Param{
		ModelPath:        desc.Path,
		MaxContextLen:    ctxLen,
		MaxNewTokens:     int32(defs.MaxNewTokens),
		TopK:             int32(inf.TopK),
		NKeep:            int32(defs.NKeep),
		TopP:             float32(inf.TopP),
		Temperature:      float32(inf.Temperature),
		RepeatPenalty:    float32(inf.RepeatPenalty),
		FrequencyPenalty: float32(inf.FrequencyPenalty),
		PresencePenalty:  float32(inf.PresencePenalty),
		Mirostat:         int32(inf.Mirostat),
		MirostatTau:      float32(inf.MirostatTau),
		MirostatEta:      float32(inf.MirostatEta),
		SkipSpecialToken: defs.SkipSpecialToken,
		IsAsync:          defs.IsAsync,
		Extend: rkllm.ExtendParam{
			BaseDomainID:    int32(hw.BaseDomainID),
			EmbedFlash:      boolToInt8(hw.EmbedFlash),
			EnabledCPUsNum:  int8(enabledCPUsNum),
			EnabledCPUsMask: uint32(hw.EnabledCPUsMask),
			NBatch:          uint8(hw.NBatch),
			UseCrossAttn:    boolToInt8(hw.UseCrossAttn),
		},
	}
}

func boolToInt8(b bool) int8 {
	if b {
		return 1
	}
	return 0
}
