// Package config defines runtime configuration for porpulse.
package config

import (
	"fmt"
)

// Config holds all settings controlling the server, the loaded model's
// default inference parameters, the hardware affinity hints handed to the
// accelerator, and the chat template settings used by the prompt builder.
//
// Config is loaded once at startup and treated as immutable thereafter;
// nothing in this package re-reads the file while the server is running.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	ModelsDir      string               `yaml:"models_dir"`
	CacheDir       string               `yaml:"cache_dir"`
	InferenceParams InferenceParams     `yaml:"inference_params"`
	ModelDefaults  ModelDefaults        `yaml:"model_defaults"`
	Hardware       HardwareConfig       `yaml:"hardware"`
	ChatTemplate   ChatTemplateConfig   `yaml:"chat_template"`
	ModelCatalog   ModelCatalogConfig   `yaml:"model_catalog"`
}

// ServerConfig is the ambient HTTP-server surface. File/env loading of
// these values is out of scope; this struct only fixes their shape and
// defaults.
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// InferenceParams are the sampling defaults applied when a wire request
// doesn't override them.
type InferenceParams struct {
	TopK             int     `yaml:"top_k"`
	TopP             float64 `yaml:"top_p"`
	Temperature      float64 `yaml:"temperature"`
	RepeatPenalty    float64 `yaml:"repeat_penalty"`
	FrequencyPenalty float64 `yaml:"frequency_penalty"`
	PresencePenalty  float64 `yaml:"presence_penalty"`
	Mirostat         int     `yaml:"mirostat"`
	MirostatTau      float64 `yaml:"mirostat_tau"`
	MirostatEta      float64 `yaml:"mirostat_eta"`
}

// ModelDefaults control generation caps and engine-level toggles.
type ModelDefaults struct {
	MaxNewTokens       int  `yaml:"max_new_tokens"`
	SkipSpecialToken   bool `yaml:"skip_special_token"`
	NKeep              int  `yaml:"n_keep"`
	IsAsync            bool `yaml:"is_async"`
	EnableThinking     bool `yaml:"enable_thinking"`
	EmbeddingsEnabled  bool `yaml:"embeddings_enabled"`
}

// HardwareConfig carries the accelerator and CPU affinity parameters.
type HardwareConfig struct {
	NBatch          int    `yaml:"n_batch"`
	EnabledCPUsNum  int    `yaml:"enabled_cpus_num"`
	EnabledCPUsMask uint64 `yaml:"enabled_cpus_mask"`
	EmbedFlash      bool   `yaml:"embed_flash"`
	UseCrossAttn    bool   `yaml:"use_cross_attn"`
	BaseDomainID    int    `yaml:"base_domain_id"`
	SlowWaitWarnMs  int64  `yaml:"slow_wait_warn_ms"`
}

// ChatTemplateConfig holds the chat template settings. Prompts are always
// pre-formatted by normalize.BuildPrompt, which only checks whether
// UserPrefix contains "<|im_start|>" to choose ChatML formatting; none of
// these fields is handed to the native runtime.
type ChatTemplateConfig struct {
	SystemPrompt   string `yaml:"system_prompt"`
	UserPrefix     string `yaml:"user_prefix"`
	AssistantPrefix string `yaml:"assistant_prefix"`
}

// ModelCatalogConfig configures the optional remote model-artifact catalog.
type ModelCatalogConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Default returns a Config populated with the documented defaults from the
// upstream RKLLM runtime (temperature 0.8, top_p 0.9, top_k 20, n_batch 3).
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8080,
			LogLevel: "info",
		},
		ModelsDir: "models",
		CacheDir:  "cache",
		InferenceParams: InferenceParams{
			TopK:          20,
			TopP:          0.9,
			Temperature:   0.8,
			RepeatPenalty: 1.1,
		},
		ModelDefaults: ModelDefaults{
			MaxNewTokens: -1,
			NKeep:        0,
			IsAsync:      true,
		},
		Hardware: HardwareConfig{
			NBatch:         3,
			EnabledCPUsNum: 0, // 0 = let the CPU topology advisor decide
			SlowWaitWarnMs: 2000,
		},
	}
}

// Validate checks the mathematical invariants config callers rely on:
// positive batch size, sane sampling ranges, non-empty directories.
func (c *Config) Validate() error {
	if c.ModelsDir == "" {
		return fmt.Errorf("models_dir must not be empty")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir must not be empty")
	}
	if c.Hardware.NBatch < 1 {
		return fmt.Errorf("hardware.n_batch must be >= 1, got %d", c.Hardware.NBatch)
	}
	if c.InferenceParams.Temperature < 0 || c.InferenceParams.Temperature > 2 {
		return fmt.Errorf("inference_params.temperature must be in [0,2], got %f", c.InferenceParams.Temperature)
	}
	if c.InferenceParams.TopP < 0 || c.InferenceParams.TopP > 1 {
		return fmt.Errorf("inference_params.top_p must be in [0,1], got %f", c.InferenceParams.TopP)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
