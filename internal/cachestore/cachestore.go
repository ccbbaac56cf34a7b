// Package cachestore implements the binary prompt-cache subsystem: a
// directory-per-model layout of {cache}.rkllm_cache blob files and their
// {cache}.json sidecar metadata.
package cachestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/rs/zerolog/log"
)

// protectedName is the one cache name the public CRUD surface refuses to
// delete or create.
const protectedName = "system"

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrInvalidName is returned when a cache name fails validation.
var ErrInvalidName = errors.New("cache name must match [A-Za-z0-9_-]+")

// ErrProtectedName is returned when a caller attempts to delete "system".
var ErrProtectedName = errors.New("the \"system\" cache is protected from deletion")

// Info is the sidecar metadata for one cache entry.
type Info struct {
	CacheName    string  `json:"cache_name"`
	ModelName    string  `json:"model_name"`
	CreatedAt    float64 `json:"created_at"`
	PromptLength int     `json:"prompt_length"`
	Source       string  `json:"source"`
	TTFTMs       float64 `json:"ttft_ms"`
}

// Store is the filesystem-backed cache store, rooted at a cache directory.
type Store struct {
	root string
}

// New creates a Store rooted at root.
func New(root string) *Store {
	return &Store{root: root}
}

func validateName(name string) error {
	if !nameRE.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

func (s *Store) modelDir(model string) string {
	return filepath.Join(s.root, model)
}

func (s *Store) blobPath(model, name string) string {
	return filepath.Join(s.modelDir(model), name+".rkllm_cache")
}

func (s *Store) sidecarPath(model, name string) string {
	return filepath.Join(s.modelDir(model), name+".json")
}

// Path returns the absolute path of the blob file for (model, name).
func (s *Store) Path(model, name string) string {
	return s.blobPath(model, name)
}

// EnsureModelDir creates the per-model cache directory if it doesn't exist
// yet, so the native runtime has somewhere to write a blob file directly
// during a save-flagged generate call.
func (s *Store) EnsureModelDir(model string) error {
	dir := s.modelDir(model)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

// Exists reports whether a cache blob exists for (model, name).
func (s *Store) Exists(model, name string) bool {
	_, err := os.Stat(s.blobPath(model, name))
	return err == nil
}

// Info returns the sidecar metadata for (model, name), or nil if the blob
// does not exist. A blob present without a sidecar reports source=unknown.
func (s *Store) Info(model, name string) (*Info, error) {
	if !s.Exists(model, name) {
		return nil, nil
	}

	data, err := os.ReadFile(s.sidecarPath(model, name))
	if err != nil {
		if os.IsNotExist(err) {
			return &Info{CacheName: name, ModelName: model, Source: "unknown"}, nil
		}
		return nil, fmt.Errorf("read sidecar: %w", err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse sidecar: %w", err)
	}
	return &info, nil
}

// SaveBlob writes the opaque NPU-state blob for (model, name), deleting any
// existing blob first. Call SaveMetadata afterward to record the sidecar.
func (s *Store) SaveBlob(model, name string, content []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	if name == protectedName {
		return ErrProtectedName
	}

	dir := s.modelDir(model)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	blobPath := s.blobPath(model, name)
	_ = os.Remove(blobPath) // best effort: a stale blob must not linger on write failure

	if err := os.WriteFile(blobPath, content, 0o644); err != nil {
		return fmt.Errorf("write blob %s: %w", blobPath, err)
	}
	return nil
}

// SaveMetadata writes the sidecar JSON for (model, name). Called after a
// successful blob save.
func (s *Store) SaveMetadata(model, name string, promptLength int, source string, ttftMs float64, createdAt float64) error {
	info := Info{
		CacheName:    name,
		ModelName:    model,
		CreatedAt:    createdAt,
		PromptLength: promptLength,
		Source:       source,
		TTFTMs:       ttftMs,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	if err := os.WriteFile(s.sidecarPath(model, name), data, 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

// Delete removes the blob and sidecar for (model, name). Refuses to delete
// the protected "system" cache.
func (s *Store) Delete(model, name string) (bool, error) {
	if name == protectedName {
		return false, ErrProtectedName
	}

	deleted := false
	if err := os.Remove(s.blobPath(model, name)); err == nil {
		deleted = true
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("remove blob: %w", err)
	}

	if err := os.Remove(s.sidecarPath(model, name)); err == nil {
		deleted = true
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("remove sidecar: %w", err)
	}

	if deleted {
		log.Info().Str("model", model).Str("cache", name).Msg("deleted cache")
	}
	return deleted, nil
}

// List returns all cache metadata for model, newest first by creation time.
func (s *Store) List(model string) ([]Info, error) {
	dir := s.modelDir(model)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("failed to read cache sidecar")
			continue
		}
		var info Info
		if err := json.Unmarshal(data, &info); err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("failed to parse cache sidecar")
			continue
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// ListAll returns every model's cache list, keyed by model name.
func (s *Store) ListAll() (map[string][]Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]Info{}, nil
		}
		return nil, fmt.Errorf("read cache root: %w", err)
	}

	out := map[string][]Info{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		caches, err := s.List(e.Name())
		if err != nil {
			return nil, err
		}
		if len(caches) > 0 {
			out[e.Name()] = caches
		}
	}
	return out, nil
}

// ValidateName exposes the name-validation rule to callers building the
// CRUD HTTP surface, so "system" and malformed names are rejected before
// any filesystem work happens.
func ValidateName(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if name == protectedName {
		return ErrProtectedName
	}
	return nil
}
