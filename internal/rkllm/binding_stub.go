//go:build !rkllm

package rkllm

import "errors"

// ErrUnsupportedPlatform is returned by every error-returning Binding
// operation when the
// module is built without the rkllm build tag (no vendor shared library
// linked in). This lets the registry, scheduler, cache store and HTTP
// surface build and run their own tests on ordinary CI hardware without
// the accelerator present.
var ErrUnsupportedPlatform = errors.New("rkllm: built without the rkllm build tag; no native runtime linked")

// Binding is a stand-in for the cgo-backed binding. Every error-returning
// method returns ErrUnsupportedPlatform; IsRunning reports false and
// WaitAsync returns at once.
type Binding struct{}

// NewBinding constructs the stub binding.
func NewBinding() *Binding { return &Binding{} }

func (b *Binding) Init(Param, Callback) (Handle, error) {
	return 0, ErrUnsupportedPlatform
}

func (b *Binding) Run(Handle, string, bool, InferParam, Callback) error {
	return ErrUnsupportedPlatform
}

func (b *Binding) RunAsync(Handle, string, bool, InferParam, Callback) error {
	return ErrUnsupportedPlatform
}

func (b *Binding) IsRunning(Handle) bool { return false }

func (b *Binding) WaitAsync(Handle) {}

func (b *Binding) ClearKVCache(Handle) error {
	return ErrUnsupportedPlatform
}

func (b *Binding) SetChatTemplate(Handle, string, string, string) error {
	return ErrUnsupportedPlatform
}

func (b *Binding) Destroy(Handle) error {
	return ErrUnsupportedPlatform
}
