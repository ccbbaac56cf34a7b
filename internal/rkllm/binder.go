package rkllm

// Binder is the safe-wrapper contract the inference engine drives. Both
// the cgo-backed Binding (build tag rkllm) and the stub Binding
// (!rkllm) implement it.
type Binder interface {
	Init(p Param, cb Callback) (Handle, error)
	Run(h Handle, prompt string, enableThinking bool, infer InferParam, cb Callback) error
	RunAsync(h Handle, prompt string, enableThinking bool, infer InferParam, cb Callback) error
	IsRunning(h Handle) bool
	WaitAsync(h Handle)
	ClearKVCache(h Handle) error
	SetChatTemplate(h Handle, system, prefix, postfix string) error
	Destroy(h Handle) error
}
