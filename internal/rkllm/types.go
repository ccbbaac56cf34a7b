// Package rkllm is the FFI binding layer and inference engine for the
// Rockchip RKLLM runtime: a type-exact mirror of the native runtime's
// parameter, input, infer-param, result and performance structures, plus
// safe Go wrappers around init / run / run_async / is_running /
// clear_kv_cache / destroy / set_chat_template.
package rkllm

// CallState mirrors the native LLMCallState enum delivered on every
// callback invocation.
type CallState int32

const (
	CallStateNormal  CallState = 0
	CallStateWaiting CallState = 1
	CallStateFinish  CallState = 2
	CallStateError   CallState = 3
)

// InputType mirrors RKLLMInputType.
type InputType int32

const (
	InputTypePrompt     InputType = 0
	InputTypeToken      InputType = 1
	InputTypeEmbed      InputType = 2
	InputTypeMultimodal InputType = 3
)

// InferMode mirrors RKLLMInferMode.
type InferMode int32

const (
	InferModeGenerate        InferMode = 0
	InferModeGetLastHidden   InferMode = 1
	InferModeGetLogits       InferMode = 2
)

// ExtendParam mirrors RKLLMExtendParam (the hardware/batching extension
// block embedded in RKLLMParam).
type ExtendParam struct {
	BaseDomainID    int32
	EmbedFlash      int8
	EnabledCPUsNum  int8
	EnabledCPUsMask uint32
	NBatch          uint8
	UseCrossAttn    int8
}

// Param mirrors RKLLMParam, the struct passed to rkllm_init.
type Param struct {
	ModelPath         string
	MaxContextLen     int32
	MaxNewTokens      int32
	TopK              int32
	NKeep             int32
	TopP              float32
	Temperature       float32
	RepeatPenalty     float32
	FrequencyPenalty  float32
	PresencePenalty   float32
	Mirostat          int32
	MirostatTau       float32
	MirostatEta       float32
	SkipSpecialToken  bool
	IsAsync           bool
	ImgStart          string
	ImgEnd            string
	ImgContent        string
	Extend            ExtendParam
}

// PromptCacheParam mirrors RKLLMPromptCacheParam — must match rkllm.h
// field order exactly (save flag first, path second).
type PromptCacheParam struct {
	SavePromptCache int32
	PromptCachePath string
}

// InferParam mirrors RKLLMInferParam.
type InferParam struct {
	Mode              InferMode
	KeepHistory       int32
	PromptCacheParams *PromptCacheParam
}

// PerfStat mirrors RKLLMPerfStat, copied out of the FINISH callback.
type PerfStat struct {
	PrefillTimeMs   float32
	PrefillTokens   int32
	GenerateTimeMs  float32
	GenerateTokens  int32
	MemoryUsageMB   float32
}

// Result mirrors the subset of RKLLMResult the engine consumes: the
// decoded token text, the perf snapshot delivered at FINISH, and — only
// when the call was made in InferModeGetLastHidden — the last hidden
// layer's per-token embedding vector (flattened, embd_size floats per
// token).
type Result struct {
	Text          string
	State         CallState
	Perf          PerfStat
	HiddenStates  []float32
	EmbeddingSize int
	NumTokens     int
}

// Callback is invoked once per native callback delivery. Returning true
// signals the native runtime to halt generation (the "halt sentinel");
// returning false lets generation continue.
type Callback func(r Result) (halt bool)

// Handle is an opaque reference to a loaded native model instance.
type Handle uintptr
