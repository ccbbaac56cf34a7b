//go:build rkllm

package rkllm

/*
#cgo LDFLAGS: -lrkllmrt

#include <stdint.h>
#include <stdlib.h>
#include <string.h>

typedef void* rkllm_handle_t;

typedef struct {
	int32_t  base_domain_id;
	int8_t   embed_flash;
	int8_t   enabled_cpus_num;
	uint32_t enabled_cpus_mask;
	uint8_t  n_batch;
	int8_t   use_cross_attn;
	uint8_t  reserved[104];
} rkllm_extend_param_t;

typedef struct {
	const char* model_path;
	int32_t max_context_len;
	int32_t max_new_tokens;
	int32_t top_k;
	int32_t n_keep;
	float   top_p;
	float   temperature;
	float   repeat_penalty;
	float   frequency_penalty;
	float   presence_penalty;
	int32_t mirostat;
	float   mirostat_tau;
	float   mirostat_eta;
	_Bool   skip_special_token;
	_Bool   is_async;
	const char* img_start;
	const char* img_end;
	const char* img_content;
	rkllm_extend_param_t extend_param;
} rkllm_param_t;

typedef union {
	const char* prompt_input;
} rkllm_input_union_t;

typedef struct {
	const char* role;
	_Bool enable_thinking;
	int input_type;
	rkllm_input_union_t input_data;
} rkllm_input_t;

typedef struct {
	int save_prompt_cache;
	const char* prompt_cache_path;
} rkllm_prompt_cache_param_t;

typedef struct {
	int mode;
	void* lora_params;
	void* prompt_cache_params;
	int keep_history;
} rkllm_infer_param_t;

typedef struct {
	float prefill_time_ms;
	int   prefill_tokens;
	float generate_time_ms;
	int   generate_tokens;
	float memory_usage_mb;
} rkllm_perf_stat_t;

typedef struct {
	float* hidden_states;
	int embd_size;
	int num_tokens;
} rkllm_result_last_hidden_layer_t;

typedef struct {
	float* logits;
	int vocab_size;
	int num_tokens;
} rkllm_result_logits_t;

typedef struct {
	const char* text;
	int token_id;
	rkllm_result_last_hidden_layer_t last_hidden_layer;
	rkllm_result_logits_t logits;
	rkllm_perf_stat_t perf;
} rkllm_result_t;

typedef int (*rkllm_callback_t)(rkllm_result_t*, void*, int);

extern int goRKLLMCallbackBridge(rkllm_result_t*, void*, int);

// Declared by librkllmrt.so, linked via LDFLAGS above.
extern int rkllm_init(rkllm_handle_t* handle, rkllm_param_t* param, rkllm_callback_t callback);
extern int rkllm_run(rkllm_handle_t handle, rkllm_input_t* input, rkllm_infer_param_t* param, void* userdata);
extern int rkllm_run_async(rkllm_handle_t handle, rkllm_input_t* input, rkllm_infer_param_t* param, void* userdata);
extern int rkllm_is_running(rkllm_handle_t handle);
extern int rkllm_clear_kv_cache(rkllm_handle_t handle, int keep_n, int* not_used_a, int* not_used_b);
extern int rkllm_destroy(rkllm_handle_t handle);

// rkllm_set_chat_template is absent from some runtime versions; declared
// weak so the link succeeds either way and the Go side checks for a NULL
// address before calling it.
extern int rkllm_set_chat_template(rkllm_handle_t handle, const char* system_prompt, const char* prefix, const char* postfix) __attribute__((weak));

static int rkllm_init_bridge(rkllm_handle_t* h, rkllm_param_t* p) {
	return rkllm_init(h, p, (rkllm_callback_t)goRKLLMCallbackBridge);
}

static int rkllm_set_chat_template_available() {
	return rkllm_set_chat_template != 0;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/rs/zerolog/log"
)

// callbackRegistry strong-owns every live Callback, keyed by a per-call
// correlation id passed through the native "userdata" parameter, so the Go
// callback value cannot be garbage-collected for as long as the native
// runtime might invoke it — mirroring the Python binding's
// _callback_storage dict, generalized to the per-Run granularity the real
// rkllm_run(..., userdata) signature supports (up to n_batch concurrent
// generations sharing one handle and one registered callback function
// pointer, discriminated by userdata).
//
// Init additionally registers its own callback under a fresh correlation id
// (ids start at 1), purely to hold a strong reference for the handle's
// entire lifetime per
// the FFI contract — it is not expected to be invoked, since every real
// Run/RunAsync call supplies its own per-call callback and correlation id.
var (
	callbackRegistryMu sync.Mutex
	callbackRegistry   = map[uint64]Callback{}
	nextCorrelationID  uint64
)

func registerCallback(cb Callback) uint64 {
	callbackRegistryMu.Lock()
	defer callbackRegistryMu.Unlock()
	nextCorrelationID++
	id := nextCorrelationID
	callbackRegistry[id] = cb
	return id
}

func unregisterCallback(id uint64) {
	callbackRegistryMu.Lock()
	delete(callbackRegistry, id)
	callbackRegistryMu.Unlock()
}

//export goRKLLMCallbackBridge
func goRKLLMCallbackBridge(result *C.rkllm_result_t, userdata unsafe.Pointer, state C.int) C.int {
	id := uint64(uintptr(userdata))

	callbackRegistryMu.Lock()
	cb, ok := callbackRegistry[id]
	callbackRegistryMu.Unlock()
	if !ok || cb == nil {
		return 0
	}

	var r Result
	r.State = CallState(state)
	if result != nil {
		if result.text != nil {
			r.Text = C.GoString(result.text)
		}
		r.Perf = PerfStat{
			PrefillTimeMs:  float32(result.perf.prefill_time_ms),
			PrefillTokens:  int32(result.perf.prefill_tokens),
			GenerateTimeMs: float32(result.perf.generate_time_ms),
			GenerateTokens: int32(result.perf.generate_tokens),
			MemoryUsageMB:  float32(result.perf.memory_usage_mb),
		}
		if result.last_hidden_layer.hidden_states != nil && result.last_hidden_layer.embd_size > 0 {
			embdSize := int(result.last_hidden_layer.embd_size)
			numTokens := int(result.last_hidden_layer.num_tokens)
			total := embdSize * numTokens
			raw := unsafe.Slice((*float32)(unsafe.Pointer(result.last_hidden_layer.hidden_states)), total)
			r.HiddenStates = append([]float32(nil), raw...)
			r.EmbeddingSize = embdSize
			r.NumTokens = numTokens
		}
	}

	halt := cb(r)
	if r.State == CallStateFinish || r.State == CallStateError {
		unregisterCallback(id)
	}
	if halt {
		return 1
	}
	return 0
}

// Binding is the safe wrapper around the native RKLLM shared library,
// linked directly via cgo (LDFLAGS: -lrkllmrt).
type Binding struct{}

// NewBinding constructs the cgo-backed binding.
func NewBinding() *Binding { return &Binding{} }

// Init loads params and registers cb as the strong-owned callback for the
// returned handle. cb stays registered for the process's lifetime: Destroy
// releases the native handle but does not unregister cb.
func (b *Binding) Init(p Param, cb Callback) (Handle, error) {
	cParam := C.rkllm_param_t{}

	modelPath := C.CString(p.ModelPath)
	defer C.free(unsafe.Pointer(modelPath))
	cParam.model_path = modelPath

	imgStart := C.CString(p.ImgStart)
	defer C.free(unsafe.Pointer(imgStart))
	imgEnd := C.CString(p.ImgEnd)
	defer C.free(unsafe.Pointer(imgEnd))
	imgContent := C.CString(p.ImgContent)
	defer C.free(unsafe.Pointer(imgContent))
	cParam.img_start = imgStart
	cParam.img_end = imgEnd
	cParam.img_content = imgContent

	cParam.max_context_len = C.int32_t(p.MaxContextLen)
	cParam.max_new_tokens = C.int32_t(p.MaxNewTokens)
	cParam.top_k = C.int32_t(p.TopK)
	cParam.n_keep = C.int32_t(p.NKeep)
	cParam.top_p = C.float(p.TopP)
	cParam.temperature = C.float(p.Temperature)
	cParam.repeat_penalty = C.float(p.RepeatPenalty)
	cParam.frequency_penalty = C.float(p.FrequencyPenalty)
	cParam.presence_penalty = C.float(p.PresencePenalty)
	cParam.mirostat = C.int32_t(p.Mirostat)
	cParam.mirostat_tau = C.float(p.MirostatTau)
	cParam.mirostat_eta = C.float(p.MirostatEta)
	cParam.skip_special_token = C._Bool(p.SkipSpecialToken)
	cParam.is_async = C._Bool(p.IsAsync)

	cParam.extend_param.base_domain_id = C.int32_t(p.Extend.BaseDomainID)
	cParam.extend_param.embed_flash = C.int8_t(p.Extend.EmbedFlash)
	cParam.extend_param.enabled_cpus_num = C.int8_t(p.Extend.EnabledCPUsNum)
	cParam.extend_param.enabled_cpus_mask = C.uint32_t(p.Extend.EnabledCPUsMask)
	cParam.extend_param.n_batch = C.uint8_t(p.Extend.NBatch)
	cParam.extend_param.use_cross_attn = C.int8_t(p.Extend.UseCrossAttn)

	var cHandle C.rkllm_handle_t
	ret := C.rkllm_init_bridge(&cHandle, &cParam)
	if ret != 0 {
		return 0, fmt.Errorf("rkllm_init failed with code %d", int(ret))
	}

	h := Handle(uintptr(cHandle))

	// Registered under its own correlation id purely to hold a strong
	// reference for the handle's lifetime; see the registry doc comment.
	registerCallback(cb)

	return h, nil
}

// Run invokes the blocking native prompt-to-callback pipeline and returns
// once generation is complete. cb is invoked once per decoded token plus
// the terminal FINISH/ERROR delivery, discriminated from any other
// concurrent call on the same handle via a per-call correlation id passed
// as the native "userdata" argument.
func (b *Binding) Run(h Handle, prompt string, enableThinking bool, infer InferParam, cb Callback) error {
	return b.run(h, prompt, enableThinking, infer, cb, false)
}

// RunAsync invokes the non-blocking native pipeline; the caller must poll
// IsRunning until it returns false.
func (b *Binding) RunAsync(h Handle, prompt string, enableThinking bool, infer InferParam, cb Callback) error {
	return b.run(h, prompt, enableThinking, infer, cb, true)
}

func (b *Binding) run(h Handle, prompt string, enableThinking bool, infer InferParam, cb Callback, async bool) error {
	cPrompt := C.CString(prompt)
	defer C.free(unsafe.Pointer(cPrompt))

	role := C.CString("user")
	defer C.free(unsafe.Pointer(role))

	var input C.rkllm_input_t
	input.role = role
	input.enable_thinking = C._Bool(enableThinking)
	input.input_type = C.int(InputTypePrompt)
	*(**C.char)(unsafe.Pointer(&input.input_data)) = cPrompt

	var cInfer C.rkllm_infer_param_t
	cInfer.mode = C.int(infer.Mode)
	cInfer.keep_history = C.int32_t(infer.KeepHistory)

	var cCache C.rkllm_prompt_cache_param_t
	if infer.PromptCacheParams != nil {
		cCache.save_prompt_cache = C.int(infer.PromptCacheParams.SavePromptCache)
		cachePathBuf := C.CString(infer.PromptCacheParams.PromptCachePath)
		defer C.free(unsafe.Pointer(cachePathBuf))
		cCache.prompt_cache_path = cachePathBuf
		cInfer.prompt_cache_params = unsafe.Pointer(&cCache)
	}

	id := registerCallback(cb)
	userdata := unsafe.Pointer(uintptr(id))
	cHandle := C.rkllm_handle_t(unsafe.Pointer(uintptr(h)))

	var ret C.int
	if async {
		ret = C.rkllm_run_async(cHandle, &input, &cInfer, userdata)
	} else {
		ret = C.rkllm_run(cHandle, &input, &cInfer, userdata)
	}
	if ret != 0 {
		unregisterCallback(id)
		return fmt.Errorf("rkllm_run(_async) failed with code %d", int(ret))
	}
	return nil
}

// IsRunning reports whether an async-started generation is still in
// flight. Only meaningful after RunAsync.
func (b *Binding) IsRunning(h Handle) bool {
	cHandle := C.rkllm_handle_t(unsafe.Pointer(uintptr(h)))
	return C.rkllm_is_running(cHandle) == 1
}

// WaitAsync polls IsRunning with a 10ms initial delay then a 1ms spin loop
// until the generation completes.
func (b *Binding) WaitAsync(h Handle) {
	time.Sleep(10 * time.Millisecond)
	for b.IsRunning(h) {
		time.Sleep(time.Millisecond)
	}
}

// ClearKVCache resets the KV cache for h.
func (b *Binding) ClearKVCache(h Handle) error {
	cHandle := C.rkllm_handle_t(unsafe.Pointer(uintptr(h)))
	ret := C.rkllm_clear_kv_cache(cHandle, 0, nil, nil)
	if ret != 0 {
		return fmt.Errorf("rkllm_clear_kv_cache failed with code %d", int(ret))
	}
	return nil
}

// SetChatTemplate sets the native chat template. A no-op (returns nil) if
// the loaded runtime version doesn't export the symbol.
func (b *Binding) SetChatTemplate(h Handle, system, prefix, postfix string) error {
	if C.rkllm_set_chat_template_available() == 0 {
		log.Warn().Msg("rkllm_set_chat_template not found in library (older runtime?)")
		return nil
	}

	cSystem := C.CString(system)
	defer C.free(unsafe.Pointer(cSystem))
	cPrefix := C.CString(prefix)
	defer C.free(unsafe.Pointer(cPrefix))
	cPostfix := C.CString(postfix)
	defer C.free(unsafe.Pointer(cPostfix))

	cHandle := C.rkllm_handle_t(unsafe.Pointer(uintptr(h)))
	ret := C.rkllm_set_chat_template(cHandle, cSystem, cPrefix, cPostfix)
	if ret != 0 {
		return fmt.Errorf("rkllm_set_chat_template failed with code %d", int(ret))
	}
	return nil
}

// Destroy tears down the native handle. Must only be called at process
// shutdown — the upstream library documents destroy as a shutdown-time
// operation that may hang if invoked mid-run.
func (b *Binding) Destroy(h Handle) error {
	cHandle := C.rkllm_handle_t(unsafe.Pointer(uintptr(h)))
	ret := C.rkllm_destroy(cHandle)
	if ret != 0 {
		return fmt.Errorf("rkllm_destroy failed with code %d", int(ret))
	}
	return nil
}
