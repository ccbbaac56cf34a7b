package rkllm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultStopSequences are used when a request supplies none.
var DefaultStopSequences = []string{"<|im_end|>", "<|endoftext|>"}

// maxStopTailChars bounds the rolling tail buffer the stop policy scans,
// sized generously above any realistic stop-sequence length.
const maxStopTailChars = 256

// ErrGeneration wraps a terminal CallStateError delivery from the native
// callback.
var ErrGeneration = fmt.Errorf("rkllm: generation callback reported an error")

// GenerateRequest is one call into the engine's generation protocol.
type GenerateRequest struct {
	Prompt          string
	MaxNewTokens    int // <= 0 means unbounded
	StopSequences   []string
	EnableThinking  bool
	OnToken         func(token string) // optional streaming callback
	CachePath       string              // binary prompt-cache path, empty disables
	SaveCache       bool                // true=save, false=load; mutually exclusive per call
}

// GenerateResult is the accumulated text and performance snapshot from one
// generate call.
type GenerateResult struct {
	Text         string
	FinishReason string // "stop" | "length"
	Perf         PerfStat

	// SmartPrefixHit/ClearedKVCache/SubmittedChars surface the smart-prefix
	// heuristic's decision for the testable properties in spec §8.
	SmartPrefixHit bool
	ClearedKVCache bool
	SubmittedChars int
}

// Engine owns one loaded model handle, the callback state machine, and the
// smart-prefix KV-cache heuristic. At most one Engine exists process-wide
// (enforced by the lifecycle manager, not by this type).
type Engine struct {
	binding Binder
	handle  Handle
	isAsync bool

	contextMu  sync.Mutex
	npuContext string // last prompt + response; the smart-prefix reuse key
}

// NewEngine wraps an already-initialized handle. isAsync selects run vs
// run_async for every subsequent Generate call.
func NewEngine(binding Binder, handle Handle, isAsync bool) *Engine {
	return &Engine{binding: binding, handle: handle, isAsync: isAsync}
}

// Handle returns the wrapped native handle, for callers (the lifecycle
// manager) that need to Destroy it at shutdown.
func (e *Engine) Handle() Handle { return e.handle }

// Generate runs the full generation protocol: smart-prefix heuristic,
// callback state machine, stop policy, and binary-cache interplay. It
// blocks until the generation reaches a terminal state.
func (e *Engine) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	stopSeqs := req.StopSequences
	if len(stopSeqs) == 0 {
		stopSeqs = DefaultStopSequences
	}

	toSubmit, smartHit, cleared := e.applySmartPrefix(req.Prompt)

	var (
		mu           sync.Mutex
		tokens       []string
		tailBuf      strings.Builder
		perf         PerfStat
		finishState  CallState
		haltedLength bool
		done         = make(chan struct{})
	)

	cb := func(r Result) (halt bool) {
		switch r.State {
		case CallStateFinish:
			mu.Lock()
			perf = r.Perf
			finishState = CallStateFinish
			mu.Unlock()
			close(done)
			return false
		case CallStateError:
			mu.Lock()
			finishState = CallStateError
			mu.Unlock()
			close(done)
			return false
		case CallStateNormal:
			if r.Text == "" {
				return false
			}
			mu.Lock()
			tokens = append(tokens, r.Text)
			tailBuf.WriteString(r.Text)
			if tailBuf.Len() > maxStopTailChars {
				tail := tailBuf.String()
				tailBuf.Reset()
				tailBuf.WriteString(tail[len(tail)-maxStopTailChars:])
			}
			n := len(tokens)
			tail := tailBuf.String()
			mu.Unlock()

			if req.OnToken != nil {
				req.OnToken(r.Text)
			}

			if req.MaxNewTokens > 0 && n >= req.MaxNewTokens {
				haltedLength = true
				return true
			}
			for _, seq := range stopSeqs {
				if seq != "" && strings.Contains(tail, seq) {
					return true
				}
			}
			return false
		default:
			return false
		}
	}

	infer := InferParam{Mode: InferModeGenerate, KeepHistory: 0}
	if req.CachePath != "" {
		save := int32(0)
		if req.SaveCache {
			save = 1
		}
		infer.PromptCacheParams = &PromptCacheParam{SavePromptCache: save, PromptCachePath: req.CachePath}
	}

	var runErr error
	if e.isAsync {
		runErr = e.binding.RunAsync(e.handle, toSubmit, req.EnableThinking, infer, cb)
		if runErr == nil {
			e.binding.WaitAsync(e.handle)
		}
	} else {
		runErr = e.binding.Run(e.handle, toSubmit, req.EnableThinking, infer, cb)
	}
	if runErr != nil {
		return nil, fmt.Errorf("rkllm run: %w", runErr)
	}

	<-done

	mu.Lock()
	text := strings.Join(tokens, "")
	state := finishState
	p := perf
	mu.Unlock()

	if state == CallStateError {
		return nil, ErrGeneration
	}

	finishReason := "stop"
	if haltedLength {
		finishReason = "length"
	}

	e.updateNPUContext(req.Prompt, text)

	return &GenerateResult{
		Text:           text,
		FinishReason:   finishReason,
		Perf:           p,
		SmartPrefixHit: smartHit,
		ClearedKVCache: cleared,
		SubmittedChars: len([]byte(toSubmit)),
	}, nil
}

// applySmartPrefix implements the smart-prefix KV-cache reuse heuristic:
// if the new prompt extends the cached NPU context, submit only the delta
// and skip clearing the KV cache; otherwise clear and submit in full.
// Comparison is on UTF-8 bytes per the design notes, to avoid surprises
// from multi-byte boundary splitting.
func (e *Engine) applySmartPrefix(prompt string) (toSubmit string, hit bool, cleared bool) {
	e.contextMu.Lock()
	cached := e.npuContext
	e.contextMu.Unlock()

	if cached != "" && strings.HasPrefix(prompt, cached) {
		delta := prompt[len(cached):]
		if delta != "" {
			return delta, true, false
		}
		log.Warn().Msg("smart-prefix: exact match with cached context, clearing to be safe")
	}

	if err := e.binding.ClearKVCache(e.handle); err != nil {
		log.Warn().Err(err).Msg("failed to clear KV cache")
	} else {
		e.contextMu.Lock()
		e.npuContext = ""
		e.contextMu.Unlock()
	}
	return prompt, false, true
}

func (e *Engine) updateNPUContext(prompt, response string) {
	e.contextMu.Lock()
	e.npuContext = prompt + response
	e.contextMu.Unlock()
}

// SetChatTemplate forwards to the binding. May be a no-op if the loaded
// runtime doesn't support it.
func (e *Engine) SetChatTemplate(system, prefix, postfix string) error {
	return e.binding.SetChatTemplate(e.handle, system, prefix, postfix)
}
