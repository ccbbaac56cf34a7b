package rkllm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBinder is an in-memory Binder used to drive Engine's callback state
// machine deterministically without a native library.
type fakeBinder struct {
	clearCalls    int
	lastPrompt    string
	tokensToEmit  []string
	perf          PerfStat
	emitError     bool
}

func (f *fakeBinder) Init(Param, Callback) (Handle, error) { return 1, nil }

func (f *fakeBinder) Run(h Handle, prompt string, thinking bool, infer InferParam, cb Callback) error {
	f.lastPrompt = prompt
	for _, tok := range f.tokensToEmit {
		if cb(Result{State: CallStateNormal, Text: tok}) {
			break
		}
	}
	if f.emitError {
		cb(Result{State: CallStateError})
	} else {
		cb(Result{State: CallStateFinish, Perf: f.perf})
	}
	return nil
}

func (f *fakeBinder) RunAsync(h Handle, prompt string, thinking bool, infer InferParam, cb Callback) error {
	return f.Run(h, prompt, thinking, infer, cb)
}

func (f *fakeBinder) IsRunning(Handle) bool       { return false }
func (f *fakeBinder) WaitAsync(Handle)            {}
func (f *fakeBinder) ClearKVCache(Handle) error   { f.clearCalls++; return nil }
func (f *fakeBinder) SetChatTemplate(Handle, string, string, string) error { return nil }
func (f *fakeBinder) Destroy(Handle) error        { return nil }

func TestGenerateFirstCallClearsAndSubmitsFullPrompt(t *testing.T) {
	fb := &fakeBinder{tokensToEmit: []string{"Hello", " world"}, perf: PerfStat{GenerateTokens: 2}}
	e := NewEngine(fb, 1, false)

	res, err := e.Generate(context.Background(), GenerateRequest{Prompt: "System: S\nUser: hello\nAssistant:"})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", res.Text)
	assert.Equal(t, "stop", res.FinishReason)
	assert.True(t, res.ClearedKVCache)
	assert.False(t, res.SmartPrefixHit)
	assert.Equal(t, 1, fb.clearCalls)
	assert.Equal(t, "System: S\nUser: hello\nAssistant:", fb.lastPrompt)
}

func TestGenerateSecondCallReusesSmartPrefix(t *testing.T) {
	fb := &fakeBinder{tokensToEmit: []string{"Hi!"}}
	e := NewEngine(fb, 1, false)

	first, err := e.Generate(context.Background(), GenerateRequest{Prompt: "System: S\nUser: hello\nAssistant:"})
	require.NoError(t, err)
	assert.Equal(t, "Hi!", first.Text)

	fb.tokensToEmit = []string{"Sure."}
	second := "System: S\nUser: hello\nAssistant:Hi!\nUser: follow up\nAssistant:"
	res, err := e.Generate(context.Background(), GenerateRequest{Prompt: second})
	require.NoError(t, err)

	assert.True(t, res.SmartPrefixHit)
	assert.False(t, res.ClearedKVCache)
	assert.Equal(t, 1, fb.clearCalls) // only the first call cleared
	assert.Equal(t, "\nUser: follow up\nAssistant:", fb.lastPrompt)
}

func TestGenerateMaxTokensCapYieldsLengthFinishReason(t *testing.T) {
	fb := &fakeBinder{tokensToEmit: []string{"a", "b", "c", "d"}}
	e := NewEngine(fb, 1, false)

	res, err := e.Generate(context.Background(), GenerateRequest{Prompt: "p", MaxNewTokens: 2})
	require.NoError(t, err)
	assert.Equal(t, "length", res.FinishReason)
	assert.Equal(t, "ab", res.Text)
}

func TestGenerateStopSequenceHalts(t *testing.T) {
	fb := &fakeBinder{tokensToEmit: []string{"hello", "<|im_end|>", "should not appear"}}
	e := NewEngine(fb, 1, false)

	res, err := e.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "stop", res.FinishReason)
	assert.Equal(t, "hello<|im_end|>", res.Text)
}

func TestGenerateDefaultStopSequencesApplyWhenNoneConfigured(t *testing.T) {
	fb := &fakeBinder{tokensToEmit: []string{"done", "<|endoftext|>", "extra"}}
	e := NewEngine(fb, 1, false)

	res, err := e.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "done<|endoftext|>", res.Text)
}

func TestGenerateErrorStatePropagates(t *testing.T) {
	fb := &fakeBinder{tokensToEmit: []string{"partial"}, emitError: true}
	e := NewEngine(fb, 1, false)

	_, err := e.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestGeneratePerfTokensMatchAccumulatorLength(t *testing.T) {
	fb := &fakeBinder{tokensToEmit: []string{"x", "y", "z"}, perf: PerfStat{GenerateTokens: 3}}
	e := NewEngine(fb, 1, false)

	res, err := e.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Perf.GenerateTokens)
	assert.Len(t, res.Text, 3)
}
