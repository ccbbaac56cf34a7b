package rkllm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embedBinder is a minimal Binder stub that only exercises Embed's
// InferModeGetLastHidden path.
type embedBinder struct {
	hidden        []float32
	embeddingSize int
	numTokens     int
	emitError     bool
}

func (b *embedBinder) Init(Param, Callback) (Handle, error) { return 1, nil }

func (b *embedBinder) Run(h Handle, prompt string, thinking bool, infer InferParam, cb Callback) error {
	if infer.Mode != InferModeGetLastHidden {
		cb(Result{State: CallStateFinish})
		return nil
	}
	if b.emitError {
		cb(Result{State: CallStateError})
		return nil
	}
	cb(Result{
		State:         CallStateFinish,
		HiddenStates:  b.hidden,
		EmbeddingSize: b.embeddingSize,
		NumTokens:     b.numTokens,
	})
	return nil
}

func (b *embedBinder) RunAsync(h Handle, prompt string, thinking bool, infer InferParam, cb Callback) error {
	return b.Run(h, prompt, thinking, infer, cb)
}

func (b *embedBinder) IsRunning(Handle) bool                             { return false }
func (b *embedBinder) WaitAsync(Handle)                                  {}
func (b *embedBinder) ClearKVCache(Handle) error                         { return nil }
func (b *embedBinder) SetChatTemplate(Handle, string, string, string) error { return nil }
func (b *embedBinder) Destroy(Handle) error                              { return nil }

func TestEmbedExtractsLastTokenAndNormalizes(t *testing.T) {
	// two tokens, embedding size 2: token0=[1,0], token1=[3,4] (norm 5)
	fb := &embedBinder{hidden: []float32{1, 0, 3, 4}, embeddingSize: 2, numTokens: 2}
	e := NewEngine(fb, 1, false)

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, vec, 2)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
}

func TestEmbedPropagatesCallbackError(t *testing.T) {
	fb := &embedBinder{emitError: true}
	e := NewEngine(fb, 1, false)

	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestEmbedNoHiddenStatesReturnsError(t *testing.T) {
	fb := &embedBinder{hidden: nil, embeddingSize: 0, numTokens: 0}
	e := NewEngine(fb, 1, false)

	vec, err := e.Embed(context.Background(), "hello")
	assert.Error(t, err)
	assert.Nil(t, vec)
}

func TestNormalizeL2HandlesZeroVector(t *testing.T) {
	out := normalizeL2([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, out)
}
