package rkllm

import (
	"context"
	"fmt"
	"math"
)

// ErrEmbeddingsDisabled reports that embeddings mode is switched off. Embed
// itself never returns it: Embed does not check the switch, and the HTTP
// handler gates the mode on config model_defaults.embeddings_enabled. The
// upstream runtime version this engine targets is documented as unstable
// for this mode.
var ErrEmbeddingsDisabled = fmt.Errorf("rkllm: embeddings mode is disabled")

// Embed extracts the last hidden layer for text, L2-normalizes the final
// token's hidden state, and returns it as the embedding vector. Always
// synchronous — embeddings never goes through run_async regardless of the
// engine's isAsync setting, mirroring the upstream implementation's
// single-shot hidden-layer extraction call.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	var (
		vector []float32
		errOut error
		done   = make(chan struct{})
	)

	cb := func(r Result) bool {
		switch r.State {
		case CallStateFinish:
			if len(r.HiddenStates) == 0 || r.NumTokens == 0 {
				errOut = fmt.Errorf("rkllm: embeddings callback returned no hidden states")
			} else {
				lastTokenStart := (r.NumTokens - 1) * r.EmbeddingSize
				vector = normalizeL2(r.HiddenStates[lastTokenStart : lastTokenStart+r.EmbeddingSize])
			}
			close(done)
			return false
		case CallStateError:
			errOut = ErrGeneration
			close(done)
			return false
		default:
			return false
		}
	}

	infer := InferParam{Mode: InferModeGetLastHidden, KeepHistory: 0}
	if err := e.binding.Run(e.handle, text, false, infer, cb); err != nil {
		return nil, fmt.Errorf("rkllm embeddings run: %w", err)
	}
	<-done

	return vector, errOut
}

func normalizeL2(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
