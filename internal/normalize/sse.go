package normalize

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// WriteSSEChunk marshals v and writes it as one "data: {json}\n\n" frame,
// flushing immediately so the client sees the token as soon as it's ready.
func WriteSSEChunk(w http.ResponseWriter, flusher http.Flusher, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("normalize: marshal SSE chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// WriteSSEDone writes the terminal "data: [DONE]\n\n" marker OpenAI-shaped
// streams end with. Ollama-shaped streams signal completion via their own
// chunk's "done" field instead and never call this.
func WriteSSEDone(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}
