// Package normalize translates between the wire shapes of the two
// upstream-compatible surfaces (OpenAI and Ollama) and the single internal
// request/response pair the inference engine actually consumes.
package normalize

// Mode selects what the engine does with a request.
type Mode string

const (
	ModeGenerate   Mode = "generate"
	ModeEmbeddings Mode = "embeddings"
)

// Request is the engine-facing shape every wire request normalizes to.
// Prompt is already chat-templated by the time it reaches here — this
// package owns that templating, the engine never sees raw messages.
type Request struct {
	Prompt         string
	Mode           Mode
	MaxTokens      int // <=0 means unbounded
	Temperature    float64
	TopP           float64
	TopK           int
	RepeatPenalty  float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Stop           []string
	Stream         bool
	RequestID      string
	SourceAPI      string // "openai_chat" | "openai_completion" | "ollama_generate" | "ollama_chat"
	UseCache       string // binary cache name to load, empty disables
	ImageData      []byte
	EnableThinking *bool
	// OnToken, if set, is invoked once per generated token before the
	// final Response is produced — the HTTP layer uses it to relay SSE
	// chunks as they arrive rather than buffering the whole generation.
	OnToken func(token string)
}

// Response is the engine-facing result shape every wire response
// normalizes from.
type Response struct {
	Text           string
	Embedding      []float32
	FinishReason   string // "stop" | "length"
	PrefillTokens  int
	PrefillTimeMs  float64
	GenerateTokens int
	GenerateTimeMs float64
	MemoryUsageMB  float64
	RequestID      string
	CacheHit       bool
	CacheNames     []string
}
