package normalize

import (
	"time"

	"github.com/hartyporpoise/porpulse/internal/config"
)

// OllamaGenerateRequest mirrors Ollama's /api/generate body.
type OllamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  *bool                  `json:"stream,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// OllamaChatRequest mirrors Ollama's /api/chat body. Messages reuse
// OpenAIMessage's shape — Ollama's wire format for a chat turn is
// structurally identical ({role, content}).
type OllamaChatRequest struct {
	Model   string                 `json:"model"`
	Messages []OpenAIMessage       `json:"messages"`
	Stream  *bool                  `json:"stream,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

func optFloat(opts map[string]interface{}, key string, def float64) float64 {
	if opts == nil {
		return def
	}
	if v, ok := opts[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func optInt(opts map[string]interface{}, key string, def int) int {
	if opts == nil {
		return def
	}
	if v, ok := opts[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return def
}

func optStop(opts map[string]interface{}) []string {
	if opts == nil {
		return nil
	}
	v, ok := opts["stop"]
	if !ok {
		return nil
	}
	return stopList(v)
}

// ToInternalGenerate converts an Ollama generate request. The prompt is
// passed through verbatim (Ollama's "raw"-style usage); system, if set, is
// prepended using the same templating BuildPrompt applies to chat turns.
func ToInternalGenerate(req OllamaGenerateRequest, tmpl config.ChatTemplateConfig, defaults config.InferenceParams, modelDefaults config.ModelDefaults) Request {
	prompt := req.Prompt
	if req.System != "" {
		msgs := []Message{{Role: "system", Content: req.System}, {Role: "user", Content: req.Prompt}}
		prompt = BuildPrompt(msgs, tmpl, false)
	}

	return Request{
		Prompt:        prompt,
		Mode:          ModeGenerate,
		MaxTokens:     optInt(req.Options, "num_predict", modelDefaults.MaxNewTokens),
		Temperature:   optFloat(req.Options, "temperature", defaults.Temperature),
		TopP:          optFloat(req.Options, "top_p", defaults.TopP),
		TopK:          optInt(req.Options, "top_k", defaults.TopK),
		RepeatPenalty: optFloat(req.Options, "repeat_penalty", defaults.RepeatPenalty),
		Stop:          optStop(req.Options),
		Stream:        req.Stream == nil || *req.Stream,
		SourceAPI:     "ollama_generate",
	}
}

// ToInternalOllamaChat converts an Ollama chat request using the same
// message-concatenation templating as the OpenAI chat path.
func ToInternalOllamaChat(req OllamaChatRequest, tmpl config.ChatTemplateConfig, defaults config.InferenceParams, modelDefaults config.ModelDefaults) Request {
	var messages []Message
	var imageURI string
	for _, m := range req.Messages {
		text, uri := splitContent(m.Content)
		messages = append(messages, Message{Role: m.Role, Content: text})
		if uri != "" {
			imageURI = uri
		}
	}
	img, _ := decodeImageDataURI(imageURI)
	prompt := BuildPrompt(messages, tmpl, img != nil)

	return Request{
		Prompt:        prompt,
		Mode:          ModeGenerate,
		MaxTokens:     optInt(req.Options, "num_predict", modelDefaults.MaxNewTokens),
		Temperature:   optFloat(req.Options, "temperature", defaults.Temperature),
		TopP:          optFloat(req.Options, "top_p", defaults.TopP),
		TopK:          optInt(req.Options, "top_k", defaults.TopK),
		RepeatPenalty: optFloat(req.Options, "repeat_penalty", defaults.RepeatPenalty),
		Stop:          optStop(req.Options),
		Stream:        req.Stream == nil || *req.Stream,
		SourceAPI:     "ollama_chat",
		ImageData:     img,
	}
}

// OllamaGenerateResponse mirrors Ollama's /api/generate response. Durations
// are nanoseconds, per the upstream convention.
type OllamaGenerateResponse struct {
	Model              string `json:"model"`
	CreatedAt          string `json:"created_at"`
	Response           string `json:"response"`
	Done               bool   `json:"done"`
	TotalDuration      int64  `json:"total_duration"`
	PromptEvalCount    int    `json:"prompt_eval_count"`
	PromptEvalDuration int64  `json:"prompt_eval_duration"`
	EvalCount          int    `json:"eval_count"`
	EvalDuration       int64  `json:"eval_duration"`
}

func msToNs(ms float64) int64 { return int64(ms * 1e6) }

// FromInternalGenerate builds the non-streaming Ollama generate response.
func FromInternalGenerate(resp Response, model string, at time.Time) OllamaGenerateResponse {
	return OllamaGenerateResponse{
		Model:              model,
		CreatedAt:          at.UTC().Format(time.RFC3339Nano),
		Response:           resp.Text,
		Done:               true,
		TotalDuration:      msToNs(resp.PrefillTimeMs + resp.GenerateTimeMs),
		PromptEvalCount:    resp.PrefillTokens,
		PromptEvalDuration: msToNs(resp.PrefillTimeMs),
		EvalCount:          resp.GenerateTokens,
		EvalDuration:       msToNs(resp.GenerateTimeMs),
	}
}

// GenerateStreamChunk is one token's worth of an Ollama /api/generate SSE
// stream (Ollama technically uses newline-delimited JSON rather than SSE
// "data:" framing, but porpulse reuses the SSE writer for both surfaces for
// a single code path — see sse.go).
type GenerateStreamChunk struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

func GenerateTokenChunk(model string, at time.Time, token string) GenerateStreamChunk {
	return GenerateStreamChunk{Model: model, CreatedAt: at.UTC().Format(time.RFC3339Nano), Response: token, Done: false}
}

// OllamaChatMessage mirrors the {role, content} pair in a chat response.
type OllamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type OllamaChatResponse struct {
	Model              string             `json:"model"`
	CreatedAt          string             `json:"created_at"`
	Message            OllamaChatMessage  `json:"message"`
	Done               bool               `json:"done"`
	TotalDuration      int64              `json:"total_duration"`
	PromptEvalCount    int                `json:"prompt_eval_count"`
	PromptEvalDuration int64              `json:"prompt_eval_duration"`
	EvalCount          int                `json:"eval_count"`
	EvalDuration       int64              `json:"eval_duration"`
}

func FromInternalOllamaChat(resp Response, model string, at time.Time) OllamaChatResponse {
	return OllamaChatResponse{
		Model:              model,
		CreatedAt:          at.UTC().Format(time.RFC3339Nano),
		Message:            OllamaChatMessage{Role: "assistant", Content: resp.Text},
		Done:               true,
		TotalDuration:      msToNs(resp.PrefillTimeMs + resp.GenerateTimeMs),
		PromptEvalCount:    resp.PrefillTokens,
		PromptEvalDuration: msToNs(resp.PrefillTimeMs),
		EvalCount:          resp.GenerateTokens,
		EvalDuration:       msToNs(resp.GenerateTimeMs),
	}
}

type ChatStreamChunk struct {
	Model     string             `json:"model"`
	CreatedAt string             `json:"created_at"`
	Message   OllamaChatMessage  `json:"message"`
	Done      bool               `json:"done"`
}

func ChatStreamTokenChunk(model string, at time.Time, token string) ChatStreamChunk {
	return ChatStreamChunk{Model: model, CreatedAt: at.UTC().Format(time.RFC3339Nano), Message: OllamaChatMessage{Role: "assistant", Content: token}, Done: false}
}

// OllamaModelDetails mirrors the "details" object in /api/tags entries.
type OllamaModelDetails struct {
	Format        string `json:"format"`
	Family        string `json:"family"`
	ParameterSize string `json:"parameter_size"`
}

type OllamaModelTag struct {
	Name       string             `json:"name"`
	ModifiedAt string             `json:"modified_at"`
	Size       int64              `json:"size"`
	Digest     string             `json:"digest"`
	Details    OllamaModelDetails `json:"details"`
}

type OllamaTagsResponse struct {
	Models []OllamaModelTag `json:"models"`
}
