package normalize

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hartyporpoise/porpulse/internal/config"
)

// OpenAIMessage mirrors ChatMessage from the upstream schema. Content is
// left as raw JSON because OpenAI allows either a plain string or a list
// of {type, text|image_url} parts for multimodal turns.
type OpenAIMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Name    string          `json:"name,omitempty"`
}

type openAIContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// splitContent extracts the text portion of a message and, if present, the
// raw data-URI string of one embedded image. Only base64 data URIs are
// decoded — fetching remote image URLs is out of scope.
func splitContent(raw json.RawMessage) (text string, imageDataURI string) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, ""
	}

	var parts []openAIContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", ""
	}
	var b strings.Builder
	for _, p := range parts {
		switch p.Type {
		case "text":
			b.WriteString(p.Text)
		case "image_url":
			if imageDataURI == "" && strings.HasPrefix(p.ImageURL.URL, "data:image") {
				imageDataURI = p.ImageURL.URL
			}
		}
	}
	return b.String(), imageDataURI
}

// decodeImageDataURI decodes the base64 payload of a "data:image/...;base64,AAAA"
// URI. Returns nil, nil if uri is empty.
func decodeImageDataURI(uri string) ([]byte, error) {
	if uri == "" {
		return nil, nil
	}
	_, encoded, ok := strings.Cut(uri, ",")
	if !ok {
		return nil, fmt.Errorf("normalize: malformed data URI")
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// OpenAIChatRequest mirrors ChatCompletionRequest.
type OpenAIChatRequest struct {
	Model            string          `json:"model"`
	Messages         []OpenAIMessage `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	TopK             *int            `json:"top_k,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	Stop             interface{}     `json:"stop,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	RepeatPenalty    *float64        `json:"repeat_penalty,omitempty"`
	EnableThinking   *bool           `json:"enable_thinking,omitempty"`
	UseCache         string          `json:"use_cache,omitempty"`
}

func stopList(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// ToInternalChat converts an OpenAI chat completion request into a Request,
// applying the configured chat template (or the generic fallback) and
// extracting any embedded image.
func ToInternalChat(req OpenAIChatRequest, tmpl config.ChatTemplateConfig, defaults config.InferenceParams, modelDefaults config.ModelDefaults) (Request, error) {
	var (
		messages  []Message
		imageURI  string
	)
	for _, m := range req.Messages {
		text, uri := splitContent(m.Content)
		messages = append(messages, Message{Role: m.Role, Content: text})
		if uri != "" {
			imageURI = uri
		}
	}

	img, err := decodeImageDataURI(imageURI)
	if err != nil {
		return Request{}, fmt.Errorf("normalize: decode image: %w", err)
	}

	prompt := BuildPrompt(messages, tmpl, img != nil)

	maxTokens := intOr(req.MaxTokens, modelDefaults.MaxNewTokens)

	return Request{
		Prompt:           prompt,
		Mode:             ModeGenerate,
		MaxTokens:        maxTokens,
		Temperature:      floatOr(req.Temperature, defaults.Temperature),
		TopP:             floatOr(req.TopP, defaults.TopP),
		TopK:             intOr(req.TopK, defaults.TopK),
		RepeatPenalty:    floatOr(req.RepeatPenalty, defaults.RepeatPenalty),
		FrequencyPenalty: floatOr(req.FrequencyPenalty, defaults.FrequencyPenalty),
		PresencePenalty:  floatOr(req.PresencePenalty, defaults.PresencePenalty),
		Stop:             stopList(req.Stop),
		Stream:           req.Stream,
		SourceAPI:        "openai_chat",
		UseCache:         req.UseCache,
		ImageData:        img,
		EnableThinking:   req.EnableThinking,
	}, nil
}

// OpenAICompletionRequest mirrors CompletionRequest (plain-prompt completion,
// no chat formatting).
type OpenAICompletionRequest struct {
	Model         string      `json:"model"`
	Prompt        string      `json:"prompt"`
	Temperature   *float64    `json:"temperature,omitempty"`
	TopP          *float64    `json:"top_p,omitempty"`
	TopK          *int        `json:"top_k,omitempty"`
	MaxTokens     *int        `json:"max_tokens,omitempty"`
	Stream        bool        `json:"stream,omitempty"`
	Stop          interface{} `json:"stop,omitempty"`
	RepeatPenalty *float64    `json:"repeat_penalty,omitempty"`
	UseCache      string      `json:"use_cache,omitempty"`
}

// ToInternalCompletion converts a plain-text completion request. The prompt
// is passed through verbatim — no chat templating applies.
func ToInternalCompletion(req OpenAICompletionRequest, defaults config.InferenceParams, modelDefaults config.ModelDefaults) Request {
	return Request{
		Prompt:        req.Prompt,
		Mode:          ModeGenerate,
		MaxTokens:     intOr(req.MaxTokens, modelDefaults.MaxNewTokens),
		Temperature:   floatOr(req.Temperature, defaults.Temperature),
		TopP:          floatOr(req.TopP, defaults.TopP),
		TopK:          intOr(req.TopK, defaults.TopK),
		RepeatPenalty: floatOr(req.RepeatPenalty, defaults.RepeatPenalty),
		Stop:          stopList(req.Stop),
		Stream:        req.Stream,
		SourceAPI:     "openai_completion",
		UseCache:      req.UseCache,
	}
}

// --- Response shapes ---

type OpenAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type OpenAIUsage struct {
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
	CacheHit         *bool    `json:"cache_hit,omitempty"`
	CachedPrompts    []string `json:"cached_prompts,omitempty"`

	// porpulse-specific perf extension, surfaced alongside token counts.
	PrefillTimeMs  float64 `json:"prefill_time_ms,omitempty"`
	GenerateTimeMs float64 `json:"generate_time_ms,omitempty"`
}

type OpenAIChatChoice struct {
	Index        int                `json:"index"`
	Message      OpenAIChatMessage  `json:"message"`
	FinishReason string             `json:"finish_reason"`
}

type OpenAIChatCompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []OpenAIChatChoice `json:"choices"`
	Usage   OpenAIUsage        `json:"usage"`
}

func usageFrom(resp Response) OpenAIUsage {
	u := OpenAIUsage{
		PromptTokens:     resp.PrefillTokens,
		CompletionTokens: resp.GenerateTokens,
		TotalTokens:      resp.PrefillTokens + resp.GenerateTokens,
		PrefillTimeMs:    resp.PrefillTimeMs,
		GenerateTimeMs:   resp.GenerateTimeMs,
	}
	if len(resp.CacheNames) > 0 || resp.CacheHit {
		hit := resp.CacheHit
		u.CacheHit = &hit
		u.CachedPrompts = resp.CacheNames
	}
	return u
}

// FromInternalChat builds the non-streaming OpenAI chat completion response.
func FromInternalChat(resp Response, id, model string, createdUnix int64) OpenAIChatCompletionResponse {
	return OpenAIChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: createdUnix,
		Model:   model,
		Choices: []OpenAIChatChoice{{
			Index:        0,
			Message:      OpenAIChatMessage{Role: "assistant", Content: resp.Text},
			FinishReason: resp.FinishReason,
		}},
		Usage: usageFrom(resp),
	}
}

type OpenAIChatChunkChoice struct {
	Index        int               `json:"index"`
	Delta        map[string]string `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type OpenAIChatCompletionChunk struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Created int64                   `json:"created"`
	Model   string                  `json:"model"`
	Choices []OpenAIChatChunkChoice `json:"choices"`
	Usage   *OpenAIUsage            `json:"usage,omitempty"`
}

// ChatTokenChunk is one streamed SSE chunk carrying a single token.
func ChatTokenChunk(id, model string, createdUnix int64, token string) OpenAIChatCompletionChunk {
	return OpenAIChatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: createdUnix, Model: model,
		Choices: []OpenAIChatChunkChoice{{Index: 0, Delta: map[string]string{"content": token}}},
	}
}

// ChatFinalChunk is the terminal SSE chunk carrying finish_reason and usage.
func ChatFinalChunk(id, model string, createdUnix int64, resp Response) OpenAIChatCompletionChunk {
	reason := resp.FinishReason
	usage := usageFrom(resp)
	return OpenAIChatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: createdUnix, Model: model,
		Choices: []OpenAIChatChunkChoice{{Index: 0, Delta: map[string]string{}, FinishReason: &reason}},
		Usage:   &usage,
	}
}

type OpenAICompletionChoice struct {
	Text         string  `json:"text"`
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
}

type OpenAICompletionResponse struct {
	ID      string                   `json:"id"`
	Object  string                   `json:"object"`
	Created int64                    `json:"created"`
	Model   string                   `json:"model"`
	Choices []OpenAICompletionChoice `json:"choices"`
	Usage   OpenAIUsage              `json:"usage"`
}

// FromInternalCompletion builds the non-streaming OpenAI text completion response.
func FromInternalCompletion(resp Response, id, model string, createdUnix int64) OpenAICompletionResponse {
	return OpenAICompletionResponse{
		ID: id, Object: "text_completion", Created: createdUnix, Model: model,
		Choices: []OpenAICompletionChoice{{Text: resp.Text, Index: 0, FinishReason: resp.FinishReason}},
		Usage:   usageFrom(resp),
	}
}

type OpenAICompletionChunkChoice struct {
	Text         string  `json:"text"`
	Index        int     `json:"index"`
	FinishReason *string `json:"finish_reason"`
}

type OpenAICompletionChunk struct {
	ID      string                        `json:"id"`
	Object  string                        `json:"object"`
	Created int64                         `json:"created"`
	Model   string                        `json:"model"`
	Choices []OpenAICompletionChunkChoice `json:"choices"`
	Usage   *OpenAIUsage                  `json:"usage,omitempty"`
}

func CompletionTokenChunk(id, model string, createdUnix int64, token string) OpenAICompletionChunk {
	return OpenAICompletionChunk{
		ID: id, Object: "text_completion", Created: createdUnix, Model: model,
		Choices: []OpenAICompletionChunkChoice{{Text: token, Index: 0}},
	}
}

func CompletionFinalChunk(id, model string, createdUnix int64, resp Response) OpenAICompletionChunk {
	reason := resp.FinishReason
	usage := usageFrom(resp)
	return OpenAICompletionChunk{
		ID: id, Object: "text_completion", Created: createdUnix, Model: model,
		Choices: []OpenAICompletionChunkChoice{{Text: "", Index: 0, FinishReason: &reason}},
		Usage:   &usage,
	}
}

type OpenAIModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type OpenAIModelListResponse struct {
	Object string            `json:"object"`
	Data   []OpenAIModelInfo `json:"data"`
}

type OpenAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func NewOpenAIError(message, kind string) OpenAIErrorResponse {
	var e OpenAIErrorResponse
	e.Error.Message = message
	e.Error.Type = kind
	return e
}

// OpenAIEmbeddingRequest mirrors EmbeddingRequest.
type OpenAIEmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type OpenAIEmbeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type OpenAIEmbeddingResponse struct {
	Object string                 `json:"object"`
	Data   []OpenAIEmbeddingData  `json:"data"`
	Model  string                 `json:"model"`
	Usage  OpenAIUsage            `json:"usage"`
}

func FromInternalEmbedding(resp Response, model string) OpenAIEmbeddingResponse {
	return OpenAIEmbeddingResponse{
		Object: "list",
		Data: []OpenAIEmbeddingData{{
			Object:    "embedding",
			Index:     0,
			Embedding: resp.Embedding,
		}},
		Model: model,
		Usage: OpenAIUsage{PromptTokens: resp.PrefillTokens, TotalTokens: resp.PrefillTokens},
	}
}
