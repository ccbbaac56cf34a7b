package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hartyporpoise/porpulse/internal/config"
)

func TestBuildPromptGenericFallback(t *testing.T) {
	tmpl := config.ChatTemplateConfig{} // no user_prefix configured -> fallback
	msgs := []Message{
		{Role: "system", Content: "S"},
		{Role: "user", Content: "hello"},
	}
	got := BuildPrompt(msgs, tmpl, false)
	assert.Equal(t, "System: S\nUser: hello\nAssistant:", got)
}

func TestBuildPromptChatML(t *testing.T) {
	tmpl := config.ChatTemplateConfig{UserPrefix: "<|im_start|>user\n"}
	msgs := []Message{{Role: "user", Content: "hi"}}
	got := BuildPrompt(msgs, tmpl, false)
	assert.Equal(t, "<|im_start|>user\nhi<|im_end|>\n<|im_start|>assistant\n", got)
}

func TestBuildPromptChatMLInjectsImageMarker(t *testing.T) {
	tmpl := config.ChatTemplateConfig{UserPrefix: "<|im_start|>user\n"}
	msgs := []Message{{Role: "user", Content: "what is this"}}
	got := BuildPrompt(msgs, tmpl, true)
	assert.Contains(t, got, "<image>what is this")
}

func TestSplitContentPlainString(t *testing.T) {
	raw, _ := json.Marshal("hello world")
	text, uri := splitContent(raw)
	assert.Equal(t, "hello world", text)
	assert.Empty(t, uri)
}

func TestSplitContentMultimodalParts(t *testing.T) {
	raw := json.RawMessage(`[{"type":"text","text":"what is in the image?"},{"type":"image_url","image_url":{"url":"data:image/png;base64,QUJD"}}]`)
	text, uri := splitContent(raw)
	assert.Equal(t, "what is in the image?", text)
	assert.Equal(t, "data:image/png;base64,QUJD", uri)
}

func TestDecodeImageDataURIRoundTrips(t *testing.T) {
	data, err := decodeImageDataURI("data:image/png;base64,QUJD")
	require.NoError(t, err)
	assert.Equal(t, []byte("ABC"), data)
}

func TestToInternalChatAppliesDefaultsAndStop(t *testing.T) {
	req := OpenAIChatRequest{
		Model: "m",
		Messages: []OpenAIMessage{
			{Role: "user", Content: mustRaw(t, "hello")},
		},
		Stop: "STOP",
	}
	internal, err := ToInternalChat(req, config.ChatTemplateConfig{}, config.InferenceParams{Temperature: 0.8, TopP: 0.9, TopK: 20}, config.ModelDefaults{MaxNewTokens: -1})
	require.NoError(t, err)
	assert.Equal(t, "User: hello\nAssistant:", internal.Prompt)
	assert.Equal(t, []string{"STOP"}, internal.Stop)
	assert.Equal(t, 0.8, internal.Temperature)
	assert.Equal(t, "openai_chat", internal.SourceAPI)
}

func TestFromInternalChatMapsUsage(t *testing.T) {
	resp := Response{Text: "hi", FinishReason: "stop", PrefillTokens: 3, GenerateTokens: 1}
	out := FromInternalChat(resp, "id1", "m", 1000)
	assert.Equal(t, "chat.completion", out.Object)
	assert.Equal(t, "hi", out.Choices[0].Message.Content)
	assert.Equal(t, 4, out.Usage.TotalTokens)
}

func TestToInternalGenerateReadsOptions(t *testing.T) {
	req := OllamaGenerateRequest{
		Model:  "m",
		Prompt: "why is the sky blue",
		Options: map[string]interface{}{
			"temperature": 0.5,
			"num_predict": float64(128),
		},
	}
	internal := ToInternalGenerate(req, config.ChatTemplateConfig{}, config.InferenceParams{Temperature: 0.8}, config.ModelDefaults{MaxNewTokens: -1})
	assert.Equal(t, "why is the sky blue", internal.Prompt)
	assert.Equal(t, 0.5, internal.Temperature)
	assert.Equal(t, 128, internal.MaxTokens)
	assert.True(t, internal.Stream)
}

func TestFromInternalGenerateConvertsMsToNs(t *testing.T) {
	resp := Response{Text: "blue", PrefillTimeMs: 10, GenerateTimeMs: 20, PrefillTokens: 5, GenerateTokens: 2}
	out := FromInternalGenerate(resp, "m", fixedTime())
	assert.Equal(t, int64(10*1e6), out.PromptEvalDuration)
	assert.Equal(t, int64(20*1e6), out.EvalDuration)
	assert.True(t, out.Done)
}

func TestFromInternalOllamaChatRoundTrip(t *testing.T) {
	resp := Response{Text: "hi there", PrefillTimeMs: 1, GenerateTimeMs: 2}
	out := FromInternalOllamaChat(resp, "m", fixedTime())
	assert.Equal(t, "assistant", out.Message.Role)
	assert.Equal(t, "hi there", out.Message.Content)
	assert.True(t, out.Done)
}

func mustRaw(t *testing.T, s string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	return raw
}

func fixedTime() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}
