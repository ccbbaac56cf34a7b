package normalize

import (
	"strings"

	"github.com/hartyporpoise/porpulse/internal/config"
)

// Message is a flattened chat turn: multimodal content has already been
// split into its text portion (returned here) and any image bytes
// (decoded separately into Request.ImageData).
type Message struct {
	Role    string
	Content string
}

// BuildPrompt concatenates messages into a single prompt string, in ChatML
// form or in a generic "Role: content" form. The template's prefix strings
// themselves are not inserted. With hasImage in ChatML mode, the <image>
// marker is placed at the start of the first user turn.
//
// ChatML detection mirrors the upstream convention: a user_prefix
// containing "<|im_start|>" switches the whole formatter into ChatML mode
// rather than being a literal prefix string.
func BuildPrompt(messages []Message, tmpl config.ChatTemplateConfig, hasImage bool) string {
	isChatML := strings.Contains(tmpl.UserPrefix, "<|im_start|>")

	var b strings.Builder
	for _, m := range messages {
		content := m.Content
		if hasImage && m.Role == "user" && isChatML {
			content = "<image>" + content
			hasImage = false // only the first user turn gets the marker
		}
		if isChatML {
			switch m.Role {
			case "system":
				b.WriteString("<|im_start|>system\n" + content + "<|im_end|>\n")
			case "user":
				b.WriteString("<|im_start|>user\n" + content + "<|im_end|>\n")
			case "assistant":
				b.WriteString("<|im_start|>assistant\n" + content + "<|im_end|>\n")
			}
		} else {
			switch m.Role {
			case "system":
				b.WriteString("System: " + content + "\n")
			case "user":
				b.WriteString("User: " + content + "\n")
			case "assistant":
				b.WriteString("Assistant: " + content + "\n")
			}
		}
	}

	if isChatML {
		b.WriteString("<|im_start|>assistant\n")
	} else {
		b.WriteString("Assistant:")
	}
	return b.String()
}
