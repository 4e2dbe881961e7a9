package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/llmgate/LLMGateAPI/internal/interfaces"
)

func badRequest(msg string) error {
	return &interfaces.ErrorMessage{StatusCode: http.StatusBadRequest, Err: errors.New(msg)}
}

// RequireModel validates the mandatory model field.
func RequireModel(body []byte) error {
	if gjson.GetBytes(body, "model").String() == "" {
		return badRequest("model is required")
	}
	return nil
}

// ParseOpenAIChatMessages normalizes an OpenAI chat request's messages.
// Multimodal content arrays are split into their text (joined) and their
// images; images, whether from content parts or a per-message images
// array, become pseudo-role entries inserted before the owning message.
func ParseOpenAIChatMessages(body []byte) ([]interfaces.Message, error) {
	raw := gjson.GetBytes(body, "messages")
	if !raw.Exists() || !raw.IsArray() {
		return nil, badRequest("messages is required")
	}

	var msgs []interfaces.Message
	raw.ForEach(func(_, m gjson.Result) bool {
		role := m.Get("role").String()
		var text strings.Builder
		var images []string

		content := m.Get("content")
		if content.IsArray() {
			content.ForEach(func(_, part gjson.Result) bool {
				switch part.Get("type").String() {
				case "text":
					text.WriteString(part.Get("text").String())
				case "image_url":
					images = append(images, part.Get("image_url.url").String())
				}
				return true
			})
		} else {
			text.WriteString(content.String())
		}
		m.Get("images").ForEach(func(_, img gjson.Result) bool {
			images = append(images, img.String())
			return true
		})

		for _, img := range images {
			msgs = append(msgs, interfaces.Message{Role: interfaces.RoleImages, Content: img})
		}
		msgs = append(msgs, interfaces.Message{Role: role, Content: text.String()})
		return true
	})
	return msgs, nil
}

// ParseOpenAICompletionMessages turns a legacy completion prompt into a
// single user message.
func ParseOpenAICompletionMessages(body []byte) ([]interfaces.Message, error) {
	prompt := gjson.GetBytes(body, "prompt").String()
	if prompt == "" {
		return nil, badRequest("prompt is required")
	}
	return []interfaces.Message{{Role: "user", Content: prompt}}, nil
}

// ParseOllamaChatMessages normalizes an Ollama chat request's messages,
// lifting per-message images arrays into pseudo-role entries inserted
// before the owning message.
func ParseOllamaChatMessages(body []byte) ([]interfaces.Message, error) {
	raw := gjson.GetBytes(body, "messages")
	if !raw.Exists() || !raw.IsArray() {
		return nil, badRequest("messages is required")
	}

	var msgs []interfaces.Message
	raw.ForEach(func(_, m gjson.Result) bool {
		m.Get("images").ForEach(func(_, img gjson.Result) bool {
			msgs = append(msgs, interfaces.Message{Role: interfaces.RoleImages, Content: img.String()})
			return true
		})
		msgs = append(msgs, interfaces.Message{
			Role:    m.Get("role").String(),
			Content: m.Get("content").String(),
		})
		return true
	})
	return msgs, nil
}

// ParseOllamaGenerateMessages normalizes an Ollama generate request: the
// optional system field is prepended to the prompt, and top-level images
// are appended as pseudo-role entries.
func ParseOllamaGenerateMessages(body []byte) ([]interfaces.Message, error) {
	prompt := gjson.GetBytes(body, "prompt").String()
	if prompt == "" {
		return nil, badRequest("prompt is required")
	}
	if system := gjson.GetBytes(body, "system").String(); system != "" {
		prompt = system + "\n" + prompt
	}

	msgs := []interfaces.Message{{Role: "user", Content: prompt}}
	gjson.GetBytes(body, "images").ForEach(func(_, img gjson.Result) bool {
		msgs = append(msgs, interfaces.Message{Role: interfaces.RoleImages, Content: img.String()})
		return true
	})
	return msgs, nil
}
