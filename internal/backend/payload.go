package backend

import (
	"sort"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/llmgate/LLMGateAPI/internal/interfaces"
)

// applyParams merges the preset parameters and the endpoint limits into
// the payload at the dialect's property names. prefix scopes the
// parameter keys ("options." for Ollama dialects, "" elsewhere); the
// stream flag always sits at the top level.
func (p params) applyParams(payload, prefix string, stream bool) string {
	keys := make([]string, 0, len(p.preset))
	for k := range p.preset {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		payload, _ = sjson.Set(payload, prefix+k, p.preset[k])
	}

	if p.ep.MaxNewTokens > 0 && p.api.MaxNewTokensPropertyName != "" {
		payload, _ = sjson.Set(payload, prefix+p.api.MaxNewTokensPropertyName, p.ep.MaxNewTokens)
	}
	if p.ep.MaxContextTokens > 0 && p.api.TruncateLengthPropertyName != "" {
		payload, _ = sjson.Set(payload, prefix+p.api.TruncateLengthPropertyName, p.ep.MaxContextTokens)
	}
	if p.api.StreamPropertyName != "" {
		payload, _ = sjson.Set(payload, p.api.StreamPropertyName, stream)
	}
	return payload
}

// baseURL normalizes the endpoint base for path concatenation.
func (p params) baseURL() string {
	return strings.TrimSuffix(p.ep.Endpoint, "/")
}

// chatMessages builds the message array for chat-style dialects. An
// empty conversation falls back to the node's system and user prompts.
func chatMessages(conversation []interfaces.Message, systemPrompt, userPrompt string) []interfaces.Message {
	msgs := textMessages(conversation)
	if len(msgs) > 0 {
		return msgs
	}
	if systemPrompt != "" {
		msgs = append(msgs, interfaces.Message{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, interfaces.Message{Role: "user", Content: userPrompt})
	return msgs
}

// completionPrompt builds the single prompt string for completion-style
// dialects: the node's prompts concatenated, or the conversation
// contents joined when no prompts are given.
func completionPrompt(conversation []interfaces.Message, systemPrompt, userPrompt string) string {
	if systemPrompt != "" || userPrompt != "" {
		return systemPrompt + userPrompt
	}
	parts := make([]string, 0, len(conversation))
	for _, m := range textMessages(conversation) {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// setMessages writes the message array into the payload at the given
// key.
func setMessages(payload, key string, msgs []interfaces.Message) string {
	payload, _ = sjson.SetRaw(payload, key, "[]")
	for _, m := range msgs {
		payload, _ = sjson.Set(payload, key+".-1", map[string]string{
			"role":    m.Role,
			"content": m.Content,
		})
	}
	return payload
}
