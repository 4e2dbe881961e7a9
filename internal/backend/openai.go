package backend

import (
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/llmgate/LLMGateAPI/internal/constant"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
)

// openAIChatHandler speaks the OpenAI chat-completions dialect, which
// most self-hosted inference servers expose as well.
type openAIChatHandler struct {
	params
}

func (h *openAIChatHandler) Dialect() string { return constant.BackendOpenAIChat }

func (h *openAIChatHandler) EndpointURL(bool) string {
	return h.baseURL() + "/v1/chat/completions"
}

func (h *openAIChatHandler) PreparePayload(conversation []interfaces.Message, systemPrompt, userPrompt string, stream bool) ([]byte, error) {
	payload := "{}"
	if !h.ep.DontIncludeModel {
		payload, _ = sjson.Set(payload, "model", h.ep.ModelName)
	}
	payload = setMessages(payload, "messages", chatMessages(conversation, systemPrompt, userPrompt))
	payload = h.applyParams(payload, "", stream)
	return []byte(payload), nil
}

func (h *openAIChatHandler) StreamFormat() StreamFormat { return StreamSSE }
func (h *openAIChatHandler) EventName() string          { return "" }

func (h *openAIChatHandler) ParseChunk(data []byte) (interfaces.StreamChunk, bool) {
	if !gjson.ValidBytes(data) {
		log.Warnf("skipping malformed stream frame from endpoint %s", h.ep.Name)
		return interfaces.StreamChunk{}, false
	}
	root := gjson.ParseBytes(data)
	return interfaces.StreamChunk{
		Token:        root.Get("choices.0.delta.content").String(),
		FinishReason: root.Get("choices.0.finish_reason").String(),
	}, true
}

func (h *openAIChatHandler) ParseFullResponse(body []byte) string {
	return gjson.GetBytes(body, "choices.0.message.content").String()
}

// openAICompletionHandler speaks the legacy OpenAI text-completions
// dialect.
type openAICompletionHandler struct {
	params
}

func (h *openAICompletionHandler) Dialect() string { return constant.BackendOpenAICompletion }

func (h *openAICompletionHandler) EndpointURL(bool) string {
	return h.baseURL() + "/v1/completions"
}

func (h *openAICompletionHandler) PreparePayload(conversation []interfaces.Message, systemPrompt, userPrompt string, stream bool) ([]byte, error) {
	payload := "{}"
	if !h.ep.DontIncludeModel {
		payload, _ = sjson.Set(payload, "model", h.ep.ModelName)
	}
	payload, _ = sjson.Set(payload, "prompt", completionPrompt(conversation, systemPrompt, userPrompt))
	payload = h.applyParams(payload, "", stream)
	return []byte(payload), nil
}

func (h *openAICompletionHandler) StreamFormat() StreamFormat { return StreamSSE }
func (h *openAICompletionHandler) EventName() string          { return "" }

func (h *openAICompletionHandler) ParseChunk(data []byte) (interfaces.StreamChunk, bool) {
	if !gjson.ValidBytes(data) {
		log.Warnf("skipping malformed stream frame from endpoint %s", h.ep.Name)
		return interfaces.StreamChunk{}, false
	}
	root := gjson.ParseBytes(data)
	return interfaces.StreamChunk{
		Token:        root.Get("choices.0.text").String(),
		FinishReason: root.Get("choices.0.finish_reason").String(),
	}, true
}

func (h *openAICompletionHandler) ParseFullResponse(body []byte) string {
	return gjson.GetBytes(body, "choices.0.text").String()
}
