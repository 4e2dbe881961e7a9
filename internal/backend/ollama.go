package backend

import (
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/llmgate/LLMGateAPI/internal/constant"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
)

// finishFromDone maps Ollama's done flag onto the neutral finish reason.
func finishFromDone(root gjson.Result) string {
	if root.Get("done").Bool() {
		return "stop"
	}
	return ""
}

// ollamaChatHandler speaks Ollama's /api/chat dialect. Generation
// parameters sit under the "options" key; streams are newline-delimited
// JSON objects terminated by done:true.
type ollamaChatHandler struct {
	params
}

func (h *ollamaChatHandler) Dialect() string { return constant.BackendOllamaChat }

func (h *ollamaChatHandler) EndpointURL(bool) string {
	return h.baseURL() + "/api/chat"
}

func (h *ollamaChatHandler) PreparePayload(conversation []interfaces.Message, systemPrompt, userPrompt string, stream bool) ([]byte, error) {
	payload, _ := sjson.Set("{}", "model", h.ep.ModelName)
	payload = setMessages(payload, "messages", chatMessages(conversation, systemPrompt, userPrompt))
	payload = h.applyParams(payload, "options.", stream)
	return []byte(payload), nil
}

func (h *ollamaChatHandler) StreamFormat() StreamFormat { return StreamLineDelimitedJSON }
func (h *ollamaChatHandler) EventName() string          { return "" }

func (h *ollamaChatHandler) ParseChunk(data []byte) (interfaces.StreamChunk, bool) {
	if !gjson.ValidBytes(data) {
		log.Warnf("skipping malformed stream frame from endpoint %s", h.ep.Name)
		return interfaces.StreamChunk{}, false
	}
	root := gjson.ParseBytes(data)
	return interfaces.StreamChunk{
		Token:        root.Get("message.content").String(),
		FinishReason: finishFromDone(root),
	}, true
}

func (h *ollamaChatHandler) ParseFullResponse(body []byte) string {
	return gjson.GetBytes(body, "message.content").String()
}

// ollamaGenerateHandler speaks Ollama's /api/generate dialect in raw
// mode, so the prompt is sent verbatim without template expansion.
type ollamaGenerateHandler struct {
	params
}

func (h *ollamaGenerateHandler) Dialect() string { return constant.BackendOllamaGenerate }

func (h *ollamaGenerateHandler) EndpointURL(bool) string {
	return h.baseURL() + "/api/generate"
}

func (h *ollamaGenerateHandler) PreparePayload(conversation []interfaces.Message, systemPrompt, userPrompt string, stream bool) ([]byte, error) {
	payload, _ := sjson.Set("{}", "model", h.ep.ModelName)
	payload, _ = sjson.Set(payload, "prompt", completionPrompt(conversation, systemPrompt, userPrompt))
	payload, _ = sjson.Set(payload, "raw", true)
	payload = h.applyParams(payload, "options.", stream)
	return []byte(payload), nil
}

func (h *ollamaGenerateHandler) StreamFormat() StreamFormat { return StreamLineDelimitedJSON }
func (h *ollamaGenerateHandler) EventName() string          { return "" }

func (h *ollamaGenerateHandler) ParseChunk(data []byte) (interfaces.StreamChunk, bool) {
	if !gjson.ValidBytes(data) {
		log.Warnf("skipping malformed stream frame from endpoint %s", h.ep.Name)
		return interfaces.StreamChunk{}, false
	}
	root := gjson.ParseBytes(data)
	return interfaces.StreamChunk{
		Token:        root.Get("response").String(),
		FinishReason: finishFromDone(root),
	}, true
}

func (h *ollamaGenerateHandler) ParseFullResponse(body []byte) string {
	return gjson.GetBytes(body, "response").String()
}
