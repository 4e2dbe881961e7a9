package backend

import (
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/llmgate/LLMGateAPI/internal/constant"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
)

// koboldCppHandler speaks KoboldCpp's generate dialect. Streaming and
// non-streaming calls use different paths, and the stream is SSE with a
// named "message" event. KoboldCpp sends no finish signal; the stream
// ends when the server closes the connection.
type koboldCppHandler struct {
	params
}

func (h *koboldCppHandler) Dialect() string { return constant.BackendKoboldCpp }

func (h *koboldCppHandler) EndpointURL(stream bool) string {
	if stream {
		return h.baseURL() + "/api/extra/generate/stream"
	}
	return h.baseURL() + "/api/v1/generate"
}

func (h *koboldCppHandler) PreparePayload(conversation []interfaces.Message, systemPrompt, userPrompt string, stream bool) ([]byte, error) {
	payload, _ := sjson.Set("{}", "prompt", completionPrompt(conversation, systemPrompt, userPrompt))
	payload = h.applyParams(payload, "", stream)
	return []byte(payload), nil
}

func (h *koboldCppHandler) StreamFormat() StreamFormat { return StreamSSENamed }
func (h *koboldCppHandler) EventName() string          { return "message" }

func (h *koboldCppHandler) ParseChunk(data []byte) (interfaces.StreamChunk, bool) {
	if !gjson.ValidBytes(data) {
		log.Warnf("skipping malformed stream frame from endpoint %s", h.ep.Name)
		return interfaces.StreamChunk{}, false
	}
	return interfaces.StreamChunk{
		Token: gjson.GetBytes(data, "token").String(),
	}, true
}

func (h *koboldCppHandler) ParseFullResponse(body []byte) string {
	return gjson.GetBytes(body, "results.0.text").String()
}
