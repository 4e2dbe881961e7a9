package backend

import (
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/llmgate/LLMGateAPI/internal/constant"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
)

// imageHandler decorates a base handler with image attachment. Image
// pseudo-messages lifted from the frontend request are re-attached in
// the wrapped dialect's own vision format; conversations without images
// pass through untouched.
type imageHandler struct {
	Handler
}

// WithImages wraps a handler so image pseudo-messages in the
// conversation reach the backend.
func WithImages(h Handler) Handler {
	return &imageHandler{Handler: h}
}

func (h *imageHandler) PreparePayload(conversation []interfaces.Message, systemPrompt, userPrompt string, stream bool) ([]byte, error) {
	payload, err := h.Handler.PreparePayload(conversation, systemPrompt, userPrompt, stream)
	if err != nil {
		return nil, err
	}
	images := imageContents(conversation)
	if len(images) == 0 {
		return payload, nil
	}

	s := string(payload)
	switch h.Dialect() {
	case constant.BackendOpenAIChat:
		s = attachOpenAIImages(s, images)
	case constant.BackendOllamaChat:
		s = attachOllamaChatImages(s, images)
	case constant.BackendOllamaGenerate, constant.BackendKoboldCpp:
		s, _ = sjson.Set(s, "images", images)
	default:
		log.Warnf("dialect %s does not support images; dropping %d attachment(s)", h.Dialect(), len(images))
	}
	return []byte(s), nil
}

// attachOpenAIImages rewrites the last user message's content into the
// multimodal content-array form with one image_url part per image.
func attachOpenAIImages(payload string, images []string) string {
	idx := lastUserIndex(payload)
	if idx < 0 {
		return payload
	}
	key := "messages." + strconv.Itoa(idx) + ".content"
	text := gjson.Get(payload, key).String()

	payload, _ = sjson.SetRaw(payload, key, "[]")
	payload, _ = sjson.Set(payload, key+".-1", map[string]string{"type": "text", "text": text})
	for _, img := range images {
		payload, _ = sjson.Set(payload, key+".-1", map[string]any{
			"type":      "image_url",
			"image_url": map[string]string{"url": img},
		})
	}
	return payload
}

// attachOllamaChatImages adds the images list to the last user message.
func attachOllamaChatImages(payload string, images []string) string {
	idx := lastUserIndex(payload)
	if idx < 0 {
		return payload
	}
	payload, _ = sjson.Set(payload, "messages."+strconv.Itoa(idx)+".images", images)
	return payload
}

// lastUserIndex finds the index of the last user-role entry of the
// payload's messages array, or -1.
func lastUserIndex(payload string) int {
	idx := -1
	gjson.Get(payload, "messages").ForEach(func(i, m gjson.Result) bool {
		if m.Get("role").String() == "user" {
			idx = int(i.Int())
		}
		return true
	})
	return idx
}
