// Package ollama implements the Ollama-compatible frontend endpoints:
// chat, generate, their DELETE cancellation counterparts, the tag
// listing, and the version probe.
package ollama

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/llmgate/LLMGateAPI/internal/api/handlers"
	"github.com/llmgate/LLMGateAPI/internal/constant"
	"github.com/llmgate/LLMGateAPI/internal/transform"
)

// Handler serves the Ollama-compatible frontend.
type Handler struct {
	*handlers.BaseHandler
}

// NewHandler creates the Ollama frontend handler.
func NewHandler(base *handlers.BaseHandler) *Handler {
	return &Handler{BaseHandler: base}
}

// Chat handles POST /api/chat. Ollama clients stream by default, so a
// missing stream field means streaming.
func (h *Handler) Chat(c *gin.Context) {
	body, ok := h.ReadBody(c)
	if !ok {
		return
	}
	if err := handlers.RequireModel(body); err != nil {
		h.WriteError(c, constant.OllamaChat, err)
		return
	}
	msgs, err := handlers.ParseOllamaChatMessages(body)
	if err != nil {
		h.WriteError(c, constant.OllamaChat, err)
		return
	}

	req := h.MintRequest(constant.OllamaChat, body)
	req.Messages = msgs
	req.Stream = streamDefaultTrue(body)

	if handlers.IsToolProbe(msgs) {
		log.Debugf("request %s: tool probe answered locally", req.ID)
		resp := transform.BuildFullResponseJSON(constant.OllamaChat, req.Model, "", "")
		c.Data(http.StatusOK, "application/json", []byte(resp))
		return
	}

	if req.Stream {
		h.StreamResponse(c, req)
		return
	}
	h.CompleteResponse(c, req)
}

// Generate handles POST /api/generate.
func (h *Handler) Generate(c *gin.Context) {
	body, ok := h.ReadBody(c)
	if !ok {
		return
	}
	if err := handlers.RequireModel(body); err != nil {
		h.WriteError(c, constant.OllamaGenerate, err)
		return
	}
	msgs, err := handlers.ParseOllamaGenerateMessages(body)
	if err != nil {
		h.WriteError(c, constant.OllamaGenerate, err)
		return
	}

	req := h.MintRequest(constant.OllamaGenerate, body)
	req.Messages = msgs
	req.Stream = streamDefaultTrue(body)

	if req.Stream {
		h.StreamResponse(c, req)
		return
	}
	h.CompleteResponse(c, req)
}

// Cancel handles DELETE /api/chat and DELETE /api/generate.
func (h *Handler) Cancel(c *gin.Context) {
	h.CancelByBody(c)
}

// Tags handles GET /api/tags: one entry per exposed model, with a
// deterministic digest and a placeholder details block.
func (h *Handler) Tags(c *gin.Context) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	models := make([]gin.H, 0)
	for _, name := range h.ModelNames() {
		digest := sha256.Sum256([]byte(name))
		models = append(models, gin.H{
			"name":        name,
			"model":       name,
			"modified_at": now,
			"size":        0,
			"digest":      hex.EncodeToString(digest[:]),
			"details": gin.H{
				"parent_model":       "",
				"format":             "gguf",
				"family":             "llama",
				"families":           []string{"llama"},
				"parameter_size":     "",
				"quantization_level": "",
			},
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// Version handles GET /api/version.
func (h *Handler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": constant.OllamaVersion})
}

// streamDefaultTrue reads the stream flag with Ollama's default of true.
func streamDefaultTrue(body []byte) bool {
	res := gjson.GetBytes(body, "stream")
	if !res.Exists() {
		return true
	}
	return res.Bool()
}
