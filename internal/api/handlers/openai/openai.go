// Package openai implements the OpenAI-compatible frontend endpoints:
// chat completions, legacy completions, and the model listing.
package openai

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/llmgate/LLMGateAPI/internal/api/handlers"
	"github.com/llmgate/LLMGateAPI/internal/constant"
)

// Handler serves the OpenAI-compatible frontend.
type Handler struct {
	*handlers.BaseHandler
}

// NewHandler creates the OpenAI frontend handler.
func NewHandler(base *handlers.BaseHandler) *Handler {
	return &Handler{BaseHandler: base}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(c *gin.Context) {
	body, ok := h.ReadBody(c)
	if !ok {
		return
	}
	if err := handlers.RequireModel(body); err != nil {
		h.WriteError(c, constant.OpenAIChat, err)
		return
	}
	msgs, err := handlers.ParseOpenAIChatMessages(body)
	if err != nil {
		h.WriteError(c, constant.OpenAIChat, err)
		return
	}

	req := h.MintRequest(constant.OpenAIChat, body)
	req.Messages = msgs

	if handlers.IsToolProbe(msgs) {
		log.Debugf("request %s: tool probe answered locally", req.ID)
		h.writeToolProbeResponse(c, req.Model)
		return
	}

	if req.Stream {
		h.StreamResponse(c, req)
		return
	}
	h.CompleteResponse(c, req)
}

// Completions handles POST /v1/completions.
func (h *Handler) Completions(c *gin.Context) {
	body, ok := h.ReadBody(c)
	if !ok {
		return
	}
	if err := handlers.RequireModel(body); err != nil {
		h.WriteError(c, constant.OpenAICompletion, err)
		return
	}
	msgs, err := handlers.ParseOpenAICompletionMessages(body)
	if err != nil {
		h.WriteError(c, constant.OpenAICompletion, err)
		return
	}

	req := h.MintRequest(constant.OpenAICompletion, body)
	req.Messages = msgs

	if req.Stream {
		h.StreamResponse(c, req)
		return
	}
	h.CompleteResponse(c, req)
}

// Models handles GET /v1/models.
func (h *Handler) Models(c *gin.Context) {
	created := time.Now().Unix()
	data := make([]gin.H, 0)
	for _, name := range h.ModelNames() {
		data = append(data, gin.H{
			"id":       name,
			"object":   "model",
			"created":  created,
			"owned_by": h.User,
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// writeToolProbeResponse answers a tool-selection probe without a model
// round-trip: an assistant message with null content, no tool calls, and
// finish reason "tool_calls".
func (h *Handler) writeToolProbeResponse(c *gin.Context, model string) {
	ts := time.Now().Unix()
	c.JSON(http.StatusOK, gin.H{
		"id":                 fmt.Sprintf("chatcmpl-opnwui-tool-%d", ts),
		"object":             "chat.completion",
		"created":            ts,
		"model":              model,
		"system_fingerprint": constant.ToolProbeFingerprint,
		"choices": []gin.H{{
			"index": 0,
			"message": gin.H{
				"role":       "assistant",
				"content":    nil,
				"tool_calls": []any{},
			},
			"logprobs":      nil,
			"finish_reason": "tool_calls",
		}},
		"usage": gin.H{},
	})
}
