// Package handlers provides the shared machinery of the frontend API
// handlers: request intake and normalization, workflow-override
// extraction from the model field, the tool-probe short-circuit check,
// and the heartbeat-aware streaming writer that bridges workflow output
// to the client socket.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/llmgate/LLMGateAPI/internal/cancellation"
	"github.com/llmgate/LLMGateAPI/internal/config"
	"github.com/llmgate/LLMGateAPI/internal/constant"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
	"github.com/llmgate/LLMGateAPI/internal/transform"
)

// DefaultHeartbeatInterval is how often an idle streaming response emits
// a keep-alive frame.
const DefaultHeartbeatInterval = time.Second

// BaseHandler carries the collaborators shared by every frontend
// handler.
type BaseHandler struct {
	// Runner executes workflows; the dispatcher never talks to backends
	// directly.
	Runner interfaces.WorkflowRunner

	// Registry tracks per-request cancellation state.
	Registry *cancellation.Registry

	// User is the active user name, used in model listings.
	User string

	// ListShared exposes one model entry per shared workflow instead of
	// a single entry for the user.
	ListShared bool

	// HeartbeatInterval is the idle keep-alive period. Tests shrink it.
	HeartbeatInterval time.Duration
}

// NewBaseHandler wires the shared handler state.
func NewBaseHandler(runner interfaces.WorkflowRunner, registry *cancellation.Registry, cfg *config.Config, userCfg *config.UserConfig) *BaseHandler {
	h := &BaseHandler{
		Runner:            runner,
		Registry:          registry,
		User:              cfg.User,
		HeartbeatInterval: DefaultHeartbeatInterval,
	}
	if userCfg != nil {
		h.ListShared = userCfg.ListSharedWorkflows
	}
	return h
}

// ReadBody drains the request body. Content-Type is deliberately not
// checked; some clients post JSON without one.
func (h *BaseHandler) ReadBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || !gjson.ValidBytes(body) {
		h.WriteError(c, guessKind(c), &interfaces.ErrorMessage{
			StatusCode: http.StatusBadRequest,
			Err:        errors.New("invalid JSON body"),
		})
		return nil, false
	}
	return body, true
}

// MintRequest builds the request-scoped state from a parsed body: a
// fresh request ID, the frontend kind, and the workflow override
// extracted from the model field.
func (h *BaseHandler) MintRequest(apiKind string, body []byte) *interfaces.Request {
	model := gjson.GetBytes(body, "model").String()
	req := &interfaces.Request{
		ID:               uuid.NewString(),
		APIKind:          apiKind,
		Model:            model,
		WorkflowOverride: h.resolveOverride(model),
		Stream:           gjson.GetBytes(body, "stream").Bool(),
	}
	log.Debugf("request %s: %s model=%q override=%q stream=%t", req.ID, apiKind, model, req.WorkflowOverride, req.Stream)
	return req
}

// resolveOverride parses "user:workflow:latest" model names: a trailing
// ":latest" is stripped, then the part after the first ":" names a
// shared workflow. Unknown names mean no override.
func (h *BaseHandler) resolveOverride(model string) string {
	m := strings.TrimSuffix(model, ":latest")
	if idx := strings.Index(m, ":"); idx >= 0 {
		if wf := m[idx+1:]; h.Runner.HasWorkflow(wf) {
			return wf
		}
		return ""
	}
	if h.Runner.HasWorkflow(m) {
		return m
	}
	return ""
}

// IsToolProbe reports whether any system message carries the
// tool-selection sentinel phrase. Such requests are answered locally.
func IsToolProbe(messages []interfaces.Message) bool {
	for _, m := range messages {
		if m.Role == "system" && strings.Contains(m.Content, constant.ToolProbeSentinel) {
			return true
		}
	}
	return false
}

// WriteError renders err in the dialect's error shape with its carried
// status code.
func (h *BaseHandler) WriteError(c *gin.Context, apiKind string, err error) {
	status := interfaces.StatusCodeOf(err)
	if transform.IsOpenAIKind(apiKind) {
		c.JSON(status, gin.H{"error": gin.H{"message": err.Error(), "type": "api_error"}})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// StreamResponse runs the workflow and bridges its framed output to the
// client with heartbeats: a select over the frame channel, the client's
// context, and an idle timer. Client disconnect requests cancellation,
// which fires the backend abort callback.
func (h *BaseHandler) StreamResponse(c *gin.Context, req *interfaces.Request) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.WriteError(c, req.APIKind, errors.New("streaming unsupported"))
		return
	}

	if transform.IsOpenAIKind(req.APIKind) {
		c.Header("Content-Type", "text/event-stream")
	} else {
		c.Header("Content-Type", "application/x-ndjson")
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	frames, errs := h.Runner.RunStream(c.Request.Context(), req)
	defer h.Registry.AcknowledgeCancellation(req.ID)

	interval := h.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	wrote := false
	for {
		select {
		case <-c.Request.Context().Done():
			log.Debugf("request %s: client disconnected", req.ID)
			h.Registry.RequestCancellation(req.ID)
			return

		case frame, open := <-frames:
			if !open {
				if err := <-errs; err != nil {
					log.Errorf("request %s: workflow failed: %v", req.ID, err)
					if !wrote {
						h.WriteError(c, req.APIKind, err)
					}
					// Mid-stream errors truncate the response; no error
					// bytes are written after data started flowing.
				}
				return
			}
			_, _ = c.Writer.Write(frame)
			flusher.Flush()
			wrote = true
			ticker.Reset(interval)

		case <-ticker.C:
			if hb := transform.HeartbeatFrame(req.APIKind); hb != nil {
				_, _ = c.Writer.Write(hb)
				flusher.Flush()
			}
		}
	}
}

// CompleteResponse runs the workflow non-streaming and writes the
// dialect's full response body.
func (h *BaseHandler) CompleteResponse(c *gin.Context, req *interfaces.Request) {
	defer h.Registry.AcknowledgeCancellation(req.ID)

	text, err := h.Runner.Run(c.Request.Context(), req)
	if err != nil {
		log.Errorf("request %s: workflow failed: %v", req.ID, err)
		h.WriteError(c, req.APIKind, err)
		return
	}
	body := transform.BuildFullResponseJSON(req.APIKind, req.Model, req.ID, text)
	c.Data(http.StatusOK, "application/json", []byte(body))
}

// ModelNames lists the model identifiers exposed by the listing
// endpoints: one "<user>:<workflow>" entry per shared workflow when
// shared listing is enabled, a single "<user>" entry otherwise.
func (h *BaseHandler) ModelNames() []string {
	if !h.ListShared {
		return []string{h.User}
	}
	workflows := h.Runner.Workflows()
	names := make([]string, 0, len(workflows))
	for _, wf := range workflows {
		names = append(names, h.User+":"+wf)
	}
	return names
}

// CancelByBody implements the DELETE cancellation endpoints: the body
// names a request_id, which is marked cancelled in the registry.
func (h *BaseHandler) CancelByBody(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || !gjson.ValidBytes(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	id := gjson.GetBytes(body, "request_id").String()
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request_id is required"})
		return
	}
	h.Registry.RequestCancellation(id)
	log.Infof("request %s: cancellation requested by client", id)
	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "request_id": id})
}

// guessKind picks an error dialect for failures that happen before the
// request kind is established.
func guessKind(c *gin.Context) string {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		return constant.OllamaChat
	}
	return constant.OpenAIChat
}
