// Package backend implements the dialect-specific LLM provider
// handlers. Each handler knows how to build its dialect's payload, which
// streaming frame format the provider speaks, and how to extract tokens
// from frames and final texts from complete responses. The shared
// streaming and retry machinery lives in the Sender.
package backend

import (
	"fmt"

	"github.com/llmgate/LLMGateAPI/internal/config"
	"github.com/llmgate/LLMGateAPI/internal/constant"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
)

// StreamFormat declares how a backend frames its streaming data.
type StreamFormat int

const (
	// StreamLineDelimitedJSON: every non-empty line is a JSON payload.
	StreamLineDelimitedJSON StreamFormat = iota

	// StreamSSE: only "data:" lines carry payloads; "[DONE]" terminates.
	StreamSSE

	// StreamSSENamed: SSE where only "data:" lines following a matching
	// "event:" line carry payloads.
	StreamSSENamed
)

// Handler is the per-dialect backend contract. Implementations are
// stateless with respect to individual requests; all per-request state
// lives in the Sender's stream loop.
type Handler interface {
	// Dialect returns the constant.Backend* identifier.
	Dialect() string

	// EndpointURL constructs the full URL for a call. Some dialects use
	// different paths for streaming and non-streaming.
	EndpointURL(stream bool) string

	// PreparePayload builds the dialect-specific request body from the
	// neutral conversation plus system and user prompts, merging the
	// endpoint's generation preset at the dialect's property names.
	PreparePayload(conversation []interfaces.Message, systemPrompt, userPrompt string, stream bool) ([]byte, error)

	// StreamFormat declares the provider's stream framing.
	StreamFormat() StreamFormat

	// EventName returns the SSE event name for StreamSSENamed dialects.
	EventName() string

	// ParseChunk extracts a neutral chunk from one raw frame payload.
	// Malformed frames return ok=false and are skipped.
	ParseChunk(data []byte) (chunk interfaces.StreamChunk, ok bool)

	// ParseFullResponse extracts the final text from a non-streaming
	// response body.
	ParseFullResponse(body []byte) string
}

// params bundles the three configuration layers a handler reads at
// construction time.
type params struct {
	ep     *config.EndpointConfig
	api    *config.APITypeConfig
	preset config.Preset
}

// constructors is the compile-time map from api-type dialect name to
// handler constructor.
var constructors = map[string]func(p params) Handler{
	constant.BackendOpenAIChat:       func(p params) Handler { return &openAIChatHandler{p} },
	constant.BackendOpenAICompletion: func(p params) Handler { return &openAICompletionHandler{p} },
	constant.BackendOllamaChat:       func(p params) Handler { return &ollamaChatHandler{p} },
	constant.BackendOllamaGenerate:   func(p params) Handler { return &ollamaGenerateHandler{p} },
	constant.BackendKoboldCpp:        func(p params) Handler { return &koboldCppHandler{p} },
}

// NewHandler builds the handler for an endpoint from the catalog's
// api-type and preset records.
func NewHandler(cat *config.Catalog, ep *config.EndpointConfig) (Handler, error) {
	api := cat.APITypeFor(ep)
	if api == nil {
		return nil, fmt.Errorf("endpoint %q: unknown api-type %q", ep.Name, ep.APIType)
	}
	ctor, ok := constructors[api.Type]
	if !ok {
		return nil, fmt.Errorf("endpoint %q: unsupported backend dialect %q", ep.Name, api.Type)
	}
	return ctor(params{ep: ep, api: api, preset: cat.PresetFor(ep)}), nil
}

// textMessages filters out images pseudo-role entries, which only the
// image-bearing wrapper knows how to attach.
func textMessages(conversation []interfaces.Message) []interfaces.Message {
	out := make([]interfaces.Message, 0, len(conversation))
	for _, m := range conversation {
		if m.Role == interfaces.RoleImages {
			continue
		}
		out = append(out, m)
	}
	return out
}

// imageContents collects the contents of images pseudo-role entries in
// order.
func imageContents(conversation []interfaces.Message) []string {
	var out []string
	for _, m := range conversation {
		if m.Role == interfaces.RoleImages && m.Content != "" {
			out = append(out, m.Content)
		}
	}
	return out
}
