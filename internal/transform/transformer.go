package transform

import (
	"strings"

	"github.com/llmgate/LLMGateAPI/internal/config"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
)

// TimestampLiteral is the discussion-timestamp prefix stripped from
// responses when timestamping is enabled.
const TimestampLiteral = "[Sent less than a minute ago]"

// AssistantPrefix is the stale speaker marker stripped when the
// user/assistant prompt policies are both active.
const AssistantPrefix = "Assistant:"

// Prefix-buffer caps. The larger cap applies when both workflow- and
// endpoint-level custom stripping are configured.
const (
	prefixBufferCap         = 100
	prefixBufferCapExtended = 200
)

// Options configure a Transformer for one streaming response.
type Options struct {
	// APIKind selects the frontend wire format.
	APIKind string

	// Model is echoed into every frame.
	Model string

	// RequestID is echoed into every frame for client-side correlation.
	RequestID string

	// GenerationPrompt, when set (e.g. "Roland:"), is re-attached to
	// content that does not already open with a speaker prefix.
	GenerationPrompt string

	// WorkflowPrefixes are workflow-level literals stripped from the
	// response head (at most one).
	WorkflowPrefixes []string

	// EndpointPrefixes are endpoint-wide literals stripped from the
	// response head (at most one); each is trimmed before comparison.
	EndpointPrefixes []string

	// StripTimestamp strips a leading TimestampLiteral.
	StripTimestamp bool

	// StripAssistant strips a leading AssistantPrefix.
	StripAssistant bool
}

// FromConfigs assembles Options from the workflow and endpoint
// configuration plus the user's prompt policies.
func FromConfigs(apiKind, model, requestID, generationPrompt string, wf *config.WorkflowConfig, ep *config.EndpointConfig, user *config.UserConfig) Options {
	opts := Options{
		APIKind:          apiKind,
		Model:            model,
		RequestID:        requestID,
		GenerationPrompt: generationPrompt,
	}
	if wf != nil {
		opts.WorkflowPrefixes = wf.ResponseStartTextsToRemove
	}
	if ep != nil {
		opts.EndpointPrefixes = ep.ResponseStartTextsToRemove
	}
	if user != nil {
		opts.StripTimestamp = user.AddDiscussionIDTimestamps
		opts.StripAssistant = user.AddUserAssistant && user.AddMissingAssistant
	}
	return opts
}

// Transformer consumes dialect-neutral chunks and yields framed wire
// strings for the client. It buffers the head of the stream until the
// prefix rules can be applied, then passes tokens straight through.
// Lifetime is one stream.
type Transformer struct {
	opts       Options
	candidates []string
	cap        int

	buf       string
	processed bool
	finished  bool
	full      strings.Builder
}

// New creates a Transformer. When no prefix rule is configured and no
// generation prompt is set, the transformer is the identity on content.
func New(opts Options) *Transformer {
	t := &Transformer{opts: opts, cap: prefixBufferCap}

	for _, lit := range opts.WorkflowPrefixes {
		if lit != "" {
			t.candidates = append(t.candidates, lit)
		}
	}
	for _, lit := range opts.EndpointPrefixes {
		if lit = strings.TrimSpace(lit); lit != "" {
			t.candidates = append(t.candidates, lit)
		}
	}
	if opts.StripTimestamp {
		t.candidates = append(t.candidates, TimestampLiteral)
	}
	if opts.StripAssistant {
		t.candidates = append(t.candidates, AssistantPrefix)
	}
	if len(opts.WorkflowPrefixes) > 0 && len(opts.EndpointPrefixes) > 0 {
		t.cap = prefixBufferCapExtended
	}

	// Nothing to look for: skip buffering entirely.
	if len(t.candidates) == 0 && opts.GenerationPrompt == "" {
		t.processed = true
	}
	return t
}

// ProcessChunk consumes one neutral chunk and returns zero or more
// framed wire strings. A chunk with finish reason "stop" releases any
// buffered content, emits the dialect's terminal frame, and for OpenAI
// frontends the trailing [DONE] marker.
func (t *Transformer) ProcessChunk(chunk interfaces.StreamChunk) []string {
	if t.finished {
		return nil
	}

	var frames []string

	if chunk.Done() {
		if content := t.release(t.buf + chunk.Token); content != "" {
			frames = append(frames, t.contentFrame(content))
		}
		frames = append(frames, SSEFormat(t.opts.APIKind, BuildResponseJSON(t.opts.APIKind, t.opts.Model, t.opts.RequestID, "", "stop")))
		if marker := DoneMarker(t.opts.APIKind); marker != "" {
			frames = append(frames, marker)
		}
		t.buf = ""
		t.finished = true
		return frames
	}

	if t.processed {
		if chunk.Token != "" {
			frames = append(frames, t.contentFrame(chunk.Token))
		}
		return frames
	}

	t.buf += chunk.Token
	if t.shouldKeepBuffering() {
		return nil
	}
	if content := t.release(t.buf); content != "" {
		frames = append(frames, t.contentFrame(content))
	}
	t.buf = ""
	return frames
}

// FullResponseText returns the concatenation of every content fragment
// emitted so far (terminal frames and heartbeats excluded).
func (t *Transformer) FullResponseText() string {
	return t.full.String()
}

func (t *Transformer) contentFrame(content string) string {
	t.full.WriteString(content)
	return SSEFormat(t.opts.APIKind, BuildResponseJSON(t.opts.APIKind, t.opts.Model, t.opts.RequestID, content, ""))
}

// shouldKeepBuffering implements the optimistic prefix match: buffering
// continues only while the left-stripped buffer could still grow into
// (or already starts with) one of the candidate literals, and the cap is
// not exceeded.
func (t *Transformer) shouldKeepBuffering() bool {
	if len(t.buf) > t.cap {
		return false
	}
	stripped := strings.TrimLeft(t.buf, " \t\r\n")
	for _, lit := range t.candidates {
		if strings.HasPrefix(lit, stripped) || strings.HasPrefix(stripped, lit) {
			return true
		}
	}
	return false
}

// release runs the buffered head of the stream through the prefix
// pipeline exactly once; later fragments bypass it.
func (t *Transformer) release(content string) string {
	if t.processed {
		return content
	}
	t.processed = true
	return t.applyPrefixRules(content)
}

// applyPrefixRules applies the five head-of-stream rules in their fixed
// order: speaker reconstruction, workflow-level stripping,
// endpoint-level stripping, timestamp stripping, assistant stripping.
// Each rule operates on what the previous one left behind.
func (t *Transformer) applyPrefixRules(content string) string {
	c := strings.TrimLeft(content, " \t\r\n")

	if t.opts.GenerationPrompt != "" && c != "" && !startsWithSpeaker(c) {
		c = t.opts.GenerationPrompt + " " + c
	}

	for _, lit := range t.opts.WorkflowPrefixes {
		if lit != "" && strings.HasPrefix(c, lit) {
			c = strings.TrimPrefix(c, lit)
			c = strings.TrimPrefix(c, " ")
			break
		}
	}
	c = strings.TrimLeft(c, " \t\r\n")

	for _, lit := range t.opts.EndpointPrefixes {
		lit = strings.TrimSpace(lit)
		if lit != "" && strings.HasPrefix(c, lit) {
			c = strings.TrimPrefix(c, lit)
			c = strings.TrimPrefix(c, " ")
			break
		}
	}
	c = strings.TrimLeft(c, " \t\r\n")

	if t.opts.StripTimestamp {
		c = strings.TrimPrefix(c, TimestampLiteral+" ")
		c = strings.TrimPrefix(c, TimestampLiteral)
		c = strings.TrimLeft(c, " \t\r\n")
	}

	if t.opts.StripAssistant {
		c = strings.TrimPrefix(c, AssistantPrefix)
		c = strings.TrimLeft(c, " \t\r\n")
	}

	return c
}

// ApplyToText runs the same prefix pipeline over a complete
// non-streaming response.
func ApplyToText(opts Options, text string) string {
	t := New(opts)
	if t.processed {
		// No rules configured.
		return text
	}
	return t.applyPrefixRules(text)
}

// startsWithSpeaker reports whether the first whitespace-delimited token
// ends with a colon, i.e. the content already names its speaker.
func startsWithSpeaker(c string) bool {
	fields := strings.Fields(c)
	if len(fields) == 0 {
		return false
	}
	return strings.HasSuffix(fields[0], ":")
}
