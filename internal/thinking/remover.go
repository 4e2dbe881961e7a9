// Package thinking implements removal of model "reasoning" blocks from
// LLM output. A block is delimited by configurable literals (by default
// <think> ... </think>) and is stripped both from token streams and from
// complete texts. Matching is case-insensitive and the delimiters may be
// arbitrary multi-character literals.
package thinking

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/llmgate/LLMGateAPI/internal/config"
)

// DefaultGracePeriod is the character window from stream start within
// which an opening tag is still honored.
const DefaultGracePeriod = 50

// Remover strips one think block from a stream. Lifetime is one stream;
// create a fresh Remover per backend call.
type Remover struct {
	openTag     string
	closeTag    string
	closingOnly bool
	grace       int

	buf           string
	inBlock       bool
	openCheckDone bool
	handled       bool
	consumedOpen  string
	passthrough   bool
}

// New creates a Remover for the given delimiters. closingOnly selects
// the mode where everything before the first closing tag is reasoning
// (for models that emit no opening tag).
func New(openTag, closeTag string, closingOnly bool) *Remover {
	return &Remover{
		openTag:     openTag,
		closeTag:    closeTag,
		closingOnly: closingOnly,
		grace:       DefaultGracePeriod,
	}
}

// WithGracePeriod overrides the opening-tag search window.
func (r *Remover) WithGracePeriod(n int) *Remover {
	r.grace = n
	return r
}

// ForEndpoint builds a Remover from an endpoint's thinking settings.
func ForEndpoint(ep *config.EndpointConfig) *Remover {
	return New(ep.OpenThinkTag(), ep.CloseThinkTag(), ep.ExpectOnlyClosingThinkTag)
}

// ProcessDelta consumes the next stream fragment and returns the content
// that is now known to be user-visible. It returns "" while the state is
// still undecided.
func (r *Remover) ProcessDelta(delta string) string {
	if r.passthrough {
		return delta
	}
	r.buf += delta

	if r.closingOnly {
		return r.processClosingOnly()
	}
	return r.processStandard()
}

// Finalize flushes whatever the remover still buffers at stream end. In
// standard mode an unterminated block is emitted verbatim, opening tag
// included, so no content is ever lost. In closing-only mode a missing
// closing tag means the whole buffer was reasoning and it is dropped.
func (r *Remover) Finalize() string {
	defer func() {
		r.buf = ""
		r.passthrough = true
	}()

	if r.passthrough {
		return ""
	}

	if r.closingOnly {
		if r.buf != "" {
			log.Warnf("stream ended without closing think tag; discarding %d buffered characters", len(r.buf))
		}
		return ""
	}

	if r.inBlock {
		// Unterminated block: conservative flush of the consumed open
		// tag plus everything after it.
		return r.consumedOpen + r.buf
	}
	return r.buf
}

func (r *Remover) processClosingOnly() string {
	idx := indexFold(r.buf, r.closeTag)
	if idx < 0 {
		return ""
	}
	rest := trimAfterClose(r.buf[idx+len(r.closeTag):])
	r.buf = ""
	r.handled = true
	r.passthrough = true
	return rest
}

func (r *Remover) processStandard() string {
	var out string

	if !r.openCheckDone {
		idx := indexFold(r.buf, r.openTag)
		switch {
		case idx >= 0 && idx <= r.grace:
			out = r.buf[:idx]
			r.consumedOpen = r.buf[idx : idx+len(r.openTag)]
			r.buf = r.buf[idx+len(r.openTag):]
			r.inBlock = true
			r.openCheckDone = true
		case len(r.buf) >= r.grace+len(r.openTag):
			// No tag can still start inside the grace window.
			r.openCheckDone = true
			r.passthrough = true
			out = r.buf
			r.buf = ""
			return out
		default:
			return ""
		}
	}

	if r.inBlock {
		idx := indexFold(r.buf, r.closeTag)
		if idx < 0 {
			return out
		}
		rest := trimAfterClose(r.buf[idx+len(r.closeTag):])
		r.buf = ""
		r.inBlock = false
		r.handled = true
		r.passthrough = true
		return out + rest
	}

	return out
}

// RemoveFromText applies the endpoint's thinking rules to a complete
// text in one pass. Texts from endpoints without thinking removal pass
// through unchanged.
func RemoveFromText(ep *config.EndpointConfig, text string) string {
	if ep == nil || !ep.RemoveThinking {
		return text
	}
	r := ForEndpoint(ep)
	return r.ProcessDelta(text) + r.Finalize()
}

// indexFold is a case-insensitive strings.Index for the ASCII tag
// literals used as think delimiters.
func indexFold(s, sub string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(sub))
}

// trimAfterClose drops the whitespace and line break that conventionally
// follow a closing think tag.
func trimAfterClose(s string) string {
	return strings.TrimLeft(s, " \t\r\n")
}
