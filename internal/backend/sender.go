package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/llmgate/LLMGateAPI/internal/cancellation"
	"github.com/llmgate/LLMGateAPI/internal/config"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
	"github.com/llmgate/LLMGateAPI/internal/thinking"
	"github.com/llmgate/LLMGateAPI/internal/transform"
	"github.com/llmgate/LLMGateAPI/internal/util"
)

// assistantScanWindow is how many leading characters of a stream are
// inspected for a stale "Assistant:" speaker marker.
const assistantScanWindow = 20

// Sender owns the HTTP client used for all backend calls and the shared
// streaming and retry behavior around the dialect handlers.
type Sender struct {
	httpClient  *http.Client
	registry    *cancellation.Registry
	readTimeout time.Duration
	retries     int
	backoff     time.Duration
}

// NewSender builds a Sender from the service configuration. The client
// carries no overall timeout; token reads on long generations can be
// arbitrarily far apart, so only the per-call context bounds a request.
func NewSender(cfg *config.Config, registry *cancellation.Registry) *Sender {
	return &Sender{
		httpClient:  &http.Client{Transport: util.NewBackendTransport(cfg)},
		registry:    registry,
		readTimeout: time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		retries:     cfg.NonStreamRetries,
		backoff:     time.Second,
	}
}

// StreamOptions tune one streaming call.
type StreamOptions struct {
	// StripAssistantPrefix scans the first characters of the stream for a
	// stale "Assistant:" marker and drops it.
	StripAssistantPrefix bool
}

// Stream performs one streaming backend call. Neutral chunks arrive on
// the first channel; a transport or status error, if any, on the second.
// Both channels close when the call ends. The last chunk always carries
// finish reason "stop", exactly once, even for backends that send no
// finish signal of their own.
//
// While the stream is open an abort callback is registered under the
// request ID; cancelling the request closes the response body, which
// unblocks the read loop.
func (s *Sender) Stream(ctx context.Context, requestID string, h Handler, ep *config.EndpointConfig, conversation []interfaces.Message, systemPrompt, userPrompt string, opts StreamOptions) (<-chan interfaces.StreamChunk, <-chan error) {
	out := make(chan interfaces.StreamChunk, 16)
	errChan := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errChan)

		ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
		defer cancel()

		payload, err := h.PreparePayload(conversation, systemPrompt, userPrompt, true)
		if err != nil {
			errChan <- err
			return
		}
		log.Debugf("request %s: POST %s", requestID, h.EndpointURL(true))

		resp, err := s.post(ctx, h, ep, payload, true)
		if err != nil {
			errChan <- err
			return
		}
		defer func() { _ = resp.Body.Close() }()

		s.registry.RegisterAbortCallback(requestID, func() {
			_ = resp.Body.Close()
		})
		defer s.registry.UnregisterAbortCallbacks(requestID)

		s.readStream(ctx, requestID, h, ep, resp.Body, opts, out, errChan)
	}()

	return out, errChan
}

// readStream runs the shared per-line loop over the response body:
// framing per the handler's stream format, chunk parsing, think-block
// removal, optional assistant-prefix stripping, and emission.
func (s *Sender) readStream(ctx context.Context, requestID string, h Handler, ep *config.EndpointConfig, body io.Reader, opts StreamOptions, out chan<- interfaces.StreamChunk, errChan chan<- error) {
	var remover *thinking.Remover
	if ep.RemoveThinking {
		remover = thinking.ForEndpoint(ep)
	}
	assistant := newAssistantScanner(opts.StripAssistantPrefix)

	emit := func(chunk interfaces.StreamChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	currentEvent := ""
scan:
	for scanner.Scan() {
		if s.registry.IsCancelled(requestID) {
			log.Debugf("request %s: cancelled, abandoning backend stream", requestID)
			break
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var data []byte
		switch h.StreamFormat() {
		case StreamLineDelimitedJSON:
			data = line
		case StreamSSE:
			if !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			data = bytes.TrimSpace(line[len("data:"):])
			if bytes.Equal(data, []byte("[DONE]")) {
				break scan
			}
		case StreamSSENamed:
			if bytes.HasPrefix(line, []byte("event:")) {
				currentEvent = string(bytes.TrimSpace(line[len("event:"):]))
				continue
			}
			if !bytes.HasPrefix(line, []byte("data:")) || currentEvent != h.EventName() {
				continue
			}
			data = bytes.TrimSpace(line[len("data:"):])
		}

		chunk, ok := h.ParseChunk(data)
		if !ok {
			continue
		}

		token := chunk.Token
		if remover != nil {
			token = remover.ProcessDelta(token)
		}
		token = assistant.filter(token)

		done := chunk.Done()
		// The terminal chunk is always minted below, after finalization,
		// so residual buffered content is never lost behind it.
		if token != "" || (chunk.FinishReason != "" && !done) {
			fin := chunk.FinishReason
			if done {
				fin = ""
			}
			if !emit(interfaces.StreamChunk{Token: token, FinishReason: fin}) {
				return
			}
		}
		if done {
			break
		}
	}

	if err := scanner.Err(); err != nil && !s.registry.IsCancelled(requestID) && ctx.Err() == nil {
		errChan <- fmt.Errorf("backend stream read failed: %w", err)
		return
	}

	residual := assistant.flush()
	if remover != nil {
		residual = remover.Finalize() + residual
	}
	if residual != "" {
		if !emit(interfaces.StreamChunk{Token: residual}) {
			return
		}
	}
	emit(interfaces.StreamChunk{FinishReason: "stop"})
}

// Complete performs one non-streaming backend call with bounded retries
// and exponential backoff, then applies the endpoint's response cleanup:
// think-block removal, leading-newline trimming, and stale speaker
// marker stripping.
func (s *Sender) Complete(ctx context.Context, requestID string, h Handler, ep *config.EndpointConfig, conversation []interfaces.Message, systemPrompt, userPrompt string) (string, error) {
	payload, err := h.PreparePayload(conversation, systemPrompt, userPrompt, false)
	if err != nil {
		return "", err
	}

	var lastErr error
	backoff := s.backoff
	for attempt := 1; attempt <= s.retries; attempt++ {
		if s.registry.IsCancelled(requestID) {
			return "", fmt.Errorf("request %s cancelled", requestID)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		body, errCall := s.completeOnce(ctx, h, ep, payload)
		if errCall == nil {
			return cleanupResponse(ep, h.ParseFullResponse(body)), nil
		}
		lastErr = errCall
		log.Warnf("request %s: attempt %d/%d against %s failed: %v", requestID, attempt, s.retries, ep.Name, errCall)

		if attempt < s.retries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			backoff *= 2
		}
	}
	return "", lastErr
}

func (s *Sender) completeOnce(ctx context.Context, h Handler, ep *config.EndpointConfig, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	resp, err := s.post(ctx, h, ep, payload, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

// post issues the request and raises non-2xx statuses as errors carrying
// the upstream status code and body head.
func (s *Sender) post(ctx context.Context, h Handler, ep *config.EndpointConfig, payload []byte, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.EndpointURL(stream), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if stream && h.StreamFormat() != StreamLineDelimitedJSON {
		req.Header.Set("Accept", "text/event-stream")
	}
	if ep.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		head, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &interfaces.ErrorMessage{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("endpoint %s returned status %d: %s", ep.Name, resp.StatusCode, strings.TrimSpace(string(head))),
		}
	}
	return resp, nil
}

// cleanupResponse applies the endpoint's non-streaming response rules.
func cleanupResponse(ep *config.EndpointConfig, text string) string {
	text = thinking.RemoveFromText(ep, text)
	if ep.TrimBeginningNewlines {
		text = strings.TrimLeft(text, "\r\n")
	}
	if strings.HasPrefix(text, transform.AssistantPrefix) {
		text = strings.TrimLeft(strings.TrimPrefix(text, transform.AssistantPrefix), " ")
	}
	return text
}

// assistantScanner buffers the head of a stream until the presence or
// absence of a stale "Assistant:" marker is decided, then passes tokens
// through unchanged.
type assistantScanner struct {
	active bool
	buf    string
}

func newAssistantScanner(active bool) *assistantScanner {
	return &assistantScanner{active: active}
}

func (a *assistantScanner) filter(token string) string {
	if !a.active {
		return token
	}
	a.buf += token
	stripped := strings.TrimLeft(a.buf, " \t\r\n")
	if strings.HasPrefix(transform.AssistantPrefix, stripped) && len(a.buf) < assistantScanWindow {
		// Still ambiguous.
		return ""
	}
	a.active = false
	out := a.buf
	a.buf = ""
	if strings.HasPrefix(stripped, transform.AssistantPrefix) {
		out = strings.TrimLeft(strings.TrimPrefix(stripped, transform.AssistantPrefix), " ")
	}
	return out
}

func (a *assistantScanner) flush() string {
	if !a.active {
		return ""
	}
	a.active = false
	out := a.buf
	a.buf = ""
	return out
}
