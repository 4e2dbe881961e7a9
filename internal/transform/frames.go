// Package transform shapes dialect-neutral token streams into the wire
// format the client's frontend API expects. It owns the per-dialect
// frame builders, the SSE/NDJSON framing, and the stateful prefix
// pipeline applied to the head of every response.
package transform

import (
	"fmt"
	"time"

	"github.com/tidwall/sjson"

	"github.com/llmgate/LLMGateAPI/internal/constant"
)

const openAIChatChunkTemplate = `{"id":"","object":"chat.completion.chunk","created":0,"model":"","system_fingerprint":"` + constant.SystemFingerprint + `","choices":[{"index":0,"delta":{},"logprobs":null,"finish_reason":null}]}`

const openAICompletionChunkTemplate = `{"id":"","object":"text_completion","created":0,"choices":[{"text":"","index":0,"logprobs":null,"finish_reason":null}],"model":"","system_fingerprint":"` + constant.SystemFingerprint + `"}`

const ollamaChatChunkTemplate = `{"model":"","created_at":"","message":{"role":"assistant","content":""},"done":false}`

const ollamaGenerateChunkTemplate = `{"model":"","created_at":"","response":"","done":false}`

// BuildResponseJSON renders one streaming frame body (unframed JSON) for
// the given frontend API kind. finishReason empty means a content frame;
// "stop" renders the terminal frame of the dialect.
func BuildResponseJSON(apiKind, model, requestID, token, finishReason string) string {
	switch apiKind {
	case constant.OpenAIChat:
		out := openAIChatChunkTemplate
		out, _ = sjson.Set(out, "id", "chatcmpl-"+requestID)
		out, _ = sjson.Set(out, "created", time.Now().Unix())
		out, _ = sjson.Set(out, "model", model)
		if finishReason != "" {
			out, _ = sjson.Set(out, "choices.0.finish_reason", finishReason)
		} else {
			out, _ = sjson.Set(out, "choices.0.delta.content", token)
		}
		return out

	case constant.OpenAICompletion:
		out := openAICompletionChunkTemplate
		out, _ = sjson.Set(out, "id", "cmpl-"+requestID)
		out, _ = sjson.Set(out, "created", time.Now().Unix())
		out, _ = sjson.Set(out, "model", model)
		out, _ = sjson.Set(out, "choices.0.text", token)
		if finishReason != "" {
			out, _ = sjson.Set(out, "choices.0.finish_reason", finishReason)
		}
		return out

	case constant.OllamaChat:
		out := ollamaChatChunkTemplate
		out, _ = sjson.Set(out, "model", model)
		out, _ = sjson.Set(out, "created_at", time.Now().UTC().Format(time.RFC3339Nano))
		out, _ = sjson.Set(out, "message.content", token)
		if requestID != "" {
			out, _ = sjson.Set(out, "request_id", requestID)
		}
		if finishReason != "" {
			out = setOllamaDone(out, finishReason)
		}
		return out

	case constant.OllamaGenerate:
		out := ollamaGenerateChunkTemplate
		out, _ = sjson.Set(out, "model", model)
		out, _ = sjson.Set(out, "created_at", time.Now().UTC().Format(time.RFC3339Nano))
		out, _ = sjson.Set(out, "response", token)
		if requestID != "" {
			out, _ = sjson.Set(out, "request_id", requestID)
		}
		if finishReason != "" {
			out = setOllamaDone(out, finishReason)
		}
		return out
	}
	return ""
}

// setOllamaDone flips a chunk into the terminal Ollama frame with
// nominal duration fields.
func setOllamaDone(out, reason string) string {
	out, _ = sjson.Set(out, "done", true)
	out, _ = sjson.Set(out, "done_reason", reason)
	out, _ = sjson.Set(out, "total_duration", 0)
	out, _ = sjson.Set(out, "load_duration", 0)
	out, _ = sjson.Set(out, "prompt_eval_count", 0)
	out, _ = sjson.Set(out, "prompt_eval_duration", 0)
	out, _ = sjson.Set(out, "eval_count", 0)
	out, _ = sjson.Set(out, "eval_duration", 0)
	return out
}

// SSEFormat frames a rendered JSON body for the wire: SSE data events
// for the OpenAI dialects, an NDJSON line for the Ollama ones.
func SSEFormat(apiKind, body string) string {
	switch apiKind {
	case constant.OpenAIChat, constant.OpenAICompletion:
		return fmt.Sprintf("data: %s\n\n", body)
	default:
		return body + "\n"
	}
}

// DoneMarker returns the trailing stream terminator for the dialect:
// "data: [DONE]" for OpenAI frontends, nothing for Ollama.
func DoneMarker(apiKind string) string {
	switch apiKind {
	case constant.OpenAIChat, constant.OpenAICompletion:
		return "data: [DONE]\n\n"
	default:
		return ""
	}
}

// IsOpenAIKind reports whether the frontend speaks SSE (OpenAI dialects)
// rather than NDJSON (Ollama dialects).
func IsOpenAIKind(apiKind string) bool {
	return apiKind == constant.OpenAIChat || apiKind == constant.OpenAICompletion
}

// HeartbeatFrame returns the idle keep-alive bytes for the dialect: an
// SSE comment for OpenAI frontends, an empty-content NDJSON line for
// Ollama chat. Clients ignore both.
func HeartbeatFrame(apiKind string) []byte {
	switch apiKind {
	case constant.OpenAIChat, constant.OpenAICompletion:
		return []byte(":\n\n")
	case constant.OllamaChat:
		return []byte(`{"message":{"role":"assistant","content":""},"done":false}` + "\n")
	case constant.OllamaGenerate:
		return []byte(`{"response":"","done":false}` + "\n")
	}
	return nil
}

// BuildFullResponseJSON renders the complete non-streaming response body
// for the dialect.
func BuildFullResponseJSON(apiKind, model, requestID, text string) string {
	now := time.Now()
	switch apiKind {
	case constant.OpenAIChat:
		out := `{"id":"","object":"chat.completion","created":0,"model":"","system_fingerprint":"` + constant.SystemFingerprint + `","choices":[{"index":0,"message":{"role":"assistant","content":""},"logprobs":null,"finish_reason":"stop"}],"usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}}`
		out, _ = sjson.Set(out, "id", "chatcmpl-"+requestID)
		out, _ = sjson.Set(out, "created", now.Unix())
		out, _ = sjson.Set(out, "model", model)
		out, _ = sjson.Set(out, "choices.0.message.content", text)
		return out

	case constant.OpenAICompletion:
		out := `{"id":"","object":"text_completion","created":0,"model":"","system_fingerprint":"` + constant.SystemFingerprint + `","choices":[{"text":"","index":0,"logprobs":null,"finish_reason":"stop"}],"usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}}`
		out, _ = sjson.Set(out, "id", "cmpl-"+requestID)
		out, _ = sjson.Set(out, "created", now.Unix())
		out, _ = sjson.Set(out, "model", model)
		out, _ = sjson.Set(out, "choices.0.text", text)
		return out

	case constant.OllamaChat:
		out := ollamaChatChunkTemplate
		out, _ = sjson.Set(out, "model", model)
		out, _ = sjson.Set(out, "created_at", now.UTC().Format(time.RFC3339Nano))
		out, _ = sjson.Set(out, "message.content", text)
		if requestID != "" {
			out, _ = sjson.Set(out, "request_id", requestID)
		}
		return setOllamaDone(out, "stop")

	case constant.OllamaGenerate:
		out := ollamaGenerateChunkTemplate
		out, _ = sjson.Set(out, "model", model)
		out, _ = sjson.Set(out, "created_at", now.UTC().Format(time.RFC3339Nano))
		out, _ = sjson.Set(out, "response", text)
		if requestID != "" {
			out, _ = sjson.Set(out, "request_id", requestID)
		}
		return setOllamaDone(out, "stop")
	}
	return ""
}
