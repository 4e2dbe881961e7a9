package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/llmgate/LLMGateAPI/internal/constant"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
)

func feed(t *Transformer, tokens ...string) []string {
	var frames []string
	for _, tok := range tokens {
		frames = append(frames, t.ProcessChunk(interfaces.StreamChunk{Token: tok})...)
	}
	frames = append(frames, t.ProcessChunk(interfaces.StreamChunk{FinishReason: "stop"})...)
	return frames
}

// contentOf extracts the content field of a framed chunk for the dialect.
func contentOf(t *testing.T, apiKind, frame string) string {
	t.Helper()
	body := frame
	if IsOpenAIKind(apiKind) {
		require.True(t, strings.HasPrefix(frame, "data: "), "frame %q", frame)
		body = strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")
	} else {
		body = strings.TrimSuffix(frame, "\n")
	}
	switch apiKind {
	case constant.OpenAIChat:
		return gjson.Get(body, "choices.0.delta.content").String()
	case constant.OpenAICompletion:
		return gjson.Get(body, "choices.0.text").String()
	case constant.OllamaChat:
		return gjson.Get(body, "message.content").String()
	default:
		return gjson.Get(body, "response").String()
	}
}

func TestIdentityWhenNoRulesActive(t *testing.T) {
	tr := New(Options{APIKind: constant.OpenAIChat, Model: "m", RequestID: "rid"})
	frames := feed(tr, "  Hel", "lo", " world")

	// three content frames + terminal + [DONE]
	require.Len(t, frames, 5)
	assert.Equal(t, "  Hel", contentOf(t, constant.OpenAIChat, frames[0]))
	assert.Equal(t, "lo", contentOf(t, constant.OpenAIChat, frames[1]))
	assert.Equal(t, " world", contentOf(t, constant.OpenAIChat, frames[2]))
	assert.Equal(t, "data: [DONE]\n\n", frames[4])
	assert.Equal(t, "  Hello world", tr.FullResponseText())
}

func TestTerminalFrameShapeOpenAI(t *testing.T) {
	tr := New(Options{APIKind: constant.OpenAIChat, Model: "m", RequestID: "rid"})
	frames := feed(tr, "x")

	final := strings.TrimSuffix(strings.TrimPrefix(frames[1], "data: "), "\n\n")
	assert.Equal(t, "stop", gjson.Get(final, "choices.0.finish_reason").String())
	assert.False(t, gjson.Get(final, "choices.0.delta.content").Exists())
	assert.Equal(t, "chatcmpl-rid", gjson.Get(final, "id").String())
	assert.Equal(t, "chat.completion.chunk", gjson.Get(final, "object").String())
}

func TestTerminalFrameShapeOllama(t *testing.T) {
	tr := New(Options{APIKind: constant.OllamaChat, Model: "m", RequestID: "rid"})
	frames := feed(tr, "x")

	require.Len(t, frames, 2, "no [DONE] marker for Ollama dialects")
	final := strings.TrimSuffix(frames[1], "\n")
	assert.True(t, gjson.Get(final, "done").Bool())
	assert.Equal(t, "stop", gjson.Get(final, "done_reason").String())
	assert.Equal(t, "assistant", gjson.Get(final, "message.role").String())
	assert.Equal(t, "rid", gjson.Get(final, "request_id").String())
}

func TestOllamaGenerateFrames(t *testing.T) {
	tr := New(Options{APIKind: constant.OllamaGenerate, Model: "m", RequestID: "rid"})
	frames := feed(tr, "tok")

	body := strings.TrimSuffix(frames[0], "\n")
	assert.Equal(t, "tok", gjson.Get(body, "response").String())
	assert.False(t, gjson.Get(body, "done").Bool())
}

func TestAssistantPrefixStripped(t *testing.T) {
	tr := New(Options{APIKind: constant.OllamaChat, Model: "m", StripAssistant: true})
	frames := feed(tr, "Assist", "ant: Hello")

	require.NotEmpty(t, frames)
	assert.Equal(t, "Hello", contentOf(t, constant.OllamaChat, frames[0]))
	assert.Equal(t, "Hello", tr.FullResponseText())
}

func TestOptimisticReleaseOnNonCandidate(t *testing.T) {
	tr := New(Options{APIKind: constant.OllamaChat, Model: "m", StripAssistant: true})

	// "Hi" can never grow into "Assistant:", so it is released at once.
	frames := tr.ProcessChunk(interfaces.StreamChunk{Token: "Hi"})
	require.Len(t, frames, 1)
	assert.Equal(t, "Hi", contentOf(t, constant.OllamaChat, frames[0]))

	// Subsequent tokens bypass the buffer.
	frames = tr.ProcessChunk(interfaces.StreamChunk{Token: " Assistant: there"})
	require.Len(t, frames, 1)
	assert.Equal(t, " Assistant: there", contentOf(t, constant.OllamaChat, frames[0]))
}

func TestBufferCapForcesRelease(t *testing.T) {
	// A candidate longer than the cap keeps the buffer "live" until the
	// cap trips.
	long := strings.Repeat("A", 150)
	tr := New(Options{APIKind: constant.OllamaChat, Model: "m", WorkflowPrefixes: []string{long}})

	for i := 0; i < prefixBufferCap; i++ {
		assert.Empty(t, tr.ProcessChunk(interfaces.StreamChunk{Token: "A"}), "character %d stays buffered", i+1)
	}
	frames := tr.ProcessChunk(interfaces.StreamChunk{Token: "A"})
	require.Len(t, frames, 1, "the 101st buffered character forces a release")
}

func TestExtendedCapWhenBothPrefixLayersActive(t *testing.T) {
	tr := New(Options{
		APIKind:          constant.OllamaChat,
		WorkflowPrefixes: []string{strings.Repeat("A", 300)},
		EndpointPrefixes: []string{"x"},
	})
	assert.Equal(t, prefixBufferCapExtended, tr.cap)
}

func TestWorkflowThenEndpointStripping(t *testing.T) {
	tr := New(Options{
		APIKind:          constant.OllamaChat,
		WorkflowPrefixes: []string{"RESPONSE:"},
		EndpointPrefixes: []string{" Sure! "},
	})
	frames := feed(tr, "RESPONSE: Sure! Here you go")
	require.NotEmpty(t, frames)
	assert.Equal(t, "Here you go", tr.FullResponseText())
}

func TestAtMostOneWorkflowLiteralRemoved(t *testing.T) {
	tr := New(Options{
		APIKind:          constant.OllamaChat,
		WorkflowPrefixes: []string{"AB", "CD"},
	})
	frames := feed(tr, "ABCD rest")
	require.NotEmpty(t, frames)
	// "AB" is stripped, then the loop breaks; "CD" survives.
	assert.Equal(t, "CD rest", tr.FullResponseText())
}

func TestTimestampStripping(t *testing.T) {
	tr := New(Options{APIKind: constant.OllamaChat, StripTimestamp: true})
	frames := feed(tr, TimestampLiteral+" hello")
	require.NotEmpty(t, frames)
	assert.Equal(t, "hello", tr.FullResponseText())
}

func TestGenerationPromptReconstruction(t *testing.T) {
	tr := New(Options{APIKind: constant.OllamaChat, GenerationPrompt: "Roland:"})
	feed(tr, "sure, I can help")
	assert.Equal(t, "Roland: sure, I can help", tr.FullResponseText())

	// Content that already names a speaker is left alone.
	tr = New(Options{APIKind: constant.OllamaChat, GenerationPrompt: "Roland:"})
	feed(tr, "Marcus: my turn")
	assert.Equal(t, "Marcus: my turn", tr.FullResponseText())
}

func TestRuleOrderReconstructionBeforeStripping(t *testing.T) {
	// Reconstruction runs first, then the workflow literal matches what
	// it produced.
	tr := New(Options{
		APIKind:          constant.OllamaChat,
		GenerationPrompt: "Roland:",
		WorkflowPrefixes: []string{"Roland:"},
	})
	feed(tr, "hello there")
	assert.Equal(t, "hello there", tr.FullResponseText())
}

func TestFullResponseTextMatchesEmittedContent(t *testing.T) {
	tr := New(Options{APIKind: constant.OpenAICompletion, Model: "m", RequestID: "rid"})
	frames := feed(tr, "a", "", "b", "c")

	var concat strings.Builder
	for _, f := range frames[:len(frames)-2] { // skip terminal + [DONE]
		concat.WriteString(contentOf(t, constant.OpenAICompletion, f))
	}
	assert.Equal(t, concat.String(), tr.FullResponseText())
	assert.Equal(t, "abc", tr.FullResponseText())
}

func TestApplyToText(t *testing.T) {
	opts := Options{StripAssistant: true, WorkflowPrefixes: []string{"Bot:"}}
	assert.Equal(t, "hi", ApplyToText(opts, "Bot: Assistant: hi"))
	assert.Equal(t, " raw ", ApplyToText(Options{}, " raw "), "no rules means identity")
}

func TestHeartbeatFrames(t *testing.T) {
	assert.Equal(t, []byte(":\n\n"), HeartbeatFrame(constant.OpenAIChat))
	hb := HeartbeatFrame(constant.OllamaChat)
	assert.True(t, gjson.ValidBytes([]byte(strings.TrimSuffix(string(hb), "\n"))))
	assert.Equal(t, "", gjson.GetBytes(hb, "message.content").String())
	assert.False(t, gjson.GetBytes(hb, "done").Bool())
}
