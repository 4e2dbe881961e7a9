package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/LLMGateAPI/internal/constant"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
)

func TestParseOpenAIChatMessagesMultimodal(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"system","content":"be brief"},
		{"role":"user","content":[
			{"type":"text","text":"what is "},
			{"type":"text","text":"this?"},
			{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}}
		]}
	]}`)
	msgs, err := ParseOpenAIChatMessages(body)
	require.NoError(t, err)

	require.Len(t, msgs, 3)
	assert.Equal(t, interfaces.Message{Role: "system", Content: "be brief"}, msgs[0])
	assert.Equal(t, interfaces.RoleImages, msgs[1].Role, "images precede the owning message")
	assert.Equal(t, "data:image/png;base64,AAAA", msgs[1].Content)
	assert.Equal(t, interfaces.Message{Role: "user", Content: "what is this?"}, msgs[2])
}

func TestParseOpenAIChatMessagesMissing(t *testing.T) {
	_, err := ParseOpenAIChatMessages([]byte(`{"model":"m"}`))
	assert.Error(t, err)
	assert.Equal(t, 400, interfaces.StatusCodeOf(err))
}

func TestParseOpenAICompletionMessages(t *testing.T) {
	msgs, err := ParseOpenAICompletionMessages([]byte(`{"prompt":"continue this"}`))
	require.NoError(t, err)
	assert.Equal(t, []interfaces.Message{{Role: "user", Content: "continue this"}}, msgs)

	_, err = ParseOpenAICompletionMessages([]byte(`{}`))
	assert.Error(t, err)
}

func TestParseOllamaChatMessagesLiftsImages(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"user","content":"look","images":["AAAA","BBBB"]},
		{"role":"assistant","content":"ok"}
	]}`)
	msgs, err := ParseOllamaChatMessages(body)
	require.NoError(t, err)

	require.Len(t, msgs, 4)
	assert.Equal(t, interfaces.RoleImages, msgs[0].Role)
	assert.Equal(t, "AAAA", msgs[0].Content)
	assert.Equal(t, "BBBB", msgs[1].Content)
	assert.Equal(t, "user", msgs[2].Role)
	assert.Equal(t, "assistant", msgs[3].Role)
}

func TestParseOllamaGenerateMessages(t *testing.T) {
	body := []byte(`{"prompt":"tell a story","system":"you are a bard","images":["AAAA"]}`)
	msgs, err := ParseOllamaGenerateMessages(body)
	require.NoError(t, err)

	require.Len(t, msgs, 2)
	assert.Equal(t, "you are a bard\ntell a story", msgs[0].Content)
	assert.Equal(t, interfaces.RoleImages, msgs[1].Role)
}

func TestIsToolProbe(t *testing.T) {
	probe := []interfaces.Message{
		{Role: "system", Content: "Some preamble. " + constant.ToolProbeSentinel + " Tools: []"},
		{Role: "user", Content: "hi"},
	}
	assert.True(t, IsToolProbe(probe))

	assert.False(t, IsToolProbe([]interfaces.Message{
		{Role: "user", Content: constant.ToolProbeSentinel},
	}), "the sentinel only counts in system messages")
}
