package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llmgate/LLMGateAPI/internal/config"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
	"github.com/llmgate/LLMGateAPI/internal/transform"
)

func TestExpandSubstitutesKnownPlaceholders(t *testing.T) {
	vars := Vars{"agent1Output": "SUMMARY", "chat_user_prompt_last_one": "hi"}
	out := Expand("Context: {agent1Output}. User: {chat_user_prompt_last_one}. {unknown}", vars)
	assert.Equal(t, "Context: SUMMARY. User: hi. {unknown}", out)
}

func TestBuildVars(t *testing.T) {
	req := &interfaces.Request{Messages: []interfaces.Message{
		{Role: "system", Content: "be kind"},
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "sure"},
		{Role: "user", Content: "second"},
	}}
	vars := buildVars(req, &config.UserConfig{})

	assert.Equal(t, "be kind\nbe brief", vars["chat_system_prompt"])
	assert.Equal(t, "second", vars["chat_user_prompt_last_one"])
	assert.Equal(t, "be kind\nbe brief\nfirst\nsure\nsecond", vars["templated_user_prompt"])
}

func TestFlattenConversationPolicies(t *testing.T) {
	messages := []interfaces.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "user", Content: "how are you"},
	}
	user := &config.UserConfig{
		AddUserAssistant:          true,
		AddMissingAssistant:       true,
		AddDiscussionIDTimestamps: true,
	}
	out := flattenConversation(messages, user)

	expected := "User: hello\n" +
		"Assistant: hi\n" +
		"User: " + transform.TimestampLiteral + " how are you\n" +
		"Assistant:"
	assert.Equal(t, expected, out)
}

func TestConversationForAppendsAssistantTurn(t *testing.T) {
	req := &interfaces.Request{Messages: []interfaces.Message{{Role: "user", Content: "hi"}}}
	conv := conversationFor(req, &config.UserConfig{AddMissingAssistant: true})
	assert.Equal(t, "assistant", conv[len(conv)-1].Role)
	assert.Empty(t, conv[len(conv)-1].Content)

	conv = conversationFor(req, &config.UserConfig{})
	assert.Len(t, conv, 1)
}

func TestGenerationPrompt(t *testing.T) {
	assert.Equal(t, "Roland:", generationPrompt("some dialogue\nRoland:"))
	assert.Equal(t, "", generationPrompt("ends with text"))
	assert.Equal(t, "", generationPrompt("trailing\nAssistant:"), "the stale marker is not a persona")
	assert.Equal(t, "", generationPrompt("a sentence. It ends with a colon held by prose:"))
	assert.Equal(t, "", generationPrompt(""))
}

func TestResponderIndex(t *testing.T) {
	wf := &config.WorkflowConfig{Nodes: []config.WorkflowNode{{Title: "a"}, {Title: "b"}}}
	assert.Equal(t, 1, responderIndex(wf), "defaults to the last node")

	wf.Nodes[0].ReturnToUser = true
	assert.Equal(t, 0, responderIndex(wf))
}
