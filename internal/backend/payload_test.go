package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/llmgate/LLMGateAPI/internal/config"
	"github.com/llmgate/LLMGateAPI/internal/constant"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
)

func testCatalog(dialect string, ep *config.EndpointConfig) *config.Catalog {
	props := map[string]*config.APITypeConfig{
		constant.BackendOpenAIChat: {
			Type:                       constant.BackendOpenAIChat,
			MaxNewTokensPropertyName:   "max_tokens",
			StreamPropertyName:         "stream",
			TruncateLengthPropertyName: "truncation_length",
		},
		constant.BackendOpenAICompletion: {
			Type:                       constant.BackendOpenAICompletion,
			MaxNewTokensPropertyName:   "max_tokens",
			StreamPropertyName:         "stream",
			TruncateLengthPropertyName: "truncation_length",
		},
		constant.BackendOllamaChat: {
			Type:                       constant.BackendOllamaChat,
			MaxNewTokensPropertyName:   "num_predict",
			StreamPropertyName:         "stream",
			TruncateLengthPropertyName: "num_ctx",
		},
		constant.BackendOllamaGenerate: {
			Type:                       constant.BackendOllamaGenerate,
			MaxNewTokensPropertyName:   "num_predict",
			StreamPropertyName:         "stream",
			TruncateLengthPropertyName: "num_ctx",
		},
		constant.BackendKoboldCpp: {
			Type:                       constant.BackendKoboldCpp,
			MaxNewTokensPropertyName:   "max_length",
			TruncateLengthPropertyName: "max_context_length",
		},
	}
	ep.APIType = dialect
	return &config.Catalog{
		Endpoints: map[string]*config.EndpointConfig{ep.Name: ep},
		APITypes:  map[string]*config.APITypeConfig{dialect: props[dialect]},
		Presets:   map[string]config.Preset{"p": {"temperature": 0.7, "top_p": 0.9}},
	}
}

func mustHandler(t *testing.T, dialect string, ep *config.EndpointConfig) Handler {
	t.Helper()
	h, err := NewHandler(testCatalog(dialect, ep), ep)
	require.NoError(t, err)
	return h
}

func TestOpenAIChatPayload(t *testing.T) {
	ep := &config.EndpointConfig{
		Name:             "gpt",
		Endpoint:         "http://backend/",
		ModelName:        "gpt-4o",
		Preset:           "p",
		MaxNewTokens:     256,
		MaxContextTokens: 8192,
	}
	h := mustHandler(t, constant.BackendOpenAIChat, ep)

	assert.Equal(t, "http://backend/v1/chat/completions", h.EndpointURL(true))

	conv := []interfaces.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}
	payload, err := h.PreparePayload(conv, "", "", true)
	require.NoError(t, err)

	body := string(payload)
	assert.Equal(t, "gpt-4o", gjson.Get(body, "model").String())
	assert.Equal(t, "be brief", gjson.Get(body, "messages.0.content").String())
	assert.Equal(t, "user", gjson.Get(body, "messages.1.role").String())
	assert.Equal(t, int64(256), gjson.Get(body, "max_tokens").Int())
	assert.Equal(t, int64(8192), gjson.Get(body, "truncation_length").Int())
	assert.InDelta(t, 0.7, gjson.Get(body, "temperature").Float(), 1e-9)
	assert.True(t, gjson.Get(body, "stream").Bool())
}

func TestDontIncludeModelOmitsModelKey(t *testing.T) {
	ep := &config.EndpointConfig{Name: "local", Endpoint: "http://b", ModelName: "x", DontIncludeModel: true}
	h := mustHandler(t, constant.BackendOpenAIChat, ep)

	payload, err := h.PreparePayload(nil, "sys", "user", false)
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(payload, "model").Exists())
	assert.False(t, gjson.GetBytes(payload, "stream").Bool())
}

func TestChatFallsBackToNodePrompts(t *testing.T) {
	ep := &config.EndpointConfig{Name: "e", Endpoint: "http://b", ModelName: "m"}
	h := mustHandler(t, constant.BackendOpenAIChat, ep)

	payload, err := h.PreparePayload(nil, "you are concise", "summarize", false)
	require.NoError(t, err)
	assert.Equal(t, "system", gjson.GetBytes(payload, "messages.0.role").String())
	assert.Equal(t, "you are concise", gjson.GetBytes(payload, "messages.0.content").String())
	assert.Equal(t, "summarize", gjson.GetBytes(payload, "messages.1.content").String())
}

func TestOllamaChatParamsNestUnderOptions(t *testing.T) {
	ep := &config.EndpointConfig{
		Name:             "oll",
		Endpoint:         "http://b",
		ModelName:        "llama3",
		Preset:           "p",
		MaxNewTokens:     128,
		MaxContextTokens: 4096,
	}
	h := mustHandler(t, constant.BackendOllamaChat, ep)

	assert.Equal(t, "http://b/api/chat", h.EndpointURL(true))

	payload, err := h.PreparePayload([]interfaces.Message{{Role: "user", Content: "hi"}}, "", "", true)
	require.NoError(t, err)
	body := string(payload)
	assert.Equal(t, int64(128), gjson.Get(body, "options.num_predict").Int())
	assert.Equal(t, int64(4096), gjson.Get(body, "options.num_ctx").Int())
	assert.InDelta(t, 0.9, gjson.Get(body, "options.top_p").Float(), 1e-9)
	assert.True(t, gjson.Get(body, "stream").Bool(), "stream flag stays top level")
	assert.False(t, gjson.Get(body, "num_predict").Exists())
}

func TestOllamaGenerateRawPrompt(t *testing.T) {
	ep := &config.EndpointConfig{Name: "gen", Endpoint: "http://b", ModelName: "llama3"}
	h := mustHandler(t, constant.BackendOllamaGenerate, ep)

	payload, err := h.PreparePayload(nil, "SYS\n", "USER", false)
	require.NoError(t, err)
	assert.Equal(t, "SYS\nUSER", gjson.GetBytes(payload, "prompt").String())
	assert.True(t, gjson.GetBytes(payload, "raw").Bool())
}

func TestKoboldURLsDifferByMode(t *testing.T) {
	ep := &config.EndpointConfig{Name: "kcpp", Endpoint: "http://b", MaxNewTokens: 64, MaxContextTokens: 2048}
	h := mustHandler(t, constant.BackendKoboldCpp, ep)

	assert.Equal(t, "http://b/api/extra/generate/stream", h.EndpointURL(true))
	assert.Equal(t, "http://b/api/v1/generate", h.EndpointURL(false))

	payload, err := h.PreparePayload(nil, "", "tell a story", true)
	require.NoError(t, err)
	body := string(payload)
	assert.Equal(t, "tell a story", gjson.Get(body, "prompt").String())
	assert.Equal(t, int64(64), gjson.Get(body, "max_length").Int())
	assert.Equal(t, int64(2048), gjson.Get(body, "max_context_length").Int())
	assert.False(t, gjson.Get(body, "stream").Exists(), "mode is selected by URL, not payload")
}

func TestCompletionPromptJoinsConversation(t *testing.T) {
	ep := &config.EndpointConfig{Name: "c", Endpoint: "http://b", ModelName: "m"}
	h := mustHandler(t, constant.BackendOpenAICompletion, ep)

	conv := []interfaces.Message{
		{Role: "user", Content: "line one"},
		{Role: "assistant", Content: "line two"},
	}
	payload, err := h.PreparePayload(conv, "", "", false)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", gjson.GetBytes(payload, "prompt").String())
}

func TestImagesAttachOpenAIContentArray(t *testing.T) {
	ep := &config.EndpointConfig{Name: "v", Endpoint: "http://b", ModelName: "m"}
	h := WithImages(mustHandler(t, constant.BackendOpenAIChat, ep))

	conv := []interfaces.Message{
		{Role: "user", Content: "what is this?"},
		{Role: interfaces.RoleImages, Content: "data:image/png;base64,AAAA"},
	}
	payload, err := h.PreparePayload(conv, "", "", false)
	require.NoError(t, err)

	body := string(payload)
	require.Equal(t, int64(1), gjson.Get(body, "messages.#").Int(), "images pseudo-message is lifted out")
	assert.Equal(t, "text", gjson.Get(body, "messages.0.content.0.type").String())
	assert.Equal(t, "what is this?", gjson.Get(body, "messages.0.content.0.text").String())
	assert.Equal(t, "image_url", gjson.Get(body, "messages.0.content.1.type").String())
	assert.Equal(t, "data:image/png;base64,AAAA", gjson.Get(body, "messages.0.content.1.image_url.url").String())
}

func TestImagesAttachOllamaChatList(t *testing.T) {
	ep := &config.EndpointConfig{Name: "v", Endpoint: "http://b", ModelName: "m"}
	h := WithImages(mustHandler(t, constant.BackendOllamaChat, ep))

	conv := []interfaces.Message{
		{Role: "user", Content: "describe"},
		{Role: interfaces.RoleImages, Content: "AAAA"},
		{Role: interfaces.RoleImages, Content: "BBBB"},
	}
	payload, err := h.PreparePayload(conv, "", "", false)
	require.NoError(t, err)

	body := string(payload)
	assert.Equal(t, int64(2), gjson.Get(body, "messages.0.images.#").Int())
	assert.Equal(t, "BBBB", gjson.Get(body, "messages.0.images.1").String())
}

func TestImagesAttachTopLevelForGenerate(t *testing.T) {
	ep := &config.EndpointConfig{Name: "v", Endpoint: "http://b", ModelName: "m"}
	h := WithImages(mustHandler(t, constant.BackendOllamaGenerate, ep))

	conv := []interfaces.Message{
		{Role: "user", Content: "describe"},
		{Role: interfaces.RoleImages, Content: "AAAA"},
	}
	payload, err := h.PreparePayload(conv, "", "", false)
	require.NoError(t, err)
	assert.Equal(t, "AAAA", gjson.GetBytes(payload, "images.0").String())
}

func TestImagePassthroughWithoutImages(t *testing.T) {
	ep := &config.EndpointConfig{Name: "v", Endpoint: "http://b", ModelName: "m"}
	base := mustHandler(t, constant.BackendOpenAIChat, ep)
	wrapped := WithImages(base)

	conv := []interfaces.Message{{Role: "user", Content: "hi"}}
	a, err := base.PreparePayload(conv, "", "", false)
	require.NoError(t, err)
	b, err := wrapped.PreparePayload(conv, "", "", false)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestUnknownDialectRejected(t *testing.T) {
	ep := &config.EndpointConfig{Name: "bad", Endpoint: "http://b", APIType: "missing"}
	cat := &config.Catalog{
		Endpoints: map[string]*config.EndpointConfig{"bad": ep},
		APITypes:  map[string]*config.APITypeConfig{},
	}
	_, err := NewHandler(cat, ep)
	assert.Error(t, err)
}
