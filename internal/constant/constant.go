// Package constant defines the frontend API kind and backend dialect
// identifiers used throughout the LLM Gate API server. These constants
// keep the dialect names consistent across handlers, the stream
// transformer, and configuration files.
package constant

// Frontend API kinds. Each in-flight request carries exactly one of
// these; it determines the wire format of every frame written back to
// the client.
const (
	// OpenAIChat identifies the OpenAI /v1/chat/completions frontend.
	OpenAIChat = "openai_chat_completion"

	// OpenAICompletion identifies the OpenAI legacy /v1/completions frontend.
	OpenAICompletion = "openai_completion"

	// OllamaChat identifies the Ollama /api/chat frontend.
	OllamaChat = "ollama_chat"

	// OllamaGenerate identifies the Ollama /api/generate frontend.
	OllamaGenerate = "ollama_generate"
)

// Backend dialect names. These match the `type` field of an api-type
// configuration file and key the backend handler constructor map.
const (
	// BackendOpenAIChat speaks POST <base>/v1/chat/completions.
	BackendOpenAIChat = "openAIChatCompletion"

	// BackendOpenAICompletion speaks POST <base>/v1/completions.
	BackendOpenAICompletion = "openAIV1Completion"

	// BackendOllamaChat speaks POST <base>/api/chat.
	BackendOllamaChat = "ollamaApiChat"

	// BackendOllamaGenerate speaks POST <base>/api/generate with raw prompts.
	BackendOllamaGenerate = "ollamaApiGenerate"

	// BackendKoboldCpp speaks the KoboldCpp generate API.
	BackendKoboldCpp = "koboldCppGenerate"
)

// SystemFingerprint is echoed in OpenAI-compatible streaming frames.
const SystemFingerprint = "fp_44709d6fcb"

// ToolProbeSentinel is the literal system-message phrase certain clients
// send to ask whether a tool should be invoked. Requests carrying it are
// answered locally without a model round-trip.
const ToolProbeSentinel = "Your task is to choose and return the correct tool(s) from the list of available tools based on the query"

// ToolProbeFingerprint is the system_fingerprint echoed in locally
// answered tool-probe responses.
const ToolProbeFingerprint = "wmr_123456789"

// OllamaVersion is the version string reported by /api/version.
const OllamaVersion = "0.6.2"
