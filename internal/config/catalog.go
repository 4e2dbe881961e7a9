package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// EndpointConfig describes one backend LLM endpoint. It is read-only
// after load; backend handlers keep a pointer and never mutate it.
type EndpointConfig struct {
	// Name is the endpoint's file name without extension.
	Name string `yaml:"-"`

	// Endpoint is the backend base URL, e.g. "http://127.0.0.1:11434".
	Endpoint string `yaml:"endpoint"`

	// APIType names the api-type configuration that declares the
	// dialect this endpoint speaks.
	APIType string `yaml:"api-type"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `yaml:"api-key"`

	// ModelName is the model identifier sent to the backend.
	ModelName string `yaml:"model-name"`

	// Preset names the generation preset merged into every payload.
	Preset string `yaml:"preset"`

	// MaxContextTokens is the context window advertised to the backend
	// through the dialect's truncate-length property.
	MaxContextTokens int `yaml:"max-context-tokens"`

	// MaxNewTokens caps the generated token count.
	MaxNewTokens int `yaml:"max-new-tokens"`

	// DontIncludeModel suppresses the top-level "model" key for
	// OpenAI-style backends that reject it.
	DontIncludeModel bool `yaml:"dont-include-model"`

	// TrimBeginningNewlines removes leading line breaks from
	// non-streaming responses.
	TrimBeginningNewlines bool `yaml:"trim-beginning-newlines"`

	// RemoveThinking enables think-block removal on this endpoint's
	// output.
	RemoveThinking bool `yaml:"remove-thinking"`

	// ExpectOnlyClosingThinkTag selects the closing-only removal mode:
	// everything up to the first closing tag is reasoning.
	ExpectOnlyClosingThinkTag bool `yaml:"expect-only-closing-think-tag"`

	// ThinkTag is the tag name wrapped as <tag>...</tag>. Ignored when
	// OpeningTag/ClosingTag are set. Defaults to "think".
	ThinkTag string `yaml:"think-tag"`

	// OpeningTag and ClosingTag override the think-block delimiters with
	// arbitrary literals, e.g. "<|channel|>analysis<|message|>".
	OpeningTag string `yaml:"opening-tag"`
	ClosingTag string `yaml:"closing-tag"`

	// ResponseStartTextsToRemove are endpoint-wide literal prefixes
	// stripped from the start of every response.
	ResponseStartTextsToRemove []string `yaml:"response-start-texts-to-remove"`
}

// OpenThinkTag returns the effective opening think-block delimiter.
func (e *EndpointConfig) OpenThinkTag() string {
	if e.OpeningTag != "" {
		return e.OpeningTag
	}
	tag := e.ThinkTag
	if tag == "" {
		tag = "think"
	}
	return "<" + tag + ">"
}

// CloseThinkTag returns the effective closing think-block delimiter.
func (e *EndpointConfig) CloseThinkTag() string {
	if e.ClosingTag != "" {
		return e.ClosingTag
	}
	tag := e.ThinkTag
	if tag == "" {
		tag = "think"
	}
	return "</" + tag + ">"
}

// APITypeConfig declares a backend dialect and the per-dialect JSON
// property names used when merging generation parameters into payloads.
// The property-name indirection is kept as data because it varies by
// backend family; handlers read it once at construction.
type APITypeConfig struct {
	Name string `yaml:"-"`

	// Type is the dialect identifier, one of the constant.Backend*
	// values.
	Type string `yaml:"type"`

	// MaxNewTokensPropertyName is the JSON key carrying the generation
	// cap ("max_tokens", "num_predict", "max_length", ...).
	MaxNewTokensPropertyName string `yaml:"max-new-tokens-property-name"`

	// StreamPropertyName is the JSON key toggling streaming.
	StreamPropertyName string `yaml:"stream-property-name"`

	// TruncateLengthPropertyName is the JSON key carrying the context
	// window ("truncation_length", "num_ctx", "max_context_length", ...).
	TruncateLengthPropertyName string `yaml:"truncate-length-property-name"`
}

// Preset is a bag of generation parameters merged verbatim into backend
// payloads (temperature, top_p, repetition penalties, ...).
type Preset map[string]any

// WorkflowNode is one step of a workflow.
type WorkflowNode struct {
	// Title labels the node in logs.
	Title string `yaml:"title"`

	// Endpoint names the EndpointConfig this node calls.
	Endpoint string `yaml:"endpoint"`

	// SystemPrompt and Prompt are templates; see workflow.Expand for the
	// supported placeholders.
	SystemPrompt string `yaml:"system-prompt"`
	Prompt       string `yaml:"prompt"`

	// ReturnToUser marks the responder node whose output streams to the
	// client. When no node is marked, the last node responds.
	ReturnToUser bool `yaml:"return-to-user"`
}

// WorkflowConfig is a named sequence of nodes.
type WorkflowConfig struct {
	Name string `yaml:"-"`

	// ResponseStartTextsToRemove are workflow-level literal prefixes
	// stripped from the start of the response.
	ResponseStartTextsToRemove []string `yaml:"response-start-texts-to-remove"`

	Nodes []WorkflowNode `yaml:"nodes"`
}

// UserConfig carries the per-user dispatch policies.
type UserConfig struct {
	// DefaultWorkflow runs when the request names no workflow override.
	DefaultWorkflow string `yaml:"default-workflow"`

	// AddUserAssistant prefixes message content with "User:"/"Assistant:"
	// speaker markers before prompting.
	AddUserAssistant bool `yaml:"add-user-assistant"`

	// AddMissingAssistant appends an empty assistant turn when the
	// conversation does not end with one.
	AddMissingAssistant bool `yaml:"add-missing-assistant"`

	// AddDiscussionIDTimestamps enables "[Sent ...]" timestamps in
	// prompts; the matching literal is stripped from responses.
	AddDiscussionIDTimestamps bool `yaml:"add-discussion-id-timestamps"`

	// ListSharedWorkflows exposes one model entry per workflow in the
	// model-list endpoints instead of a single entry for the user.
	ListSharedWorkflows bool `yaml:"list-shared-workflows"`
}

// Catalog is the fully-loaded configuration of the active user:
// endpoints, api-types, presets and workflows, keyed by name.
type Catalog struct {
	User      string
	UserCfg   *UserConfig
	Endpoints map[string]*EndpointConfig
	APITypes  map[string]*APITypeConfig
	Presets   map[string]Preset
	Workflows map[string]*WorkflowConfig
}

// LoadCatalog reads the active user's configuration directory:
//
//	<users-dir>/<user>/user.yaml
//	<users-dir>/<user>/endpoints/*.yaml
//	<users-dir>/<user>/api-types/*.yaml
//	<users-dir>/<user>/presets/*.yaml
//	<users-dir>/<user>/workflows/*.yaml
//
// A missing user.yaml or an endpoint referencing an unknown api-type is
// a startup error.
func LoadCatalog(cfg *Config) (*Catalog, error) {
	root := cfg.UserDir()

	userCfg := &UserConfig{}
	if err := readYAML(filepath.Join(root, "user.yaml"), userCfg); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}

	cat := &Catalog{
		User:      cfg.User,
		UserCfg:   userCfg,
		Endpoints: make(map[string]*EndpointConfig),
		APITypes:  make(map[string]*APITypeConfig),
		Presets:   make(map[string]Preset),
		Workflows: make(map[string]*WorkflowConfig),
	}

	if err := eachYAML(filepath.Join(root, "api-types"), func(name string, data []byte) error {
		at := &APITypeConfig{Name: name}
		if err := yaml.Unmarshal(data, at); err != nil {
			return err
		}
		cat.APITypes[name] = at
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to load api-types: %w", err)
	}

	if err := eachYAML(filepath.Join(root, "endpoints"), func(name string, data []byte) error {
		ep := &EndpointConfig{Name: name}
		if err := yaml.Unmarshal(data, ep); err != nil {
			return err
		}
		if _, ok := cat.APITypes[ep.APIType]; !ok {
			return fmt.Errorf("endpoint %q references unknown api-type %q", name, ep.APIType)
		}
		cat.Endpoints[name] = ep
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to load endpoints: %w", err)
	}

	if err := eachYAML(filepath.Join(root, "presets"), func(name string, data []byte) error {
		p := Preset{}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return err
		}
		cat.Presets[name] = p
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to load presets: %w", err)
	}

	if err := eachYAML(filepath.Join(root, "workflows"), func(name string, data []byte) error {
		wf := &WorkflowConfig{Name: name}
		if err := yaml.Unmarshal(data, wf); err != nil {
			return err
		}
		if len(wf.Nodes) == 0 {
			return fmt.Errorf("workflow %q has no nodes", name)
		}
		cat.Workflows[name] = wf
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}

	return cat, nil
}

// WorkflowNames returns the workflow names in sorted order.
func (c *Catalog) WorkflowNames() []string {
	names := make([]string, 0, len(c.Workflows))
	for name := range c.Workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// APITypeFor resolves the api-type record of an endpoint.
func (c *Catalog) APITypeFor(ep *EndpointConfig) *APITypeConfig {
	return c.APITypes[ep.APIType]
}

// PresetFor resolves the preset of an endpoint; missing presets resolve
// to an empty parameter bag.
func (c *Catalog) PresetFor(ep *EndpointConfig) Preset {
	if p, ok := c.Presets[ep.Preset]; ok {
		return p
	}
	return Preset{}
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

// eachYAML invokes fn for every *.yaml / *.yml file in dir, passing the
// base name without extension. A missing directory is not an error.
func eachYAML(dir string, fn func(name string, data []byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, errRead := os.ReadFile(filepath.Join(dir, entry.Name()))
		if errRead != nil {
			return errRead
		}
		name := strings.TrimSuffix(entry.Name(), ext)
		if errFn := fn(name, data); errFn != nil {
			return errFn
		}
	}
	return nil
}
