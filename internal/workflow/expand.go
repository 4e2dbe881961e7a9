package workflow

import (
	"fmt"
	"strings"

	"github.com/llmgate/LLMGateAPI/internal/config"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
	"github.com/llmgate/LLMGateAPI/internal/transform"
)

// Vars is the placeholder table for one workflow run. Node prompt
// templates reference entries as {name}; earlier node outputs appear as
// {agent1Output}, {agent2Output}, ... in node order.
type Vars map[string]string

// Expand substitutes every {name} placeholder that has a value in vars.
// Unknown placeholders are left verbatim.
func Expand(template string, vars Vars) string {
	if !strings.Contains(template, "{") {
		return template
	}
	out := template
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

// agentVar names the output variable of the i-th node (1-based).
func agentVar(i int) string {
	return fmt.Sprintf("agent%dOutput", i)
}

// buildVars derives the standard placeholders from the incoming request
// and the user's prompt policies:
//
//	{chat_system_prompt}         concatenated system messages
//	{chat_user_prompt_last_one}  content of the last user message
//	{templated_user_prompt}      the whole conversation flattened to text
func buildVars(req *interfaces.Request, user *config.UserConfig) Vars {
	vars := Vars{}

	var systems []string
	lastUser := ""
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			systems = append(systems, m.Content)
		case "user":
			lastUser = m.Content
		}
	}
	vars["chat_system_prompt"] = strings.Join(systems, "\n")
	vars["chat_user_prompt_last_one"] = lastUser
	vars["templated_user_prompt"] = flattenConversation(req.Messages, user)
	return vars
}

// flattenConversation renders the message list as a single prompt
// string, applying the user's speaker-marker, timestamp and trailing
// assistant policies.
func flattenConversation(messages []interfaces.Message, user *config.UserConfig) string {
	var lines []string
	lastUserIdx := -1
	for i, m := range messages {
		if m.Role == "user" {
			lastUserIdx = i
		}
	}

	for i, m := range messages {
		if m.Role == interfaces.RoleImages {
			continue
		}
		content := m.Content
		if user != nil && user.AddDiscussionIDTimestamps && i == lastUserIdx {
			content = transform.TimestampLiteral + " " + content
		}
		if user != nil && user.AddUserAssistant {
			switch m.Role {
			case "user":
				content = "User: " + content
			case "assistant":
				content = "Assistant: " + content
			}
		}
		lines = append(lines, content)
	}

	if user != nil && user.AddUserAssistant && user.AddMissingAssistant {
		if len(messages) == 0 || messages[len(messages)-1].Role != "assistant" {
			lines = append(lines, "Assistant:")
		}
	}
	return strings.Join(lines, "\n")
}

// conversationFor prepares the neutral message list handed to a chat
// responder node: images pass through, and the trailing-assistant policy
// appends an empty assistant turn when the conversation does not end
// with one.
func conversationFor(req *interfaces.Request, user *config.UserConfig) []interfaces.Message {
	conv := make([]interfaces.Message, len(req.Messages))
	copy(conv, req.Messages)

	if user != nil && user.AddMissingAssistant {
		if len(conv) == 0 || conv[len(conv)-1].Role != "assistant" {
			conv = append(conv, interfaces.Message{Role: "assistant", Content: ""})
		}
	}
	return conv
}

// generationPrompt extracts the speaker marker a completion prompt ends
// with ("Roland:"), if any. The stream transformer re-attaches it to
// responses that drop it.
func generationPrompt(prompt string) string {
	idx := strings.LastIndexByte(prompt, '\n')
	line := strings.TrimSpace(prompt[idx+1:])
	if line == "" || !strings.HasSuffix(line, ":") {
		return ""
	}
	// A trailing "Assistant:" is the stale marker the policies strip, not
	// a persona to reconstruct.
	if line == transform.AssistantPrefix {
		return ""
	}
	// A short trailing "Name:" line is a generation prompt; anything
	// longer is ordinary text that happens to end with a colon.
	if len(line) > 40 || strings.ContainsAny(line, ".!?") {
		return ""
	}
	return line
}

// hasImages reports whether the conversation carries image
// pseudo-messages.
func hasImages(messages []interfaces.Message) bool {
	for _, m := range messages {
		if m.Role == interfaces.RoleImages {
			return true
		}
	}
	return false
}
