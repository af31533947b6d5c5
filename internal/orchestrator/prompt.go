package orchestrator

import (
	"strings"

	"ragcore/internal/types"
)

// BuildPrompt assembles the generation prompt from the prior history, the
// retrieved context and the user's message. Empty sections are omitted; with
// neither history nor context the prompt is the message itself.
func BuildPrompt(history []types.ConversationMessage, contexts []string, content string) string {
	var sections []string
	if len(history) > 0 {
		lines := make([]string, len(history))
		for i, m := range history {
			lines[i] = m.String()
		}
		sections = append(sections, "Conversation History:\n"+strings.Join(lines, "\n"))
	}
	if len(contexts) > 0 {
		sections = append(sections, "Context:\n"+strings.Join(contexts, "\n\n"))
	}
	if len(sections) == 0 {
		return content
	}
	sections = append(sections, "User Request: "+content)
	return strings.Join(sections, "\n\n")
}
