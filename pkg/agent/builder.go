package agent

import (
	"fmt"

	"github.com/harun/taskchat/pkg/thread"
)

// DefaultSystemPrompt is used when no instructions are configured
const DefaultSystemPrompt = "You are a helpful assistant."

// BuildSystemPrompt composes the per-user instructions for a run
func BuildSystemPrompt(base, userID string) string {
	if base == "" {
		base = DefaultSystemPrompt
	}
	if userID == "" {
		return base
	}
	return fmt.Sprintf("%s\n\nYou are assisting user %s. Use the available tools to act on their behalf.", base, userID)
}

// BuildMessages converts stored history plus the current prompt into the
// message array for the model
func BuildMessages(history []thread.Item, prompt string) []Message {
	messages := make([]Message, 0, len(history)+1)

	for _, item := range history {
		role := item.Role
		switch role {
		case thread.RoleUser, thread.RoleAssistant:
		default:
			// Tool transcripts and unknown roles are not replayed
			continue
		}
		messages = append(messages, Message{
			Role:    role,
			Content: item.Content,
		})
	}

	messages = append(messages, Message{
		Role:    "user",
		Content: prompt,
	})

	return messages
}
