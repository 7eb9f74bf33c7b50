package llm

import (
	"regexp"

	"github.com/holoboxlabs/voicebridge/pkg/convo"
)

// DefaultSystemPrompt frames the assistant for spoken property answers.
// Replies must stay short because they are synthesized and read aloud.
const DefaultSystemPrompt = "You are a friendly real estate consultant for a " +
	"residential property showroom. Answer questions about apartments, pricing, " +
	"amenities and availability in one or two short spoken sentences. If you do " +
	"not know, say so briefly."

// Role defines message roles in a conversation.
type Role string

const (
	// RoleSystem is for system instructions.
	RoleSystem Role = "system"

	// RoleUser is for user messages.
	RoleUser Role = "user"

	// RoleAssistant is for assistant responses.
	RoleAssistant Role = "assistant"
)

// Message is one chat message in an OpenAI-shaped request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// BuildMessages assembles the completion request messages: the system
// prompt first, then the conversation window in chronological order, then
// the current user text.
func BuildMessages(system string, window []convo.Turn, userText string) []Message {
	if system == "" {
		system = DefaultSystemPrompt
	}

	messages := make([]Message, 0, len(window)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: system})

	for _, turn := range window {
		role := RoleUser
		if turn.Role == convo.RoleAssistant {
			role = RoleAssistant
		}
		messages = append(messages, Message{Role: role, Content: turn.Text})
	}

	return append(messages, Message{Role: RoleUser, Content: userText})
}

var decimalRe = regexp.MustCompile(`(\d+)\.(\d+)`)

// ReformatDecimals rewrites decimal figures like "2.5" into "2(5)" so the
// model does not misread spoken prices transcribed with a decimal point.
// Text without a decimal figure is returned unchanged.
func ReformatDecimals(text string) string {
	return decimalRe.ReplaceAllString(text, "$1($2)")
}
