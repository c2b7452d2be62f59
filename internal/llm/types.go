package llm

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the provider-neutral result of a Chat call.
type ChatResponse struct {
	Model        string
	Message      Message
	InputTokens  int
	OutputTokens int
	Elapsed      time.Duration
}
