package domain

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape handed to the
// model integration.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
