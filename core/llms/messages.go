package llms

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is one entry of a conversation thread.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}
