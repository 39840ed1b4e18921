package groq

import (
	"github.com/koscakluka/lito/core/llms"
)

type message struct {
	Role    messageRole `json:"role"`
	Content string      `json:"content"`
}

type messageRole string

const (
	messageRoleSystem    messageRole = "system"
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
)

func toMessages(instructions string, history []llms.Message, prompt string) []message {
	messages := make([]message, 0, len(history)+2)
	if instructions != "" {
		messages = append(messages, message{
			Role:    messageRoleSystem,
			Content: instructions,
		})
	}
	for _, msg := range history {
		role := messageRoleUser
		if msg.Role == llms.MessageRoleAssistant {
			role = messageRoleAssistant
		}
		messages = append(messages, message{Role: role, Content: msg.Content})
	}
	return append(messages, message{Role: messageRoleUser, Content: prompt})
}

type requestBody struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type streamingResponseBody struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *usage `json:"usage,omitempty"`
	XGroq *struct {
		Usage *usage `json:"usage,omitempty"`
	} `json:"x_groq,omitempty"`
}

type usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	QueueTime        float64 `json:"queue_time"`
	TotalTime        float64 `json:"total_time"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
