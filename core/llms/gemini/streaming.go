package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/koscakluka/lito/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

// StreamReply sends the thread history plus prompt to Gemini and streams
// the reply text. The prompt and whatever part of the reply was received
// are recorded on the thread, even when the caller stops early.
func (c *Client) StreamReply(ctx context.Context, threadID, prompt string, opts ...llms.PromptOption) iter.Seq2[string, error] {
	options := llms.NewPromptOptions(c.instructions, opts...)

	return func(yield func(string, error) bool) {
		ctx, span := tracer.Start(ctx, "generate response", trace.WithAttributes(
			attribute.String("gemini.model", c.model),
			attribute.String("gemini.thread_id", threadID),
		))
		defer span.End()

		contents := toGeminiContents(c.History(threadID), prompt)
		var config *genai.GenerateContentConfig
		if options.Instructions != "" {
			config = &genai.GenerateContentConfig{
				SystemInstruction: genai.NewContentFromText(options.Instructions, genai.RoleUser),
			}
		}

		var reply strings.Builder
		defer func() {
			messages := []llms.Message{{Role: llms.MessageRoleUser, Content: prompt}}
			if reply.Len() > 0 {
				messages = append(messages, llms.Message{Role: llms.MessageRoleAssistant, Content: reply.String()})
			}
			c.Append(threadID, messages...)
			if ctx.Err() != nil {
				logger.DebugContext(ctx, "recorded interrupted reply", "thread_id", threadID, "reply_length", reply.Len())
			}
		}()

		for resp, err := range c.generate(ctx, c.model, contents, config) {
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				err = fmt.Errorf("failed to generate response: %w", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield("", err)
				return
			}

			text := resp.Text()
			if text == "" {
				continue
			}
			reply.WriteString(text)
			if !yield(text, nil) {
				return
			}
		}
	}
}

func toGeminiContents(history []llms.Message, prompt string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, message := range history {
		role := genai.Role(genai.RoleUser)
		if message.Role == llms.MessageRoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(message.Content, role))
	}
	return append(contents, genai.NewContentFromText(prompt, genai.RoleUser))
}
