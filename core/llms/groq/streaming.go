package groq

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/koscakluka/lito/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// StreamReply sends the thread history plus prompt as a streamed chat
// completion. The prompt and whatever part of the reply was received are
// recorded on the thread, even when the caller stops early.
func (c *Client) StreamReply(ctx context.Context, threadID, prompt string, opts ...llms.PromptOption) iter.Seq2[string, error] {
	options := llms.NewPromptOptions(c.instructions, opts...)

	return func(yield func(string, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream", trace.WithAttributes(
			attribute.String("request.model", c.model),
			attribute.String("request.thread_id", threadID),
		))
		defer span.End()

		fail := func(err error) {
			if ctx.Err() != nil {
				return
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield("", err)
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

		requestBodyBytes, err := json.Marshal(requestBody{
			Model:    c.model,
			Messages: toMessages(options.Instructions, c.History(threadID), prompt),
			Stream:   true,
		})
		if err != nil {
			fail(fmt.Errorf("error marshalling JSON: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(requestBodyBytes))
		if err != nil {
			fail(fmt.Errorf("error creating HTTP request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		requestStarted := time.Now()
		span.AddEvent("request started")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			fail(fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			var apiErr errorBody
			if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
				fail(fmt.Errorf("non-OK HTTP status: %s: %s", resp.Status, apiErr.Error.Message))
				return
			}
			fail(fmt.Errorf("non-OK HTTP status: %s", resp.Status))
			return
		}

		firstChunk := true
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			chunk := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))
			if len(chunk) == 0 {
				continue
			}
			if chunk == endMessage {
				break
			}

			var responseBody streamingResponseBody
			if err := json.Unmarshal([]byte(chunk), &responseBody); err != nil {
				fail(fmt.Errorf("error unmarshalling JSON: %w", err))
				return
			}

			if u := responseBody.usage(); u != nil {
				recordUsage(ctx, span, c.model, u)
			}
			if len(responseBody.Choices) == 0 {
				continue
			}
			choice := responseBody.Choices[0]
			if choice.FinishReason != nil {
				span.SetAttributes(attribute.String("response.finish_reason", *choice.FinishReason))
			}

			content := choice.Delta.Content
			if content == "" {
				continue
			}
			if firstChunk {
				firstChunk = false
				span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestStarted).Seconds()))
				span.AddEvent("received first chunk")
			}
			reply.WriteString(content)
			if !yield(content, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			fail(fmt.Errorf("error reading streamed response: %w", err))
		}
	}
}

func (b streamingResponseBody) usage() *usage {
	if b.Usage != nil {
		return b.Usage
	}
	if b.XGroq != nil {
		return b.XGroq.Usage
	}
	return nil
}

func recordUsage(ctx context.Context, span trace.Span, model string, u *usage) {
	span.SetAttributes(
		attribute.Int("usage.prompt", u.PromptTokens),
		attribute.Int("usage.completion", u.CompletionTokens),
		attribute.Int("usage.total", u.TotalTokens),
		attribute.Float64("usage.queue_time", u.QueueTime),
		attribute.Float64("usage.total_time", u.TotalTime),
	)
	tokensUsed.Add(ctx, int64(u.TotalTokens), metric.WithAttributes(attribute.String("request.model", model)))
}
