package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/koscakluka/lito/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	eventPrefix = "event:"
	chunkPrefix = "data:"

	maxEventSize = 1 << 20
)

type streamingEventType string

const (
	streamingEventRunCreated    streamingEventType = "thread.run.created"
	streamingEventRunCompleted  streamingEventType = "thread.run.completed"
	streamingEventRunFailed     streamingEventType = "thread.run.failed"
	streamingEventRunCancelled  streamingEventType = "thread.run.cancelled"
	streamingEventRunExpired    streamingEventType = "thread.run.expired"
	streamingEventRunIncomplete streamingEventType = "thread.run.incomplete"
	streamingEventMessageDelta  streamingEventType = "thread.message.delta"
	streamingEventError         streamingEventType = "error"
	streamingEventDone          streamingEventType = "done"
)

type runRequest struct {
	AssistantID  string `json:"assistant_id"`
	Instructions string `json:"instructions,omitempty"`
	Stream       bool   `json:"stream"`
}

type runObject struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type messageDelta struct {
	Delta struct {
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"delta"`
}

type errorEvent struct {
	Message string `json:"message"`
}

// StreamReply appends prompt to the thread as a user message and streams the
// text of the assistant's reply. If the caller stops iterating or ctx is
// cancelled before the run finishes, the run is cancelled server side.
// Cancellation is not reported as an error.
func (c *Client) StreamReply(ctx context.Context, threadID, prompt string, opts ...llms.PromptOption) iter.Seq2[string, error] {
	options := llms.NewPromptOptions(c.instructions, opts...)

	return func(yield func(string, error) bool) {
		ctx, span := tracer.Start(ctx, "generate response", trace.WithAttributes(
			attribute.String("openai.thread_id", threadID),
			attribute.String("openai.assistant_id", c.assistantID),
		))
		defer span.End()

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield("", err)
		}

		if err := c.addMessage(ctx, threadID, prompt); err != nil {
			if ctx.Err() == nil {
				fail(fmt.Errorf("failed to add message to thread: %w", err))
			}
			return
		}

		resp, err := c.post(ctx, "/threads/"+threadID+"/runs", runRequest{
			AssistantID:  c.assistantID,
			Instructions: options.Instructions,
			Stream:       true,
		})
		if err != nil {
			if ctx.Err() == nil {
				fail(fmt.Errorf("failed to start run: %w", err))
				return
			}
			// The run may have been created before the request was torn down.
			c.stopRun(ctx, threadID, "")
			return
		}
		var runID string
		finished := false
		defer func() {
			resp.Body.Close()
			if !finished {
				c.stopRun(ctx, threadID, runID)
			}
		}()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

		var event streamingEventType
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, eventPrefix):
				event = streamingEventType(strings.TrimSpace(strings.TrimPrefix(line, eventPrefix)))
				continue
			case strings.HasPrefix(line, chunkPrefix):
			default:
				continue
			}
			chunk := strings.TrimSpace(strings.TrimPrefix(line, chunkPrefix))

			switch event {
			case streamingEventRunCreated:
				var run runObject
				if err := json.Unmarshal([]byte(chunk), &run); err != nil {
					fail(fmt.Errorf("error unmarshalling JSON: %w", err))
					return
				}
				runID = run.ID
				span.SetAttributes(attribute.String("openai.run_id", runID))

			case streamingEventMessageDelta:
				var delta messageDelta
				if err := json.Unmarshal([]byte(chunk), &delta); err != nil {
					logger.WarnContext(ctx, "failed to unmarshal message delta", "error", err)
					continue
				}
				for _, content := range delta.Delta.Content {
					if content.Type != "text" || content.Text == nil || content.Text.Value == "" {
						continue
					}
					if !yield(content.Text.Value, nil) {
						return
					}
				}

			case streamingEventRunCompleted, streamingEventRunCancelled,
				streamingEventRunIncomplete, streamingEventDone:
				finished = true

			case streamingEventRunFailed, streamingEventRunExpired:
				finished = true
				var run runObject
				_ = json.Unmarshal([]byte(chunk), &run)
				if run.LastError != nil {
					fail(fmt.Errorf("run %s: %s: %s", run.Status, run.LastError.Code, run.LastError.Message))
				} else {
					fail(fmt.Errorf("run ended with status %q", event))
				}
				return

			case streamingEventError:
				var errEvent errorEvent
				_ = json.Unmarshal([]byte(chunk), &errEvent)
				fail(fmt.Errorf("stream error: %s", errEvent.Message))
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			fail(fmt.Errorf("error reading stream: %w", err))
		}
	}
}
