package openai

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const runCancelTimeout = 5 * time.Second

type threadObject struct {
	ID string `json:"id"`
}

// CreateThread starts a new, empty conversation thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "create thread")
	defer span.End()

	var thread threadObject
	if err := c.postJSON(ctx, "/threads", struct{}{}, &thread); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create thread")
		return "", fmt.Errorf("failed to create thread: %w", err)
	}
	if thread.ID == "" {
		err := fmt.Errorf("failed to create thread: empty thread id")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.String("openai.thread_id", thread.ID))
	return thread.ID, nil
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) addMessage(ctx context.Context, threadID, content string) error {
	return c.postJSON(ctx, "/threads/"+threadID+"/messages",
		messageRequest{Role: "user", Content: content}, nil)
}

type runList struct {
	Data []runObject `json:"data"`
}

func isActiveRunStatus(status string) bool {
	switch status {
	case "queued", "in_progress", "requires_action", "cancelling":
		return true
	}
	return false
}

// stopRun cancels an abandoned run and waits until it has settled, so the
// thread accepts the next message. With an empty runID every active run of
// the thread is stopped. It outlives the caller's context.
func (c *Client) stopRun(ctx context.Context, threadID, runID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runCancelTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "cancel run", trace.WithAttributes(
		attribute.String("openai.thread_id", threadID),
		attribute.String("openai.run_id", runID),
	))
	defer span.End()

	runIDs := []string{runID}
	if runID == "" {
		active, err := c.activeRuns(ctx, threadID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to list runs")
			logger.WarnContext(ctx, "failed to list runs of abandoned reply", "thread_id", threadID, "error", err)
			return
		}
		runIDs = active
	}

	for _, id := range runIDs {
		if err := c.cancelRun(ctx, threadID, id); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to cancel run")
			logger.WarnContext(ctx, "failed to cancel abandoned run", "run_id", id, "error", err)
		}
	}
}

func (c *Client) activeRuns(ctx context.Context, threadID string) ([]string, error) {
	var runs runList
	if err := c.getJSON(ctx, "/threads/"+threadID+"/runs?limit=10", &runs); err != nil {
		return nil, err
	}
	var active []string
	for _, run := range runs.Data {
		if isActiveRunStatus(run.Status) {
			active = append(active, run.ID)
		}
	}
	return active, nil
}

// cancelRun requests cancellation and polls the run until it leaves the
// active statuses. A run that finished on its own is not an error.
func (c *Client) cancelRun(ctx context.Context, threadID, runID string) error {
	path := "/threads/" + threadID + "/runs/" + runID
	cancelErr := c.postJSON(ctx, path+"/cancel", nil, nil)

	ticker := time.NewTicker(c.runPollInterval)
	defer ticker.Stop()
	for {
		var run runObject
		if err := c.getJSON(ctx, path, &run); err != nil {
			if cancelErr != nil {
				return fmt.Errorf("failed to cancel run: %w", cancelErr)
			}
			return fmt.Errorf("failed to poll run: %w", err)
		}
		if !isActiveRunStatus(run.Status) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("run %s still %s: %w", runID, run.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}
