package orchestration

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// conversationThread holds the process wide thread identity. It is written
// once, on configuration or on the first successful creation.
type conversationThread struct {
	creator ThreadCreator

	mu sync.Mutex
	id string
}

func newConversationThread(id string, assistant Assistant) *conversationThread {
	thread := &conversationThread{id: id}
	if creator, ok := assistant.(ThreadCreator); ok {
		thread.creator = creator
	}
	return thread
}

// ID returns the thread identity, creating the thread on first use. A failed
// creation is retried by the next caller.
func (t *conversationThread) ID(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.id != "" || t.creator == nil {
		return t.id, nil
	}

	id, err := t.creator.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create conversation thread: %w", err)
	}
	t.id = id
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("conversation.thread_id", id))
	logger.InfoContext(ctx, "created conversation thread", "thread_id", id)

	return id, nil
}
