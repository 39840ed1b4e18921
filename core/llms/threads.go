package llms

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

// ThreadStore keeps conversation threads in memory for clients of stateless
// chat APIs. The zero value is ready to use.
type ThreadStore struct {
	mu      sync.Mutex
	threads map[string][]Message
}

// CreateThread registers a new, empty thread.
func (s *ThreadStore) CreateThread(_ context.Context) (string, error) {
	threadID := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threads == nil {
		s.threads = map[string][]Message{}
	}
	s.threads[threadID] = nil

	return threadID, nil
}

// History returns a copy of the messages recorded on a thread. Unknown
// threads have no history.
func (s *ThreadStore) History(threadID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := s.threads[threadID]
	if len(messages) == 0 {
		return nil
	}

	var history []Message
	if err := copier.CopyWithOption(&history, messages, copier.Option{DeepCopy: true}); err != nil {
		return slices.Clone(messages)
	}
	return history
}

// Append records messages on a thread, creating it if needed.
func (s *ThreadStore) Append(threadID string, messages ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threads == nil {
		s.threads = map[string][]Message{}
	}
	s.threads[threadID] = append(s.threads[threadID], messages...)
}
