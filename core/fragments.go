package orchestration

import (
	"context"
	"iter"
	"sync"
)

type FragmentKind int

const (
	// FragmentInterim carries raw reply text as it streams in. It is meant
	// for display and is never spoken on its own.
	FragmentInterim FragmentKind = iota
	// FragmentBoundary is a complete sentence, or the flushed remainder of
	// the reply, ready for synthesis.
	FragmentBoundary
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentInterim:
		return "interim"
	case FragmentBoundary:
		return "boundary"
	default:
		return "unknown"
	}
}

type ResponseFragment struct {
	Kind FragmentKind
	Text string
	// Index orders fragments of the same kind within a turn.
	Index int
}

// fragmentQueue is the ordered, unbounded queue between a turn's synthesis
// and its playback loop.
type fragmentQueue struct {
	mu           sync.Mutex
	fragments    []ResponseFragment
	consumed     int
	complete     bool
	cleared      bool
	updateSignal chan struct{}
}

func newFragmentQueue() *fragmentQueue {
	return &fragmentQueue{
		updateSignal: make(chan struct{}, 1),
	}
}

func (q *fragmentQueue) Push(fragment ResponseFragment) {
	q.mu.Lock()
	if q.cleared || q.complete {
		q.mu.Unlock()
		return
	}
	q.fragments = append(q.fragments, fragment)
	q.mu.Unlock()
	q.signalUpdate()
}

// Complete marks that no more fragments will be pushed. Iteration ends once
// the queued fragments are consumed.
func (q *fragmentQueue) Complete() {
	q.mu.Lock()
	q.complete = true
	q.mu.Unlock()
	q.signalUpdate()
}

// Clear discards everything still queued and ends iteration.
func (q *fragmentQueue) Clear() {
	q.mu.Lock()
	q.cleared = true
	q.fragments = nil
	q.consumed = 0
	q.mu.Unlock()
	q.signalUpdate()
}

// Fragments yields queued fragments in push order, blocking until the next
// one arrives, the queue is completed or cleared, or ctx is done.
func (q *fragmentQueue) Fragments(ctx context.Context) iter.Seq[ResponseFragment] {
	return func(yield func(ResponseFragment) bool) {
		for {
			q.mu.Lock()
			if q.cleared {
				q.mu.Unlock()
				return
			}

			if q.consumed < len(q.fragments) {
				fragment := q.fragments[q.consumed]
				q.consumed++
				q.mu.Unlock()
				if !yield(fragment) {
					return
				}
				continue
			}

			if q.complete {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-q.updateSignal:
			}
		}
	}
}

// Pending returns the number of fragments not yet consumed.
func (q *fragmentQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fragments) - q.consumed
}

func (q *fragmentQueue) signalUpdate() {
	select {
	case q.updateSignal <- struct{}{}:
	default:
	}
}
