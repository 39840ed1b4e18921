package orchestration

import (
	"context"
	"slices"
	"sync"
	"time"
)

type TurnStatus string

const (
	TurnActive    TurnStatus = "active"
	TurnCompleted TurnStatus = "completed"
	TurnPreempted TurnStatus = "preempted"
	TurnFailed    TurnStatus = "failed"
)

// TurnRecord is a snapshot of one turn for history and callbacks.
type TurnRecord struct {
	ID        string
	Utterance string
	Reply     string
	Spoken    []string
	Skipped   int
	Status    TurnStatus
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// turn is the response cycle for one utterance: a synthesis producing
// fragments, a forwarder queueing them and a playback loop draining the
// queue.
type turn struct {
	id        string
	utterance Utterance
	synthesis *synthesis
	queue     *fragmentQueue

	speakCtx     context.Context
	stopSpeaking context.CancelFunc

	forwardDone  chan struct{}
	playbackDone chan struct{}
	settled      chan struct{}

	mu     sync.Mutex
	record TurnRecord
}

func (t *turn) isSettled() bool {
	select {
	case <-t.settled:
		return true
	default:
		return false
	}
}

func (t *turn) recordSpoken(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record.Spoken = append(t.record.Spoken, text)
}

func (t *turn) recordSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record.Skipped++
}

func (t *turn) markPreempted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.record.Status == TurnActive {
		t.record.Status = TurnPreempted
	}
}

// markFailed keeps the first error. A preempted turn stays preempted.
func (t *turn) markFailed(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.record.Err == nil {
		t.record.Err = err
	}
	if t.record.Status == TurnActive {
		t.record.Status = TurnFailed
	}
}

func (t *turn) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.record.Status == TurnActive {
		t.record.Status = TurnCompleted
	}
	t.record.EndedAt = time.Now()
}

func (t *turn) snapshot() TurnRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	record := t.record
	record.Spoken = slices.Clone(t.record.Spoken)
	record.Reply = t.synthesis.Reply()
	return record
}
