package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const maxHistory = 100

type State int32

const (
	StateIdle State = iota
	StateListening
	StateSynthesizing
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateSynthesizing:
		return "synthesizing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// TurnController owns the single active turn. A new utterance preempts the
// active turn: its playback is stopped first, then its synthesis, and only
// then is the new turn started.
type TurnController struct {
	synthesizer *responseSynthesizer
	playback    *playbackPipeline
	callbacks   Callbacks

	mu     sync.Mutex
	active atomic.Pointer[turn]
	closed bool

	stateMu   sync.Mutex
	state     atomic.Int32
	listening atomic.Bool

	historyMu sync.Mutex
	history   []*turn
}

// NewTurnController builds a controller from the assistant, synthesizer and
// audio output options. Capture and recognition options are ignored.
func NewTurnController(opts ...OrchestratorOption) (*TurnController, error) {
	return newTurnController(newOrchestratorOptions(opts...))
}

func newTurnController(options OrchestratorOptions) (*TurnController, error) {
	var errs []error
	if options.Assistant == nil {
		errs = append(errs, errors.New("assistant is required"))
	}
	if options.Synthesizer == nil {
		errs = append(errs, errors.New("speech synthesizer is required"))
	}
	if options.AudioOutput == nil {
		errs = append(errs, errors.New("audio output is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	thread := newConversationThread(options.ThreadID, options.Assistant)
	return &TurnController{
		synthesizer: newResponseSynthesizer(options.Assistant, thread, options.Instructions),
		playback:    newPlaybackPipeline(options.Synthesizer, options.AudioOutput, options.Voices, options.TempDir),
		callbacks:   options.Callbacks,
	}, nil
}

// HandleUtterance preempts the active turn, if any, and starts a new turn
// for utterance. It returns once the new turn has started.
func (c *TurnController) HandleUtterance(ctx context.Context, utterance Utterance) error {
	ctx, span := tracer.Start(ctx, "handle utterance")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		span.SetStatus(codes.Error, ErrClosed.Error())
		return ErrClosed
	}

	if previous := c.active.Load(); previous != nil {
		c.preempt(ctx, previous)
	}

	t := c.startTurn(context.WithoutCancel(ctx), utterance)
	span.SetAttributes(attribute.String("turn.id", t.id))
	return nil
}

// CancelTurn stops the active turn without starting a new one.
func (c *TurnController) CancelTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if active := c.active.Load(); active != nil {
		c.preempt(context.Background(), active)
	}
}

// Close cancels the active turn. Utterances handled after Close are
// rejected with [ErrClosed].
func (c *TurnController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.listening.Store(false)

	if active := c.active.Load(); active != nil {
		c.preempt(context.Background(), active)
	}

	c.stateMu.Lock()
	c.setStateLocked(StateIdle)
	c.stateMu.Unlock()
	return nil
}

// State returns the current conversation state.
func (c *TurnController) State() State {
	return State(c.state.Load())
}

// IsSpeaking reports whether a response fragment is being played.
func (c *TurnController) IsSpeaking() bool {
	return c.playback.IsPlaying()
}

// History returns snapshots of the most recent turns, oldest first.
func (c *TurnController) History() []TurnRecord {
	c.historyMu.Lock()
	turns := make([]*turn, len(c.history))
	copy(turns, c.history)
	c.historyMu.Unlock()

	records := make([]TurnRecord, 0, len(turns))
	for _, t := range turns {
		records = append(records, t.snapshot())
	}
	return records
}

// SetListening records whether the driver is listening, which decides the
// state reported between turns.
func (c *TurnController) SetListening(listening bool) {
	c.listening.Store(listening)

	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if active := c.active.Load(); active == nil || active.isSettled() {
		c.setStateLocked(c.idleState())
	}
}

func (c *TurnController) startTurn(ctx context.Context, utterance Utterance) *turn {
	speakCtx, stopSpeaking := context.WithCancel(ctx)
	t := &turn{
		id:           uuid.NewString(),
		utterance:    utterance,
		queue:        newFragmentQueue(),
		speakCtx:     speakCtx,
		stopSpeaking: stopSpeaking,
		forwardDone:  make(chan struct{}),
		playbackDone: make(chan struct{}),
		settled:      make(chan struct{}),
		record: TurnRecord{
			Utterance: utterance.Text,
			Status:    TurnActive,
			StartedAt: time.Now(),
		},
	}
	t.record.ID = t.id

	c.stateMu.Lock()
	c.active.Store(t)
	c.setStateLocked(StateSynthesizing)
	c.stateMu.Unlock()

	c.historyMu.Lock()
	c.history = append(c.history, t)
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
	c.historyMu.Unlock()

	turnsStarted.Add(ctx, 1)
	logger.InfoContext(ctx, "turn started", "turn_id", t.id)

	t.synthesis = c.synthesizer.Start(ctx, utterance)
	go c.run(t, "forward", t.forwardDone, c.forward)
	go c.run(t, "playback", t.playbackDone, c.speak)
	go c.settle(ctx, t)

	return t
}

// preempt stops t's playback and then its synthesis and waits for the turn
// to settle. Must be called with c.mu held.
func (c *TurnController) preempt(ctx context.Context, t *turn) {
	if t.isSettled() {
		return
	}

	ctx, span := tracer.Start(ctx, "preempt turn", trace.WithAttributes(attribute.String("turn.id", t.id)))
	defer span.End()

	t.markPreempted()

	t.stopSpeaking()
	c.playback.Cancel()
	<-t.playbackDone
	span.AddEvent("playback stopped")

	t.synthesis.Cancel()
	<-t.forwardDone
	t.queue.Clear()
	span.AddEvent("synthesis stopped")

	<-t.settled
	turnsPreempted.Add(ctx, 1, metric.WithAttributes(attribute.Int("turn.spoken", len(t.snapshot().Spoken))))
}

// forward routes synthesis output: interim text to the response callback,
// sentences to the playback queue.
func (c *TurnController) forward(t *turn) {
	defer t.queue.Complete()

	for fragment := range t.synthesis.Fragments() {
		switch fragment.Kind {
		case FragmentInterim:
			if c.callbacks.OnResponse != nil {
				c.callbacks.OnResponse(fragment.Text)
			}
		case FragmentBoundary:
			t.queue.Push(fragment)
		}
	}

	if err := t.synthesis.Err(); err != nil {
		c.fail(t, err)
	}
}

// speak plays queued fragments in order until the queue is complete or the
// turn stops speaking.
func (c *TurnController) speak(t *turn) {
	for fragment := range t.queue.Fragments(t.speakCtx) {
		c.setState(t, StateSpeaking)

		err := c.playback.Play(t.speakCtx, fragment.Text)
		switch {
		case err == nil:
			t.recordSpoken(fragment.Text)
			if c.callbacks.OnFragmentSpoken != nil {
				c.callbacks.OnFragmentSpoken(fragment)
			}
		case t.speakCtx.Err() != nil:
			return
		case errors.Is(err, ErrNoAudioProduced):
			t.recordSkipped()
			fragmentsSkipped.Add(t.speakCtx, 1)
			logger.WarnContext(t.speakCtx, "skipping fragment", "turn_id", t.id, "fragment", fragment.Index, "error", err)
		case errors.Is(err, context.Canceled):
			// Output stopped outside of the turn; nothing left to say.
			t.synthesis.Cancel()
			return
		default:
			c.fail(t, err)
			t.synthesis.Cancel()
			return
		}

		if !isDone(t.synthesis.Done()) {
			c.setState(t, StateSynthesizing)
		}
	}
}

// settle waits for both workers and reports the outcome of t.
func (c *TurnController) settle(ctx context.Context, t *turn) {
	<-t.forwardDone
	<-t.playbackDone
	t.stopSpeaking()
	t.finish()
	close(t.settled)

	record := t.snapshot()
	logger.InfoContext(ctx, "turn settled", "turn_id", t.id, "status", record.Status, "spoken", len(record.Spoken), "skipped", record.Skipped)

	c.stateMu.Lock()
	c.setStateIfActiveLocked(t, c.idleState())
	c.stateMu.Unlock()

	if record.Status == TurnPreempted {
		if c.callbacks.OnCancellation != nil {
			c.callbacks.OnCancellation(record)
		}
		return
	}
	if c.callbacks.OnResponseEnd != nil {
		c.callbacks.OnResponseEnd(record)
	}
}

// run executes a turn worker and closes done once it has returned or its
// panic has been recorded.
func (c *TurnController) run(t *turn, name string, done chan struct{}, worker func(*turn)) {
	defer close(done)
	defer func() {
		if recovered := recover(); recovered != nil {
			c.fail(t, fmt.Errorf("%s worker panicked: %v", name, recovered))
			t.stopSpeaking()
			t.synthesis.cancel()
		}
	}()
	worker(t)
}

func (c *TurnController) fail(t *turn, err error) {
	t.markFailed(err)
	logger.Error("turn failed", "turn_id", t.id, "error", err)
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}

func (c *TurnController) idleState() State {
	if c.listening.Load() {
		return StateListening
	}
	return StateIdle
}

func (c *TurnController) setState(t *turn, state State) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.setStateIfActiveLocked(t, state)
}

func (c *TurnController) setStateIfActiveLocked(t *turn, state State) {
	if c.active.Load() != t {
		return
	}
	c.setStateLocked(state)
}

// setStateLocked must be called with c.stateMu held. The callback runs under
// the lock so transitions are reported in order.
func (c *TurnController) setStateLocked(state State) {
	if State(c.state.Swap(int32(state))) == state {
		return
	}
	if c.callbacks.OnStateChanged != nil {
		c.callbacks.OnStateChanged(state)
	}
}

func isDone(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}
