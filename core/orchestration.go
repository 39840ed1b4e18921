package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/lito/core/speechtotext"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errAlreadyStarted = errors.New("orchestrator already started")

// Orchestrator drives the conversation: it listens for an utterance, hands it
// to the TurnController and immediately listens again, so that speaking over
// the assistant preempts its reply.
type Orchestrator struct {
	input      AudioInput
	recognizer SpeechRecognizer
	controller *TurnController
	options    OrchestratorOptions

	started   atomic.Bool
	closeOnce sync.Once

	mu          sync.Mutex
	closed      bool
	baseContext context.Context
	cancel      context.CancelFunc
	capture     *captureSource
	session     *recognitionSession
}

func NewOrchestrator(opts ...OrchestratorOption) (*Orchestrator, error) {
	options := newOrchestratorOptions(opts...)

	var errs []error
	if options.AudioInput == nil {
		errs = append(errs, errors.New("audio input is required"))
	}
	if options.Recognizer == nil {
		errs = append(errs, errors.New("speech recognizer is required"))
	}
	controller, err := newTurnController(options)
	if err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid orchestrator options: %w", err)
	}

	return &Orchestrator{
		input:       options.AudioInput,
		recognizer:  options.Recognizer,
		controller:  controller,
		options:     options,
		baseContext: context.Background(),
	}, nil
}

// Orchestrate runs the listen and respond loop until ctx is done or Close is
// called. Capture and recognition failures are reported through the error
// callback and listening is restarted after the configured delay.
//
// Orchestrate can be called once per orchestrator.
func (o *Orchestrator) Orchestrate(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return errAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return ErrClosed
	}
	o.baseContext = ctx
	o.cancel = cancel
	o.mu.Unlock()
	defer o.Close()

	o.controller.SetListening(true)
	for ctx.Err() == nil {
		utterance, err := o.listen(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			if errors.Is(err, errStreamEnded) {
				logger.DebugContext(ctx, "recognition stream ended, listening again")
				continue
			}

			o.reportError(ctx, err)
			if errors.Is(err, ErrCaptureFailure) {
				o.resetCapture(ctx)
			}
			if !sleepContext(ctx, o.options.RestartDelay) {
				return nil
			}
			continue
		}

		if o.options.Callbacks.OnTranscription != nil {
			o.options.Callbacks.OnTranscription(utterance)
		}
		if err := o.controller.HandleUtterance(ctx, utterance); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			o.reportError(ctx, err)
		}
	}

	return nil
}

// listen opens the capture source if needed and runs one recognition
// session over it.
func (o *Orchestrator) listen(ctx context.Context) (Utterance, error) {
	source, err := o.captureSource(ctx)
	if err != nil {
		return Utterance{}, err
	}

	recognitionOptions := []speechtotext.RecognitionOption{
		speechtotext.WithEncodingInfo(source.EncodingInfo()),
		speechtotext.WithInterimResults(true),
	}
	if o.options.RecognitionLanguage != "" {
		recognitionOptions = append(recognitionOptions, speechtotext.WithLanguage(o.options.RecognitionLanguage))
	}
	session := newRecognitionSession(ctx, o.recognizer, source, o.options.Callbacks.OnInterimTranscription, recognitionOptions...)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Utterance{}, ErrClosed
	}
	o.session = session
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.session == session {
			o.session = nil
		}
		o.mu.Unlock()
	}()

	return session.Next()
}

func (o *Orchestrator) captureSource(ctx context.Context) (*captureSource, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if o.capture == nil {
		o.capture = newCaptureSource(o.input, o.options.FrameDuration)
	}
	source := o.capture
	o.mu.Unlock()

	if err := source.Open(ctx); err != nil {
		o.resetCapture(ctx)
		return nil, err
	}
	return source, nil
}

// resetCapture releases the capture source so the next listening cycle
// reacquires the device.
func (o *Orchestrator) resetCapture(ctx context.Context) {
	o.mu.Lock()
	source := o.capture
	o.capture = nil
	o.mu.Unlock()

	if source == nil {
		return
	}
	if err := source.Close(); err != nil {
		logger.WarnContext(ctx, "failed to release capture source", "error", err)
	}
}

func (o *Orchestrator) reportError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.ErrorContext(ctx, "listening cycle failed", "error", err)

	if o.options.Callbacks.OnError != nil {
		o.options.Callbacks.OnError(err)
	}
}

// Close stops listening, cancels the active turn and releases the capture
// device. It is safe to call more than once.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		if o.cancel != nil {
			o.cancel()
		}
		session, source := o.session, o.capture
		o.session, o.capture = nil, nil
		ctx := o.baseContext
		o.mu.Unlock()

		if session != nil {
			session.Cancel()
		}
		if source != nil {
			if err := source.Close(); err != nil {
				recordedErr := fmt.Errorf("failed to close audio input: %w", err)
				span := trace.SpanFromContext(ctx)
				span.RecordError(recordedErr)
				span.SetStatus(codes.Error, recordedErr.Error())
			}
		}
		if err := o.controller.Close(); err != nil {
			logger.WarnContext(ctx, "failed to close turn controller", "error", err)
		}
	})
}

// SendPrompt handles text as if it had been spoken, preempting the active
// turn.
func (o *Orchestrator) SendPrompt(text string) error {
	o.mu.Lock()
	ctx := o.baseContext
	o.mu.Unlock()

	return o.controller.HandleUtterance(ctx, Utterance{Text: text, ReceivedAt: time.Now()})
}

// CancelTurn stops the active turn, if any, and keeps listening.
func (o *Orchestrator) CancelTurn() { o.controller.CancelTurn() }

func (o *Orchestrator) State() State { return o.controller.State() }

func (o *Orchestrator) IsSpeaking() bool { return o.controller.IsSpeaking() }

func (o *Orchestrator) History() []TurnRecord { return o.controller.History() }

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
