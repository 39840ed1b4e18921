package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/lito/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Utterance is one finalized user transcript.
type Utterance struct {
	Text       string
	ReceivedAt time.Time
}

var (
	errSessionUsed = errors.New("recognition session already used")
	// errStreamEnded is returned when the recognizer closes its stream
	// without finalizing anything, e.g. on a service side duration limit.
	errStreamEnded = errors.New("stream ended without a final transcript")
)

// recognitionSession runs one recognition call over the capture source and
// ends with the first final transcript.
type recognitionSession struct {
	recognizer SpeechRecognizer
	source     *captureSource
	options    []speechtotext.RecognitionOption
	onInterim  func(transcript string)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

func newRecognitionSession(
	ctx context.Context,
	recognizer SpeechRecognizer,
	source *captureSource,
	onInterim func(transcript string),
	opts ...speechtotext.RecognitionOption,
) *recognitionSession {
	ctx, cancel := context.WithCancel(ctx)
	return &recognitionSession{
		recognizer: recognizer,
		source:     source,
		options:    opts,
		onInterim:  onInterim,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Next blocks until the recognizer produces a final transcript. It returns
// the context error when the session is cancelled, [ErrCaptureFailure] when
// the capture source closes underneath it and [ErrRecognitionFailure] for
// recognizer errors. A session can be used once.
func (s *recognitionSession) Next() (Utterance, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return Utterance{}, errSessionUsed
	}
	s.started = true
	s.mu.Unlock()
	defer close(s.done)

	ctx, span := tracer.Start(s.ctx, "recognize utterance")
	defer span.End()

	feed := &frameFeed{source: s.source, ctx: ctx}
	defer func() {
		s.cancel()
		feed.stop()
	}()

	fail := func(err error) (Utterance, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Utterance{}, err
	}

	for result, err := range s.recognizer.Recognize(ctx, feed.Frames, s.options...) {
		if err != nil {
			if ctx.Err() != nil {
				return Utterance{}, ctx.Err()
			}
			return fail(fmt.Errorf("%w: %w", ErrRecognitionFailure, err))
		}

		transcript := strings.TrimSpace(result.Transcript)
		if !result.IsFinal {
			if transcript != "" && s.onInterim != nil {
				s.onInterim(transcript)
			}
			continue
		}
		if transcript == "" {
			continue
		}

		span.AddEvent("final transcript", trace.WithAttributes(attribute.Int("transcript.length", len(transcript))))
		// Frames captured from here on belong to the next session.
		s.cancel()
		return Utterance{Text: transcript, ReceivedAt: time.Now()}, nil
	}

	if ctx.Err() != nil {
		return Utterance{}, ctx.Err()
	}
	if s.source.IsClosed() {
		return fail(fmt.Errorf("%w: capture source closed during recognition", ErrCaptureFailure))
	}
	return Utterance{}, fmt.Errorf("%w: %w", ErrRecognitionFailure, errStreamEnded)
}

// frameFeed is the capture queue as seen by one recognition call. Recognizers
// may read it from their own goroutines, so stop waits until every reader
// has left the queue.
type frameFeed struct {
	source *captureSource
	ctx    context.Context

	mu      sync.Mutex
	stopped bool
	readers sync.WaitGroup
}

func (f *frameFeed) Frames(yield func([]byte) bool) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.readers.Add(1)
	f.mu.Unlock()
	defer f.readers.Done()

	for frame := range f.source.Frames(f.ctx) {
		if !yield(frame) {
			return
		}
	}
}

// stop must be called after ctx is done.
func (f *frameFeed) stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	f.readers.Wait()
}

// Cancel abandons the recognition call and waits for Next to return, by
// which time the recognizer no longer reads captured frames. It is
// safe to call at any time and more than once, but not from onInterim.
func (s *recognitionSession) Cancel() {
	s.cancel()

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}
