package orchestration

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/koscakluka/lito/core/audio"
)

// captureSource turns device callbacks into an unbounded queue of fixed size
// frames. Frames are consumed by at most one recognition session at a time,
// each session continuing where the previous one stopped.
type captureSource struct {
	input         AudioInput
	frameDuration time.Duration
	frameSize     int

	mu           sync.Mutex
	pending      []byte
	frames       [][]byte
	opened       bool
	closed       bool
	updateSignal chan struct{}
	closedSignal chan struct{}
}

func newCaptureSource(input AudioInput, frameDuration time.Duration) *captureSource {
	if frameDuration <= 0 {
		frameDuration = audio.DefaultFrameDuration
	}
	return &captureSource{
		input:         input,
		frameDuration: frameDuration,
		updateSignal:  make(chan struct{}, 1),
		closedSignal:  make(chan struct{}),
	}
}

func (s *captureSource) EncodingInfo() audio.EncodingInfo {
	return s.input.EncodingInfo()
}

// Open starts the device. Opening an already open source is a no-op.
func (s *captureSource) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: capture source closed", ErrCaptureFailure)
	}
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.frameSize = s.input.EncodingInfo().ChunkSize(s.frameDuration)
	if s.frameSize <= 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: invalid capture encoding", ErrCaptureFailure)
	}
	s.opened = true
	s.mu.Unlock()

	if err := s.input.StartCapture(ctx, s.push); err != nil {
		s.mu.Lock()
		s.opened = false
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrCaptureFailure, err)
	}
	return nil
}

func (s *captureSource) push(data []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.pending = append(s.pending, data...)
	added := false
	for len(s.pending) >= s.frameSize {
		frame := make([]byte, s.frameSize)
		copy(frame, s.pending)
		s.frames = append(s.frames, frame)
		s.pending = s.pending[s.frameSize:]
		added = true
	}
	if len(s.pending) == 0 {
		s.pending = nil
	}
	s.mu.Unlock()

	if added {
		s.signalUpdate()
	}
}

// Frames yields queued frames in capture order, blocking while the queue is
// empty. The sequence ends when ctx is done or the source is closed. Once ctx
// is done no further frame is taken from the queue.
func (s *captureSource) Frames(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			s.mu.Lock()
			if s.closed || ctx.Err() != nil {
				s.mu.Unlock()
				return
			}
			if len(s.frames) > 0 {
				frame := s.frames[0]
				s.frames[0] = nil
				s.frames = s.frames[1:]
				s.mu.Unlock()
				if !yield(frame) {
					return
				}
				continue
			}
			s.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-s.closedSignal:
				return
			case <-s.updateSignal:
			}
		}
	}
}

// IsClosed reports whether Close has been called.
func (s *captureSource) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the device and releases every blocked consumer. It is safe to
// call while a consumer is iterating and more than once.
func (s *captureSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	opened := s.opened
	s.frames = nil
	s.pending = nil
	close(s.closedSignal)
	s.mu.Unlock()

	if !opened {
		return nil
	}
	if err := s.input.StopCapture(); err != nil {
		return fmt.Errorf("%w: failed to stop capture: %w", ErrCaptureFailure, err)
	}
	return nil
}

func (s *captureSource) signalUpdate() {
	select {
	case s.updateSignal <- struct{}{}:
	default:
	}
}
