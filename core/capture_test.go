package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCaptureSourceRechunksIntoFrames(t *testing.T) {
	input := &stubAudioInput{}
	source := newCaptureSource(input, 100*time.Millisecond)
	if err := source.Open(context.Background()); err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer source.Close()

	frameSize := testEncodingInfo.ChunkSize(100 * time.Millisecond)
	input.feed(make([]byte, frameSize+frameSize/2))
	input.feed(make([]byte, frameSize/2+10))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sizes []int
	for frame := range source.Frames(ctx) {
		sizes = append(sizes, len(frame))
		if len(sizes) == 2 {
			cancel()
		}
	}

	if len(sizes) != 2 || sizes[0] != frameSize || sizes[1] != frameSize {
		t.Fatalf("expected two frames of %d bytes, got %v", frameSize, sizes)
	}
}

func TestCaptureSourceConsumersContinueWhereThePreviousStopped(t *testing.T) {
	input := &stubAudioInput{}
	source := newCaptureSource(input, 100*time.Millisecond)
	if err := source.Open(context.Background()); err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer source.Close()

	frameSize := testEncodingInfo.ChunkSize(100 * time.Millisecond)
	first := make([]byte, frameSize)
	second := make([]byte, frameSize)
	second[0] = 1
	input.feed(first)
	input.feed(second)

	for frame := range source.Frames(context.Background()) {
		if frame[0] != 0 {
			t.Fatalf("expected first frame first")
		}
		break
	}
	for frame := range source.Frames(context.Background()) {
		if frame[0] != 1 {
			t.Fatalf("expected second consumer to receive the second frame")
		}
		break
	}
}

func TestCaptureSourceCloseReleasesBlockedConsumer(t *testing.T) {
	input := &stubAudioInput{}
	source := newCaptureSource(input, 100*time.Millisecond)
	if err := source.Open(context.Background()); err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range source.Frames(context.Background()) {
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if err := source.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("consumer still blocked after Close")
	}

	if err := source.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
	if _, stops := input.counts(); stops != 1 {
		t.Fatalf("expected capture to be stopped once, got %d", stops)
	}
	if !source.IsClosed() {
		t.Fatalf("expected source to report closed")
	}
}

func TestCaptureSourceOpenFailure(t *testing.T) {
	input := &stubAudioInput{startErr: errors.New("no microphone")}
	source := newCaptureSource(input, 100*time.Millisecond)

	err := source.Open(context.Background())
	if !errors.Is(err, ErrCaptureFailure) {
		t.Fatalf("expected capture failure, got %v", err)
	}

	if err := source.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if _, stops := input.counts(); stops != 0 {
		t.Fatalf("device that never started should not be stopped, got %d stops", stops)
	}
	if err := source.Open(context.Background()); !errors.Is(err, ErrCaptureFailure) {
		t.Fatalf("expected closed source to refuse opening, got %v", err)
	}
}

func TestCaptureSourceDropsAudioAfterClose(t *testing.T) {
	input := &stubAudioInput{}
	source := newCaptureSource(input, 100*time.Millisecond)
	if err := source.Open(context.Background()); err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	onAudio := input.onAudio

	source.Close()
	onAudio(make([]byte, testEncodingInfo.ChunkSize(time.Second)))

	for range source.Frames(context.Background()) {
		t.Fatalf("closed source yielded a frame")
	}
}

func TestCaptureSourceCancelledConsumerLeavesFramesQueued(t *testing.T) {
	input := &stubAudioInput{}
	source := newCaptureSource(input, 100*time.Millisecond)
	if err := source.Open(context.Background()); err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer source.Close()

	frameSize := testEncodingInfo.ChunkSize(100 * time.Millisecond)
	input.feed(make([]byte, frameSize))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for range source.Frames(cancelled) {
		t.Fatalf("expected a cancelled consumer to receive no frames")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	received := 0
	for range source.Frames(ctx) {
		received++
		stop()
	}
	if received != 1 {
		t.Fatalf("expected the next consumer to receive the queued frame, got %d", received)
	}
}
