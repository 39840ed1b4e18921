package orchestration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/koscakluka/lito/core/audio"
	"github.com/koscakluka/lito/core/audio/codec"
	"github.com/koscakluka/lito/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// playbackPipeline synthesizes one fragment at a time and plays it on the
// output device. A new Play cancels and waits for the previous one.
type playbackPipeline struct {
	synthesizer SpeechSynthesizer
	output      AudioOutput
	voices      texttospeech.VoiceProfiles
	tempDir     string

	mu      sync.Mutex
	current *playbackHandle
}

// playbackHandle is one in-flight Play call. done is closed after its
// temporary clip has been removed and the device released.
type playbackHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func newPlaybackPipeline(synthesizer SpeechSynthesizer, output AudioOutput, voices texttospeech.VoiceProfiles, tempDir string) *playbackPipeline {
	return &playbackPipeline{
		synthesizer: synthesizer,
		output:      output,
		voices:      voices,
		tempDir:     tempDir,
	}
}

// Play speaks text and blocks until it has been played. It returns the
// context error when cancelled, [ErrNoAudioProduced] when synthesis yields
// nothing playable and [ErrPlaybackFailure] for device errors.
func (p *playbackPipeline) Play(ctx context.Context, text string) error {
	ctx, cancel := context.WithCancel(ctx)
	handle := &playbackHandle{cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	if previous := p.current; previous != nil {
		previous.cancel()
		<-previous.done
	}
	p.current = handle
	p.mu.Unlock()

	defer func() {
		cancel()
		close(handle.done)

		p.mu.Lock()
		if p.current == handle {
			p.current = nil
		}
		p.mu.Unlock()
	}()

	return p.play(ctx, text)
}

func (p *playbackPipeline) play(ctx context.Context, text string) error {
	text = texttospeech.StripEmoji(text)
	voice := p.voices.Select(text)

	ctx, span := tracer.Start(ctx, "play fragment", trace.WithAttributes(
		attribute.String("playback.voice", voice),
		attribute.Int("playback.text_length", len(text)),
		attribute.Bool("playback.cjk", texttospeech.ContainsCJK(text)),
	))
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if strings.TrimSpace(text) == "" {
		return fail(fmt.Errorf("%w: nothing to speak", ErrNoAudioProduced))
	}

	pcm, err := p.synthesize(ctx, text, voice)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(attribute.Int64("playback.duration_ms", p.output.EncodingInfo().Duration(len(pcm)).Milliseconds()))

	if err := p.output.Play(ctx, pcm); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, audio.ErrPlaybackStopped) {
			return context.Canceled
		}
		return fail(fmt.Errorf("%w: %w", ErrPlaybackFailure, err))
	}

	return nil
}

// synthesize buffers the complete clip in a temporary file before decoding
// it, so a partial clip is never played.
func (p *playbackPipeline) synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	container := p.synthesizer.Container()
	clip, err := os.CreateTemp(p.tempDir, "lito-speech-*"+container.Extension())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create clip file: %w", ErrPlaybackFailure, err)
	}
	defer func() {
		clip.Close()
		if err := os.Remove(clip.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.WarnContext(ctx, "failed to remove clip file", "path", clip.Name(), "error", err)
		}
	}()

	opts := []texttospeech.SynthesisOption{texttospeech.WithEncodingInfo(p.output.EncodingInfo())}
	if voice != "" {
		opts = append(opts, texttospeech.WithVoice(voice))
	}

	written := 0
	for chunk, err := range p.synthesizer.Synthesize(ctx, text, opts...) {
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %w", ErrNoAudioProduced, err)
		}
		n, err := clip.Write(chunk)
		written += n
		if err != nil {
			return nil, fmt.Errorf("%w: failed to buffer clip: %w", ErrPlaybackFailure, err)
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if written == 0 {
		return nil, fmt.Errorf("%w: synthesizer returned an empty clip", ErrNoAudioProduced)
	}

	if _, err := clip.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: failed to rewind clip: %w", ErrPlaybackFailure, err)
	}
	pcm, err := codec.Decode(clip, container, p.output.EncodingInfo())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoAudioProduced, err)
	}

	return pcm, nil
}

// Cancel stops the in-flight Play, if any, and waits for it to release the
// device. Calling it while nothing is playing is a no-op.
func (p *playbackPipeline) Cancel() {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()

	if current != nil {
		current.cancel()
		<-current.done
	}
}

// IsPlaying reports whether a Play call is in flight.
func (p *playbackPipeline) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}
