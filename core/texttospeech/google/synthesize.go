package google

import (
	"context"
	"fmt"
	"iter"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/koscakluka/lito/core/audio"
	tts "github.com/koscakluka/lito/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
)

const (
	DefaultCJKVoice     = "cmn-CN-Wavenet-A"
	DefaultEnglishVoice = "en-GB-Neural2-A"

	chunkSize = 32 * 1024
)

type synthesizeFunc func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error)

// Synthesizer renders text with Google Cloud Text-to-Speech. Audio is
// requested as LINEAR16, which the service returns wrapped in a WAV header.
type Synthesizer struct {
	client     *texttospeech.Client
	synthesize synthesizeFunc
}

type SynthesizerOption func(*synthesizerOptions)

type synthesizerOptions struct {
	credentialsFile string
}

func WithCredentialsFile(path string) SynthesizerOption {
	return func(o *synthesizerOptions) {
		o.credentialsFile = path
	}
}

func NewSynthesizer(ctx context.Context, opts ...SynthesizerOption) (*Synthesizer, error) {
	options := synthesizerOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	var clientOpts []option.ClientOption
	if options.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(options.credentialsFile))
	}

	client, err := texttospeech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create text-to-speech client: %w", err)
	}

	return &Synthesizer{
		client: client,
		synthesize: func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
			return client.SynthesizeSpeech(ctx, req)
		},
	}, nil
}

func (s *Synthesizer) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Synthesizer) Container() audio.Container { return audio.ContainerWAV }

// Synthesize yields the synthesized clip in chunks. The whole clip is
// produced by a single request.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts ...tts.SynthesisOption) iter.Seq2[[]byte, error] {
	options := tts.NewSynthesisOptions(opts...)
	voice := options.Voice
	if voice == "" {
		voice = (tts.VoiceProfiles{CJK: DefaultCJKVoice, Default: DefaultEnglishVoice}).Select(text)
	}

	return func(yield func([]byte, error) bool) {
		ctx, span := tracer.Start(ctx, "synthesize speech", trace.WithAttributes(
			attribute.String("tts.voice", voice),
			attribute.Int("tts.text_length", len(text)),
		))
		defer span.End()

		resp, err := s.synthesize(ctx, &texttospeechpb.SynthesizeSpeechRequest{
			Input: &texttospeechpb.SynthesisInput{
				InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
			},
			Voice: &texttospeechpb.VoiceSelectionParams{
				LanguageCode: languageCode(voice),
				Name:         voice,
			},
			AudioConfig: &texttospeechpb.AudioConfig{
				AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
				SampleRateHertz: int32(options.EncodingInfo.SampleRate),
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			err = fmt.Errorf("failed to synthesize speech: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
			return
		}

		content := resp.GetAudioContent()
		span.SetAttributes(attribute.Int("tts.audio_bytes", len(content)))
		for offset := 0; offset < len(content); offset += chunkSize {
			if !yield(content[offset:min(offset+chunkSize, len(content))], nil) {
				return
			}
		}
	}
}

// languageCode derives the BCP-47 code from a voice name such as
// "cmn-CN-Wavenet-A".
func languageCode(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "-" + parts[1]
}
