package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/koscakluka/lito/core/audio"
	"github.com/koscakluka/lito/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const DefaultLanguage = "cmn-Hans-CN"

type openStreamFunc func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error)

// Recognizer streams microphone audio to Google Cloud Speech-to-Text.
// Every call to Recognize opens a new streaming request.
type Recognizer struct {
	client     *speech.Client
	openStream openStreamFunc

	language    string
	punctuation bool
}

type RecognizerOption func(*recognizerOptions)

type recognizerOptions struct {
	credentialsFile string
	language        string
	punctuation     bool
}

// WithCredentialsFile points the client at a service account key instead of
// application default credentials.
func WithCredentialsFile(path string) RecognizerOption {
	return func(o *recognizerOptions) {
		o.credentialsFile = path
	}
}

func WithDefaultLanguage(language string) RecognizerOption {
	return func(o *recognizerOptions) {
		o.language = language
	}
}

func WithAutomaticPunctuation(enabled bool) RecognizerOption {
	return func(o *recognizerOptions) {
		o.punctuation = enabled
	}
}

func NewRecognizer(ctx context.Context, opts ...RecognizerOption) (*Recognizer, error) {
	options := recognizerOptions{language: DefaultLanguage}
	for _, opt := range opts {
		opt(&options)
	}

	var clientOpts []option.ClientOption
	if options.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(options.credentialsFile))
	}

	client, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	return &Recognizer{
		client: client,
		openStream: func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
			return client.StreamingRecognize(ctx)
		},
		language:    options.language,
		punctuation: options.punctuation,
	}, nil
}

func (r *Recognizer) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Recognize sends frames to a new streaming request and yields interim and
// final results as they arrive. The sequence ends when the caller stops
// iterating, ctx is cancelled or the server closes the stream. Cancellation
// is not reported as an error.
func (r *Recognizer) Recognize(ctx context.Context, frames iter.Seq[[]byte], opts ...speechtotext.RecognitionOption) iter.Seq2[speechtotext.Result, error] {
	options := speechtotext.NewRecognitionOptions(opts...)
	if options.Language == "" {
		options.Language = r.language
	}

	return func(yield func(speechtotext.Result, error) bool) {
		ctx, span := tracer.Start(ctx, "recognize speech", trace.WithAttributes(
			attribute.String("recognition.language", options.Language),
			attribute.Int("recognition.sample_rate", options.EncodingInfo.SampleRate),
		))
		defer span.End()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(speechtotext.Result{}, err)
		}

		encoding, err := convertEncoding(options.EncodingInfo)
		if err != nil {
			fail(fmt.Errorf("invalid encoding: %w", err))
			return
		}

		stream, err := r.openStream(ctx)
		if err != nil {
			fail(fmt.Errorf("failed to open recognition stream: %w", err))
			return
		}

		if err := stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
				StreamingConfig: &speechpb.StreamingRecognitionConfig{
					Config: &speechpb.RecognitionConfig{
						Encoding:                   encoding,
						SampleRateHertz:            int32(options.EncodingInfo.SampleRate),
						AudioChannelCount:          1,
						LanguageCode:               options.Language,
						EnableAutomaticPunctuation: r.punctuation,
					},
					InterimResults: options.InterimResults,
				},
			},
		}); err != nil {
			fail(fmt.Errorf("failed to send recognition config: %w", err))
			return
		}

		go func() {
			for frame := range frames {
				if ctx.Err() != nil {
					return
				}
				if err := stream.Send(&speechpb.StreamingRecognizeRequest{
					StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: frame},
				}); err != nil {
					// The receive side reports the actual failure.
					if !errors.Is(err, io.EOF) {
						logger.DebugContext(ctx, "failed to send audio frame", "error", err)
					}
					return
				}
			}
			if err := stream.CloseSend(); err != nil {
				logger.DebugContext(ctx, "failed to close recognition stream", "error", err)
			}
		}()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == grpccodes.Canceled {
					return
				}
				fail(fmt.Errorf("failed to receive recognition response: %w", err))
				return
			}

			for _, result := range resp.GetResults() {
				alternatives := result.GetAlternatives()
				if len(alternatives) == 0 {
					continue
				}
				transcript := strings.TrimSpace(alternatives[0].GetTranscript())
				if transcript == "" && !result.GetIsFinal() {
					continue
				}
				if !yield(speechtotext.Result{Transcript: transcript, IsFinal: result.GetIsFinal()}, nil) {
					return
				}
			}
		}
	}
}

var supportedSampleRates = []int{8000, 11025, 16000, 22050, 24000, 32000, 44100, 48000}

func convertEncoding(encoding audio.EncodingInfo) (speechpb.RecognitionConfig_AudioEncoding, error) {
	if err := encoding.CheckSampleRate(supportedSampleRates...); err != nil {
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, err
	}

	switch encoding.Format {
	case audio.EncodingLinear16:
		return speechpb.RecognitionConfig_LINEAR16, nil
	case audio.EncodingMulaw:
		return speechpb.RecognitionConfig_MULAW, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("%w: format %q", audio.ErrUnsupportedEncoding, encoding.Format.Name())
	}
}
