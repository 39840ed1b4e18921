package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/lito/core/audio"
	"github.com/koscakluka/lito/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	closeMsg = websocketMessage{Type: "Close"}
)

// Synthesize speaks text, flushes it and yields audio chunks until Deepgram
// confirms the flush. Voice overrides are honoured only for Deepgram voice
// names.
func (c *TextToSpeechClient) Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) iter.Seq2[[]byte, error] {
	options := texttospeech.NewSynthesisOptions(opts...)
	voice := c.voice
	if options.Voice != "" {
		voice = deepgramVoice(options.Voice)
	}

	return func(yield func([]byte, error) bool) {
		ctx, span := tracer.Start(ctx, "synthesize speech", trace.WithAttributes(
			attribute.String("tts.voice", string(voice)),
			attribute.Int("tts.text_length", len(text)),
		))
		defer span.End()

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}

		conn, err := c.connectWebsocket(ctx, voice, options.EncodingInfo)
		if err != nil {
			if ctx.Err() == nil {
				fail(fmt.Errorf("failed to open websocket: %w", err))
			}
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		if err := conn.WriteJSON(speakMessage{Type: "Speak", Text: text}); err != nil {
			if ctx.Err() == nil {
				fail(fmt.Errorf("failed to send text: %w", err))
			}
			return
		}
		if err := conn.WriteJSON(flushMsg); err != nil {
			if ctx.Err() == nil {
				fail(fmt.Errorf("failed to flush text: %w", err))
			}
			return
		}

		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				fail(fmt.Errorf("websocket read error: %w", err))
				return
			}

			switch msgType {
			case websocket.BinaryMessage:
				if len(msg) == 0 {
					continue
				}
				if !yield(msg, nil) {
					return
				}

			case websocket.TextMessage:
				var parsedMsg websocketMessage
				if err := json.Unmarshal(msg, &parsedMsg); err != nil {
					logger.WarnContext(ctx, "failed to unmarshal deepgram message", "error", err)
					continue
				}

				switch parsedMsg.Type {
				case "Flushed":
					if err := conn.WriteJSON(closeMsg); err != nil {
						logger.DebugContext(ctx, "failed to close deepgram stream", "error", err)
					}
					return
				case "Warning", "Error":
					logger.WarnContext(ctx, "deepgram reported a problem", "message", string(msg))
				}
			}
		}
	}
}

func (c *TextToSpeechClient) connectWebsocket(ctx context.Context, voice deepgramVoice, encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	speakUrl, err := url.Parse(c.speakURL)
	if err != nil {
		return nil, fmt.Errorf("invalid speak url: %w", err)
	}

	urlValues := speakUrl.Query()
	urlValues.Set("encoding", encodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	urlValues.Set("model", string(voice))
	urlValues.Set("container", "none")
	speakUrl.RawQuery = urlValues.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, speakUrl.String(),
		http.Header{"Authorization": {"token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}
