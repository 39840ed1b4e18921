package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/lito/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Recognize streams frames to a new listen socket and yields results. Final
// segments are accumulated until Deepgram marks the end of speech, so a
// final result always carries the whole utterance.
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

		conn, err := r.connectWebsocket(ctx, connectionOptions{
			sampleRate:     encoding.sampleRate,
			encoding:       encoding.name,
			language:       options.Language,
			interimResults: options.InterimResults,
		})
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

		var writeMu sync.Mutex
		go func() {
			for frame := range frames {
				if ctx.Err() != nil {
					return
				}
				writeMu.Lock()
				err := conn.WriteMessage(websocket.BinaryMessage, frame)
				writeMu.Unlock()
				if err != nil {
					return
				}
			}

			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.WriteJSON(controlMessage{Type: string(api.TypeCloseStreamResponse)}); err != nil {
				logger.DebugContext(ctx, "failed to close deepgram stream", "error", err)
			}
		}()

		var state transcriptState
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return
				}
				fail(fmt.Errorf("failed to read deepgram websocket message: %w", err))
				return
			}
			if msgType == websocket.BinaryMessage {
				continue
			}

			result, ok, err := state.processMessage(msg)
			if err != nil {
				logger.WarnContext(ctx, "failed to process deepgram message", "error", err)
				continue
			}
			if ok && !yield(result, nil) {
				return
			}
		}
	}
}

type controlMessage struct {
	Type string `json:"type"`
}

type connectionOptions struct {
	sampleRate     int
	encoding       string
	language       string
	interimResults bool
}

func (r *Recognizer) connectWebsocket(ctx context.Context, options connectionOptions) (*websocket.Conn, error) {
	listenUrl, err := url.Parse(r.listenURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listen url: %w", err)
	}
	queryParams := listenUrl.Query()
	queryParams.Set("encoding", options.encoding)
	queryParams.Set("sample_rate", strconv.Itoa(options.sampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", r.model)
	queryParams.Set("language", options.language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	queryParams.Set("vad_events", "true")

	listenUrl.RawQuery = queryParams.Encode()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, listenUrl.String(),
		http.Header{"Authorization": {"Token " + r.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

// transcriptState accumulates finalized segments of the current utterance.
type transcriptState struct {
	accumulated    []string
	unendedSegment bool
}

func (s *transcriptState) processMessage(msg []byte) (speechtotext.Result, bool, error) {
	var parsedMsg controlMessage
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		return speechtotext.Result{}, false, fmt.Errorf("failed to unmarshal deepgram message: %w", err)
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			return speechtotext.Result{}, false, fmt.Errorf("failed to unmarshal deepgram transcript: %w", err)
		}

		transcript := ""
		if len(msgResp.Channel.Alternatives) > 0 {
			transcript = strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		}

		if !msgResp.IsFinal {
			if transcript == "" {
				return speechtotext.Result{}, false, nil
			}
			s.unendedSegment = true
			return speechtotext.Result{Transcript: s.join(transcript)}, true, nil
		}

		if transcript != "" {
			s.accumulated = append(s.accumulated, transcript)
			s.unendedSegment = true
		}
		if msgResp.SpeechFinal {
			return s.endUtterance()
		}
		if transcript != "" {
			return speechtotext.Result{Transcript: s.join("")}, true, nil
		}
		return speechtotext.Result{}, false, nil

	case api.TypeUtteranceEndResponse:
		if s.unendedSegment {
			return s.endUtterance()
		}
		return speechtotext.Result{}, false, nil
	}

	return speechtotext.Result{}, false, nil
}

func (s *transcriptState) endUtterance() (speechtotext.Result, bool, error) {
	transcript := s.join("")
	s.accumulated = s.accumulated[:0]
	s.unendedSegment = false
	if transcript == "" {
		return speechtotext.Result{}, false, nil
	}
	return speechtotext.Result{Transcript: transcript, IsFinal: true}, true, nil
}

func (s *transcriptState) join(interim string) string {
	parts := s.accumulated
	if interim != "" {
		parts = append(parts[:len(parts):len(parts)], interim)
	}
	return strings.Join(parts, " ")
}
