package orchestration

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/koscakluka/lito/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const fragmentChannelCapacity = 16

// responseSynthesizer turns an utterance into a stream of response fragments
// by prompting the assistant on the shared conversation thread.
type responseSynthesizer struct {
	assistant    Assistant
	thread       *conversationThread
	instructions string
}

func newResponseSynthesizer(assistant Assistant, thread *conversationThread, instructions string) *responseSynthesizer {
	return &responseSynthesizer{
		assistant:    assistant,
		thread:       thread,
		instructions: instructions,
	}
}

// Start issues the assistant request in the background and returns
// immediately.
func (s *responseSynthesizer) Start(ctx context.Context, utterance Utterance) *synthesis {
	ctx, cancel := context.WithCancel(ctx)
	syn := &synthesis{
		fragments: make(chan ResponseFragment, fragmentChannelCapacity),
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	go func() {
		defer close(syn.done)
		defer close(syn.fragments)
		defer cancel()

		if err := s.run(ctx, utterance, syn); err != nil {
			syn.setErr(err)
		}
	}()

	return syn
}

func (s *responseSynthesizer) run(ctx context.Context, utterance Utterance, syn *synthesis) (err error) {
	ctx, span := tracer.Start(ctx, "generate response")
	defer span.End()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: response generation panicked: %v", ErrSynthesisRequestFailure, recovered)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	threadID, err := s.thread.ID(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrSynthesisRequestFailure, err)
	}
	span.SetAttributes(attribute.String("conversation.thread_id", threadID))

	var opts []llms.PromptOption
	if s.instructions != "" {
		opts = append(opts, llms.WithInstructions(s.instructions))
	}

	var segmenter sentenceSegmenter
	interimIndex, boundaryIndex := 0, 0
	emit := func(kind FragmentKind, text string) bool {
		fragment := ResponseFragment{Kind: kind, Text: text}
		if kind == FragmentBoundary {
			fragment.Index = boundaryIndex
			boundaryIndex++
		} else {
			fragment.Index = interimIndex
			interimIndex++
		}

		select {
		case syn.fragments <- fragment:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for delta, err := range s.assistant.StreamReply(ctx, threadID, utterance.Text, opts...) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// The unterminated remainder is dropped with the failed request.
			return fmt.Errorf("%w: %w", ErrSynthesisRequestFailure, err)
		}
		if ctx.Err() != nil {
			return nil
		}
		if delta == "" {
			continue
		}

		syn.appendReply(delta)
		if !emit(FragmentInterim, delta) {
			return nil
		}
		for _, sentence := range segmenter.Push(delta) {
			if !emit(FragmentBoundary, sentence) {
				return nil
			}
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	if remainder := segmenter.Flush(); remainder != "" {
		emit(FragmentBoundary, remainder)
	}
	span.SetAttributes(
		attribute.Int("response.length", len(syn.Reply())),
		attribute.Int("response.fragments", boundaryIndex),
	)
	return nil
}

// synthesis is one in-flight assistant request. Fragments is closed once the
// request has finished, failed or been cancelled.
type synthesis struct {
	fragments chan ResponseFragment
	done      chan struct{}
	cancel    context.CancelFunc

	mu    sync.Mutex
	reply strings.Builder
	err   error
}

func (s *synthesis) Fragments() <-chan ResponseFragment { return s.fragments }

func (s *synthesis) Done() <-chan struct{} { return s.done }

// Cancel abandons the request and waits until no further fragments can be
// delivered. Calling it on a finished synthesis is a no-op.
func (s *synthesis) Cancel() {
	s.cancel()
	<-s.done
}

// Err returns the terminal error of the request, if any. Cancellation is not
// an error.
func (s *synthesis) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Reply returns the reply text received so far.
func (s *synthesis) Reply() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reply.String()
}

func (s *synthesis) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *synthesis) appendReply(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply.WriteString(delta)
}
