package orchestration

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/lito/core/speechtotext"
)

type orchestratorFixture struct {
	input     *stubAudioInput
	assistant *stubAssistant
	output    *stubAudioOutput
	log       *eventLog
	ended     chan TurnRecord
	cancelled chan TurnRecord
	errs      chan error

	mu       sync.Mutex
	heard    []string
	interims []string
}

func (f *orchestratorFixture) transcripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.heard)
}

func (f *orchestratorFixture) interimTranscripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.interims)
}

func newOrchestratorFixture(t *testing.T, recognizer SpeechRecognizer, opts ...OrchestratorOption) (*orchestratorFixture, *Orchestrator) {
	t.Helper()

	log := &eventLog{}
	f := &orchestratorFixture{
		input:     &stubAudioInput{},
		assistant: &stubAssistant{log: log, replies: map[string]assistantReply{}},
		output:    &stubAudioOutput{log: log},
		log:       log,
		ended:     make(chan TurnRecord, 16),
		cancelled: make(chan TurnRecord, 16),
		errs:      make(chan error, 16),
	}

	options := append([]OrchestratorOption{
		WithAudioInput(f.input),
		WithSpeechRecognizer(recognizer),
		WithAssistant(f.assistant),
		WithSpeechSynthesizer(&stubSynthesizer{log: log}),
		WithAudioOutput(f.output),
		WithThreadID("thread-1"),
		WithTempDir(t.TempDir()),
		WithRestartDelay(10 * time.Millisecond),
		WithRecognitionLanguage("en-US"),
		WithTranscriptionCallback(func(utterance Utterance) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.heard = append(f.heard, utterance.Text)
		}),
		WithInterimTranscriptionCallback(func(transcript string) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.interims = append(f.interims, transcript)
		}),
		WithResponseEndCallback(func(record TurnRecord) { f.ended <- record }),
		WithCancellationCallback(func(record TurnRecord) { f.cancelled <- record }),
		WithErrorCallback(func(err error) { f.errs <- err }),
	}, opts...)

	orchestrator, err := NewOrchestrator(options...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(orchestrator.Close)
	return f, orchestrator
}

func startOrchestrator(t *testing.T, orchestrator *Orchestrator) (cancel func() error) {
	t.Helper()

	ctx, stop := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- orchestrator.Orchestrate(ctx) }()

	return func() error {
		stop()
		select {
		case err := <-result:
			return err
		case <-time.After(2 * time.Second):
			t.Fatalf("Orchestrate did not return after cancellation")
			return nil
		}
	}
}

func TestOrchestratorListensAndResponds(t *testing.T) {
	recognizer := &stubRecognizer{scripts: []recognitionScript{{results: []speechtotext.Result{
		{Transcript: "What's your"},
		{Transcript: "What's your favorite color?", IsFinal: true},
	}}}}
	f, orchestrator := newOrchestratorFixture(t, recognizer)
	f.assistant.replies["What's your favorite color?"] = assistantReply{deltas: []string{"I like blue! What ab", "out you?"}}

	stop := startOrchestrator(t, orchestrator)
	record := awaitRecord(t, f.ended, "response end")

	if played := f.output.playedTexts(); !slices.Equal(played, []string{"I like blue!", " What about you?"}) {
		t.Fatalf("unexpected played fragments %q", played)
	}
	if record.Utterance != "What's your favorite color?" {
		t.Fatalf("unexpected record %+v", record)
	}
	if heard := f.transcripts(); !slices.Equal(heard, []string{"What's your favorite color?"}) {
		t.Fatalf("unexpected transcripts %q", heard)
	}
	if interims := f.interimTranscripts(); !slices.Equal(interims, []string{"What's your"}) {
		t.Fatalf("unexpected interim transcripts %q", interims)
	}
	waitForCondition(t, time.Second, "listening to resume", func() bool {
		return recognizer.callCount() >= 2 && orchestrator.State() == StateListening
	})

	recognizer.mu.Lock()
	options := recognizer.options[0]
	recognizer.mu.Unlock()
	if options.Language != "en-US" || !options.InterimResults || options.EncodingInfo != testEncodingInfo {
		t.Fatalf("unexpected recognition options %+v", options)
	}

	if err := stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if starts, stops := f.input.counts(); starts != 1 || stops != 1 {
		t.Fatalf("expected one capture session, got %d starts and %d stops", starts, stops)
	}
	if orchestrator.State() != StateIdle {
		t.Fatalf("expected idle state after shutdown, got %s", orchestrator.State())
	}
}

func TestOrchestratorBargeInPreemptsActiveTurn(t *testing.T) {
	recognizer := newChannelRecognizer()
	f, orchestrator := newOrchestratorFixture(t, recognizer)
	f.assistant.replies["tell me a story"] = assistantReply{deltas: []string{"Once upon a time. There"}, hold: true}
	f.assistant.replies["stop"] = assistantReply{deltas: []string{"Okay."}}
	f.output.holds = map[string]bool{"Once upon a time.": true}

	stop := startOrchestrator(t, orchestrator)
	defer stop()

	recognizer.say("tell me a story")
	waitForCondition(t, time.Second, "story to start playing", func() bool {
		return f.log.contains("playback-started: Once upon a time.")
	})
	if !orchestrator.IsSpeaking() {
		t.Fatalf("expected orchestrator to be speaking")
	}

	recognizer.say("stop")
	cancelled := awaitRecord(t, f.cancelled, "cancellation")
	if cancelled.Utterance != "tell me a story" {
		t.Fatalf("unexpected cancelled turn %+v", cancelled)
	}
	awaitRecord(t, f.ended, "response end")

	if f.log.index("synthesis-cancelled: tell me a story") > f.log.index("synthesis-started: stop") {
		t.Fatalf("new synthesis started before the old one stopped: %v", f.log.snapshot())
	}
	if played := f.output.playedTexts(); !slices.Equal(played, []string{"Okay."}) {
		t.Fatalf("unexpected played fragments %q", played)
	}
	if f.output.maxConcurrentPlays() != 1 {
		t.Fatalf("playback overlapped")
	}
}

func TestOrchestratorRestartsAfterRecognitionFailure(t *testing.T) {
	recognizer := &stubRecognizer{scripts: []recognitionScript{
		{err: errors.New("stream reset")},
		{end: true},
		{results: []speechtotext.Result{{Transcript: "hello", IsFinal: true}}},
	}}
	f, orchestrator := newOrchestratorFixture(t, recognizer)
	f.assistant.replies["hello"] = assistantReply{deltas: []string{"Hi!"}}

	stop := startOrchestrator(t, orchestrator)
	defer stop()

	if err := awaitError(t, f.errs); !errors.Is(err, ErrRecognitionFailure) {
		t.Fatalf("expected recognition failure, got %v", err)
	}
	awaitRecord(t, f.ended, "response end")

	select {
	case err := <-f.errs:
		t.Fatalf("a benign stream end should not be reported, got %v", err)
	default:
	}
	if starts, _ := f.input.counts(); starts != 1 {
		t.Fatalf("recognition failures should keep the capture session, got %d starts", starts)
	}
}

func TestOrchestratorReacquiresCaptureAfterFailure(t *testing.T) {
	recognizer := &stubRecognizer{scripts: []recognitionScript{
		{results: []speechtotext.Result{{Transcript: "are you there", IsFinal: true}}},
	}}
	f, orchestrator := newOrchestratorFixture(t, recognizer)
	f.input.failingStarts = 1
	f.assistant.replies["are you there"] = assistantReply{deltas: []string{"Yes."}}

	stop := startOrchestrator(t, orchestrator)
	defer stop()

	if err := awaitError(t, f.errs); !errors.Is(err, ErrCaptureFailure) {
		t.Fatalf("expected capture failure, got %v", err)
	}
	awaitRecord(t, f.ended, "response end")

	if starts, _ := f.input.counts(); starts != 2 {
		t.Fatalf("expected the device to be reacquired once, got %d starts", starts)
	}
}

func TestOrchestratorSendPromptAndCancelTurn(t *testing.T) {
	f, orchestrator := newOrchestratorFixture(t, &stubRecognizer{})
	f.assistant.replies["typed"] = assistantReply{deltas: []string{"Typed reply."}, hold: true}
	f.output.holds = map[string]bool{"Typed reply.": true}

	if err := orchestrator.SendPrompt("typed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForCondition(t, time.Second, "typed reply to play", func() bool {
		return f.log.contains("playback-started: Typed reply.")
	})

	orchestrator.CancelTurn()
	if record := awaitRecord(t, f.cancelled, "cancellation"); record.Utterance != "typed" {
		t.Fatalf("unexpected cancelled turn %+v", record)
	}

	history := orchestrator.History()
	if len(history) != 1 || history[0].Status != TurnPreempted {
		t.Fatalf("unexpected history %+v", history)
	}
	if heard := f.transcripts(); len(heard) != 0 {
		t.Fatalf("typed prompts are not transcriptions, got %q", heard)
	}
}

func TestOrchestratorLifecycle(t *testing.T) {
	_, orchestrator := newOrchestratorFixture(t, &stubRecognizer{})

	stop := startOrchestrator(t, orchestrator)
	waitForCondition(t, time.Second, "listening state", func() bool {
		return orchestrator.State() == StateListening
	})
	if err := orchestrator.Orchestrate(context.Background()); !errors.Is(err, errAlreadyStarted) {
		t.Fatalf("expected second Orchestrate to be rejected, got %v", err)
	}

	orchestrator.Close()
	if err := stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := orchestrator.SendPrompt("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed orchestrator to reject prompts, got %v", err)
	}

	_, closed := newOrchestratorFixture(t, &stubRecognizer{})
	closed.Close()
	if err := closed.Orchestrate(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed orchestrator to refuse to start, got %v", err)
	}
}

func TestNewOrchestratorRequiresCollaborators(t *testing.T) {
	if _, err := NewOrchestrator(); err == nil {
		t.Fatalf("expected missing collaborators to be rejected")
	}
	if _, err := NewOrchestrator(
		WithAssistant(&stubAssistant{}),
		WithSpeechSynthesizer(&stubSynthesizer{}),
		WithAudioOutput(&stubAudioOutput{}),
	); err == nil {
		t.Fatalf("expected missing audio input and recognizer to be rejected")
	}
}

// channelRecognizer finalizes one utterance per say call.
type channelRecognizer struct {
	utterances chan string
}

func newChannelRecognizer() *channelRecognizer {
	return &channelRecognizer{utterances: make(chan string)}
}

func (r *channelRecognizer) say(text string) {
	select {
	case r.utterances <- text:
	case <-time.After(2 * time.Second):
		panic("recognizer is not listening")
	}
}

func (r *channelRecognizer) Recognize(ctx context.Context, _ iter.Seq[[]byte], _ ...speechtotext.RecognitionOption) iter.Seq2[speechtotext.Result, error] {
	return func(yield func(speechtotext.Result, error) bool) {
		select {
		case <-ctx.Done():
		case text := <-r.utterances:
			yield(speechtotext.Result{Transcript: text, IsFinal: true}, nil)
		}
	}
}
