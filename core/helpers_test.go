package orchestration

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/lito/core/audio"
	"github.com/koscakluka/lito/core/llms"
	"github.com/koscakluka/lito/core/speechtotext"
	"github.com/koscakluka/lito/core/texttospeech"
)

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}

// eventLog records collaborator calls across goroutines so tests can assert
// on their order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

func (l *eventLog) index(event string) int {
	return slices.Index(l.snapshot(), event)
}

func (l *eventLog) contains(event string) bool {
	return l.index(event) >= 0
}

var testEncodingInfo = audio.EncodingInfo{
	SampleRate: 16000,
	Format:     audio.EncodingLinear16,
	Channels:   1,
}

type stubAudioInput struct {
	startErr error
	// failingStarts fails that many StartCapture calls before succeeding.
	failingStarts int

	mu      sync.Mutex
	onAudio func([]byte)
	starts  int
	stops   int
}

func (input *stubAudioInput) EncodingInfo() audio.EncodingInfo { return testEncodingInfo }

func (input *stubAudioInput) StartCapture(_ context.Context, onAudio func([]byte)) error {
	input.mu.Lock()
	defer input.mu.Unlock()
	input.starts++
	if input.startErr != nil {
		return input.startErr
	}
	if input.failingStarts > 0 {
		input.failingStarts--
		return errors.New("device busy")
	}
	input.onAudio = onAudio
	return nil
}

func (input *stubAudioInput) StopCapture() error {
	input.mu.Lock()
	defer input.mu.Unlock()
	input.stops++
	input.onAudio = nil
	return nil
}

func (input *stubAudioInput) feed(data []byte) {
	input.mu.Lock()
	onAudio := input.onAudio
	input.mu.Unlock()
	if onAudio != nil {
		onAudio(data)
	}
}

func (input *stubAudioInput) counts() (starts, stops int) {
	input.mu.Lock()
	defer input.mu.Unlock()
	return input.starts, input.stops
}

// recognitionScript describes one Recognize call. Without err or end the
// stream stays open until cancelled.
type recognitionScript struct {
	results []speechtotext.Result
	err     error
	end     bool
}

type stubRecognizer struct {
	mu      sync.Mutex
	scripts []recognitionScript
	calls   int
	options []speechtotext.RecognitionOptions
}

func (r *stubRecognizer) Recognize(ctx context.Context, _ iter.Seq[[]byte], opts ...speechtotext.RecognitionOption) iter.Seq2[speechtotext.Result, error] {
	r.mu.Lock()
	script := recognitionScript{}
	if r.calls < len(r.scripts) {
		script = r.scripts[r.calls]
	}
	r.calls++
	r.options = append(r.options, speechtotext.NewRecognitionOptions(opts...))
	r.mu.Unlock()

	return func(yield func(speechtotext.Result, error) bool) {
		for _, result := range script.results {
			if !yield(result, nil) {
				return
			}
		}
		if script.err != nil {
			yield(speechtotext.Result{}, script.err)
			return
		}
		if script.end {
			return
		}
		<-ctx.Done()
	}
}

func (r *stubRecognizer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// assistantReply scripts the deltas streamed for one prompt. A held reply
// stays open after its deltas until cancelled.
type assistantReply struct {
	deltas []string
	err    error
	hold   bool
}

type stubAssistant struct {
	log     *eventLog
	replies map[string]assistantReply

	mu           sync.Mutex
	prompts      []string
	threadIDs    []string
	instructions []string
}

func (a *stubAssistant) StreamReply(ctx context.Context, threadID, prompt string, opts ...llms.PromptOption) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		a.mu.Lock()
		a.prompts = append(a.prompts, prompt)
		a.threadIDs = append(a.threadIDs, threadID)
		a.instructions = append(a.instructions, llms.NewPromptOptions("", opts...).Instructions)
		reply := a.replies[prompt]
		a.mu.Unlock()

		a.log.add("synthesis-started: " + prompt)
		for _, delta := range reply.deltas {
			if !yield(delta, nil) {
				return
			}
		}
		if reply.err != nil {
			yield("", reply.err)
			return
		}
		if reply.hold {
			<-ctx.Done()
			a.log.add("synthesis-cancelled: " + prompt)
			yield("", ctx.Err())
		}
	}
}

func (a *stubAssistant) promptCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.prompts)
}

type threadCreatingAssistant struct {
	*stubAssistant

	mu       sync.Mutex
	failures int
	created  int
}

func (a *threadCreatingAssistant) CreateThread(context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failures > 0 {
		a.failures--
		return "", errors.New("thread service unavailable")
	}
	a.created++
	return "thread-1", nil
}

// stubSynthesizer encodes text as headerless PCM, one sample per byte, so
// the output stub can recover what was spoken.
type stubSynthesizer struct {
	log      *eventLog
	failures map[string]error
	silent   map[string]bool

	mu     sync.Mutex
	texts  []string
	voices []string
}

func (s *stubSynthesizer) Container() audio.Container { return audio.ContainerNone }

func (s *stubSynthesizer) Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		options := texttospeech.NewSynthesisOptions(opts...)
		s.mu.Lock()
		s.texts = append(s.texts, text)
		s.voices = append(s.voices, options.Voice)
		s.mu.Unlock()
		s.log.add("tts: " + text)

		if err := s.failures[text]; err != nil {
			yield(nil, err)
			return
		}
		if s.silent[text] {
			return
		}
		if ctx.Err() != nil {
			yield(nil, ctx.Err())
			return
		}
		yield(encodeText(text), nil)
	}
}

func (s *stubSynthesizer) synthesizedVoices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.voices)
}

func encodeText(text string) []byte {
	pcm := make([]byte, 0, len(text)*2)
	for i := 0; i < len(text); i++ {
		pcm = append(pcm, text[i], 0)
	}
	return pcm
}

func decodeText(pcm []byte) string {
	text := make([]byte, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		text = append(text, pcm[i])
	}
	return string(text)
}

// stubAudioOutput records played clips. Texts in holds play until
// cancelled, texts in failures return their error.
type stubAudioOutput struct {
	log      *eventLog
	holds    map[string]bool
	failures map[string]error

	mu            sync.Mutex
	played        []string
	playing       int
	maxConcurrent int
	stops         int
}

func (o *stubAudioOutput) EncodingInfo() audio.EncodingInfo { return testEncodingInfo }

func (o *stubAudioOutput) Play(ctx context.Context, pcm []byte) error {
	text := decodeText(pcm)

	o.mu.Lock()
	o.playing++
	o.maxConcurrent = max(o.maxConcurrent, o.playing)
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.playing--
		o.mu.Unlock()
	}()

	o.log.add("playback-started: " + text)
	if err := o.failures[text]; err != nil {
		return err
	}
	if o.holds[text] {
		<-ctx.Done()
		o.log.add("playback-cancelled: " + text)
		return ctx.Err()
	}

	o.mu.Lock()
	o.played = append(o.played, text)
	o.mu.Unlock()
	return nil
}

func (o *stubAudioOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stops++
	return nil
}

func (o *stubAudioOutput) IsPlaying() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.playing > 0
}

func (o *stubAudioOutput) playedTexts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.played)
}

func (o *stubAudioOutput) maxConcurrentPlays() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxConcurrent
}
