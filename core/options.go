package orchestration

import (
	"context"
	"iter"
	"time"

	"github.com/koscakluka/lito/core/audio"
	"github.com/koscakluka/lito/core/llms"
	"github.com/koscakluka/lito/core/speechtotext"
	"github.com/koscakluka/lito/core/texttospeech"
)

const defaultRestartDelay = 500 * time.Millisecond

type AudioInput interface {
	EncodingInfo() audio.EncodingInfo
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

// AudioOutput plays decoded PCM. Play blocks until the audio has been played
// and returns early when ctx is done or Stop is called.
type AudioOutput interface {
	EncodingInfo() audio.EncodingInfo
	Play(ctx context.Context, pcm []byte) error
	Stop() error
	IsPlaying() bool
}

type SpeechRecognizer interface {
	Recognize(ctx context.Context, frames iter.Seq[[]byte], opts ...speechtotext.RecognitionOption) iter.Seq2[speechtotext.Result, error]
}

// Assistant streams the reply to prompt on a conversation thread.
type Assistant interface {
	StreamReply(ctx context.Context, threadID, prompt string, opts ...llms.PromptOption) iter.Seq2[string, error]
}

// ThreadCreator is implemented by assistants that can start a conversation
// thread when none is configured.
type ThreadCreator interface {
	CreateThread(ctx context.Context) (string, error)
}

type SpeechSynthesizer interface {
	// Container describes how the yielded audio bytes are packaged.
	Container() audio.Container
	Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) iter.Seq2[[]byte, error]
}

// Callbacks are invoked from the orchestrator's worker goroutines and must
// not block for long.
type Callbacks struct {
	OnStateChanged         func(State)
	OnInterimTranscription func(transcript string)
	OnTranscription        func(utterance Utterance)
	OnResponse             func(delta string)
	OnFragmentSpoken       func(fragment ResponseFragment)
	OnResponseEnd          func(record TurnRecord)
	OnCancellation         func(record TurnRecord)
	OnError                func(err error)
}

type OrchestratorOptions struct {
	AudioInput  AudioInput
	Recognizer  SpeechRecognizer
	Assistant   Assistant
	Synthesizer SpeechSynthesizer
	AudioOutput AudioOutput

	ThreadID            string
	Instructions        string
	Voices              texttospeech.VoiceProfiles
	RecognitionLanguage string
	FrameDuration       time.Duration
	RestartDelay        time.Duration
	TempDir             string

	Callbacks Callbacks
}

type OrchestratorOption func(*OrchestratorOptions)

func newOrchestratorOptions(opts ...OrchestratorOption) OrchestratorOptions {
	options := OrchestratorOptions{
		FrameDuration: audio.DefaultFrameDuration,
		RestartDelay:  defaultRestartDelay,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithAudioInput(input AudioInput) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.AudioInput = input }
}

func WithSpeechRecognizer(recognizer SpeechRecognizer) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Recognizer = recognizer }
}

func WithAssistant(assistant Assistant) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Assistant = assistant }
}

func WithSpeechSynthesizer(synthesizer SpeechSynthesizer) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Synthesizer = synthesizer }
}

func WithAudioOutput(output AudioOutput) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.AudioOutput = output }
}

// WithThreadID reuses an existing conversation thread. Without it a thread is
// created on the first turn if the assistant implements [ThreadCreator].
func WithThreadID(threadID string) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.ThreadID = threadID }
}

// WithInstructions overrides the assistant's persona instructions.
func WithInstructions(instructions string) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Instructions = instructions }
}

func WithVoices(voices texttospeech.VoiceProfiles) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Voices = voices }
}

func WithRecognitionLanguage(language string) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.RecognitionLanguage = language }
}

func WithFrameDuration(d time.Duration) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.FrameDuration = d }
}

// WithRestartDelay sets the pause before listening again after a capture or
// recognition failure.
func WithRestartDelay(d time.Duration) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.RestartDelay = d }
}

// WithTempDir sets where synthesized clips are buffered before playback.
func WithTempDir(dir string) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.TempDir = dir }
}

func WithStateChangedCallback(callback func(State)) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Callbacks.OnStateChanged = callback }
}

func WithInterimTranscriptionCallback(callback func(transcript string)) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Callbacks.OnInterimTranscription = callback }
}

func WithTranscriptionCallback(callback func(utterance Utterance)) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Callbacks.OnTranscription = callback }
}

func WithResponseCallback(callback func(delta string)) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Callbacks.OnResponse = callback }
}

func WithFragmentSpokenCallback(callback func(fragment ResponseFragment)) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Callbacks.OnFragmentSpoken = callback }
}

func WithResponseEndCallback(callback func(record TurnRecord)) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Callbacks.OnResponseEnd = callback }
}

func WithCancellationCallback(callback func(record TurnRecord)) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Callbacks.OnCancellation = callback }
}

func WithErrorCallback(callback func(err error)) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Callbacks.OnError = callback }
}
