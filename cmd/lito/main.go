// Lito is a voice chat assistant that listens on the microphone, answers
// through an assistant backend and speaks the reply sentence by sentence.
// Speaking again while it talks interrupts the reply.
//
// Usage:
//
//	lito [flags]
//	lito -config /path/to/lito.yaml -tui
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	orchestration "github.com/koscakluka/lito/core"
	"github.com/koscakluka/lito/core/audio/miniaudio"
	"github.com/koscakluka/lito/core/audio/portaudio"
	"github.com/koscakluka/lito/core/llms/gemini"
	"github.com/koscakluka/lito/core/llms/groq"
	"github.com/koscakluka/lito/core/llms/openai"
	sttdeepgram "github.com/koscakluka/lito/core/speechtotext/deepgram"
	sttgoogle "github.com/koscakluka/lito/core/speechtotext/google"
	"github.com/koscakluka/lito/core/texttospeech"
	ttsdeepgram "github.com/koscakluka/lito/core/texttospeech/deepgram"
	ttsgoogle "github.com/koscakluka/lito/core/texttospeech/google"
	"github.com/koscakluka/lito/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// frontend presents the conversation and feeds typed input back in.
type frontend interface {
	callbacks() []orchestration.OrchestratorOption
	run(ctx context.Context, orchestrator *orchestration.Orchestrator) error
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	printSchema := flag.Bool("config-schema", false, "print the configuration JSON schema and exit")
	useTUI := flag.Bool("tui", false, "run the interactive terminal UI")
	configFile := flag.String("config", "", "path to config file (e.g. configs/lito.yaml)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("lito %s\n", version)
		os.Exit(0)
	}
	if *printSchema {
		schema, err := config.Schema()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build schema: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(schema))
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var logOutput io.Writer = os.Stderr
	if *useTUI {
		// The terminal UI owns the screen.
		logOutput = io.Discard
	}
	closeLog, err := config.SetupLogging(cfg.Logging, logOutput)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.Info("lito starting", "version", version)

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var ui frontend = newConsole(os.Stdout, os.Stdin)
	if *useTUI {
		ui = newTUI()
	}

	if err := run(ctx, cfg, ui); err != nil {
		slog.Error("lito stopped", "error", err)
		closeLog()
		os.Exit(1)
	}
	slog.Info("lito stopped")
}

func run(ctx context.Context, cfg *config.Config, ui frontend) error {
	devices, err := newAudioDevices(cfg.Audio)
	if err != nil {
		return err
	}
	defer devices.close()

	recognizer, closeRecognizer, err := newRecognizer(ctx, cfg.Recognition)
	if err != nil {
		return err
	}
	defer closeRecognizer()

	assistant, err := newAssistant(ctx, cfg.Assistant)
	if err != nil {
		return err
	}

	synthesizer, voices, closeSynthesizer, err := newSynthesizer(ctx, cfg.Synthesis)
	if err != nil {
		return err
	}
	defer closeSynthesizer()

	opts := []orchestration.OrchestratorOption{
		orchestration.WithAudioInput(devices.input),
		orchestration.WithSpeechRecognizer(recognizer),
		orchestration.WithAssistant(assistant),
		orchestration.WithSpeechSynthesizer(synthesizer),
		orchestration.WithAudioOutput(devices.output),
		orchestration.WithThreadID(cfg.Assistant.ThreadID),
		orchestration.WithVoices(voices),
		orchestration.WithRecognitionLanguage(cfg.Recognition.Language),
		orchestration.WithFrameDuration(cfg.Audio.FrameDuration()),
		orchestration.WithRestartDelay(cfg.Conversation.RestartDelay()),
		orchestration.WithTempDir(cfg.Conversation.TempDir),
	}
	if cfg.Assistant.Instructions != "" {
		opts = append(opts, orchestration.WithInstructions(cfg.Assistant.Instructions))
	}

	orchestrator, err := orchestration.NewOrchestrator(append(opts, ui.callbacks()...)...)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orchestrator.Close()

	slog.Info("listening",
		"audio", cfg.Audio.Backend,
		"recognition", cfg.Recognition.Backend,
		"assistant", cfg.Assistant.Backend,
		"synthesis", cfg.Synthesis.Backend)

	if err := ui.run(ctx, orchestrator); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type audioDevices struct {
	input  orchestration.AudioInput
	output orchestration.AudioOutput
	close  func()
}

func newAudioDevices(cfg config.AudioConfig) (*audioDevices, error) {
	switch cfg.Backend {
	case "miniaudio":
		client, err := miniaudio.NewClient(
			miniaudio.WithCaptureSampleRate(cfg.CaptureSampleRate),
			miniaudio.WithPlaybackSampleRate(cfg.PlaybackSampleRate),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open miniaudio devices: %w", err)
		}
		return &audioDevices{input: client.Capture(), output: client.Playback(), close: client.Close}, nil
	case "portaudio":
		client, err := portaudio.NewClient(cfg.BufferSize, cfg.CaptureSampleRate, cfg.PlaybackSampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to open portaudio devices: %w", err)
		}
		return &audioDevices{input: client.Capture(), output: client.Playback(), close: client.Close}, nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}

func newRecognizer(ctx context.Context, cfg config.RecognitionConfig) (orchestration.SpeechRecognizer, func(), error) {
	switch cfg.Backend {
	case "google":
		recognizer, err := sttgoogle.NewRecognizer(ctx,
			sttgoogle.WithCredentialsFile(cfg.Google.CredentialsFile),
			sttgoogle.WithDefaultLanguage(cfg.Language),
			sttgoogle.WithAutomaticPunctuation(true),
		)
		if err != nil {
			return nil, nil, err
		}
		return recognizer, func() { _ = recognizer.Close() }, nil
	case "deepgram":
		recognizer, err := sttdeepgram.NewRecognizer(
			sttdeepgram.WithAPIKey(cfg.Deepgram.APIKey),
			sttdeepgram.WithModel(cfg.Deepgram.Model),
			sttdeepgram.WithDefaultLanguage(cfg.Language),
		)
		if err != nil {
			return nil, nil, err
		}
		return recognizer, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown recognition backend %q", cfg.Backend)
	}
}

func newAssistant(ctx context.Context, cfg config.AssistantConfig) (orchestration.Assistant, error) {
	switch cfg.Backend {
	case "openai":
		opts := []openai.ClientOption{
			openai.WithAPIKey(cfg.OpenAI.APIKey),
			openai.WithAssistantID(cfg.OpenAI.AssistantID),
		}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		if cfg.Instructions != "" {
			opts = append(opts, openai.WithInstructions(cfg.Instructions))
		}
		return openai.NewClient(opts...)
	case "gemini":
		opts := []gemini.ClientOption{
			gemini.WithAPIKey(cfg.Gemini.APIKey),
			gemini.WithModel(cfg.Gemini.Model),
		}
		if cfg.Instructions != "" {
			opts = append(opts, gemini.WithInstructions(cfg.Instructions))
		}
		return gemini.NewClient(ctx, opts...)
	case "groq":
		opts := []groq.ClientOption{
			groq.WithAPIKey(cfg.Groq.APIKey),
			groq.WithModel(cfg.Groq.Model),
		}
		if cfg.Instructions != "" {
			opts = append(opts, groq.WithInstructions(cfg.Instructions))
		}
		return groq.NewClient(opts...)
	default:
		return nil, fmt.Errorf("unknown assistant backend %q", cfg.Backend)
	}
}

func newSynthesizer(ctx context.Context, cfg config.SynthesisConfig) (orchestration.SpeechSynthesizer, texttospeech.VoiceProfiles, func(), error) {
	switch cfg.Backend {
	case "google":
		synthesizer, err := ttsgoogle.NewSynthesizer(ctx, ttsgoogle.WithCredentialsFile(cfg.Google.CredentialsFile))
		if err != nil {
			return nil, texttospeech.VoiceProfiles{}, nil, err
		}
		return synthesizer, cfg.Voices, func() { _ = synthesizer.Close() }, nil
	case "deepgram":
		// Deepgram voices are English only, so both profiles use the same one.
		voice := cfg.Deepgram.Voice
		if !isDeepgramVoice(voice) {
			return nil, texttospeech.VoiceProfiles{}, nil, fmt.Errorf("invalid deepgram voice %q", voice)
		}
		synthesizer, err := ttsdeepgram.NewTextToSpeechClient(ttsdeepgram.WithAPIKey(cfg.Deepgram.APIKey))
		if err != nil {
			return nil, texttospeech.VoiceProfiles{}, nil, err
		}
		return synthesizer, texttospeech.VoiceProfiles{CJK: voice, Default: voice}, func() {}, nil
	default:
		return nil, texttospeech.VoiceProfiles{}, nil, fmt.Errorf("unknown synthesis backend %q", cfg.Backend)
	}
}

func isDeepgramVoice(name string) bool {
	for _, voice := range ttsdeepgram.GetAvailableVoices() {
		if string(voice) == name {
			return true
		}
	}
	return false
}
