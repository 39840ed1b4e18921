// Package config loads and validates the lito configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"github.com/koscakluka/lito/core/texttospeech"
	"github.com/spf13/viper"
)

// Config is the root configuration of the lito binary.
type Config struct {
	Audio        AudioConfig        `mapstructure:"audio" json:"audio"`
	Recognition  RecognitionConfig  `mapstructure:"recognition" json:"recognition"`
	Assistant    AssistantConfig    `mapstructure:"assistant" json:"assistant"`
	Synthesis    SynthesisConfig    `mapstructure:"synthesis" json:"synthesis"`
	Conversation ConversationConfig `mapstructure:"conversation" json:"conversation"`
	Logging      LoggingConfig      `mapstructure:"logging" json:"logging"`
}

// AudioConfig selects the device backend for capture and playback.
type AudioConfig struct {
	Backend            string `mapstructure:"backend" json:"backend" jsonschema:"enum=miniaudio,enum=portaudio"`
	CaptureSampleRate  int    `mapstructure:"capture_sample_rate" json:"capture_sample_rate"`
	PlaybackSampleRate int    `mapstructure:"playback_sample_rate" json:"playback_sample_rate"`
	FrameDurationMs    int    `mapstructure:"frame_duration_ms" json:"frame_duration_ms"`
	BufferSize         int    `mapstructure:"buffer_size" json:"buffer_size"` // portaudio frames per buffer
}

// FrameDuration is the capture frame length as a duration.
func (c AudioConfig) FrameDuration() time.Duration {
	return time.Duration(c.FrameDurationMs) * time.Millisecond
}

// RecognitionConfig selects and configures the speech recognizer.
type RecognitionConfig struct {
	Backend  string               `mapstructure:"backend" json:"backend" jsonschema:"enum=google,enum=deepgram"`
	Language string               `mapstructure:"language" json:"language"`
	Google   GoogleCloudConfig    `mapstructure:"google" json:"google"`
	Deepgram DeepgramListenConfig `mapstructure:"deepgram" json:"deepgram"`
}

// GoogleCloudConfig points at a service account key. An empty path falls
// back to application default credentials.
type GoogleCloudConfig struct {
	CredentialsFile string `mapstructure:"credentials_file" json:"credentials_file"`
}

type DeepgramListenConfig struct {
	APIKey string `mapstructure:"api_key" json:"api_key"`
	Model  string `mapstructure:"model" json:"model"`
}

// AssistantConfig selects and configures the reply backend.
type AssistantConfig struct {
	Backend      string       `mapstructure:"backend" json:"backend" jsonschema:"enum=openai,enum=gemini,enum=groq"`
	Instructions string       `mapstructure:"instructions" json:"instructions"`
	ThreadID     string       `mapstructure:"thread_id" json:"thread_id"`
	OpenAI       OpenAIConfig `mapstructure:"openai" json:"openai"`
	Gemini       ModelConfig  `mapstructure:"gemini" json:"gemini"`
	Groq         ModelConfig  `mapstructure:"groq" json:"groq"`
}

type OpenAIConfig struct {
	APIKey      string `mapstructure:"api_key" json:"api_key"`
	AssistantID string `mapstructure:"assistant_id" json:"assistant_id"`
	BaseURL     string `mapstructure:"base_url" json:"base_url"`
}

type ModelConfig struct {
	APIKey string `mapstructure:"api_key" json:"api_key"`
	Model  string `mapstructure:"model" json:"model"`
}

// SynthesisConfig selects and configures the speech synthesizer.
type SynthesisConfig struct {
	Backend  string                     `mapstructure:"backend" json:"backend" jsonschema:"enum=google,enum=deepgram"`
	Voices   texttospeech.VoiceProfiles `mapstructure:"voices" json:"voices"`
	Google   GoogleCloudConfig          `mapstructure:"google" json:"google"`
	Deepgram DeepgramSpeakConfig        `mapstructure:"deepgram" json:"deepgram"`
}

type DeepgramSpeakConfig struct {
	APIKey string `mapstructure:"api_key" json:"api_key"`
	Voice  string `mapstructure:"voice" json:"voice"`
}

// ConversationConfig tunes the listen/respond loop.
type ConversationConfig struct {
	RestartDelayMs int    `mapstructure:"restart_delay_ms" json:"restart_delay_ms"`
	TempDir        string `mapstructure:"temp_dir" json:"temp_dir"`
}

// RestartDelay is the pause before listening again after a failure.
func (c ConversationConfig) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelayMs) * time.Millisecond
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `mapstructure:"format" json:"format" jsonschema:"enum=json,enum=text"`
	// File receives the logs instead of stderr when set.
	File string `mapstructure:"file" json:"file"`
}

// providerEnv binds the variables provider SDKs read on their own, so an
// existing environment works without LITO_ names.
var providerEnv = map[string][]string{
	"assistant.openai.api_key":            {"OPENAI_API_KEY"},
	"assistant.openai.assistant_id":       {"OPENAI_ASSISTANT_ID"},
	"assistant.thread_id":                 {"OPENAI_THREAD_ID"},
	"assistant.gemini.api_key":            {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"assistant.groq.api_key":              {"GROQ_API_KEY"},
	"recognition.deepgram.api_key":        {"DEEPGRAM_API_KEY"},
	"synthesis.deepgram.api_key":          {"DEEPGRAM_API_KEY"},
	"recognition.google.credentials_file": {"GOOGLE_APPLICATION_CREDENTIALS"},
	"synthesis.google.credentials_file":   {"GOOGLE_APPLICATION_CREDENTIALS"},
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise lito.yaml is looked
// up in ., ./configs and $HOME/.config/lito. A .env file in the working
// directory is loaded first and never overrides variables already set.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()

	v.SetDefault("audio.backend", "miniaudio")
	v.SetDefault("audio.capture_sample_rate", 44100)
	v.SetDefault("audio.playback_sample_rate", 24000)
	v.SetDefault("audio.frame_duration_ms", 100)
	v.SetDefault("audio.buffer_size", 1024)
	v.SetDefault("recognition.backend", "google")
	v.SetDefault("recognition.language", "cmn-Hans-CN")
	v.SetDefault("recognition.deepgram.model", "nova-3")
	v.SetDefault("assistant.backend", "openai")
	v.SetDefault("assistant.gemini.model", "gemini-2.5-flash")
	v.SetDefault("assistant.groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("synthesis.backend", "google")
	v.SetDefault("synthesis.voices.cjk", "cmn-CN-Wavenet-A")
	v.SetDefault("synthesis.voices.default", "en-GB-Neural2-A")
	v.SetDefault("synthesis.deepgram.voice", "aura-2-thalia-en")
	v.SetDefault("conversation.restart_delay_ms", 500)
	v.SetDefault("conversation.temp_dir", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("lito")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.config/lito")
	}

	// Environment variables: LITO_AUDIO_BACKEND, LITO_ASSISTANT_OPENAI_API_KEY, etc.
	v.SetEnvPrefix("LITO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range providerEnv {
		envKey := "LITO_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, envKey}, names...)...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Debug("no config file found, using defaults and environment variables")
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Assistant.OpenAI.APIKey = resolveEnvRef(cfg.Assistant.OpenAI.APIKey)
	cfg.Assistant.Gemini.APIKey = resolveEnvRef(cfg.Assistant.Gemini.APIKey)
	cfg.Assistant.Groq.APIKey = resolveEnvRef(cfg.Assistant.Groq.APIKey)
	cfg.Recognition.Deepgram.APIKey = resolveEnvRef(cfg.Recognition.Deepgram.APIKey)
	cfg.Synthesis.Deepgram.APIKey = resolveEnvRef(cfg.Synthesis.Deepgram.APIKey)
	cfg.Recognition.Google.CredentialsFile = resolveEnvRef(cfg.Recognition.Google.CredentialsFile)
	cfg.Synthesis.Google.CredentialsFile = resolveEnvRef(cfg.Synthesis.Google.CredentialsFile)

	return &cfg, nil
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// Validate checks that the selected backends exist and have what they need
// to start. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Audio.Backend {
	case "miniaudio", "portaudio":
	default:
		errs = append(errs, fmt.Errorf("unknown audio backend %q", c.Audio.Backend))
	}
	if c.Audio.CaptureSampleRate <= 0 || c.Audio.PlaybackSampleRate <= 0 {
		errs = append(errs, errors.New("audio sample rates must be positive"))
	}
	if c.Audio.FrameDurationMs <= 0 {
		errs = append(errs, errors.New("audio frame duration must be positive"))
	}

	switch c.Recognition.Backend {
	case "google":
	case "deepgram":
		if c.Recognition.Deepgram.APIKey == "" {
			errs = append(errs, errors.New("deepgram recognition requires an api key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown recognition backend %q", c.Recognition.Backend))
	}

	switch c.Assistant.Backend {
	case "openai":
		if c.Assistant.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("openai assistant requires an api key"))
		}
		if c.Assistant.OpenAI.AssistantID == "" {
			errs = append(errs, errors.New("openai assistant requires an assistant id"))
		}
	case "gemini":
		if c.Assistant.Gemini.APIKey == "" {
			errs = append(errs, errors.New("gemini assistant requires an api key"))
		}
	case "groq":
		if c.Assistant.Groq.APIKey == "" {
			errs = append(errs, errors.New("groq assistant requires an api key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown assistant backend %q", c.Assistant.Backend))
	}

	switch c.Synthesis.Backend {
	case "google":
		if c.Synthesis.Voices.CJK == "" || c.Synthesis.Voices.Default == "" {
			errs = append(errs, errors.New("google synthesis requires both voices"))
		}
	case "deepgram":
		if c.Synthesis.Deepgram.APIKey == "" {
			errs = append(errs, errors.New("deepgram synthesis requires an api key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown synthesis backend %q", c.Synthesis.Backend))
	}

	if c.Conversation.RestartDelayMs < 0 {
		errs = append(errs, errors.New("restart delay must not be negative"))
	}

	return errors.Join(errs...)
}

// SetupLogging configures the global slog logger based on config. Logs go to
// w unless a log file is configured, in which case the returned function
// closes it.
func SetupLogging(cfg LoggingConfig, w io.Writer) (func() error, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	closeLog := func() error { return nil }
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		w, closeLog = f, f.Close
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
	return closeLog, nil
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		FieldNameTag:              "mapstructure",
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "lito configuration"
	return json.MarshalIndent(schema, "", "  ")
}
