package deepgram

import (
	"fmt"
	"os"
	"slices"

	"github.com/koscakluka/lito/core/audio"
)

const defaultSpeakURL = "wss://api.deepgram.com/v1/speak"

// TextToSpeechClient synthesizes fragments over Deepgram's speak socket, one
// connection per fragment.
type TextToSpeechClient struct {
	apiKey   string
	speakURL string
	voice    deepgramVoice
}

type ClientOption func(*TextToSpeechClient)

func WithAPIKey(apiKey string) ClientOption {
	return func(c *TextToSpeechClient) {
		c.apiKey = apiKey
	}
}

func WithVoice(voice deepgramVoice) ClientOption {
	return func(c *TextToSpeechClient) {
		c.voice = voice
	}
}

func withSpeakURL(url string) ClientOption {
	return func(c *TextToSpeechClient) {
		c.speakURL = url
	}
}

func NewTextToSpeechClient(opts ...ClientOption) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{
		apiKey:   os.Getenv("DEEPGRAM_API_KEY"),
		speakURL: defaultSpeakURL,
		voice:    defaultVoice,
	}
	for _, opt := range opts {
		opt(client)
	}

	if !slices.Contains(GetAvailableVoices(), client.voice) {
		return nil, fmt.Errorf("invalid voice %q", client.voice)
	}
	if client.apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	return client, nil
}

func (c *TextToSpeechClient) SetVoice(voice deepgramVoice) {
	c.voice = voice
}

// Container reports that audio arrives as headerless PCM.
func (c *TextToSpeechClient) Container() audio.Container { return audio.ContainerNone }
