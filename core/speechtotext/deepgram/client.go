package deepgram

import (
	"fmt"
	"os"
)

const (
	defaultListenURL = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en-US"
)

// Recognizer transcribes audio over Deepgram's live listen socket. Each
// recognition opens its own connection.
type Recognizer struct {
	apiKey    string
	listenURL string
	model     string
	language  string
}

type RecognizerOption func(*Recognizer)

func WithAPIKey(apiKey string) RecognizerOption {
	return func(r *Recognizer) {
		r.apiKey = apiKey
	}
}

func WithModel(model string) RecognizerOption {
	return func(r *Recognizer) {
		r.model = model
	}
}

func WithDefaultLanguage(language string) RecognizerOption {
	return func(r *Recognizer) {
		r.language = language
	}
}

func withListenURL(url string) RecognizerOption {
	return func(r *Recognizer) {
		r.listenURL = url
	}
}

func NewRecognizer(opts ...RecognizerOption) (*Recognizer, error) {
	r := &Recognizer{
		apiKey:    os.Getenv("DEEPGRAM_API_KEY"),
		listenURL: defaultListenURL,
		model:     defaultModel,
		language:  defaultLanguage,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}
	return r, nil
}
