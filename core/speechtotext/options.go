package speechtotext

import "github.com/koscakluka/lito/core/audio"

// Result is one recognition hypothesis. Interim results may be revised by
// later ones; a final result closes the utterance.
type Result struct {
	Transcript string
	IsFinal    bool
}

type RecognitionOptions struct {
	EncodingInfo   audio.EncodingInfo
	Language       string
	InterimResults bool
}

type RecognitionOption func(*RecognitionOptions)

func WithEncodingInfo(encodingInfo audio.EncodingInfo) RecognitionOption {
	return func(o *RecognitionOptions) {
		o.EncodingInfo = encodingInfo
	}
}

// WithLanguage overrides the recognizer's configured language, e.g.
// "cmn-Hans-CN" or "en-US".
func WithLanguage(language string) RecognitionOption {
	return func(o *RecognitionOptions) {
		o.Language = language
	}
}

func WithInterimResults(enabled bool) RecognitionOption {
	return func(o *RecognitionOptions) {
		o.InterimResults = enabled
	}
}

func NewRecognitionOptions(opts ...RecognitionOption) RecognitionOptions {
	options := RecognitionOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
