package texttospeech

import "github.com/koscakluka/lito/core/audio"

type SynthesisOptions struct {
	// Voice is the backend specific voice name. Empty selects the backend
	// default.
	Voice string
	// EncodingInfo is the PCM format the audio should be produced in when the
	// backend supports choosing it.
	EncodingInfo audio.EncodingInfo
}

type SynthesisOption func(*SynthesisOptions)

func WithVoice(voice string) SynthesisOption {
	return func(o *SynthesisOptions) {
		o.Voice = voice
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) SynthesisOption {
	return func(o *SynthesisOptions) {
		if encodingInfo.SampleRate == 0 || encodingInfo.Format == "" {
			return
		}

		o.EncodingInfo = encodingInfo
	}
}

func NewSynthesisOptions(opts ...SynthesisOption) SynthesisOptions {
	options := SynthesisOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
