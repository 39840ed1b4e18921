package deepgram

import (
	"fmt"

	"github.com/koscakluka/lito/core/audio"
)

var supportedSampleRates = []int{8000, 16000, 24000, 32000, 44100, 48000}

// streamEncoding is the encoding announced in the listen query.
type streamEncoding struct {
	sampleRate int
	name       string
}

func convertEncoding(encoding audio.EncodingInfo) (streamEncoding, error) {
	switch encoding.Format {
	case audio.EncodingLinear16, audio.EncodingALaw, audio.EncodingMulaw:
	default:
		return streamEncoding{}, fmt.Errorf("%w: format %q", audio.ErrUnsupportedEncoding, encoding.Format.Name())
	}
	if err := encoding.CheckSampleRate(supportedSampleRates...); err != nil {
		return streamEncoding{}, err
	}
	// Deepgram uses the same format names.
	return streamEncoding{sampleRate: encoding.SampleRate, name: encoding.Format.Name()}, nil
}
