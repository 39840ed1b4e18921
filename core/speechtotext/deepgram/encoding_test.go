package deepgram

import (
	"errors"
	"testing"

	"github.com/koscakluka/lito/core/audio"
)

func TestConvertEncoding(t *testing.T) {
	encoding, err := convertEncoding(audio.EncodingInfo{SampleRate: 44100, Format: audio.EncodingLinear16})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if encoding.sampleRate != 44100 || encoding.name != "linear16" {
		t.Fatalf("unexpected encoding %+v", encoding)
	}

	for _, unsupported := range []audio.EncodingInfo{
		{SampleRate: 22050, Format: audio.EncodingLinear16},
		{SampleRate: 16000, Format: audio.EncodingMulaw},
		{SampleRate: 16000},
	} {
		if _, err := convertEncoding(unsupported); !errors.Is(err, audio.ErrUnsupportedEncoding) {
			t.Fatalf("expected %+v to be rejected, got %v", unsupported, err)
		}
	}
}
