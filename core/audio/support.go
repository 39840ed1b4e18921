package audio

import (
	"errors"
	"fmt"
	"slices"
)

// NarrowbandSampleRate is the only rate companded formats are accepted at.
const NarrowbandSampleRate = 8000

var ErrUnsupportedEncoding = errors.New("unsupported encoding")

// IsCompanded reports whether the format is one of the G.711 formats.
func (e encodingFormat) IsCompanded() bool {
	return e == EncodingALaw || e == EncodingMulaw
}

// CheckSampleRate fails with [ErrUnsupportedEncoding] unless the sample rate
// is one of supported. Companded audio must also be narrowband.
func (e EncodingInfo) CheckSampleRate(supported ...int) error {
	if !slices.Contains(supported, e.SampleRate) {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedEncoding, e.SampleRate)
	}
	if e.Format.IsCompanded() && e.SampleRate != NarrowbandSampleRate {
		return fmt.Errorf("%w: %s audio at %d Hz", ErrUnsupportedEncoding, e.Format.Name(), e.SampleRate)
	}
	return nil
}
