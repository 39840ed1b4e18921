// Package codec turns fully buffered synthesized speech into PCM that an
// output device can play.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/go-audio/wav"
	"github.com/koscakluka/lito/core/audio"
	"github.com/koscakluka/lito/internal/utils"
)

const resampleQuality = 4

var ErrEmptyClip = errors.New("clip contains no audio")

// Decode reads a complete clip in the given container and returns mono
// linear16 little-endian PCM at target's sample rate.
//
// Headerless clips are assumed to already match target.
func Decode(r io.ReadSeeker, container audio.Container, target audio.EncodingInfo) ([]byte, error) {
	if target.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid target sample rate %d", target.SampleRate)
	}

	var (
		pcm []byte
		err error
	)
	switch container {
	case audio.ContainerWAV:
		pcm, err = decodeWAV(r, target.SampleRate)
	case audio.ContainerMP3:
		pcm, err = decodeMP3(r, target.SampleRate)
	case audio.ContainerNone, "":
		pcm, err = io.ReadAll(r)
		pcm = pcm[:len(pcm)&^1]
	default:
		return nil, fmt.Errorf("unsupported container %q", container)
	}
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyClip
	}

	return pcm, nil
}

func decodeWAV(r io.ReadSeeker, sampleRate int) ([]byte, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file")
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read wav samples: %w", err)
	}

	channels := int(decoder.NumChans)
	if channels <= 0 {
		channels = 1
	}
	bitDepth := int(decoder.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := math.Pow(2, float64(bitDepth-1))

	frames := len(buffer.Data) / channels
	samples := make([]float64, frames)
	for i := range frames {
		var sum float64
		for c := range channels {
			v := float64(buffer.Data[i*channels+c])
			if bitDepth == 8 {
				v -= 128
			}
			sum += v / scale
		}
		samples[i] = sum / float64(channels)
	}

	var streamer beep.Streamer = &monoStreamer{samples: samples}
	if int(decoder.SampleRate) != sampleRate {
		streamer = beep.Resample(resampleQuality, beep.SampleRate(decoder.SampleRate), beep.SampleRate(sampleRate), streamer)
	}

	return drain(streamer)
}

func decodeMP3(r io.ReadSeeker, sampleRate int) ([]byte, error) {
	streamer, format, err := mp3.Decode(io.NopCloser(r))
	if err != nil {
		return nil, fmt.Errorf("failed to decode mp3: %w", err)
	}
	defer streamer.Close()

	var resampled beep.Streamer = streamer
	if int(format.SampleRate) != sampleRate {
		resampled = beep.Resample(resampleQuality, format.SampleRate, beep.SampleRate(sampleRate), streamer)
	}

	return drain(resampled)
}

// drain collects a streamer into mono linear16 PCM.
func drain(streamer beep.Streamer) ([]byte, error) {
	var pcm []byte
	buf := make([][2]float64, 512)
	for {
		n, ok := streamer.Stream(buf)
		for _, frame := range buf[:n] {
			mono := utils.Clamp((frame[0]+frame[1])/2, -1, 1)
			pcm = binary.LittleEndian.AppendUint16(pcm, uint16(int16(mono*math.MaxInt16)))
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("failed to stream samples: %w", err)
	}

	return pcm, nil
}

// monoStreamer plays already decoded samples through beep so they can be
// resampled.
type monoStreamer struct {
	samples []float64
	pos     int
}

func (s *monoStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}

	n := copy2(buf, s.samples[s.pos:])
	s.pos += n
	return n, true
}

func (s *monoStreamer) Err() error { return nil }

func copy2(dst [][2]float64, src []float64) int {
	n := min(len(dst), len(src))
	for i := range n {
		dst[i][0] = src[i]
		dst[i][1] = src[i]
	}
	return n
}
