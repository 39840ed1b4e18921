package audio

import "time"

const (
	DefaultSampleRate = 44100
	DefaultFormat     = "linear16"

	// DefaultFrameDuration is the duration of one captured microphone frame.
	DefaultFrameDuration = 100 * time.Millisecond
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat), Channels: 1}
}

// EncodingInfo describes raw PCM audio flowing between devices and
// providers. Channels defaults to mono when zero.
type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
	Channels   int
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) channels() int {
	if e.Channels <= 0 {
		return 1
	}
	return e.Channels
}

// BytesPerFrame returns the size of a single sample across all channels.
func (e EncodingInfo) BytesPerFrame() int {
	return e.Format.ByteSize() * e.channels()
}

// ChunkSize returns the number of bytes that hold d worth of audio.
func (e EncodingInfo) ChunkSize(d time.Duration) int {
	frames := int(int64(e.SampleRate) * int64(d) / int64(time.Second))
	return frames * e.BytesPerFrame()
}

// Duration returns how long size bytes of audio take to play.
func (e EncodingInfo) Duration(size int) time.Duration {
	bytesPerFrame := e.BytesPerFrame()
	if bytesPerFrame <= 0 || e.SampleRate == 0 {
		return 0
	}
	frames := size / bytesPerFrame
	return time.Duration(frames) * time.Second / time.Duration(e.SampleRate)
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case encodingFormat("alaw"):
		return 0x55
	case encodingFormat("mulaw"):
		return 0xFF
	case encodingFormat("linear16"):
		return 0
	}

	return 0
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case encodingFormat("mulaw"), encodingFormat("alaw"):
		return 1
	case encodingFormat("linear16"):
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)

// Container names the file format synthesized speech is delivered in.
type Container string

const (
	// ContainerNone is headerless linear16 PCM.
	ContainerNone Container = "none"
	ContainerWAV  Container = "wav"
	ContainerMP3  Container = "mp3"
)

// Extension returns the file extension used for temporary clips.
func (c Container) Extension() string {
	switch c {
	case ContainerWAV:
		return ".wav"
	case ContainerMP3:
		return ".mp3"
	}
	return ".pcm"
}
