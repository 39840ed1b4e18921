package portaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/lito/core/audio"
)

const DefaultPlaybackSampleRate = 24000

// Client drives separate blocking input and output streams on the default
// devices.
type Client struct {
	bufferSize int

	input         *portaudio.Stream
	inputEncoding audio.EncodingInfo
	in            []int16
	captureMu     sync.Mutex
	captureStop   chan struct{}
	captureDone   chan struct{}

	output         *portaudio.Stream
	outputEncoding audio.EncodingInfo
	out            []int16
	playMu         sync.Mutex
	playStopMu     sync.Mutex
	playStop       chan struct{}
	playing        atomic.Bool
}

func NewClient(bufferSize int, captureSampleRate, playbackSampleRate int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	c := &Client{
		bufferSize:     bufferSize,
		in:             make([]int16, bufferSize),
		out:            make([]int16, bufferSize),
		inputEncoding:  audio.EncodingInfo{SampleRate: captureSampleRate, Format: audio.EncodingLinear16, Channels: 1},
		outputEncoding: audio.EncodingInfo{SampleRate: playbackSampleRate, Format: audio.EncodingLinear16, Channels: 1},
	}

	var err error
	if c.input, err = portaudio.OpenDefaultStream(1, 0, float64(captureSampleRate), bufferSize, c.in); err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio input stream: %w", err)
	}
	if c.output, err = portaudio.OpenDefaultStream(0, 1, float64(playbackSampleRate), bufferSize, c.out); err != nil {
		c.input.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio output stream: %w", err)
	}
	if err := c.output.Start(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to start portaudio output stream: %w", err)
	}

	return c, nil
}

func (c *Client) Capture() *CaptureDevice   { return (*CaptureDevice)(c) }
func (c *Client) Playback() *PlaybackDevice { return (*PlaybackDevice)(c) }

func (c *Client) Close() {
	_ = c.Capture().StopCapture()
	_ = c.Playback().Stop()
	c.input.Close()
	c.output.Close()
	portaudio.Terminate()
}

// CaptureDevice is the input half of [Client].
type CaptureDevice Client

func (c *CaptureDevice) EncodingInfo() audio.EncodingInfo { return c.inputEncoding }

func (c *CaptureDevice) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if c.captureStop != nil {
		return nil
	}

	if err := c.input.Start(); err != nil {
		return fmt.Errorf("failed to start portaudio input stream: %w", err)
	}

	stop, done := make(chan struct{}), make(chan struct{})
	c.captureStop, c.captureDone = stop, done
	go func() {
		defer close(done)
		buffer := make([]byte, 0, len(c.in)*2)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			default:
			}

			if err := c.input.Read(); err != nil {
				logger.WarnContext(ctx, "failed to read from portaudio stream", "error", err)
				continue
			}

			buffer = buffer[:0]
			for _, sample := range c.in {
				buffer = binary.LittleEndian.AppendUint16(buffer, uint16(sample))
			}
			onAudio(buffer)
		}
	}()

	return nil
}

func (c *CaptureDevice) StopCapture() error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if c.captureStop == nil {
		return nil
	}

	close(c.captureStop)
	<-c.captureDone
	c.captureStop, c.captureDone = nil, nil

	if err := c.input.Stop(); err != nil {
		return fmt.Errorf("failed to stop portaudio input stream: %w", err)
	}
	return nil
}

// PlaybackDevice is the output half of [Client].
type PlaybackDevice Client

func (c *PlaybackDevice) EncodingInfo() audio.EncodingInfo { return c.outputEncoding }

func (c *PlaybackDevice) Play(ctx context.Context, pcm []byte) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	stop := make(chan struct{})
	c.playStopMu.Lock()
	c.playStop = stop
	c.playStopMu.Unlock()

	c.playing.Store(true)
	defer c.playing.Store(false)

	bufferSize := len(c.out) * 2
	for offset := 0; offset < len(pcm); offset += bufferSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return audio.ErrPlaybackStopped
		default:
		}

		chunk := pcm[offset:min(offset+bufferSize, len(pcm))]
		for i := range c.out {
			if i*2+1 < len(chunk) {
				c.out[i] = int16(binary.LittleEndian.Uint16(chunk[i*2:]))
			} else {
				c.out[i] = 0
			}
		}
		if err := c.output.Write(); err != nil {
			return fmt.Errorf("failed to write to portaudio stream: %w", err)
		}
	}

	return nil
}

func (c *PlaybackDevice) Stop() error {
	c.playStopMu.Lock()
	defer c.playStopMu.Unlock()

	if c.playStop != nil {
		close(c.playStop)
		c.playStop = nil
	}
	return nil
}

func (c *PlaybackDevice) IsPlaying() bool { return c.playing.Load() }
