package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/lito/core/audio"
)

// PlaybackDevice plays one clip at a time. Play blocks until the device
// callback has consumed the whole clip.
type PlaybackDevice struct {
	device       *malgo.Device
	config       malgo.DeviceConfig
	encodingInfo audio.EncodingInfo

	leftoverAudio []byte
	marks         []playbackMark

	mu      sync.Mutex
	audioMu sync.Mutex
}

type playbackMark struct {
	position int
	callback func(played bool)
}

func (c *PlaybackDevice) init(audioContext *malgo.AllocatedContext, encodingInfo audio.EncodingInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sampleRate := uint32(encodingInfo.SampleRate)
	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.encodingInfo = audio.EncodingInfo{SampleRate: encodingInfo.SampleRate, Format: audio.EncodingLinear16, Channels: channels}
	c.config = malgo.DefaultDeviceConfig(malgo.Playback)
	c.config.SampleRate = sampleRate
	c.config.Playback.Format = format
	c.config.Playback.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	c.config.Periods = 4

	var err error
	if c.device, err = malgo.InitDevice(
		audioContext.Context,
		c.config,
		malgo.DeviceCallbacks{Data: c.processAudio(bytesPerFrame)},
	); err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	return nil
}

func (c *PlaybackDevice) start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return audio.ErrDeviceNotInitialized
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	return nil
}

func (c *PlaybackDevice) EncodingInfo() audio.EncodingInfo { return c.encodingInfo }

// Play replaces anything queued with pcm and waits until it has been played,
// ctx is done or Stop is called.
func (c *PlaybackDevice) Play(ctx context.Context, pcm []byte) error {
	c.mu.Lock()
	started := c.device != nil && c.device.IsStarted()
	c.mu.Unlock()
	if !started {
		return fmt.Errorf("device not started")
	}

	played := make(chan bool, 1)
	c.audioMu.Lock()
	c.dropMarksLocked()
	c.leftoverAudio = append(make([]byte, 0, len(pcm)), pcm...)
	c.marks = append(c.marks, playbackMark{
		position: len(c.leftoverAudio),
		callback: func(ok bool) { played <- ok },
	})
	c.audioMu.Unlock()

	select {
	case ok := <-played:
		if !ok {
			return audio.ErrPlaybackStopped
		}
		return nil
	case <-ctx.Done():
		c.Stop()
		return ctx.Err()
	}
}

// Stop drops queued audio and releases any blocked Play call.
func (c *PlaybackDevice) Stop() error {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()

	c.leftoverAudio = nil
	c.dropMarksLocked()
	return nil
}

func (c *PlaybackDevice) IsPlaying() bool {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()

	return len(c.leftoverAudio) > 0
}

func (c *PlaybackDevice) dropMarksLocked() {
	for _, mark := range c.marks {
		mark.callback(false)
	}
	c.marks = nil
}

func (c *PlaybackDevice) uninit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return
	}

	c.device.Uninit()
	c.device = nil
}

func (c *PlaybackDevice) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame

		c.audioMu.Lock()
		defer c.audioMu.Unlock()

		n := copy(pOutput[:need], c.leftoverAudio)
		clear(pOutput[n:need])
		c.leftoverAudio = c.leftoverAudio[n:]

		passedMarks := 0
		for i := range c.marks {
			c.marks[i].position -= n
			if c.marks[i].position <= 0 {
				passedMarks++
			}
		}
		for _, mark := range c.marks[:passedMarks] {
			mark.callback(true)
		}
		c.marks = c.marks[passedMarks:]
	}
}
