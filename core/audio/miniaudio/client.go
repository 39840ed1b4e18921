package miniaudio

import (
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/lito/core/audio"
)

const DefaultPlaybackSampleRate = 24000

type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	capture      CaptureDevice
	playback     PlaybackDevice
}

type ClientOptions struct {
	CaptureEncoding  audio.EncodingInfo
	PlaybackEncoding audio.EncodingInfo
}

type ClientOption func(*ClientOptions)

func WithCaptureSampleRate(sampleRate int) ClientOption {
	return func(o *ClientOptions) { o.CaptureEncoding.SampleRate = sampleRate }
}

func WithPlaybackSampleRate(sampleRate int) ClientOption {
	return func(o *ClientOptions) { o.PlaybackEncoding.SampleRate = sampleRate }
}

func NewClient(opts ...ClientOption) (*Client, error) {
	options := ClientOptions{
		CaptureEncoding:  audio.GetDefaultEncodingInfo(),
		PlaybackEncoding: audio.EncodingInfo{SampleRate: DefaultPlaybackSampleRate, Format: audio.EncodingLinear16, Channels: 1},
	}
	for _, opt := range opts {
		opt(&options)
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{audioContext: audioCtx}

	if err := client.playback.init(audioCtx, options.PlaybackEncoding); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}

	if err := client.playback.start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	if err := client.capture.init(audioCtx, options.CaptureEncoding); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &client, nil
}

func (c *Client) Capture() *CaptureDevice   { return &c.capture }
func (c *Client) Playback() *PlaybackDevice { return &c.playback }

func (c *Client) Close() {
	_ = c.capture.StopCapture()
	c.capture.uninit()
	_ = c.playback.Stop()
	c.playback.uninit()
	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}
