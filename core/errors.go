package orchestration

import "errors"

var (
	// ErrCaptureFailure means the microphone could not be opened or closed
	// unexpectedly. The listening cycle is restarted.
	ErrCaptureFailure = errors.New("capture failure")
	// ErrRecognitionFailure ends the current recognition session.
	ErrRecognitionFailure = errors.New("recognition failure")
	// ErrSynthesisRequestFailure ends the response path of the current turn.
	ErrSynthesisRequestFailure = errors.New("synthesis request failure")
	// ErrNoAudioProduced marks a fragment that was skipped because synthesis
	// returned no audio.
	ErrNoAudioProduced = errors.New("no audio produced")
	// ErrPlaybackFailure aborts the speaking phase of the current turn.
	ErrPlaybackFailure = errors.New("playback failure")

	ErrClosed = errors.New("orchestrator closed")
)
