package audio

import "errors"

// ErrPlaybackStopped is returned by a blocking play call that was cut short
// by Stop.
var ErrPlaybackStopped = errors.New("playback stopped")

var ErrDeviceNotInitialized = errors.New("device not initialized")
