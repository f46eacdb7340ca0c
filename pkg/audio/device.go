package audio

import (
	"context"
	"fmt"
)

// DeviceError reports a microphone or speaker failure. Fatal to the owning
// session; the orchestrator surfaces it and tears the session down.
type DeviceError struct {
	Op  string // "capture" or "playback"
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device error (%s): %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// CaptureDevice produces microphone frames. Frames carry monotonic sequence
// numbers assigned by the device.
type CaptureDevice interface {
	// Start begins capture; frames are delivered on the returned channel
	// until Stop is called or ctx is cancelled.
	Start(ctx context.Context) (<-chan Frame, error)
	Stop() error
}

// PlaybackDevice plays synthesized PCM audio.
type PlaybackDevice interface {
	// Play buffers data for playback. Never blocks on the audio hardware.
	Play(data []byte) error
	// Flush discards all pending audio immediately, including anything the
	// backend has internally buffered. Required for barge-in.
	Flush()
	Close() error
}

// Config describes the fixed session audio format.
type Config struct {
	SampleRate        int
	Channels          int
	FrameMs           int
	MinPlaybackBuffer int
}

// DefaultConfig matches the remote voice service contract: 24 kHz, 16-bit
// linear PCM, mono.
func DefaultConfig() Config {
	return Config{
		SampleRate:        24000,
		Channels:          1,
		FrameMs:           20,
		MinPlaybackBuffer: 4096,
	}
}

// BytesPerFrame returns the frame payload size for the configured format.
func (c Config) BytesPerFrame() int {
	return c.SampleRate * c.Channels * 2 * c.FrameMs / 1000
}
