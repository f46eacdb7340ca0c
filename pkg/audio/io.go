package audio

import (
	"context"
	"errors"
)

var errClosed = errors.New("device closed")

// IO bundles the capture and playback devices for one session. No business
// logic lives here; turn detection and protocol handling sit above it.
type IO struct {
	cfg      Config
	capture  CaptureDevice
	playback PlaybackDevice
}

func NewIO(cfg Config, capture CaptureDevice, playback PlaybackDevice) *IO {
	return &IO{cfg: cfg, capture: capture, playback: playback}
}

func (a *IO) Config() Config { return a.cfg }

// StartCapture begins microphone streaming.
func (a *IO) StartCapture(ctx context.Context) (<-chan Frame, error) {
	return a.capture.Start(ctx)
}

// StopCapture halts the microphone. Idempotent.
func (a *IO) StopCapture() error {
	return a.capture.Stop()
}

// Play queues synthesized audio for the speaker.
func (a *IO) Play(data []byte) error {
	return a.playback.Play(data)
}

// FlushPlayback discards all queued speaker audio immediately.
func (a *IO) FlushPlayback() {
	a.playback.Flush()
}

// Close releases both devices.
func (a *IO) Close() error {
	capErr := a.capture.Stop()
	playErr := a.playback.Close()
	if capErr != nil {
		return capErr
	}
	return playErr
}
