package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// MalgoCapture captures microphone audio through miniaudio.
type MalgoCapture struct {
	cfg    Config
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	seq     uint64
	mu      sync.Mutex
	frames  chan Frame
	pending []byte
	started bool
}

// NewMalgoCapture initializes the audio context. The device itself opens on
// Start so a failed microphone surfaces as a session error, not a startup one.
func NewMalgoCapture(cfg Config) (*MalgoCapture, error) {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	mctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, &DeviceError{Op: "capture", Err: err}
	}

	return &MalgoCapture{cfg: cfg, ctx: mctx}, nil
}

// Start implements CaptureDevice.
func (m *MalgoCapture) Start(ctx context.Context) (<-chan Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return m.frames, nil
	}

	m.frames = make(chan Frame, 64)
	frameBytes := m.cfg.BytesPerFrame()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(m.cfg.Channels)
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(m.cfg.FrameMs)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			m.mu.Lock()
			m.pending = append(m.pending, pInputSamples...)
			for len(m.pending) >= frameBytes {
				data := make([]byte, frameBytes)
				copy(data, m.pending[:frameBytes])
				m.pending = m.pending[frameBytes:]

				frame := Frame{
					Seq:        atomic.AddUint64(&m.seq, 1),
					Direction:  Capture,
					Data:       data,
					Timestamp:  time.Now(),
					SampleRate: int32(m.cfg.SampleRate),
					Channels:   int16(m.cfg.Channels),
				}
				select {
				case m.frames <- frame:
				default:
					// capture lane must never block; drop when the
					// consumer has stalled
				}
			}
			m.mu.Unlock()
		},
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, &DeviceError{Op: "capture", Err: err}
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, &DeviceError{Op: "capture", Err: err}
	}

	m.device = device
	m.started = true

	go func() {
		<-ctx.Done()
		m.Stop()
	}()

	return m.frames, nil
}

// Stop implements CaptureDevice. Safe to call repeatedly.
func (m *MalgoCapture) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	m.started = false

	if m.device != nil {
		m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}
	close(m.frames)
	m.pending = nil
	return nil
}

// Close releases the audio context.
func (m *MalgoCapture) Close() error {
	m.Stop()
	if m.ctx != nil {
		return m.ctx.Uninit()
	}
	return nil
}
