package audio

import (
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// OtoPlayback plays PCM16LE audio through the system speaker. Model audio
// deltas accumulate until minBuffer bytes are queued before the player opens,
// which avoids stuttering at response start.
type OtoPlayback struct {
	cfg    Config
	otoCtx *oto.Context

	mu        sync.Mutex
	cond      *sync.Cond
	buf       []byte
	player    *oto.Player
	playing   bool
	closed    bool
	primed    bool
}

// NewOtoPlayback initializes the speaker context.
func NewOtoPlayback(cfg Config) (*OtoPlayback, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms hardware buffer keeps barge-in latency within one chunk
		BufferSize: time.Duration(cfg.SampleRate * cfg.Channels * 2 / 10),
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, &DeviceError{Op: "playback", Err: err}
	}
	<-ready

	p := &OtoPlayback{
		cfg:    cfg,
		otoCtx: otoCtx,
		buf:    make([]byte, 0, cfg.SampleRate*4),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// Play implements PlaybackDevice.
func (p *OtoPlayback) Play(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return &DeviceError{Op: "playback", Err: errClosed}
	}

	p.buf = append(p.buf, data...)

	// wait for the prime threshold before opening the player on a fresh
	// response; once primed keep feeding immediately
	if !p.primed && len(p.buf) < p.cfg.MinPlaybackBuffer {
		return nil
	}
	p.primed = true

	if !p.playing {
		p.playing = true
		p.player = p.otoCtx.NewPlayer(p)
		p.player.Play()
	}

	p.cond.Signal()
	return nil
}

// Read implements io.Reader for oto.Player; oto pulls audio for playback.
func (p *OtoPlayback) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.buf) == 0 && !p.closed && p.playing {
		p.cond.Wait()
	}

	if (p.closed || !p.playing) && len(p.buf) == 0 {
		// silence lets oto drain gracefully
		for i := range buf {
			buf[i] = 0
		}
		return len(buf), nil
	}

	n := copy(buf, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

// Flush implements PlaybackDevice. Discards queued audio and resets the
// player so interrupted speech stops within one hardware buffer.
func (p *OtoPlayback) Flush() {
	p.mu.Lock()
	p.buf = p.buf[:0]
	p.primed = false

	if p.player != nil && p.playing {
		p.playing = false
		player := p.player
		p.player = nil
		p.cond.Broadcast()
		p.mu.Unlock()

		player.Pause()
		player.Reset()
		player.Close()
		return
	}
	p.mu.Unlock()
}

// Close implements PlaybackDevice.
func (p *OtoPlayback) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	player := p.player
	p.player = nil
	p.mu.Unlock()

	if player != nil {
		player.Close()
	}
	return nil
}
