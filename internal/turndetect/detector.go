package turndetect

import (
	"math"
	"sync"
	"time"

	"github.com/kotoba-ai/kotoba/pkg/audio"
)

// EventType identifies a turn boundary signal.
type EventType string

const (
	SpeechStarted EventType = "speech_started"
	SpeechEnded   EventType = "speech_ended"
)

// Event is emitted on turn boundaries. The detector holds no conversation
// data; events carry timing only.
type Event struct {
	Type       EventType
	DurationMs int // speech duration, set on SpeechEnded
	At         time.Time
}

// Config tunes the energy heuristic. Thresholds are configurable because
// conversational pacing varies by persona and speaker.
type Config struct {
	// Threshold is the normalized RMS energy (0..1) above which a frame
	// counts as speech.
	Threshold float64
	// MinSpeechMs is the minimum sustained speech before SpeechStarted
	// fires, filtering out background noise bursts.
	MinSpeechMs int
	// TrailingSilenceMs is the silence required after speech before
	// SpeechEnded fires, avoiding premature cutoff mid-sentence.
	TrailingSilenceMs int
}

// DefaultConfig returns thresholds tuned for close-mic conversation.
func DefaultConfig() Config {
	return Config{
		Threshold:         0.02,
		MinSpeechMs:       200,
		TrailingSilenceMs: 700,
	}
}

// Detector classifies the live capture stream into speech and silence spans.
// It complements server-side VAD: locally detected speech onsets drive
// barge-in without waiting for a network round trip.
type Detector struct {
	cfg    Config
	events chan Event

	mu          sync.Mutex
	inSpeech    bool
	speechMs    int
	silenceMs   int
	speechStart time.Time
}

func New(cfg Config) *Detector {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.MinSpeechMs == 0 {
		cfg.MinSpeechMs = DefaultConfig().MinSpeechMs
	}
	if cfg.TrailingSilenceMs == 0 {
		cfg.TrailingSilenceMs = DefaultConfig().TrailingSilenceMs
	}
	return &Detector{
		cfg:    cfg,
		events: make(chan Event, 16),
	}
}

// Events returns the turn boundary channel.
func (d *Detector) Events() <-chan Event {
	return d.events
}

// Feed classifies one capture frame. Runs on the audio lane, so it never
// blocks: events are dropped if the consumer stalls.
func (d *Detector) Feed(frame audio.Frame) {
	frameMs := frame.DurationMs()
	if frameMs == 0 {
		return
	}
	voiced := rmsEnergy(frame.Data) >= d.cfg.Threshold

	d.mu.Lock()
	defer d.mu.Unlock()

	if voiced {
		if d.speechMs == 0 {
			d.speechStart = frame.Timestamp
		}
		d.speechMs += frameMs
		d.silenceMs = 0

		if !d.inSpeech && d.speechMs >= d.cfg.MinSpeechMs {
			d.inSpeech = true
			d.emit(Event{Type: SpeechStarted, At: frame.Timestamp})
		}
		return
	}

	if !d.inSpeech {
		// noise burst shorter than MinSpeechMs; discard the candidate
		d.speechMs = 0
		return
	}

	d.silenceMs += frameMs
	if d.silenceMs >= d.cfg.TrailingSilenceMs {
		duration := d.speechMs
		d.inSpeech = false
		d.speechMs = 0
		d.silenceMs = 0
		d.emit(Event{Type: SpeechEnded, DurationMs: duration, At: frame.Timestamp})
	}
}

// Reset clears detector state, e.g. on disconnect.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inSpeech = false
	d.speechMs = 0
	d.silenceMs = 0
}

func (d *Detector) emit(ev Event) {
	select {
	case d.events <- ev:
	default:
	}
}

// rmsEnergy computes normalized RMS energy (0..1) over PCM16LE samples.
func rmsEnergy(data []byte) float64 {
	if len(data) < 2 {
		return 0
	}

	var sum float64
	sampleCount := len(data) / 2

	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(data[i]) | (int16(data[i+1]) << 8)
		f := float64(sample)
		sum += f * f
	}

	rms := math.Sqrt(sum / float64(sampleCount))
	return rms / 32768.0
}
