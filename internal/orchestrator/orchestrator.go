package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kotoba-ai/kotoba/internal/config"
	"github.com/kotoba-ai/kotoba/internal/persona"
	"github.com/kotoba-ai/kotoba/internal/realtime"
	"github.com/kotoba-ai/kotoba/internal/turndetect"
	"github.com/kotoba-ai/kotoba/internal/vocab"
	"github.com/kotoba-ai/kotoba/pkg/Logger"
	"github.com/kotoba-ai/kotoba/pkg/audio"
)

var (
	ErrAlreadyConnected = errors.New("session already connected")
	ErrNoSession        = errors.New("no active session")
)

// SessionClient is the protocol surface the orchestrator drives. Satisfied
// by realtime.Client; narrowed to an interface so tests can script it.
type SessionClient interface {
	Connect(ctx context.Context, apiKey string, p persona.Persona) error
	Disconnect() error
	SubmitAudio(frame audio.Frame) error
	SendText(text string) error
	Interrupt() bool
	State() string
	Turns() <-chan realtime.Turn
	ModelAudio() <-chan realtime.AudioDelta
	Errors() <-chan error
}

// AudioIO is the device surface. Satisfied by audio.IO.
type AudioIO interface {
	StartCapture(ctx context.Context) (<-chan audio.Frame, error)
	StopCapture() error
	Play(data []byte) error
	FlushPlayback()
	Close() error
}

// Dependencies carries everything the orchestrator composes.
type Dependencies struct {
	// NewClient builds a fresh protocol client; one per session
	NewClient func() SessionClient
	Audio     AudioIO
	Analyzer  vocab.Analyzer
	Personas  *persona.Registry
}

// Orchestrator wires audio capture, the remote session, and vocabulary
// analysis into one control surface for the presentation layer. Three
// lanes run concurrently: audio, network, and analysis; the only shared
// mutation point is the store writer goroutine.
type Orchestrator struct {
	cfg    *config.Settings
	logger *Logger.Logger
	deps   Dependencies

	store      *vocab.Store
	transcript *Transcript

	mu            sync.Mutex
	client        SessionClient
	pool          *vocab.Pool
	detector      *turndetect.Detector
	generation    uint64
	sessionCancel context.CancelFunc
	captureCancel context.CancelFunc
	capturing     bool
	wg            sync.WaitGroup
}

func New(cfg *config.Settings, deps Dependencies, logger *Logger.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		deps:       deps,
		store:      vocab.NewStore(),
		transcript: NewTranscript(),
	}
}

// Connect opens a session with the remote voice model as the given
// persona. Vocabulary and transcript from any previous session are
// cleared; a failed connect leaves the orchestrator ready to retry.
func (o *Orchestrator) Connect(ctx context.Context, apiKey, personaID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.client != nil {
		return ErrAlreadyConnected
	}

	p, ok := o.deps.Personas.Get(personaID)
	if !ok {
		return fmt.Errorf("unknown persona %q", personaID)
	}
	client := o.deps.NewClient()
	if err := client.Connect(ctx, apiKey, p); err != nil {
		return err
	}

	o.generation++
	gen := o.generation
	o.store.Clear()
	o.transcript.Reset()

	pool := vocab.NewPool(o.deps.Analyzer, vocab.PoolConfig{
		MaxConcurrent:  o.cfg.Analyzer.MaxConcurrent,
		RequestTimeout: o.cfg.Analyzer.RequestTimeout,
		ContextTurns:   o.cfg.Analyzer.ContextTurns,
	}, o.logger)

	sessionCtx, cancel := context.WithCancel(context.Background())
	o.client = client
	o.pool = pool
	o.sessionCancel = cancel

	o.wg.Add(4)
	go o.turnLoop(sessionCtx, client, pool)
	go o.storeLoop(gen, pool)
	go o.playbackLoop(sessionCtx, client)
	go o.errorLoop(sessionCtx, client)

	o.logger.Infof("Session connected as persona %s (%s)", p.Name, p.ID)
	return nil
}

// StartConversation begins microphone capture and local turn detection.
func (o *Orchestrator) StartConversation() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.client == nil {
		return ErrNoSession
	}
	if o.capturing {
		return nil
	}

	o.detector = turndetect.New(turndetect.Config{
		Threshold:         o.cfg.TurnDetect.Threshold,
		MinSpeechMs:       o.cfg.TurnDetect.MinSpeechMs,
		TrailingSilenceMs: o.cfg.TurnDetect.TrailingSilenceMs,
	})

	captureCtx, cancel := context.WithCancel(context.Background())
	frames, err := o.deps.Audio.StartCapture(captureCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("start capture: %w", err)
	}
	o.captureCancel = cancel
	o.capturing = true

	o.wg.Add(2)
	go o.captureLoop(captureCtx, frames, o.client, o.detector)
	go o.detectorLoop(captureCtx, o.client, o.detector)

	o.logger.Infof("Conversation started")
	return nil
}

// StopConversation halts capture but keeps the session connected.
// Idempotent.
func (o *Orchestrator) StopConversation() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopConversationLocked()
	return nil
}

func (o *Orchestrator) stopConversationLocked() {
	if !o.capturing {
		return
	}
	o.capturing = false
	if o.captureCancel != nil {
		o.captureCancel()
		o.captureCancel = nil
	}
	if err := o.deps.Audio.StopCapture(); err != nil {
		o.logger.Warnf("Stopping capture: %v", err)
	}
	if o.detector != nil {
		o.detector.Reset()
	}
	o.logger.Infof("Conversation stopped")
}

// Disconnect tears down all three lanes. Capture stops, the network
// stream closes, and pending analyses finish in the background with their
// results discarded. Idempotent; vocabulary collected so far stays
// readable until the next Connect.
func (o *Orchestrator) Disconnect() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.client == nil {
		return nil
	}

	o.stopConversationLocked()
	// anything the analysis lane is still chewing on belongs to a dead
	// session now
	o.generation++

	if err := o.client.Disconnect(); err != nil {
		o.logger.Warnf("Disconnecting session: %v", err)
	}
	o.deps.Audio.FlushPlayback()
	o.sessionCancel()

	pool := o.pool
	go pool.Close()

	o.client = nil
	o.pool = nil
	o.logger.Infof("Session disconnected")
	return nil
}

// SendText injects a typed user message into the live conversation.
func (o *Orchestrator) SendText(text string) error {
	o.mu.Lock()
	client := o.client
	o.mu.Unlock()
	if client == nil {
		return ErrNoSession
	}
	return client.SendText(text)
}

// Vocabulary returns the current entries at or above the given level,
// first-seen order.
func (o *Orchestrator) Vocabulary(min vocab.Level) []vocab.Entry {
	return o.store.Filter(min)
}

// ExportVocabulary renders the study sheet.
func (o *Orchestrator) ExportVocabulary() string {
	return o.store.Export()
}

// ClearVocabulary wipes the collected entries without touching the
// session.
func (o *Orchestrator) ClearVocabulary() {
	o.store.Clear()
}

// ClearSession resets the transcript, the vocabulary store, and the
// analyzer's seen-fragment set while keeping the session connected.
func (o *Orchestrator) ClearSession() {
	o.mu.Lock()
	pool := o.pool
	o.mu.Unlock()

	o.store.Clear()
	o.transcript.Reset()
	if pool != nil {
		pool.Reset()
	}
	o.logger.Infof("Session cleared")
}

// Transcript returns the conversation log so far.
func (o *Orchestrator) Transcript() []TranscriptEntry {
	return o.transcript.All()
}

// SetDebug toggles verbose logging at runtime.
func (o *Orchestrator) SetDebug(debug bool) {
	o.logger.SetDebug(debug)
	o.logger.Infof("Debug logging set to %v", debug)
}

// State reports the protocol state for the presentation layer.
func (o *Orchestrator) State() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client == nil {
		return realtime.StateDisconnected
	}
	return o.client.State()
}

// Close releases the audio devices. The orchestrator is unusable after.
func (o *Orchestrator) Close() error {
	o.Disconnect()
	o.wg.Wait()
	return o.deps.Audio.Close()
}

// turnLoop routes finalized turns: every turn lands in the transcript,
// and both sides of the conversation feed analysis — the learner's own
// utterances carry vocabulary just as the model's do.
func (o *Orchestrator) turnLoop(ctx context.Context, client SessionClient, pool *vocab.Pool) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case turn := <-client.Turns():
			o.transcript.Add(turn)
			o.logger.Debugf("Turn finalized: %s %s (%s)", turn.Role, turn.ID, turn.State)
			if turn.Transcript != "" {
				pool.Submit(turn.ID, turn.Transcript)
			}
		}
	}
}

// storeLoop is the single writer for the vocabulary store. Runs until the
// pool closes its results channel; completions from a generation that has
// since disconnected are discarded.
func (o *Orchestrator) storeLoop(gen uint64, pool *vocab.Pool) {
	defer o.wg.Done()
	for result := range pool.Results() {
		if result.Err != nil {
			// per-fragment failure: log and move on, the conversation
			// is unaffected
			o.logger.Warnf("Vocabulary analysis failed: %v", result.Err)
			continue
		}
		o.mu.Lock()
		stale := gen != o.generation
		o.mu.Unlock()
		if stale {
			o.logger.Debugf("Discarding %d candidates from ended session", len(result.Candidates))
			continue
		}
		for i, c := range result.Candidates {
			o.store.Upsert(c, result.TurnFor[i])
		}
	}
}

// playbackLoop forwards model speech to the speaker.
func (o *Orchestrator) playbackLoop(ctx context.Context, client SessionClient) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case delta := <-client.ModelAudio():
			if err := o.deps.Audio.Play(delta.Data); err != nil {
				o.logger.Errorf("Playback failed: %v", err)
			}
		}
	}
}

// errorLoop surfaces session errors. Network-lane failures end the
// conversation; the client has already reset itself by the time they
// arrive here.
func (o *Orchestrator) errorLoop(ctx context.Context, client SessionClient) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-client.Errors():
			var sessionErr *realtime.SessionError
			if errors.As(err, &sessionErr) && sessionErr.Lane == "network" && client.State() == realtime.StateDisconnected {
				o.logger.Errorf("Session lost: %v", err)
				o.StopConversation()
				continue
			}
			o.logger.Errorf("Session error: %v", err)
		}
	}
}

// captureLoop feeds microphone frames to both the local detector and the
// remote session. Must never block on the network lane for long; submit
// errors are logged and dropped.
func (o *Orchestrator) captureLoop(ctx context.Context, frames <-chan audio.Frame, client SessionClient, detector *turndetect.Detector) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			detector.Feed(frame)
			if err := client.SubmitAudio(frame); err != nil {
				o.logger.Debugf("Dropping capture frame %d: %v", frame.Seq, err)
			}
		}
	}
}

// detectorLoop reacts to local turn boundaries. Speech starting while the
// model is talking is a barge-in: cancel the response and flush the
// speaker immediately so no stale audio plays out.
func (o *Orchestrator) detectorLoop(ctx context.Context, client SessionClient, detector *turndetect.Detector) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-detector.Events():
			switch ev.Type {
			case turndetect.SpeechStarted:
				if client.State() == realtime.StateStreamingModelAudio {
					if client.Interrupt() {
						o.deps.Audio.FlushPlayback()
						o.logger.Infof("Barge-in: playback flushed")
					}
				}
			case turndetect.SpeechEnded:
				o.logger.Debugf("Speech ended after %dms", ev.DurationMs)
			}
		}
	}
}
