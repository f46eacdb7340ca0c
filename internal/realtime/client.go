package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"

	"github.com/kotoba-ai/kotoba/internal/persona"
	"github.com/kotoba-ai/kotoba/pkg/Logger"
	"github.com/kotoba-ai/kotoba/pkg/audio"
)

// Session states.
const (
	StateDisconnected        = "disconnected"
	StateConnecting          = "connecting"
	StateConnectedIdle       = "connected_idle"
	StateStreamingUserAudio  = "streaming_user_audio"
	StateAwaitingResponse    = "awaiting_response"
	StateStreamingModelAudio = "streaming_model_audio"
	StateError               = "error"
)

// Config holds the remote voice service parameters.
type Config struct {
	Endpoint           string
	Model              string
	TranscriptionModel string
	VADThreshold       float64
	PrefixPaddingMs    int
	SilenceDurationMs  int
	ConnectTimeout     time.Duration
	// PendingBufferBytes sizes the pre-connect audio ring.
	PendingBufferBytes int
}

// AudioDelta is one chunk of model speech bound for playback.
type AudioDelta struct {
	ResponseID string
	Data       []byte
}

// Client owns the persistent connection to the remote voice model and its
// protocol state machine. One Client per Session; destroyed on disconnect.
type Client struct {
	cfg    Config
	codec  Codec
	logger *Logger.Logger

	machine *fsm.FSM

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu             sync.Mutex
	pending        audio.FrameRing
	userTurn       *Turn
	modelTurn      *Turn
	activeResponse string
	cancelled      map[string]bool
	closed         bool

	turns      chan Turn
	modelAudio chan AudioDelta
	errs       chan error
}

// NewClient builds a disconnected client speaking the given codec.
func NewClient(cfg Config, codec Codec, logger *Logger.Logger) *Client {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PendingBufferBytes == 0 {
		cfg.PendingBufferBytes = 256 * 1024
	}

	c := &Client{
		cfg:        cfg,
		codec:      codec,
		logger:     logger,
		pending:    audio.NewRing(cfg.PendingBufferBytes),
		cancelled:  make(map[string]bool),
		turns:      make(chan Turn, 16),
		modelAudio: make(chan AudioDelta, 64),
		errs:       make(chan error, 8),
	}

	c.machine = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: "dial", Src: []string{StateDisconnected}, Dst: StateConnecting},
			{Name: "ready", Src: []string{StateConnecting}, Dst: StateConnectedIdle},
			{Name: "user_audio", Src: []string{StateConnectedIdle, StateStreamingUserAudio}, Dst: StateStreamingUserAudio},
			{Name: "turn_end", Src: []string{StateStreamingUserAudio, StateConnectedIdle}, Dst: StateAwaitingResponse},
			{Name: "model_audio", Src: []string{StateAwaitingResponse, StateConnectedIdle, StateStreamingModelAudio}, Dst: StateStreamingModelAudio},
			{Name: "idle", Src: []string{StateStreamingModelAudio, StateAwaitingResponse}, Dst: StateConnectedIdle},
			{Name: "barge_in", Src: []string{StateStreamingModelAudio}, Dst: StateStreamingUserAudio},
			{Name: "fail", Src: []string{StateConnecting, StateConnectedIdle, StateStreamingUserAudio, StateAwaitingResponse, StateStreamingModelAudio}, Dst: StateError},
			{Name: "reset", Src: []string{StateConnecting, StateConnectedIdle, StateStreamingUserAudio, StateAwaitingResponse, StateStreamingModelAudio, StateError}, Dst: StateDisconnected},
		},
		fsm.Callbacks{},
	)

	return c
}

// State returns the current protocol state.
func (c *Client) State() string {
	return c.machine.Current()
}

// Turns delivers finalized and interrupted turns.
func (c *Client) Turns() <-chan Turn { return c.turns }

// ModelAudio delivers model speech chunks for playback.
func (c *Client) ModelAudio() <-chan AudioDelta { return c.modelAudio }

// Errors delivers network-lane errors.
func (c *Client) Errors() <-chan error { return c.errs }

// Connect dials the remote service and sends the initial session
// configuration. Credential rejection surfaces as ErrAuth, other dial
// failures as ErrConnect; both leave the client disconnected again.
func (c *Client) Connect(ctx context.Context, apiKey string, p persona.Persona) error {
	if err := c.machine.Event(ctx, "dial"); err != nil {
		return fmt.Errorf("connect invalid in state %s: %w", c.State(), err)
	}

	c.logger.Infof("Dialing realtime service (%s) as persona %s", c.codec.Version(), p.ID)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.codec.DialURL(c.cfg.Endpoint, c.cfg.Model), headers)
	if err != nil {
		c.failAndReset(ctx)
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
		}
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	instructions := p.Prompt
	if instructions == "" {
		instructions = "You are a Japanese conversation partner. Always respond in Japanese."
	}
	voice := p.Voice
	if voice == "" {
		voice = "alloy"
	}

	cfgMsg, err := c.codec.EncodeSessionUpdate(SessionConfig{
		Model:              c.cfg.Model,
		Voice:              voice,
		Instructions:       instructions,
		TranscriptionModel: c.cfg.TranscriptionModel,
		VADThreshold:       c.cfg.VADThreshold,
		PrefixPaddingMs:    c.cfg.PrefixPaddingMs,
		SilenceDurationMs:  c.cfg.SilenceDurationMs,
	})
	if err != nil {
		conn.Close()
		c.failAndReset(ctx)
		return fmt.Errorf("%w: encode session config: %v", ErrConnect, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	if err := c.write(cfgMsg); err != nil {
		conn.Close()
		c.failAndReset(ctx)
		return fmt.Errorf("%w: send session config: %v", ErrConnect, err)
	}

	go c.readLoop()

	c.logger.Infof("Session configured, awaiting session.created")
	return nil
}

// SubmitAudio forwards a capture frame to the remote service. Before the
// session is ready frames are buffered, not dropped.
func (c *Client) SubmitAudio(frame audio.Frame) error {
	switch c.State() {
	case StateConnectedIdle, StateStreamingUserAudio:
	case StateDisconnected, StateError:
		return ErrNotConnected
	default:
		// connecting / awaiting / model streaming: keep for later
		return c.bufferFrame(frame)
	}

	msg, err := c.codec.EncodeAudioAppend(frame.Data)
	if err != nil {
		return err
	}
	if err := c.write(msg); err != nil {
		c.emitErr(&SessionError{Lane: "network", Err: err})
		return err
	}

	if c.State() == StateConnectedIdle {
		_ = c.machine.Event(context.Background(), "user_audio")
		c.openUserTurn()
	}
	return nil
}

func (c *Client) bufferFrame(frame audio.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Enqueue(frame)
}

// SendText injects a typed user message into the conversation and requests
// a spoken response.
func (c *Client) SendText(text string) error {
	switch c.State() {
	case StateDisconnected, StateConnecting, StateError:
		return ErrNotConnected
	}

	msgs, err := c.codec.EncodeTextMessage(text)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := c.write(msg); err != nil {
			c.emitErr(&SessionError{Lane: "network", Err: err})
			return err
		}
	}

	c.mu.Lock()
	turn := newTurn(RoleUser)
	turn.Transcript = text
	closed := turn.close(TurnClosed)
	c.mu.Unlock()
	c.emitTurn(closed)

	_ = c.machine.Event(context.Background(), "turn_end")
	return nil
}

// Interrupt handles barge-in: new user speech while the model is talking.
// Sends the cancel signal, discards the rest of the active response, and
// closes the interrupted turn. Returns false when there is nothing to
// interrupt.
func (c *Client) Interrupt() bool {
	if c.State() != StateStreamingModelAudio {
		return false
	}

	msg, err := c.codec.EncodeCancel()
	if err == nil {
		if werr := c.write(msg); werr != nil {
			c.emitErr(&SessionError{Lane: "network", Err: werr})
		}
	}

	c.mu.Lock()
	if c.activeResponse != "" {
		c.cancelled[c.activeResponse] = true
	}
	var interrupted *Turn
	if c.modelTurn != nil {
		t := c.modelTurn.close(TurnInterrupted)
		interrupted = &t
		c.modelTurn = nil
	}
	c.activeResponse = ""
	c.mu.Unlock()

	if interrupted != nil {
		c.emitTurn(*interrupted)
	}

	_ = c.machine.Event(context.Background(), "barge_in")
	c.openUserTurn()
	// the speech onset that triggered the barge-in was buffered while the
	// model was talking; forward it now that the user holds the floor
	c.flushPending()
	c.logger.Infof("Barge-in: cancelled model response")
	return true
}

// Disconnect closes the connection and discards in-flight turns. Valid from
// any state and idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed && c.conn == nil && c.State() == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.userTurn = nil
	c.modelTurn = nil
	c.activeResponse = ""
	c.cancelled = make(map[string]bool)
	c.pending.Reset()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	if c.State() != StateDisconnected {
		_ = c.machine.Event(context.Background(), "reset")
	}
	c.logger.Infof("Session disconnected")
	return nil
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			c.emitErr(&SessionError{Lane: "network", Err: err})
			_ = c.machine.Event(context.Background(), "fail")
			_ = c.machine.Event(context.Background(), "reset")
			return
		}

		event, err := c.codec.Decode(raw)
		if err != nil {
			c.logger.Warnf("Dropping undecodable server message: %v", err)
			continue
		}
		c.handleServerEvent(event)
	}
}

func (c *Client) handleServerEvent(event ServerEvent) {
	ctx := context.Background()

	switch event.Type {
	case EventSessionCreated:
		if err := c.machine.Event(ctx, "ready"); err == nil {
			c.logger.Infof("Session created, flushing pre-connect audio")
			c.flushPending()
		}

	case EventSpeechStarted:
		c.openUserTurn()
		if c.State() == StateConnectedIdle {
			_ = c.machine.Event(ctx, "user_audio")
		}

	case EventSpeechStopped:
		_ = c.machine.Event(ctx, "turn_end")

	case EventUserTranscriptFinal:
		c.mu.Lock()
		turn := c.userTurn
		if turn == nil {
			turn = newTurn(RoleUser)
		}
		turn.Transcript = event.Transcript
		closed := turn.close(TurnClosed)
		c.userTurn = nil
		c.mu.Unlock()
		c.emitTurn(closed)

	case EventModelAudioDelta:
		c.mu.Lock()
		if c.cancelled[event.ResponseID] {
			c.mu.Unlock()
			return
		}
		c.activeResponse = event.ResponseID
		if c.modelTurn == nil {
			c.modelTurn = newTurn(RoleModel)
		}
		c.mu.Unlock()

		_ = c.machine.Event(ctx, "model_audio")

		select {
		case c.modelAudio <- AudioDelta{ResponseID: event.ResponseID, Data: event.Audio}:
		default:
			c.logger.Warnf("Playback channel full, dropping %d audio bytes", len(event.Audio))
		}

	case EventModelTranscriptDelta:
		c.mu.Lock()
		if !c.cancelled[event.ResponseID] {
			if c.modelTurn == nil {
				c.modelTurn = newTurn(RoleModel)
			}
			c.modelTurn.Transcript += event.Transcript
		}
		c.mu.Unlock()

	case EventModelTranscriptDone:
		c.mu.Lock()
		if !c.cancelled[event.ResponseID] && c.modelTurn != nil {
			c.modelTurn.Transcript = event.Transcript
		}
		c.mu.Unlock()

	case EventResponseDone:
		c.mu.Lock()
		var done *Turn
		if !c.cancelled[event.ResponseID] && c.modelTurn != nil {
			t := c.modelTurn.close(TurnClosed)
			done = &t
		}
		c.modelTurn = nil
		c.activeResponse = ""
		delete(c.cancelled, event.ResponseID)
		c.mu.Unlock()

		if done != nil {
			c.emitTurn(*done)
		}
		_ = c.machine.Event(ctx, "idle")
		c.flushPending()

	case EventError:
		c.emitErr(&SessionError{Lane: "network", Err: fmt.Errorf("server error: %s", event.ErrMessage)})

	case EventIgnored:
	}
}

func (c *Client) openUserTurn() {
	c.mu.Lock()
	if c.userTurn == nil {
		c.userTurn = newTurn(RoleUser)
	}
	c.mu.Unlock()
}

func (c *Client) flushPending() {
	c.mu.Lock()
	frames := c.pending.Drain()
	c.mu.Unlock()

	for _, frame := range frames {
		if err := c.SubmitAudio(frame); err != nil {
			c.logger.Warnf("Failed to flush buffered audio frame %d: %v", frame.Seq, err)
			return
		}
	}
}

func (c *Client) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *Client) emitTurn(turn Turn) {
	select {
	case c.turns <- turn:
	default:
		c.logger.Warnf("Turn channel full, dropping turn %s", turn.ID)
	}
}

func (c *Client) emitErr(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

func (c *Client) failAndReset(ctx context.Context) {
	_ = c.machine.Event(ctx, "fail")
	_ = c.machine.Event(ctx, "reset")
}
