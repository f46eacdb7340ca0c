package realtime

// The wire format of the remote voice service is isolated behind Codec so the
// session state machine never touches vendor JSON. Codecs are versioned; the
// client logs the version it speaks at connect time.

// SessionConfig is the initial session configuration sent on connect.
type SessionConfig struct {
	Model              string
	Voice              string
	Instructions       string
	TranscriptionModel string
	VADThreshold       float64
	PrefixPaddingMs    int
	SilenceDurationMs  int
}

// ServerEventType classifies decoded remote events.
type ServerEventType string

const (
	EventSessionCreated       ServerEventType = "session_created"
	EventSpeechStarted        ServerEventType = "speech_started"
	EventSpeechStopped        ServerEventType = "speech_stopped"
	EventUserTranscriptFinal  ServerEventType = "user_transcript_final"
	EventModelTranscriptDelta ServerEventType = "model_transcript_delta"
	EventModelTranscriptDone  ServerEventType = "model_transcript_done"
	EventModelAudioDelta      ServerEventType = "model_audio_delta"
	EventResponseDone         ServerEventType = "response_done"
	EventError                ServerEventType = "error"
	EventIgnored              ServerEventType = "ignored"
)

// ServerEvent is the decoded, vendor-neutral form of a remote message.
type ServerEvent struct {
	Type       ServerEventType
	ResponseID string
	Transcript string // final transcript or delta text
	Audio      []byte // decoded PCM for audio deltas
	ErrMessage string
}

// Codec translates between the internal protocol and one vendor's wire
// format.
type Codec interface {
	// Version identifies the protocol revision this codec speaks.
	Version() string
	// DialURL builds the websocket URL for the configured model.
	DialURL(endpoint, model string) string
	EncodeSessionUpdate(cfg SessionConfig) ([]byte, error)
	EncodeAudioAppend(pcm []byte) ([]byte, error)
	// EncodeTextMessage returns the message sequence that injects a typed
	// user message and requests a response.
	EncodeTextMessage(text string) ([][]byte, error)
	EncodeCancel() ([]byte, error)
	Decode(raw []byte) (ServerEvent, error)
}
