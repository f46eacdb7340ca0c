package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// openaiCodec speaks the OpenAI Realtime API wire format.
type openaiCodec struct{}

// NewOpenAICodec returns the codec for the OpenAI Realtime API.
func NewOpenAICodec() Codec {
	return openaiCodec{}
}

func (openaiCodec) Version() string { return "openai-realtime/v1" }

func (openaiCodec) DialURL(endpoint, model string) string {
	return fmt.Sprintf("%s?model=%s", endpoint, model)
}

type oaSessionUpdate struct {
	Type    string    `json:"type"`
	Session oaSession `json:"session"`
}

type oaSession struct {
	Model              string            `json:"model"`
	Voice              string            `json:"voice"`
	Instructions       string            `json:"instructions"`
	InputAudioFormat   string            `json:"input_audio_format"`
	OutputAudioFormat  string            `json:"output_audio_format"`
	InputTranscription oaTranscription   `json:"input_audio_transcription"`
	TurnDetection      oaTurnDetection   `json:"turn_detection"`
	Temperature        float64           `json:"temperature"`
	MaxResponseTokens  int               `json:"max_response_output_tokens"`
}

type oaTranscription struct {
	Model string `json:"model"`
}

type oaTurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

func (openaiCodec) EncodeSessionUpdate(cfg SessionConfig) ([]byte, error) {
	return json.Marshal(oaSessionUpdate{
		Type: "session.update",
		Session: oaSession{
			Model:             cfg.Model,
			Voice:             cfg.Voice,
			Instructions:      cfg.Instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			InputTranscription: oaTranscription{
				Model: cfg.TranscriptionModel,
			},
			TurnDetection: oaTurnDetection{
				Type:              "server_vad",
				Threshold:         cfg.VADThreshold,
				PrefixPaddingMs:   cfg.PrefixPaddingMs,
				SilenceDurationMs: cfg.SilenceDurationMs,
			},
			Temperature:       0.7,
			MaxResponseTokens: 4096,
		},
	})
}

func (openaiCodec) EncodeAudioAppend(pcm []byte) ([]byte, error) {
	msg := map[string]string{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	}
	return json.Marshal(msg)
}

func (openaiCodec) EncodeTextMessage(text string) ([][]byte, error) {
	item, err := json.Marshal(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]string{
				{"type": "text", "text": text},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	create, err := json.Marshal(map[string]string{"type": "response.create"})
	if err != nil {
		return nil, err
	}
	return [][]byte{item, create}, nil
}

func (openaiCodec) EncodeCancel() ([]byte, error) {
	return json.Marshal(map[string]string{"type": "response.cancel"})
}

type oaServerMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Delta      string `json:"delta"`
	ResponseID string `json:"response_id"`
	Response   struct {
		ID string `json:"id"`
	} `json:"response"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (openaiCodec) Decode(raw []byte) (ServerEvent, error) {
	var msg oaServerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ServerEvent{}, fmt.Errorf("malformed server message: %w", err)
	}

	switch msg.Type {
	case "session.created":
		return ServerEvent{Type: EventSessionCreated}, nil

	case "input_audio_buffer.speech_started":
		return ServerEvent{Type: EventSpeechStarted}, nil

	case "input_audio_buffer.speech_stopped":
		return ServerEvent{Type: EventSpeechStopped}, nil

	case "conversation.item.input_audio_transcription.completed":
		return ServerEvent{Type: EventUserTranscriptFinal, Transcript: msg.Transcript}, nil

	case "response.audio.delta":
		audio, err := base64.StdEncoding.DecodeString(msg.Delta)
		if err != nil {
			return ServerEvent{}, fmt.Errorf("bad audio delta: %w", err)
		}
		return ServerEvent{Type: EventModelAudioDelta, ResponseID: msg.ResponseID, Audio: audio}, nil

	case "response.audio_transcript.delta":
		return ServerEvent{Type: EventModelTranscriptDelta, ResponseID: msg.ResponseID, Transcript: msg.Delta}, nil

	case "response.audio_transcript.done":
		return ServerEvent{Type: EventModelTranscriptDone, ResponseID: msg.ResponseID, Transcript: msg.Transcript}, nil

	case "response.done":
		id := msg.ResponseID
		if id == "" {
			id = msg.Response.ID
		}
		return ServerEvent{Type: EventResponseDone, ResponseID: id}, nil

	case "error":
		return ServerEvent{Type: EventError, ErrMessage: msg.Error.Message}, nil

	default:
		// plenty of event types carry nothing we act on
		return ServerEvent{Type: EventIgnored}, nil
	}
}
