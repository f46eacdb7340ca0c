package realtime

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestEncodeSessionUpdate(t *testing.T) {
	codec := NewOpenAICodec()

	raw, err := codec.EncodeSessionUpdate(SessionConfig{
		Model:              "gpt-4o-realtime-preview",
		Voice:              "alloy",
		Instructions:       "日本語で話してください。",
		TranscriptionModel: "whisper-1",
		VADThreshold:       0.5,
		PrefixPaddingMs:    300,
		SilenceDurationMs:  500,
	})
	if err != nil {
		t.Fatalf("EncodeSessionUpdate failed: %v", err)
	}

	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if msg["type"] != "session.update" {
		t.Errorf("Expected type session.update, got %v", msg["type"])
	}

	session := msg["session"].(map[string]any)
	if session["input_audio_format"] != "pcm16" {
		t.Errorf("Expected pcm16 input format, got %v", session["input_audio_format"])
	}
	td := session["turn_detection"].(map[string]any)
	if td["type"] != "server_vad" {
		t.Errorf("Expected server_vad, got %v", td["type"])
	}
	if td["silence_duration_ms"] != float64(500) {
		t.Errorf("Expected silence_duration_ms 500, got %v", td["silence_duration_ms"])
	}
}

func TestEncodeAudioAppend(t *testing.T) {
	codec := NewOpenAICodec()

	pcm := []byte{1, 2, 3, 4}
	raw, err := codec.EncodeAudioAppend(pcm)
	if err != nil {
		t.Fatalf("EncodeAudioAppend failed: %v", err)
	}

	var msg map[string]string
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if msg["type"] != "input_audio_buffer.append" {
		t.Errorf("Expected input_audio_buffer.append, got %s", msg["type"])
	}

	decoded, err := base64.StdEncoding.DecodeString(msg["audio"])
	if err != nil {
		t.Fatalf("Audio payload is not base64: %v", err)
	}
	if len(decoded) != len(pcm) {
		t.Errorf("Expected %d bytes, got %d", len(pcm), len(decoded))
	}
}

func TestEncodeTextMessage(t *testing.T) {
	codec := NewOpenAICodec()

	msgs, err := codec.EncodeTextMessage("こんにちは")
	if err != nil {
		t.Fatalf("EncodeTextMessage failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected item.create + response.create, got %d messages", len(msgs))
	}

	var first map[string]any
	if err := json.Unmarshal(msgs[0], &first); err != nil {
		t.Fatalf("First message not JSON: %v", err)
	}
	if first["type"] != "conversation.item.create" {
		t.Errorf("Expected conversation.item.create, got %v", first["type"])
	}

	var second map[string]string
	if err := json.Unmarshal(msgs[1], &second); err != nil {
		t.Fatalf("Second message not JSON: %v", err)
	}
	if second["type"] != "response.create" {
		t.Errorf("Expected response.create, got %v", second["type"])
	}
}

func TestDecodeEvents(t *testing.T) {
	codec := NewOpenAICodec()

	cases := []struct {
		raw  string
		want ServerEventType
	}{
		{`{"type":"session.created"}`, EventSessionCreated},
		{`{"type":"input_audio_buffer.speech_started"}`, EventSpeechStarted},
		{`{"type":"input_audio_buffer.speech_stopped"}`, EventSpeechStopped},
		{`{"type":"conversation.item.input_audio_transcription.completed","transcript":"日本語を勉強しています"}`, EventUserTranscriptFinal},
		{`{"type":"response.audio_transcript.delta","delta":"そう","response_id":"r1"}`, EventModelTranscriptDelta},
		{`{"type":"response.audio_transcript.done","transcript":"そうですね","response_id":"r1"}`, EventModelTranscriptDone},
		{`{"type":"response.done","response_id":"r1"}`, EventResponseDone},
		{`{"type":"error","error":{"message":"boom"}}`, EventError},
		{`{"type":"rate_limits.updated"}`, EventIgnored},
	}

	for _, tc := range cases {
		event, err := codec.Decode([]byte(tc.raw))
		if err != nil {
			t.Errorf("Decode(%s) failed: %v", tc.raw, err)
			continue
		}
		if event.Type != tc.want {
			t.Errorf("Decode(%s): expected %s, got %s", tc.raw, tc.want, event.Type)
		}
	}
}

func TestDecodeAudioDelta(t *testing.T) {
	codec := NewOpenAICodec()

	pcm := []byte{9, 8, 7}
	raw := `{"type":"response.audio.delta","delta":"` + base64.StdEncoding.EncodeToString(pcm) + `","response_id":"r2"}`

	event, err := codec.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if event.Type != EventModelAudioDelta {
		t.Fatalf("Expected audio delta, got %s", event.Type)
	}
	if event.ResponseID != "r2" {
		t.Errorf("Expected response id r2, got %s", event.ResponseID)
	}
	if len(event.Audio) != len(pcm) {
		t.Errorf("Expected %d audio bytes, got %d", len(pcm), len(event.Audio))
	}
}

func TestDecodeMalformed(t *testing.T) {
	codec := NewOpenAICodec()

	if _, err := codec.Decode([]byte(`not json`)); err == nil {
		t.Error("Expected error for malformed JSON")
	}
	if _, err := codec.Decode([]byte(`{"type":"response.audio.delta","delta":"!!!not-base64"}`)); err == nil {
		t.Error("Expected error for bad base64 audio")
	}
}
