package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type RealtimeConfig struct {
	Endpoint           string        `mapstructure:"endpoint"`
	Model              string        `mapstructure:"model"`
	TranscriptionModel string        `mapstructure:"transcription_model"`
	VADThreshold       float64       `mapstructure:"vad_threshold"`
	PrefixPaddingMs    int           `mapstructure:"prefix_padding_ms"`
	SilenceDurationMs  int           `mapstructure:"silence_duration_ms"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
}

type AudioConfig struct {
	SampleRate        int `mapstructure:"sample_rate"`
	Channels          int `mapstructure:"channels"`
	FrameMs           int `mapstructure:"frame_ms"`
	MinPlaybackBuffer int `mapstructure:"min_playback_buffer"`
}

type TurnDetectConfig struct {
	Threshold         float64 `mapstructure:"threshold"`
	MinSpeechMs       int     `mapstructure:"min_speech_ms"`
	TrailingSilenceMs int     `mapstructure:"trailing_silence_ms"`
}

type AnalyzerConfig struct {
	Backend        string        `mapstructure:"backend"` // "openai" or "gemini"
	Model          string        `mapstructure:"model"`
	GeminiModel    string        `mapstructure:"gemini_model"`
	GeminiApiKey   string        `mapstructure:"gemini_api_key"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ContextTurns   int           `mapstructure:"context_turns"`
}

type AssistantKeysObj struct {
	OpenAiApiKey string `mapstructure:"open_ai_api_key"`
}

type Settings struct {
	AssistantKeys AssistantKeysObj `mapstructure:"assistantKeys"`
	Realtime      RealtimeConfig   `mapstructure:"realtime"`
	Audio         AudioConfig      `mapstructure:"audio"`
	TurnDetect    TurnDetectConfig `mapstructure:"turn_detect"`
	Analyzer      AnalyzerConfig   `mapstructure:"analyzer"`
	PersonasPath  string           `mapstructure:"personas_path"`
	ListenAddr    string           `mapstructure:"listen_addr"`
	Env           string           `mapstructure:"env"`
	Debug         bool             `mapstructure:"debug" default:"false"`
}

func Load() (*Settings, error) {
	viper.SetConfigName("config_" + genEnv())
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &settings, nil
}

func setDefaults() {
	viper.SetDefault("realtime.endpoint", "wss://api.openai.com/v1/realtime")
	viper.SetDefault("realtime.model", "gpt-4o-realtime-preview")
	viper.SetDefault("realtime.transcription_model", "whisper-1")
	viper.SetDefault("realtime.vad_threshold", 0.5)
	viper.SetDefault("realtime.prefix_padding_ms", 300)
	viper.SetDefault("realtime.silence_duration_ms", 500)
	viper.SetDefault("realtime.connect_timeout", 10*time.Second)
	viper.SetDefault("audio.sample_rate", 24000)
	viper.SetDefault("audio.channels", 1)
	viper.SetDefault("audio.frame_ms", 20)
	viper.SetDefault("audio.min_playback_buffer", 4096)
	viper.SetDefault("turn_detect.threshold", 0.02)
	viper.SetDefault("turn_detect.min_speech_ms", 200)
	viper.SetDefault("turn_detect.trailing_silence_ms", 700)
	viper.SetDefault("analyzer.backend", "openai")
	viper.SetDefault("analyzer.model", "gpt-4o-mini")
	viper.SetDefault("analyzer.gemini_model", "gemini-1.5-flash")
	viper.SetDefault("analyzer.max_concurrent", 2)
	viper.SetDefault("analyzer.request_timeout", 20*time.Second)
	viper.SetDefault("analyzer.context_turns", 3)
	viper.SetDefault("personas_path", "config/personas.json")
	viper.SetDefault("listen_addr", ":8080")
}

func genEnv() string {
	env := viper.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
