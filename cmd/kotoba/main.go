package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kotoba-ai/kotoba/internal/config"
	"github.com/kotoba-ai/kotoba/internal/orchestrator"
	"github.com/kotoba-ai/kotoba/internal/persona"
	"github.com/kotoba-ai/kotoba/internal/realtime"
	"github.com/kotoba-ai/kotoba/internal/server"
	"github.com/kotoba-ai/kotoba/internal/vocab"
	"github.com/kotoba-ai/kotoba/pkg/Logger"
	"github.com/kotoba-ai/kotoba/pkg/audio"
)

// This is the main entry point for the voice chat server.
// Loads in all system components
// Exposes the session control surface over HTTP
func main() {
	// fetch cfg
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// load global logger
	logger := Logger.New(cfg.Debug)
	logger.Info("Logger initialized")

	// personas
	personas := loadPersonas(cfg, logger)

	// audio devices: the service contract fixes the format, settings only
	// override what they explicitly set
	audioCfg := audio.DefaultConfig()
	if cfg.Audio.SampleRate > 0 {
		audioCfg.SampleRate = cfg.Audio.SampleRate
	}
	if cfg.Audio.Channels > 0 {
		audioCfg.Channels = cfg.Audio.Channels
	}
	if cfg.Audio.FrameMs > 0 {
		audioCfg.FrameMs = cfg.Audio.FrameMs
	}
	if cfg.Audio.MinPlaybackBuffer > 0 {
		audioCfg.MinPlaybackBuffer = cfg.Audio.MinPlaybackBuffer
	}
	capture, err := audio.NewMalgoCapture(audioCfg)
	if err != nil {
		log.Fatalf("Failed to open microphone: %v", err)
	}
	playback, err := audio.NewOtoPlayback(audioCfg)
	if err != nil {
		log.Fatalf("Failed to open speaker: %v", err)
	}
	audioIO := audio.NewIO(audioCfg, capture, playback)

	// analysis backend
	analyzer, err := buildAnalyzer(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up vocabulary analyzer: %v", err)
	}

	// compose the orchestrator
	orc := orchestrator.New(cfg, orchestrator.Dependencies{
		NewClient: func() orchestrator.SessionClient {
			return realtime.NewClient(realtime.Config{
				Endpoint:           cfg.Realtime.Endpoint,
				Model:              cfg.Realtime.Model,
				TranscriptionModel: cfg.Realtime.TranscriptionModel,
				VADThreshold:       cfg.Realtime.VADThreshold,
				PrefixPaddingMs:    cfg.Realtime.PrefixPaddingMs,
				SilenceDurationMs:  cfg.Realtime.SilenceDurationMs,
				ConnectTimeout:     cfg.Realtime.ConnectTimeout,
			}, realtime.NewOpenAICodec(), logger)
		},
		Audio:    audioIO,
		Analyzer: analyzer,
		Personas: personas,
	}, logger)

	// compose router
	router := gin.Default()
	dep := server.NewServerDependencies(orc, personas, logger, cfg)
	server.InitializeRoutes(router, dep)

	// listen with graceful exit
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router.Handler(),
	}
	go func() {
		logger.Infof("Listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server exiting %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// 5 secs then cancel
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Shutdown err %v", err)
	}
	if err := orc.Close(); err != nil {
		logger.Errorf("Releasing devices: %v", err)
	}
	logger.Info("Shutdown system")
}

func loadPersonas(cfg *config.Settings, logger *Logger.Logger) *persona.Registry {
	if cfg.PersonasPath == "" {
		logger.Info("No personas file configured, using built-in personas")
		return persona.DefaultRegistry()
	}
	personas, err := persona.LoadFile(cfg.PersonasPath)
	if err != nil {
		logger.Warnf("Couldn't load personas from %s: %v, using built-in personas", cfg.PersonasPath, err)
		return persona.DefaultRegistry()
	}
	logger.Infof("Loaded %d personas", len(personas.List()))
	return personas
}

func buildAnalyzer(cfg *config.Settings, logger *Logger.Logger) (vocab.Analyzer, error) {
	switch cfg.Analyzer.Backend {
	case "gemini":
		return vocab.NewGeminiAnalyzer(context.Background(), cfg.Analyzer.GeminiApiKey, cfg.Analyzer.GeminiModel, logger)
	default:
		return vocab.NewOpenAIAnalyzer(cfg.AssistantKeys.OpenAiApiKey, cfg.Analyzer.Model, logger), nil
	}
}
