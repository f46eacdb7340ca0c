package server

import (
	"github.com/gin-gonic/gin"

	"github.com/kotoba-ai/kotoba/internal/config"
	"github.com/kotoba-ai/kotoba/internal/orchestrator"
	"github.com/kotoba-ai/kotoba/internal/persona"
	"github.com/kotoba-ai/kotoba/pkg/Logger"
)

type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Personas     *persona.Registry
	Logger       *Logger.Logger
	Configs      *config.Settings
}

func NewServerDependencies(
	orc *orchestrator.Orchestrator,
	personas *persona.Registry,
	logger *Logger.Logger,
	cfg *config.Settings,
) Dependencies {
	return Dependencies{
		Orchestrator: orc,
		Personas:     personas,
		Logger:       logger,
		Configs:      cfg,
	}
}

func InitializeRoutes(r *gin.Engine, dep Dependencies) {
	r.GET("/", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"message": "Server healthy"}) })
	r.GET("/health", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"status": "ok"}) })

	h := NewSessionHandler(dep.Orchestrator, dep.Configs, dep.Personas, dep.Logger)

	session := r.Group("/session")
	{
		session.POST("/connect", h.Connect)
		session.POST("/disconnect", h.Disconnect)
		session.POST("/conversation/start", h.StartConversation)
		session.POST("/conversation/stop", h.StopConversation)
		session.POST("/message", h.SendMessage)
		session.POST("/clear", h.ClearSession)
		session.GET("/state", h.State)
		session.GET("/transcript", h.Transcript)
	}

	vocabulary := r.Group("/vocabulary")
	{
		vocabulary.GET("", h.Vocabulary)
		vocabulary.GET("/export", h.ExportVocabulary)
		vocabulary.DELETE("", h.ClearVocabulary)
	}

	r.GET("/personas", h.Personas)
	r.PUT("/debug", h.SetDebug)
}
