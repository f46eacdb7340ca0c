package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kotoba-ai/kotoba/internal/config"
	"github.com/kotoba-ai/kotoba/internal/orchestrator"
	"github.com/kotoba-ai/kotoba/internal/persona"
	"github.com/kotoba-ai/kotoba/internal/realtime"
	"github.com/kotoba-ai/kotoba/internal/vocab"
	"github.com/kotoba-ai/kotoba/pkg/Logger"
)

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type ConnectRequest struct {
	ApiKey    string `json:"api_key"`
	PersonaID string `json:"persona_id"`
}

type MessageRequest struct {
	Text string `json:"text" binding:"required"`
}

type DebugRequest struct {
	Enabled bool `json:"enabled"`
}

type VocabularyItem struct {
	Surface   string   `json:"surface"`
	Reading   string   `json:"reading"`
	MeaningKR string   `json:"meaning_kr"`
	MeaningEN string   `json:"meaning_en,omitempty"`
	POS       string   `json:"pos,omitempty"`
	Level     string   `json:"level"`
	Example   string   `json:"example,omitempty"`
	Notes     string   `json:"notes,omitempty"`
	Count     int      `json:"count"`
	Turns     []string `json:"turns"`
}

// SessionHandler exposes the orchestrator's control surface over HTTP.
type SessionHandler struct {
	orc      *orchestrator.Orchestrator
	cfg      *config.Settings
	personas *persona.Registry
	logger   *Logger.Logger
}

func NewSessionHandler(
	orc *orchestrator.Orchestrator,
	cfg *config.Settings,
	personas *persona.Registry,
	logger *Logger.Logger,
) *SessionHandler {
	return &SessionHandler{
		orc:      orc,
		cfg:      cfg,
		personas: personas,
		logger:   logger,
	}
}

// Connect opens a session with the remote voice model.
func (h *SessionHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request data",
			Details: err.Error(),
		})
		return
	}

	apiKey := req.ApiKey
	if apiKey == "" {
		apiKey = h.cfg.AssistantKeys.OpenAiApiKey
	}
	if apiKey == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "No API key configured"})
		return
	}

	if err := h.orc.Connect(c, apiKey, req.PersonaID); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrAlreadyConnected):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "Session already connected"})
		case errors.Is(err, realtime.ErrAuth):
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Credential rejected by voice service"})
		default:
			h.logger.Errorf("connect error: %v", err)
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Couldn't reach voice service, try later!"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session connected", "state": h.orc.State()})
}

// StartConversation begins live capture.
func (h *SessionHandler) StartConversation(c *gin.Context) {
	if err := h.orc.StartConversation(); err != nil {
		if err == orchestrator.ErrNoSession {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "Connect a session first"})
			return
		}
		h.logger.Errorf("start conversation error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Couldn't start audio capture"})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Conversation started"})
}

// StopConversation halts capture, keeping the session alive.
func (h *SessionHandler) StopConversation(c *gin.Context) {
	if err := h.orc.StopConversation(); err != nil {
		h.logger.Errorf("stop conversation error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Couldn't stop conversation"})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Conversation stopped"})
}

// Disconnect tears the session down.
func (h *SessionHandler) Disconnect(c *gin.Context) {
	if err := h.orc.Disconnect(); err != nil {
		h.logger.Errorf("disconnect error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Couldn't disconnect"})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Session disconnected"})
}

// SendMessage injects a typed user message.
func (h *SessionHandler) SendMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request data",
			Details: err.Error(),
		})
		return
	}
	if err := h.orc.SendText(req.Text); err != nil {
		if err == orchestrator.ErrNoSession {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "Connect a session first"})
			return
		}
		h.logger.Errorf("send message error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Couldn't send message"})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Message sent"})
}

// State reports the protocol state.
func (h *SessionHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.orc.State()})
}

// Personas lists the configured conversation partners.
func (h *SessionHandler) Personas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"default":  h.personas.DefaultID,
		"personas": h.personas.List(),
	})
}

// Vocabulary returns collected entries, optionally filtered by minimum
// JLPT level (?level=N3).
func (h *SessionHandler) Vocabulary(c *gin.Context) {
	min := vocab.ParseLevel(c.Query("level"))
	entries := h.orc.Vocabulary(min)

	items := make([]VocabularyItem, 0, len(entries))
	for _, e := range entries {
		turns := make([]string, 0, len(e.Provenance))
		for _, id := range e.Provenance {
			turns = append(turns, id.String())
		}
		items = append(items, VocabularyItem{
			Surface:   e.Surface,
			Reading:   e.Reading,
			MeaningKR: e.MeaningKR,
			MeaningEN: e.MeaningEN,
			POS:       e.POS,
			Level:     e.Level.String(),
			Example:   e.Example,
			Notes:     e.Notes,
			Count:     e.Count,
			Turns:     turns,
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "vocabulary": items})
}

// ExportVocabulary renders the study sheet as plain text.
func (h *SessionHandler) ExportVocabulary(c *gin.Context) {
	c.String(http.StatusOK, h.orc.ExportVocabulary())
}

// ClearVocabulary wipes the study list.
func (h *SessionHandler) ClearVocabulary(c *gin.Context) {
	h.orc.ClearVocabulary()
	c.JSON(http.StatusOK, SuccessResponse{Message: "Vocabulary cleared"})
}

// ClearSession resets the transcript and vocabulary without disconnecting.
func (h *SessionHandler) ClearSession(c *gin.Context) {
	h.orc.ClearSession()
	c.JSON(http.StatusOK, SuccessResponse{Message: "Session cleared"})
}

// Transcript returns the conversation log.
func (h *SessionHandler) Transcript(c *gin.Context) {
	entries := h.orc.Transcript()
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"turn_id": e.TurnID.String(),
			"role":    string(e.Role),
			"text":    e.Text,
			"state":   string(e.State),
			"at":      e.At,
		})
	}
	c.JSON(http.StatusOK, gin.H{"transcript": out})
}

// SetDebug toggles verbose logging at runtime.
func (h *SessionHandler) SetDebug(c *gin.Context) {
	var req DebugRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request data",
			Details: err.Error(),
		})
		return
	}
	h.orc.SetDebug(req.Enabled)
	c.JSON(http.StatusOK, gin.H{"message": "Debug updated", "enabled": req.Enabled})
}
