package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/botgraph/server/internal/agent/graph/compiler"
	"github.com/botgraph/server/internal/agent/model"
	logx "github.com/botgraph/server/pkg/logger"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	BotID     string `json:"bot_id"`
	Text      string `json:"text"`
}

// handleChatMessage runs one turn. An omitted session id starts a new
// session for the given bot.
func (s *Server) handleChatMessage(c *gin.Context) {
	var req chatRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	if max := s.maxMessageLen; max > 0 && len(req.Text) > max {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message exceeds maximum length"})
		return
	}
	if req.SessionID == "" && req.BotID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bot_id is required to start a session"})
		return
	}

	started := time.Now()
	result, err := s.executor.ExecuteTurn(c.Request.Context(), model.TurnRequest{
		SessionID: req.SessionID,
		BotID:     req.BotID,
		Text:      req.Text,
	})
	if err != nil {
		s.metrics.observeTurn(turnOutcome(err), time.Since(started))
		s.turnError(c, err)
		return
	}

	s.metrics.observeTurn("ok", time.Since(started))
	s.metrics.observeRoute(result.Routing.Source)
	c.JSON(http.StatusOK, result)
}

func turnOutcome(err error) string {
	switch {
	case errors.Is(err, model.ErrSessionConflict):
		return "conflict"
	case errors.Is(err, model.ErrModelUnavailable):
		return "model_unavailable"
	default:
		return "error"
	}
}

func (s *Server) turnError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrSessionNotFound), errors.Is(err, model.ErrBotNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrSessionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "session is processing another message, retry shortly"})
	case errors.Is(err, model.ErrModelUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "language model unavailable, retry later"})
	default:
		logx.Error().Err(err).Msg("turn execution failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type sessionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleSessionMessages(c *gin.Context) {
	state, err := s.store.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		logx.Error().Err(err).Msg("failed to load session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	messages := make([]sessionMessage, 0, len(state.Messages))
	for _, msg := range state.Messages {
		if msg == nil {
			continue
		}
		messages = append(messages, sessionMessage{Role: string(msg.Role), Content: msg.Content})
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":      state.SessionID,
		"bot_id":          state.BotID,
		"current_node_id": state.CurrentNode(""),
		"messages":        messages,
	})
}

type botRequest struct {
	Name  string            `json:"name"`
	Graph model.GraphConfig `json:"graph"`
}

// handleSaveBot validates the graph before storing it, so only compilable
// bots ever reach the executor. Validation reports every violation at once.
func (s *Server) handleSaveBot(c *gin.Context) {
	var req botRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if _, err := compiler.Compile(req.Graph); err != nil {
		var cerr *compiler.Error
		if errors.As(err, &cerr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "graph validation failed",
				"violations": cerr.Violations,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bot := &model.Bot{ID: c.Param("id"), Name: req.Name, Graph: req.Graph}
	if err := s.bots.Save(c.Request.Context(), bot); err != nil {
		logx.Error().Err(err).Str("botID", bot.ID).Msg("failed to save bot")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (s *Server) handleGetBot(c *gin.Context) {
	bot, err := s.bots.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, model.ErrBotNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
			return
		}
		logx.Error().Err(err).Msg("failed to load bot")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (s *Server) handleSaveTool(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tool id must be an integer"})
		return
	}

	var def model.ToolDefinition
	if err := c.BindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	def.ID = id
	if def.Name == "" || def.URL == "" || def.Method == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, url and method are required"})
		return
	}

	if err := s.toolAdmin.Save(c.Request.Context(), &def); err != nil {
		logx.Error().Err(err).Int64("toolID", def.ID).Msg("failed to save tool")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
