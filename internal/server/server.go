// Package server is the HTTP surface: chat turns, bot and tool management,
// health and metrics.
package server

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/botgraph/server/internal/agent/model"
	"github.com/botgraph/server/internal/core"
)

// TurnRunner executes one conversation turn.
type TurnRunner interface {
	ExecuteTurn(ctx context.Context, req model.TurnRequest) (*model.TurnResult, error)
}

// ToolAdmin writes tool definitions. Reading happens through the registry
// inside the executor.
type ToolAdmin interface {
	Save(ctx context.Context, def *model.ToolDefinition) error
}

// Deps carries everything the handlers touch.
type Deps struct {
	Executor  TurnRunner
	Store     model.SessionStore
	Bots      model.BotRepository
	ToolAdmin ToolAdmin
}

type Server struct {
	engine        *gin.Engine
	executor      TurnRunner
	store         model.SessionStore
	bots          model.BotRepository
	toolAdmin     ToolAdmin
	metrics       *Metrics
	maxMessageLen int
}

func New(deps Deps, conv model.ConversationConfig, env core.Environment) *Server {
	if env == core.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:        gin.New(),
		executor:      deps.Executor,
		store:         deps.Store,
		bots:          deps.Bots,
		toolAdmin:     deps.ToolAdmin,
		metrics:       NewMetrics(),
		maxMessageLen: conv.MaxMessageLen,
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/metrics", s.metrics.handler())

	v1 := s.engine.Group("/v1")
	{
		v1.POST("/chat/messages", s.handleChatMessage)
		v1.GET("/chat/sessions/:id/messages", s.handleSessionMessages)

		v1.PUT("/bots/:id", s.handleSaveBot)
		v1.GET("/bots/:id", s.handleGetBot)

		v1.PUT("/tools/:id", s.handleSaveTool)
	}
}

// Engine exposes the router for http.Server wiring and tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
