package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/botgraph/server/internal/agent/graph/executor"
	"github.com/botgraph/server/internal/agent/graph/router"
	"github.com/botgraph/server/internal/agent/llm"
	"github.com/botgraph/server/internal/agent/model"
	"github.com/botgraph/server/internal/agent/observers"
	"github.com/botgraph/server/internal/agent/repo"
	"github.com/botgraph/server/internal/agent/retrieval"
	"github.com/botgraph/server/internal/agent/sessions"
	"github.com/botgraph/server/internal/agent/tools"
	"github.com/botgraph/server/internal/core"
	"github.com/botgraph/server/internal/server"
	logx "github.com/botgraph/server/pkg/logger"
	pkgredis "github.com/botgraph/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the service, sourced
// from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis    pkgredis.Config
	Weaviate retrieval.WeaviateConfig
	// RetrievalEnabled switches the Weaviate gateway on. Nodes with
	// retrieval configured degrade gracefully when it is off.
	RetrievalEnabled bool `envconfig:"RETRIEVAL_ENABLED" default:"false"`
	// DistributedLock serialises sessions across instances, not just
	// within one process.
	DistributedLock bool `envconfig:"DISTRIBUTED_LOCK" default:"false"`

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Response     model.ResponseModelConfig
	Routing      model.RoutingModelConfig
	Conversation model.ConversationConfig
	Executor     model.ExecutorConfig
	Server       model.ServerConfig
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	env := core.ParseEnvironment(cfg.Environment)
	logx.Init(logx.LoggerOpts{Environment: env})
	callbacks.AppendGlobalHandlers(observers.NewAllCallbacks())

	rdb, err := cfg.Redis.New()
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to initialise Redis client")
	}
	defer rdb.Close()

	ttl, err := time.ParseDuration(cfg.Conversation.TTL)
	if err != nil {
		logx.Fatal().Err(err).Str("ttl", cfg.Conversation.TTL).Msg("Invalid CONVERSATION_TTL")
	}

	var retriever retrieval.Gateway
	if cfg.RetrievalEnabled {
		wv, err := cfg.Weaviate.NewWeaviateClient()
		if err != nil {
			logx.Fatal().Err(err).Msg("Failed to initialise Weaviate client")
		}
		retriever = retrieval.NewWeaviateGateway(wv, cfg.Weaviate.ClassName)
	}

	chatModels, err := llm.NewChatModels(ctx, llm.Config{
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		ResponseModel: cfg.Response,
		RoutingModel:  cfg.Routing,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to initialise chat models")
	}

	sessionOpts := []sessions.Option{}
	if cfg.DistributedLock {
		sessionOpts = append(sessionOpts, sessions.WithLocker(sessions.NewRedisLocker(rdb, "botgraph:"), 30*time.Second))
	}

	store := repo.NewRedisSessionStore(rdb, ttl)
	bots := repo.NewRedisBotRepository(rdb)
	registry := repo.NewRedisToolRegistry(rdb)

	exec := executor.New(executor.Deps{
		Bots:          bots,
		Store:         store,
		Sessions:      sessions.NewManager(sessionOpts...),
		Registry:      registry,
		ToolGateway:   tools.NewHTTPGateway(nil, time.Duration(cfg.Executor.ToolTimeoutSec)*time.Second),
		Retriever:     retriever,
		Router:        router.NewResolver(chatModels.Routing),
		ResponseModel: chatModels.Response,
	}, executor.Config{
		Executor:          cfg.Executor,
		Conversation:      cfg.Conversation,
		ResponseModelName: chatModels.ResponseModelName,
	})

	srv := server.New(server.Deps{
		Executor:  exec,
		Store:     store,
		Bots:      bots,
		ToolAdmin: registry,
	}, cfg.Conversation, env)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv.Engine(),
	}

	go func() {
		logx.Info().Str("addr", httpSrv.Addr).Str("env", env.String()).Msg("server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logx.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("forced shutdown")
	}
}
