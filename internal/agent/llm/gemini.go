// Package llm constructs the Gemini chat models: the response model that
// talks to users and the smaller routing model that picks graph transitions.
package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/botgraph/server/internal/agent/model"
	logx "github.com/botgraph/server/pkg/logger"
)

// Config holds what is needed to reach the Gemini API.
type Config struct {
	APIKey        string
	BaseURL       string
	ResponseModel model.ResponseModelConfig
	RoutingModel  model.RoutingModelConfig
}

// ChatModels holds both models plus their names for cost accounting.
type ChatModels struct {
	Response          *gemini.ChatModel
	Routing           *gemini.ChatModel
	ResponseModelName string
	RoutingModelName  string
}

// NewChatModels creates both chat models over one shared Gemini client.
func NewChatModels(ctx context.Context, cfg Config) (*ChatModels, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	responseModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.ResponseModel.Model,
		Temperature: &cfg.ResponseModel.Temperature,
		MaxTokens:   &cfg.ResponseModel.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating response model")
		return nil, fmt.Errorf("error creating response model: %w", err)
	}

	// routing answers are one node id, so thinking stays off and the
	// token budget is tiny
	routingModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.RoutingModel.Model,
		Temperature: &cfg.RoutingModel.Temperature,
		MaxTokens:   &cfg.RoutingModel.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating routing model")
		return nil, fmt.Errorf("error creating routing model: %w", err)
	}

	return &ChatModels{
		Response:          responseModel,
		Routing:           routingModel,
		ResponseModelName: cfg.ResponseModel.Model,
		RoutingModelName:  cfg.RoutingModel.Model,
	}, nil
}
