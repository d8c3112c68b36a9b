package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/botgraph/server/internal/agent/model"
	errx "github.com/botgraph/server/internal/core/error"
	logx "github.com/botgraph/server/pkg/logger"
)

// RedisBotRepository stores each bot as a single JSON document. Bots are
// read on every turn, so documents stay small and are replaced wholesale.
type RedisBotRepository struct {
	rdb redis.Cmdable
}

func NewRedisBotRepository(rdb redis.Cmdable) *RedisBotRepository {
	return &RedisBotRepository{rdb: rdb}
}

var _ model.BotRepository = (*RedisBotRepository)(nil)

func (r *RedisBotRepository) botKey(botID string) string {
	return fmt.Sprintf("bot:%s", botID)
}

func (r *RedisBotRepository) Save(ctx context.Context, bot *model.Bot) error {
	b, err := json.Marshal(bot)
	if err != nil {
		return fmt.Errorf("marshal bot: %w", err)
	}
	if err := r.rdb.Set(ctx, r.botKey(bot.ID), b, 0).Err(); err != nil {
		logx.Error().Err(err).Str("botID", bot.ID).Msg("failed to store bot")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisBotRepository) Load(ctx context.Context, botID string) (*model.Bot, error) {
	raw, err := r.rdb.Get(ctx, r.botKey(botID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, model.ErrBotNotFound
		}
		logx.Error().Err(err).Str("botID", botID).Msg("failed to load bot")
		return nil, errx.WrapRedis(err)
	}
	var bot model.Bot
	if err := json.Unmarshal([]byte(raw), &bot); err != nil {
		return nil, fmt.Errorf("unmarshal bot %s: %w", botID, err)
	}
	return &bot, nil
}
