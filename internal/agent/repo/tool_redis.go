package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/botgraph/server/internal/agent/model"
	errx "github.com/botgraph/server/internal/core/error"
	logx "github.com/botgraph/server/pkg/logger"
)

const toolNameIndexKey = "tool:index:name"

// RedisToolRegistry stores tool definitions as JSON documents with a
// secondary name index, since triggers address tools by name while node
// permissions address them by id.
type RedisToolRegistry struct {
	rdb redis.Cmdable
}

func NewRedisToolRegistry(rdb redis.Cmdable) *RedisToolRegistry {
	return &RedisToolRegistry{rdb: rdb}
}

var _ model.ToolRegistry = (*RedisToolRegistry)(nil)

func (r *RedisToolRegistry) toolKey(id int64) string {
	return fmt.Sprintf("tool:%d", id)
}

func (r *RedisToolRegistry) Save(ctx context.Context, def *model.ToolDefinition) error {
	b, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal tool: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.toolKey(def.ID), b, 0)
	pipe.HSet(ctx, toolNameIndexKey, def.Name, def.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		logx.Error().Err(err).Int64("toolID", def.ID).Msg("failed to store tool")
		return errx.WrapRedis(err)
	}
	return nil
}

// Resolve returns definitions for the given ids, silently skipping ids
// that no longer exist.
func (r *RedisToolRegistry) Resolve(ctx context.Context, ids []int64) ([]*model.ToolDefinition, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.toolKey(id)
	}
	rows, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		logx.Error().Err(err).Msg("failed to resolve tools")
		return nil, errx.WrapRedis(err)
	}

	defs := make([]*model.ToolDefinition, 0, len(rows))
	for i, row := range rows {
		raw, ok := row.(string)
		if !ok {
			logx.Warn().Int64("toolID", ids[i]).Msg("tool referenced by node no longer exists")
			continue
		}
		var def model.ToolDefinition
		if err := json.Unmarshal([]byte(raw), &def); err != nil {
			return nil, fmt.Errorf("unmarshal tool %d: %w", ids[i], err)
		}
		defs = append(defs, &def)
	}
	return defs, nil
}

func (r *RedisToolRegistry) ResolveByName(ctx context.Context, name string) (*model.ToolDefinition, error) {
	raw, err := r.rdb.HGet(ctx, toolNameIndexKey, name).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, model.ErrToolNotFound
		}
		logx.Error().Err(err).Str("tool", name).Msg("failed to resolve tool by name")
		return nil, errx.WrapRedis(err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse tool id %q: %w", raw, err)
	}
	defs, err := r.Resolve(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, model.ErrToolNotFound
	}
	return defs[0], nil
}
