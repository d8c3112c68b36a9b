package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/botgraph/server/internal/agent/model"
	errx "github.com/botgraph/server/internal/core/error"
	logx "github.com/botgraph/server/pkg/logger"
)

const (
	metaFieldBotID       = "bot_id"
	metaFieldCurrentNode = "current_node_id"
	metaFieldVersion     = "version"
	metaFieldCreatedAt   = "created_at"
)

// RedisSessionStore persists sessions as a message list plus a metadata
// hash. The hash carries the node pointer and a version counter checked
// under WATCH so that two concurrent turns on the same session cannot both
// commit.
type RedisSessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSessionStore(rdb *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb, ttl: ttl}
}

var _ model.SessionStore = (*RedisSessionStore)(nil)

func (r *RedisSessionStore) messagesKey(sessionID string) string {
	return fmt.Sprintf("session:%s:messages", sessionID)
}

func (r *RedisSessionStore) metaKey(sessionID string) string {
	return fmt.Sprintf("session:%s:meta", sessionID)
}

func (r *RedisSessionStore) Create(ctx context.Context, sessionID, botID string) (*model.SessionState, error) {
	metaKey := r.metaKey(sessionID)

	ok, err := r.rdb.HSetNX(ctx, metaKey, metaFieldBotID, botID).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", metaKey).Msg("failed to create session")
		return nil, errx.WrapRedis(err)
	}
	if !ok {
		return nil, fmt.Errorf("session %s already exists", sessionID)
	}

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, metaKey,
		metaFieldVersion, 0,
		metaFieldCreatedAt, time.Now().UTC().Format(time.RFC3339),
	)
	if r.ttl > 0 {
		pipe.Expire(ctx, metaKey, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logx.Error().Err(err).Str("key", metaKey).Msg("failed to initialise session meta")
		return nil, errx.WrapRedis(err)
	}

	return &model.SessionState{
		SessionID: sessionID,
		BotID:     botID,
		Messages:  []*schema.Message{},
	}, nil
}

func (r *RedisSessionStore) Load(ctx context.Context, sessionID string) (*model.SessionState, error) {
	metaKey := r.metaKey(sessionID)

	meta, err := r.rdb.HGetAll(ctx, metaKey).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", metaKey).Msg("failed to load session meta")
		return nil, errx.WrapRedis(err)
	}
	if len(meta) == 0 {
		return nil, model.ErrSessionNotFound
	}

	state := &model.SessionState{
		SessionID: sessionID,
		BotID:     meta[metaFieldBotID],
	}
	if node := meta[metaFieldCurrentNode]; node != "" {
		state.CurrentNodeID = &node
	}
	if v := meta[metaFieldVersion]; v != "" {
		state.Version, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse session version %q: %w", v, err)
		}
	}

	rows, err := r.rdb.LRange(ctx, r.messagesKey(sessionID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		logx.Error().Err(err).Str("sessionID", sessionID).Msg("failed to load session messages")
		return nil, errx.WrapRedis(err)
	}

	msgs := make([]*schema.Message, 0, len(rows))
	for i, s := range rows {
		var m schema.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			logx.Error().Err(err).Str("sessionID", sessionID).Int("index", i).Msg("failed to unmarshal message")
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		msgs = append(msgs, &m)
	}
	state.Messages = msgs
	return state, nil
}

// Commit appends the turn's messages and moves the node pointer in one
// transaction. The version field is read under WATCH; if it no longer
// matches the version the caller loaded, another turn won the race and the
// commit fails with ErrSessionConflict.
func (r *RedisSessionStore) Commit(ctx context.Context, commit model.TurnCommit) error {
	metaKey := r.metaKey(commit.SessionID)
	msgKey := r.messagesKey(commit.SessionID)

	userRaw, err := json.Marshal(commit.UserMessage)
	if err != nil {
		return fmt.Errorf("marshal user message: %w", err)
	}
	replyRaw, err := json.Marshal(commit.ReplyMessage)
	if err != nil {
		return fmt.Errorf("marshal reply message: %w", err)
	}

	txn := func(tx *redis.Tx) error {
		stored, err := tx.HGet(ctx, metaKey, metaFieldVersion).Result()
		if err == redis.Nil {
			return model.ErrSessionNotFound
		}
		if err != nil {
			return errx.WrapRedis(err)
		}
		version, err := strconv.ParseInt(stored, 10, 64)
		if err != nil {
			return fmt.Errorf("parse session version %q: %w", stored, err)
		}
		if version != commit.ExpectedVersion {
			return model.ErrSessionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, msgKey, userRaw, replyRaw)
			pipe.HSet(ctx, metaKey,
				metaFieldCurrentNode, commit.CurrentNodeID,
				metaFieldVersion, version+1,
			)
			if r.ttl > 0 {
				pipe.Expire(ctx, msgKey, r.ttl)
				pipe.Expire(ctx, metaKey, r.ttl)
			}
			return nil
		})
		return err
	}

	err = r.rdb.Watch(ctx, txn, metaKey)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		// the watched key changed between read and exec
		logx.Warn().Str("sessionID", commit.SessionID).Msg("session commit lost a concurrent race")
		return model.ErrSessionConflict
	case errors.Is(err, model.ErrSessionConflict), errors.Is(err, model.ErrSessionNotFound):
		return err
	default:
		logx.Error().Err(err).Str("sessionID", commit.SessionID).Msg("session commit failed")
		return errx.WrapRedis(err)
	}
}
