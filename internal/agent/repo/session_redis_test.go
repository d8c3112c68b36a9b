package repo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgraph/server/internal/agent/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestSessionStore_CreateAndLoad(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRedisSessionStore(rdb, time.Hour)
	ctx := context.Background()

	created, err := store.Create(ctx, "s-1", "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", created.SessionID)
	assert.Nil(t, created.CurrentNodeID)
	assert.Equal(t, int64(0), created.Version)

	loaded, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "bot-1", loaded.BotID)
	assert.Empty(t, loaded.Messages)
	assert.Equal(t, "entry", loaded.CurrentNode("entry"))
}

func TestSessionStore_CreateDuplicateFails(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRedisSessionStore(rdb, 0)
	ctx := context.Background()

	_, err := store.Create(ctx, "s-1", "bot-1")
	require.NoError(t, err)
	_, err = store.Create(ctx, "s-1", "bot-2")
	require.Error(t, err)
}

func TestSessionStore_LoadMissing(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRedisSessionStore(rdb, 0)

	_, err := store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestSessionStore_CommitAppendsAndAdvances(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRedisSessionStore(rdb, time.Hour)
	ctx := context.Background()

	_, err := store.Create(ctx, "s-1", "bot-1")
	require.NoError(t, err)

	err = store.Commit(ctx, model.TurnCommit{
		SessionID:       "s-1",
		UserMessage:     schema.UserMessage("hello"),
		ReplyMessage:    schema.AssistantMessage("hi there", nil),
		CurrentNodeID:   "greeting",
		ExpectedVersion: 0,
	})
	require.NoError(t, err)

	state, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, schema.User, state.Messages[0].Role)
	assert.Equal(t, "hello", state.Messages[0].Content)
	assert.Equal(t, schema.Assistant, state.Messages[1].Role)
	assert.Equal(t, "greeting", state.CurrentNode("entry"))
	assert.Equal(t, int64(1), state.Version)
}

func TestSessionStore_CommitStaleVersionConflicts(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRedisSessionStore(rdb, 0)
	ctx := context.Background()

	_, err := store.Create(ctx, "s-1", "bot-1")
	require.NoError(t, err)

	first := model.TurnCommit{
		SessionID:       "s-1",
		UserMessage:     schema.UserMessage("a"),
		ReplyMessage:    schema.AssistantMessage("b", nil),
		CurrentNodeID:   "n1",
		ExpectedVersion: 0,
	}
	require.NoError(t, store.Commit(ctx, first))

	// a second turn that loaded the session before the first committed
	second := first
	second.UserMessage = schema.UserMessage("c")
	err = store.Commit(ctx, second)
	assert.ErrorIs(t, err, model.ErrSessionConflict)

	// losing the race leaves the winner's state untouched
	state, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, state.Messages, 2)
	assert.Equal(t, int64(1), state.Version)
}

func TestSessionStore_CommitMissingSession(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRedisSessionStore(rdb, 0)

	err := store.Commit(context.Background(), model.TurnCommit{
		SessionID:    "ghost",
		UserMessage:  schema.UserMessage("a"),
		ReplyMessage: schema.AssistantMessage("b", nil),
	})
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestSessionStore_TTLRefreshedOnCommit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewRedisSessionStore(rdb, time.Hour)
	ctx := context.Background()

	_, err := store.Create(ctx, "s-1", "bot-1")
	require.NoError(t, err)
	mr.FastForward(30 * time.Minute)

	require.NoError(t, store.Commit(ctx, model.TurnCommit{
		SessionID:       "s-1",
		UserMessage:     schema.UserMessage("a"),
		ReplyMessage:    schema.AssistantMessage("b", nil),
		CurrentNodeID:   "n1",
		ExpectedVersion: 0,
	}))

	assert.Equal(t, time.Hour, mr.TTL("session:s-1:meta"))
	assert.Equal(t, time.Hour, mr.TTL("session:s-1:messages"))
}
