package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgraph/server/internal/agent/model"
)

func TestBotRepository_SaveAndLoad(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewRedisBotRepository(rdb)
	ctx := context.Background()

	bot := &model.Bot{
		ID:   "bot-1",
		Name: "support",
		Graph: model.GraphConfig{
			EntryNodeID: "greeting",
			Nodes: []model.Node{
				{ID: "greeting", Name: "Greeting", SystemPrompt: "Say hello."},
			},
		},
	}
	require.NoError(t, repo.Save(ctx, bot))

	loaded, err := repo.Load(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, bot, loaded)
}

func TestBotRepository_SaveReplacesWholeDocument(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewRedisBotRepository(rdb)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &model.Bot{
		ID: "bot-1",
		Graph: model.GraphConfig{
			EntryNodeID: "a",
			Nodes:       []model.Node{{ID: "a"}, {ID: "b"}},
		},
	}))
	require.NoError(t, repo.Save(ctx, &model.Bot{
		ID: "bot-1",
		Graph: model.GraphConfig{
			EntryNodeID: "c",
			Nodes:       []model.Node{{ID: "c"}},
		},
	}))

	loaded, err := repo.Load(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "c", loaded.Graph.EntryNodeID)
	assert.Len(t, loaded.Graph.Nodes, 1)
}

func TestBotRepository_LoadMissing(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewRedisBotRepository(rdb)

	_, err := repo.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrBotNotFound)
}
