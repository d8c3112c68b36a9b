package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgraph/server/internal/agent/model"
)

func seedTool(t *testing.T, reg *RedisToolRegistry, id int64, name string) {
	t.Helper()
	require.NoError(t, reg.Save(context.Background(), &model.ToolDefinition{
		ID:     id,
		Name:   name,
		URL:    "http://example.com/" + name,
		Method: "GET",
	}))
}

func TestToolRegistry_ResolveSkipsMissing(t *testing.T) {
	_, rdb := newTestRedis(t)
	reg := NewRedisToolRegistry(rdb)

	seedTool(t, reg, 1, "order_status")
	seedTool(t, reg, 3, "track_parcel")

	defs, err := reg.Resolve(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "order_status", defs[0].Name)
	assert.Equal(t, "track_parcel", defs[1].Name)
}

func TestToolRegistry_ResolveEmpty(t *testing.T) {
	_, rdb := newTestRedis(t)
	reg := NewRedisToolRegistry(rdb)

	defs, err := reg.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestToolRegistry_ResolveByName(t *testing.T) {
	_, rdb := newTestRedis(t)
	reg := NewRedisToolRegistry(rdb)

	seedTool(t, reg, 7, "order_status")

	def, err := reg.ResolveByName(context.Background(), "order_status")
	require.NoError(t, err)
	assert.Equal(t, int64(7), def.ID)

	_, err = reg.ResolveByName(context.Background(), "unknown")
	assert.ErrorIs(t, err, model.ErrToolNotFound)
}
