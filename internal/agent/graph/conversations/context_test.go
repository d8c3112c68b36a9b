package conversations

import (
	"fmt"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_OrderAndRoles(t *testing.T) {
	b := NewContextBuilder(20)
	history := []*schema.Message{
		schema.UserMessage("hi"),
		schema.AssistantMessage("hello", nil),
	}

	msgs := b.Build("Be helpful.", history, schema.UserMessage("what now?"))

	require.Len(t, msgs, 4)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, "Be helpful.", msgs[0].Content)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, "hello", msgs[2].Content)
	assert.Equal(t, "what now?", msgs[3].Content)
}

func TestBuild_WindowsLongHistory(t *testing.T) {
	b := NewContextBuilder(4)
	var history []*schema.Message
	for i := 0; i < 10; i++ {
		history = append(history, schema.UserMessage(fmt.Sprintf("m%d", i)))
	}

	msgs := b.Build("sys", history, schema.UserMessage("current"))

	// system + 4 recent + current
	require.Len(t, msgs, 6)
	assert.Equal(t, "m6", msgs[1].Content)
	assert.Equal(t, "m9", msgs[4].Content)
	assert.Equal(t, "current", msgs[5].Content)
}

func TestBuild_SkipsEmptyMessages(t *testing.T) {
	b := NewContextBuilder(20)
	history := []*schema.Message{
		schema.UserMessage("keep"),
		nil,
		schema.AssistantMessage("", nil),
	}

	msgs := b.Build("sys", history, schema.UserMessage("q"))
	require.Len(t, msgs, 3)
	assert.Equal(t, "keep", msgs[1].Content)
}

func TestBuild_DoesNotMutateHistory(t *testing.T) {
	b := NewContextBuilder(1)
	history := []*schema.Message{
		schema.UserMessage("a"),
		schema.UserMessage("b"),
	}

	_ = b.Build("sys", history, schema.UserMessage("q"))
	assert.Equal(t, "a", history[0].Content)
	assert.Len(t, history, 2)
}
