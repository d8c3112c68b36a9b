// Package conversations assembles the message context sent to the chat
// model for a turn.
package conversations

import (
	"github.com/cloudwego/eino/schema"
)

// ContextBuilder windows history so long sessions stay inside the model's
// useful context. Persistence keeps the full history; only the model input
// is trimmed.
type ContextBuilder struct {
	historyWindow int
}

func NewContextBuilder(historyWindow int) *ContextBuilder {
	return &ContextBuilder{historyWindow: historyWindow}
}

// Build composes the model input for one turn: the node's system prompt,
// the most recent window of prior messages and the current user message.
func (b *ContextBuilder) Build(systemPrompt string, history []*schema.Message, userMsg *schema.Message) []*schema.Message {
	recent := trimTail(history, b.historyWindow)

	messages := make([]*schema.Message, 0, len(recent)+2)
	messages = append(messages, schema.SystemMessage(systemPrompt))
	for _, msg := range recent {
		if msg == nil || msg.Content == "" {
			continue
		}
		messages = append(messages, msg)
	}
	return append(messages, userMsg)
}

// trimTail returns a copy of the last maxLen messages.
func trimTail(messages []*schema.Message, maxLen int) []*schema.Message {
	if maxLen <= 0 || len(messages) <= maxLen {
		result := make([]*schema.Message, len(messages))
		copy(result, messages)
		return result
	}
	source := messages[len(messages)-maxLen:]
	result := make([]*schema.Message, len(source))
	copy(result, source)
	return result
}
