package model

import "context"

// BotRepository stores bot definitions. Save replaces the whole document;
// graph validation happens before a bot reaches the repository.
type BotRepository interface {
	Save(ctx context.Context, bot *Bot) error
	Load(ctx context.Context, botID string) (*Bot, error)
}
