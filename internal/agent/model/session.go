package model

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/schema"
)

var (
	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionConflict is returned when a concurrent turn committed the
	// same session first. The caller should retry the turn.
	ErrSessionConflict = errors.New("session modified concurrently")
	// ErrBotNotFound is returned when a bot id does not resolve.
	ErrBotNotFound = errors.New("bot not found")
)

// SessionState carries a session's graph position and message history
// between turns. CurrentNodeID is nil until the first routed turn; the entry
// node is used in that case.
type SessionState struct {
	SessionID     string
	BotID         string
	CurrentNodeID *string
	Messages      []*schema.Message
	// Version is the optimistic-concurrency token checked at commit time.
	Version int64
}

// CurrentNode returns the active node id, or the given entry id when the
// session has not entered the graph yet.
func (s *SessionState) CurrentNode(entryNodeID string) string {
	if s.CurrentNodeID == nil || *s.CurrentNodeID == "" {
		return entryNodeID
	}
	return *s.CurrentNodeID
}

// TurnCommit is the single atomic mutation applied to a session at the end
// of a successful turn: both turn messages plus the routed node pointer.
type TurnCommit struct {
	SessionID     string
	UserMessage   *schema.Message
	ReplyMessage  *schema.Message
	CurrentNodeID string
	// ExpectedVersion must match the stored version or the commit fails
	// with ErrSessionConflict.
	ExpectedVersion int64
}

// SessionStore is the persistence contract the executor depends on. Load
// and Commit are the only session mutations the core performs; deletion is
// an external concern.
type SessionStore interface {
	// Create initialises an empty session for a bot and reserves its id.
	Create(ctx context.Context, sessionID, botID string) (*SessionState, error)

	// Load retrieves the full session state, ErrSessionNotFound if absent.
	Load(ctx context.Context, sessionID string) (*SessionState, error)

	// Commit atomically appends the turn's messages and moves the node
	// pointer. ErrSessionConflict when the expected version lost a race.
	Commit(ctx context.Context, commit TurnCommit) error
}
