package model

import "errors"

// ErrModelUnavailable is returned when the chat model keeps failing after
// the bounded retries. The turn persists nothing in that case.
var ErrModelUnavailable = errors.New("chat model unavailable")

// TurnRequest is one inbound user message. An empty SessionID means "create
// a fresh session for this bot".
type TurnRequest struct {
	SessionID string `json:"session_id,omitempty"`
	BotID     string `json:"bot_id"`
	Text      string `json:"text"`
}

// RouteSource records how the next node was chosen.
type RouteSource string

const (
	// RouteDeclared means a declared always/keyword condition matched.
	RouteDeclared RouteSource = "declared"
	// RouteModel means the routing model picked a valid candidate.
	RouteModel RouteSource = "model"
	// RouteFallback means the routing answer matched no candidate and the
	// first declared llm_routing target was used (fail-open).
	RouteFallback RouteSource = "fallback"
	// RouteSticky means no transition matched and the node stays active.
	RouteSticky RouteSource = "sticky"
)

// RouteDecision is the routing metadata attached to a completed turn.
type RouteDecision struct {
	FromNodeID string        `json:"from_node_id"`
	NextNodeID string        `json:"next_node_id"`
	Moved      bool          `json:"moved"`
	Condition  ConditionType `json:"condition,omitempty"`
	Source     RouteSource   `json:"source"`
}

// TurnResult is the outcome of one executed turn.
type TurnResult struct {
	SessionID string         `json:"session_id"`
	Reply     string         `json:"reply"`
	Routing   RouteDecision  `json:"routing"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
