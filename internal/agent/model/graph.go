package model

// ConditionType discriminates the transition condition tagged union. New
// condition kinds are added here and handled exhaustively by the router.
type ConditionType string

const (
	// ConditionAlways fires unconditionally.
	ConditionAlways ConditionType = "always"
	// ConditionKeyword fires when the condition value appears in the turn's
	// text (case-insensitive substring match).
	ConditionKeyword ConditionType = "keyword"
	// ConditionLLMRouting defers the decision to a routing model call.
	ConditionLLMRouting ConditionType = "llm_routing"
)

// Condition is the tagged union guarding a transition. Value is meaningful
// only for ConditionKeyword.
type Condition struct {
	Type  ConditionType `json:"type"`
	Value string        `json:"value,omitempty"`
}

// Transition defines a candidate move to another node, evaluated after the
// node's turn completes. Declaration order is evaluation order.
type Transition struct {
	TargetNodeID string    `json:"target_node_id"`
	Condition    Condition `json:"condition"`
}

// TriggerMode selects what happens when a tool trigger keyword is seen in
// the raw user message.
type TriggerMode string

const (
	// TriggerProvide offers the tool to the model for this turn even when it
	// is not part of the node's standing tool set.
	TriggerProvide TriggerMode = "provide"
	// TriggerInvoke force-invokes the tool before the model call and feeds
	// the result into the context.
	TriggerInvoke TriggerMode = "invoke"
)

// ToolTrigger activates a tool when one of its keywords appears in the
// user's message, either by offering it to the model or by pre-invoking it.
type ToolTrigger struct {
	ToolName string         `json:"tool_name"`
	Keywords []string       `json:"keywords"`
	Mode     TriggerMode    `json:"mode,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
}

// Node is one stage of the conversation graph: its own instruction context,
// optional retrieval scope and tool permissions, and outgoing transitions.
// A node without transitions is terminal: the session stays on it.
type Node struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	SystemPrompt       string        `json:"system_prompt,omitempty"`
	UseRAG             bool          `json:"use_rag"`
	AllowedDocumentIDs []int64       `json:"allowed_document_ids,omitempty"`
	APIToolIDs         []int64       `json:"api_tool_ids,omitempty"`
	ToolTriggers       []ToolTrigger `json:"tool_triggers,omitempty"`
	Transitions        []Transition  `json:"transitions,omitempty"`
}

// GraphConfig is the declarative, JSON-compatible graph document that
// external tooling produces. It is replaced wholesale on bot updates and
// never patched in place.
type GraphConfig struct {
	EntryNodeID string `json:"entry_node_id"`
	Nodes       []Node `json:"nodes"`
}

// Bot binds a graph configuration to a stable identifier.
type Bot struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Graph GraphConfig `json:"graph"`
}
