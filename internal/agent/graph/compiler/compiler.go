// Package compiler turns a declarative GraphConfig into an immutable,
// validated Graph the executor can run.
package compiler

import (
	"fmt"
	"strings"

	"github.com/botgraph/server/internal/agent/model"
)

// Violation describes one structural problem in a graph configuration.
type Violation struct {
	NodeID  string `json:"node_id,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error reports every violation found in a configuration, not just the
// first, so a configuration editor can surface all problems at once.
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if v.NodeID != "" {
			msgs = append(msgs, fmt.Sprintf("node %q: %s: %s", v.NodeID, v.Field, v.Message))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return fmt.Sprintf("invalid graph config (%d violations): %s", len(e.Violations), strings.Join(msgs, "; "))
}

// Graph is the validated in-memory form of a GraphConfig. It is immutable
// after compilation; configuration updates replace it wholesale.
type Graph struct {
	entryNodeID string
	order       []string
	nodes       map[string]*model.Node
}

// EntryNodeID returns the id of the graph's entry node.
func (g *Graph) EntryNodeID() string {
	return g.entryNodeID
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (*model.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeIDs returns node ids in declaration order.
func (g *Graph) NodeIDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Compile validates the configuration and builds a Graph.
//
// Only referential integrity is enforced: the entry node must exist, every
// transition target must exist, and node ids must be unique. Reachability
// from the entry node is intentionally NOT required, and cycles are valid;
// the executor bounds traversal to one node per turn, so a cycle means
// consecutive turns revisit nodes, which is how clarification loops are
// modelled. Tool ids are only checked for syntactic shape here; existence
// is verified lazily at invocation time.
func Compile(cfg model.GraphConfig) (*Graph, error) {
	var violations []Violation
	add := func(nodeID, field, msg string) {
		violations = append(violations, Violation{NodeID: nodeID, Field: field, Message: msg})
	}

	if len(cfg.Nodes) == 0 {
		add("", "nodes", "graph must contain at least one node")
	}
	if strings.TrimSpace(cfg.EntryNodeID) == "" {
		add("", "entry_node_id", "entry node id is required")
	}

	ids := make(map[string]bool, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			add("", "nodes", "node id must not be empty")
			continue
		}
		if ids[n.ID] {
			add(n.ID, "id", "duplicate node id")
			continue
		}
		ids[n.ID] = true
	}

	if cfg.EntryNodeID != "" && !ids[cfg.EntryNodeID] {
		add("", "entry_node_id", fmt.Sprintf("entry node %q does not exist", cfg.EntryNodeID))
	}

	g := &Graph{
		entryNodeID: cfg.EntryNodeID,
		order:       make([]string, 0, len(cfg.Nodes)),
		nodes:       make(map[string]*model.Node, len(cfg.Nodes)),
	}

	for _, n := range cfg.Nodes {
		node := cloneNode(n)

		for i := range node.Transitions {
			t := &node.Transitions[i]
			if !ids[t.TargetNodeID] {
				add(node.ID, "transitions", fmt.Sprintf("transition to unknown node %q", t.TargetNodeID))
			}
			switch t.Condition.Type {
			case "":
				// absent condition defaults to always
				t.Condition.Type = model.ConditionAlways
			case model.ConditionAlways, model.ConditionLLMRouting:
			case model.ConditionKeyword:
				if strings.TrimSpace(t.Condition.Value) == "" {
					add(node.ID, "transitions", "keyword condition requires a value")
				}
			default:
				add(node.ID, "transitions", fmt.Sprintf("unknown condition type %q", t.Condition.Type))
			}
		}

		for i := range node.ToolTriggers {
			tr := &node.ToolTriggers[i]
			if strings.TrimSpace(tr.ToolName) == "" {
				add(node.ID, "tool_triggers", "trigger requires a tool name")
			}
			if len(tr.Keywords) == 0 {
				add(node.ID, "tool_triggers", "trigger requires at least one keyword")
			}
			switch tr.Mode {
			case "":
				tr.Mode = model.TriggerProvide
			case model.TriggerProvide, model.TriggerInvoke:
			default:
				add(node.ID, "tool_triggers", fmt.Sprintf("unknown trigger mode %q", tr.Mode))
			}
		}

		if _, dup := g.nodes[node.ID]; !dup && node.ID != "" {
			g.nodes[node.ID] = node
			g.order = append(g.order, node.ID)
		}
	}

	if len(violations) > 0 {
		return nil, &Error{Violations: violations}
	}
	return g, nil
}

// cloneNode deep-copies a node so the compiled graph cannot be mutated
// through the original config slices.
func cloneNode(n model.Node) *model.Node {
	node := n
	node.AllowedDocumentIDs = append([]int64(nil), n.AllowedDocumentIDs...)
	node.APIToolIDs = append([]int64(nil), n.APIToolIDs...)
	node.Transitions = append([]model.Transition(nil), n.Transitions...)
	node.ToolTriggers = make([]model.ToolTrigger, len(n.ToolTriggers))
	for i, tr := range n.ToolTriggers {
		c := tr
		c.Keywords = append([]string(nil), tr.Keywords...)
		if tr.Args != nil {
			c.Args = make(map[string]any, len(tr.Args))
			for k, v := range tr.Args {
				c.Args[k] = v
			}
		}
		node.ToolTriggers[i] = c
	}
	return &node
}
