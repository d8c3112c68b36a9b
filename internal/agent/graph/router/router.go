// Package router evaluates a node's outgoing transitions after a turn and
// decides where the session moves next.
package router

import (
	"context"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/botgraph/server/internal/agent/graph/compiler"
	"github.com/botgraph/server/internal/agent/graph/prompts"
	"github.com/botgraph/server/internal/agent/model"
	logx "github.com/botgraph/server/pkg/logger"
)

// Resolver picks the next node. Deterministic conditions are evaluated in
// declaration order; llm_routing transitions are pooled into a single
// decision call made only when nothing deterministic matched.
type Resolver struct {
	routingModel einomodel.ToolCallingChatModel
}

func NewResolver(routingModel einomodel.ToolCallingChatModel) *Resolver {
	return &Resolver{routingModel: routingModel}
}

// TurnOutput is the text the conditions are matched against. Keyword
// conditions check the user's message first, then the assistant reply.
type TurnOutput struct {
	UserText      string
	AssistantText string
}

// Resolve returns the routing decision for the finished turn. A node with
// no matching transition keeps the session where it is.
func (r *Resolver) Resolve(ctx context.Context, g *compiler.Graph, node *model.Node, out TurnOutput) (*model.RouteDecision, error) {
	stay := &model.RouteDecision{
		FromNodeID: node.ID,
		NextNodeID: node.ID,
		Moved:      false,
		Source:     model.RouteSticky,
	}

	var llmTargets []string
	for _, tr := range node.Transitions {
		switch tr.Condition.Type {
		case model.ConditionAlways:
			return &model.RouteDecision{
				FromNodeID: node.ID,
				NextNodeID: tr.TargetNodeID,
				Moved:      tr.TargetNodeID != node.ID,
				Condition:  model.ConditionAlways,
				Source:     model.RouteDeclared,
			}, nil

		case model.ConditionKeyword:
			if keywordMatches(tr.Condition.Value, out) {
				return &model.RouteDecision{
					FromNodeID: node.ID,
					NextNodeID: tr.TargetNodeID,
					Moved:      tr.TargetNodeID != node.ID,
					Condition:  model.ConditionKeyword,
					Source:     model.RouteDeclared,
				}, nil
			}

		case model.ConditionLLMRouting:
			llmTargets = append(llmTargets, tr.TargetNodeID)
		}
	}

	if len(llmTargets) == 0 {
		return stay, nil
	}
	return r.resolveByModel(ctx, g, node, out, llmTargets)
}

// keywordMatches checks the user message first and the assistant reply
// second, case-insensitively.
func keywordMatches(keyword string, out TurnOutput) bool {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return false
	}
	if strings.Contains(strings.ToLower(out.UserText), kw) {
		return true
	}
	return strings.Contains(strings.ToLower(out.AssistantText), kw)
}

func (r *Resolver) resolveByModel(ctx context.Context, g *compiler.Graph, node *model.Node, out TurnOutput, targets []string) (*model.RouteDecision, error) {
	fallback := &model.RouteDecision{
		FromNodeID: node.ID,
		NextNodeID: targets[0],
		Moved:      targets[0] != node.ID,
		Condition:  model.ConditionLLMRouting,
		Source:     model.RouteFallback,
	}

	if r.routingModel == nil {
		logx.Warn().Str("node", node.ID).Msg("no routing model configured, taking first routing target")
		return fallback, nil
	}

	candidates := make([]prompts.RoutingCandidate, 0, len(targets))
	for _, id := range targets {
		name := ""
		if n, ok := g.Node(id); ok {
			name = n.Name
		}
		candidates = append(candidates, prompts.RoutingCandidate{ID: id, Name: name})
	}

	rendered, err := prompts.RenderRoutingDecision(ctx, out.UserText, out.AssistantText, candidates)
	if err != nil {
		return nil, err
	}

	resp, err := r.routingModel.Generate(ctx, []*schema.Message{schema.UserMessage(rendered)})
	if err != nil {
		// routing never fails the turn once the reply exists
		logx.Warn().Err(err).Str("node", node.ID).Msg("routing model call failed, taking first routing target")
		return fallback, nil
	}

	answer := normalizeAnswer(resp.Content)
	for _, id := range targets {
		if answer == normalizeAnswer(id) {
			return &model.RouteDecision{
				FromNodeID: node.ID,
				NextNodeID: id,
				Moved:      id != node.ID,
				Condition:  model.ConditionLLMRouting,
				Source:     model.RouteModel,
			}, nil
		}
	}

	logx.Warn().
		Str("node", node.ID).
		Str("answer", resp.Content).
		Msg("routing model answered outside the candidate set, taking first routing target")
	return fallback, nil
}

// normalizeAnswer reduces a model answer to a comparable node id: first
// line, lowercased, stray quotes and punctuation stripped.
func normalizeAnswer(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Trim(s, "\"'`.,:;!() ")
}
