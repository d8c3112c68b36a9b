// Package prompts renders the system and routing prompts via Eino prompt
// components, so prompt callbacks fire the same way model callbacks do.
package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/node_system.txt
var nodeSystemTemplate string

//go:embed template/routing_prompt.txt
var routingTemplate string

const defaultNodePrompt = "You are a helpful assistant."

// RenderNodeSystem composes a node's system prompt with the tool
// instruction block and the retrieved reference block.
func RenderNodeSystem(ctx context.Context, nodePrompt string, tools []*schema.ToolInfo, referenceBlock string) (string, error) {
	base := strings.TrimSpace(nodePrompt)
	if base == "" {
		base = defaultNodePrompt
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(nodeSystemTemplate),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"NodePrompt":      base,
		"ToolInstruction": ToolInstruction(tools),
		"ReferenceBlock":  strings.TrimSpace(referenceBlock),
	})
	if err != nil {
		return "", fmt.Errorf("node system prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("node system prompt render: empty result")
	}
	return strings.TrimSpace(msgs[0].Content), nil
}

// ToolInstruction describes the plain-text tool protocol for the given
// tools. Providers with native function calling simply ignore it; plain-text
// providers answer with the JSON envelope the parser understands.
func ToolInstruction(tools []*schema.ToolInfo) string {
	if len(tools) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("TOOLS:\n")
	b.WriteString("You may call a tool by responding ONLY with strict JSON:\n")
	b.WriteString(`{"action":"tool","tool_name":"<name>","arguments":{"key":"value"}}` + "\n")
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		desc := t.Desc
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, desc)
	}
	b.WriteString("If no tool is required, respond in natural language with the final answer.")
	return b.String()
}

// RoutingCandidate is one target offered to the routing model.
type RoutingCandidate struct {
	ID   string
	Name string
}

// RenderRoutingDecision renders the single-shot routing prompt listing the
// candidate node ids.
func RenderRoutingDecision(ctx context.Context, userText, assistantText string, candidates []RoutingCandidate) (string, error) {
	lines := make([]string, 0, len(candidates))
	for _, c := range candidates {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", c.ID, name))
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(routingTemplate),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"UserText":      strings.TrimSpace(userText),
		"AssistantText": strings.TrimSpace(assistantText),
		"Candidates":    strings.Join(lines, "\n"),
	})
	if err != nil {
		return "", fmt.Errorf("routing prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("routing prompt render: empty result")
	}
	return msgs[0].Content, nil
}

// DenialNotice is the explicit re-prompt injected when the model requests a
// tool outside the node's permitted set.
func DenialNotice(toolName string) string {
	return fmt.Sprintf(
		"SYSTEM NOTICE: The tool %q is not available at this stage of the conversation and the request was denied. "+
			"Answer the user with the tools and information you already have, or tell them what you cannot do.",
		toolName,
	)
}
