// Package parsers extracts structured tool-call requests from model output.
//
// Providers with native function calling return tool calls on the message
// itself; providers running in plain-text mode are instructed to answer with
// a strict JSON envelope instead. Both forms normalise to
// model.ToolCallRequest.
package parsers

import (
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/botgraph/server/internal/agent/model"
	logx "github.com/botgraph/server/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 64 * 1024 // 64KB of model output
	maxCalls      = 8         // maximum parsed calls per message
	maxErrSnippet = 200       // limit error snippet size
)

// textEnvelope is the plain-text fallback protocol: the model answers ONLY
// with {"action":"tool","tool_name":"...","arguments":{...}} when it wants a
// tool. Aliases for the name and argument keys are tolerated because models
// drift.
type textEnvelope struct {
	Action    string         `json:"action"`
	ToolName  string         `json:"tool_name"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Args      map[string]any `json:"args"`
	ToolInput map[string]any `json:"tool_input"`
	CallID    string         `json:"tool_call_id"`
}

// FromMessage extracts tool-call requests from a model response, preferring
// native tool calls and falling back to the JSON text envelope. A message
// with neither yields an empty slice, never an error: free text is a valid
// final answer.
func FromMessage(msg *schema.Message) []model.ToolCallRequest {
	if msg == nil {
		return nil
	}
	if len(msg.ToolCalls) > 0 {
		return fromNativeCalls(msg.ToolCalls)
	}
	return FromText(msg.Content)
}

func fromNativeCalls(calls []schema.ToolCall) []model.ToolCallRequest {
	out := make([]model.ToolCallRequest, 0, len(calls))
	for _, tc := range calls {
		name := strings.TrimSpace(tc.Function.Name)
		if name == "" {
			logx.Warn().Str("component", "toolcall_parser").Msg("native tool call without a name; skipped")
			continue
		}
		args := map[string]any{}
		raw := strings.TrimSpace(tc.Function.Arguments)
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				logx.Warn().
					Str("component", "toolcall_parser").
					Str("tool", name).
					Str("arguments", safeSnippet(raw)).
					Msg("tool call arguments are not valid JSON; invoking with empty args")
				args = map[string]any{}
			}
		}
		out = append(out, model.ToolCallRequest{ID: tc.ID, ToolName: name, Arguments: args})
	}
	return out
}

// FromText parses the plain-text JSON envelope. Content that is not a valid
// envelope (including ordinary prose) yields nil.
func FromText(content string) []model.ToolCallRequest {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "toolcall_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = content[:maxContentLen]
	}
	content = stripCodeFence(content)

	var envelopes []textEnvelope
	if strings.HasPrefix(content, "[") {
		if err := json.Unmarshal([]byte(content), &envelopes); err != nil {
			return nil
		}
	} else {
		var single textEnvelope
		if err := json.Unmarshal([]byte(content), &single); err != nil {
			return nil
		}
		envelopes = []textEnvelope{single}
	}

	var out []model.ToolCallRequest
	for i, env := range envelopes {
		if i >= maxCalls {
			logx.Warn().Str("component", "toolcall_parser").Int("max_calls", maxCalls).Msg("tool call count capped")
			break
		}
		if env.Action != "tool" {
			continue
		}
		name := strings.TrimSpace(env.ToolName)
		if name == "" {
			name = strings.TrimSpace(env.Name)
		}
		if name == "" {
			continue
		}
		args := env.Arguments
		if args == nil {
			args = env.Args
		}
		if args == nil {
			args = env.ToolInput
		}
		if args == nil {
			args = map[string]any{}
		}
		// envelope calls usually have no id; the executor pairs the
		// result by other means in that case
		out = append(out, model.ToolCallRequest{ID: env.CallID, ToolName: name, Arguments: args})
	}
	return out
}

// stripCodeFence unwraps ```json fenced blocks some models insist on.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
