// Package executor runs one conversation turn against the active graph
// node: context assembly, the model call, at most one tool cycle, routing
// and the atomic session commit.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/botgraph/server/internal/agent/graph/compiler"
	"github.com/botgraph/server/internal/agent/graph/conversations"
	"github.com/botgraph/server/internal/agent/graph/parsers"
	"github.com/botgraph/server/internal/agent/graph/prompts"
	"github.com/botgraph/server/internal/agent/graph/router"
	"github.com/botgraph/server/internal/agent/model"
	"github.com/botgraph/server/internal/agent/retrieval"
	"github.com/botgraph/server/internal/agent/tools"
	logx "github.com/botgraph/server/pkg/logger"
)

// Deps wires the gateways and stores a turn needs. Retriever is optional;
// nodes with retrieval enabled simply get no reference block without one.
type Deps struct {
	Bots          model.BotRepository
	Store         model.SessionStore
	Sessions      SessionLocker
	Registry      model.ToolRegistry
	ToolGateway   tools.Gateway
	Retriever     retrieval.Gateway
	Router        *router.Resolver
	ResponseModel einomodel.ToolCallingChatModel
}

// SessionLocker serialises turns per session.
type SessionLocker interface {
	WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error
}

// Config tunes timeouts, retries and the history window.
type Config struct {
	Executor          model.ExecutorConfig
	Conversation      model.ConversationConfig
	ResponseModelName string
}

// TurnExecutor is the per-turn state machine. One instance serves all bots
// and sessions; all per-turn state lives on the stack.
type TurnExecutor struct {
	deps       Deps
	cfg        Config
	ctxBuilder *conversations.ContextBuilder
	pricing    model.Pricing
}

func New(deps Deps, cfg Config) *TurnExecutor {
	return &TurnExecutor{
		deps:       deps,
		cfg:        cfg,
		ctxBuilder: conversations.NewContextBuilder(cfg.Conversation.HistoryWindow),
		pricing:    model.ResolvePricing(cfg.ResponseModelName),
	}
}

// ExecuteTurn processes one user message. An empty session id starts a new
// session for the request's bot. The session is locked for the duration of
// the turn so concurrent messages to the same session execute one by one.
func (e *TurnExecutor) ExecuteTurn(ctx context.Context, req model.TurnRequest) (*model.TurnResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("empty message text")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var result *model.TurnResult
	err := e.deps.Sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		result, err = e.runTurn(ctx, sessionID, req)
		return err
	})
	return result, err
}

func (e *TurnExecutor) runTurn(ctx context.Context, sessionID string, req model.TurnRequest) (*model.TurnResult, error) {
	started := time.Now()

	state, err := e.deps.Store.Load(ctx, sessionID)
	if errors.Is(err, model.ErrSessionNotFound) {
		if req.BotID == "" {
			return nil, err
		}
		state, err = e.deps.Store.Create(ctx, sessionID, req.BotID)
	}
	if err != nil {
		return nil, err
	}

	bot, err := e.deps.Bots.Load(ctx, state.BotID)
	if err != nil {
		return nil, err
	}
	g, err := compiler.Compile(bot.Graph)
	if err != nil {
		return nil, fmt.Errorf("stored graph for bot %s no longer compiles: %w", bot.ID, err)
	}

	nodeID := state.CurrentNode(g.EntryNodeID())
	node, ok := g.Node(nodeID)
	if !ok {
		// the graph was replaced and the session points at a removed node
		logx.Warn().Str("sessionID", sessionID).Str("node", nodeID).Msg("session node no longer exists, resetting to entry")
		node, _ = g.Node(g.EntryNodeID())
	}

	userMsg := schema.UserMessage(req.Text)

	providedTools, triggerBlocks := e.applyTriggers(ctx, node, req.Text)

	standing, err := e.deps.Registry.Resolve(ctx, node.APIToolIDs)
	if err != nil {
		return nil, err
	}
	turnTools := mergeTools(standing, providedTools)

	refBlock := e.retrieveReferences(ctx, node, req.Text)
	if len(triggerBlocks) > 0 {
		refBlock = strings.TrimSpace(refBlock + "\n\n" + strings.Join(triggerBlocks, "\n\n"))
	}

	toolInfos := make([]*schema.ToolInfo, 0, len(turnTools))
	for _, def := range turnTools {
		toolInfos = append(toolInfos, def.SchemaInfo())
	}

	sysPrompt, err := prompts.RenderNodeSystem(ctx, node.SystemPrompt, toolInfos, refBlock)
	if err != nil {
		return nil, err
	}
	msgs := e.ctxBuilder.Build(sysPrompt, state.Messages, userMsg)

	chatModel := e.deps.ResponseModel
	if len(toolInfos) > 0 {
		chatModel, err = chatModel.WithTools(toolInfos)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
	}

	resp, err := e.generate(ctx, chatModel, msgs)
	if err != nil {
		return nil, err
	}

	reply, usage, err := e.runToolCycle(ctx, chatModel, msgs, resp, turnTools)
	if err != nil {
		return nil, err
	}

	decision, err := e.deps.Router.Resolve(ctx, g, node, router.TurnOutput{
		UserText:      req.Text,
		AssistantText: reply,
	})
	if err != nil {
		return nil, err
	}

	// nothing persists if the caller is already gone
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.deps.Store.Commit(ctx, model.TurnCommit{
		SessionID:       sessionID,
		UserMessage:     userMsg,
		ReplyMessage:    schema.AssistantMessage(reply, nil),
		CurrentNodeID:   decision.NextNodeID,
		ExpectedVersion: state.Version,
	}); err != nil {
		return nil, err
	}

	ev := logx.Info().
		Str("sessionID", sessionID).
		Str("botID", bot.ID).
		Str("fromNode", decision.FromNodeID).
		Str("toNode", decision.NextNodeID).
		Dur("elapsed", time.Since(started))
	if usage != nil {
		_, _, total := model.ComputeCost(usage, e.pricing)
		ev = ev.Int("total_tokens", usage.TotalTokens).Float64("cost_usd", total)
	}
	ev.Msg("turn completed")

	return &model.TurnResult{
		SessionID: sessionID,
		Reply:     reply,
		Routing:   *decision,
		Metadata:  e.usageMetadata(usage),
	}, nil
}

// runToolCycle interprets the first model response. At most one tool cycle
// runs per turn, and a request for an unpermitted tool gets exactly one
// denial re-prompt.
func (e *TurnExecutor) runToolCycle(ctx context.Context, chatModel einomodel.ToolCallingChatModel, msgs []*schema.Message, resp *schema.Message, turnTools []*model.ToolDefinition) (string, *schema.TokenUsage, error) {
	usage := model.UsageFrom(resp)

	calls := parsers.FromMessage(resp)
	if len(calls) == 0 {
		return resp.Content, usage, nil
	}
	call := calls[0]

	def := findTool(turnTools, call.ToolName)
	var followUp *schema.Message
	if def == nil {
		logx.Warn().Str("tool", call.ToolName).Msg("model requested a tool outside the node's permitted set")
		followUp = toolResultMessage(call, prompts.DenialNotice(call.ToolName))
	} else {
		toolCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.Executor.ToolTimeoutSec)*time.Second)
		res := e.deps.ToolGateway.Invoke(toolCtx, def, call.Arguments)
		cancel()
		followUp = toolResultMessage(call, res.Content)
	}

	msgs = append(msgs, resp, followUp)
	second, err := e.generate(ctx, chatModel, msgs)
	if err != nil {
		return "", nil, err
	}
	usage = sumUsage(usage, model.UsageFrom(second))
	return second.Content, usage, nil
}

// toolResultMessage pairs a result with its originating call so providers
// with native function calling see a well-formed exchange. Calls parsed
// from the text envelope have no id; the result degrades to a user-visible
// notice the model still understands.
func toolResultMessage(call model.ToolCallRequest, content string) *schema.Message {
	if call.ID != "" {
		return schema.ToolMessage(content, call.ID)
	}
	return schema.UserMessage(fmt.Sprintf("TOOL RESULT (%s):\n%s", call.ToolName, content))
}

// applyTriggers scans the raw user message for trigger keywords. Provide
// triggers extend the turn's tool set; invoke triggers call the tool up
// front and surface its result as reference context.
func (e *TurnExecutor) applyTriggers(ctx context.Context, node *model.Node, userText string) ([]*model.ToolDefinition, []string) {
	lower := strings.ToLower(userText)

	var provided []*model.ToolDefinition
	var blocks []string
	seen := make(map[string]bool, len(node.ToolTriggers))

	for _, trig := range node.ToolTriggers {
		if seen[trig.ToolName] || !triggerMatches(trig, lower) {
			continue
		}
		seen[trig.ToolName] = true

		def, err := e.deps.Registry.ResolveByName(ctx, trig.ToolName)
		if err != nil {
			logx.Warn().Err(err).Str("tool", trig.ToolName).Msg("triggered tool could not be resolved")
			continue
		}

		switch trig.Mode {
		case model.TriggerInvoke:
			toolCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.Executor.ToolTimeoutSec)*time.Second)
			res := e.deps.ToolGateway.Invoke(toolCtx, def, trig.Args)
			cancel()
			if res.IsError {
				blocks = append(blocks, fmt.Sprintf("Automatic call to tool %q failed: %s", def.Name, res.Content))
			} else {
				blocks = append(blocks, fmt.Sprintf("Result of tool %q:\n%s", def.Name, res.Content))
			}
		default:
			provided = append(provided, def)
		}
	}
	return provided, blocks
}

func triggerMatches(trig model.ToolTrigger, lowerText string) bool {
	for _, kw := range trig.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lowerText, kw) {
			return true
		}
	}
	return false
}

// retrieveReferences is best-effort: retrieval failures degrade the turn to
// an answer without references, never to an error.
func (e *TurnExecutor) retrieveReferences(ctx context.Context, node *model.Node, query string) string {
	if !node.UseRAG || e.deps.Retriever == nil {
		return ""
	}

	retrCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.Executor.RetrieveTimeoutMS)*time.Millisecond)
	defer cancel()

	chunks, err := e.deps.Retriever.Retrieve(retrCtx, query, node.AllowedDocumentIDs, e.cfg.Executor.RetrieveTopK)
	if err != nil {
		logx.Warn().Err(err).Str("node", node.ID).Msg("retrieval failed, answering without references")
		return ""
	}
	return retrieval.FormatContext(chunks)
}

// generate calls the chat model with a per-call timeout and bounded retry.
func (e *TurnExecutor) generate(ctx context.Context, chatModel einomodel.ToolCallingChatModel, msgs []*schema.Message) (*schema.Message, error) {
	timeout := time.Duration(e.cfg.Executor.ModelTimeoutSec) * time.Second
	var lastErr error

	for attempt := 0; attempt <= e.cfg.Executor.ModelMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(e.cfg.Executor.ModelRetryBaseMS) * time.Millisecond << (attempt - 1)
			logx.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying chat model call")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := chatModel.Generate(callCtx, msgs)
		cancel()
		if err == nil && resp != nil {
			return resp, nil
		}
		if err == nil {
			err = fmt.Errorf("nil response")
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %v", model.ErrModelUnavailable, lastErr)
}

func (e *TurnExecutor) usageMetadata(usage *schema.TokenUsage) map[string]any {
	if usage == nil {
		return nil
	}
	inputCost, outputCost, total := model.ComputeCost(usage, e.pricing)
	return map[string]any{
		"model":             e.cfg.ResponseModelName,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
		"input_cost_usd":    inputCost,
		"output_cost_usd":   outputCost,
		"total_cost_usd":    total,
	}
}

func mergeTools(standing, provided []*model.ToolDefinition) []*model.ToolDefinition {
	out := make([]*model.ToolDefinition, 0, len(standing)+len(provided))
	seen := make(map[string]bool, len(standing)+len(provided))
	for _, def := range append(standing, provided...) {
		if seen[def.Name] {
			continue
		}
		seen[def.Name] = true
		out = append(out, def)
	}
	return out
}

func findTool(defs []*model.ToolDefinition, name string) *model.ToolDefinition {
	for _, def := range defs {
		if strings.EqualFold(def.Name, name) {
			return def
		}
	}
	return nil
}

func sumUsage(a, b *schema.TokenUsage) *schema.TokenUsage {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return &schema.TokenUsage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
