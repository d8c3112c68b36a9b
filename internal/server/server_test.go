package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgraph/server/internal/agent/model"
	"github.com/botgraph/server/internal/core"
)

type stubExecutor struct {
	result *model.TurnResult
	err    error
	got    model.TurnRequest
}

func (s *stubExecutor) ExecuteTurn(_ context.Context, req model.TurnRequest) (*model.TurnResult, error) {
	s.got = req
	return s.result, s.err
}

type stubStore struct {
	states map[string]*model.SessionState
}

func (s *stubStore) Create(_ context.Context, sessionID, botID string) (*model.SessionState, error) {
	return &model.SessionState{SessionID: sessionID, BotID: botID}, nil
}

func (s *stubStore) Load(_ context.Context, sessionID string) (*model.SessionState, error) {
	state, ok := s.states[sessionID]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return state, nil
}

func (s *stubStore) Commit(_ context.Context, _ model.TurnCommit) error { return nil }

type stubBots struct {
	bots map[string]*model.Bot
}

func (s *stubBots) Save(_ context.Context, bot *model.Bot) error {
	s.bots[bot.ID] = bot
	return nil
}

func (s *stubBots) Load(_ context.Context, botID string) (*model.Bot, error) {
	bot, ok := s.bots[botID]
	if !ok {
		return nil, model.ErrBotNotFound
	}
	return bot, nil
}

type stubToolAdmin struct {
	saved []*model.ToolDefinition
}

func (s *stubToolAdmin) Save(_ context.Context, def *model.ToolDefinition) error {
	s.saved = append(s.saved, def)
	return nil
}

func newTestServer(exec *stubExecutor) (*Server, *stubStore, *stubBots, *stubToolAdmin) {
	store := &stubStore{states: make(map[string]*model.SessionState)}
	bots := &stubBots{bots: make(map[string]*model.Bot)}
	toolAdmin := &stubToolAdmin{}
	srv := New(Deps{
		Executor:  exec,
		Store:     store,
		Bots:      bots,
		ToolAdmin: toolAdmin,
	}, model.ConversationConfig{MaxMessageLen: 64}, core.Testing)
	return srv, store, bots, toolAdmin
}

func doJSON(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func TestChatMessage_OK(t *testing.T) {
	exec := &stubExecutor{result: &model.TurnResult{
		SessionID: "s-1",
		Reply:     "hello!",
		Routing:   model.RouteDecision{FromNodeID: "a", NextNodeID: "b", Moved: true, Source: model.RouteDeclared},
	}}
	srv, _, _, _ := newTestServer(exec)

	w := doJSON(srv, http.MethodPost, "/v1/chat/messages", `{"bot_id":"bot-1","text":"hi"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp model.TurnResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hello!", resp.Reply)
	assert.Equal(t, "b", resp.Routing.NextNodeID)
	assert.Equal(t, "bot-1", exec.got.BotID)
}

func TestChatMessage_Validation(t *testing.T) {
	srv, _, _, _ := newTestServer(&stubExecutor{})

	w := doJSON(srv, http.MethodPost, "/v1/chat/messages", `{"bot_id":"bot-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(srv, http.MethodPost, "/v1/chat/messages", `{"text":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	long := strings.Repeat("x", 65)
	w = doJSON(srv, http.MethodPost, "/v1/chat/messages", `{"bot_id":"b","text":"`+long+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "maximum length")
}

func TestChatMessage_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{model.ErrSessionConflict, http.StatusConflict},
		{model.ErrModelUnavailable, http.StatusBadGateway},
		{model.ErrBotNotFound, http.StatusNotFound},
		{model.ErrSessionNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		srv, _, _, _ := newTestServer(&stubExecutor{err: tc.err})
		w := doJSON(srv, http.MethodPost, "/v1/chat/messages", `{"bot_id":"b","text":"hi"}`)
		assert.Equal(t, tc.code, w.Code, "error %v", tc.err)
	}
}

func TestSessionMessages(t *testing.T) {
	srv, store, _, _ := newTestServer(&stubExecutor{})
	node := "orders"
	store.states["s-1"] = &model.SessionState{
		SessionID:     "s-1",
		BotID:         "bot-1",
		CurrentNodeID: &node,
		Messages: []*schema.Message{
			schema.UserMessage("hi"),
			schema.AssistantMessage("hello", nil),
		},
	}

	w := doJSON(srv, http.MethodGet, "/v1/chat/sessions/s-1/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"current_node_id":"orders"`)
	assert.Contains(t, w.Body.String(), `"content":"hello"`)

	w = doJSON(srv, http.MethodGet, "/v1/chat/sessions/nope/messages", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSaveBot_ValidationListsAllViolations(t *testing.T) {
	srv, _, bots, _ := newTestServer(&stubExecutor{})

	body := `{
		"name": "broken",
		"graph": {
			"entry_node_id": "missing",
			"nodes": [
				{"id": "a", "transitions": [
					{"target_node_id": "ghost", "condition": {"type": "always"}},
					{"target_node_id": "a", "condition": {"type": "keyword"}}
				]}
			]
		}
	}`
	w := doJSON(srv, http.MethodPut, "/v1/bots/bot-1", body)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp struct {
		Violations []map[string]any `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	// missing entry, dangling target, keyword without value
	assert.Len(t, resp.Violations, 3)
	assert.Empty(t, bots.bots)
}

func TestSaveBot_ValidThenGet(t *testing.T) {
	srv, _, _, _ := newTestServer(&stubExecutor{})

	body := `{
		"name": "support",
		"graph": {
			"entry_node_id": "greeting",
			"nodes": [{"id": "greeting", "system_prompt": "Hi."}]
		}
	}`
	w := doJSON(srv, http.MethodPut, "/v1/bots/bot-1", body)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(srv, http.MethodGet, "/v1/bots/bot-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"entry_node_id":"greeting"`)

	w = doJSON(srv, http.MethodGet, "/v1/bots/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSaveTool(t *testing.T) {
	srv, _, _, toolAdmin := newTestServer(&stubExecutor{})

	w := doJSON(srv, http.MethodPut, "/v1/tools/7", `{"name":"order_status","url":"http://x","method":"GET"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, toolAdmin.saved, 1)
	assert.Equal(t, int64(7), toolAdmin.saved[0].ID)

	w = doJSON(srv, http.MethodPut, "/v1/tools/abc", `{"name":"x","url":"http://x","method":"GET"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(srv, http.MethodPut, "/v1/tools/8", `{"url":"http://x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer(&stubExecutor{})
	w := doJSON(srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	exec := &stubExecutor{result: &model.TurnResult{SessionID: "s", Reply: "r", Routing: model.RouteDecision{Source: model.RouteSticky}}}
	srv, _, _, _ := newTestServer(exec)

	_ = doJSON(srv, http.MethodPost, "/v1/chat/messages", `{"bot_id":"b","text":"hi"}`)
	w := doJSON(srv, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "botgraph_turns_total")
	assert.Contains(t, w.Body.String(), `source="sticky"`)
}
