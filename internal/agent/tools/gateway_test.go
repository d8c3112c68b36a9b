package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgraph/server/internal/agent/model"
)

func TestInvoke_GETMergesQueryParams(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	def := &model.ToolDefinition{
		Name:   "order_status",
		URL:    srv.URL,
		Method: "GET",
		Params: map[string]string{"source": "bot", "order_id": "default"},
	}

	g := NewHTTPGateway(srv.Client(), time.Second)
	res := g.Invoke(context.Background(), def, map[string]any{"order_id": "A-42"})

	require.False(t, res.IsError)
	assert.Equal(t, `{"ok":true}`, res.Content)
	assert.Equal(t, []string{"bot"}, gotQuery["source"])
	// argument overrides the definition default
	assert.Equal(t, []string{"A-42"}, gotQuery["order_id"])
}

func TestInvoke_POSTMergesBodySchema(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`created`))
	}))
	defer srv.Close()

	def := &model.ToolDefinition{
		Name:       "create_ticket",
		URL:        srv.URL,
		Method:     "POST",
		Headers:    map[string]string{"X-Api-Key": "secret"},
		BodySchema: map[string]any{"priority": "low", "channel": "chat"},
	}

	g := NewHTTPGateway(srv.Client(), time.Second)
	res := g.Invoke(context.Background(), def, map[string]any{"priority": "high", "subject": "broken"})

	require.False(t, res.IsError)
	assert.Equal(t, "created", res.Content)
	assert.Equal(t, "high", gotBody["priority"])
	assert.Equal(t, "chat", gotBody["channel"])
	assert.Equal(t, "broken", gotBody["subject"])
}

func TestInvoke_Non2xxIsErrorResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	def := &model.ToolDefinition{Name: "lookup", URL: srv.URL, Method: "GET"}
	res := NewHTTPGateway(srv.Client(), time.Second).Invoke(context.Background(), def, nil)

	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "HTTP 404")
	assert.Contains(t, res.Content, "not found")
}

func TestInvoke_TransportFailureIsErrorResult(t *testing.T) {
	def := &model.ToolDefinition{Name: "dead", URL: "http://127.0.0.1:1", Method: "GET"}
	res := NewHTTPGateway(nil, time.Second).Invoke(context.Background(), def, nil)

	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "unreachable")
}

func TestInvoke_TimeoutIsErrorResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	def := &model.ToolDefinition{Name: "slow", URL: srv.URL, Method: "GET"}
	res := NewHTTPGateway(srv.Client(), 50*time.Millisecond).Invoke(context.Background(), def, nil)

	require.True(t, res.IsError)
}

func TestInvoke_UnsupportedMethod(t *testing.T) {
	def := &model.ToolDefinition{Name: "odd", URL: "http://example.com", Method: "TRACE"}
	res := NewHTTPGateway(nil, time.Second).Invoke(context.Background(), def, nil)

	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "unsupported HTTP method")
}
