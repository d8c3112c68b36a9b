// Package tools invokes external HTTP operations on behalf of the model.
// Tool definitions are owned by the external registry; this package only
// executes them.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/botgraph/server/internal/agent/model"
	logx "github.com/botgraph/server/pkg/logger"
)

// maxResponseLen caps how much of a tool response is fed back to the model.
const maxResponseLen = 64 * 1024

// Result is the outcome of one tool invocation. Failures are data, not
// errors: the executor feeds them to the model so the agent can explain the
// failure conversationally instead of crashing the turn.
type Result struct {
	Content string
	IsError bool
}

// Gateway invokes a named external operation with a declared schema.
type Gateway interface {
	Invoke(ctx context.Context, def *model.ToolDefinition, args map[string]any) *Result
}

// HTTPGateway executes tool definitions as HTTP requests.
type HTTPGateway struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPGateway builds a gateway with a per-call timeout. A nil client
// falls back to http.DefaultClient.
func NewHTTPGateway(client *http.Client, timeout time.Duration) *HTTPGateway {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{client: client, timeout: timeout}
}

var _ Gateway = (*HTTPGateway)(nil)

// Invoke implements Gateway. GET and DELETE requests carry arguments as
// query parameters merged over the definition's base params; POST, PUT and
// PATCH merge arguments over the body schema defaults and send JSON.
func (g *HTTPGateway) Invoke(ctx context.Context, def *model.ToolDefinition, args map[string]any) *Result {
	method := strings.ToUpper(strings.TrimSpace(def.Method))
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
	default:
		return errorResult("unsupported HTTP method %q", def.Method)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var req *http.Request
	var err error

	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, def.URL, nil)
		if err == nil {
			q := req.URL.Query()
			for k, v := range def.Params {
				q.Set(k, v)
			}
			for k, v := range args {
				q.Set(k, fmt.Sprint(v))
			}
			req.URL.RawQuery = q.Encode()
		}
	default:
		body := make(map[string]any, len(def.BodySchema)+len(args))
		for k, v := range def.BodySchema {
			body[k] = v
		}
		for k, v := range args {
			body[k] = v
		}
		var payload []byte
		payload, err = json.Marshal(body)
		if err != nil {
			return errorResult("encode tool arguments: %v", err)
		}
		req, err = http.NewRequestWithContext(ctx, method, def.URL, bytes.NewReader(payload))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return errorResult("build tool request: %v", err)
	}

	for k, v := range def.Headers {
		req.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		logx.Warn().
			Str("tool", def.Name).
			Err(err).
			Msg("tool request failed")
		if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
			return errorResult("tool %q timed out after %s", def.Name, g.timeout)
		}
		return errorResult("tool %q unreachable: %v", def.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if err != nil {
		return errorResult("read tool response: %v", err)
	}

	logx.Debug().
		Str("tool", def.Name).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("tool invoked")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorResult("HTTP %d from tool %q: %s", resp.StatusCode, def.Name, strings.TrimSpace(string(raw)))
	}

	return &Result{Content: string(raw)}
}

func errorResult(format string, a ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, a...), IsError: true}
}
