package model

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/schema"
)

// ErrToolNotFound is returned when a tool id has no definition in the
// registry. Tool existence is checked lazily at invocation time, since
// definitions live outside the core and may be deleted independently.
var ErrToolNotFound = errors.New("tool not found")

// ParamSpec describes one model-facing tool parameter.
type ParamSpec struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ToolDefinition describes an external HTTP operation the model may invoke.
// Definitions are owned by the external tool registry; the core only reads
// them.
type ToolDefinition struct {
	ID          int64                `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	URL         string               `json:"url"`
	Method      string               `json:"method"`
	Headers     map[string]string    `json:"headers,omitempty"`
	Params      map[string]string    `json:"params,omitempty"`
	BodySchema  map[string]any       `json:"body_schema,omitempty"`
	Parameters  map[string]ParamSpec `json:"parameters,omitempty"`
}

// SchemaInfo derives the tool schema offered to the chat model.
func (d *ToolDefinition) SchemaInfo() *schema.ToolInfo {
	params := make(map[string]*schema.ParameterInfo, len(d.Parameters))
	for name, p := range d.Parameters {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		params[name] = &schema.ParameterInfo{
			Type:     schema.DataType(typ),
			Desc:     p.Description,
			Required: p.Required,
		}
	}
	return &schema.ToolInfo{
		Name:        d.Name,
		Desc:        d.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}
}

// ToolRegistry resolves tool ids to definitions. Missing ids are skipped,
// not errors: a node may reference tools that were deleted after the graph
// was configured.
type ToolRegistry interface {
	Resolve(ctx context.Context, ids []int64) ([]*ToolDefinition, error)
	ResolveByName(ctx context.Context, name string) (*ToolDefinition, error)
}

// ToolCallRequest is the transient, parsed form of a model's request to
// invoke one tool. It exists only within a single turn.
type ToolCallRequest struct {
	ID        string
	ToolName  string
	Arguments map[string]any
}
