package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	logx "github.com/botgraph/server/pkg/logger"
)

// WeaviateConfig configures the Weaviate-backed gateway.
type WeaviateConfig struct {
	URL       string `envconfig:"WEAVIATE_URL" default:"http://localhost:8081"`
	ClassName string `envconfig:"WEAVIATE_CLASS" default:"DocumentChunk"`
}

// NewWeaviateClient builds a client from the configured URL.
func (c *WeaviateConfig) NewWeaviateClient() (*weaviate.Client, error) {
	parsed, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parse weaviate url: %w", err)
	}
	return weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
}

// WeaviateGateway searches a chunk class with nearText semantic search,
// filtered server-side to the allowed document ids.
type WeaviateGateway struct {
	client    *weaviate.Client
	className string
}

// NewWeaviateGateway wraps an existing client.
func NewWeaviateGateway(client *weaviate.Client, className string) *WeaviateGateway {
	if className == "" {
		className = "DocumentChunk"
	}
	return &WeaviateGateway{client: client, className: className}
}

var _ Gateway = (*WeaviateGateway)(nil)

// chunkResult mirrors the GraphQL field set requested below.
type chunkResult struct {
	Content    string `json:"content"`
	DocumentID int64  `json:"document_id"`
	Source     string `json:"source"`
	Additional struct {
		Certainty float64 `json:"certainty"`
	} `json:"_additional"`
}

type getEnvelope struct {
	Get map[string][]chunkResult `json:"Get"`
}

// Retrieve implements Gateway.
func (g *WeaviateGateway) Retrieve(ctx context.Context, query string, allowedDocumentIDs []int64, topK int) ([]Chunk, error) {
	if topK <= 0 {
		topK = 3
	}

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "document_id"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	nearText := g.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	builder := g.client.GraphQL().Get().
		WithClassName(g.className).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(topK)

	// Empty scope means unrestricted search; only add the filter when the
	// node declares specific documents.
	if len(allowedDocumentIDs) > 0 {
		builder = builder.WithWhere(filters.Where().
			WithPath([]string{"document_id"}).
			WithOperator(filters.ContainsAny).
			WithValueInt(allowedDocumentIDs...))
	}

	resp, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search: %s", graphQLErrorString(resp))
	}

	parsed, err := parseGetResponse(resp)
	if err != nil {
		return nil, err
	}

	results := parsed.Get[g.className]
	chunks := make([]Chunk, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, Chunk{
			Text:       r.Content,
			DocumentID: r.DocumentID,
			Source:     r.Source,
			Score:      r.Additional.Certainty,
		})
	}

	// The where filter already scopes the query; keep the defensive filter
	// as a second barrier and normalise ordering.
	chunks = ApplyScope(chunks, allowedDocumentIDs)
	SortByScore(chunks)

	logx.Debug().
		Str("component", "retrieval").
		Int("chunks", len(chunks)).
		Int("top_k", topK).
		Msg("retrieval completed")
	return chunks, nil
}

// parseGetResponse converts the dynamic GraphQL payload into typed results.
func parseGetResponse(resp *models.GraphQLResponse) (*getEnvelope, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal GraphQL response data: %w", err)
	}
	var env getEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal GraphQL response data: %w", err)
	}
	return &env, nil
}

func graphQLErrorString(resp *models.GraphQLResponse) string {
	if len(resp.Errors) == 0 || resp.Errors[0] == nil {
		return "unknown error"
	}
	return resp.Errors[0].Message
}
