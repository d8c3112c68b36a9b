// Package retrieval abstracts document-chunk similarity search for nodes
// with use_rag enabled. The embedding and indexing pipeline is an external
// collaborator; the core only consumes ranked chunks.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Chunk is one ranked retrieval result.
type Chunk struct {
	Text       string
	DocumentID int64
	Source     string
	Score      float64
}

// Gateway performs scoped similarity search.
//
// Scope policy: results are restricted to allowedDocumentIDs; an EMPTY set
// means unrestricted search across the workspace, not "search nothing".
// Ordering: descending score, stable on ties.
type Gateway interface {
	Retrieve(ctx context.Context, query string, allowedDocumentIDs []int64, topK int) ([]Chunk, error)
}

// ApplyScope filters chunks to the allowed document set. Implementations
// that already filter in the backend query still run this as a second
// barrier, so a misconfigured index cannot leak out-of-scope documents.
func ApplyScope(chunks []Chunk, allowedDocumentIDs []int64) []Chunk {
	if len(allowedDocumentIDs) == 0 {
		return chunks
	}
	allowed := make(map[int64]bool, len(allowedDocumentIDs))
	for _, id := range allowedDocumentIDs {
		allowed[id] = true
	}
	out := chunks[:0]
	for _, c := range chunks {
		if allowed[c.DocumentID] {
			out = append(out, c)
		}
	}
	return out
}

// SortByScore orders chunks by descending score, keeping insertion order on
// ties for determinism.
func SortByScore(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
}

// FormatContext renders chunks as the reference block appended to a node's
// system prompt. Empty input renders to an empty string.
func FormatContext(chunks []Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		source := c.Source
		if source == "" {
			source = "unknown"
		}
		parts = append(parts, fmt.Sprintf("Document %d (%s)\nContent: %s", c.DocumentID, source, c.Text))
	}
	return strings.Join(parts, "\n\n---\n\n")
}
