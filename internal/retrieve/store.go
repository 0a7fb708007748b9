// Package retrieve implements hybrid retrieval: parallel dense ANN +
// lexical FTS search against an external vector store, fused with
// Reciprocal Rank Fusion. The vector store engine itself lives outside this
// module; this package only depends on a small interface describing it.
package retrieve

import (
	"context"
	"strings"

	"github.com/osgrep/osgrep-core/pkg/osgrep"
)

// Table is the subset of the external vector/FTS store the retriever needs:
// vector search and lexical search, each with an optional path prefix
// filter and a result limit.
type Table interface {
	VectorSearch(ctx context.Context, vec []float32, limit int, whereSQL string) ([]*osgrep.Chunk, error)
	Search(ctx context.Context, text string, limit int, whereSQL string) ([]*osgrep.Chunk, error)
}

// Store is the external collaborator that owns table lifecycle and FTS
// index creation.
type Store interface {
	EnsureTable(ctx context.Context) (Table, error)
	CreateFTSIndex(ctx context.Context) error
}

// PathPrefixFilter builds a `path LIKE '<prefix>%'` SQL fragment, escaping
// single quotes by doubling them and POSIX-normalizing the prefix. Empty
// prefix means no filter.
func PathPrefixFilter(prefix string) string {
	if prefix == "" {
		return ""
	}
	normalized := strings.ReplaceAll(prefix, "\\", "/")
	escaped := strings.ReplaceAll(normalized, "'", "''")
	return "path LIKE '" + escaped + "%'"
}
