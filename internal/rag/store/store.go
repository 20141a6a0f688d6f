// Package store provides the chunk indexes the search tools query: a SQLite
// FTS5 keyword index, a chromem-go semantic index and a hybrid of the two.
package store

import (
	"context"
	"errors"

	"github.com/haasonsaas/chatcore/pkg/models"
)

// ErrClosed is returned by indexes used after Close.
var ErrClosed = errors.New("index closed")

// Index stores chunks and ranks them against a query.
type Index interface {
	// Upsert adds chunks, replacing any with the same ID.
	Upsert(ctx context.Context, chunks []*models.Chunk) error

	// Search returns up to q.TopK results, best first.
	Search(ctx context.Context, q Query) ([]models.SearchResult, error)

	// Count returns the number of indexed chunks.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Query is a search request against one knowledge source.
type Query struct {
	// Text is the natural language query.
	Text string

	// Keywords are extra terms for keyword ranking. Semantic indexes ignore them.
	Keywords string

	// Source restricts results to one knowledge source. Empty searches all.
	Source string

	// PluginName restricts plugin documentation to one plugin.
	PluginName string

	// TopK caps the number of results. Zero means DefaultTopK.
	TopK int
}

// DefaultTopK is the result count used when a query does not set one.
const DefaultTopK = 5

func (q Query) limit() int {
	if q.TopK <= 0 {
		return DefaultTopK
	}
	return q.TopK
}
