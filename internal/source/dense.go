package source

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/amanrag/internal/retrieval"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Dense retrieves by embedding similarity.
type Dense struct {
	embedder QueryEmbedder
	store    store.DenseStore
}

// NewDense creates the dense retriever.
func NewDense(embedder QueryEmbedder, st store.DenseStore) (*Dense, error) {
	if embedder == nil || st == nil {
		return nil, fmt.Errorf("%w: dense retriever needs an embedder and a store", ErrNilDependency)
	}
	return &Dense{embedder: embedder, store: st}, nil
}

// Source implements retrieval.Retriever.
func (d *Dense) Source() retrieval.Source { return retrieval.SourceDense }

// Retrieve embeds the query and returns the nearest chunks, ranked by
// similarity then id. Entities are ignored.
func (d *Dense) Retrieve(ctx context.Context, q retrieval.Query, _ []string, limit int) ([]retrieval.SourceCandidate, error) {
	vec, err := d.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, classify(retrieval.SourceDense, "embed query", err)
	}

	hits, err := d.store.Query(ctx, vec, q.Namespace, limit)
	if err != nil {
		return nil, classify(retrieval.SourceDense, "vector query", err)
	}

	items := make([]scored, len(hits))
	for i, h := range hits {
		items[i] = scored{hit: h, score: h.Score}
	}
	return rank(retrieval.SourceDense, items, q.Namespace, limit, byScore), nil
}

var _ retrieval.Retriever = (*Dense)(nil)
