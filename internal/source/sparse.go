package source

import (
	"context"
	"fmt"
	"math"

	"github.com/Aman-CERP/amanrag/internal/retrieval"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// SparseEncoder turns query text into weighted terms.
type SparseEncoder interface {
	Encode(ctx context.Context, text string) (store.SparseVector, error)
}

// TermWeightEncoder weights each content term by 1 + ln(tf). Identifiers
// are split on case and underscore boundaries; stop words are dropped.
type TermWeightEncoder struct{}

// Encode implements SparseEncoder.
func (TermWeightEncoder) Encode(_ context.Context, text string) (store.SparseVector, error) {
	tf := map[string]int{}
	for _, tok := range store.FilterStopWords(store.Tokenize(text)) {
		tf[tok]++
	}
	sv := make(store.SparseVector, len(tf))
	for term, n := range tf {
		sv[term] = float32(1 + math.Log(float64(n)))
	}
	return sv, nil
}

// Sparse retrieves by weighted term overlap.
type Sparse struct {
	encoder SparseEncoder
	store   store.SparseStore
}

// NewSparse creates the sparse retriever. A nil encoder means
// TermWeightEncoder.
func NewSparse(encoder SparseEncoder, st store.SparseStore) (*Sparse, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: sparse retriever needs a store", ErrNilDependency)
	}
	if encoder == nil {
		encoder = TermWeightEncoder{}
	}
	return &Sparse{encoder: encoder, store: st}, nil
}

// Source implements retrieval.Retriever.
func (s *Sparse) Source() retrieval.Source { return retrieval.SourceSparse }

// Retrieve encodes the query and returns matching chunks, ranked by score
// then id. A query with no content terms yields an empty list.
func (s *Sparse) Retrieve(ctx context.Context, q retrieval.Query, _ []string, limit int) ([]retrieval.SourceCandidate, error) {
	sv, err := s.encoder.Encode(ctx, q.Text)
	if err != nil {
		return nil, classify(retrieval.SourceSparse, "encode query", err)
	}
	if len(sv) == 0 {
		return []retrieval.SourceCandidate{}, nil
	}

	hits, err := s.store.QuerySparse(ctx, sv, q.Namespace, limit)
	if err != nil {
		return nil, classify(retrieval.SourceSparse, "sparse query", err)
	}

	items := make([]scored, len(hits))
	for i, h := range hits {
		items[i] = scored{hit: h, score: h.Score}
	}
	return rank(retrieval.SourceSparse, items, q.Namespace, limit, byScore), nil
}

var _ retrieval.Retriever = (*Sparse)(nil)
