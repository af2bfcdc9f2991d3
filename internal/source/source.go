// Package source implements the four retrieval sources behind the
// retrieval.Retriever interface: dense vectors, sparse terms, local graph
// traversal and global graph communities.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/retrieval"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// ErrNilDependency is returned when a required collaborator is nil.
var ErrNilDependency = errors.New("nil dependency")

// QueryEmbedder turns query text into a dense vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// scored is a store result before ranking.
type scored struct {
	hit      store.Hit
	score    float64
	matched  int
	ratio    float64
	entities []string
}

// rank keeps results of namespace, drops duplicate ids (first wins), sorts
// with less and assigns 1-based ranks. At most limit candidates are returned.
func rank(src retrieval.Source, items []scored, namespace string, limit int, less func(a, b scored) bool) []retrieval.SourceCandidate {
	seen := make(map[string]struct{}, len(items))
	kept := make([]scored, 0, len(items))
	for _, it := range items {
		if it.hit.Namespace != namespace {
			continue
		}
		if _, dup := seen[it.hit.ID]; dup {
			continue
		}
		seen[it.hit.ID] = struct{}{}
		kept = append(kept, it)
	}

	sort.SliceStable(kept, func(i, j int) bool { return less(kept[i], kept[j]) })
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}

	out := make([]retrieval.SourceCandidate, len(kept))
	for i, it := range kept {
		out[i] = retrieval.SourceCandidate{
			ID:       it.hit.ID,
			RawScore: it.score,
			Source:   src,
			Rank:     i + 1,
			Payload: retrieval.Payload{
				Text:            it.hit.Text,
				DocumentID:      it.hit.DocumentID,
				ChunkIndex:      it.hit.ChunkIndex,
				MatchedEntities: it.entities,
				Namespace:       it.hit.Namespace,
			},
		}
	}
	return out
}

// byScore orders by score descending, then id ascending.
func byScore(a, b scored) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.hit.ID < b.hit.ID
}

// classify maps a collaborator error onto the source error model. Caller
// cancellation passes through untouched.
func classify(src retrieval.Source, op string, err error) error {
	var dim store.ErrDimensionMismatch
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return amerrors.SourceTimeout(string(src), err)
	case errors.Is(err, amerrors.ErrInvalidQuery):
		return err
	case errors.As(err, &dim):
		return amerrors.New(amerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("%s: %s", src, dim.Error()), err).
			WithSuggestion("Re-embed the corpus with the configured embedding model")
	default:
		return amerrors.SourceUnavailable(string(src), fmt.Errorf("%s: %w", op, err))
	}
}
