package source

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/amanrag/internal/retrieval"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// localPoolFactor widens the store fetch so re-ranking by overlap ratio
// sees candidates the store's own order would cut.
const localPoolFactor = 4

// GraphLocal retrieves chunks linked to the expanded entities.
type GraphLocal struct {
	graph store.GraphStore
}

// NewGraphLocal creates the local graph retriever.
func NewGraphLocal(graph store.GraphStore) (*GraphLocal, error) {
	if graph == nil {
		return nil, fmt.Errorf("%w: graph retriever needs a graph store", ErrNilDependency)
	}
	return &GraphLocal{graph: graph}, nil
}

// Source implements retrieval.Retriever.
func (g *GraphLocal) Source() retrieval.Source { return retrieval.SourceGraphLocal }

// Retrieve ranks chunks by distinct matched entities, then by the share of
// the chunk's entities that matched, then id. The raw score is the matched
// count. No entities yields an empty list.
func (g *GraphLocal) Retrieve(ctx context.Context, q retrieval.Query, entities []string, limit int) ([]retrieval.SourceCandidate, error) {
	if len(entities) == 0 || limit <= 0 {
		return []retrieval.SourceCandidate{}, nil
	}

	matches, err := g.graph.TraverseEntities(ctx, entities, q.Namespace, limit*localPoolFactor)
	if err != nil {
		return nil, classify(retrieval.SourceGraphLocal, "traverse entities", err)
	}

	items := make([]scored, len(matches))
	for i, m := range matches {
		ratio := 0.0
		if m.Linked > 0 {
			ratio = float64(m.Matched) / float64(m.Linked)
		}
		items[i] = scored{
			hit:      m.Hit,
			score:    float64(m.Matched),
			matched:  m.Matched,
			ratio:    ratio,
			entities: m.Entities,
		}
	}
	return rank(retrieval.SourceGraphLocal, items, q.Namespace, limit, byOverlap), nil
}

func byOverlap(a, b scored) bool {
	if a.matched != b.matched {
		return a.matched > b.matched
	}
	if a.ratio != b.ratio {
		return a.ratio > b.ratio
	}
	return a.hit.ID < b.hit.ID
}

// CommunityIDPrefix keeps community candidates apart from chunk ids.
const CommunityIDPrefix = "community:"

// GraphGlobal retrieves community summaries covering the entities.
type GraphGlobal struct {
	graph store.GraphStore
}

// NewGraphGlobal creates the global graph retriever.
func NewGraphGlobal(graph store.GraphStore) (*GraphGlobal, error) {
	if graph == nil {
		return nil, fmt.Errorf("%w: graph retriever needs a graph store", ErrNilDependency)
	}
	return &GraphGlobal{graph: graph}, nil
}

// Source implements retrieval.Retriever.
func (g *GraphGlobal) Source() retrieval.Source { return retrieval.SourceGraphGlobal }

// Retrieve ranks communities by the fraction of query entities they
// contain, then id. No entities yields an empty list.
func (g *GraphGlobal) Retrieve(ctx context.Context, q retrieval.Query, entities []string, limit int) ([]retrieval.SourceCandidate, error) {
	if len(entities) == 0 || limit <= 0 {
		return []retrieval.SourceCandidate{}, nil
	}

	matches, err := g.graph.QueryCommunities(ctx, entities, q.Namespace, limit)
	if err != nil {
		return nil, classify(retrieval.SourceGraphGlobal, "query communities", err)
	}

	items := make([]scored, len(matches))
	for i, m := range matches {
		hit := m.Hit
		hit.ID = CommunityIDPrefix + m.ID
		items[i] = scored{hit: hit, score: m.Score, matched: m.Matched}
	}
	return rank(retrieval.SourceGraphGlobal, items, q.Namespace, limit, byScore), nil
}

var (
	_ retrieval.Retriever = (*GraphLocal)(nil)
	_ retrieval.Retriever = (*GraphGlobal)(nil)
)
