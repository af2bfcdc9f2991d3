package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemble_CitationsAndTruncation(t *testing.T) {
	// Given: four fused candidates
	fused := NewRRFFusion().Fuse(map[Source][]SourceCandidate{
		SourceDense: ranked(SourceDense, "a", "b", "c", "d"),
	}, IntentWeights{Dense: 1})

	// When: assembling the top 3
	items := Assemble(fused, 3)

	// Then: citations are 1-based in final order and scores are untouched
	require.Len(t, items, 3)
	assert.Equal(t, []string{"a", "b", "c"}, ids(items))
	for i, it := range items {
		assert.Equal(t, i+1, it.Citation)
		assert.Equal(t, fused[i].FusedScore, it.FusedScore)
	}
}

func TestAssemble_MergesDuplicateIDs(t *testing.T) {
	// Given: the same chunk twice, once via dense and once via graph_local
	fused := []*FusionCandidate{
		{
			ID: "chunk-1", FusedScore: 0.02,
			ContributingSources: []Source{SourceGraphLocal},
			Ranks:               map[Source]int{SourceGraphLocal: 1},
			RawScores:           map[Source]float64{SourceGraphLocal: 3},
			BestSource:          SourceGraphLocal,
			BestPayload:         Payload{Text: "graph"},
		},
		{
			ID: "chunk-2", FusedScore: 0.015,
			ContributingSources: []Source{SourceSparse},
			Ranks:               map[Source]int{SourceSparse: 1},
			RawScores:           map[Source]float64{SourceSparse: 1},
			BestSource:          SourceSparse,
		},
		{
			ID: "chunk-1", FusedScore: 0.01,
			ContributingSources: []Source{SourceDense},
			Ranks:               map[Source]int{SourceDense: 4},
			RawScores:           map[Source]float64{SourceDense: 0.9},
			BestSource:          SourceDense,
			BestPayload:         Payload{Text: "dense"},
		},
	}

	items := Assemble(fused, 10)

	// Then: one item per id, sources merged in canonical order, score kept
	require.Len(t, items, 2)
	assert.Equal(t, "chunk-1", items[0].ID)
	assert.Equal(t, []Source{SourceDense, SourceGraphLocal}, items[0].ContributingSources)
	assert.Equal(t, 0.02, items[0].FusedScore)
	assert.Equal(t, "graph", items[0].BestPayload.Text)
	assert.Equal(t, 4, items[0].Ranks[SourceDense])
	assert.Equal(t, 2, items[1].Citation)
}

func TestAssemble_OutputDoesNotAliasInput(t *testing.T) {
	fused := NewRRFFusion().Fuse(map[Source][]SourceCandidate{
		SourceGraphLocal: {{ID: "a", RawScore: 2, Payload: Payload{MatchedEntities: []string{"oauth"}}}},
	}, IntentWeights{GraphLocal: 1})

	items := Assemble(fused, 0)
	fused[0].BestPayload.MatchedEntities[0] = "changed"
	fused[0].ContributingSources[0] = SourceDense

	assert.Equal(t, "oauth", items[0].BestPayload.MatchedEntities[0])
	assert.Equal(t, SourceGraphLocal, items[0].ContributingSources[0])
}

func TestFusedResultSet_ItemsAreCopies(t *testing.T) {
	rs := &FusedResultSet{items: Assemble(NewRRFFusion().Fuse(map[Source][]SourceCandidate{
		SourceDense: ranked(SourceDense, "a", "b"),
	}, IntentWeights{Dense: 1}), 10)}

	first := rs.Items()
	first[0].ID = "mutated"
	first[0].Ranks[SourceDense] = 99

	again := rs.Items()
	assert.Equal(t, "a", again[0].ID)
	assert.Equal(t, 1, again[0].Ranks[SourceDense])
	assert.Equal(t, 2, rs.Len())
}

func TestAssemble_Empty(t *testing.T) {
	assert.Empty(t, Assemble(nil, 5))
}
