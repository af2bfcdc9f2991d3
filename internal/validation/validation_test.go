package validation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/retrieval"
)

const goldenSet = `
tier1:
  - id: T1-Q1
    name: first hit
    query: token rotation
    expected: [c1]
  - id: T1-Q2
    name: missing
    query: nothing relevant
    expected: [zz]
tier2:
  - id: T2-Q1
    query: second hit
    weights: sparse=1
    expected: [c2, c9]
negative:
  - id: N1
    query: ""
`

type stubRetriever struct {
	src retrieval.Source
	ids []string
}

func (s stubRetriever) Source() retrieval.Source { return s.src }

func (s stubRetriever) Retrieve(_ context.Context, _ retrieval.Query, _ []string, _ int) ([]retrieval.SourceCandidate, error) {
	out := make([]retrieval.SourceCandidate, len(s.ids))
	for i, id := range s.ids {
		out[i] = retrieval.SourceCandidate{ID: id, RawScore: 1 - float64(i)*0.1, Source: s.src, Rank: i + 1}
	}
	return out, nil
}

func newEngine(t *testing.T) *retrieval.Engine {
	t.Helper()
	e, err := retrieval.NewEngine([]retrieval.Retriever{
		stubRetriever{src: retrieval.SourceDense, ids: []string{"c1", "c3"}},
		stubRetriever{src: retrieval.SourceSparse, ids: []string{"c1", "c2"}},
	}, retrieval.DefaultConfig())
	require.NoError(t, err)
	return e
}

type failingRetriever struct{}

func (failingRetriever) Retrieve(context.Context, retrieval.Query) (*retrieval.FusedResultSet, error) {
	return nil, errors.New("boom")
}

func TestParseQueries_AssignsTiers(t *testing.T) {
	cfg, err := ParseQueries([]byte(goldenSet))

	require.NoError(t, err)
	require.Len(t, cfg.Tier1, 2)
	assert.Equal(t, 1, cfg.Tier1[0].Tier)
	assert.Equal(t, 2, cfg.Tier2[0].Tier)
	assert.Equal(t, 0, cfg.Negative[0].Tier)
}

func TestParseQueries_RequiresExpectedOutsideNegative(t *testing.T) {
	_, err := ParseQueries([]byte("tier1:\n  - id: X\n    query: q\n"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "X")
}

func TestLoadQueries_MissingFile(t *testing.T) {
	_, err := LoadQueries(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadQueries_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golden.yaml")
	require.NoError(t, os.WriteFile(path, []byte(goldenSet), 0o600))

	cfg, err := LoadQueries(path)

	require.NoError(t, err)
	assert.Len(t, cfg.Negative, 1)
}

func TestRunAll(t *testing.T) {
	// Given: a golden set and an engine over two stub sources
	cfg, err := ParseQueries([]byte(goldenSet))
	require.NoError(t, err)
	v := NewValidator(newEngine(t), 0)

	// When: running everything
	res := v.RunAll(context.Background(), cfg)

	// Then: hits, misses and negatives are tallied per tier
	assert.Equal(t, 1, res.Tier1Pass)
	assert.Equal(t, 2, res.Tier1Total)
	assert.InDelta(t, 0.5, res.Tier1PassRate(), 1e-9)
	assert.Equal(t, 0, res.Tier1[0].MatchedAt)
	assert.Equal(t, -1, res.Tier1[1].MatchedAt)

	assert.Equal(t, 1, res.Tier2Pass)
	assert.Equal(t, 1, res.Tier2[0].MatchedAt, "sparse-only weights put c1 then c2")
	assert.Equal(t, []string{"c1", "c2"}, res.Tier2[0].TopResults)

	assert.Equal(t, 1, res.NegPass)
}

func TestRunQuery_Errors(t *testing.T) {
	tests := []struct {
		name       string
		spec       QuerySpec
		wantPassed bool
	}{
		{"positive query fails", QuerySpec{ID: "a", Query: "q", Tier: 1, Expected: []string{"c1"}}, false},
		{"negative query tolerates rejection", QuerySpec{ID: "b", Query: "q", Tier: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewValidator(failingRetriever{}, 0).RunQuery(context.Background(), tt.spec)
			assert.Equal(t, tt.wantPassed, res.Passed)
		})
	}
}

func TestRunQuery_InvalidWeights(t *testing.T) {
	spec := QuerySpec{ID: "w", Query: "q", Tier: 1, Weights: "dense=7", Expected: []string{"c1"}}

	res := NewValidator(newEngine(t), 0).RunQuery(context.Background(), spec)

	assert.False(t, res.Passed)
	assert.NotEmpty(t, res.Error)
}

func TestCheckExpected(t *testing.T) {
	tests := []struct {
		results  []string
		expected []string
		ok       bool
		at       int
	}{
		{[]string{"a", "b"}, []string{"b"}, true, 1},
		{[]string{"a", "b"}, []string{"x", "a"}, true, 0},
		{[]string{"ab"}, []string{"a"}, false, -1},
		{nil, []string{"a"}, false, -1},
	}
	for _, tt := range tests {
		ok, at := checkExpected(tt.results, tt.expected)
		assert.Equal(t, tt.ok, ok)
		assert.Equal(t, tt.at, at)
	}
}

func TestTier1PassRate_Empty(t *testing.T) {
	assert.Equal(t, 1.0, (&ValidationResult{}).Tier1PassRate())
}
