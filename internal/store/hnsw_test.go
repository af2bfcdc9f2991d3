package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vecChunk(ns, id string, vec ...float32) Chunk {
	return Chunk{ID: id, Namespace: ns, DocumentID: "doc-" + id, Text: "text " + id, Vector: vec}
}

func newTestHNSW(t *testing.T) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(DefaultHNSWConfig(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHNSWStore_AddAndQuery(t *testing.T) {
	// Given: vectors a=[1,0,0,0], b=[0,1,0,0], c=[0.9,0.1,0,0]
	s := newTestHNSW(t)
	require.NoError(t, s.Add(context.Background(), []Chunk{
		vecChunk("acme", "a", 1, 0, 0, 0),
		vecChunk("acme", "b", 0, 1, 0, 0),
		vecChunk("acme", "c", 0.9, 0.1, 0, 0),
	}))

	// When: querying [1,0,0,0] with limit 2
	hits, err := s.Query(context.Background(), []float32{1, 0, 0, 0}, "acme", 2)
	require.NoError(t, err)

	// Then: a then c, with payloads
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "c", hits[1].ID)
	assert.Greater(t, hits[0].Score, 0.99)
	assert.Equal(t, "doc-a", hits[0].DocumentID)
	assert.Equal(t, "acme", hits[0].Namespace)
}

func TestHNSWStore_NamespacesAreIsolated(t *testing.T) {
	s := newTestHNSW(t)
	require.NoError(t, s.Add(context.Background(), []Chunk{
		vecChunk("acme", "a", 1, 0, 0, 0),
		vecChunk("globex", "g", 1, 0, 0, 0),
		vecChunk("", "d", 1, 0, 0, 0),
	}))

	hits, err := s.Query(context.Background(), []float32{1, 0, 0, 0}, "globex", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "g", hits[0].ID)

	hits, err = s.Query(context.Background(), []float32{1, 0, 0, 0}, "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d", hits[0].ID)

	hits, err = s.Query(context.Background(), []float32{1, 0, 0, 0}, "initech", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, []string{DefaultNamespace, "acme", "globex"}, s.Namespaces())
}

func TestHNSWStore_ReplaceAndDelete(t *testing.T) {
	// Given: "a" added twice with different vectors
	s := newTestHNSW(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, []Chunk{vecChunk("acme", "a", 1, 0, 0, 0), vecChunk("acme", "b", 0, 0, 1, 0)}))
	require.NoError(t, s.Add(ctx, []Chunk{vecChunk("acme", "a", 0, 1, 0, 0)}))

	// Then: the latest vector wins and the count is unchanged
	assert.Equal(t, 2, s.Count())
	hits, err := s.Query(ctx, []float32{0, 1, 0, 0}, "acme", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
	assert.Greater(t, hits[0].Score, 0.99)

	// When: deleting "a"
	require.NoError(t, s.Delete(ctx, "acme", []string{"a", "missing"}))

	// Then: only "b" is returned
	hits, err = s.Query(ctx, []float32{0, 1, 0, 0}, "acme", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}

func TestHNSWStore_DimensionMismatch(t *testing.T) {
	s := newTestHNSW(t)

	err := s.Add(context.Background(), []Chunk{vecChunk("acme", "a", 1, 0)})
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = s.Query(context.Background(), []float32{1, 0, 0}, "acme", 1)
	assert.ErrorAs(t, err, &dimErr)
}

func TestHNSWStore_Closed(t *testing.T) {
	s, err := NewHNSWStore(DefaultHNSWConfig(4))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Query(context.Background(), []float32{1, 0, 0, 0}, "acme", 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Add(context.Background(), []Chunk{vecChunk("acme", "a", 1, 0, 0, 0)}), ErrClosed)
}

func TestHNSWStore_CanceledContext(t *testing.T) {
	s := newTestHNSW(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Query(ctx, []float32{1, 0, 0, 0}, "acme", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHNSWStore_SaveAndLoad(t *testing.T) {
	// Given: a saved store with two namespaces
	path := filepath.Join(t.TempDir(), "nested", "dense.gob")
	s := newTestHNSW(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, []Chunk{
		vecChunk("acme", "a", 1, 0, 0, 0),
		vecChunk("globex", "g", 0, 1, 0, 0),
	}))
	require.NoError(t, s.Save(path))

	// When: loading it back
	loaded, err := LoadHNSWStore(ctx, path)
	require.NoError(t, err)
	defer func() { _ = loaded.Close() }()

	// Then: both namespaces answer queries
	assert.Equal(t, 2, loaded.Count())
	hits, err := loaded.Query(ctx, []float32{0, 1, 0, 0}, "globex", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "g", hits[0].ID)
}

func TestLoadHNSWStore_MissingFile(t *testing.T) {
	_, err := LoadHNSWStore(context.Background(), filepath.Join(t.TempDir(), "none.gob"))
	assert.Error(t, err)
}

func TestNormalizeVectorInPlace(t *testing.T) {
	v := []float32{3, 4}
	normalizeVectorInPlace(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	normalizeVectorInPlace(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestDistanceToScore(t *testing.T) {
	assert.InDelta(t, 1.0, distanceToScore(0, "cos"), 1e-6)
	assert.InDelta(t, 0.0, distanceToScore(1, "cos"), 1e-6)
	assert.InDelta(t, -1.0, distanceToScore(2, "cos"), 1e-6)
	assert.InDelta(t, 0.5, distanceToScore(1, "l2"), 1e-6)
	assert.False(t, math.IsNaN(float64(distanceToScore(0.5, "other"))))
}

func TestHNSWStore_ScoreIsCosineSimilarity(t *testing.T) {
	// Given: an identical, an orthogonal and an opposite vector
	s, err := NewHNSWStore(DefaultHNSWConfig(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Add(context.Background(), []Chunk{
		vecChunk("acme", "same", 1, 0),
		vecChunk("acme", "orth", 0, 1),
		vecChunk("acme", "opp", -1, 0),
	}))

	// When: querying [1,0]
	hits, err := s.Query(context.Background(), []float32{1, 0}, "acme", 3)
	require.NoError(t, err)

	// Then: scores are 1, 0 and -1
	scores := map[string]float64{}
	for _, h := range hits {
		scores[h.ID] = h.Score
	}
	require.Len(t, scores, 3)
	assert.InDelta(t, 1.0, scores["same"], 1e-5)
	assert.InDelta(t, 0.0, scores["orth"], 1e-5)
	assert.InDelta(t, -1.0, scores["opp"], 1e-5)
}
