package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSparse(t *testing.T) *BleveSparseStore {
	t.Helper()
	s, err := NewBleveSparseStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sparseCorpus() []Chunk {
	return []Chunk{
		{ID: "c1", Namespace: "acme", DocumentID: "auth", ChunkIndex: 0, Text: "OAuth token rotation happens every hour"},
		{ID: "c2", Namespace: "acme", DocumentID: "auth", ChunkIndex: 1, Text: "Refresh tokens are stored in the tokenStore"},
		{ID: "c3", Namespace: "acme", DocumentID: "billing", ChunkIndex: 0, Text: "Invoices are reconciled nightly"},
		{ID: "c1", Namespace: "globex", DocumentID: "other", ChunkIndex: 0, Text: "token rotation at globex"},
	}
}

func TestBleveSparseStore_QuerySparse(t *testing.T) {
	// Given: an indexed corpus in two namespaces
	s := newTestSparse(t)
	require.NoError(t, s.Index(context.Background(), sparseCorpus()))

	// When: querying weighted terms in acme
	hits, err := s.QuerySparse(context.Background(), SparseVector{"rotation": 2, "token": 1}, "acme", 10)
	require.NoError(t, err)

	// Then: the chunk with both terms ranks first and globex is excluded
	require.NotEmpty(t, hits)
	assert.Equal(t, "c1", hits[0].ID)
	assert.Equal(t, "acme", hits[0].Namespace)
	assert.Equal(t, "auth", hits[0].DocumentID)
	assert.Equal(t, "OAuth token rotation happens every hour", hits[0].Text)
	for _, h := range hits {
		assert.Equal(t, "acme", h.Namespace)
		assert.NotEqual(t, "c3", h.ID)
	}
}

func TestBleveSparseStore_CodeTokensMatch(t *testing.T) {
	s := newTestSparse(t)
	require.NoError(t, s.Index(context.Background(), sparseCorpus()))

	hits, err := s.QuerySparse(context.Background(), SparseVector{"store": 1}, "acme", 10)

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c2", hits[0].ID)
	assert.Equal(t, 1, hits[0].ChunkIndex)
}

func TestBleveSparseStore_BoostChangesOrder(t *testing.T) {
	s := newTestSparse(t)
	require.NoError(t, s.Index(context.Background(), []Chunk{
		{ID: "x", Namespace: "n", Text: "alpha alpha alpha"},
		{ID: "y", Namespace: "n", Text: "beta beta beta"},
	}))

	hits, err := s.QuerySparse(context.Background(), SparseVector{"alpha": 0.1, "beta": 5}, "n", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "y", hits[0].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestBleveSparseStore_EmptyInputs(t *testing.T) {
	s := newTestSparse(t)
	require.NoError(t, s.Index(context.Background(), sparseCorpus()))

	tests := []struct {
		name  string
		sv    SparseVector
		limit int
	}{
		{"nil vector", nil, 10},
		{"zero weights", SparseVector{"token": 0}, 10},
		{"zero limit", SparseVector{"token": 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := s.QuerySparse(context.Background(), tt.sv, "acme", tt.limit)
			require.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

func TestBleveSparseStore_DefaultNamespace(t *testing.T) {
	s := newTestSparse(t)
	require.NoError(t, s.Index(context.Background(), []Chunk{{ID: "d", Text: "ledger balance"}}))

	hits, err := s.QuerySparse(context.Background(), SparseVector{"ledger": 1}, "", 5)

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "", hits[0].Namespace)
}

func TestBleveSparseStore_Persistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sparse.bleve")
	s, err := NewBleveSparseStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Index(context.Background(), sparseCorpus()))
	require.NoError(t, s.Close())

	reopened, err := NewBleveSparseStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	n, err := reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestBleveSparseStore_Closed(t *testing.T) {
	s, err := NewBleveSparseStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.QuerySparse(context.Background(), SparseVector{"x": 1}, "", 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDocKey(t *testing.T) {
	ns, id := splitDocKey(docKey("acme", "c1"))
	assert.Equal(t, "acme", ns)
	assert.Equal(t, "c1", id)

	ns, _ = splitDocKey(docKey("", "c1"))
	assert.Equal(t, DefaultNamespace, ns)
}
