package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

const yamlFixture = `
chunks:
  - id: c1
    namespace: acme
    document_id: auth
    text: OAuth token rotation happens hourly
    entities: [OAuth, token rotation]
    vector: [1, 0, 0]
  - id: c2
    namespace: acme
    document_id: auth
    chunk_index: 1
    text: Sessions use cookies
    entities: [session]
relations:
  - {namespace: acme, source: oauth, target: session}
communities:
  - id: auth
    namespace: acme
    title: Authentication
    summary: Login, sessions and tokens
    members: [oauth, session]
`

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0, 1, 0}
	}
	return out, nil
}

func TestParseFixture_YAMLAndJSON(t *testing.T) {
	fx, err := ParseFixture([]byte(yamlFixture), false)
	require.NoError(t, err)
	require.Len(t, fx.Chunks, 2)
	assert.Equal(t, []string{"OAuth", "token rotation"}, fx.Chunks[0].Entities)
	assert.Equal(t, 1, fx.Chunks[1].ChunkIndex)

	js := `{"chunks":[{"id":"c1","namespace":"n","document_id":"d","chunk_index":0,"text":"t"}]}`
	fx, err = ParseFixture([]byte(js), true)
	require.NoError(t, err)
	assert.Equal(t, "n", fx.Chunks[0].Namespace)
}

func TestParseFixture_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		isJSON bool
	}{
		{"malformed json", `{"chunks": [`, true},
		{"unknown field", `{"chunkz": []}`, true},
		{"missing id", "chunks:\n  - text: x\n", false},
		{"bad namespace", "chunks:\n  - {id: a, namespace: 'bad ns'}\n", false},
		{"duplicate id", "chunks:\n  - {id: a, namespace: n}\n  - {id: a, namespace: n}\n", false},
		{"mixed dimensions", "chunks:\n  - {id: a, vector: [1, 0]}\n  - {id: b, vector: [1]}\n", false},
		{"empty relation", "relations:\n  - {source: a, target: ' '}\n", false},
		{"community without id", "communities:\n  - {title: x}\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFixture([]byte(tt.data), tt.isJSON)
			require.Error(t, err)
			assert.Equal(t, amerrors.ErrCodeFixtureInvalid, amerrors.GetCode(err))
		})
	}
}

func TestParseFixture_SameIDInDifferentNamespaces(t *testing.T) {
	_, err := ParseFixture([]byte("chunks:\n  - {id: a, namespace: x}\n  - {id: a, namespace: y}\n"), false)
	assert.NoError(t, err)
}

func TestReadFixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corpus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlFixture), 0o600))

	fx, err := ReadFixture(path)
	require.NoError(t, err)
	assert.Len(t, fx.Communities, 1)

	_, err = ReadFixture(filepath.Join(dir, "missing.json"))
	assert.Equal(t, amerrors.ErrCodeFixtureInvalid, amerrors.GetCode(err))
}

func TestFixture_LoadPopulatesAllStores(t *testing.T) {
	// Given: a fixture where one chunk lacks a vector
	fx, err := ParseFixture([]byte(yamlFixture), false)
	require.NoError(t, err)

	dense, err := NewHNSWStore(DefaultHNSWConfig(3))
	require.NoError(t, err)
	sparse := newTestSparse(t)
	graph, err := NewSQLiteGraphStore("")
	require.NoError(t, err)
	defer func() { _ = graph.Close() }()
	emb := &fakeEmbedder{}

	// When: loading into every store
	stats, err := fx.Load(context.Background(), Targets{Dense: dense, Sparse: sparse, Graph: graph, Embedder: emb})
	require.NoError(t, err)

	// Then: the missing vector was embedded and each store answers
	assert.Equal(t, LoadStats{Chunks: 2, Embedded: 1, Relations: 1, Communities: 1, Namespaces: []string{"acme"}}, stats)
	assert.Equal(t, 2, dense.Count())
	assert.Nil(t, fx.Chunks[1].Vector)

	hits, err := dense.Query(context.Background(), []float32{0, 1, 0}, "acme", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c2", hits[0].ID)

	sh, err := sparse.QuerySparse(context.Background(), SparseVector{"cookies": 1}, "acme", 5)
	require.NoError(t, err)
	require.Len(t, sh, 1)
	assert.Equal(t, "c2", sh[0].ID)

	neighbours, err := graph.ExpandHops(context.Background(), []string{"oauth"}, 1, "acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"session"}, neighbours)

	comms, err := graph.QueryCommunities(context.Background(), []string{"session"}, "acme", 5)
	require.NoError(t, err)
	require.Len(t, comms, 1)
}

func TestFixture_LoadWithoutEmbedderSkipsUnembedded(t *testing.T) {
	fx, err := ParseFixture([]byte(yamlFixture), false)
	require.NoError(t, err)
	dense, err := NewHNSWStore(DefaultHNSWConfig(3))
	require.NoError(t, err)

	stats, err := fx.Load(context.Background(), Targets{Dense: dense})

	require.NoError(t, err)
	assert.Zero(t, stats.Embedded)
	assert.Equal(t, 1, dense.Count())
}

func TestFixture_LoadReportsProgress(t *testing.T) {
	// Given: more unembedded chunks than one progress batch
	fx := &Fixture{}
	n := EmbedProgressBatch + 6
	for i := 0; i < n; i++ {
		fx.Chunks = append(fx.Chunks, Chunk{ID: fmt.Sprintf("c%d", i), Namespace: "acme", Text: "text"})
	}
	dense, err := NewHNSWStore(DefaultHNSWConfig(3))
	require.NoError(t, err)
	emb := &fakeEmbedder{}
	var events []LoadProgress

	// When: loading with a progress callback
	_, err = fx.Load(context.Background(), Targets{
		Dense: dense, Sparse: newTestSparse(t), Embedder: emb,
		Progress: func(p LoadProgress) { events = append(events, p) },
	})

	// Then: embedding is reported per batch, then each target once
	require.NoError(t, err)
	assert.Equal(t, 2, emb.calls)
	assert.Equal(t, []LoadProgress{
		{Stage: LoadEmbedding, Done: 0, Total: n},
		{Stage: LoadEmbedding, Done: EmbedProgressBatch, Total: n},
		{Stage: LoadEmbedding, Done: n, Total: n},
		{Stage: LoadWriting, Done: 1, Total: 2, Target: "dense"},
		{Stage: LoadWriting, Done: 2, Total: 2, Target: "sparse"},
	}, events)
}

func TestFixture_LoadEmbedderFailure(t *testing.T) {
	fx, err := ParseFixture([]byte(yamlFixture), false)
	require.NoError(t, err)
	dense, err := NewHNSWStore(DefaultHNSWConfig(3))
	require.NoError(t, err)
	boom := errors.New("ollama down")

	_, err = fx.Load(context.Background(), Targets{Dense: dense, Embedder: &fakeEmbedder{err: boom}})

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, dense.Count())
}

func TestFixture_LoadIntoPGVector(t *testing.T) {
	// Given: a pgvector target and a sparse encoder
	fx, err := ParseFixture([]byte(yamlFixture), false)
	require.NoError(t, err)
	pg, mock := newMockPG(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO amanrag_chunks`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO amanrag_chunks`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	encoded := 0
	encode := func(text string) SparseVector {
		encoded++
		return SparseVector{text: 1}
	}

	// When: loading
	stats, err := fx.Load(context.Background(), Targets{Vector: pg, SparseEncode: encode, Embedder: &fakeEmbedder{}})

	// Then: both chunks were written in one transaction
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, 1, stats.Embedded)
	assert.Equal(t, 2, encoded)
	assert.NoError(t, mock.ExpectationsWereMet())
}
