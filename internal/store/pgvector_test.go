package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPG(t *testing.T) (*PGVectorStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewPGVectorStore(db, PGVectorConfig{Dimensions: 3, SparseDimensions: 1024})
	require.NoError(t, err)
	return s, mock
}

var hitColumns = []string{"id", "namespace", "document_id", "chunk_index", "text", "metadata", "score"}

func TestPGVectorStore_Query(t *testing.T) {
	// Given: the database returns two rows
	s, mock := newMockPG(t)
	mock.ExpectQuery(`SELECT id, namespace, document_id, chunk_index, text, metadata,\s+1 - \(embedding <=> \$1\) AS score\s+FROM amanrag_chunks`).
		WithArgs(sqlmock.AnyArg(), "acme", 5).
		WillReturnRows(sqlmock.NewRows(hitColumns).
			AddRow("c1", "acme", "auth", 0, "oauth", []byte(`{"lang":"en"}`), 0.93).
			AddRow("c2", "acme", "auth", 1, "tokens", nil, 0.71))

	// When: querying
	hits, err := s.Query(context.Background(), []float32{0.1, 0.2, 0.3}, "acme", 5)

	// Then: rows map to hits in order
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].ID)
	assert.InDelta(t, 0.93, hits[0].Score, 1e-9)
	assert.Equal(t, "en", hits[0].Metadata["lang"])
	assert.Equal(t, 1, hits[1].ChunkIndex)
	assert.Nil(t, hits[1].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorStore_QueryDefaultNamespace(t *testing.T) {
	s, mock := newMockPG(t)
	mock.ExpectQuery(`FROM amanrag_chunks`).
		WithArgs(sqlmock.AnyArg(), DefaultNamespace, 2).
		WillReturnRows(sqlmock.NewRows(hitColumns).AddRow("c1", DefaultNamespace, "", 0, "x", nil, 0.5))

	hits, err := s.Query(context.Background(), []float32{1, 0, 0}, "", 2)

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "", hits[0].Namespace)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorStore_QuerySparse(t *testing.T) {
	s, mock := newMockPG(t)
	mock.ExpectQuery(`\(sparse <#> \$1\) \* -1 AS score`).
		WithArgs(sqlmock.AnyArg(), "acme", 3).
		WillReturnRows(sqlmock.NewRows(hitColumns).AddRow("c7", "acme", "doc", 2, "rotation", nil, 1.5))

	hits, err := s.QuerySparse(context.Background(), SparseVector{"rotation": 1.5}, "acme", 3)

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c7", hits[0].ID)
	assert.InDelta(t, 1.5, hits[0].Score, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorStore_EmptySparseSkipsDatabase(t *testing.T) {
	s, mock := newMockPG(t)

	hits, err := s.QuerySparse(context.Background(), SparseVector{}, "acme", 3)

	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorStore_QueryErrors(t *testing.T) {
	s, mock := newMockPG(t)

	_, err := s.Query(context.Background(), []float32{1, 0}, "acme", 5)
	var dimErr ErrDimensionMismatch
	assert.ErrorAs(t, err, &dimErr)

	mock.ExpectQuery(`FROM amanrag_chunks`).WillReturnError(sql.ErrConnDone)
	_, err = s.Query(context.Background(), []float32{1, 0, 0}, "acme", 5)
	assert.True(t, errors.Is(err, sql.ErrConnDone))
}

func TestPGVectorStore_Upsert(t *testing.T) {
	s, mock := newMockPG(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO amanrag_chunks`).
		WithArgs("acme", "c1", "auth", 0, "oauth", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Upsert(context.Background(),
		[]Chunk{{ID: "c1", Namespace: "acme", DocumentID: "auth", Text: "oauth", Vector: []float32{1, 0, 0}}},
		[]SparseVector{{"oauth": 1}})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorStore_UpsertRollsBackOnError(t *testing.T) {
	s, mock := newMockPG(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.Upsert(context.Background(), []Chunk{{ID: "c1", Vector: []float32{1}}}, nil)

	var dimErr ErrDimensionMismatch
	assert.ErrorAs(t, err, &dimErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorStore_Delete(t *testing.T) {
	s, mock := newMockPG(t)
	mock.ExpectExec(`DELETE FROM amanrag_chunks WHERE namespace = \$1 AND id = ANY\(\$2\)`).
		WithArgs("acme", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, s.Delete(context.Background(), "acme", []string{"a", "b"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorStore_Migrate(t *testing.T) {
	s, mock := newMockPG(t)
	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS vector`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`embedding\s+vector\(3\),\s+sparse\s+sparsevec\(1024\)`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPGVectorStore_Validation(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewPGVectorStore(nil, PGVectorConfig{Dimensions: 3})
	assert.Error(t, err)
	_, err = NewPGVectorStore(db, PGVectorConfig{Dimensions: 3, Table: "chunks; drop"})
	assert.Error(t, err)
	_, err = NewPGVectorStore(db, PGVectorConfig{})
	assert.Error(t, err)
}

func TestHashSparse(t *testing.T) {
	sv := HashSparse(SparseVector{"token": 1, "rotation": 2, "ignored": 0}, 1024)

	assert.Equal(t, int32(1024), sv.Dimensions())
	assert.Len(t, sv.Indices(), 2)

	var sum float32
	for _, v := range sv.Values() {
		sum += v
	}
	assert.InDelta(t, 3.0, sum, 1e-6)
}

func TestPGVectorStore_Available(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s, err := NewPGVectorStore(db, PGVectorConfig{Dimensions: 3})
	require.NoError(t, err)

	mock.ExpectPing()
	assert.True(t, s.Available(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.False(t, s.Available(context.Background()))
}
