package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"regexp"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PGVectorConfig configures the Postgres store.
type PGVectorConfig struct {
	// Table holds the chunks (default: "amanrag_chunks").
	Table string

	// Dimensions is the dense embedding dimension.
	Dimensions int

	// SparseDimensions is the hashed term space of the sparse column
	// (default: 1<<20).
	SparseDimensions int
}

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// PGVectorStore implements VectorStore on Postgres with the pgvector
// extension: cosine distance on a vector column for dense queries and
// negative inner product on a sparsevec column for sparse queries.
type PGVectorStore struct {
	db  *sql.DB
	cfg PGVectorConfig
}

// OpenPGVectorStore connects with lib/pq.
func OpenPGVectorStore(dsn string, cfg PGVectorConfig) (*PGVectorStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s, err := NewPGVectorStore(db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPGVectorStore wraps an open database handle.
func NewPGVectorStore(db *sql.DB, cfg PGVectorConfig) (*PGVectorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if cfg.Table == "" {
		cfg.Table = "amanrag_chunks"
	}
	if cfg.SparseDimensions == 0 {
		cfg.SparseDimensions = 1 << 20
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	return &PGVectorStore{db: db, cfg: cfg}, nil
}

// Migrate creates the extension and table if missing.
func (s *PGVectorStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			namespace   TEXT NOT NULL,
			id          TEXT NOT NULL,
			document_id TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL DEFAULT 0,
			text        TEXT NOT NULL DEFAULT '',
			metadata    JSONB,
			embedding   vector(%d),
			sparse      sparsevec(%d),
			PRIMARY KEY (namespace, id)
		)`, s.cfg.Table, s.cfg.Dimensions, s.cfg.SparseDimensions),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Upsert writes chunks with their dense vector and the hashed sparse
// encoding of their terms.
func (s *PGVectorStore) Upsert(ctx context.Context, chunks []Chunk, sparse []SparseVector) error {
	if len(sparse) != 0 && len(sparse) != len(chunks) {
		return fmt.Errorf("chunks and sparse vectors length mismatch: %d vs %d", len(chunks), len(sparse))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := fmt.Sprintf(`INSERT INTO %s (namespace, id, document_id, chunk_index, text, metadata, embedding, sparse)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (namespace, id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			chunk_index = EXCLUDED.chunk_index,
			text = EXCLUDED.text,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			sparse = EXCLUDED.sparse`, s.cfg.Table)

	for i, c := range chunks {
		if c.Vector != nil && len(c.Vector) != s.cfg.Dimensions {
			return fmt.Errorf("chunk %s: %w", c.ID, ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(c.Vector)})
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata of %s: %w", c.ID, err)
		}
		var dense, sv any
		if c.Vector != nil {
			dense = pgvector.NewVector(c.Vector)
		}
		if len(sparse) > 0 && len(sparse[i]) > 0 {
			sv = HashSparse(sparse[i], s.cfg.SparseDimensions)
		}
		if _, err := tx.ExecContext(ctx, stmt,
			NamespaceKey(c.Namespace), c.ID, c.DocumentID, c.ChunkIndex, c.Text, meta, dense, sv); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// Delete removes chunks from a namespace.
func (s *PGVectorStore) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE namespace = $1 AND id = ANY($2)`, s.cfg.Table),
		NamespaceKey(namespace), pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// Query returns the nearest chunks by cosine distance. Score is
// 1 - distance.
func (s *PGVectorStore) Query(ctx context.Context, vec []float32, namespace string, limit int) ([]Hit, error) {
	if len(vec) != s.cfg.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(vec)}
	}
	if limit <= 0 {
		return []Hit{}, nil
	}
	q := fmt.Sprintf(`SELECT id, namespace, document_id, chunk_index, text, metadata,
			1 - (embedding <=> $1) AS score
		FROM %s
		WHERE namespace = $2 AND embedding IS NOT NULL
		ORDER BY embedding <=> $1, id
		LIMIT $3`, s.cfg.Table)
	return s.query(ctx, q, pgvector.NewVector(vec), NamespaceKey(namespace), limit)
}

// QuerySparse returns the chunks with the largest inner product against
// the hashed query terms.
func (s *PGVectorStore) QuerySparse(ctx context.Context, sv SparseVector, namespace string, limit int) ([]Hit, error) {
	if len(sv) == 0 || limit <= 0 {
		return []Hit{}, nil
	}
	q := fmt.Sprintf(`SELECT id, namespace, document_id, chunk_index, text, metadata,
			(sparse <#> $1) * -1 AS score
		FROM %s
		WHERE namespace = $2 AND sparse IS NOT NULL
		ORDER BY sparse <#> $1, id
		LIMIT $3`, s.cfg.Table)
	return s.query(ctx, q, HashSparse(sv, s.cfg.SparseDimensions), NamespaceKey(namespace), limit)
}

func (s *PGVectorStore) query(ctx context.Context, q string, args ...any) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var (
			h    Hit
			meta []byte
		)
		if err := rows.Scan(&h.ID, &h.Namespace, &h.DocumentID, &h.ChunkIndex, &h.Text, &meta, &h.Score); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if h.Namespace == DefaultNamespace {
			h.Namespace = ""
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &h.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", h.ID, err)
			}
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return hits, nil
}

// Available reports whether the database answers a ping.
func (s *PGVectorStore) Available(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// Close closes the database handle.
func (s *PGVectorStore) Close() error {
	return s.db.Close()
}

var _ VectorStore = (*PGVectorStore)(nil)

// HashSparse maps terms into a fixed index space with FNV-1a. Colliding
// terms add their weights.
func HashSparse(sv SparseVector, dim int) pgvector.SparseVector {
	elements := make(map[int32]float32, len(sv))
	for term, w := range sv {
		if w <= 0 {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(term))
		elements[int32(h.Sum32()%uint32(dim))] += w
	}
	return pgvector.NewSparseVectorFromMap(elements, int32(dim))
}
