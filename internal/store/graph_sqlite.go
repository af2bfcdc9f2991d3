package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteGraphStore implements GraphStore on SQLite. Entities are stored
// normalized (lowercase, single spaces) and relations are undirected.
type SQLiteGraphStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// NewSQLiteGraphStore opens or creates the graph database at path. An empty
// path creates an in-memory database.
func NewSQLiteGraphStore(path string) (*SQLiteGraphStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteGraphStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteGraphStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS chunks (
		namespace   TEXT NOT NULL,
		id          TEXT NOT NULL,
		raw_ns      TEXT NOT NULL,
		document_id TEXT NOT NULL DEFAULT '',
		chunk_index INTEGER NOT NULL DEFAULT 0,
		text        TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (namespace, id)
	);

	CREATE TABLE IF NOT EXISTS chunk_entities (
		namespace TEXT NOT NULL,
		chunk_id  TEXT NOT NULL,
		entity    TEXT NOT NULL,
		PRIMARY KEY (namespace, chunk_id, entity),
		FOREIGN KEY (namespace, chunk_id) REFERENCES chunks(namespace, id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunk_entities_entity ON chunk_entities(namespace, entity);

	CREATE TABLE IF NOT EXISTS relations (
		namespace TEXT NOT NULL,
		source    TEXT NOT NULL,
		target    TEXT NOT NULL,
		kind      TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (namespace, source, target)
	);
	CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(namespace, target);

	CREATE TABLE IF NOT EXISTS communities (
		namespace TEXT NOT NULL,
		id        TEXT NOT NULL,
		raw_ns    TEXT NOT NULL,
		title     TEXT NOT NULL DEFAULT '',
		summary   TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (namespace, id)
	);

	CREATE TABLE IF NOT EXISTS community_members (
		namespace    TEXT NOT NULL,
		community_id TEXT NOT NULL,
		entity       TEXT NOT NULL,
		PRIMARY KEY (namespace, community_id, entity),
		FOREIGN KEY (namespace, community_id) REFERENCES communities(namespace, id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_members_entity ON community_members(namespace, entity);
	`)
	return err
}

// AddChunks inserts or replaces chunks and their entity links.
func (s *SQLiteGraphStore) AddChunks(ctx context.Context, chunks []Chunk) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		for _, c := range chunks {
			ns := NamespaceKey(c.Namespace)
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM chunks WHERE namespace = ? AND id = ?`, ns, c.ID); err != nil {
				return fmt.Errorf("replace chunk %s: %w", c.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunks(namespace, id, raw_ns, document_id, chunk_index, text) VALUES (?, ?, ?, ?, ?, ?)`,
				ns, c.ID, c.Namespace, c.DocumentID, c.ChunkIndex, c.Text); err != nil {
				return fmt.Errorf("insert chunk %s: %w", c.ID, err)
			}
			for _, e := range normalizeEntities(c.Entities) {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO chunk_entities(namespace, chunk_id, entity) VALUES (?, ?, ?)`,
					ns, c.ID, e); err != nil {
					return fmt.Errorf("link chunk %s to %q: %w", c.ID, e, err)
				}
			}
		}
		return nil
	})
}

// AddRelations inserts relations. Self loops are ignored.
func (s *SQLiteGraphStore) AddRelations(ctx context.Context, rels []Relation) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		for _, r := range rels {
			src, dst := NormalizeEntity(r.Source), NormalizeEntity(r.Target)
			if src == "" || dst == "" || src == dst {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO relations(namespace, source, target, kind) VALUES (?, ?, ?, ?)`,
				NamespaceKey(r.Namespace), src, dst, r.Kind); err != nil {
				return fmt.Errorf("insert relation %s-%s: %w", src, dst, err)
			}
		}
		return nil
	})
}

// AddCommunities inserts or replaces communities and their members.
func (s *SQLiteGraphStore) AddCommunities(ctx context.Context, comms []Community) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		for _, c := range comms {
			ns := NamespaceKey(c.Namespace)
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM communities WHERE namespace = ? AND id = ?`, ns, c.ID); err != nil {
				return fmt.Errorf("replace community %s: %w", c.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO communities(namespace, id, raw_ns, title, summary) VALUES (?, ?, ?, ?, ?)`,
				ns, c.ID, c.Namespace, c.Title, c.Summary); err != nil {
				return fmt.Errorf("insert community %s: %w", c.ID, err)
			}
			for _, m := range normalizeEntities(c.Members) {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO community_members(namespace, community_id, entity) VALUES (?, ?, ?)`,
					ns, c.ID, m); err != nil {
					return fmt.Errorf("add member %q to %s: %w", m, c.ID, err)
				}
			}
		}
		return nil
	})
}

func (s *SQLiteGraphStore) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// TraverseEntities returns chunks linked to the entities, most matched
// entities first, then by chunk id.
func (s *SQLiteGraphStore) TraverseEntities(ctx context.Context, entities []string, namespace string, limit int) ([]ChunkMatch, error) {
	names := normalizeEntities(entities)
	if len(names) == 0 || limit <= 0 {
		return []ChunkMatch{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	args := []any{NamespaceKey(namespace)}
	args = append(args, stringArgs(names)...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
	SELECT c.id, c.raw_ns, c.document_id, c.chunk_index, c.text,
	       COUNT(DISTINCT ce.entity) AS matched,
	       json_group_array(DISTINCT ce.entity) AS matched_names,
	       (SELECT COUNT(*) FROM chunk_entities x
	         WHERE x.namespace = c.namespace AND x.chunk_id = c.id) AS linked
	FROM chunk_entities ce
	JOIN chunks c ON c.namespace = ce.namespace AND c.id = ce.chunk_id
	WHERE ce.namespace = ? AND ce.entity IN (`+placeholders(len(names))+`)
	GROUP BY c.namespace, c.id
	ORDER BY matched DESC, c.id ASC
	LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("traverse entities: %w", err)
	}
	defer rows.Close()

	out := []ChunkMatch{}
	for rows.Next() {
		var (
			m     ChunkMatch
			names string
		)
		if err := rows.Scan(&m.ID, &m.Namespace, &m.DocumentID, &m.ChunkIndex, &m.Text, &m.Matched, &names, &m.Linked); err != nil {
			return nil, fmt.Errorf("scan chunk match: %w", err)
		}
		if err := json.Unmarshal([]byte(names), &m.Entities); err != nil {
			return nil, fmt.Errorf("decode matched entities of %s: %w", m.ID, err)
		}
		sort.Strings(m.Entities)
		m.Score = float64(m.Matched)
		out = append(out, m)
	}
	return out, rows.Err()
}

// QueryCommunities returns communities containing the entities, most
// matched members first, then by community id. The hit text is the summary.
func (s *SQLiteGraphStore) QueryCommunities(ctx context.Context, entities []string, namespace string, limit int) ([]CommunityMatch, error) {
	names := normalizeEntities(entities)
	if len(names) == 0 || limit <= 0 {
		return []CommunityMatch{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	args := []any{NamespaceKey(namespace)}
	args = append(args, stringArgs(names)...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
	SELECT cm.id, cm.raw_ns, cm.title, cm.summary,
	       COUNT(DISTINCT m.entity) AS matched,
	       (SELECT COUNT(*) FROM community_members y
	         WHERE y.namespace = cm.namespace AND y.community_id = cm.id) AS size
	FROM community_members m
	JOIN communities cm ON cm.namespace = m.namespace AND cm.id = m.community_id
	WHERE m.namespace = ? AND m.entity IN (`+placeholders(len(names))+`)
	GROUP BY cm.namespace, cm.id
	ORDER BY matched DESC, cm.id ASC
	LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query communities: %w", err)
	}
	defer rows.Close()

	out := []CommunityMatch{}
	for rows.Next() {
		var (
			m     CommunityMatch
			title string
		)
		if err := rows.Scan(&m.ID, &m.Namespace, &title, &m.Text, &m.Matched, &m.Size); err != nil {
			return nil, fmt.Errorf("scan community match: %w", err)
		}
		m.DocumentID = m.ID
		m.Metadata = map[string]string{"title": title}
		m.Score = float64(m.Matched) / float64(len(names))
		out = append(out, m)
	}
	return out, rows.Err()
}

// ExpandHops walks relations breadth first up to hops edges from the seeds.
// Neighbours come back ordered by distance, then name.
func (s *SQLiteGraphStore) ExpandHops(ctx context.Context, seeds []string, hops int, namespace string) ([]string, error) {
	names := normalizeEntities(seeds)
	if len(names) == 0 || hops <= 0 {
		return []string{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	values := strings.TrimSuffix(strings.Repeat("(?),", len(names)), ",")
	args := stringArgs(names)
	args = append(args, NamespaceKey(namespace), hops)

	rows, err := s.db.QueryContext(ctx, `
	WITH RECURSIVE
	seed(name) AS (VALUES `+values+`),
	walk(name, depth) AS (
		SELECT name, 0 FROM seed
		UNION
		SELECT CASE WHEN r.source = w.name THEN r.target ELSE r.source END, w.depth + 1
		FROM walk w
		JOIN relations r ON (r.source = w.name OR r.target = w.name)
		WHERE r.namespace = ? AND w.depth < ?
	)
	SELECT name, MIN(depth) AS d FROM walk
	GROUP BY name
	HAVING d > 0
	ORDER BY d ASC, name ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("expand hops: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var (
			name  string
			depth int
		)
		if err := rows.Scan(&name, &depth); err != nil {
			return nil, fmt.Errorf("scan neighbour: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteGraphStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ GraphStore = (*SQLiteGraphStore)(nil)

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
