package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWConfig configures the HNSW dense store.
type HNSWConfig struct {
	// Dimensions is the embedding dimension.
	Dimensions int

	// Metric is the distance metric: "cos" or "l2" (default: "cos").
	Metric string

	// M is max connections per layer (default: 16).
	M int

	// EfSearch is the query-time search width (default: 64).
	EfSearch int
}

// DefaultHNSWConfig returns defaults for the given dimension.
func DefaultHNSWConfig(dimensions int) HNSWConfig {
	return HNSWConfig{Dimensions: dimensions, Metric: "cos", M: 16, EfSearch: 64}
}

// HNSWStore implements DenseStore with one coder/hnsw graph per namespace.
type HNSWStore struct {
	mu     sync.RWMutex
	config HNSWConfig
	spaces map[string]*hnswSpace
	closed bool
}

// hnswSpace is the graph and chunk table of one namespace. Replaced or
// deleted chunks stay in the graph as orphans and are skipped on read.
type hnswSpace struct {
	graph   *hnsw.Graph[uint64]
	chunks  map[uint64]*Chunk
	keys    map[string]uint64
	nextKey uint64
}

// hnswSnapshot is the on-disk form: the config and every live chunk.
type hnswSnapshot struct {
	Config HNSWConfig
	Chunks []Chunk
}

// NewHNSWStore creates an empty in-memory dense store.
func NewHNSWStore(cfg HNSWConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	return &HNSWStore{config: cfg, spaces: make(map[string]*hnswSpace)}, nil
}

func (s *HNSWStore) newSpace() *hnswSpace {
	g := hnsw.NewGraph[uint64]()
	switch s.config.Metric {
	case "l2":
		g.Distance = hnsw.EuclideanDistance
	default:
		g.Distance = hnsw.CosineDistance
	}
	g.M = s.config.M
	g.EfSearch = s.config.EfSearch
	g.Ml = 0.25
	return &hnswSpace{graph: g, chunks: make(map[uint64]*Chunk), keys: make(map[string]uint64)}
}

// Add inserts chunks into their namespace graphs. A chunk whose ID already
// exists in the namespace replaces it.
func (s *HNSWStore) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for _, c := range chunks {
		if len(c.Vector) != s.config.Dimensions {
			return fmt.Errorf("chunk %s: %w", c.ID, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(c.Vector)})
		}
	}

	for i := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := chunks[i]
		ns := NamespaceKey(c.Namespace)
		space, ok := s.spaces[ns]
		if !ok {
			space = s.newSpace()
			s.spaces[ns] = space
		}

		// coder/hnsw misbehaves when deleting the last node, so replacement
		// only drops the mapping.
		if old, exists := space.keys[c.ID]; exists {
			delete(space.chunks, old)
		}

		key := space.nextKey
		space.nextKey++

		vec := make([]float32, len(c.Vector))
		copy(vec, c.Vector)
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}
		space.graph.Add(hnsw.MakeNode(key, vec))

		stored := c
		stored.Vector = vec
		space.keys[c.ID] = key
		space.chunks[key] = &stored
	}
	return nil
}

// Query returns up to limit chunks of namespace nearest to vec, best first.
func (s *HNSWStore) Query(ctx context.Context, vec []float32, namespace string, limit int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if len(vec) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vec)}
	}

	space, ok := s.spaces[NamespaceKey(namespace)]
	if !ok || len(space.chunks) == 0 || limit <= 0 {
		return []Hit{}, nil
	}

	query := make([]float32, len(vec))
	copy(query, vec)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(query)
	}

	// Orphans occupy result slots, so ask for enough nodes to cover them.
	k := limit + space.graph.Len() - len(space.chunks)
	nodes := space.graph.Search(query, k)

	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		c, live := space.chunks[node.Key]
		if !live {
			continue
		}
		dist := space.graph.Distance(query, node.Value)
		hits = append(hits, Hit{
			ID:         c.ID,
			Score:      float64(distanceToScore(dist, s.config.Metric)),
			Text:       c.Text,
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			Namespace:  c.Namespace,
			Metadata:   c.Metadata,
		})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

// Delete removes chunks from a namespace.
func (s *HNSWStore) Delete(ctx context.Context, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	space, ok := s.spaces[NamespaceKey(namespace)]
	if !ok {
		return nil
	}
	for _, id := range ids {
		if key, exists := space.keys[id]; exists {
			delete(space.chunks, key)
			delete(space.keys, id)
		}
	}
	return nil
}

// Count returns the number of live chunks across namespaces.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, space := range s.spaces {
		n += len(space.chunks)
	}
	return n
}

// Dimensions returns the configured embedding dimension.
func (s *HNSWStore) Dimensions() int { return s.config.Dimensions }

// Namespaces returns the namespace keys holding chunks, sorted.
func (s *HNSWStore) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.spaces))
	for ns, space := range s.spaces {
		if len(space.chunks) > 0 {
			out = append(out, ns)
		}
	}
	sort.Strings(out)
	return out
}

// Save writes every live chunk to path atomically. The graphs are rebuilt
// on Load.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	snap := hnswSnapshot{Config: s.config}
	for _, space := range s.spaces {
		for _, c := range space.chunks {
			snap.Chunks = append(snap.Chunks, *c)
		}
	}
	sort.Slice(snap.Chunks, func(i, j int) bool {
		if snap.Chunks[i].Namespace != snap.Chunks[j].Namespace {
			return snap.Chunks[i].Namespace < snap.Chunks[j].Namespace
		}
		return snap.Chunks[i].ID < snap.Chunks[j].ID
	})

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		_ = os.Remove(tmp)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close snapshot file: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadHNSWStore rebuilds a store from a snapshot written by Save.
func LoadHNSWStore(ctx context.Context, path string) (*HNSWStore, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close snapshot file", slog.String("error", err.Error()))
		}
	}()

	var snap hnswSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	s, err := NewHNSWStore(snap.Config)
	if err != nil {
		return nil, err
	}
	if err := s.Add(ctx, snap.Chunks); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the graphs.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.spaces = nil
	return nil
}

var _ DenseStore = (*HNSWStore)(nil)

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore converts a distance to a similarity. Cosine distance
// (1 - cos) maps back to cosine similarity in -1..1, matching pgvector.
func distanceToScore(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1.0 / (1.0 + distance)
	}
	return 1.0 - distance
}
