// Package store holds the retrieval backends: dense and sparse vector stores
// and the entity graph. Every query is scoped to one namespace.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultNamespace is the storage key used for the empty namespace.
const DefaultNamespace = "_default"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Chunk is one retrievable unit of text together with its graph links.
type Chunk struct {
	ID         string            `json:"id" yaml:"id"`
	Namespace  string            `json:"namespace" yaml:"namespace"`
	DocumentID string            `json:"document_id" yaml:"document_id"`
	ChunkIndex int               `json:"chunk_index" yaml:"chunk_index"`
	Text       string            `json:"text" yaml:"text"`
	Entities   []string          `json:"entities,omitempty" yaml:"entities,omitempty"`
	Vector     []float32         `json:"vector,omitempty" yaml:"vector,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Relation is an undirected edge between two entities.
type Relation struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Source    string `json:"source" yaml:"source"`
	Target    string `json:"target" yaml:"target"`
	Kind      string `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// Community is a cluster of entities with a precomputed summary.
type Community struct {
	ID        string   `json:"id" yaml:"id"`
	Namespace string   `json:"namespace" yaml:"namespace"`
	Title     string   `json:"title" yaml:"title"`
	Summary   string   `json:"summary" yaml:"summary"`
	Members   []string `json:"members" yaml:"members"`
}

// Hit is one result of a dense or sparse query. Score is higher-is-better.
type Hit struct {
	ID         string
	Score      float64
	Text       string
	DocumentID string
	ChunkIndex int
	Namespace  string
	Metadata   map[string]string
}

// ChunkMatch is a chunk reached from the query entities.
type ChunkMatch struct {
	Hit

	// Matched is the number of distinct query entities linked to the chunk.
	Matched int

	// Linked is the total number of entities linked to the chunk.
	Linked int

	// Entities are the matched query entities, sorted.
	Entities []string
}

// CommunityMatch is a community containing at least one query entity.
type CommunityMatch struct {
	Hit

	// Matched is the number of distinct query entities in the community.
	Matched int

	// Size is the number of members of the community.
	Size int
}

// SparseVector maps a term to its weight.
type SparseVector map[string]float32

// DenseStore answers nearest-neighbour queries over embeddings.
type DenseStore interface {
	Query(ctx context.Context, vec []float32, namespace string, limit int) ([]Hit, error)
}

// SparseStore answers weighted term queries.
type SparseStore interface {
	QuerySparse(ctx context.Context, sv SparseVector, namespace string, limit int) ([]Hit, error)
}

// VectorStore is a backend holding both representations.
type VectorStore interface {
	DenseStore
	SparseStore
}

// GraphStore answers entity graph queries.
type GraphStore interface {
	// TraverseEntities returns chunks linked to any of the entities.
	TraverseEntities(ctx context.Context, entities []string, namespace string, limit int) ([]ChunkMatch, error)

	// QueryCommunities returns communities containing any of the entities.
	QueryCommunities(ctx context.Context, entities []string, namespace string, limit int) ([]CommunityMatch, error)

	// ExpandHops returns entities within hops edges of the seeds, nearest
	// first, excluding the seeds.
	ExpandHops(ctx context.Context, seeds []string, hops int, namespace string) ([]string, error)
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// NamespaceKey maps a namespace to its storage key.
func NamespaceKey(namespace string) string {
	if namespace == "" {
		return DefaultNamespace
	}
	return namespace
}

// NormalizeEntity lowercases an entity name and collapses whitespace.
func NormalizeEntity(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func normalizeEntities(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		key := NormalizeEntity(n)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
