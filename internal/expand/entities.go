// Package expand builds the entity set that drives graph retrieval.
//
// Expansion runs four stages in order: LLM extraction, graph hop expansion,
// synonym fallback and semantic rerank. Each stage degrades to a no-op when
// its collaborator fails; only context cancellation is an error.
package expand

import (
	"strings"

	"github.com/Aman-CERP/amanrag/internal/store"
)

// Provenance records which stage contributed an entity.
type Provenance string

const (
	ProvenanceExtracted Provenance = "extracted"
	ProvenanceGraphHop  Provenance = "graph_hop"
	ProvenanceSynonym   Provenance = "synonym"
	ProvenanceReranked  Provenance = "reranked"
)

// Entity is one member of an EntitySet.
type Entity struct {
	Name       string     `json:"name"`
	Provenance Provenance `json:"provenance"`

	// Origin is the stage that first added the entity. It differs from
	// Provenance only after rerank.
	Origin Provenance `json:"origin"`

	// Similarity to the query, set by rerank.
	Score float64 `json:"score,omitempty"`
}

// EntitySet is an ordered set of entity names deduplicated by normalized form.
type EntitySet struct {
	max   int
	items []Entity
	index map[string]struct{}
}

// NewEntitySet creates an empty set holding at most max entities.
// max <= 0 means unbounded.
func NewEntitySet(max int) *EntitySet {
	return &EntitySet{max: max, index: make(map[string]struct{})}
}

// Normalize returns the dedup key for an entity name.
func Normalize(name string) string {
	return store.NormalizeEntity(name)
}

// Add appends name unless it is blank, already present or the set is full.
// It reports whether the entity was added.
func (s *EntitySet) Add(name string, p Provenance) bool {
	name = strings.TrimSpace(name)
	key := Normalize(name)
	if key == "" || s.Full() {
		return false
	}
	if _, ok := s.index[key]; ok {
		return false
	}
	s.index[key] = struct{}{}
	s.items = append(s.items, Entity{Name: name, Provenance: p, Origin: p})
	return true
}

// AddAll adds names in order and returns how many were new.
func (s *EntitySet) AddAll(names []string, p Provenance) int {
	n := 0
	for _, name := range names {
		if s.Add(name, p) {
			n++
		}
	}
	return n
}

// Contains reports whether name is in the set.
func (s *EntitySet) Contains(name string) bool {
	_, ok := s.index[Normalize(name)]
	return ok
}

// Full reports whether the set reached its maximum size.
func (s *EntitySet) Full() bool {
	return s.max > 0 && len(s.items) >= s.max
}

// Len returns the number of entities.
func (s *EntitySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Names returns entity names in set order.
func (s *EntitySet) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.items))
	for i, e := range s.items {
		out[i] = e.Name
	}
	return out
}

// Entities returns a copy of the entities in set order.
func (s *EntitySet) Entities() []Entity {
	if s == nil {
		return nil
	}
	return append([]Entity(nil), s.items...)
}

// WithProvenance returns the names added by stage p, in set order.
func (s *EntitySet) WithProvenance(p Provenance) []string {
	var out []string
	for _, e := range s.items {
		if e.Origin == p {
			out = append(out, e.Name)
		}
	}
	return out
}

// CountByProvenance counts entities by their current provenance.
func (s *EntitySet) CountByProvenance() map[string]int {
	counts := make(map[string]int, 4)
	if s == nil {
		return counts
	}
	for _, e := range s.items {
		counts[string(e.Provenance)]++
	}
	return counts
}

// clone copies the set so a failed stage can fall back to it.
func (s *EntitySet) clone() *EntitySet {
	c := &EntitySet{
		max:   s.max,
		items: append([]Entity(nil), s.items...),
		index: make(map[string]struct{}, len(s.index)),
	}
	for k := range s.index {
		c.index[k] = struct{}{}
	}
	return c
}
