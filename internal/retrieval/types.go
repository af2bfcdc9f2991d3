// Package retrieval implements the multi-signal retrieval fusion engine.
//
// One query fans out to four sources (dense, sparse, graph-local,
// graph-global) under a shared deadline. Surviving ranked lists are combined
// with intent-weighted Reciprocal Rank Fusion and assembled into a
// deduplicated, citation-numbered result set.
package retrieval

import (
	"context"
	"time"

	"github.com/Aman-CERP/amanrag/internal/expand"
)

// Source identifies one retrieval signal.
type Source string

const (
	SourceDense       Source = "dense"
	SourceSparse      Source = "sparse"
	SourceGraphLocal  Source = "graph_local"
	SourceGraphGlobal Source = "graph_global"
)

// AllSources lists the sources in canonical order. Every loop over sources
// uses this order so floating point sums are reproducible.
var AllSources = []Source{SourceDense, SourceSparse, SourceGraphLocal, SourceGraphGlobal}

// IsGraph reports whether the source consumes expanded entities.
func (s Source) IsGraph() bool {
	return s == SourceGraphLocal || s == SourceGraphGlobal
}

// order returns the canonical position of s, or len(AllSources) if unknown.
func (s Source) order() int {
	for i, src := range AllSources {
		if src == s {
			return i
		}
	}
	return len(AllSources)
}

// ParseSource converts a string into a Source.
func ParseSource(s string) (Source, bool) {
	for _, src := range AllSources {
		if string(src) == s {
			return src, true
		}
	}
	return "", false
}

// Query is one retrieval request. It is passed by value and never mutated
// after Retrieve is called.
type Query struct {
	// Text is the raw query text.
	Text string

	// Namespace restricts retrieval to one tenant or domain. Empty means the
	// default namespace.
	Namespace string

	// TopK is the number of fused results to return (0 = engine default).
	TopK int

	// Deadline is the latency budget for this query (0 = engine default).
	Deadline time.Duration

	// Weights overrides the intent classifier.
	Weights *IntentWeights

	// Overrides adjusts entity expansion for this query only.
	Overrides expand.Overrides

	// RequestID correlates logs and metrics; generated when empty.
	RequestID string
}

// Payload is the evidence attached to a candidate.
type Payload struct {
	Text            string   `json:"text"`
	DocumentID      string   `json:"document_id"`
	ChunkIndex      int      `json:"chunk_index"`
	MatchedEntities []string `json:"matched_entities,omitempty"`
	Namespace       string   `json:"namespace"`
}

func (p Payload) clone() Payload {
	if p.MatchedEntities != nil {
		p.MatchedEntities = append([]string(nil), p.MatchedEntities...)
	}
	return p
}

// SourceCandidate is one item from a single source's ranked list.
// RawScore is on the source's native scale and is only comparable within
// that source.
type SourceCandidate struct {
	ID       string
	RawScore float64
	Source   Source
	Rank     int // 1-based
	Payload  Payload
}

// FusionCandidate aggregates the contributions of every source that returned
// the same id.
type FusionCandidate struct {
	ID         string
	FusedScore float64

	// ContributingSources is kept in canonical source order.
	ContributingSources []Source

	// BestPayload comes from the contributing source with the highest raw score.
	BestPayload Payload
	BestSource  Source

	// Ranks and RawScores hold each contributing source's rank and native score.
	Ranks     map[Source]int
	RawScores map[Source]float64
}

// FusedItem is a FusionCandidate with its citation number.
type FusedItem struct {
	FusionCandidate
	Citation int // 1-based, by final order
}

// SourceState is the outcome of one source for one query.
type SourceState string

const (
	StateOK          SourceState = "ok"
	StateTimeout     SourceState = "timeout"
	StateUnavailable SourceState = "unavailable"
	StateInvalid     SourceState = "invalid"
	StateCircuitOpen SourceState = "circuit_open"
	StateSkipped     SourceState = "skipped"
	StateCanceled    SourceState = "canceled"
)

// SourceStatus records how one source fared.
type SourceStatus struct {
	Source  Source        `json:"source"`
	State   SourceState   `json:"state"`
	Count   int           `json:"count"`
	Latency time.Duration `json:"latency"`
	Err     error         `json:"-"`
}

// Degraded reports whether the source was expected but did not contribute.
func (s SourceStatus) Degraded() bool {
	return s.State != StateOK && s.State != StateSkipped
}

// FusedResultSet is the final, immutable output of one retrieval.
type FusedResultSet struct {
	RequestID string
	Query     string
	Namespace string

	// Intent is the classifier label, or "override" for caller weights.
	Intent string

	// Weights are the renormalized weights actually used for fusion.
	Weights IntentWeights

	// Entities is the expanded entity set given to graph sources, with
	// provenance. Empty when no graph source ran.
	Entities []expand.Entity

	items    []FusedItem
	statuses []SourceStatus
	took     time.Duration
}

// Items returns a copy of the ordered results.
func (r *FusedResultSet) Items() []FusedItem {
	out := make([]FusedItem, len(r.items))
	for i, it := range r.items {
		out[i] = it.clone()
	}
	return out
}

// Len returns the number of results.
func (r *FusedResultSet) Len() int { return len(r.items) }

// Sources returns the per-source outcomes in canonical order.
func (r *FusedResultSet) Sources() []SourceStatus {
	return append([]SourceStatus(nil), r.statuses...)
}

// Degraded returns the sources that were expected but absent.
func (r *FusedResultSet) Degraded() []Source {
	var out []Source
	for _, s := range r.statuses {
		if s.Degraded() {
			out = append(out, s.Source)
		}
	}
	return out
}

// Took returns the wall time of the retrieval.
func (r *FusedResultSet) Took() time.Duration { return r.took }

func (it FusedItem) clone() FusedItem {
	c := it
	c.ContributingSources = append([]Source(nil), it.ContributingSources...)
	c.BestPayload = it.BestPayload.clone()
	c.Ranks = make(map[Source]int, len(it.Ranks))
	for k, v := range it.Ranks {
		c.Ranks[k] = v
	}
	c.RawScores = make(map[Source]float64, len(it.RawScores))
	for k, v := range it.RawScores {
		c.RawScores[k] = v
	}
	return c
}

// Retriever is one retrieval source. Implementations must filter by
// q.Namespace before ranking and return candidates with 1-based ranks.
type Retriever interface {
	Source() Source
	Retrieve(ctx context.Context, q Query, entities []string, limit int) ([]SourceCandidate, error)
}

// EntityExpander builds the entity set consumed by the graph sources.
// It returns an error only when ctx is done.
type EntityExpander interface {
	Expand(ctx context.Context, text, namespace string, ov expand.Overrides) (*expand.EntitySet, error)
}

// Classification is the output of an IntentClassifier.
type Classification struct {
	Label   string
	Weights IntentWeights
}

// IntentClassifier maps a query to a weight vector.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}
