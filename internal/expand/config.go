package expand

import (
	"fmt"
	"time"
)

// Config holds the expansion parameters.
type Config struct {
	// Hops is the graph traversal depth (1-3).
	Hops int

	// MinEntities triggers the synonym fallback when the set is smaller (5-20).
	MinEntities int

	// MaxSynonyms is the synonym budget per seed entity (1-5).
	MaxSynonyms int

	// RerankEnabled turns on the semantic rerank stage.
	RerankEnabled bool

	// RerankTopK is the set size kept after rerank.
	RerankTopK int

	// MaxEntities caps the whole set.
	MaxEntities int

	// StageTimeout bounds each collaborator call. 0 uses only the query deadline.
	StageTimeout time.Duration
}

// Bounds for the tunable parameters.
const (
	MinHops        = 1
	MaxHops        = 3
	MinThreshold   = 5
	MaxThreshold   = 20
	MinSynonyms    = 1
	MaxSynonymsCap = 5

	// seedCount is how many leading entities get synonyms.
	seedCount = 2
)

// DefaultConfig returns the default expansion configuration.
func DefaultConfig() Config {
	return Config{
		Hops:          1,
		MinEntities:   10,
		MaxSynonyms:   3,
		RerankEnabled: true,
		RerankTopK:    20,
		MaxEntities:   50,
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.Hops < MinHops || c.Hops > MaxHops {
		return fmt.Errorf("expansion hops must be %d-%d, got %d", MinHops, MaxHops, c.Hops)
	}
	if c.MinEntities < MinThreshold || c.MinEntities > MaxThreshold {
		return fmt.Errorf("expansion min_entities must be %d-%d, got %d", MinThreshold, MaxThreshold, c.MinEntities)
	}
	if c.MaxSynonyms < MinSynonyms || c.MaxSynonyms > MaxSynonymsCap {
		return fmt.Errorf("expansion max_synonyms must be %d-%d, got %d", MinSynonyms, MaxSynonymsCap, c.MaxSynonyms)
	}
	if c.RerankTopK < 1 {
		return fmt.Errorf("expansion rerank_top_k must be positive, got %d", c.RerankTopK)
	}
	if c.MaxEntities < 1 {
		return fmt.Errorf("expansion max_entities must be positive, got %d", c.MaxEntities)
	}
	if c.StageTimeout < 0 {
		return fmt.Errorf("expansion stage_timeout must not be negative")
	}
	return nil
}

// Overrides adjusts expansion for a single query. Nil fields keep the
// configured value.
type Overrides struct {
	Hops          *int  `json:"hops,omitempty"`
	MinEntities   *int  `json:"min_entities,omitempty"`
	MaxSynonyms   *int  `json:"max_synonyms,omitempty"`
	RerankEnabled *bool `json:"rerank_enabled,omitempty"`
	RerankTopK    *int  `json:"rerank_top_k,omitempty"`
}

// Apply returns cfg with the overrides applied and clamped to their bounds.
func (o Overrides) Apply(cfg Config) Config {
	if o.Hops != nil {
		cfg.Hops = clamp(*o.Hops, MinHops, MaxHops)
	}
	if o.MinEntities != nil {
		cfg.MinEntities = clamp(*o.MinEntities, MinThreshold, MaxThreshold)
	}
	if o.MaxSynonyms != nil {
		cfg.MaxSynonyms = clamp(*o.MaxSynonyms, MinSynonyms, MaxSynonymsCap)
	}
	if o.RerankEnabled != nil {
		cfg.RerankEnabled = *o.RerankEnabled
	}
	if o.RerankTopK != nil && *o.RerankTopK > 0 {
		cfg.RerankTopK = *o.RerankTopK
	}
	return cfg
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
