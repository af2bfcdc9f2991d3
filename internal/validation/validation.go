// Package validation runs golden query sets against a retrieval engine and
// reports whether the expected chunks came back.
//
// Query sets are YAML so they can be edited without rebuilding:
//
//	tier1:
//	  - id: T1-Q1
//	    name: token rotation
//	    query: how often are oauth tokens rotated
//	    namespace: acme
//	    expected: [c1]
//	negative:
//	  - id: N1
//	    query: "???"
//
// Tier 1 queries must pass; tier 2 queries track quality; negative queries
// only need to complete without an error.
package validation

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrag/internal/retrieval"
)

// DefaultTopK is the cut-off within which an expected chunk must appear.
const DefaultTopK = 10

// QuerySpec defines a golden query with expected results.
type QuerySpec struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name,omitempty"`
	Query     string   `yaml:"query" json:"query"`
	Namespace string   `yaml:"namespace" json:"namespace,omitempty"`
	Weights   string   `yaml:"weights" json:"weights,omitempty"` // e.g. "dense=0.5,sparse=0.5"
	TopK      int      `yaml:"top_k" json:"top_k,omitempty"`
	Expected  []string `yaml:"expected" json:"expected,omitempty"` // chunk ids, any of which counts
	Notes     string   `yaml:"notes" json:"notes,omitempty"`
	Tier      int      `yaml:"-" json:"tier"`
}

// QueryConfig holds a golden query set.
type QueryConfig struct {
	Tier1    []QuerySpec `yaml:"tier1"`
	Tier2    []QuerySpec `yaml:"tier2"`
	Negative []QuerySpec `yaml:"negative"`
}

// LoadQueries reads a query set from path.
func LoadQueries(path string) (*QueryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queries file %s: %w", path, err)
	}
	return ParseQueries(data)
}

// ParseQueries decodes a query set and assigns tiers.
func ParseQueries(data []byte) (*QueryConfig, error) {
	var cfg QueryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse queries YAML: %w", err)
	}
	for i := range cfg.Tier1 {
		cfg.Tier1[i].Tier = 1
	}
	for i := range cfg.Tier2 {
		cfg.Tier2[i].Tier = 2
	}
	for i := range cfg.Negative {
		cfg.Negative[i].Tier = 0
	}
	for _, set := range [][]QuerySpec{cfg.Tier1, cfg.Tier2} {
		for _, q := range set {
			if len(q.Expected) == 0 {
				return nil, fmt.Errorf("query %s: expected ids are required outside the negative tier", q.ID)
			}
		}
	}
	return &cfg, nil
}

// TestResult captures the outcome of a single query.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ns"`
	TopResults []string      `json:"top_results"`
	MatchedAt  int           `json:"matched_at"` // 0-based position of the first match, -1 if none
	Degraded   []string      `json:"degraded,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// ValidationResult captures a full run.
type ValidationResult struct {
	Timestamp  time.Time    `json:"timestamp"`
	Tier1      []TestResult `json:"tier1"`
	Tier2      []TestResult `json:"tier2"`
	Negative   []TestResult `json:"negative"`
	Tier1Pass  int          `json:"tier1_pass"`
	Tier1Total int          `json:"tier1_total"`
	Tier2Pass  int          `json:"tier2_pass"`
	Tier2Total int          `json:"tier2_total"`
	NegPass    int          `json:"negative_pass"`
	NegTotal   int          `json:"negative_total"`
}

// Tier1PassRate is the fraction of tier 1 queries that passed, 1 when empty.
func (r *ValidationResult) Tier1PassRate() float64 {
	if r.Tier1Total == 0 {
		return 1
	}
	return float64(r.Tier1Pass) / float64(r.Tier1Total)
}

// Retriever is the engine surface the validator needs.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) (*retrieval.FusedResultSet, error)
}

// Validator runs query specs against a Retriever.
type Validator struct {
	engine   Retriever
	deadline time.Duration
}

// NewValidator creates a validator. A zero deadline uses the engine default.
func NewValidator(engine Retriever, deadline time.Duration) *Validator {
	return &Validator{engine: engine, deadline: deadline}
}

// RunQuery executes a single query.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	result := TestResult{Spec: spec, MatchedAt: -1}

	q := retrieval.Query{
		Text:      spec.Query,
		Namespace: spec.Namespace,
		TopK:      spec.TopK,
		Deadline:  v.deadline,
	}
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if spec.Weights != "" {
		w, err := retrieval.ParseWeights(spec.Weights)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		q.Weights = &w
	}

	start := time.Now()
	rs, err := v.engine.Retrieve(ctx, q)
	result.Duration = time.Since(start)
	if err != nil {
		// Negative queries may be rejected, they only must not crash.
		if spec.Tier == 0 {
			result.Passed = true
		} else {
			result.Error = err.Error()
		}
		return result
	}

	for _, it := range rs.Items() {
		result.TopResults = append(result.TopResults, it.ID)
	}
	for _, s := range rs.Degraded() {
		result.Degraded = append(result.Degraded, string(s))
	}

	if len(spec.Expected) == 0 {
		result.Passed = true
	} else {
		result.Passed, result.MatchedAt = checkExpected(result.TopResults, spec.Expected)
	}
	return result
}

// RunAll executes every query in cfg.
func (v *Validator) RunAll(ctx context.Context, cfg *QueryConfig) *ValidationResult {
	result := &ValidationResult{Timestamp: time.Now()}

	for _, spec := range cfg.Tier1 {
		tr := v.RunQuery(ctx, spec)
		result.Tier1 = append(result.Tier1, tr)
		result.Tier1Total++
		if tr.Passed {
			result.Tier1Pass++
		}
	}
	for _, spec := range cfg.Tier2 {
		tr := v.RunQuery(ctx, spec)
		result.Tier2 = append(result.Tier2, tr)
		result.Tier2Total++
		if tr.Passed {
			result.Tier2Pass++
		}
	}
	for _, spec := range cfg.Negative {
		tr := v.RunQuery(ctx, spec)
		result.Negative = append(result.Negative, tr)
		result.NegTotal++
		if tr.Passed {
			result.NegPass++
		}
	}
	return result
}

// checkExpected reports whether any expected id appears in results, and where.
func checkExpected(results []string, expected []string) (bool, int) {
	for i, id := range results {
		for _, exp := range expected {
			if id == exp {
				return true, i
			}
		}
	}
	return false, -1
}
