package retrieval

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// WeightTolerance is the allowed deviation of a weight vector's sum from 1.
const WeightTolerance = 1e-6

// IntentWeights are the per-source fusion coefficients (α, β, γ, δ).
type IntentWeights struct {
	Dense       float64 `json:"dense" yaml:"dense"`
	Sparse      float64 `json:"sparse" yaml:"sparse"`
	GraphLocal  float64 `json:"graph_local" yaml:"graph_local"`
	GraphGlobal float64 `json:"graph_global" yaml:"graph_global"`
}

// DefaultWeights is used when no classifier is configured or it fails.
func DefaultWeights() IntentWeights {
	return IntentWeights{Dense: 0.4, Sparse: 0.3, GraphLocal: 0.2, GraphGlobal: 0.1}
}

// Get returns the weight for a source.
func (w IntentWeights) Get(s Source) float64 {
	switch s {
	case SourceDense:
		return w.Dense
	case SourceSparse:
		return w.Sparse
	case SourceGraphLocal:
		return w.GraphLocal
	case SourceGraphGlobal:
		return w.GraphGlobal
	}
	return 0
}

func (w *IntentWeights) set(s Source, v float64) {
	switch s {
	case SourceDense:
		w.Dense = v
	case SourceSparse:
		w.Sparse = v
	case SourceGraphLocal:
		w.GraphLocal = v
	case SourceGraphGlobal:
		w.GraphGlobal = v
	}
}

// Sum returns α+β+γ+δ.
func (w IntentWeights) Sum() float64 {
	var sum float64
	for _, s := range AllSources {
		sum += w.Get(s)
	}
	return sum
}

// Validate checks that every weight is in [0,1] and the sum is 1.
func (w IntentWeights) Validate() error {
	for _, s := range AllSources {
		v := w.Get(s)
		if math.IsNaN(v) || v < 0 || v > 1 {
			return amerrors.InvalidQuery(amerrors.ErrCodeInvalidWeights,
				fmt.Sprintf("weight %s=%v out of range [0,1]", s, v))
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > WeightTolerance {
		return amerrors.InvalidQuery(amerrors.ErrCodeInvalidWeights,
			fmt.Sprintf("weights sum to %v, want 1.0", sum))
	}
	return nil
}

// Renormalize keeps only the surviving sources and rescales them to sum to 1.
// When every survivor has zero weight they share equally. Returns
// ErrAllSourcesFailed when survivors is empty.
func (w IntentWeights) Renormalize(survivors []Source) (IntentWeights, error) {
	alive := make(map[Source]bool, len(survivors))
	for _, s := range survivors {
		alive[s] = true
	}
	if len(alive) == 0 {
		return IntentWeights{}, amerrors.AllSourcesFailed()
	}

	var total float64
	for _, s := range AllSources {
		if alive[s] {
			total += w.Get(s)
		}
	}

	var out IntentWeights
	for _, s := range AllSources {
		if !alive[s] {
			continue
		}
		if total > 0 {
			out.set(s, w.Get(s)/total)
		} else {
			out.set(s, 1/float64(len(alive)))
		}
	}
	return out, nil
}

// Active returns the sources with a positive weight, in canonical order.
func (w IntentWeights) Active() []Source {
	var out []Source
	for _, s := range AllSources {
		if w.Get(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// String formats the weights compactly for logs.
func (w IntentWeights) String() string {
	return fmt.Sprintf("dense=%.3f sparse=%.3f graph_local=%.3f graph_global=%.3f",
		w.Dense, w.Sparse, w.GraphLocal, w.GraphGlobal)
}

// ParseWeights reads "source=value" pairs separated by commas or spaces,
// the format String produces. Unnamed sources are zero. The result is
// validated.
func ParseWeights(s string) (IntentWeights, error) {
	var w IntentWeights
	seen := make(map[Source]bool)
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	for _, f := range fields {
		name, value, ok := strings.Cut(f, "=")
		src, known := ParseSource(strings.TrimSpace(name))
		if !ok || !known {
			return IntentWeights{}, amerrors.InvalidQuery(amerrors.ErrCodeInvalidWeights,
				fmt.Sprintf("malformed weight %q, want source=value", f))
		}
		if seen[src] {
			return IntentWeights{}, amerrors.InvalidQuery(amerrors.ErrCodeInvalidWeights,
				fmt.Sprintf("weight for %s given twice", src))
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return IntentWeights{}, amerrors.InvalidQuery(amerrors.ErrCodeInvalidWeights,
				fmt.Sprintf("weight %s: %v", src, err))
		}
		seen[src] = true
		w.set(src, v)
	}
	if err := w.Validate(); err != nil {
		return IntentWeights{}, err
	}
	return w, nil
}
