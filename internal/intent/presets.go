// Package intent classifies a query into an intent label and the fusion
// weights that go with it.
package intent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/retrieval"
)

// Label is an intent class.
type Label string

const (
	// LabelLexical: identifiers, codes, quoted phrases. Sparse leads.
	LabelLexical Label = "lexical"

	// LabelSemantic: natural language questions. Dense leads.
	LabelSemantic Label = "semantic"

	// LabelRelational: how entities connect. Local graph leads.
	LabelRelational Label = "relational"

	// LabelThematic: overviews and themes. Global graph leads.
	LabelThematic Label = "thematic"

	// LabelMixed: no clear signal.
	LabelMixed Label = "mixed"
)

// AllLabels lists the labels in a fixed order.
var AllLabels = []Label{LabelLexical, LabelSemantic, LabelRelational, LabelThematic, LabelMixed}

// ParseLabel converts a string into a Label, case-insensitively.
func ParseLabel(s string) (Label, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, l := range AllLabels {
		if string(l) == s {
			return l, true
		}
	}
	return "", false
}

// Presets maps each label to its weights.
type Presets map[Label]retrieval.IntentWeights

// DefaultPresets returns the built-in weight table. Mixed equals
// retrieval.DefaultWeights.
func DefaultPresets() Presets {
	return Presets{
		LabelLexical:    {Dense: 0.2, Sparse: 0.6, GraphLocal: 0.15, GraphGlobal: 0.05},
		LabelSemantic:   {Dense: 0.6, Sparse: 0.2, GraphLocal: 0.1, GraphGlobal: 0.1},
		LabelRelational: {Dense: 0.2, Sparse: 0.1, GraphLocal: 0.5, GraphGlobal: 0.2},
		LabelThematic:   {Dense: 0.2, Sparse: 0.1, GraphLocal: 0.2, GraphGlobal: 0.5},
		LabelMixed:      retrieval.DefaultWeights(),
	}
}

// Merge returns p with overrides applied. Unknown labels are an error.
func (p Presets) Merge(overrides map[string]retrieval.IntentWeights) (Presets, error) {
	out := make(Presets, len(p))
	for k, v := range p {
		out[k] = v
	}
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		l, ok := ParseLabel(name)
		if !ok {
			return nil, fmt.Errorf("unknown intent label %q", name)
		}
		out[l] = overrides[name]
	}
	return out, nil
}

// Validate checks that every label has a preset and every preset is a
// valid weight vector.
func (p Presets) Validate() error {
	for _, l := range AllLabels {
		w, ok := p[l]
		if !ok {
			return fmt.Errorf("intent preset %q missing", l)
		}
		if err := w.Validate(); err != nil {
			return fmt.Errorf("intent preset %q: %w", l, err)
		}
	}
	return nil
}

// classification builds the result for label, falling back to mixed.
func (p Presets) classification(l Label) retrieval.Classification {
	w, ok := p[l]
	if !ok {
		l, w = LabelMixed, p[LabelMixed]
	}
	return retrieval.Classification{Label: string(l), Weights: w}
}
