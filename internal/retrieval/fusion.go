package retrieval

import (
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// RRFFusion combines per-source ranked lists with weighted Reciprocal Rank
// Fusion:
//
//	fused(d) = Σ_s w_s / (k + rank_s(d))
//
// summed only over the sources that returned d. A source that did not return
// d contributes nothing; there is no synthetic missing rank.
type RRFFusion struct {
	K int // RRF smoothing constant (default: 60)
}

// NewRRFFusion creates a fusion with k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a fusion with a custom k. k <= 0 means 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse merges the lists into one ranking. Ranks are taken from each list's
// slice order (1-based); a repeated id inside one list keeps its first
// position. Sources with zero weight or missing from lists are ignored.
//
// Order: fused score desc, then raw score of the candidate's highest-weighted
// contributing source desc, then id asc. No two distinct ids compare equal.
func (f *RRFFusion) Fuse(lists map[Source][]SourceCandidate, weights IntentWeights) []*FusionCandidate {
	k := f.K
	if k <= 0 {
		k = DefaultRRFConstant
	}

	capacity := 0
	for _, l := range lists {
		capacity += len(l)
	}
	byID := make(map[string]*FusionCandidate, capacity)

	for _, src := range AllSources {
		list, ok := lists[src]
		if !ok || weights.Get(src) <= 0 {
			continue
		}
		rank := 0
		for _, c := range list {
			fc := f.getOrCreate(byID, c.ID)
			if _, seen := fc.Ranks[src]; seen {
				continue
			}
			rank++
			fc.Ranks[src] = rank
			fc.RawScores[src] = c.RawScore
			fc.ContributingSources = append(fc.ContributingSources, src)

			if len(fc.ContributingSources) == 1 || c.RawScore > fc.RawScores[fc.BestSource] {
				fc.BestSource = src
				fc.BestPayload = c.Payload.clone()
			}
		}
	}

	results := make([]*FusionCandidate, 0, len(byID))
	for _, fc := range byID {
		// canonical order keeps the float sum identical across runs
		for _, src := range fc.ContributingSources {
			fc.FusedScore += weights.Get(src) / float64(k+fc.Ranks[src])
		}
		results = append(results, fc)
	}

	sort.Slice(results, func(i, j int) bool {
		return compare(results[i], results[j], weights)
	})
	return results
}

func (f *RRFFusion) getOrCreate(m map[string]*FusionCandidate, id string) *FusionCandidate {
	if fc, ok := m[id]; ok {
		return fc
	}
	fc := &FusionCandidate{
		ID:        id,
		Ranks:     make(map[Source]int, len(AllSources)),
		RawScores: make(map[Source]float64, len(AllSources)),
	}
	m[id] = fc
	return fc
}

// leadSource returns the contributing source with the highest weight.
// Equal weights resolve to canonical order.
func leadSource(fc *FusionCandidate, weights IntentWeights) Source {
	var lead Source
	best := -1.0
	for _, src := range fc.ContributingSources {
		if w := weights.Get(src); w > best {
			best = w
			lead = src
		}
	}
	return lead
}

// compare reports whether a ranks before b.
func compare(a, b *FusionCandidate, weights IntentWeights) bool {
	if a.FusedScore != b.FusedScore {
		return a.FusedScore > b.FusedScore
	}

	aRaw := a.RawScores[leadSource(a, weights)]
	bRaw := b.RawScores[leadSource(b, weights)]
	if aRaw != bRaw {
		return aRaw > bRaw
	}

	return a.ID < b.ID
}
