package mcp

import (
	"github.com/Aman-CERP/amanrag/internal/retrieval"
)

// RetrieveOutput is the structured result of the retrieve tool.
type RetrieveOutput struct {
	RequestID string                  `json:"request_id"`
	Intent    string                  `json:"intent"`
	Weights   retrieval.IntentWeights `json:"weights"`
	Results   []RetrieveResultOutput  `json:"results" jsonschema:"fused results, best first"`
	Degraded  []string                `json:"degraded,omitempty" jsonschema:"sources that were expected but did not contribute"`
	Sources   []SourceOutput          `json:"sources,omitempty" jsonschema:"per-source outcome, present when explain is set"`
	Entities  []EntityOutput          `json:"entities,omitempty" jsonschema:"expanded entities, present when explain is set"`
	TookMS    int64                   `json:"took_ms"`
}

// RetrieveResultOutput is one fused result with its citation number.
type RetrieveResultOutput struct {
	Citation        int                `json:"citation" jsonschema:"1-based citation number"`
	ID              string             `json:"id"`
	Score           float64            `json:"score" jsonschema:"fused RRF score"`
	Text            string             `json:"text"`
	DocumentID      string             `json:"document_id,omitempty"`
	ChunkIndex      int                `json:"chunk_index"`
	Namespace       string             `json:"namespace"`
	Sources         []string           `json:"sources" jsonschema:"sources that returned this item"`
	MatchedEntities []string           `json:"matched_entities,omitempty"`
	Ranks           map[string]int     `json:"ranks,omitempty"`
	RawScores       map[string]float64 `json:"raw_scores,omitempty"`
}

// SourceOutput describes one source's outcome.
type SourceOutput struct {
	Source    string `json:"source"`
	State     string `json:"state"`
	Count     int    `json:"count"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// EntityOutput is one expanded entity.
type EntityOutput struct {
	Name       string  `json:"name"`
	Provenance string  `json:"provenance"`
	Score      float64 `json:"score,omitempty"`
}

// ToRetrieveOutput converts a result set. Per-source ranks, statuses and
// entities are included only when explain is set.
func ToRetrieveOutput(rs *retrieval.FusedResultSet, explain bool) RetrieveOutput {
	out := RetrieveOutput{
		RequestID: rs.RequestID,
		Intent:    rs.Intent,
		Weights:   rs.Weights,
		Results:   make([]RetrieveResultOutput, 0, rs.Len()),
		TookMS:    rs.Took().Milliseconds(),
	}
	for _, s := range rs.Degraded() {
		out.Degraded = append(out.Degraded, string(s))
	}

	for _, it := range rs.Items() {
		r := RetrieveResultOutput{
			Citation:        it.Citation,
			ID:              it.ID,
			Score:           it.FusedScore,
			Text:            it.BestPayload.Text,
			DocumentID:      it.BestPayload.DocumentID,
			ChunkIndex:      it.BestPayload.ChunkIndex,
			Namespace:       it.BestPayload.Namespace,
			MatchedEntities: it.BestPayload.MatchedEntities,
		}
		for _, s := range it.ContributingSources {
			r.Sources = append(r.Sources, string(s))
		}
		if explain {
			r.Ranks = make(map[string]int, len(it.Ranks))
			for s, rank := range it.Ranks {
				r.Ranks[string(s)] = rank
			}
			r.RawScores = make(map[string]float64, len(it.RawScores))
			for s, v := range it.RawScores {
				r.RawScores[string(s)] = v
			}
		}
		out.Results = append(out.Results, r)
	}

	if explain {
		for _, st := range rs.Sources() {
			so := SourceOutput{
				Source:    string(st.Source),
				State:     string(st.State),
				Count:     st.Count,
				LatencyMS: st.Latency.Milliseconds(),
			}
			if st.Err != nil {
				so.Error = st.Err.Error()
			}
			out.Sources = append(out.Sources, so)
		}
		for _, e := range rs.Entities {
			out.Entities = append(out.Entities, EntityOutput{
				Name:       e.Name,
				Provenance: string(e.Provenance),
				Score:      e.Score,
			})
		}
	}
	return out
}
