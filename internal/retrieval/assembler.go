package retrieval

// Assemble collapses candidates that share an id, numbers citations by final
// order and truncates to topK. topK <= 0 keeps everything.
//
// The first occurrence of an id keeps its position and fused score; later
// occurrences only add their sources, ranks and a better payload. The
// returned items share no memory with the input.
func Assemble(fused []*FusionCandidate, topK int) []FusedItem {
	index := make(map[string]int, len(fused))
	items := make([]FusedItem, 0, len(fused))

	for _, fc := range fused {
		if fc == nil {
			continue
		}
		if i, ok := index[fc.ID]; ok {
			merge(&items[i], fc)
			continue
		}
		index[fc.ID] = len(items)
		items = append(items, FusedItem{FusionCandidate: FusionCandidate{
			ID:         fc.ID,
			FusedScore: fc.FusedScore,
		}})
		merge(&items[len(items)-1], fc)
	}

	if topK > 0 && len(items) > topK {
		items = items[:topK]
	}
	for i := range items {
		items[i].Citation = i + 1
	}
	return items
}

// merge folds fc's sources into it, keeping canonical source order.
func merge(it *FusedItem, fc *FusionCandidate) {
	if it.Ranks == nil {
		it.Ranks = make(map[Source]int, len(fc.Ranks))
		it.RawScores = make(map[Source]float64, len(fc.RawScores))
	}

	hadBest := len(it.ContributingSources) > 0
	for _, src := range fc.ContributingSources {
		if _, ok := it.Ranks[src]; ok {
			continue
		}
		it.Ranks[src] = fc.Ranks[src]
		it.RawScores[src] = fc.RawScores[src]
	}

	it.ContributingSources = it.ContributingSources[:0]
	for _, src := range AllSources {
		if _, ok := it.Ranks[src]; ok {
			it.ContributingSources = append(it.ContributingSources, src)
		}
	}

	if !hadBest || fc.RawScores[fc.BestSource] > it.RawScores[it.BestSource] {
		it.BestSource = fc.BestSource
		it.BestPayload = fc.BestPayload.clone()
	}
}
