package retrieval

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ranked builds a source list with 1-based ranks and descending raw scores.
func ranked(src Source, ids ...string) []SourceCandidate {
	out := make([]SourceCandidate, len(ids))
	for i, id := range ids {
		out[i] = SourceCandidate{
			ID:       id,
			RawScore: 1 - float64(i)*0.1,
			Source:   src,
			Rank:     i + 1,
			Payload:  Payload{Text: string(src) + ":" + id, DocumentID: "doc-" + id, Namespace: "default"},
		}
	}
	return out
}

func ids(items []FusedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func candidateIDs(fused []*FusionCandidate) []string {
	out := make([]string, len(fused))
	for i, fc := range fused {
		out[i] = fc.ID
	}
	return out
}

// fakeRetriever returns a fixed list, optionally after a delay.
type fakeRetriever struct {
	src   Source
	ids   []string
	err   error
	delay time.Duration

	// ignoreCtx keeps sleeping after cancellation to simulate a late answer.
	ignoreCtx bool

	calls    atomic.Int32
	mu       sync.Mutex
	entities []string
	started  time.Time
}

func (f *fakeRetriever) Source() Source { return f.src }

func (f *fakeRetriever) Retrieve(ctx context.Context, _ Query, entities []string, limit int) ([]SourceCandidate, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.entities = entities
	f.started = time.Now()
	f.mu.Unlock()

	if f.delay > 0 {
		if f.ignoreCtx {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	list := ranked(f.src, f.ids...)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (f *fakeRetriever) gotEntities() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entities
}

func (f *fakeRetriever) startedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}
