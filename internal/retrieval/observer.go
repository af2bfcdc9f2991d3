package retrieval

import "time"

// Observer receives per-query measurements. telemetry.Metrics implements it.
type Observer interface {
	ObserveSource(src Source, state SourceState, latency time.Duration, count int)
	ObserveQuery(ev QueryEvent)
}

// QueryEvent summarizes one completed or failed retrieval.
type QueryEvent struct {
	RequestID string
	Namespace string
	Intent    string
	Outcome   string // "ok", "degraded", or an error code
	Latency   time.Duration
	Results   int
	Degraded  []Source
	Entities  map[string]int // expanded entity count by provenance
	Timestamp time.Time
}

type noopObserver struct{}

func (noopObserver) ObserveSource(Source, SourceState, time.Duration, int) {}
func (noopObserver) ObserveQuery(QueryEvent)                               {}
