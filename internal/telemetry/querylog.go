package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/amanrag/internal/retrieval"
)

// LatencyBucket is a coarse latency class used for daily aggregates.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket classifies d.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// CircularBuffer is a fixed-capacity FIFO that overwrites its oldest item.
type CircularBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	size  int
}

// NewCircularBuffer creates a buffer; capacity <= 0 means 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity)}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.head] = item
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Items returns the contents oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, 0, b.size)
	start := (b.head - b.size + len(b.items)) % len(b.items)
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(start+i)%len(b.items)])
	}
	return out
}

// Size returns the number of items held.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Store persists daily aggregates.
type Store interface {
	SaveDaily(ctx context.Context, date string, agg DailyAggregate) error
	LoadDaily(ctx context.Context, from, to string) (DailyAggregate, error)
}

// DailyAggregate holds counters accumulated since the last flush.
type DailyAggregate struct {
	Outcomes     map[string]int64        `json:"outcomes"`
	Latency      map[LatencyBucket]int64 `json:"latency"`
	SourceStates map[string]int64        `json:"source_states"` // "source/state"
}

func newAggregate() DailyAggregate {
	return DailyAggregate{
		Outcomes:     make(map[string]int64),
		Latency:      make(map[LatencyBucket]int64),
		SourceStates: make(map[string]int64),
	}
}

func (a DailyAggregate) empty() bool {
	return len(a.Outcomes) == 0 && len(a.Latency) == 0 && len(a.SourceStates) == 0
}

// QueryLog is a retrieval.Observer keeping the most recent query events
// and per-day counters. Counters are flushed to the Store, when one is
// set, by Flush or by the loop started with Run.
type QueryLog struct {
	recent *CircularBuffer[retrieval.QueryEvent]
	store  Store
	now    func() time.Time

	mu   sync.Mutex
	day  string
	agg  DailyAggregate
	seen int64
}

// NewQueryLog keeps the last capacity events. store may be nil.
func NewQueryLog(capacity int, store Store) *QueryLog {
	return &QueryLog{
		recent: NewCircularBuffer[retrieval.QueryEvent](capacity),
		store:  store,
		now:    time.Now,
		agg:    newAggregate(),
	}
}

// ObserveSource implements retrieval.Observer.
func (l *QueryLog) ObserveSource(src retrieval.Source, state retrieval.SourceState, _ time.Duration, _ int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	l.agg.SourceStates[string(src)+"/"+string(state)]++
}

// ObserveQuery implements retrieval.Observer.
func (l *QueryLog) ObserveQuery(ev retrieval.QueryEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	l.recent.Add(ev)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	l.seen++
	l.agg.Outcomes[ev.Outcome]++
	l.agg.Latency[LatencyToBucket(ev.Latency)]++
}

// rollLocked starts a new day's counters, flushing the old ones.
func (l *QueryLog) rollLocked() {
	today := l.now().UTC().Format(time.DateOnly)
	if l.day == "" {
		l.day = today
		return
	}
	if l.day == today {
		return
	}
	l.flushLocked(context.Background())
	l.day = today
}

// Flush writes pending counters to the store.
func (l *QueryLog) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked(ctx)
}

func (l *QueryLog) flushLocked(ctx context.Context) error {
	if l.store == nil || l.agg.empty() {
		return nil
	}
	if err := l.store.SaveDaily(ctx, l.day, l.agg); err != nil {
		slog.Warn("telemetry_flush_failed", slog.String("day", l.day), slog.String("error", err.Error()))
		return err
	}
	l.agg = newAggregate()
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (l *QueryLog) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = l.Flush(context.Background())
			return
		case <-ticker.C:
			_ = l.Flush(ctx)
		}
	}
}

// Snapshot summarizes what the log holds.
type Snapshot struct {
	Total    int64                    `json:"total"`
	Recent   []retrieval.QueryEvent   `json:"recent"`
	Outcomes map[string]int64         `json:"outcomes"`
	Latency  map[LatencyBucket]int64  `json:"latency"`
	Degraded map[retrieval.Source]int `json:"degraded"`
}

// Snapshot returns recent events (newest first) and unflushed counters.
func (l *QueryLog) Snapshot() Snapshot {
	recent := l.recent.Items()
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	degraded := make(map[retrieval.Source]int)
	for _, ev := range recent {
		for _, s := range ev.Degraded {
			degraded[s]++
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	s := Snapshot{
		Total:    l.seen,
		Recent:   recent,
		Outcomes: make(map[string]int64, len(l.agg.Outcomes)),
		Latency:  make(map[LatencyBucket]int64, len(l.agg.Latency)),
		Degraded: degraded,
	}
	for k, v := range l.agg.Outcomes {
		s.Outcomes[k] = v
	}
	for k, v := range l.agg.Latency {
		s.Latency[k] = v
	}
	return s
}
