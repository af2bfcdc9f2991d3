package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/expand"
)

// DefaultDeadline is the latency budget of a hybrid query.
const DefaultDeadline = 500 * time.Millisecond

// ExpandFunc produces the entity set for the graph sources. It must return
// an error only when ctx is done.
type ExpandFunc func(ctx context.Context) (*expand.EntitySet, error)

// FanoutRequest is one dispatch of a query to all sources.
type FanoutRequest struct {
	Query    Query
	Weights  IntentWeights
	Limit    int
	Deadline time.Duration
	// DeadlineAt, when set, is the absolute end of the budget and takes
	// precedence over Deadline.
	DeadlineAt time.Time
	Expand     ExpandFunc
}

// FanoutResult holds the lists of the surviving sources only.
type FanoutResult struct {
	Lists    map[Source][]SourceCandidate
	Statuses []SourceStatus // canonical order
	Weights  IntentWeights  // renormalized over survivors
	Entities *expand.EntitySet
}

// Coordinator runs the retrievers concurrently under one deadline.
type Coordinator struct {
	retrievers map[Source]Retriever
	breakers   map[Source]*amerrors.CircuitBreaker
	observer   Observer
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithBreakers guards every source with its own circuit breaker.
func WithBreakers(opts ...amerrors.CircuitBreakerOption) CoordinatorOption {
	return func(c *Coordinator) {
		for src := range c.retrievers {
			c.breakers[src] = amerrors.NewCircuitBreaker(string(src), opts...)
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) CoordinatorOption {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// NewCoordinator indexes retrievers by source. A later retriever for the
// same source replaces an earlier one.
func NewCoordinator(retrievers []Retriever, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		retrievers: make(map[Source]Retriever, len(retrievers)),
		breakers:   make(map[Source]*amerrors.CircuitBreaker),
		observer:   noopObserver{},
	}
	for _, r := range retrievers {
		if r != nil {
			c.retrievers[r.Source()] = r
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Breaker returns the circuit breaker of a source, or nil.
func (c *Coordinator) Breaker(src Source) *amerrors.CircuitBreaker {
	return c.breakers[src]
}

type sourceOutcome struct {
	status     SourceStatus
	candidates []SourceCandidate
}

// Run dispatches the query. Dense and sparse start immediately; the graph
// sources start once Expand returns. A source that fails, times out or
// answers after the deadline is absent from the result.
//
// Errors: Canceled when ctx is canceled by the caller (partial lists are
// dropped), AllSourcesFailed when no source survives.
func (c *Coordinator) Run(ctx context.Context, req FanoutRequest) (*FanoutResult, error) {
	deadline := req.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	at := time.Now().Add(deadline)
	if !req.DeadlineAt.IsZero() {
		at = req.DeadlineAt
		deadline = max(time.Until(at), 0)
	}
	dctx, cancel := context.WithDeadline(ctx, at)
	defer cancel()

	slots := newOutcomeSlots()
	g, gctx := errgroup.WithContext(dctx)

	var graphIdx []int
	for i, src := range AllSources {
		if _, ok := c.retrievers[src]; !ok || req.Weights.Get(src) <= 0 {
			slots.put(i, sourceOutcome{status: SourceStatus{Source: src, State: StateSkipped}})
			continue
		}
		if src.IsGraph() {
			graphIdx = append(graphIdx, i)
			continue
		}
		g.Go(func() error {
			slots.put(i, c.call(gctx, ctx, src, req.Query, nil, req.Limit))
			return nil
		})
	}

	if len(graphIdx) > 0 {
		g.Go(func() error {
			start := time.Now()
			set, err := expandEntities(gctx, req.Expand)
			if err != nil {
				for _, i := range graphIdx {
					slots.put(i, c.contextOutcome(ctx, AllSources[i], err, time.Since(start)))
				}
				return nil
			}
			slots.setEntities(set)
			ents := set.Names()
			for _, i := range graphIdx {
				g.Go(func() error {
					slots.put(i, c.call(gctx, ctx, AllSources[i], req.Query, ents, req.Limit))
					return nil
				})
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-dctx.Done():
		// sources still running are abandoned; their late writes are dropped
	}
	outcomes, entities := slots.seal()

	if errors.Is(ctx.Err(), context.Canceled) {
		slog.Debug("fanout canceled by caller", slog.String("request_id", req.Query.RequestID))
		return nil, amerrors.Canceled(ctx.Err())
	}

	result := &FanoutResult{
		Lists:    make(map[Source][]SourceCandidate, len(AllSources)),
		Statuses: make([]SourceStatus, len(AllSources)),
		Entities: entities,
	}
	var survivors []Source
	var errs []error
	for i, o := range outcomes {
		if o == nil {
			o = c.abandoned(ctx, AllSources[i], deadline)
		}
		result.Statuses[i] = o.status
		switch {
		case o.status.State == StateOK:
			survivors = append(survivors, o.status.Source)
			result.Lists[o.status.Source] = o.candidates
		case o.status.Err != nil:
			errs = append(errs, o.status.Err)
		}
	}

	if len(survivors) == 0 {
		return nil, amerrors.AllSourcesFailed(errs...)
	}

	weights, err := req.Weights.Renormalize(survivors)
	if err != nil {
		return nil, err
	}
	result.Weights = weights
	return result, nil
}

// outcomeSlots collects per-source outcomes until sealed.
type outcomeSlots struct {
	mu       sync.Mutex
	sealed   bool
	outcomes []*sourceOutcome
	entities *expand.EntitySet
}

func newOutcomeSlots() *outcomeSlots {
	return &outcomeSlots{outcomes: make([]*sourceOutcome, len(AllSources))}
}

func (s *outcomeSlots) put(i int, o sourceOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sealed {
		s.outcomes[i] = &o
	}
}

func (s *outcomeSlots) setEntities(set *expand.EntitySet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sealed {
		s.entities = set
	}
}

// seal stops accepting writes and returns what arrived in time.
func (s *outcomeSlots) seal() ([]*sourceOutcome, *expand.EntitySet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	return append([]*sourceOutcome(nil), s.outcomes...), s.entities
}

// abandoned is the outcome of a source that had not answered at the deadline.
func (c *Coordinator) abandoned(parent context.Context, src Source, deadline time.Duration) *sourceOutcome {
	o := c.contextOutcome(parent, src, context.DeadlineExceeded, deadline)
	return &o
}

func expandEntities(ctx context.Context, fn ExpandFunc) (*expand.EntitySet, error) {
	if fn == nil {
		return expand.NewEntitySet(0), ctx.Err()
	}
	set, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	// expansion that finished but overran the budget leaves no time for the graph sources
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if set == nil {
		set = expand.NewEntitySet(0)
	}
	return set, nil
}

// call runs one retriever through its breaker and classifies the outcome.
// parent is the caller's context, used to tell cancellation from timeout.
func (c *Coordinator) call(ctx, parent context.Context, src Source, q Query, entities []string, limit int) sourceOutcome {
	r := c.retrievers[src]
	start := time.Now()

	fn := func() ([]SourceCandidate, error) {
		return r.Retrieve(ctx, q, entities, limit)
	}
	var cands []SourceCandidate
	var err error
	if cb := c.breakers[src]; cb != nil {
		cands, err = amerrors.Execute(cb, fn, countsAsFailure)
	} else {
		cands, err = fn()
	}
	latency := time.Since(start)

	// a list delivered after the deadline is discarded
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	var out sourceOutcome
	if err != nil {
		out = c.contextOutcome(parent, src, err, latency)
	} else {
		out = sourceOutcome{
			status:     SourceStatus{Source: src, State: StateOK, Count: len(cands), Latency: latency},
			candidates: cands,
		}
		slog.Debug("source completed",
			slog.String("source", string(src)),
			slog.Int("count", len(cands)),
			slog.Duration("latency", latency))
	}

	c.observer.ObserveSource(src, out.status.State, latency, out.status.Count)
	return out
}

// contextOutcome classifies a failed source.
func (c *Coordinator) contextOutcome(parent context.Context, src Source, err error, latency time.Duration) sourceOutcome {
	state := classifyError(parent, err)
	status := SourceStatus{Source: src, State: state, Latency: latency}

	switch state {
	case StateTimeout:
		status.Err = amerrors.SourceTimeout(string(src), err)
	case StateCanceled:
		status.Err = amerrors.Canceled(err)
	default:
		status.Err = err
	}

	if state != StateCanceled {
		slog.Warn("source degraded",
			slog.String("source", string(src)),
			slog.String("state", string(state)),
			slog.Duration("latency", latency),
			slog.String("error", err.Error()))
	}
	return sourceOutcome{status: status}
}

func classifyError(parent context.Context, err error) SourceState {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return StateCanceled
	case errors.Is(err, amerrors.ErrCircuitOpen):
		return StateCircuitOpen
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, amerrors.ErrSourceTimeout):
		return StateTimeout
	case errors.Is(err, amerrors.ErrInvalidQuery):
		return StateInvalid
	default:
		return StateUnavailable
	}
}

// countsAsFailure keeps caller cancellation and bad input from tripping a breaker.
func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, amerrors.ErrCanceled) &&
		!errors.Is(err, amerrors.ErrInvalidQuery)
}
