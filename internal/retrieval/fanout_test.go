package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/expand"
)

func equalWeights() IntentWeights {
	return IntentWeights{Dense: 0.25, Sparse: 0.25, GraphLocal: 0.25, GraphGlobal: 0.25}
}

func fourSources() (dense, sparse, local, global *fakeRetriever) {
	return &fakeRetriever{src: SourceDense, ids: []string{"a", "b"}},
		&fakeRetriever{src: SourceSparse, ids: []string{"b", "c"}},
		&fakeRetriever{src: SourceGraphLocal, ids: []string{"c", "d"}},
		&fakeRetriever{src: SourceGraphGlobal, ids: []string{"community-1"}}
}

func staticExpand(names ...string) ExpandFunc {
	return func(context.Context) (*expand.EntitySet, error) {
		set := expand.NewEntitySet(0)
		set.AddAll(names, expand.ProvenanceExtracted)
		return set, nil
	}
}

func statusOf(res *FanoutResult, src Source) SourceStatus {
	for _, s := range res.Statuses {
		if s.Source == src {
			return s
		}
	}
	return SourceStatus{}
}

func TestCoordinator_AllSourcesSucceed(t *testing.T) {
	dense, sparse, local, global := fourSources()
	c := NewCoordinator([]Retriever{dense, sparse, local, global})

	res, err := c.Run(context.Background(), FanoutRequest{
		Weights:  equalWeights(),
		Limit:    10,
		Deadline: time.Second,
		Expand:   staticExpand("oauth", "token"),
	})

	require.NoError(t, err)
	assert.Len(t, res.Lists, 4)
	assert.Equal(t, equalWeights(), res.Weights)
	assert.Equal(t, []string{"oauth", "token"}, res.Entities.Names())
	assert.Equal(t, []string{"oauth", "token"}, local.gotEntities())
	assert.Equal(t, []string{"oauth", "token"}, global.gotEntities())
	assert.Nil(t, dense.gotEntities())
	for _, s := range res.Statuses {
		assert.Equal(t, StateOK, s.State, s.Source)
	}
}

func TestCoordinator_GraphTimeoutRenormalizes(t *testing.T) {
	// Given: graph_local takes longer than the deadline
	dense, sparse, local, global := fourSources()
	local.delay = time.Second
	c := NewCoordinator([]Retriever{dense, sparse, local, global})
	weights := IntentWeights{Dense: 0.4, Sparse: 0.3, GraphLocal: 0.2, GraphGlobal: 0.1}

	// When: running with a short deadline
	res, err := c.Run(context.Background(), FanoutRequest{
		Weights:  weights,
		Limit:    10,
		Deadline: 50 * time.Millisecond,
		Expand:   staticExpand("x"),
	})

	// Then: a result is produced over the three survivors
	require.NoError(t, err)
	assert.NotContains(t, res.Lists, SourceGraphLocal)
	assert.Equal(t, StateTimeout, statusOf(res, SourceGraphLocal).State)
	assert.True(t, errors.Is(statusOf(res, SourceGraphLocal).Err, amerrors.ErrSourceTimeout))
	assert.InDelta(t, 1.0, res.Weights.Sum(), WeightTolerance)
	assert.Zero(t, res.Weights.GraphLocal)
	assert.InDelta(t, 0.5, res.Weights.Dense, 1e-12)
	assert.InDelta(t, 0.375, res.Weights.Sparse, 1e-12)
	assert.InDelta(t, 0.125, res.Weights.GraphGlobal, 1e-12)
}

func TestCoordinator_LateResultIsDiscarded(t *testing.T) {
	// Given: sparse ignores cancellation and answers after the deadline
	dense, sparse, _, _ := fourSources()
	sparse.delay = 120 * time.Millisecond
	sparse.ignoreCtx = true
	c := NewCoordinator([]Retriever{dense, sparse})

	start := time.Now()
	res, err := c.Run(context.Background(), FanoutRequest{
		Weights:  IntentWeights{Dense: 0.5, Sparse: 0.5},
		Deadline: 40 * time.Millisecond,
	})

	// Then: Run returns at the deadline without waiting for sparse
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 110*time.Millisecond)
	assert.NotContains(t, res.Lists, SourceSparse)
	assert.Equal(t, StateTimeout, statusOf(res, SourceSparse).State)
	assert.Equal(t, 1.0, res.Weights.Dense)
}

func TestCoordinator_AllSourcesFail(t *testing.T) {
	down := errors.New("connection refused")
	dense, sparse, local, global := fourSources()
	dense.err = down
	sparse.err = amerrors.SourceUnavailable("sparse", down)
	local.err = down
	global.delay = time.Second
	c := NewCoordinator([]Retriever{dense, sparse, local, global})

	res, err := c.Run(context.Background(), FanoutRequest{
		Weights:  equalWeights(),
		Deadline: 30 * time.Millisecond,
		Expand:   staticExpand("x"),
	})

	assert.Nil(t, res)
	assert.True(t, errors.Is(err, amerrors.ErrAllSourcesFailed))
	assert.False(t, errors.Is(err, amerrors.ErrCanceled))

	// And: the source errors are reported without joining the chain
	var ae *amerrors.AmanError
	require.True(t, errors.As(err, &ae))
	assert.Len(t, ae.SourceErrs, 4)
	assert.True(t, errors.Is(ae.SourceErrs[0], down))
	assert.False(t, errors.Is(err, down))
	assert.Contains(t, ae.Details["sources"], "connection refused")
}

func TestCoordinator_OutcomeErrorsAreExclusive(t *testing.T) {
	// Given: every source rejects the query as invalid
	dense, sparse, _, _ := fourSources()
	dense.err = amerrors.InvalidQuery("", "no vector for query")
	sparse.err = amerrors.InvalidQuery("", "no indexable terms")
	c := NewCoordinator([]Retriever{dense, sparse})

	// When: the fanout runs
	_, err := c.Run(context.Background(), FanoutRequest{
		Weights:  IntentWeights{Dense: 0.5, Sparse: 0.5},
		Deadline: time.Second,
	})

	// Then: the outcome matches AllSourcesFailed only
	require.Error(t, err)
	assert.True(t, errors.Is(err, amerrors.ErrAllSourcesFailed))
	assert.False(t, errors.Is(err, amerrors.ErrInvalidQuery))
	assert.False(t, errors.Is(err, amerrors.ErrCanceled))
}

func TestCoordinator_CallerCancellation(t *testing.T) {
	// Given: every source is slow
	dense, sparse, local, global := fourSources()
	for _, r := range []*fakeRetriever{dense, sparse, local, global} {
		r.delay = time.Second
	}
	dense.delay = 0 // dense finishes before the cancel
	c := NewCoordinator([]Retriever{dense, sparse, local, global})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	// When: the caller cancels mid-flight
	start := time.Now()
	res, err := c.Run(ctx, FanoutRequest{
		Weights:  equalWeights(),
		Deadline: 5 * time.Second,
		Expand:   staticExpand("x"),
	})

	// Then: Canceled, no partial result, and nothing waits for the slow sources
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, amerrors.ErrCanceled))
	assert.False(t, errors.Is(err, amerrors.ErrAllSourcesFailed))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCoordinator_DenseDoesNotWaitForExpansion(t *testing.T) {
	// Given: expansion takes 80ms
	dense, sparse, local, global := fourSources()
	c := NewCoordinator([]Retriever{dense, sparse, local, global})
	slowExpand := func(ctx context.Context) (*expand.EntitySet, error) {
		select {
		case <-time.After(80 * time.Millisecond):
			return staticExpand("e")(ctx)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	start := time.Now()
	res, err := c.Run(context.Background(), FanoutRequest{
		Weights:  equalWeights(),
		Deadline: time.Second,
		Expand:   slowExpand,
	})
	require.NoError(t, err)
	assert.Len(t, res.Lists, 4)

	// Then: dense and sparse started right away, graph sources after expansion
	assert.Less(t, dense.startedAt().Sub(start), 40*time.Millisecond)
	assert.Less(t, sparse.startedAt().Sub(start), 40*time.Millisecond)
	assert.GreaterOrEqual(t, local.startedAt().Sub(start), 80*time.Millisecond)
	assert.GreaterOrEqual(t, global.startedAt().Sub(start), 80*time.Millisecond)
}

func TestCoordinator_ExpansionOverrunDropsGraphSources(t *testing.T) {
	dense, sparse, local, global := fourSources()
	c := NewCoordinator([]Retriever{dense, sparse, local, global})
	neverDone := func(ctx context.Context) (*expand.EntitySet, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	res, err := c.Run(context.Background(), FanoutRequest{
		Weights:  equalWeights(),
		Deadline: 30 * time.Millisecond,
		Expand:   neverDone,
	})

	require.NoError(t, err)
	assert.Equal(t, StateTimeout, statusOf(res, SourceGraphLocal).State)
	assert.Equal(t, StateTimeout, statusOf(res, SourceGraphGlobal).State)
	assert.Zero(t, local.calls.Load())
	assert.InDelta(t, 0.5, res.Weights.Dense, 1e-12)
}

func TestCoordinator_ZeroWeightSourcesAreSkipped(t *testing.T) {
	dense, sparse, local, global := fourSources()
	c := NewCoordinator([]Retriever{dense, sparse, local, global})

	res, err := c.Run(context.Background(), FanoutRequest{
		Weights:  IntentWeights{Sparse: 1},
		Deadline: time.Second,
	})

	require.NoError(t, err)
	assert.Zero(t, dense.calls.Load())
	assert.Zero(t, local.calls.Load())
	assert.Equal(t, StateSkipped, statusOf(res, SourceDense).State)
	assert.False(t, statusOf(res, SourceDense).Degraded())
	assert.Equal(t, 1.0, res.Weights.Sparse)
}

func TestCoordinator_InvalidQueryFromOneSource(t *testing.T) {
	dense, sparse, _, _ := fourSources()
	sparse.err = amerrors.InvalidQuery("", "no indexable terms")
	c := NewCoordinator([]Retriever{dense, sparse})

	res, err := c.Run(context.Background(), FanoutRequest{
		Weights:  IntentWeights{Dense: 0.5, Sparse: 0.5},
		Deadline: time.Second,
	})

	require.NoError(t, err)
	assert.Equal(t, StateInvalid, statusOf(res, SourceSparse).State)
}

func TestCoordinator_CircuitBreakerOpensAfterFailures(t *testing.T) {
	// Given: dense keeps failing behind a breaker that trips after 2 failures
	dense, sparse, _, _ := fourSources()
	dense.err = errors.New("down")
	c := NewCoordinator([]Retriever{dense, sparse}, WithBreakers(amerrors.WithMaxFailures(2)))
	req := FanoutRequest{Weights: IntentWeights{Dense: 0.5, Sparse: 0.5}, Deadline: time.Second}

	for i := 0; i < 2; i++ {
		_, err := c.Run(context.Background(), req)
		require.NoError(t, err)
	}

	// When: running again
	res, err := c.Run(context.Background(), req)

	// Then: dense is not called and reported as circuit_open
	require.NoError(t, err)
	assert.Equal(t, int32(2), dense.calls.Load())
	assert.Equal(t, StateCircuitOpen, statusOf(res, SourceDense).State)
	assert.Equal(t, amerrors.StateOpen, c.Breaker(SourceDense).State())
}

type recordingObserver struct {
	noopObserver
	sources chan SourceState
}

func (r *recordingObserver) ObserveSource(_ Source, state SourceState, _ time.Duration, _ int) {
	r.sources <- state
}

func TestCoordinator_ObservesEverySource(t *testing.T) {
	dense, sparse, _, _ := fourSources()
	sparse.err = errors.New("down")
	obs := &recordingObserver{sources: make(chan SourceState, 4)}
	c := NewCoordinator([]Retriever{dense, sparse}, WithObserver(obs))

	_, err := c.Run(context.Background(), FanoutRequest{
		Weights:  IntentWeights{Dense: 0.5, Sparse: 0.5},
		Deadline: time.Second,
	})
	require.NoError(t, err)
	close(obs.sources)

	var states []SourceState
	for s := range obs.sources {
		states = append(states, s)
	}
	assert.ElementsMatch(t, []SourceState{StateOK, StateUnavailable}, states)
}
