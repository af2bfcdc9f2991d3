package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/expand"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// IntentOverride is the intent label reported when the caller supplies weights.
const IntentOverride = "override"

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{0,64}$`)

// EngineConfig configures the fusion engine. A copy is taken at the start of
// each query, so SetConfig never affects a query in flight.
type EngineConfig struct {
	// DefaultTopK is used when a query does not set TopK (default: 10).
	DefaultTopK int

	// MaxTopK is the largest accepted TopK (default: 100).
	MaxTopK int

	// SourceLimit is how many candidates each source is asked for (default: 50).
	SourceLimit int

	// RRFConstant is the fusion constant k (default: 60).
	RRFConstant int

	// Deadline is the default latency budget (default: 500ms).
	Deadline time.Duration

	// MaxDeadline caps per-query deadlines (default: 5s).
	MaxDeadline time.Duration

	// MaxQueryLength is the longest accepted query in bytes (default: 2048).
	MaxQueryLength int

	// AllowedNamespaces restricts queries to known namespaces. Empty allows any
	// well-formed namespace.
	AllowedNamespaces []string

	// DefaultWeights apply when there is no classifier or it fails.
	DefaultWeights IntentWeights
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		DefaultTopK:    10,
		MaxTopK:        100,
		SourceLimit:    50,
		RRFConstant:    DefaultRRFConstant,
		Deadline:       DefaultDeadline,
		MaxDeadline:    5 * time.Second,
		MaxQueryLength: 2048,
		DefaultWeights: DefaultWeights(),
	}
}

// Validate checks the configuration.
func (c EngineConfig) Validate() error {
	switch {
	case c.DefaultTopK < 1:
		return fmt.Errorf("default_top_k must be positive, got %d", c.DefaultTopK)
	case c.MaxTopK < c.DefaultTopK:
		return fmt.Errorf("max_top_k (%d) must be >= default_top_k (%d)", c.MaxTopK, c.DefaultTopK)
	case c.SourceLimit < 1:
		return fmt.Errorf("source_limit must be positive, got %d", c.SourceLimit)
	case c.RRFConstant < 1:
		return fmt.Errorf("rrf_k must be positive, got %d", c.RRFConstant)
	case c.Deadline <= 0:
		return fmt.Errorf("deadline must be positive, got %s", c.Deadline)
	case c.MaxDeadline < c.Deadline:
		return fmt.Errorf("max_deadline (%s) must be >= deadline (%s)", c.MaxDeadline, c.Deadline)
	case c.MaxQueryLength < 1:
		return fmt.Errorf("max_query_length must be positive, got %d", c.MaxQueryLength)
	}
	for _, ns := range c.AllowedNamespaces {
		if !namespacePattern.MatchString(ns) {
			return fmt.Errorf("allowed namespace %q is malformed", ns)
		}
	}
	return c.DefaultWeights.Validate()
}

// Engine answers retrieval requests by fanning out to the sources, fusing
// the surviving lists and assembling the result set.
type Engine struct {
	coordinator *Coordinator
	expander    EntityExpander
	classifier  IntentClassifier
	observer    Observer
	breakerOpts []amerrors.CircuitBreakerOption
	retrievers  []Retriever

	config atomic.Pointer[EngineConfig]
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithClassifier sets the intent classifier that picks weights per query.
func WithClassifier(c IntentClassifier) EngineOption {
	return func(e *Engine) {
		e.classifier = c
	}
}

// WithExpander sets the entity expander feeding the graph sources. Without
// one, graph sources receive the query keywords as entities.
func WithExpander(x EntityExpander) EngineOption {
	return func(e *Engine) {
		e.expander = x
	}
}

// WithEngineObserver records source and query metrics.
func WithEngineObserver(o Observer) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithCircuitBreakers guards each source with a circuit breaker.
func WithCircuitBreakers(opts ...amerrors.CircuitBreakerOption) EngineOption {
	return func(e *Engine) {
		if opts == nil {
			opts = []amerrors.CircuitBreakerOption{}
		}
		e.breakerOpts = opts
	}
}

// NewEngine creates an engine over the given retrievers.
func NewEngine(retrievers []Retriever, cfg EngineConfig, opts ...EngineOption) (*Engine, error) {
	var live []Retriever
	for _, r := range retrievers {
		if r != nil {
			live = append(live, r)
		}
	}
	if len(live) == 0 {
		return nil, fmt.Errorf("%w: at least one retriever is required", ErrNilDependency)
	}
	if err := cfg.Validate(); err != nil {
		return nil, amerrors.ConfigError("invalid engine config", err)
	}

	e := &Engine{retrievers: live, observer: noopObserver{}}
	for _, opt := range opts {
		opt(e)
	}

	copts := []CoordinatorOption{WithObserver(e.observer)}
	if e.breakerOpts != nil {
		copts = append(copts, WithBreakers(e.breakerOpts...))
	}
	e.coordinator = NewCoordinator(live, copts...)
	e.config.Store(&cfg)
	return e, nil
}

// Config returns the configuration used by new queries.
func (e *Engine) Config() EngineConfig {
	return *e.config.Load()
}

// SetConfig swaps the configuration for queries that start afterwards.
func (e *Engine) SetConfig(cfg EngineConfig) error {
	if err := cfg.Validate(); err != nil {
		return amerrors.ConfigError("invalid engine config", err)
	}
	e.config.Store(&cfg)
	return nil
}

// Coordinator exposes the fan-out coordinator, mainly for breaker inspection.
func (e *Engine) Coordinator() *Coordinator {
	return e.coordinator
}

// Retrieve runs one query end to end.
//
// Errors: InvalidQuery for a rejected query, Canceled when ctx is canceled,
// AllSourcesFailed when every source failed or missed the deadline. No
// result set accompanies an error.
func (e *Engine) Retrieve(ctx context.Context, q Query) (*FusedResultSet, error) {
	start := time.Now()
	cfg := e.Config()

	q, err := normalizeQuery(q, cfg)
	if err != nil {
		e.recordFailure(q, "", err, start)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		cerr := amerrors.Canceled(err)
		e.recordFailure(q, "", cerr, start)
		return nil, cerr
	}

	// classification spends from the same budget as the sources
	deadlineAt := start.Add(effectiveDeadline(q, cfg))
	cctx, cancel := context.WithDeadline(ctx, deadlineAt)
	weights, intent := e.resolveWeights(cctx, q, cfg)
	cancel()

	logger := slog.With(slog.String("request_id", q.RequestID))
	logger.Debug("retrieval started",
		slog.String("namespace", q.Namespace),
		slog.String("intent", intent),
		slog.String("weights", weights.String()))

	expandFn := func(ctx context.Context) (*expand.EntitySet, error) {
		if e.expander == nil {
			set := expand.NewEntitySet(0)
			set.AddAll(store.Keywords(q.Text, 0), expand.ProvenanceExtracted)
			return set, nil
		}
		return e.expander.Expand(ctx, q.Text, q.Namespace, q.Overrides)
	}

	out, err := e.coordinator.Run(ctx, FanoutRequest{
		Query:      q,
		Weights:    weights,
		Limit:      cfg.SourceLimit,
		DeadlineAt: deadlineAt,
		Expand:     expandFn,
	})
	if err != nil {
		logger.Warn("retrieval failed", slog.String("error", err.Error()))
		e.recordFailure(q, intent, err, start)
		return nil, err
	}

	fused := NewRRFFusionWithK(cfg.RRFConstant).Fuse(out.Lists, out.Weights)
	items := Assemble(fused, q.TopK)

	result := &FusedResultSet{
		RequestID: q.RequestID,
		Query:     q.Text,
		Namespace: q.Namespace,
		Intent:    intent,
		Weights:   out.Weights,
		Entities:  out.Entities.Entities(),
		items:     items,
		statuses:  out.Statuses,
		took:      time.Since(start),
	}

	outcome := "ok"
	if len(result.Degraded()) > 0 {
		outcome = "degraded"
		logger.Info("retrieval degraded",
			slog.Any("degraded", result.Degraded()),
			slog.String("weights", out.Weights.String()))
	}
	e.observer.ObserveQuery(QueryEvent{
		RequestID: q.RequestID,
		Namespace: q.Namespace,
		Intent:    intent,
		Outcome:   outcome,
		Latency:   result.took,
		Results:   len(items),
		Degraded:  result.Degraded(),
		Entities:  out.Entities.CountByProvenance(),
		Timestamp: start,
	})
	logger.Debug("retrieval completed",
		slog.Int("results", len(items)),
		slog.Duration("took", result.took))
	return result, nil
}

func (e *Engine) recordFailure(q Query, intent string, err error, start time.Time) {
	e.observer.ObserveQuery(QueryEvent{
		RequestID: q.RequestID,
		Namespace: q.Namespace,
		Intent:    intent,
		Outcome:   amerrors.GetCode(err),
		Latency:   time.Since(start),
		Timestamp: start,
	})
}

// resolveWeights prefers caller weights, then the classifier, then defaults.
func (e *Engine) resolveWeights(ctx context.Context, q Query, cfg EngineConfig) (IntentWeights, string) {
	if q.Weights != nil {
		return *q.Weights, IntentOverride
	}
	if e.classifier == nil {
		return cfg.DefaultWeights, "default"
	}

	c, err := e.classifier.Classify(ctx, q.Text)
	if err != nil {
		slog.Debug("intent classification failed, using default weights", slog.String("error", err.Error()))
		return cfg.DefaultWeights, "default"
	}
	if err := c.Weights.Validate(); err != nil {
		slog.Warn("classifier returned invalid weights, using defaults",
			slog.String("intent", c.Label),
			slog.String("error", err.Error()))
		return cfg.DefaultWeights, "default"
	}
	return c.Weights, c.Label
}

// normalizeQuery validates q and fills defaults.
func normalizeQuery(q Query, cfg EngineConfig) (Query, error) {
	if q.RequestID == "" {
		q.RequestID = uuid.NewString()
	}
	q.Text = strings.TrimSpace(q.Text)
	q.Namespace = strings.TrimSpace(q.Namespace)

	if q.Text == "" {
		return q, amerrors.InvalidQuery(amerrors.ErrCodeQueryEmpty, "query text is empty")
	}
	if !utf8.ValidString(q.Text) {
		return q, amerrors.InvalidQuery("", "query text is not valid UTF-8")
	}
	if len(q.Text) > cfg.MaxQueryLength {
		return q, amerrors.InvalidQuery(amerrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query is %d bytes, limit is %d", len(q.Text), cfg.MaxQueryLength))
	}
	if !namespacePattern.MatchString(q.Namespace) {
		return q, amerrors.InvalidQuery(amerrors.ErrCodeInvalidNamespace,
			fmt.Sprintf("namespace %q is malformed", q.Namespace))
	}
	if len(cfg.AllowedNamespaces) > 0 && !containsString(cfg.AllowedNamespaces, q.Namespace) {
		return q, amerrors.InvalidQuery(amerrors.ErrCodeInvalidNamespace,
			fmt.Sprintf("namespace %q is not supported", q.Namespace))
	}

	switch {
	case q.TopK < 0 || q.TopK > cfg.MaxTopK:
		return q, amerrors.InvalidQuery("",
			fmt.Sprintf("top_k must be between 1 and %d, got %d", cfg.MaxTopK, q.TopK))
	case q.TopK == 0:
		q.TopK = cfg.DefaultTopK
	}

	if q.Deadline < 0 {
		return q, amerrors.InvalidQuery("", "deadline must not be negative")
	}
	if q.Weights != nil {
		if err := q.Weights.Validate(); err != nil {
			return q, err
		}
	}
	return q, nil
}

func effectiveDeadline(q Query, cfg EngineConfig) time.Duration {
	d := q.Deadline
	if d == 0 {
		d = cfg.Deadline
	}
	if d > cfg.MaxDeadline {
		d = cfg.MaxDeadline
	}
	return d
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
