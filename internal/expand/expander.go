package expand

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/Aman-CERP/amanrag/internal/store"
)

// maxEntityLength drops generator output that is clearly not an entity name.
const maxEntityLength = 100

// TextGenerator extracts entities and proposes synonyms.
type TextGenerator interface {
	ExtractEntities(ctx context.Context, text string) ([]string, error)
	GenerateSynonyms(ctx context.Context, entity string, max int) ([]string, error)
}

// HopExpander returns the entity names reachable within hops of the given
// entities, excluding the inputs, in a deterministic order.
type HopExpander interface {
	ExpandHops(ctx context.Context, names []string, hops int, namespace string) ([]string, error)
}

// Embedder embeds a batch of texts, one vector per text.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrNilDependency is returned by NewExpander when no stage can run.
var ErrNilDependency = errors.New("nil dependency")

// Expander runs the four expansion stages. It is safe for concurrent use.
type Expander struct {
	gen   TextGenerator
	graph HopExpander
	emb   Embedder
	cfg   atomic.Pointer[Config]

	seedFromQuery bool
}

// Option configures an Expander.
type Option func(*Expander)

// WithQuerySeeds controls whether the synonym stage falls back to keywords of
// the query when nothing else produced an entity. Enabled by default.
func WithQuerySeeds(enabled bool) Option {
	return func(e *Expander) {
		e.seedFromQuery = enabled
	}
}

// NewExpander creates an expander. Any collaborator may be nil; its stage is
// then skipped. The text generator is required for anything to be extracted,
// so a nil generator with query seeds disabled is rejected.
func NewExpander(gen TextGenerator, graph HopExpander, emb Embedder, cfg Config, opts ...Option) (*Expander, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Expander{gen: gen, graph: graph, emb: emb, seedFromQuery: true}
	for _, opt := range opts {
		opt(e)
	}
	if gen == nil && !e.seedFromQuery {
		return nil, fmt.Errorf("%w: text generator is required when query seeds are disabled", ErrNilDependency)
	}
	e.cfg.Store(&cfg)
	return e, nil
}

// Config returns the current configuration.
func (e *Expander) Config() Config {
	return *e.cfg.Load()
}

// SetConfig replaces the configuration for subsequent queries.
func (e *Expander) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg.Store(&cfg)
	return nil
}

// Expand builds the entity set for a query. The result is deterministic for
// identical collaborator responses. The only error is ctx.Err().
func (e *Expander) Expand(ctx context.Context, text, namespace string, ov Overrides) (*EntitySet, error) {
	cfg := ov.Apply(e.Config())
	set := NewEntitySet(cfg.MaxEntities)

	// Stage 1: extraction
	extracted := e.extract(ctx, cfg, text)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set.AddAll(extracted, ProvenanceExtracted)

	// Stage 2: graph hops from the extracted entities
	if e.graph != nil && set.Len() > 0 && !set.Full() {
		neighbors := e.hops(ctx, cfg, set.Names(), namespace)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		set.AddAll(neighbors, ProvenanceGraphHop)
	}

	// Stage 3: synonym fallback
	if set.Len() < cfg.MinEntities {
		e.synonyms(ctx, cfg, text, set)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	// Stage 4: semantic rerank
	if cfg.RerankEnabled && e.emb != nil && set.Len() > 0 {
		reranked, err := e.Rerank(ctx, text, set, cfg.RerankTopK)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			slog.Debug("entity rerank failed, keeping pre-rerank order", slog.String("error", err.Error()))
		} else {
			set = reranked
		}
	}

	slog.Debug("entities expanded",
		slog.Int("count", set.Len()),
		slog.Int("extracted", len(set.WithProvenance(ProvenanceExtracted))),
		slog.Int("graph_hop", len(set.WithProvenance(ProvenanceGraphHop))),
		slog.Int("synonym", len(set.WithProvenance(ProvenanceSynonym))))
	return set, nil
}

// stageContext applies the per-stage timeout, if any.
func stageContext(ctx context.Context, cfg Config) (context.Context, context.CancelFunc) {
	if cfg.StageTimeout > 0 {
		return context.WithTimeout(ctx, cfg.StageTimeout)
	}
	return context.WithCancel(ctx)
}

func (e *Expander) extract(ctx context.Context, cfg Config, text string) []string {
	if e.gen == nil {
		return nil
	}
	sctx, cancel := stageContext(ctx, cfg)
	defer cancel()

	names, err := e.gen.ExtractEntities(sctx, text)
	if err != nil {
		slog.Debug("entity extraction failed", slog.String("error", err.Error()))
		return nil
	}
	return sanitize(names)
}

func (e *Expander) hops(ctx context.Context, cfg Config, seeds []string, namespace string) []string {
	sctx, cancel := stageContext(ctx, cfg)
	defer cancel()

	names, err := e.graph.ExpandHops(sctx, seeds, clamp(cfg.Hops, MinHops, MaxHops), namespace)
	if err != nil {
		slog.Debug("graph hop expansion failed", slog.String("error", err.Error()))
		return nil
	}
	return sanitize(names)
}

// synonyms asks for synonyms of the first two entities. With an empty set it
// seeds from the query keywords, which are added themselves as fallback
// entities.
func (e *Expander) synonyms(ctx context.Context, cfg Config, text string, set *EntitySet) {
	seeds := synonymSeeds(set)
	if len(seeds) == 0 && e.seedFromQuery {
		seeds = store.Keywords(text, seedCount)
		set.AddAll(seeds, ProvenanceSynonym)
	}
	if e.gen == nil {
		return
	}

	for _, seed := range seeds {
		if set.Full() || ctx.Err() != nil {
			return
		}
		sctx, cancel := stageContext(ctx, cfg)
		syns, err := e.gen.GenerateSynonyms(sctx, seed, cfg.MaxSynonyms)
		cancel()
		if err != nil {
			slog.Debug("synonym generation failed",
				slog.String("entity", seed),
				slog.String("error", err.Error()))
			continue
		}
		syns = sanitize(syns)
		if len(syns) > cfg.MaxSynonyms {
			syns = syns[:cfg.MaxSynonyms]
		}
		set.AddAll(syns, ProvenanceSynonym)
	}
}

// synonymSeeds picks the first two entities, extracted ones first.
func synonymSeeds(set *EntitySet) []string {
	seeds := set.WithProvenance(ProvenanceExtracted)
	if len(seeds) < seedCount {
		for _, name := range set.Names() {
			if len(seeds) >= seedCount {
				break
			}
			if !containsName(seeds, name) {
				seeds = append(seeds, name)
			}
		}
	}
	if len(seeds) > seedCount {
		seeds = seeds[:seedCount]
	}
	return seeds
}

func containsName(names []string, name string) bool {
	key := Normalize(name)
	for _, n := range names {
		if Normalize(n) == key {
			return true
		}
	}
	return false
}

// Rerank orders set by cosine similarity to the query and keeps the first
// topK. Equal similarities keep their current order, so reranking a set that
// is already sorted is a no-op. On error the input set is left untouched.
func (e *Expander) Rerank(ctx context.Context, query string, set *EntitySet, topK int) (*EntitySet, error) {
	if e.emb == nil {
		return nil, fmt.Errorf("%w: embedder is required for rerank", ErrNilDependency)
	}
	names := set.Names()
	texts := append([]string{query}, names...)

	vecs, err := e.emb.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed entities: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	queryVec := vecs[0]
	scored := set.clone()
	for i := range scored.items {
		sim, err := cosine(queryVec, vecs[i+1])
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", names[i], err)
		}
		scored.items[i].Score = sim
		scored.items[i].Provenance = ProvenanceReranked
	}

	sort.SliceStable(scored.items, func(i, j int) bool {
		return scored.items[i].Score > scored.items[j].Score
	})

	if topK > 0 && len(scored.items) > topK {
		for _, dropped := range scored.items[topK:] {
			delete(scored.index, Normalize(dropped.Name))
		}
		scored.items = scored.items[:topK]
	}
	return scored, nil
}

func cosine(a, b []float32) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// sanitize trims names and drops blanks and overlong strings.
func sanitize(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || len(n) > maxEntityLength {
			continue
		}
		out = append(out, n)
	}
	return out
}
