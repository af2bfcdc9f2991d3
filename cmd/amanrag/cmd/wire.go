package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/expand"
	"github.com/Aman-CERP/amanrag/internal/intent"
	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/retrieval"
	"github.com/Aman-CERP/amanrag/internal/source"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// stores are the opened backends. Exactly one of hnsw+bleve or pg is set.
type stores struct {
	hnsw  *store.HNSWStore
	bleve *store.BleveSparseStore
	pg    *store.PGVectorStore
	graph *store.SQLiteGraphStore
}

func (s *stores) dense() store.DenseStore {
	if s.pg != nil {
		return s.pg
	}
	return s.hnsw
}

func (s *stores) sparse() store.SparseStore {
	if s.pg != nil {
		return s.pg
	}
	return s.bleve
}

func (s *stores) Close() error {
	var errs []error
	if s.hnsw != nil {
		errs = append(errs, s.hnsw.Close())
	}
	if s.bleve != nil {
		errs = append(errs, s.bleve.Close())
	}
	if s.pg != nil {
		errs = append(errs, s.pg.Close())
	}
	if s.graph != nil {
		errs = append(errs, s.graph.Close())
	}
	return errors.Join(errs...)
}

// openStores opens the configured backends. dims is the embedder's
// dimension; a local dense snapshot of another dimension is an error.
func openStores(ctx context.Context, cfg *config.Config, dims int) (*stores, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeStoreUnavailable, "cannot create data directory", err).
			WithDetail("data_dir", cfg.DataDir)
	}

	s := &stores{}
	var err error
	s.graph, err = store.NewSQLiteGraphStore(cfg.GraphPath())
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}

	if cfg.Stores.Vector == "pgvector" {
		s.pg, err = store.OpenPGVectorStore(cfg.Stores.PostgresDSN, store.PGVectorConfig{
			Table:      cfg.Stores.PostgresTable,
			Dimensions: dims,
		})
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open pgvector store: %w", err)
		}
		return s, nil
	}

	s.hnsw, err = openHNSW(ctx, cfg, dims)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.bleve, err = store.NewBleveSparseStore(cfg.SparsePath())
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open sparse store: %w", err)
	}
	return s, nil
}

func openHNSW(ctx context.Context, cfg *config.Config, dims int) (*store.HNSWStore, error) {
	path := cfg.DensePath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		hc := store.DefaultHNSWConfig(dims)
		hc.M = cfg.Stores.HNSWM
		hc.EfSearch = cfg.Stores.HNSWEfSearch
		return store.NewHNSWStore(hc)
	}

	st, err := store.LoadHNSWStore(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load dense store: %w", err)
	}
	if got := st.Dimensions(); got != dims {
		_ = st.Close()
		return nil, amerrors.New(amerrors.ErrCodeDimensionMismatch, "dense snapshot was built with another embedding model",
			store.ErrDimensionMismatch{Expected: dims, Got: got}).
			WithDetail("path", path).
			WithSuggestion("Reload the corpus with 'amanrag load' or restore the previous embeddings model")
	}
	return st, nil
}

// app is a fully wired engine with everything it owns.
type app struct {
	cfg      *config.Config
	engine   *retrieval.Engine
	expander *expand.Expander
	embedder embed.Embedder
	stores   *stores
}

// buildApp wires embedder, generator, stores, sources, expander and
// classifier into an engine. observer may be nil.
func buildApp(ctx context.Context, cfg *config.Config, observer retrieval.Observer) (*app, error) {
	embedder, err := embed.NewEmbedder(ctx, cfg.EmbedConfig())
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	a := &app{cfg: cfg, embedder: embedder}

	a.stores, err = openStores(ctx, cfg, embedder.Dimensions())
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	if err := a.wire(observer); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(observer retrieval.Observer) error {
	cfg := a.cfg

	dense, err := source.NewDense(a.embedder, a.stores.dense())
	if err != nil {
		return err
	}
	sparse, err := source.NewSparse(source.TermWeightEncoder{}, a.stores.sparse())
	if err != nil {
		return err
	}
	local, err := source.NewGraphLocal(a.stores.graph)
	if err != nil {
		return err
	}
	global, err := source.NewGraphGlobal(a.stores.graph)
	if err != nil {
		return err
	}

	var (
		client *llm.Client
		gen    expand.TextGenerator
	)
	if cfg.LLM.Enabled {
		client = llm.NewClient(cfg.LLMClientConfig())
		gen = llm.NewCachedGenerator(llm.NewOllamaGenerator(client), cfg.LLM.CacheSize)
	}

	xc, err := cfg.ExpansionConfig()
	if err != nil {
		return err
	}
	a.expander, err = expand.NewExpander(gen, a.stores.graph, a.embedder, xc)
	if err != nil {
		return err
	}

	ec, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	failures, reset, err := cfg.BreakerSettings()
	if err != nil {
		return err
	}
	opts := []retrieval.EngineOption{
		retrieval.WithExpander(a.expander),
		retrieval.WithCircuitBreakers(amerrors.WithMaxFailures(failures), amerrors.WithResetTimeout(reset)),
	}
	classifier, err := newClassifier(cfg, client)
	if err != nil {
		return err
	}
	if classifier != nil {
		opts = append(opts, retrieval.WithClassifier(classifier))
	}
	if observer != nil {
		opts = append(opts, retrieval.WithEngineObserver(observer))
	}

	a.engine, err = retrieval.NewEngine([]retrieval.Retriever{dense, sparse, local, global}, ec, opts...)
	if err != nil {
		return err
	}

	slog.Info("engine_ready",
		slog.String("embedder", a.embedder.ModelName()),
		slog.Int("dimensions", a.embedder.Dimensions()),
		slog.String("vector_store", cfg.Stores.Vector),
		slog.Bool("llm", cfg.LLM.Enabled),
		slog.String("classifier", cfg.Intent.Classifier))
	return nil
}

// newClassifier returns nil for "none".
func newClassifier(cfg *config.Config, client *llm.Client) (retrieval.IntentClassifier, error) {
	presets, err := cfg.IntentPresets()
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Intent.Classifier) {
	case "none":
		return nil, nil
	case "pattern":
		return intent.NewPatternClassifier(presets), nil
	case "llm":
		if client == nil {
			return nil, fmt.Errorf("intent.classifier 'llm' requires llm.enabled")
		}
		return intent.NewLLMClassifier(client, presets), nil
	default:
		var inner retrieval.IntentClassifier
		if client != nil {
			inner = intent.NewLLMClassifier(client, presets)
		}
		return intent.NewHybridClassifier(inner, presets, cfg.Intent.CacheSize), nil
	}
}

// apply swaps in the reloadable parts of cfg. Store and model settings
// need a restart and are only reported.
func (a *app) apply(cfg *config.Config) error {
	ec, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	xc, err := cfg.ExpansionConfig()
	if err != nil {
		return err
	}
	if err := a.engine.SetConfig(ec); err != nil {
		return err
	}
	if err := a.expander.SetConfig(xc); err != nil {
		return err
	}

	if cfg.Stores != a.cfg.Stores || cfg.Embeddings != a.cfg.Embeddings ||
		cfg.LLM != a.cfg.LLM || cfg.DataDir != a.cfg.DataDir {
		slog.Warn("config_restart_required",
			slog.String("reason", "store, embedding or llm settings changed"))
	}
	slog.Info("config_applied",
		slog.Int("rrf_k", ec.RRFConstant),
		slog.Duration("deadline", ec.Deadline),
		slog.Int("hops", xc.Hops))
	return nil
}

// Close releases the stores and the embedder.
func (a *app) Close() error {
	var errs []error
	if a.stores != nil {
		errs = append(errs, a.stores.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	return errors.Join(errs...)
}
