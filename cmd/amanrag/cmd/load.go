package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/source"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/ui"
)

type loadOptions struct {
	lockTimeout time.Duration
	noTUI       bool
}

func newLoadCmd(root *rootOptions) *cobra.Command {
	var opts loadOptions

	cmd := &cobra.Command{
		Use:   "load <fixture>",
		Short: "Load a corpus fixture into the stores",
		Long: `Load chunks, entity relations and communities from a JSON or YAML
fixture into the configured stores. Chunks without a vector are embedded
with the configured model. Loading is idempotent: chunks are replaced by
namespace and id.

Examples:
  amanrag load corpus.yaml
  amanrag load corpus.json --lock-timeout 1m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), cmd, root, args[0], opts)
		},
	}

	cmd.Flags().DurationVar(&opts.lockTimeout, "lock-timeout", 10*time.Second, "How long to wait for another load to finish")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Plain progress lines even on a terminal")
	return cmd
}

func runLoad(ctx context.Context, cmd *cobra.Command, root *rootOptions, path string, opts loadOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	root.setupCommandLogging(cfg)
	color := output.ColorEnabled(cmd.OutOrStdout())
	out := output.NewWithColor(cmd.OutOrStdout(), color)

	if ctx == nil {
		ctx = context.Background()
	}
	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI), ui.WithNoColor(!color), ui.WithTitle(path)))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	stopRenderer := func() {
		if err := renderer.Stop(); err != nil {
			slog.Warn("renderer_stop_failed", slog.String("error", err.Error()))
		}
	}
	defer stopRenderer()

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageReading, Message: path})
	fx, err := store.ReadFixture(path)
	if err != nil {
		return err
	}

	lock := store.NewDirLock(cfg.DataDir)
	lockCtx, cancel := context.WithTimeout(ctx, opts.lockTimeout)
	err = lock.Acquire(lockCtx, 100*time.Millisecond)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("lock_release_failed", slog.String("error", err.Error()))
		}
	}()

	embedder, err := embed.NewEmbedder(ctx, cfg.EmbedConfig())
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	st, err := openStores(ctx, cfg, embedder.Dimensions())
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("close_failed", slog.String("error", err.Error()))
		}
	}()

	var embedStart time.Time
	var embedTime time.Duration
	targets := store.Targets{Graph: st.graph, Embedder: embedder}
	targets.Progress = func(p store.LoadProgress) {
		switch p.Stage {
		case store.LoadEmbedding:
			if p.Done == 0 {
				embedStart = time.Now()
			} else if p.Done == p.Total {
				embedTime = time.Since(embedStart)
			}
			renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEmbedding, Current: p.Done, Total: p.Total})
		case store.LoadWriting:
			renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageWriting, Current: p.Done, Total: p.Total, Message: p.Target})
		}
	}
	if st.pg != nil {
		if err := st.pg.Migrate(ctx); err != nil {
			return err
		}
		targets.Vector = st.pg
		targets.SparseEncode = func(text string) store.SparseVector {
			sv, _ := source.TermWeightEncoder{}.Encode(ctx, text)
			return sv
		}
	} else {
		targets.Dense = st.hnsw
		targets.Sparse = st.bleve
	}

	start := time.Now()
	stats, err := fx.Load(ctx, targets)
	if err != nil {
		return err
	}
	if st.hnsw != nil {
		if err := st.hnsw.Save(cfg.DensePath()); err != nil {
			return fmt.Errorf("save dense store: %w", err)
		}
	}

	took := time.Since(start)
	renderer.Complete(ui.CompletionStats{
		Chunks:      stats.Chunks,
		Embedded:    stats.Embedded,
		Relations:   stats.Relations,
		Communities: stats.Communities,
		Duration:    took,
		EmbedTime:   embedTime,
		Embedder:    ui.EmbedderInfo{Model: embedder.ModelName(), Dimensions: embedder.Dimensions()},
	})
	stopRenderer()

	slog.Info("fixture_loaded",
		slog.String("path", path),
		slog.Int("chunks", stats.Chunks),
		slog.Int("embedded", stats.Embedded),
		slog.Int("relations", stats.Relations),
		slog.Int("communities", stats.Communities),
		slog.Duration("took", took))

	out.Successf("Loaded %d chunks (%d embedded), %d relations, %d communities",
		stats.Chunks, stats.Embedded, stats.Relations, stats.Communities)
	out.Statusf(" ", "namespaces: %s", strings.Join(stats.Namespaces, ", "))
	out.Statusf(" ", "data dir: %s", cfg.DataDir)
	return nil
}
