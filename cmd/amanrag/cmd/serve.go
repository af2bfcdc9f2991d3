package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/mcp"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// TelemetryFileName is the daily aggregate database under the data dir.
const TelemetryFileName = "telemetry.db"

// queryLogFlushInterval is how often daily aggregates are persisted.
const queryLogFlushInterval = time.Minute

type serveOptions struct {
	transport   string
	addr        string
	metricsAddr string
	noWatch     bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the retrieve tool over MCP",
		Long: `Start an MCP server exposing the retrieve and retrieval_stats tools.

With the stdio transport nothing but protocol messages is written to stdout
or stderr; logs go to ~/.amanrag/logs. Configuration files are watched and
retrieval settings are applied without a restart.

Examples:
  amanrag serve
  amanrag serve --transport http --addr :8765 --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "stdio", "Transport: stdio or http")
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8765", "Listen address for the http transport")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Prometheus listen address (overrides server.metrics_addr)")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "Do not reload configuration on change")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts serveOptions) error {
	if opts.transport != "stdio" && opts.transport != "http" {
		return fmt.Errorf("unknown transport: %s (supported: stdio, http)", opts.transport)
	}
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	root.setupCommandLogging(cfg)
	if err := preflightOnce(cfg.DataDir); err != nil {
		return fmt.Errorf("%w: run 'amanrag doctor' for details", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.NewMetrics(nil)
	tstore, err := telemetry.OpenSQLiteStore(filepath.Join(cfg.DataDir, TelemetryFileName))
	if err != nil {
		return err
	}
	defer func() { _ = tstore.Close() }()
	qlog := telemetry.NewQueryLog(cfg.Server.QueryLog, tstore)

	a, err := buildApp(ctx, cfg, telemetry.Multi{metrics, qlog})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("close_failed", slog.String("error", err.Error()))
		}
	}()

	srv, err := mcp.NewServer(a.engine, mcp.WithStats(qlog), mcp.WithLogger(slog.Default()))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		qlog.Run(runCtx, queryLogFlushInterval)
		return nil
	})

	metricsAddr := cfg.Server.MetricsAddr
	if opts.metricsAddr != "" {
		metricsAddr = opts.metricsAddr
	}
	if metricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(runCtx, metricsAddr, metrics.Handler())
		})
	}

	if !opts.noWatch {
		w, err := config.NewWatcher(watchedFiles(root), root.loadConfig, func(next *config.Config) {
			if err := a.apply(next); err != nil {
				slog.Warn("config_apply_failed", slog.String("error", err.Error()))
			}
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(runCtx) })
	}

	g.Go(func() error {
		// The server ending (stdin closed, signal) stops everything else.
		defer cancel()
		return srv.Serve(runCtx, opts.transport, opts.addr)
	})

	return g.Wait()
}

// watchedFiles are the configuration files whose changes trigger a reload.
func watchedFiles(root *rootOptions) []string {
	if root.configFile != "" {
		return []string{root.configFile}
	}
	files := []string{config.GetUserConfigPath()}
	if p := config.ProjectConfigPath(root.dir); p != "" {
		files = append(files, p)
	} else {
		files = append(files, filepath.Join(root.dir, config.ProjectFileName))
	}
	return files
}

// serveMetrics exposes handler on addr/metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("metrics_listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
