package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/preflight"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// errChecksFailed is returned when a required check fails.
var errChecksFailed = errors.New("system checks failed")

func newDoctorCmd(root *rootOptions) *cobra.Command {
	var verbose, jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the host and the configured dependencies",
		Long: `Check disk space, data directory permissions and file descriptor
limits, then probe the embedding model, the generation model and, when
configured, Postgres. A required failure exits non-zero.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			deps, cleanup := dependencies(cmd.Context(), cfg)
			defer cleanup()

			checker := preflight.New(preflight.WithOutput(cmd.OutOrStdout()), preflight.WithVerbose(verbose))
			results := checker.RunAll(cmd.Context(), cfg.DataDir, deps)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(map[string]any{
					"status": preflight.SummaryStatus(results),
					"checks": results,
				}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if preflight.HasCriticalFailures(results) {
				return errChecksFailed
			}
			if err := preflight.MarkPassed(cfg.DataDir); err != nil {
				slog.Warn("preflight_marker_failed", slog.String("error", err.Error()))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for each check")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// dependencies constructs the external services named by cfg for probing.
func dependencies(ctx context.Context, cfg *config.Config) ([]preflight.Dependency, func()) {
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	ec := cfg.EmbedConfig()
	ec.CacheSize = -1
	embedDep := preflight.Dependency{Name: "embedder", Target: string(ec.Provider), Required: true}
	if e, err := embed.NewEmbedder(ctx, ec); err != nil {
		embedDep.Err = err
	} else {
		embedDep.Pinger = e
		embedDep.Target = e.ModelName()
		closers = append(closers, func() { _ = e.Close() })
	}
	deps := []preflight.Dependency{embedDep}

	if cfg.LLM.Enabled {
		client := llm.NewClient(cfg.LLMClientConfig())
		deps = append(deps, preflight.Dependency{
			Name:     "llm",
			Target:   client.Model(),
			Pinger:   client,
			Required: cfg.Intent.Classifier == "llm",
		})
	}

	if cfg.Stores.Vector == "pgvector" {
		pgDep := preflight.Dependency{Name: "postgres", Target: cfg.Stores.PostgresTable, Required: true}
		dims := cfg.Embeddings.Dimensions
		if dims <= 0 {
			dims = 1
		}
		if pg, err := store.OpenPGVectorStore(cfg.Stores.PostgresDSN, store.PGVectorConfig{
			Table: cfg.Stores.PostgresTable, Dimensions: dims,
		}); err != nil {
			pgDep.Err = err
		} else {
			pgDep.Pinger = pg
			closers = append(closers, func() { _ = pg.Close() })
		}
		deps = append(deps, pgDep)
	}
	return deps, cleanup
}

// preflightOnce runs the host checks before serving unless they passed
// recently. Results are logged, never printed.
func preflightOnce(dataDir string) error {
	if !preflight.NeedsCheck(dataDir, preflight.MarkerMaxAge) {
		return nil
	}
	results := preflight.New().RunSystem(dataDir)
	for _, r := range results {
		slog.Info("preflight_check",
			slog.String("name", r.Name),
			slog.String("status", r.Status.String()),
			slog.String("message", r.Message))
	}
	if preflight.HasCriticalFailures(results) {
		return errChecksFailed
	}
	return preflight.MarkPassed(dataDir)
}
