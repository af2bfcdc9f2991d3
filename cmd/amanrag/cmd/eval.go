package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/validation"
)

type evalOptions struct {
	jsonOut  bool
	minPass  float64
	deadline time.Duration
}

func newEvalCmd(root *rootOptions) *cobra.Command {
	var opts evalOptions

	cmd := &cobra.Command{
		Use:   "eval <queries.yaml>",
		Short: "Run a golden query set against the loaded corpus",
		Long: `Run tier 1, tier 2 and negative golden queries and report whether the
expected chunk ids appear in the fused results. The command fails when the
tier 1 pass rate is below --min-pass.

Examples:
  amanrag eval testdata/golden.yaml
  amanrag eval golden.yaml --min-pass 1 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd.Context(), cmd, root, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output as JSON")
	cmd.Flags().Float64Var(&opts.minPass, "min-pass", 0.5, "Minimum tier 1 pass rate (0-1)")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 0, "Per-query latency budget (0 = configured default)")
	return cmd
}

func runEval(ctx context.Context, cmd *cobra.Command, root *rootOptions, path string, opts evalOptions) error {
	if opts.minPass < 0 || opts.minPass > 1 {
		return fmt.Errorf("--min-pass must be between 0 and 1, got %g", opts.minPass)
	}
	queries, err := validation.LoadQueries(path)
	if err != nil {
		return err
	}
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	root.setupCommandLogging(cfg)

	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res := validation.NewValidator(a.engine, opts.deadline).RunAll(ctx, queries)

	if opts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printEval(cmd.OutOrStdout(), res)
	}

	if rate := res.Tier1PassRate(); rate < opts.minPass {
		return fmt.Errorf("tier 1 pass rate %.0f%% is below minimum %.0f%%", rate*100, opts.minPass*100)
	}
	return nil
}

func printEval(w io.Writer, res *validation.ValidationResult) {
	section := func(title string, results []validation.TestResult, pass, total int) {
		if total == 0 {
			return
		}
		_, _ = fmt.Fprintf(w, "%s: %d/%d passed\n", title, pass, total)
		for _, r := range results {
			status := "PASS"
			if !r.Passed {
				status = "FAIL"
			}
			line := fmt.Sprintf("  [%s] %s %s", status, r.Spec.ID, r.Spec.Name)
			switch {
			case r.Error != "":
				line += " (error: " + r.Error + ")"
			case r.Passed && r.MatchedAt >= 0:
				line += fmt.Sprintf(" (rank %d, %s)", r.MatchedAt+1, r.Duration.Round(time.Millisecond))
			case !r.Passed:
				line += " (got: " + strings.Join(r.TopResults, ", ") + ")"
			}
			if len(r.Degraded) > 0 {
				line += " degraded: " + strings.Join(r.Degraded, ", ")
			}
			_, _ = fmt.Fprintln(w, strings.TrimRight(line, " "))
		}
		_, _ = fmt.Fprintln(w)
	}

	section("Tier 1", res.Tier1, res.Tier1Pass, res.Tier1Total)
	section("Tier 2", res.Tier2, res.Tier2Pass, res.Tier2Total)
	section("Negative", res.Negative, res.NegPass, res.NegTotal)
}
