package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// StatsOutput is the JSON output of the stats command.
type StatsOutput struct {
	From         string           `json:"from"`
	To           string           `json:"to"`
	TotalQueries int64            `json:"total_queries"`
	DegradedPct  float64          `json:"degraded_pct"`
	Outcomes     map[string]int64 `json:"outcomes"`
	Latency      map[string]int64 `json:"latency"`
	SourceStates map[string]int64 `json:"source_states"`
}

func newStatsCmd(root *rootOptions) *cobra.Command {
	var jsonOutput bool
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show retrieval statistics",
		Long: `Display daily retrieval telemetry recorded by 'amanrag serve':
query outcomes, the latency distribution and per-source states.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, root, jsonOutput, days)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")
	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, root *rootOptions, jsonOutput bool, days int) error {
	if days < 1 {
		return fmt.Errorf("--days must be positive, got %d", days)
	}
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.DataDir, TelemetryFileName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no telemetry found in %s\nRun 'amanrag serve' to record some", cfg.DataDir)
	}
	st, err := telemetry.OpenSQLiteStore(path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	now := time.Now().UTC()
	out, err := loadStats(ctx, st, now.AddDate(0, 0, -(days-1)), now)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	printStats(cmd.OutOrStdout(), out)
	return nil
}

func loadStats(ctx context.Context, st telemetry.Store, from, to time.Time) (*StatsOutput, error) {
	out := &StatsOutput{
		From:         from.Format(time.DateOnly),
		To:           to.Format(time.DateOnly),
		Outcomes:     map[string]int64{},
		Latency:      map[string]int64{},
		SourceStates: map[string]int64{},
	}
	agg, err := st.LoadDaily(ctx, out.From, out.To)
	if err != nil {
		return nil, err
	}
	for k, n := range agg.Outcomes {
		out.Outcomes[k] = n
		out.TotalQueries += n
	}
	for b, n := range agg.Latency {
		out.Latency[string(b)] = n
	}
	for k, n := range agg.SourceStates {
		out.SourceStates[k] = n
	}
	if out.TotalQueries > 0 {
		out.DegradedPct = 100 * float64(out.Outcomes["degraded"]) / float64(out.TotalQueries)
	}
	return out, nil
}

var latencyLabels = []struct {
	bucket telemetry.LatencyBucket
	label  string
}{
	{telemetry.BucketP10, "<10ms"},
	{telemetry.BucketP50, "10-50ms"},
	{telemetry.BucketP100, "50-100ms"},
	{telemetry.BucketP500, "100-500ms"},
	{telemetry.BucketP1000, ">=500ms"},
}

func printStats(w io.Writer, out *StatsOutput) {
	_, _ = fmt.Fprintf(w, "Retrieval Statistics (%s to %s)\n", out.From, out.To)
	_, _ = fmt.Fprintln(w, "=============================================")
	_, _ = fmt.Fprintf(w, "Total Queries: %d\n", out.TotalQueries)
	_, _ = fmt.Fprintf(w, "Degraded:      %.1f%%\n\n", out.DegradedPct)

	if out.TotalQueries == 0 {
		_, _ = fmt.Fprintln(w, "(no queries recorded yet)")
		return
	}

	_, _ = fmt.Fprintln(w, "Outcomes:")
	for _, k := range sortedKeys(out.Outcomes) {
		_, _ = fmt.Fprintf(w, "  %-28s %d\n", k, out.Outcomes[k])
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "Latency Distribution:")
	for _, l := range latencyLabels {
		if n, ok := out.Latency[string(l.bucket)]; ok {
			_, _ = fmt.Fprintf(w, "  %-10s %d\n", l.label, n)
		}
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "Source States:")
	for _, k := range sortedKeys(out.SourceStates) {
		_, _ = fmt.Fprintf(w, "  %-28s %d\n", k, out.SourceStates[k])
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
