package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/expand"
	"github.com/Aman-CERP/amanrag/internal/mcp"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/retrieval"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	namespace string
	topK      int
	deadline  time.Duration
	weights   string
	hops      int
	noRerank  bool
	explain   bool
	jsonOut   bool
}

func newQueryCmd(root *rootOptions) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve passages for a query",
		Long: `Retrieve passages by fusing dense, sparse, graph_local and graph_global
search with weighted Reciprocal Rank Fusion.

Examples:
  amanrag query "how does token refresh work"
  amanrag query "ERR_503" --weights sparse=1
  amanrag query "oauth session cookies" --namespace acme --explain
  amanrag query "payment retries" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cmd, root, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.namespace, "namespace", "n", "", "Restrict retrieval to one namespace")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Number of fused results (0 = configured default)")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 0, "Latency budget, e.g. 800ms (0 = configured default)")
	cmd.Flags().StringVarP(&opts.weights, "weights", "w", "", "Explicit source weights, e.g. dense=0.6,sparse=0.4")
	cmd.Flags().IntVar(&opts.hops, "hops", -1, "Graph expansion hops, 1-3 (-1 = configured default)")
	cmd.Flags().BoolVar(&opts.noRerank, "no-rerank", false, "Skip entity reranking for this query")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show weights, source outcomes, entities and per-source ranks")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output results as JSON")

	return cmd
}

func (o queryOptions) toQuery(text string) (retrieval.Query, error) {
	q := retrieval.Query{
		Text:      text,
		Namespace: o.namespace,
		TopK:      o.topK,
		Deadline:  o.deadline,
	}
	if o.topK < 0 {
		return q, amerrors.InvalidQuery(amerrors.ErrCodeInvalidInput, "--top-k must not be negative")
	}
	if o.deadline < 0 {
		return q, amerrors.InvalidQuery(amerrors.ErrCodeInvalidInput, "--deadline must not be negative")
	}
	if o.weights != "" {
		w, err := retrieval.ParseWeights(o.weights)
		if err != nil {
			return q, err
		}
		q.Weights = &w
	}
	if o.hops != -1 && (o.hops < expand.MinHops || o.hops > expand.MaxHops) {
		return q, amerrors.InvalidQuery(amerrors.ErrCodeInvalidInput,
			fmt.Sprintf("--hops must be %d-%d", expand.MinHops, expand.MaxHops))
	}
	if o.hops != -1 {
		hops := o.hops
		q.Overrides.Hops = &hops
	}
	if o.noRerank {
		off := false
		q.Overrides.RerankEnabled = &off
	}
	return q, nil
}

func runQuery(ctx context.Context, cmd *cobra.Command, root *rootOptions, text string, opts queryOptions) error {
	q, err := opts.toQuery(text)
	if err != nil {
		return err
	}

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	root.setupCommandLogging(cfg)

	a, err := buildApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("close_failed", slog.String("error", err.Error()))
		}
	}()

	rs, err := a.engine.Retrieve(ctx, q)
	if err != nil {
		return err
	}

	if opts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(mcp.ToRetrieveOutput(rs, opts.explain))
	}
	w := cmd.OutOrStdout()
	return output.RenderResults(w, rs, output.RenderOptions{
		Explain: opts.explain,
		Color:   output.ColorEnabled(w),
	})
}
