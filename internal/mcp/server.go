package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanrag/internal/expand"
	"github.com/Aman-CERP/amanrag/internal/retrieval"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// Engine answers retrieval queries.
type Engine interface {
	Retrieve(ctx context.Context, q retrieval.Query) (*retrieval.FusedResultSet, error)
}

// StatsSource reports recent query telemetry.
type StatsSource interface {
	Snapshot() telemetry.Snapshot
}

// Server bridges MCP clients to the retrieval engine.
type Server struct {
	mcp    *mcp.Server
	engine Engine
	stats  StatsSource
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithStats enables the retrieval_stats tool.
func WithStats(s StatsSource) Option {
	return func(srv *Server) { srv.stats = s }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

// ToolInfo names a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// RetrieveInput is the retrieve tool's argument schema.
type RetrieveInput struct {
	Query       string                   `json:"query" jsonschema:"the natural-language or keyword query"`
	Namespace   string                   `json:"namespace,omitempty" jsonschema:"restrict retrieval to one namespace"`
	TopK        int                      `json:"top_k,omitempty" jsonschema:"number of fused results, default 10"`
	DeadlineMS  int                      `json:"deadline_ms,omitempty" jsonschema:"latency budget in milliseconds, default 500"`
	Weights     *retrieval.IntentWeights `json:"weights,omitempty" jsonschema:"explicit source weights; skips intent classification"`
	Hops        *int                     `json:"hops,omitempty" jsonschema:"graph expansion hops, 1-3"`
	MinEntities *int                     `json:"min_entities,omitempty" jsonschema:"entity count that triggers synonym expansion"`
	MaxSynonyms *int                     `json:"max_synonyms,omitempty" jsonschema:"synonyms per entity"`
	Rerank      *bool                    `json:"rerank,omitempty" jsonschema:"rerank expanded entities by similarity to the query"`
	Explain     bool                     `json:"explain,omitempty" jsonschema:"include per-source ranks, statuses and expanded entities"`
}

// StatsInput is the retrieval_stats tool's (empty) argument schema.
type StatsInput struct{}

// StatsOutput summarizes recent retrievals.
type StatsOutput struct {
	Total    int64            `json:"total"`
	Outcomes map[string]int64 `json:"outcomes"`
	Latency  map[string]int64 `json:"latency"`
	Degraded map[string]int   `json:"degraded"`
	Recent   []RecentQuery    `json:"recent"`
}

// RecentQuery is one entry of the recent query log.
type RecentQuery struct {
	RequestID string    `json:"request_id"`
	Namespace string    `json:"namespace"`
	Intent    string    `json:"intent"`
	Outcome   string    `json:"outcome"`
	Results   int       `json:"results"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// NewServer creates an MCP server over engine.
func NewServer(engine Engine, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("retrieval engine is required")
	}
	s := &Server{engine: engine, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "amanrag",
		Version: version.Version,
	}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

const (
	retrieveDescription = "Retrieve passages by fusing dense, sparse, and knowledge-graph search. " +
		"Returns ranked results with citation numbers; set explain for per-source detail."
	statsDescription = "Report recent retrieval outcomes, latency classes and degraded sources."
)

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	tools := []ToolInfo{{Name: "retrieve", Description: retrieveDescription}}
	if s.stats != nil {
		tools = append(tools, ToolInfo{Name: "retrieval_stats", Description: statsDescription})
	}
	return tools
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retrieve",
		Description: retrieveDescription,
	}, s.mcpRetrieveHandler)

	if s.stats != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "retrieval_stats",
			Description: statsDescription,
		}, s.mcpStatsHandler)
	}
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(s.ListTools())))
}

// CallTool dispatches a tool by name with loosely typed arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "retrieve":
		var in RetrieveInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.retrieve(ctx, in)
	case "retrieval_stats":
		if s.stats != nil {
			return s.statsOutput(), nil
		}
	}
	return nil, MapError(fmt.Errorf("%w: %s", ErrToolNotFound, name))
}

func decodeArgs(args map[string]any, dst any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

func (s *Server) mcpRetrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, in RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	out, err := s.retrieve(ctx, in)
	if err != nil {
		return nil, RetrieveOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) mcpStatsHandler(_ context.Context, _ *mcp.CallToolRequest, _ StatsInput) (
	*mcp.CallToolResult,
	StatsOutput,
	error,
) {
	return nil, s.statsOutput(), nil
}

func (s *Server) retrieve(ctx context.Context, in RetrieveInput) (RetrieveOutput, error) {
	if in.DeadlineMS < 0 {
		return RetrieveOutput{}, NewInvalidParamsError("deadline_ms must not be negative")
	}
	if in.TopK < 0 {
		return RetrieveOutput{}, NewInvalidParamsError("top_k must not be negative")
	}
	if in.Hops != nil && (*in.Hops < expand.MinHops || *in.Hops > expand.MaxHops) {
		return RetrieveOutput{}, NewInvalidParamsError(
			fmt.Sprintf("hops must be %d-%d, got %d", expand.MinHops, expand.MaxHops, *in.Hops))
	}

	q := retrieval.Query{
		Text:      in.Query,
		Namespace: in.Namespace,
		TopK:      in.TopK,
		Deadline:  time.Duration(in.DeadlineMS) * time.Millisecond,
		Weights:   in.Weights,
		Overrides: expand.Overrides{
			Hops:          in.Hops,
			MinEntities:   in.MinEntities,
			MaxSynonyms:   in.MaxSynonyms,
			RerankEnabled: in.Rerank,
		},
	}

	rs, err := s.engine.Retrieve(ctx, q)
	if err != nil {
		s.logger.Warn("mcp_retrieve_failed", slog.String("error", err.Error()))
		return RetrieveOutput{}, MapError(err)
	}
	return ToRetrieveOutput(rs, in.Explain), nil
}

func (s *Server) statsOutput() StatsOutput {
	snap := s.stats.Snapshot()
	out := StatsOutput{
		Total:    snap.Total,
		Outcomes: snap.Outcomes,
		Latency:  make(map[string]int64, len(snap.Latency)),
		Degraded: make(map[string]int, len(snap.Degraded)),
		Recent:   make([]RecentQuery, 0, len(snap.Recent)),
	}
	for k, v := range snap.Latency {
		out.Latency[string(k)] = v
	}
	for k, v := range snap.Degraded {
		out.Degraded[string(k)] = v
	}
	for _, ev := range snap.Recent {
		out.Recent = append(out.Recent, RecentQuery{
			RequestID: ev.RequestID,
			Namespace: ev.Namespace,
			Intent:    ev.Intent,
			Outcome:   ev.Outcome,
			Results:   ev.Results,
			LatencyMS: ev.Latency.Milliseconds(),
			Timestamp: ev.Timestamp,
		})
	}
	return out
}

// Serve runs the server until ctx is done. transport is "stdio" or "http";
// addr is used only for http.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport), slog.String("addr", addr))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil

	case "http":
		if addr == "" {
			return fmt.Errorf("http transport requires an address")
		}
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
		srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			s.logger.Info("mcp_server_stopped")
			return nil
		}

	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, http)", transport)
	}
}
