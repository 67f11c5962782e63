package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	xerrors "github.com/Aman-CERP/xref/internal/errors"
	"github.com/Aman-CERP/xref/internal/logging"
	"github.com/Aman-CERP/xref/internal/output"
	"github.com/Aman-CERP/xref/internal/pipeline"
	"github.com/Aman-CERP/xref/internal/query"
	"github.com/Aman-CERP/xref/internal/workspace"
	"github.com/Aman-CERP/xref/pkg/version"
)

// DefaultLimit caps find_usages results when the caller gives no limit.
const DefaultLimit = 50

// Backend answers the server's tools. *workspace.Workspace implements it.
type Backend interface {
	Usages(ctx context.Context, symbol string) (query.Answer, error)
	Status() workspace.Status
}

var _ Backend = (*workspace.Workspace)(nil)

// Options configures a Server.
type Options struct {
	// MaxResults bounds any requested limit. Zero means no bound.
	MaxResults int
	Logger     *slog.Logger
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name: "find_usages",
		Description: "Find every usage of a symbol across the project. Accepts a simple name or a qualified one. " +
			"The first query for a symbol derives the units that reference it; later queries are answered from the index.",
	},
	{
		Name:        "index_status",
		Description: "Report how much of the project has been derived into the usage index, and any derivation runs in progress.",
	},
}

// Server is the MCP server for xref.
type Server struct {
	mcp        *mcp.Server
	backend    Backend
	maxResults int
	logger     *slog.Logger
}

// NewServer creates a server over backend.
func NewServer(backend Backend, opts Options) (*Server, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}

	s := &Server{
		backend:    backend,
		maxResults: opts.MaxResults,
		logger:     logging.OrDefault(opts.Logger),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "xref", Version: version.Version}, nil)
	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpFindUsagesHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpIndexStatusHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// CallTool invokes a tool by name, bypassing the transport.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "find_usages":
		in := FindUsagesInput{}
		in.Symbol, _ = args["symbol"].(string)
		if l, ok := args["limit"].(float64); ok {
			in.Limit = int(l)
		}
		return s.findUsages(ctx, in)
	case "index_status":
		return s.indexStatus(), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func (s *Server) findUsages(ctx context.Context, in FindUsagesInput) (*FindUsagesOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	if in.Symbol == "" {
		return nil, NewInvalidParamsError("symbol parameter is required")
	}
	limit := clampLimit(in.Limit, DefaultLimit, 1, s.maxResults)

	s.logger.Info("find_usages started",
		slog.String("request_id", requestID),
		slog.String("symbol", in.Symbol),
		slog.Int("limit", limit))

	a, err := s.backend.Usages(ctx, in.Symbol)
	if err != nil {
		s.logger.Error("find_usages failed",
			append([]any{slog.String("request_id", requestID)}, xerrors.LogAttrs(err)...)...)
		return nil, MapError(err)
	}

	results, truncated := output.Limit(a.Results, limit)
	out := &FindUsagesOutput{
		Target:    a.Target.String(),
		Status:    output.AnswerStatus(a),
		Path:      string(a.Path),
		Total:     len(a.Results),
		Truncated: truncated,
		Usages:    results,
	}
	switch {
	case a.Outcome != nil && a.Outcome.Status == pipeline.StatusCancelled:
		out.Warning = "low memory, results may be incomplete"
	case a.Err != nil:
		out.Warning = fmt.Sprintf("derivation failed, results may be incomplete: %s", MapError(a.Err).Message)
	}

	s.logger.Info("find_usages completed",
		slog.String("request_id", requestID),
		slog.String("path", out.Path),
		slog.String("status", out.Status),
		slog.Int("result_count", out.Total),
		slog.Duration("duration", time.Since(start)))

	return out, nil
}

func (s *Server) indexStatus() *IndexStatusOutput {
	st := s.backend.Status()

	out := &IndexStatusOutput{
		Project:    ProjectInfo{Name: filepath.Base(st.Root), RootPath: st.Root},
		Units:      st.Units,
		LoadFailed: st.LoadFailed,
		Derived:    st.Index.Derived,
		Usages:     st.Index.Usages,
		Complete:   st.Index.Complete,
		Runs:       st.ActiveRuns,
	}
	if out.Runs == nil {
		out.Runs = []pipeline.ProgressSnapshot{}
	}
	if st.Index.Expected > 0 {
		out.ProgressPct = float64(st.Index.Derived) / float64(st.Index.Expected) * 100
	} else {
		out.ProgressPct = 100
	}
	return out
}

func (s *Server) mcpFindUsagesHandler(ctx context.Context, _ *mcp.CallToolRequest, in FindUsagesInput) (
	*mcp.CallToolResult,
	*FindUsagesOutput,
	error,
) {
	out, err := s.findUsages(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

func (s *Server) mcpIndexStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	return nil, s.indexStatus(), nil
}

// Serve runs the server on transport until ctx is done.
func (s *Server) Serve(ctx context.Context, transport string) error {
	switch transport {
	case "stdio":
		s.logger.Debug("mcp_serve_stdio")
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// clampLimit applies def when v is unset, then bounds it to [lo, hi].
// hi <= 0 means no upper bound.
func clampLimit(v, def, lo, hi int) int {
	if v <= 0 {
		v = def
	}
	if v < lo {
		v = lo
	}
	if hi > 0 && v > hi {
		v = hi
	}
	return v
}

// generateRequestID creates a short ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
