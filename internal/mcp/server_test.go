package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/Aman-CERP/xref/internal/errors"
	"github.com/Aman-CERP/xref/internal/pipeline"
	"github.com/Aman-CERP/xref/internal/query"
	"github.com/Aman-CERP/xref/internal/refgraph"
	"github.com/Aman-CERP/xref/internal/refindex"
	"github.com/Aman-CERP/xref/internal/workspace"
)

type fakeBackend struct {
	answer  query.Answer
	err     error
	status  workspace.Status
	symbols []string
}

func (f *fakeBackend) Usages(_ context.Context, symbol string) (query.Answer, error) {
	f.symbols = append(f.symbols, symbol)
	return f.answer, f.err
}

func (f *fakeBackend) Status() workspace.Status { return f.status }

func threeResults() query.ResultSet {
	return query.ResultSet{
		{File: "app/a.py", QualifiedName: "app.a", Line: 1, Column: 3, Snippet: "greet()"},
		{File: "app/b.py", QualifiedName: "app.b", Line: 2, Column: 1, Snippet: "greet()"},
		{File: "app/c.py", QualifiedName: "app.c", Line: 9, Column: 5, Snippet: "greet()"},
	}
}

func newTestServer(t *testing.T, b Backend, opts Options) *Server {
	t.Helper()
	s, err := NewServer(b, opts)
	require.NoError(t, err)
	return s
}

func TestNewServer_RequiresBackend(t *testing.T) {
	_, err := NewServer(nil, Options{})
	assert.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, Options{})

	tools := s.ListTools()

	require.Len(t, tools, 2)
	assert.Equal(t, "find_usages", tools[0].Name)
	assert.Equal(t, "index_status", tools[1].Name)
	assert.NotNil(t, s.MCPServer())
}

func TestFindUsages_ReturnsLimitedResults(t *testing.T) {
	// Given: a backend answering with three usages from a completed run
	b := &fakeBackend{answer: query.Answer{
		Target:  refgraph.Target{Name: "greet", Qualified: "com.acme.Greeter.greet"},
		Results: threeResults(),
		Path:    query.PathScheduled,
		Outcome: &pipeline.Outcome{Status: pipeline.StatusCompleted, Total: 3, Derived: 3},
	}}
	s := newTestServer(t, b, Options{})

	// When: asking for two of them
	out, err := s.findUsages(context.Background(), FindUsagesInput{Symbol: "greet", Limit: 2})

	// Then: the first two are returned and the rest counted
	require.NoError(t, err)
	assert.Equal(t, []string{"greet"}, b.symbols)
	assert.Equal(t, "com.acme.Greeter.greet", out.Target)
	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, "scheduled", out.Path)
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 1, out.Truncated)
	require.Len(t, out.Usages, 2)
	assert.Equal(t, "app/a.py", out.Usages[0].File)
	assert.Empty(t, out.Warning)
}

func TestFindUsages_MaxResultsBoundsLimit(t *testing.T) {
	b := &fakeBackend{answer: query.Answer{Results: threeResults(), Path: query.PathDirect}}
	s := newTestServer(t, b, Options{MaxResults: 1})

	out, err := s.findUsages(context.Background(), FindUsagesInput{Symbol: "greet", Limit: 100})

	require.NoError(t, err)
	assert.Len(t, out.Usages, 1)
	assert.Equal(t, 2, out.Truncated)
}

func TestFindUsages_WarnsOnIncompleteAnswers(t *testing.T) {
	tests := []struct {
		name    string
		answer  query.Answer
		status  string
		warning string
	}{
		{
			name: "resource pressure",
			answer: query.Answer{
				Path:    query.PathScheduled,
				Outcome: &pipeline.Outcome{Status: pipeline.StatusCancelled, Total: 4, Derived: 1},
			},
			status:  "cancelled_by_resource_pressure",
			warning: "low memory, results may be incomplete",
		},
		{
			name: "failed run",
			answer: query.Answer{
				Path:    query.PathScheduled,
				Outcome: &pipeline.Outcome{Status: pipeline.StatusFailed},
				Err:     xerrors.New(xerrors.ErrCodeIndexFailed, "failed to derive unit", nil),
			},
			status:  "failed",
			warning: "derivation failed, results may be incomplete: failed to derive unit",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, &fakeBackend{answer: tc.answer}, Options{})

			out, err := s.findUsages(context.Background(), FindUsagesInput{Symbol: "greet"})

			require.NoError(t, err)
			assert.Equal(t, tc.status, out.Status)
			assert.Equal(t, tc.warning, out.Warning)
			assert.NotNil(t, out.Usages)
		})
	}
}

func TestFindUsages_Errors(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, Options{})

	_, err := s.findUsages(context.Background(), FindUsagesInput{})
	var me *MCPError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrCodeInvalidParams, me.Code)

	b := &fakeBackend{err: xerrors.New(xerrors.ErrCodeInvalidInput, "symbol must not end with '.'", nil)}
	s = newTestServer(t, b, Options{})
	_, err = s.findUsages(context.Background(), FindUsagesInput{Symbol: "Greeter."})
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrCodeInvalidParams, me.Code)
}

func TestIndexStatus_ReportsProgress(t *testing.T) {
	// Given: a workspace with half its units derived and one run active
	b := &fakeBackend{status: workspace.Status{
		Root:       "/src/acme",
		Units:      4,
		LoadFailed: 1,
		Index:      refindex.Stats{Expected: 4, Derived: 2, Usages: 7},
		ActiveRuns: []pipeline.ProgressSnapshot{{RunID: 3, Status: string(pipeline.StatusRunning), UnitsTotal: 2}},
	}}
	s := newTestServer(t, b, Options{})

	// When: index_status is called
	_, out, err := s.mcpIndexStatusHandler(context.Background(), nil, IndexStatusInput{})

	// Then: counts and progress are reported
	require.NoError(t, err)
	assert.Equal(t, ProjectInfo{Name: "acme", RootPath: "/src/acme"}, out.Project)
	assert.Equal(t, 4, out.Units)
	assert.Equal(t, 1, out.LoadFailed)
	assert.Equal(t, 2, out.Derived)
	assert.Equal(t, 7, out.Usages)
	assert.False(t, out.Complete)
	assert.InDelta(t, 50.0, out.ProgressPct, 0.001)
	require.Len(t, out.Runs, 1)
	assert.Equal(t, uint64(3), out.Runs[0].RunID)
}

func TestIndexStatus_EmptyProjectIsComplete(t *testing.T) {
	b := &fakeBackend{status: workspace.Status{Root: "/src/empty", Index: refindex.Stats{Complete: true}}}
	s := newTestServer(t, b, Options{})

	out := s.indexStatus()

	assert.True(t, out.Complete)
	assert.InDelta(t, 100.0, out.ProgressPct, 0.001)
	assert.NotNil(t, out.Runs)
}

func TestCallTool(t *testing.T) {
	b := &fakeBackend{answer: query.Answer{Results: threeResults(), Path: query.PathDirect}}
	s := newTestServer(t, b, Options{})

	res, err := s.CallTool(context.Background(), "find_usages", map[string]any{"symbol": "greet", "limit": float64(1)})
	require.NoError(t, err)
	out, ok := res.(*FindUsagesOutput)
	require.True(t, ok)
	assert.Len(t, out.Usages, 1)

	res, err = s.CallTool(context.Background(), "index_status", nil)
	require.NoError(t, err)
	assert.IsType(t, &IndexStatusOutput{}, res)

	_, err = s.CallTool(context.Background(), "search", nil)
	var me *MCPError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, ErrCodeMethodNotFound, me.Code)
}

func TestServe_UnknownTransport(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, Options{})

	err := s.Serve(context.Background(), "sse")

	assert.ErrorContains(t, err, "unknown transport")
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, clampLimit(0, 50, 1, 0))
	assert.Equal(t, 10, clampLimit(10, 50, 1, 0))
	assert.Equal(t, 20, clampLimit(100, 50, 1, 20))
	assert.Equal(t, 50, clampLimit(-3, 50, 1, 200))
}

func TestGenerateRequestID(t *testing.T) {
	id := generateRequestID()
	assert.Len(t, id, 8)
	assert.NotEqual(t, id, generateRequestID())
}
