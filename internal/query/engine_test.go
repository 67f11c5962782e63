package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/xref/internal/derive"
	xerrors "github.com/Aman-CERP/xref/internal/errors"
	"github.com/Aman-CERP/xref/internal/pipeline"
	"github.com/Aman-CERP/xref/internal/refgraph"
	"github.com/Aman-CERP/xref/internal/refindex"
	"github.com/Aman-CERP/xref/internal/resolve"
	"github.com/Aman-CERP/xref/internal/source"
	"github.com/Aman-CERP/xref/internal/telemetry"
)

// fixture is a small project: a declaring unit and two callers.
type fixture struct {
	records map[string]*source.Record
	graph   *refgraph.Graph
	units   []source.Unit
}

func newFixture() *fixture {
	greeter := &source.Record{
		Unit:    source.NewUnit("src/com/acme/Greeter.java", "java", "com.acme"),
		Package: "com.acme",
		Source:  []byte("package com.acme;\n\nclass Greeter {\n  void greet() {}\n}\n"),
		Declarations: []source.Symbol{
			{Name: "Greeter", Kind: source.KindClass, Qualified: "Greeter", Line: 3, Column: 7},
			{Name: "greet", Kind: source.KindMethod, Qualified: "Greeter.greet", Line: 4, Column: 8},
		},
	}
	zeta := &source.Record{
		Unit:   source.NewUnit("app/zeta.py", "python", ""),
		Source: []byte("g.greet()\n\ng.greet()\n"),
		References: []source.Reference{
			{Name: "greet", Line: 3, Column: 3},
			{Name: "greet", Line: 1, Column: 3},
		},
	}
	alpha := &source.Record{
		Unit:   source.NewUnit("app/alpha.py", "python", ""),
		Source: []byte("x.greet(); y.greet()\n"),
		References: []source.Reference{
			{Name: "greet", Line: 1, Column: 14},
			{Name: "greet", Line: 1, Column: 3},
		},
	}

	f := &fixture{records: map[string]*source.Record{}, graph: refgraph.New()}
	for _, rec := range []*source.Record{greeter, zeta, alpha} {
		f.records[rec.Unit.ID] = rec
		f.graph.Add(rec)
		f.units = append(f.units, rec.Unit)
	}
	return f
}

func (f *fixture) reader() source.Reader {
	return source.ReaderFunc(func(_ context.Context, ref source.Ref) (*source.Record, error) {
		rec, ok := f.records[ref.Path]
		if !ok {
			return nil, errors.New("no such unit")
		}
		return rec, nil
	})
}

func (f *fixture) target(t *testing.T, q string) refgraph.Target {
	t.Helper()
	target, err := f.graph.Resolve(q)
	require.NoError(t, err)
	return target
}

// countingSubmitter records submissions and never runs them.
type countingSubmitter struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSubmitter) Submit(context.Context, resolve.WorkSet, func(pipeline.Outcome)) (*pipeline.Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil, nil
}

func (c *countingSubmitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// heldSubmitter keeps each completion callback for the test to fire.
type heldSubmitter struct {
	mu   sync.Mutex
	done []func(pipeline.Outcome)
}

func (h *heldSubmitter) Submit(_ context.Context, _ resolve.WorkSet, done func(pipeline.Outcome)) (*pipeline.Run, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = append(h.done, done)
	return nil, nil
}

func (h *heldSubmitter) release(t *testing.T, o pipeline.Outcome) {
	t.Helper()
	h.mu.Lock()
	require.Len(t, h.done, 1)
	done := h.done[0]
	h.mu.Unlock()
	done(o)
}

// recordingSink logs every call it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "clear")
}

func (s *recordingSink) Add(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, r.File)
}

func (s *recordingSink) got() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func newEngine(t *testing.T, deps Dependencies) *Engine {
	t.Helper()
	e, err := New(deps)
	require.NoError(t, err)
	return e
}

func wait(t *testing.T, p *Pending) Answer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := p.Wait(ctx)
	require.NoError(t, err)
	return a
}

// realExecutor derives units from the fixture into cache.
func realExecutor(t *testing.T, f *fixture, cache *refindex.Cache, opts ...pipeline.Option) *pipeline.Executor {
	t.Helper()
	d, err := derive.New(derive.Dependencies{Reader: f.reader(), Cache: cache})
	require.NoError(t, err)
	ex, err := pipeline.New(d.Derive, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ex.Close() })
	return ex
}

func TestQuery_AbsentIndexIsEmptyNotError(t *testing.T) {
	// Given: no index at all
	f := newFixture()
	sub := &countingSubmitter{}
	sink := &recordingSink{}
	e := newEngine(t, Dependencies{Cache: refindex.NewCache(nil), Graph: f.graph, Executor: sub, Sink: sink})

	// When: querying
	a := wait(t, e.Query(context.Background(), f.target(t, "greet")))

	// Then: the result is empty, without error or scheduling
	assert.Equal(t, PathAbsent, a.Path)
	assert.Empty(t, a.Results)
	assert.NoError(t, a.Err)
	assert.Nil(t, a.Outcome)
	assert.Zero(t, sub.count())
	assert.Equal(t, []string{"clear"}, sink.got())
}

func TestQuery_CompleteIndexLooksUpDirectly(t *testing.T) {
	// Given: an index with every unit derived
	f := newFixture()
	ix := refindex.New(f.units)
	for _, rec := range f.records {
		ix.Put(rec.Unit, derive.Usages(rec))
	}
	sub := &countingSubmitter{}
	e := newEngine(t, Dependencies{Cache: refindex.NewCache(ix), Graph: f.graph, Executor: sub})

	// When: querying
	a := wait(t, e.Query(context.Background(), f.target(t, "Greeter.greet")))

	// Then: results come back ordered by unit, line and column
	assert.Equal(t, PathDirect, a.Path)
	assert.Zero(t, sub.count())
	require.Len(t, a.Results, 4)
	assert.Equal(t, "app.alpha", a.Results[0].QualifiedName)
	assert.Equal(t, 3, a.Results[0].Column)
	assert.Equal(t, 14, a.Results[1].Column)
	assert.Equal(t, "app.zeta", a.Results[2].QualifiedName)
	assert.Equal(t, 1, a.Results[2].Line)
	assert.Equal(t, 3, a.Results[3].Line)
	assert.Equal(t, "g.greet()", a.Results[2].Snippet)
	assert.False(t, a.Incomplete())
}

func TestQuery_EmptyWorkSetNeverSubmits(t *testing.T) {
	// Given: an incomplete index where every caller of greet is derived
	f := newFixture()
	ix := refindex.New(f.units)
	for _, id := range []string{"app/alpha.py", "app/zeta.py"} {
		ix.Put(f.records[id].Unit, derive.Usages(f.records[id]))
	}
	require.False(t, ix.IsComplete())
	sub := &countingSubmitter{}
	e := newEngine(t, Dependencies{Cache: refindex.NewCache(ix), Graph: f.graph, Executor: sub})

	// When: querying
	a := wait(t, e.Query(context.Background(), f.target(t, "greet")))

	// Then: the lookup ran without the executor
	assert.Equal(t, PathEmptyWorkSet, a.Path)
	assert.Zero(t, sub.count())
	assert.Len(t, a.Results, 4)
}

func TestQuery_ScheduledDerivation(t *testing.T) {
	// Given: an empty index and a real executor
	f := newFixture()
	cache := refindex.NewCache(refindex.New(f.units))
	metrics := telemetry.New()
	e := newEngine(t, Dependencies{
		Cache:    cache,
		Graph:    f.graph,
		Executor: realExecutor(t, f, cache),
		Metrics:  metrics,
	})

	// When: querying
	p := e.Query(context.Background(), f.target(t, "greet"))
	a := wait(t, p)

	// Then: the work set was derived and the lookup followed
	assert.Equal(t, PathScheduled, a.Path)
	require.NotNil(t, a.Outcome)
	assert.Equal(t, pipeline.StatusCompleted, a.Outcome.Status)
	assert.Equal(t, 2, a.Outcome.Total)
	assert.NoError(t, a.Err)
	assert.Len(t, a.Results, 4)

	// And: the declaring unit was not part of the work set
	assert.True(t, cache.Get().NeedsDerivation(f.records["src/com/acme/Greeter.java"].Unit))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Queries.WithLabelValues("scheduled")))

	// And: a second query finds nothing left to derive
	again := wait(t, e.Query(context.Background(), f.target(t, "greet")))
	assert.Equal(t, PathEmptyWorkSet, again.Path)
	assert.Equal(t, a.Results, again.Results)
}

func TestQuery_SequentialQueriesAreIdentical(t *testing.T) {
	f := newFixture()
	cache := refindex.NewCache(refindex.New(f.units))
	sink := &Collector{}
	e := newEngine(t, Dependencies{Cache: cache, Graph: f.graph, Executor: realExecutor(t, f, cache), Sink: sink})
	target := f.target(t, "greet")

	first := wait(t, e.Query(context.Background(), target))
	second := wait(t, e.Query(context.Background(), target))
	third := wait(t, e.Query(context.Background(), target))

	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, second.Results, third.Results)
	assert.Equal(t, third.Results, sink.Results())
	assert.Equal(t, third.Results, e.Results())
}

func TestQuery_ResourcePressureStillLooksUp(t *testing.T) {
	// Given: pressure already raised, so no unit is derived
	f := newFixture()
	cache := refindex.NewCache(refindex.New(f.units))
	var flag pipeline.Flag
	flag.Raise()
	e := newEngine(t, Dependencies{
		Cache:    cache,
		Graph:    f.graph,
		Executor: realExecutor(t, f, cache, pipeline.WithPressure(&flag)),
	})

	// When: querying
	a := wait(t, e.Query(context.Background(), f.target(t, "greet")))

	// Then: the lookup ran on what exists, flagged incomplete
	require.NotNil(t, a.Outcome)
	assert.Equal(t, pipeline.StatusCancelled, a.Outcome.Status)
	assert.NoError(t, a.Err)
	assert.Empty(t, a.Results)
	assert.True(t, a.Incomplete())
}

func TestQuery_FailureCarriesErrorAndPartialResults(t *testing.T) {
	// Given: the second caller cannot be decoded
	f := newFixture()
	delete(f.records, "app/zeta.py")
	cache := refindex.NewCache(refindex.New(f.units))
	e := newEngine(t, Dependencies{Cache: cache, Graph: f.graph, Executor: realExecutor(t, f, cache)})

	// When: querying
	a := wait(t, e.Query(context.Background(), f.target(t, "greet")))

	// Then: the run failed, and alpha's usages are still returned
	require.NotNil(t, a.Outcome)
	assert.Equal(t, pipeline.StatusFailed, a.Outcome.Status)
	assert.Equal(t, xerrors.ErrCodeIndexFailed, xerrors.GetCode(a.Err))
	require.Len(t, a.Results, 2)
	assert.Equal(t, "app/alpha.py", a.Results[0].File)
}

func TestQuery_ScheduleErrorStillLooksUp(t *testing.T) {
	f := newFixture()
	cache := refindex.NewCache(refindex.New(f.units))
	ex := realExecutor(t, f, cache)
	require.NoError(t, ex.Close())
	e := newEngine(t, Dependencies{Cache: cache, Graph: f.graph, Executor: ex})

	a := wait(t, e.Query(context.Background(), f.target(t, "greet")))

	assert.Equal(t, PathScheduled, a.Path)
	assert.Nil(t, a.Outcome)
	assert.Equal(t, xerrors.ErrCodeExecutorClosed, xerrors.GetCode(a.Err))
	assert.Empty(t, a.Results)
}

func TestQuery_ExcludesDeclarationSite(t *testing.T) {
	// Given: a complete index holding a usage at the declaration site
	f := newFixture()
	target := f.target(t, "greet")
	require.NotNil(t, target.Decl)
	greeter := f.records["src/com/acme/Greeter.java"].Unit

	ix := refindex.New([]source.Unit{greeter})
	ix.Put(greeter, map[string][]refindex.Usage{"greet": {
		{Line: target.Decl.Line, Column: target.Decl.Column},
		{Line: 5, Column: 1},
	}})
	e := newEngine(t, Dependencies{Cache: refindex.NewCache(ix), Graph: f.graph, Executor: &countingSubmitter{}})

	// When: querying
	a := wait(t, e.Query(context.Background(), target))

	// Then: only the other usage is reported
	require.Len(t, a.Results, 1)
	assert.Equal(t, 5, a.Results[0].Line)
}

func TestQuery_SinkIsClearedBeforeEachPublish(t *testing.T) {
	f := newFixture()
	ix := refindex.New(f.units)
	for _, rec := range f.records {
		ix.Put(rec.Unit, derive.Usages(rec))
	}
	sink := &recordingSink{}
	e := newEngine(t, Dependencies{Cache: refindex.NewCache(ix), Graph: f.graph, Executor: &countingSubmitter{}, Sink: sink})

	wait(t, e.Query(context.Background(), f.target(t, "greet")))
	wait(t, e.Query(context.Background(), f.target(t, "missing")))

	assert.Equal(t, []string{
		"clear", "app/alpha.py", "app/alpha.py", "app/zeta.py", "app/zeta.py",
		"clear",
	}, sink.got())
	assert.Empty(t, e.Results())
}

func TestQuery_SupersededQueryNeverPublishes(t *testing.T) {
	// Given: a query for greet whose derivation is still running
	f := newFixture()
	ix := refindex.New(f.units)
	sub := &heldSubmitter{}
	sink := &recordingSink{}
	e := newEngine(t, Dependencies{Cache: refindex.NewCache(ix), Graph: f.graph, Executor: sub, Sink: sink})
	older := e.Query(context.Background(), f.target(t, "greet"))

	// When: a newer query publishes first
	newer := wait(t, e.Query(context.Background(), f.target(t, "Greeter")))
	require.Equal(t, PathEmptyWorkSet, newer.Path)
	require.Empty(t, newer.Results)

	// And: the older run then finishes
	for _, id := range []string{"app/alpha.py", "app/zeta.py"} {
		ix.Put(f.records[id].Unit, derive.Usages(f.records[id]))
	}
	sub.release(t, pipeline.Outcome{Status: pipeline.StatusCompleted, Derived: 2, Total: 2})
	a := wait(t, older)

	// Then: the older query still gets its own answer
	assert.Equal(t, PathScheduled, a.Path)
	assert.Len(t, a.Results, 4)

	// And: the shared sink and results keep the newer query's publish
	assert.Equal(t, []string{"clear"}, sink.got())
	assert.Empty(t, e.Results())
}

func TestPending_WaitHonoursContext(t *testing.T) {
	p := newPending()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_RequiresDependencies(t *testing.T) {
	f := newFixture()
	cache := refindex.NewCache(nil)

	_, err := New(Dependencies{Graph: f.graph, Executor: &countingSubmitter{}})
	assert.Error(t, err)
	_, err = New(Dependencies{Cache: cache, Executor: &countingSubmitter{}})
	assert.Error(t, err)
	_, err = New(Dependencies{Cache: cache, Graph: f.graph})
	assert.Error(t, err)
}
