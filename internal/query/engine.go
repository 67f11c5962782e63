// Package query answers find-usages queries against the usage index,
// scheduling background derivation when the index is not yet complete.
package query

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	xerrors "github.com/Aman-CERP/xref/internal/errors"
	"github.com/Aman-CERP/xref/internal/logging"
	"github.com/Aman-CERP/xref/internal/pipeline"
	"github.com/Aman-CERP/xref/internal/refgraph"
	"github.com/Aman-CERP/xref/internal/refindex"
	"github.com/Aman-CERP/xref/internal/resolve"
	"github.com/Aman-CERP/xref/internal/telemetry"
)

// Submitter schedules a work set. *pipeline.Executor implements it.
type Submitter interface {
	Submit(ctx context.Context, ws resolve.WorkSet, done func(pipeline.Outcome)) (*pipeline.Run, error)
}

var _ Submitter = (*pipeline.Executor)(nil)

// Dependencies holds what an Engine needs. Sink, Logger and Metrics are
// optional.
type Dependencies struct {
	Cache    *refindex.Cache
	Graph    resolve.UsageSource
	Executor Submitter
	Sink     Sink
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
}

// Engine is safe for concurrent use. Lookups are serialized so that each
// clear-then-publish sequence on the sink is atomic. Each query takes a
// generation when issued; once a newer query has published, an older one
// still answers through its Pending but no longer touches the sink.
type Engine struct {
	cache    *refindex.Cache
	graph    resolve.UsageSource
	executor Submitter
	sink     Sink
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	mu        sync.Mutex
	last      ResultSet
	issued    uint64
	published uint64
}

// New creates an Engine.
func New(deps Dependencies) (*Engine, error) {
	if deps.Cache == nil {
		return nil, xerrors.New(xerrors.ErrCodeInternal, "index cache is required", nil)
	}
	if deps.Graph == nil {
		return nil, xerrors.New(xerrors.ErrCodeInternal, "reference graph is required", nil)
	}
	if deps.Executor == nil {
		return nil, xerrors.New(xerrors.ErrCodeInternal, "executor is required", nil)
	}
	return &Engine{
		cache:    deps.Cache,
		graph:    deps.Graph,
		executor: deps.Executor,
		sink:     deps.Sink,
		logger:   logging.OrDefault(deps.Logger),
		metrics:  deps.Metrics,
	}, nil
}

// Query finds the usages of target. It never waits for derivation: when
// units still need deriving it schedules them and looks up once the run
// ends, however it ends.
func (e *Engine) Query(ctx context.Context, target refgraph.Target) *Pending {
	start := time.Now()
	p := newPending()

	e.mu.Lock()
	e.issued++
	gen := e.issued
	e.mu.Unlock()

	e.logger.Debug("usages_query_started", slog.String("target", target.String()))

	answer := func(path Path, outcome *pipeline.Outcome, err error) {
		results := e.lookup(target, gen)
		e.metrics.QueryAnswered(target.String(), string(path), len(results), time.Since(start))
		e.logger.Debug("usages_query_answered",
			slog.String("target", target.String()),
			slog.String("path", string(path)),
			slog.Int("results", len(results)),
			slog.Duration("elapsed", time.Since(start)))
		p.resolve(Answer{Target: target, Results: results, Path: path, Outcome: outcome, Err: err})
	}

	ix := e.cache.Get()
	if ix == nil {
		answer(PathAbsent, nil, nil)
		return p
	}
	if ix.IsComplete() {
		answer(PathDirect, nil, nil)
		return p
	}

	ws := resolve.Resolve(target, e.graph, ix)
	if ws.IsEmpty() {
		answer(PathEmptyWorkSet, nil, nil)
		return p
	}

	// The run outlives the caller's request.
	_, err := e.executor.Submit(context.WithoutCancel(ctx), ws, func(o pipeline.Outcome) {
		switch o.Status {
		case pipeline.StatusCancelled:
			e.logger.Warn("low memory, results may be incomplete",
				slog.String("target", target.String()),
				slog.Int("derived", o.Derived),
				slog.Int("total", o.Total))
		case pipeline.StatusFailed:
			e.logger.Error("usages_derivation_failed",
				append([]any{slog.String("target", target.String())}, xerrors.LogAttrs(o.Err)...)...)
		}
		answer(PathScheduled, &o, o.Err)
	})
	if err != nil {
		e.logger.Error("usages_schedule_failed",
			append([]any{slog.String("target", target.String())}, xerrors.LogAttrs(err)...)...)
		answer(PathScheduled, nil, err)
	}
	return p
}

// lookup returns the current usages of target. Unless a query newer than
// gen has already published, it also clears the sink and publishes them.
func (e *Engine) lookup(target refgraph.Target, gen uint64) ResultSet {
	e.mu.Lock()
	defer e.mu.Unlock()

	publish := gen > e.published
	if publish {
		e.published = gen
		if e.sink != nil {
			e.sink.Clear()
		}
		e.last = ResultSet{}
	}

	ix := e.cache.Get()
	if ix == nil {
		return ResultSet{}
	}

	usages := ix.Lookup(target.Name)
	sort.SliceStable(usages, func(i, j int) bool {
		a, b := usages[i], usages[j]
		if a.Unit.QualifiedName != b.Unit.QualifiedName {
			return a.Unit.QualifiedName < b.Unit.QualifiedName
		}
		if a.Unit.ID != b.Unit.ID {
			return a.Unit.ID < b.Unit.ID
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})

	results := make(ResultSet, 0, len(usages))
	for _, u := range usages {
		if isDeclaration(target, u) {
			continue
		}
		r := resultOf(u)
		results = append(results, r)
		if publish && e.sink != nil {
			e.sink.Add(r)
		}
	}
	if publish {
		e.last = results
	}

	return append(ResultSet{}, results...)
}

func isDeclaration(target refgraph.Target, u refindex.Usage) bool {
	d := target.Decl
	return d != nil && d.Unit.ID == u.Unit.ID && d.Line == u.Line && d.Column == u.Column
}

// Results returns a copy of the most recently published results.
func (e *Engine) Results() ResultSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append(ResultSet{}, e.last...)
}
