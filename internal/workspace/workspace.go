// Package workspace wires a project root into a ready query engine:
// discovery, loading, the reference graph, the usage index and the
// background executor.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/xref/internal/config"
	"github.com/Aman-CERP/xref/internal/derive"
	"github.com/Aman-CERP/xref/internal/loader"
	"github.com/Aman-CERP/xref/internal/logging"
	"github.com/Aman-CERP/xref/internal/pipeline"
	"github.com/Aman-CERP/xref/internal/query"
	"github.com/Aman-CERP/xref/internal/refgraph"
	"github.com/Aman-CERP/xref/internal/refindex"
	"github.com/Aman-CERP/xref/internal/resolve"
	"github.com/Aman-CERP/xref/internal/scanner"
	"github.com/Aman-CERP/xref/internal/source"
	"github.com/Aman-CERP/xref/internal/telemetry"
)

// Options configures Open.
type Options struct {
	// Root is the project root. Required.
	Root string
	// Config is loaded from Root when nil.
	Config *config.Config
	Logger *slog.Logger
	// Metrics is created when nil.
	Metrics *telemetry.Metrics
	// Pressure is polled alongside the configured memory watch.
	Pressure pipeline.Signal
	// Sink receives every lookup's results.
	Sink query.Sink
}

// Status describes a workspace for status displays.
type Status struct {
	Root        string                      `json:"root"`
	Units       int                         `json:"units"`
	LoadFailed  int                         `json:"load_failed"`
	Index       refindex.Stats              `json:"index"`
	ActiveRuns  []pipeline.ProgressSnapshot `json:"active_runs"`
	MemoryLimit uint64                      `json:"memory_limit_bytes"`
}

// Workspace owns every component for one project root.
type Workspace struct {
	root    string
	cfg     *config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics

	reader   *source.FileReader
	graph    *refgraph.Graph
	cache    *refindex.Cache
	executor *pipeline.Executor
	engine   *query.Engine
	loaded   loader.VisitStats
	memLimit uint64

	closeOnce sync.Once
	closeErr  error
}

// Open discovers and loads every unit under opts.Root and prepares an
// empty usage index expecting them. Units that fail to decode are skipped
// and counted.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	start := time.Now()
	logger := logging.OrDefault(opts.Logger)

	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(opts.Root); err != nil {
			return nil, err
		}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.New()
	}

	maxSize, err := cfg.MaxFileSizeBytes()
	if err != nil {
		return nil, fmt.Errorf("invalid max_file_size: %w", err)
	}
	memLimit, err := cfg.MemoryLimitBytes()
	if err != nil {
		return nil, fmt.Errorf("invalid memory_limit: %w", err)
	}

	reader, err := source.NewFileReader(source.ReaderConfig{
		Root:         opts.Root,
		MaxFileSize:  maxSize,
		CacheEntries: cfg.Cache.ContentEntries,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	sc, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}
	refs, err := sc.Scan(ctx, scanner.Options{
		Root:             reader.Root(),
		Include:          cfg.Paths.Include,
		Exclude:          cfg.Paths.Exclude,
		RespectGitignore: cfg.Paths.RespectGitignore,
		MaxFileSize:      maxSize,
		Supports:         reader.Registry().Supports,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", opts.Root, err)
	}

	graph := refgraph.New()
	ld := loader.FromRefs(refs, reader, loader.WithLogger(logger), loader.WithMetrics(metrics))
	loaded, err := ld.VisitUnits(ctx, graph.Add)
	_ = ld.Close()
	if err != nil {
		return nil, err
	}

	cache := refindex.NewCache(refindex.New(graph.Units()))
	deriver, err := derive.New(derive.Dependencies{
		Reader:  reader,
		Cache:   cache,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}

	executor, err := pipeline.New(deriver.Derive,
		pipeline.WithPoolSize(cfg.Pipeline.PoolSize),
		pipeline.WithPressure(pipeline.AnyOf(&pipeline.MemoryWatch{LimitBytes: memLimit}, opts.Pressure)),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}

	engine, err := query.New(query.Dependencies{
		Cache:    cache,
		Graph:    graph,
		Executor: executor,
		Sink:     opts.Sink,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		_ = executor.Close()
		return nil, err
	}

	logger.Info("workspace_opened",
		slog.String("root", reader.Root()),
		slog.Int("units", loaded.Loaded),
		slog.Int("load_failed", loaded.Failed),
		slog.Duration("elapsed", time.Since(start)))

	return &Workspace{
		root:     reader.Root(),
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		reader:   reader,
		graph:    graph,
		cache:    cache,
		executor: executor,
		engine:   engine,
		loaded:   loaded,
		memLimit: memLimit,
	}, nil
}

// Root returns the absolute project root.
func (w *Workspace) Root() string { return w.root }

// Config returns the effective configuration.
func (w *Workspace) Config() *config.Config { return w.cfg }

// Graph returns the reference graph.
func (w *Workspace) Graph() *refgraph.Graph { return w.graph }

// Engine returns the query engine.
func (w *Workspace) Engine() *query.Engine { return w.engine }

// Executor returns the background executor.
func (w *Workspace) Executor() *pipeline.Executor { return w.executor }

// Metrics returns the metrics sink.
func (w *Workspace) Metrics() *telemetry.Metrics { return w.metrics }

// Index returns the usage index, or nil when it has been dropped.
func (w *Workspace) Index() *refindex.Index { return w.cache.Get() }

// LoadStats returns the outcome of the initial load.
func (w *Workspace) LoadStats() loader.VisitStats { return w.loaded }

// Usages resolves symbol and waits for its usages.
func (w *Workspace) Usages(ctx context.Context, symbol string) (query.Answer, error) {
	target, err := w.graph.Resolve(symbol)
	if err != nil {
		return query.Answer{}, err
	}
	return w.engine.Query(ctx, target).Wait(ctx)
}

// IndexAll schedules derivation of every unit not yet derived. It returns
// a nil run when there is nothing left to derive.
func (w *Workspace) IndexAll(ctx context.Context, done func(pipeline.Outcome)) (*pipeline.Run, error) {
	ix := w.cache.Get()
	if ix == nil {
		return nil, nil
	}
	ws := resolve.ForUnits(w.graph.Units(), ix)
	if ws.IsEmpty() {
		return nil, nil
	}
	w.logger.Info("index_all_started", slog.Int("units", ws.Len()))
	return w.executor.Submit(ctx, ws, done)
}

// Status returns a snapshot of the workspace.
func (w *Workspace) Status() Status {
	st := Status{
		Root:        w.root,
		Units:       w.graph.UnitCount(),
		LoadFailed:  w.loaded.Failed,
		ActiveRuns:  w.executor.Active(),
		MemoryLimit: w.memLimit,
	}
	if ix := w.cache.Get(); ix != nil {
		st.Index = ix.Stats()
	}
	return st
}

// Close stops the executor, waiting for running work. It is idempotent.
func (w *Workspace) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.executor.Close()
		w.logger.Debug("workspace_closed", slog.String("root", w.root))
	})
	return w.closeErr
}
