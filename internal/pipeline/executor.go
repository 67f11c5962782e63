package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	xerrors "github.com/Aman-CERP/xref/internal/errors"
	"github.com/Aman-CERP/xref/internal/logging"
	"github.com/Aman-CERP/xref/internal/resolve"
	"github.com/Aman-CERP/xref/internal/source"
	"github.com/Aman-CERP/xref/internal/telemetry"
)

// DefaultCloseTimeout bounds how long Close waits for running work.
const DefaultCloseTimeout = 10 * time.Second

// DeriveFunc derives one unit into the index.
type DeriveFunc func(ctx context.Context, unit source.Unit) error

// Dispatcher runs a completion callback. It must not run f on the calling
// goroutine.
type Dispatcher func(f func())

func goDispatch(f func()) { go f() }

// Option configures an Executor.
type Option func(*Executor)

// WithPoolSize sets how many runs may execute at once.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(e *Executor) {
		if size < 1 {
			size = 1
		}
		e.poolSize = size
	}
}

// WithPressure sets the resource-pressure signal polled between units.
func WithPressure(s Signal) Option {
	return func(e *Executor) { e.pressure = s }
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithDispatcher sets how completion callbacks are run.
func WithDispatcher(d Dispatcher) Option {
	return func(e *Executor) {
		if d != nil {
			e.dispatch = d
		}
	}
}

// WithCloseTimeout sets how long Close waits for running work.
func WithCloseTimeout(d time.Duration) Option {
	return func(e *Executor) { e.closeTimeout = d }
}

// Executor runs work sets on an ants goroutine pool. Units of one run are
// derived sequentially in work-set order; separate runs may overlap.
type Executor struct {
	derive       DeriveFunc
	pool         *ants.Pool
	poolSize     int
	pressure     Signal
	logger       *slog.Logger
	metrics      *telemetry.Metrics
	dispatch     Dispatcher
	closeTimeout time.Duration

	// ctx is cancelled when Close gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	active map[uint64]*Run
	runs   sync.WaitGroup
	nextID atomic.Uint64
}

// New creates an Executor around derive.
func New(derive DeriveFunc, opts ...Option) (*Executor, error) {
	if derive == nil {
		return nil, xerrors.New(xerrors.ErrCodeInternal, "derive function is required", nil)
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	e := &Executor{
		derive:       derive,
		poolSize:     poolSize,
		dispatch:     goDispatch,
		closeTimeout: DefaultCloseTimeout,
		active:       make(map[uint64]*Run),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrDefault(e.logger)

	pool, err := ants.NewPool(e.poolSize, ants.WithPanicHandler(func(r any) {
		e.logger.Error("pipeline_worker_panic", slog.String("panic", fmt.Sprint(r)))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	e.pool = pool
	e.ctx, e.cancel = context.WithCancel(context.Background())

	return e, nil
}

// Submit schedules ws and returns immediately. done is called exactly
// once with the terminal outcome, on a goroutine other than the worker's.
// An empty work set or a closed executor is rejected and done is not called.
func (e *Executor) Submit(ctx context.Context, ws resolve.WorkSet, done func(Outcome)) (*Run, error) {
	if ws.IsEmpty() {
		return nil, xerrors.New(xerrors.ErrCodeEmptyWorkSet, "work set is empty", nil)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, xerrors.New(xerrors.ErrCodeExecutorClosed, "executor is closed", nil)
	}
	run := newRun(e.nextID.Add(1), ws, done)
	e.active[run.id] = run
	e.runs.Add(1)
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.ctx, cancel)

	e.logger.Debug("pipeline_run_submitted",
		slog.Uint64("run_id", run.id),
		slog.Int("units", len(ws)))

	// Blocking pool submission happens off the caller's goroutine so that
	// Submit never waits for a free worker.
	go func() {
		err := e.pool.Submit(func() {
			defer stop()
			defer cancel()
			e.finish(run, e.execute(runCtx, run))
		})
		if err != nil {
			stop()
			cancel()
			e.finish(run, Outcome{
				Status: StatusFailed,
				Total:  len(ws),
				Err:    xerrors.New(xerrors.ErrCodeExecutorClosed, "executor closed before the run started", err),
			})
		}
	}()

	return run, nil
}

// execute derives each unit of run in order.
func (e *Executor) execute(ctx context.Context, run *Run) Outcome {
	total := len(run.ws)
	derived := 0
	outcome := func(status Status, err error) Outcome {
		return Outcome{
			Status:  status,
			Derived: derived,
			Total:   total,
			Err:     err,
			Elapsed: run.progress.since(),
		}
	}

	for i, unit := range run.ws {
		if e.pressure != nil && e.pressure.Raised() {
			return outcome(StatusCancelled, nil)
		}
		if err := ctx.Err(); err != nil {
			return outcome(StatusFailed, xerrors.New(xerrors.ErrCodeRunAborted, "run aborted", err).
				WithDetail("position", position(i, total)))
		}

		run.progress.begin(unit.ID)
		if err := e.deriveOne(ctx, unit); err != nil {
			if errors.Is(err, ErrResourceExhausted) {
				return outcome(StatusCancelled, err)
			}
			return outcome(StatusFailed, failure(err, unit, i, total))
		}

		derived++
		run.progress.advance(derived)
	}

	return outcome(StatusCompleted, nil)
}

// deriveOne calls derive, converting a panic into an error.
func (e *Executor) deriveOne(ctx context.Context, unit source.Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(xerrors.ErrCodeIndexFailed, fmt.Sprintf("derivation panicked: %v", r), nil)
		}
	}()
	return e.derive(ctx, unit)
}

func failure(err error, unit source.Unit, i, total int) error {
	return xerrors.New(xerrors.ErrCodeIndexFailed, "failed to derive unit", err).
		WithDetail("unit", unit.ID).
		WithDetail("position", position(i, total))
}

func position(i, total int) string {
	return strconv.Itoa(i+1) + "/" + strconv.Itoa(total)
}

// finish records the outcome and dispatches the callback once.
func (e *Executor) finish(run *Run, o Outcome) {
	if !run.complete(o) {
		return
	}

	e.metrics.RunFinished(string(o.Status))
	attrs := []any{
		slog.Uint64("run_id", run.id),
		slog.String("status", string(o.Status)),
		slog.Int("derived", o.Derived),
		slog.Int("total", o.Total),
		slog.Int64("elapsed_ms", o.Elapsed.Milliseconds()),
	}
	switch o.Status {
	case StatusCompleted:
		e.logger.Info("pipeline_run_finished", attrs...)
	case StatusCancelled:
		e.logger.Warn("pipeline_run_finished", attrs...)
	default:
		e.logger.Error("pipeline_run_finished", append(attrs, xerrors.LogAttrs(o.Err)...)...)
	}

	e.mu.Lock()
	delete(e.active, run.id)
	e.mu.Unlock()

	if run.callback == nil {
		e.runs.Done()
		return
	}
	e.dispatch(func() {
		defer e.runs.Done()
		run.callback(o)
	})
}

// Active returns snapshots of runs that have not finished.
func (e *Executor) Active() []ProgressSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]ProgressSnapshot, 0, len(e.active))
	for _, r := range e.active {
		out = append(out, r.Snapshot())
	}
	return out
}

// Close stops accepting work and waits for running work. If that takes
// longer than the close timeout, running work is cancelled at the next
// unit boundary.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		e.runs.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(e.closeTimeout):
		e.logger.Warn("pipeline_close_timeout", slog.Duration("timeout", e.closeTimeout))
		e.cancel()
		<-waited
	}
	e.cancel()

	return e.pool.ReleaseTimeout(e.closeTimeout)
}
