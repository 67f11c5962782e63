// Package loader visits a fixed set of input units, decoding each one and
// isolating per-unit failures so that one bad unit never stops a batch.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	xerrors "github.com/Aman-CERP/xref/internal/errors"
	"github.com/Aman-CERP/xref/internal/logging"
	"github.com/Aman-CERP/xref/internal/source"
	"github.com/Aman-CERP/xref/internal/telemetry"
)

// Input pairs a unit reference with the reader that decodes it.
type Input struct {
	Ref    source.Ref
	Reader source.Reader
}

// Resource is a non-source resource of the input set.
type Resource struct {
	Path string
}

// VisitStats counts the outcome of one visit.
type VisitStats struct {
	Loaded int `json:"loaded"`
	Failed int `json:"failed"`
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger for isolated failures.
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(ld *Loader) { ld.metrics = m }
}

// Loader holds the input set fixed at construction.
type Loader struct {
	mu     sync.RWMutex
	inputs []Input
	closed bool

	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// New creates a loader over inputs. The slice is copied.
func New(inputs []Input, opts ...Option) *Loader {
	ld := &Loader{inputs: append([]Input(nil), inputs...)}
	for _, opt := range opts {
		opt(ld)
	}
	ld.logger = logging.OrDefault(ld.logger)
	return ld
}

// FromRefs creates a loader where every ref shares reader.
func FromRefs(refs []source.Ref, reader source.Reader, opts ...Option) *Loader {
	inputs := make([]Input, len(refs))
	for i, ref := range refs {
		inputs[i] = Input{Ref: ref, Reader: reader}
	}
	return New(inputs, opts...)
}

// VisitUnits decodes every input in order and hands each record to
// consumer. A unit that fails to decode, or whose consumer panics, is
// logged and skipped. The only
// error returned is ctx's, when the caller cancels; records already
// consumed stay consumed. Closing the loader mid-visit ends the visit early.
func (ld *Loader) VisitUnits(ctx context.Context, consumer func(*source.Record)) (VisitStats, error) {
	var stats VisitStats

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		in, ok := ld.input(i)
		if !ok {
			return stats, nil
		}

		rec, err := ld.decode(ctx, in)
		if err == nil {
			err = consume(consumer, rec)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stats, ctxErr
			}
			stats.Failed++
			ld.metrics.UnitLoadFailed()
			ld.logger.Warn("failed to load unit",
				append([]any{slog.String("unit", in.Ref.String())}, xerrors.LogAttrs(err)...)...)
			continue
		}

		stats.Loaded++
		ld.metrics.UnitLoaded()
	}
}

// consume hands rec to consumer, converting a panic into an error.
func consume(consumer func(*source.Record), rec *source.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(xerrors.ErrCodeInternal, "consumer panicked", nil).
				WithDetail("panic", panicString(r))
		}
	}()
	consumer(rec)
	return nil
}

// decode runs one reader, converting a panic into an error.
func (ld *Loader) decode(ctx context.Context, in Input) (rec *source.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(xerrors.ErrCodeFileCorrupt, "reader panicked", nil).
				WithDetail("panic", panicString(r))
		}
	}()

	if in.Reader == nil {
		return nil, xerrors.New(xerrors.ErrCodeInternal, "no reader for unit", nil)
	}
	rec, err = in.Reader.Decode(ctx, in.Ref)
	if err == nil && rec == nil {
		err = xerrors.New(xerrors.ErrCodeFileCorrupt, "reader returned no record", nil)
	}
	return rec, err
}

func (ld *Loader) input(i int) (Input, bool) {
	ld.mu.RLock()
	defer ld.mu.RUnlock()

	if ld.closed || i >= len(ld.inputs) {
		return Input{}, false
	}
	return ld.inputs[i], true
}

// VisitAuxiliary is the extension point for non-source resources.
// Source trees carry none, so it never calls consumer.
func (ld *Loader) VisitAuxiliary(consumer func(Resource)) {}

// IsEmpty reports whether the loader has no units.
func (ld *Loader) IsEmpty() bool {
	ld.mu.RLock()
	defer ld.mu.RUnlock()
	return len(ld.inputs) == 0
}

// Len returns the number of units.
func (ld *Loader) Len() int {
	ld.mu.RLock()
	defer ld.mu.RUnlock()
	return len(ld.inputs)
}

// Close releases the unit references. It is idempotent.
func (ld *Loader) Close() error {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	ld.inputs = nil
	ld.closed = true
	return nil
}

func panicString(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(r)
}
