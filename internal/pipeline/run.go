package pipeline

import (
	"context"
	"sync"

	"github.com/Aman-CERP/xref/internal/resolve"
)

// Run is a handle to one submitted work set.
type Run struct {
	id       uint64
	ws       resolve.WorkSet
	progress *Progress
	callback func(Outcome)

	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func newRun(id uint64, ws resolve.WorkSet, callback func(Outcome)) *Run {
	return &Run{
		id:       id,
		ws:       ws,
		progress: newProgress(id, len(ws)),
		callback: callback,
		done:     make(chan struct{}),
	}
}

// complete stores o the first time it is called and reports whether it did.
func (r *Run) complete(o Outcome) bool {
	fired := false
	r.once.Do(func() {
		fired = true
		r.outcome = o
		r.progress.finish(o)
		close(r.done)
	})
	return fired
}

// ID returns the run's identifier.
func (r *Run) ID() uint64 {
	return r.id
}

// Done is closed when the run reaches a terminal status.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-r.done:
		return r.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Snapshot returns the run's current progress.
func (r *Run) Snapshot() ProgressSnapshot {
	return r.progress.Snapshot()
}
