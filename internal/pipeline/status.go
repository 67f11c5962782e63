// Package pipeline runs work sets of units through a derivation function
// in the background, with cooperative cancellation under resource pressure.
package pipeline

import (
	"sync"
	"time"
)

// Status is the state of a run.
type Status string

const (
	// StatusRunning indicates the run is in progress.
	StatusRunning Status = "running"
	// StatusCompleted indicates every unit was derived.
	StatusCompleted Status = "completed"
	// StatusCancelled indicates the run stopped early under resource
	// pressure. Units derived before the stop remain in the index.
	StatusCancelled Status = "cancelled_by_resource_pressure"
	// StatusFailed indicates a unit failed to derive or the run was aborted.
	StatusFailed Status = "failed"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s != StatusRunning && s != ""
}

// Outcome is the terminal result of a run, handed to the done callback.
type Outcome struct {
	Status  Status
	Derived int
	Total   int
	// Err is set for StatusFailed and carries the cause for StatusCancelled
	// when the derive function reported exhaustion.
	Err     error
	Elapsed time.Duration
}

// ProgressSnapshot is an immutable view of a run.
type ProgressSnapshot struct {
	RunID          uint64  `json:"run_id"`
	Status         string  `json:"status"`
	UnitsTotal     int     `json:"units_total"`
	UnitsDerived   int     `json:"units_derived"`
	CurrentUnit    string  `json:"current_unit,omitempty"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// Progress tracks one run. It is safe for concurrent use.
type Progress struct {
	mu sync.RWMutex

	runID     uint64
	status    Status
	total     int
	derived   int
	current   string
	startTime time.Time
	elapsed   time.Duration
	errMsg    string
}

func newProgress(runID uint64, total int) *Progress {
	return &Progress{
		runID:     runID,
		status:    StatusRunning,
		total:     total,
		startTime: time.Now(),
	}
}

func (p *Progress) begin(unit string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = unit
}

func (p *Progress) advance(derived int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.derived = derived
}

func (p *Progress) finish(o Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = o.Status
	p.derived = o.Derived
	p.current = ""
	p.elapsed = o.Elapsed
	if o.Err != nil {
		p.errMsg = o.Err.Error()
	}
}

func (p *Progress) since() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.startTime)
}

// Snapshot returns a copy of the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	if p.total > 0 {
		pct = float64(p.derived) / float64(p.total) * 100.0
	}
	elapsed := p.elapsed
	if !p.status.Terminal() {
		elapsed = time.Since(p.startTime)
	}

	return ProgressSnapshot{
		RunID:          p.runID,
		Status:         string(p.status),
		UnitsTotal:     p.total,
		UnitsDerived:   p.derived,
		CurrentUnit:    p.current,
		ProgressPct:    pct,
		ElapsedSeconds: int(elapsed.Seconds()),
		ErrorMessage:   p.errMsg,
	}
}
