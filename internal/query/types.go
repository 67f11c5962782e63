package query

import (
	"context"
	"sync"

	"github.com/Aman-CERP/xref/internal/pipeline"
	"github.com/Aman-CERP/xref/internal/refgraph"
	"github.com/Aman-CERP/xref/internal/refindex"
)

// Path records how a query reached its lookup.
type Path string

const (
	// PathAbsent means there was no index; the result is empty.
	PathAbsent Path = "absent"
	// PathDirect means the index was already complete.
	PathDirect Path = "direct"
	// PathEmptyWorkSet means every unit referencing the target was
	// already derived, so no run was needed.
	PathEmptyWorkSet Path = "empty_workset"
	// PathScheduled means a derivation run preceded the lookup.
	PathScheduled Path = "scheduled"
)

// Result is one usage of the target.
type Result struct {
	File          string `json:"file"`
	QualifiedName string `json:"unit"`
	Line          int    `json:"line"`
	Column        int    `json:"column"`
	Enclosing     string `json:"enclosing,omitempty"`
	Snippet       string `json:"snippet"`
}

func resultOf(u refindex.Usage) Result {
	return Result{
		File:          u.Unit.ID,
		QualifiedName: u.Unit.QualifiedName,
		Line:          u.Line,
		Column:        u.Column,
		Enclosing:     u.Enclosing,
		Snippet:       u.Snippet,
	}
}

// ResultSet is ordered by unit qualified name, then line, then column.
type ResultSet []Result

// Answer is the final state of one query.
type Answer struct {
	Target  refgraph.Target
	Results ResultSet
	Path    Path
	// Outcome is set when a derivation run was scheduled.
	Outcome *pipeline.Outcome
	// Err is a run failure or a scheduling error. Results are still the
	// best available.
	Err error
}

// Incomplete reports whether results may be missing usages.
func (a Answer) Incomplete() bool {
	return a.Err != nil || (a.Outcome != nil && a.Outcome.Status != pipeline.StatusCompleted)
}

// Sink receives the results of each lookup: one Clear, then one Add per
// result, in order.
type Sink interface {
	Clear()
	Add(Result)
}

// Collector is a Sink that keeps the published results.
type Collector struct {
	mu      sync.Mutex
	results ResultSet
}

// Clear drops collected results.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = nil
}

// Add appends r.
func (c *Collector) Add(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

// Results returns a copy of the collected results.
func (c *Collector) Results() ResultSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(ResultSet{}, c.results...)
}

// Pending is an in-flight query.
type Pending struct {
	done   chan struct{}
	answer Answer
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(a Answer) {
	p.answer = a
	close(p.done)
}

// Done is closed once the answer is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the answer is available or ctx is done. The returned
// error is ctx's; run failures are reported in Answer.Err.
func (p *Pending) Wait(ctx context.Context) (Answer, error) {
	select {
	case <-p.done:
		return p.answer, nil
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	}
}
