package pipeline

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	xerrors "github.com/Aman-CERP/xref/internal/errors"
)

// ErrResourceExhausted is returned, possibly wrapped, by a derive function
// that ran out of memory or a similar resource. It ends the run as
// StatusCancelled rather than StatusFailed.
var ErrResourceExhausted = xerrors.New(xerrors.ErrCodeResourceExhausted,
	"resources exhausted during derivation", nil)

// Signal reports resource pressure. It is polled between units.
type Signal interface {
	Raised() bool
}

// SignalFunc adapts a function to Signal.
type SignalFunc func() bool

// Raised calls f.
func (f SignalFunc) Raised() bool { return f() }

// Flag is a Signal raised and cleared explicitly.
type Flag struct {
	v atomic.Bool
}

// Raise sets the flag.
func (f *Flag) Raise() { f.v.Store(true) }

// Clear resets the flag.
func (f *Flag) Clear() { f.v.Store(false) }

// Raised reports whether the flag is set.
func (f *Flag) Raised() bool { return f.v.Load() }

// DefaultMemoryInterval is how long a MemoryWatch reuses a heap reading.
const DefaultMemoryInterval = 100 * time.Millisecond

// MemoryWatch is raised while the live heap exceeds LimitBytes.
// A zero limit never raises. Readings stop the world, so one is reused
// for Interval (DefaultMemoryInterval when zero) before the heap is read
// again.
type MemoryWatch struct {
	LimitBytes uint64
	Interval   time.Duration

	// readHeap and now override the heap reading and clock in tests.
	readHeap func() uint64
	now      func() time.Time

	mu       sync.Mutex
	readAt   time.Time
	lastHeap uint64
}

// Raised compares the most recent runtime.MemStats.HeapAlloc reading to
// the limit.
func (m *MemoryWatch) Raised() bool {
	if m == nil || m.LimitBytes == 0 {
		return false
	}
	return m.heap() > m.LimitBytes
}

func (m *MemoryWatch) heap() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now
	if m.now != nil {
		now = m.now
	}
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultMemoryInterval
	}

	t := now()
	if !m.readAt.IsZero() && t.Sub(m.readAt) < interval {
		return m.lastHeap
	}
	m.readAt = t
	m.lastHeap = m.readHeapAlloc()
	return m.lastHeap
}

func (m *MemoryWatch) readHeapAlloc() uint64 {
	if m.readHeap != nil {
		return m.readHeap()
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// AnyOf is raised when any non-nil signal is raised.
func AnyOf(signals ...Signal) Signal {
	return SignalFunc(func() bool {
		for _, s := range signals {
			if s != nil && s.Raised() {
				return true
			}
		}
		return false
	})
}
