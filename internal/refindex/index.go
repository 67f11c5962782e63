// Package refindex is the in-memory usage index: target name to the usage
// entries derived so far, plus which units have been derived.
package refindex

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/Aman-CERP/xref/internal/source"
)

const shardCount = 32

// Usage is one derived reference to a name.
type Usage struct {
	Unit      source.Unit `json:"-"`
	Line      int         `json:"line"`
	Column    int         `json:"column"`
	Enclosing string      `json:"enclosing,omitempty"`
	Snippet   string      `json:"snippet"`
}

type shard struct {
	mu      sync.RWMutex
	entries map[string][]Usage
}

// Index is safe for concurrent use. Each Put is atomic: a reader sees
// either none or all of a unit's usages for a name.
type Index struct {
	shards [shardCount]shard

	mu       sync.RWMutex
	expected map[string]struct{}
	derived  map[string]struct{}
	usages   int
}

// New creates an index expecting the given units.
func New(expected []source.Unit) *Index {
	ix := &Index{
		expected: make(map[string]struct{}, len(expected)),
		derived:  make(map[string]struct{}),
	}
	for i := range ix.shards {
		ix.shards[i].entries = make(map[string][]Usage)
	}
	for _, u := range expected {
		ix.expected[u.ID] = struct{}{}
	}
	return ix
}

func shardFor(name string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int(h.Sum32() % shardCount)
}

// Put records the usages derived from unit, keyed by referenced name.
// It returns false, storing nothing, when unit was already derived.
func (ix *Index) Put(unit source.Unit, usages map[string][]Usage) bool {
	byShard := make(map[int][]string)
	for name := range usages {
		s := shardFor(name)
		byShard[s] = append(byShard[s], name)
	}
	order := make([]int, 0, len(byShard))
	for s := range byShard {
		order = append(order, s)
	}
	sort.Ints(order)

	// Shard locks are taken in ascending order, then the unit set.
	for _, s := range order {
		ix.shards[s].mu.Lock()
	}
	defer func() {
		for _, s := range order {
			ix.shards[s].mu.Unlock()
		}
	}()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, done := ix.derived[unit.ID]; done {
		return false
	}
	ix.derived[unit.ID] = struct{}{}

	for _, s := range order {
		sh := &ix.shards[s]
		for _, name := range byShard[s] {
			for _, u := range usages[name] {
				u.Unit = unit
				sh.entries[name] = append(sh.entries[name], u)
				ix.usages++
			}
		}
	}
	return true
}

// Lookup returns a copy of the usages recorded for name.
func (ix *Index) Lookup(name string) []Usage {
	sh := &ix.shards[shardFor(name)]
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	entries := sh.entries[name]
	out := make([]Usage, len(entries))
	copy(out, entries)
	return out
}

// NeedsDerivation reports whether unit has not been derived yet.
func (ix *Index) NeedsDerivation(unit source.Unit) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	_, done := ix.derived[unit.ID]
	return !done
}

// IsComplete reports whether every expected unit has been derived.
func (ix *Index) IsComplete() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	for id := range ix.expected {
		if _, done := ix.derived[id]; !done {
			return false
		}
	}
	return true
}

// Stats is a point-in-time view of index progress.
type Stats struct {
	Expected int  `json:"expected_units"`
	Derived  int  `json:"derived_units"`
	Usages   int  `json:"usages"`
	Complete bool `json:"complete"`
}

// Stats returns current counts.
func (ix *Index) Stats() Stats {
	complete := ix.IsComplete()

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{
		Expected: len(ix.expected),
		Derived:  len(ix.derived),
		Usages:   ix.usages,
		Complete: complete,
	}
}

// Cache holds the process-wide index, which may be absent.
// A nil *Cache behaves as an empty holder.
type Cache struct {
	mu sync.RWMutex
	ix *Index
}

// NewCache returns a holder containing ix, which may be nil.
func NewCache(ix *Index) *Cache {
	return &Cache{ix: ix}
}

// Get returns the index, or nil when absent.
func (c *Cache) Get() *Index {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ix
}

// Set installs ix.
func (c *Cache) Set(ix *Index) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ix = ix
}

// Drop removes the index.
func (c *Cache) Drop() {
	c.Set(nil)
}
