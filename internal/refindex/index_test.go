package refindex

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/xref/internal/source"
)

func unit(id string) source.Unit {
	return source.NewUnit(id, "go", "")
}

func TestIndex_PutAndLookup(t *testing.T) {
	// Given: an index expecting two units
	a, b := unit("a.go"), unit("b.go")
	ix := New([]source.Unit{a, b})

	// When: one unit is put
	ok := ix.Put(a, map[string][]Usage{
		"Run": {{Line: 3, Column: 2, Snippet: "Run()"}},
	})

	// Then: its usages are visible and stamped with the unit
	require.True(t, ok)
	got := ix.Lookup("Run")
	require.Len(t, got, 1)
	assert.Equal(t, "a.go", got[0].Unit.ID)
	assert.Equal(t, "Run()", got[0].Snippet)

	// And: progress reflects one of two units
	assert.False(t, ix.NeedsDerivation(a))
	assert.True(t, ix.NeedsDerivation(b))
	assert.False(t, ix.IsComplete())
	assert.Equal(t, Stats{Expected: 2, Derived: 1, Usages: 1, Complete: false}, ix.Stats())
}

func TestIndex_PutIsIdempotentPerUnit(t *testing.T) {
	a := unit("a.go")
	ix := New([]source.Unit{a})
	usages := map[string][]Usage{"Run": {{Line: 1, Column: 1}}}

	assert.True(t, ix.Put(a, usages))
	assert.False(t, ix.Put(a, usages))

	assert.Len(t, ix.Lookup("Run"), 1)
	assert.True(t, ix.IsComplete())
}

func TestIndex_PutEmptyMarksDerived(t *testing.T) {
	a := unit("a.go")
	ix := New([]source.Unit{a})

	assert.True(t, ix.Put(a, nil))
	assert.True(t, ix.IsComplete())
}

func TestIndex_EmptyExpectedIsComplete(t *testing.T) {
	assert.True(t, New(nil).IsComplete())
}

func TestIndex_LookupReturnsCopy(t *testing.T) {
	a := unit("a.go")
	ix := New([]source.Unit{a})
	ix.Put(a, map[string][]Usage{"Run": {{Line: 1}}})

	got := ix.Lookup("Run")
	got[0].Line = 42

	assert.Equal(t, 1, ix.Lookup("Run")[0].Line)
	assert.Empty(t, ix.Lookup("Missing"))
}

func TestIndex_ConcurrentPutsAreAtomicPerUnit(t *testing.T) {
	// Given: many units, each referencing the same names
	var units []source.Unit
	for i := 0; i < 64; i++ {
		units = append(units, unit(fmt.Sprintf("u%02d.go", i)))
	}
	ix := New(units)

	// When: every unit is put twice from concurrent goroutines
	var wg sync.WaitGroup
	for _, u := range units {
		for rep := 0; rep < 2; rep++ {
			wg.Add(1)
			go func(u source.Unit) {
				defer wg.Done()
				ix.Put(u, map[string][]Usage{
					"Alpha": {{Line: 1}},
					"Beta":  {{Line: 2}, {Line: 3}},
				})
			}(u)
		}
	}
	wg.Wait()

	// Then: each unit contributed exactly once
	assert.Len(t, ix.Lookup("Alpha"), 64)
	assert.Len(t, ix.Lookup("Beta"), 128)
	assert.True(t, ix.IsComplete())
}

func TestCache_AbsentAndPresent(t *testing.T) {
	var nilCache *Cache
	assert.Nil(t, nilCache.Get())

	c := NewCache(nil)
	assert.Nil(t, c.Get())

	ix := New(nil)
	c.Set(ix)
	assert.Same(t, ix, c.Get())

	c.Drop()
	assert.Nil(t, c.Get())
}
