// Package resolve computes the work set for a query: the deduplicated,
// ordered top-level units that reference a target and still need
// derivation.
package resolve

import (
	"sort"

	"github.com/Aman-CERP/xref/internal/refgraph"
	"github.com/Aman-CERP/xref/internal/source"
)

// UsageSource yields every location referencing a target.
type UsageSource interface {
	UsagesOf(target refgraph.Target) []refgraph.Location
}

// Readiness reports which units still need derivation.
type Readiness interface {
	NeedsDerivation(unit source.Unit) bool
}

// WorkSet is an ordered, duplicate-free list of units. It is recomputed
// per query and never cached.
type WorkSet []source.Unit

// Len returns the number of units.
func (ws WorkSet) Len() int { return len(ws) }

// IsEmpty reports whether there is nothing to derive.
func (ws WorkSet) IsEmpty() bool { return len(ws) == 0 }

// IDs returns the unit IDs in order.
func (ws WorkSet) IDs() []string {
	ids := make([]string, len(ws))
	for i, u := range ws {
		ids[i] = u.ID
	}
	return ids
}

// Resolve returns the units referencing target that readiness says still
// need derivation, ordered by qualified name.
func Resolve(target refgraph.Target, graph UsageSource, readiness Readiness) WorkSet {
	locs := graph.UsagesOf(target)
	units := make([]source.Unit, 0, len(locs))
	for _, loc := range locs {
		units = append(units, loc.TopLevel())
	}
	return ForUnits(units, readiness)
}

// ForUnits applies the readiness filter, deduplication by ID and ordering
// to an explicit unit list. A nil readiness keeps every unit.
func ForUnits(units []source.Unit, readiness Readiness) WorkSet {
	seen := make(map[string]struct{}, len(units))
	ws := make(WorkSet, 0, len(units))

	for _, u := range units {
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		if readiness != nil && !readiness.NeedsDerivation(u) {
			continue
		}
		ws = append(ws, u)
	}

	sort.Slice(ws, func(i, j int) bool {
		if ws[i].QualifiedName != ws[j].QualifiedName {
			return ws[i].QualifiedName < ws[j].QualifiedName
		}
		return ws[i].ID < ws[j].ID
	})
	return ws
}
