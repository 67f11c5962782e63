// Package refgraph holds the load-time reference graph: which units refer
// to which names, and where each name is declared.
package refgraph

import (
	"sort"
	"strings"
	"sync"

	xerrors "github.com/Aman-CERP/xref/internal/errors"
	"github.com/Aman-CERP/xref/internal/source"
)

// Location is one reference site.
type Location struct {
	Unit      source.Unit
	Line      int
	Column    int
	Enclosing string
}

// TopLevel returns the unit containing the location.
func (l Location) TopLevel() source.Unit {
	return l.Unit
}

// Declaration is a declared symbol and where it lives.
type Declaration struct {
	Symbol source.Symbol
	Unit   source.Unit
	// FullName prefixes the symbol path with its package or unit name.
	FullName string
}

// Location returns the declaration site.
func (d Declaration) Location() Location {
	return Location{Unit: d.Unit, Line: d.Symbol.Line, Column: d.Symbol.Column}
}

// Target is what a query asks about. Matching is by simple Name.
type Target struct {
	Name      string
	Qualified string
	// Decl is the declaration site, when known. It is never a result.
	Decl *Location
	Kind source.SymbolKind
}

// String returns the qualified name, or the simple name.
func (t Target) String() string {
	if t.Qualified != "" {
		return t.Qualified
	}
	return t.Name
}

// Graph is safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	refs  map[string][]Location
	decls map[string][]Declaration
	units map[string]source.Unit
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		refs:  make(map[string][]Location),
		decls: make(map[string][]Declaration),
		units: make(map[string]source.Unit),
	}
}

// Add copies the references and declarations of rec into the graph.
// Adding the same unit twice is a no-op.
func (g *Graph) Add(rec *source.Record) {
	if rec == nil {
		return
	}
	unit := rec.Unit

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, seen := g.units[unit.ID]; seen {
		return
	}
	g.units[unit.ID] = unit

	for _, ref := range rec.References {
		g.refs[ref.Name] = append(g.refs[ref.Name], Location{
			Unit:      unit,
			Line:      ref.Line,
			Column:    ref.Column,
			Enclosing: ref.Enclosing,
		})
	}

	prefix := unit.QualifiedName
	if unit.Language == "java" {
		prefix = rec.Package
	}
	for _, sym := range rec.Declarations {
		full := sym.Qualified
		if prefix != "" {
			full = prefix + "." + sym.Qualified
		}
		g.decls[sym.Name] = append(g.decls[sym.Name], Declaration{
			Symbol:   sym,
			Unit:     unit,
			FullName: full,
		})
	}
}

// UsagesOf returns every reference to target.Name, in load order.
func (g *Graph) UsagesOf(target Target) []Location {
	g.mu.RLock()
	defer g.mu.RUnlock()

	locs := g.refs[target.Name]
	out := make([]Location, len(locs))
	copy(out, locs)
	return out
}

// Units returns every loaded unit, sorted by qualified name.
func (g *Graph) Units() []source.Unit {
	g.mu.RLock()
	units := make([]source.Unit, 0, len(g.units))
	for _, u := range g.units {
		units = append(units, u)
	}
	g.mu.RUnlock()

	sort.Slice(units, func(i, j int) bool {
		if units[i].QualifiedName != units[j].QualifiedName {
			return units[i].QualifiedName < units[j].QualifiedName
		}
		return units[i].ID < units[j].ID
	})
	return units
}

// UnitCount returns the number of loaded units.
func (g *Graph) UnitCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.units)
}

// Declarations returns the declarations named name, sorted by full name.
func (g *Graph) Declarations(name string) []Declaration {
	g.mu.RLock()
	decls := append([]Declaration(nil), g.decls[name]...)
	g.mu.RUnlock()

	sort.Slice(decls, func(i, j int) bool { return decls[i].FullName < decls[j].FullName })
	return decls
}

// Resolve turns a user query into a Target. The query may be a simple name
// ("greet"), a partial path ("Greeter.greet") or a full name
// ("com.acme.Greeter.greet"). An unknown name still yields a Target so
// that lexical references can be found.
func (g *Graph) Resolve(query string) (Target, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Target{}, xerrors.New(xerrors.ErrCodeQueryEmpty, "symbol is required", nil)
	}

	name := query
	if i := strings.LastIndex(query, "."); i >= 0 {
		name = query[i+1:]
	}
	if name == "" {
		return Target{}, xerrors.New(xerrors.ErrCodeInvalidInput, "symbol must not end with '.'", nil).
			WithDetail("symbol", query)
	}

	for _, d := range g.Declarations(name) {
		if d.FullName == query || d.Symbol.Qualified == query || d.Symbol.Name == query ||
			strings.HasSuffix(d.FullName, "."+query) {
			loc := d.Location()
			return Target{
				Name:      name,
				Qualified: d.FullName,
				Decl:      &loc,
				Kind:      d.Symbol.Kind,
			}, nil
		}
	}

	return Target{Name: name}, nil
}
