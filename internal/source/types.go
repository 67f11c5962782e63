// Package source decodes source files into records of declarations and
// identifier references using tree-sitter.
package source

import (
	"context"
	"path"
	"strings"
)

// Ref identifies one input unit: a file relative to the project root.
type Ref struct {
	// Path is slash-separated and relative to the root.
	Path string
	// Label names the unit in diagnostics. Defaults to Path.
	Label string
}

// String returns the diagnostic label.
func (r Ref) String() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Path
}

// Unit is a top-level unit as seen by the work-set resolver.
type Unit struct {
	// ID is the unit's relative path and its identity.
	ID string
	// QualifiedName is the stable sort key.
	QualifiedName string
	Language      string
}

// SymbolKind classifies a declaration.
type SymbolKind string

const (
	KindClass     SymbolKind = "class"
	KindInterface SymbolKind = "interface"
	KindType      SymbolKind = "type"
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
)

// Symbol is a declaration found in a unit.
type Symbol struct {
	Name string
	Kind SymbolKind
	// Qualified is the dotted path of enclosing declarations, ending in Name.
	Qualified string
	Line      int
	Column    int
}

// Reference is one identifier occurrence that is not a declaration name.
type Reference struct {
	Name   string
	Line   int
	Column int
	// Enclosing is the qualified name of the innermost enclosing
	// declaration, empty at file scope.
	Enclosing string
}

// Record is the decoded form of a unit. It is transient: consumers copy
// what they need and drop it.
type Record struct {
	Unit         Unit
	Package      string
	Declarations []Symbol
	References   []Reference
	Source       []byte
}

// Reader decodes one input unit.
type Reader interface {
	Decode(ctx context.Context, ref Ref) (*Record, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context, ref Ref) (*Record, error)

// Decode calls f.
func (f ReaderFunc) Decode(ctx context.Context, ref Ref) (*Record, error) {
	return f(ctx, ref)
}

// NewUnit derives the unit identity for a file. Java units are named by
// package and file stem; everything else by its dotted path.
func NewUnit(relPath, language, pkg string) Unit {
	relPath = path.Clean(strings.ReplaceAll(relPath, "\\", "/"))
	stem := strings.TrimSuffix(relPath, path.Ext(relPath))

	qualified := strings.ReplaceAll(stem, "/", ".")
	if language == "java" && pkg != "" {
		qualified = pkg + "." + path.Base(stem)
	}

	return Unit{
		ID:            relPath,
		QualifiedName: qualified,
		Language:      language,
	}
}
