package source

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	xerrors "github.com/Aman-CERP/xref/internal/errors"
)

// Parsed is the result of extracting one buffer.
type Parsed struct {
	Package      string
	Declarations []Symbol
	References   []Reference
	// HasErrors is set when tree-sitter recovered from syntax errors.
	HasErrors bool
}

// Parse extracts declarations and references from src.
// A fresh tree-sitter parser is used per call, so Parse is safe for
// concurrent use.
func Parse(ctx context.Context, src []byte, cfg *LanguageConfig, registry *LanguageRegistry) (*Parsed, error) {
	if bytes.IndexByte(src, 0) >= 0 || !utf8.Valid(src) {
		return nil, xerrors.New(xerrors.ErrCodeFileCorrupt, "content is not UTF-8 text", nil)
	}

	lang, ok := registry.GetTreeSitterLanguage(cfg.Name)
	if !ok {
		return nil, xerrors.New(xerrors.ErrCodeUnsupportedLanguage,
			fmt.Sprintf("no grammar for language: %s", cfg.Name), nil)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, xerrors.New(xerrors.ErrCodeFileCorrupt, "failed to parse source", err)
	}
	if tree == nil {
		return nil, xerrors.New(xerrors.ErrCodeFileCorrupt, "failed to parse source: nil tree", nil)
	}
	defer tree.Close()

	root := tree.RootNode()
	ex := &extraction{
		cfg:  cfg,
		src:  src,
		skip: make(map[uint32]struct{}),
	}
	ex.walk(root)

	return &Parsed{
		Package:      ex.pkg,
		Declarations: ex.decls,
		References:   ex.refs,
		HasErrors:    root.HasError(),
	}, nil
}

type extraction struct {
	cfg   *LanguageConfig
	src   []byte
	pkg   string
	scope []string
	// skip holds start offsets of declaration name nodes.
	skip  map[uint32]struct{}
	decls []Symbol
	refs  []Reference
}

func (e *extraction) walk(n *sitter.Node) {
	if n == nil {
		return
	}
	nodeType := n.Type()

	if e.cfg.PackageNode != "" && nodeType == e.cfg.PackageNode {
		if e.pkg == "" {
			e.pkg = packageName(n, e.src)
		}
		return
	}

	pushed := false
	if kind, ok := e.cfg.Declarations[nodeType]; ok {
		if name := n.ChildByFieldName("name"); name != nil {
			ident := name.Content(e.src)
			e.scope = append(e.scope, ident)
			pushed = true

			pos := name.StartPoint()
			e.decls = append(e.decls, Symbol{
				Name:      ident,
				Kind:      kind,
				Qualified: strings.Join(e.scope, "."),
				Line:      int(pos.Row) + 1,
				Column:    int(pos.Column) + 1,
			})
			e.skip[name.StartByte()] = struct{}{}
		}
	}

	if n.ChildCount() == 0 && e.cfg.isReference(nodeType) {
		if _, isDecl := e.skip[n.StartByte()]; !isDecl {
			pos := n.StartPoint()
			e.refs = append(e.refs, Reference{
				Name:      n.Content(e.src),
				Line:      int(pos.Row) + 1,
				Column:    int(pos.Column) + 1,
				Enclosing: strings.Join(e.scope, "."),
			})
		}
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		e.walk(n.Child(i))
	}

	if pushed {
		e.scope = e.scope[:len(e.scope)-1]
	}
}

// packageName returns the text of the first named child of a package node:
// package_identifier for Go, scoped_identifier or identifier for Java.
func packageName(n *sitter.Node, src []byte) string {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "package_identifier", "scoped_identifier", "identifier":
			return child.Content(src)
		}
	}
	return ""
}
