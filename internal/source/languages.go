package source

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes how to pull declarations and references out of
// one grammar.
type LanguageConfig struct {
	Name       string
	Extensions []string
	// Declarations maps declaring node types to their kind. The declared
	// name is the node's "name" field.
	Declarations map[string]SymbolKind
	// References lists identifier node types counted as references.
	References []string
	// PackageNode is the node type holding the package name, if any.
	PackageNode string
}

func (c *LanguageConfig) isReference(nodeType string) bool {
	for _, t := range c.References {
		if t == nodeType {
			return true
		}
	}
	return false
}

// LanguageRegistry manages supported languages and their grammars.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry creates a registry with every built-in language.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}

	r.registerGo()
	r.registerJava()
	r.registerPython()
	r.registerJavaScript()
	r.registerTypeScript()

	return r
}

// ForPath returns the language configuration for a file's extension.
func (r *LanguageRegistry) ForPath(path string) (*LanguageConfig, bool) {
	return r.GetByExtension(filepath.Ext(path))
}

// GetByExtension returns the language configuration for an extension.
func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	name, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	cfg, ok := r.configs[name]
	return cfg, ok
}

// Supports reports whether path has a registered extension.
func (r *LanguageRegistry) Supports(path string) bool {
	_, ok := r.ForPath(path)
	return ok
}

// GetTreeSitterLanguage returns the grammar for a language name.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// SupportedExtensions returns every registered extension, sorted.
func (r *LanguageRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func (r *LanguageRegistry) register(cfg *LanguageConfig, lang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[cfg.Name] = cfg
	r.tsLanguages[cfg.Name] = lang
	for _, ext := range cfg.Extensions {
		r.extToLang[ext] = cfg.Name
	}
}

func (r *LanguageRegistry) registerGo() {
	r.register(&LanguageConfig{
		Name:       "go",
		Extensions: []string{".go"},
		Declarations: map[string]SymbolKind{
			"function_declaration": KindFunction,
			"method_declaration":   KindMethod,
			"type_spec":            KindType,
		},
		References:  []string{"identifier", "type_identifier", "field_identifier"},
		PackageNode: "package_clause",
	}, golang.GetLanguage())
}

func (r *LanguageRegistry) registerJava() {
	r.register(&LanguageConfig{
		Name:       "java",
		Extensions: []string{".java"},
		Declarations: map[string]SymbolKind{
			"class_declaration":       KindClass,
			"interface_declaration":   KindInterface,
			"enum_declaration":        KindType,
			"record_declaration":      KindClass,
			"method_declaration":      KindMethod,
			"constructor_declaration": KindMethod,
		},
		References:  []string{"identifier", "type_identifier"},
		PackageNode: "package_declaration",
	}, java.GetLanguage())
}

func (r *LanguageRegistry) registerPython() {
	r.register(&LanguageConfig{
		Name:       "python",
		Extensions: []string{".py"},
		Declarations: map[string]SymbolKind{
			"class_definition":    KindClass,
			"function_definition": KindFunction,
		},
		References: []string{"identifier"},
	}, python.GetLanguage())
}

func (r *LanguageRegistry) registerJavaScript() {
	r.register(&LanguageConfig{
		Name:       "javascript",
		Extensions: []string{".js", ".mjs", ".jsx"},
		Declarations: map[string]SymbolKind{
			"class_declaration":    KindClass,
			"function_declaration": KindFunction,
			"method_definition":    KindMethod,
		},
		References: []string{"identifier", "property_identifier"},
	}, javascript.GetLanguage())
}

func (r *LanguageRegistry) registerTypeScript() {
	decls := map[string]SymbolKind{
		"class_declaration":      KindClass,
		"interface_declaration":  KindInterface,
		"type_alias_declaration": KindType,
		"function_declaration":   KindFunction,
		"method_definition":      KindMethod,
	}
	refs := []string{"identifier", "property_identifier", "type_identifier"}

	r.register(&LanguageConfig{
		Name:         "typescript",
		Extensions:   []string{".ts"},
		Declarations: decls,
		References:   refs,
	}, typescript.GetLanguage())

	r.register(&LanguageConfig{
		Name:         "tsx",
		Extensions:   []string{".tsx"},
		Declarations: decls,
		References:   refs,
	}, tsx.GetLanguage())
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
