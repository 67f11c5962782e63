// Package scanner discovers the source files of a project, respecting
// exclusion patterns, .gitignore rules and sensitive file patterns.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/xref/internal/source"
)

// ignoreCacheSize bounds the number of parsed .gitignore files kept.
const ignoreCacheSize = 1000

// DefaultMaxFileSize is used when Options.MaxFileSize is zero.
const DefaultMaxFileSize = source.DefaultMaxFileSize

// Options configures a scan.
type Options struct {
	// Root is the project root directory.
	Root string
	// Include restricts results to matching paths. Empty means all.
	Include []string
	Exclude []string
	// RespectGitignore enables .gitignore parsing at every level.
	RespectGitignore bool
	// MaxFileSize skips larger files. Zero means DefaultMaxFileSize.
	MaxFileSize int64
	// Supports filters by language. Nil means source.DefaultRegistry().Supports.
	Supports func(path string) bool
}

// Scanner discovers input units under a root.
type Scanner struct {
	// ignoreCache maps a relative directory to its parsed .gitignore.
	// A nil matcher records that the directory has none.
	ignoreCache *lru.Cache[string, *ignoreMatcher]
	mu          sync.Mutex
}

// New creates a Scanner.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *ignoreMatcher](ignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}
	return &Scanner{ignoreCache: cache}, nil
}

// Scan walks opts.Root and returns a source.Ref for every supported file,
// sorted by path.
func (s *Scanner) Scan(ctx context.Context, opts Options) ([]source.Ref, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	supports := opts.Supports
	if supports == nil {
		supports = source.DefaultRegistry().Supports
	}

	var refs []source.Ref
	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return nil
		}

		rel, err := filepath.Rel(absRoot, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.excludeDir(rel, absRoot, opts) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}
		if !supports(rel) || s.excludeFile(rel, absRoot, opts) {
			return nil
		}
		if len(opts.Include) > 0 && !matchesAny(rel, opts.Include) {
			return nil
		}

		fi, err := d.Info()
		if err != nil || fi.Size() > maxSize {
			return nil
		}
		if isBinaryFile(p) {
			return nil
		}

		refs = append(refs, source.Ref{Path: rel})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

// InvalidateGitignoreCache drops parsed .gitignore files.
func (s *Scanner) InvalidateGitignoreCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreCache.Purge()
}

func (s *Scanner) excludeDir(rel, absRoot string, opts Options) bool {
	for _, pattern := range defaultExcludeDirs {
		if matchDirPattern(rel, pattern) {
			return true
		}
	}
	for _, pattern := range opts.Exclude {
		if matchDirPattern(rel, pattern) {
			return true
		}
	}
	return opts.RespectGitignore && s.gitignored(rel, true, absRoot)
}

func (s *Scanner) excludeFile(rel, absRoot string, opts Options) bool {
	if matchesAny(rel, sensitiveFilePatterns) || matchesAny(rel, opts.Exclude) {
		return true
	}
	return opts.RespectGitignore && s.gitignored(rel, false, absRoot)
}

// gitignored applies every .gitignore from the root down to rel's parent.
// Deeper files override shallower ones.
func (s *Scanner) gitignored(rel string, isDir bool, absRoot string) bool {
	dirs := []string{""}
	if parent := relDir(rel); parent != "" {
		parts := strings.Split(parent, "/")
		for i := range parts {
			dirs = append(dirs, strings.Join(parts[:i+1], "/"))
		}
	}

	ignored := false
	for _, dir := range dirs {
		m := s.matcherFor(absRoot, dir)
		if m == nil {
			continue
		}
		if v, decided := m.match(rel, isDir); decided {
			ignored = v
		}
	}
	return ignored
}

func (s *Scanner) matcherFor(absRoot, dir string) *ignoreMatcher {
	key := absRoot + "\x00" + dir

	s.mu.Lock()
	m, ok := s.ignoreCache.Get(key)
	s.mu.Unlock()
	if ok {
		return m
	}

	file := filepath.Join(absRoot, filepath.FromSlash(dir), ".gitignore")
	m, err := parseIgnoreFile(file, dir)
	if err != nil {
		m = nil
	}

	s.mu.Lock()
	s.ignoreCache.Add(key, m)
	s.mu.Unlock()
	return m
}

// matchDirPattern checks if a slash-separated directory path matches.
func matchDirPattern(rel, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		name := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		if strings.ContainsAny(name, "*?[") {
			return false
		}
		for _, part := range strings.Split(rel, "/") {
			if part == name {
				return true
			}
		}
		return false
	}

	prefix := strings.TrimSuffix(pattern, "/**")
	return rel == prefix || strings.HasPrefix(rel, prefix+"/")
}

// matchFilePattern checks if a slash-separated file path matches.
func matchFilePattern(rel, pattern string) bool {
	base := path.Base(rel)

	switch {
	case strings.HasPrefix(pattern, "**/"):
		rest := strings.TrimPrefix(pattern, "**/")
		if strings.HasSuffix(rest, "/**") {
			return matchDirPattern(relDir(rel), pattern)
		}
		ok, _ := path.Match(rest, base)
		return ok
	case strings.HasSuffix(pattern, "/**"):
		return strings.HasPrefix(rel, strings.TrimSuffix(pattern, "/**")+"/")
	case strings.Contains(pattern, "/"):
		ok, _ := path.Match(pattern, rel)
		return ok
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 2:
		middle := strings.Trim(pattern, "*")
		return strings.Contains(strings.ToLower(base), strings.ToLower(middle))
	default:
		ok, _ := path.Match(pattern, base)
		return ok
	}
}

func matchesAny(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchFilePattern(rel, pattern) {
			return true
		}
	}
	return false
}

// isBinaryFile looks for NUL bytes in the first 512 bytes.
func isBinaryFile(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}

var defaultExcludeDirs = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/.xref/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/.ssh/**",
}

// Sensitive file patterns that are never scanned.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*credentials*",
	"*secrets*",
	"*password*",
	"id_rsa",
	"id_ed25519",
}
