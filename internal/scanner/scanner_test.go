package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func scanPaths(t *testing.T, opts Options) []string {
	t.Helper()
	s, err := New()
	require.NoError(t, err)

	refs, err := s.Scan(context.Background(), opts)
	require.NoError(t, err)

	paths := make([]string, 0, len(refs))
	for _, r := range refs {
		paths = append(paths, r.Path)
	}
	return paths
}

func TestScan_FindsSupportedSourcesSorted(t *testing.T) {
	// Given: a project with source, docs and dependency directories
	root := t.TempDir()
	createFiles(t, root, map[string]string{
		"main.go":                   "package main\n",
		"pkg/b/B.java":              "class B {}\n",
		"pkg/a/a.py":                "x = 1\n",
		"README.md":                 "# docs\n",
		"node_modules/lib/index.js": "module.exports = 1\n",
		".git/hooks/pre-commit.py":  "pass\n",
		"web/app.tsx":               "export const A = 1\n",
	})

	// When: scanning
	paths := scanPaths(t, Options{Root: root})

	// Then: only supported files outside default exclusions, in path order
	assert.Equal(t, []string{"main.go", "pkg/a/a.py", "pkg/b/B.java", "web/app.tsx"}, paths)
}

func TestScan_RespectsGitignore(t *testing.T) {
	// Given: root and nested .gitignore files
	root := t.TempDir()
	createFiles(t, root, map[string]string{
		".gitignore":      "gen/\n*_gen.go\n",
		"a.go":            "package a\n",
		"a_gen.go":        "package a\n",
		"gen/x.go":        "package gen\n",
		"sub/.gitignore":  "local.py\n!keep_gen.go\n",
		"sub/local.py":    "pass\n",
		"sub/other.py":    "pass\n",
		"sub/keep_gen.go": "package sub\n",
	})

	// When: scanning with gitignore enabled
	paths := scanPaths(t, Options{Root: root, RespectGitignore: true})

	// Then: ignored paths are skipped and negation in a deeper file wins
	assert.Equal(t, []string{"a.go", "sub/keep_gen.go", "sub/other.py"}, paths)

	// And: with gitignore disabled everything supported is found
	all := scanPaths(t, Options{Root: root})
	assert.Len(t, all, 6)
}

func TestScan_ExcludeAndIncludePatterns(t *testing.T) {
	root := t.TempDir()
	createFiles(t, root, map[string]string{
		"src/app.js":         "a()\n",
		"src/app.min.js":     "a()\n",
		"src/generated/g.js": "g()\n",
		"test/app_test.js":   "t()\n",
	})

	paths := scanPaths(t, Options{
		Root:    root,
		Exclude: []string{"**/*.min.js", "**/generated/**"},
		Include: []string{"src/**"},
	})

	assert.Equal(t, []string{"src/app.js"}, paths)
}

func TestScan_SkipsSensitiveLargeAndBinaryFiles(t *testing.T) {
	root := t.TempDir()
	createFiles(t, root, map[string]string{
		"ok.go":      "package ok\n",
		"secrets.go": "package ok\n",
		"big.go":     "package big\n// padding padding padding\n",
		"blob.py":    "x\x00y",
	})

	paths := scanPaths(t, Options{Root: root, MaxFileSize: 20})

	assert.Equal(t, []string{"ok.go"}, paths)
}

func TestScan_CustomSupports(t *testing.T) {
	root := t.TempDir()
	createFiles(t, root, map[string]string{"a.go": "package a\n", "b.java": "class b {}\n"})

	paths := scanPaths(t, Options{
		Root:     root,
		Supports: func(p string) bool { return filepath.Ext(p) == ".java" },
	})

	assert.Equal(t, []string{"b.java"}, paths)
}

func TestScan_InvalidRoot(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	_, err = s.Scan(context.Background(), Options{Root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "f.go")
	require.NoError(t, os.WriteFile(file, []byte("package f\n"), 0o644))
	_, err = s.Scan(context.Background(), Options{Root: file})
	assert.ErrorContains(t, err, "not a directory")
}

func TestScan_CancelledContext(t *testing.T) {
	root := t.TempDir()
	createFiles(t, root, map[string]string{"a.go": "package a\n"})

	s, err := New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Scan(ctx, Options{Root: root})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatchFilePattern(t *testing.T) {
	tests := []struct {
		rel     string
		pattern string
		want    bool
	}{
		{"a/b/c.min.js", "**/*.min.js", true},
		{"a/b/c.js", "**/*.min.js", false},
		{"docs/x/y.go", "docs/**", true},
		{"src/docs.go", "docs/**", false},
		{"a/.env", ".env", true},
		{"a/.env.local", ".env.*", true},
		{"cfg/db_credentials.py", "*credentials*", true},
		{"a/gen/x.go", "**/gen/**", true},
		{"pkg/x.go", "pkg/*.go", true},
		{"pkg/sub/x.go", "pkg/*.go", false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, matchFilePattern(tc.rel, tc.pattern), "%s vs %s", tc.rel, tc.pattern)
	}
}

func TestIgnoreMatcher(t *testing.T) {
	m := &ignoreMatcher{}
	for _, line := range []string{"# comment", "", "/build", "*.log", "!keep.log", "logs/", "docs/**/*.tmp", "[!a]x.go"} {
		m.add(line, "")
	}

	tests := []struct {
		rel   string
		isDir bool
		want  bool
	}{
		{"build", true, true},
		{"build/out.go", false, true},
		{"src/build", true, false},
		{"a/debug.log", false, true},
		{"keep.log", false, false},
		{"logs", true, true},
		{"x/logs/today.go", false, true},
		{"logs", false, false},
		{"docs/a/b/c.tmp", false, true},
		{"bx.go", false, true},
		{"ax.go", false, false},
	}

	for _, tc := range tests {
		got, _ := m.match(tc.rel, tc.isDir)
		assert.Equal(t, tc.want, got, tc.rel)
	}
}

func TestInvalidateGitignoreCache(t *testing.T) {
	root := t.TempDir()
	createFiles(t, root, map[string]string{".gitignore": "a.go\n", "a.go": "package a\n", "b.go": "package b\n"})

	s, err := New()
	require.NoError(t, err)
	opts := Options{Root: root, RespectGitignore: true}

	refs, err := s.Scan(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, refs, 1)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("b.go\n"), 0o644))
	s.InvalidateGitignoreCache()

	refs, err = s.Scan(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "a.go", refs[0].Path)
}
