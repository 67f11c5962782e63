package scanner

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
)

// ignoreRule is one compiled .gitignore line.
type ignoreRule struct {
	regex    *regexp.Regexp
	negation bool
	dirOnly  bool
	anchored bool
	// base is the directory holding the .gitignore, relative to the root.
	base string
}

// ignoreMatcher holds the rules of one .gitignore file.
// Matching is read-only after construction.
type ignoreMatcher struct {
	rules []ignoreRule
}

func parseIgnoreFile(file, base string) (*ignoreMatcher, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open gitignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	m := &ignoreMatcher{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.add(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read gitignore file: %w", err)
	}
	return m, nil
}

func (m *ignoreMatcher) add(line, base string) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	r := ignoreRule{base: base}
	switch {
	case strings.HasPrefix(line, `\#`), strings.HasPrefix(line, `\!`):
		line = line[1:]
	case strings.HasPrefix(line, "!"):
		r.negation = true
		line = line[1:]
	}

	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	// "doc/frotz" is relative to the .gitignore directory.
	if strings.Contains(line, "/") && !strings.HasPrefix(line, "**/") {
		r.anchored = true
	}
	if line == "" {
		return
	}

	re, err := regexp.Compile("^" + globToRegex(line) + "$")
	if err != nil {
		return
	}
	r.regex = re
	m.rules = append(m.rules, r)
}

// match reports whether rel (slash-separated, relative to the root) is
// ignored. The last matching rule wins.
func (m *ignoreMatcher) match(rel string, isDir bool) (ignored, decided bool) {
	for _, r := range m.rules {
		if r.matches(rel, isDir) {
			ignored = !r.negation
			decided = true
		}
	}
	return ignored, decided
}

func (r ignoreRule) matches(rel string, isDir bool) bool {
	if r.base != "" {
		if !strings.HasPrefix(rel, r.base+"/") {
			return false
		}
		rel = strings.TrimPrefix(rel, r.base+"/")
	}

	parts := strings.Split(rel, "/")

	if r.anchored {
		if r.regex.MatchString(rel) {
			return !r.dirOnly || isDir
		}
		// Files below a matched directory are ignored with it.
		for i := 1; i < len(parts); i++ {
			if r.regex.MatchString(strings.Join(parts[:i], "/")) {
				return true
			}
		}
		return false
	}

	for i, part := range parts {
		if !r.regex.MatchString(part) {
			continue
		}
		if i < len(parts)-1 {
			return true
		}
		return !r.dirOnly || isDir
	}
	return r.regex.MatchString(rel) && (!r.dirOnly || isDir)
}

// globToRegex converts gitignore glob syntax to a regular expression.
func globToRegex(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				if i+2 < len(glob) && glob[i+2] == '/' {
					b.WriteString("(?:.*/)?")
					i += 2
					continue
				}
				b.WriteString(".*")
				i++
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i:], ']')
			if end < 0 {
				b.WriteString(regexp.QuoteMeta("["))
				continue
			}
			class := glob[i+1 : i+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end
		case '\\':
			if i+1 < len(glob) {
				b.WriteString(regexp.QuoteMeta(string(glob[i+1])))
				i++
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}

// relDir returns the slash-separated parent of rel, or "" at the root.
func relDir(rel string) string {
	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}
	return dir
}
