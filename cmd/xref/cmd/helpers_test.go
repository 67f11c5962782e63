package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const shapesSrc = `package shapes

type Circle struct{ R float64 }

func (c Circle) Area() float64 { return c.R * c.R }

func Total(cs []Circle) float64 {
	var t float64
	for _, c := range cs {
		t += c.Area()
	}
	return t
}
`

const mainSrc = `package main

import "example/shapes"

func main() {
	_ = shapes.Total(nil)
	var c shapes.Circle
	_ = c.Area()
}
`

// writeProject creates a two-unit Go project with memory pressure
// detection disabled, and isolates the user config.
func writeProject(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	root := t.TempDir()
	files := map[string]string{
		"shapes/shapes.go": shapesSrc,
		"app/main.go":      mainSrc,
		".xref.yaml":       "pipeline:\n  memory_limit: \"off\"\n  pool_size: 2\n",
	}
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	errOut := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
