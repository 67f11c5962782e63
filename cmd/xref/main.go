// Package main provides the entry point for the xref CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/xref/cmd/xref/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
