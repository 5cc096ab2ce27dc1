// Package main is the entry point for the cogbox host.
package main

import (
	"fmt"
	"os"
)

// Version information set at build time.
var (
	version = "0.0.0-dev"
	commit  = "unknown"
	date    = "unknown"
)

// formatVersion renders the string shown by --version.
func formatVersion(version, commit, date string) string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

func run() int {
	cmd := NewRootCmd()
	cmd.Version = formatVersion(version, commit, date)

	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}
