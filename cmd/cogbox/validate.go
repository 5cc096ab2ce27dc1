// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cogbox/cogbox/internal/plugin"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate plugin manifests without starting the host",
		Long: `Validates every plugin.yaml under the plugins directory against the
manifest schema and naming rules. Does NOT start the host or load any
plugin code. Exits with code 0 on success, non-zero on failure.

Useful in CI pipelines to catch manifest errors early:
  cogbox validate --plugins-dir ./plugins`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runValidate(dir)
		},
	}

	cmd.Flags().StringVar(&dir, "plugins-dir", "./plugins", "directory scanned for plugin manifests")

	return cmd
}

func runValidate(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var checked int
	var errors []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		manifestPath := filepath.Join(dir, entry.Name(), plugin.ManifestFilename)
		data, err := os.ReadFile(manifestPath) //nolint:gosec // manifestPath is constructed from ReadDir entries
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errors = append(errors, fmt.Sprintf("  %s: %v", entry.Name(), err))
			checked++
			continue
		}
		checked++

		if err := plugin.ValidateSchema(data); err != nil {
			errors = append(errors, fmt.Sprintf("  %s: %s", entry.Name(), plugin.FormatSchemaError(err)))
			continue
		}
		if _, err := plugin.ParseManifest(data); err != nil {
			errors = append(errors, fmt.Sprintf("  %s: %v", entry.Name(), err))
		}
	}

	if len(errors) > 0 {
		for _, e := range errors {
			slog.Error("manifest validation failed", "detail", e)
		}
		return fmt.Errorf("validation failed: %d of %d manifests invalid", len(errors), checked)
	}

	slog.Info("all plugin manifests valid", "count", checked)
	return nil
}
