// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cogbox/cogbox/internal/plugin"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the plugin manifest JSON Schema",
		Long: `Generate the JSON Schema that plugin.yaml manifests are validated
against, for editor integration and CI checks.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchema(cmd, outPath)
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "write the schema to a file instead of stdout")

	return cmd
}

func runSchema(cmd *cobra.Command, outPath string) error {
	schema, err := plugin.GenerateSchema()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if outPath == "" {
		cmd.Println(string(schema))
		return nil
	}

	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(outPath, schema, 0o600); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}

	cmd.Printf("Generated %s\n", outPath)
	return nil
}
