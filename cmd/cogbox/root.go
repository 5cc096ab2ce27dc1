package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the cogbox CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cogbox",
		Short: "Cogbox - a chat bot host with a plugin runtime",
		Long: `Cogbox hosts a chat bot and its plugins. Plugins register HTTP
routes under /plugins/<name>/, subscribe to gateway and inter-plugin
events, and can be loaded and unloaded without restarting the host.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewSchemaCmd())
	cmd.AddCommand(NewValidateCmd())

	return cmd
}
