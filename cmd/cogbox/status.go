package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cogbox/cogbox/pkg/envelope"
)

// HostStatus holds the reachability and health of a cogbox host.
type HostStatus struct {
	Addr    string `json:"addr"`
	Running bool   `json:"running"`
	Status  string `json:"status,omitempty"`
	Version string `json:"version,omitempty"`
	Plugins int    `json:"plugins"`
	Error   string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	jsonOutput bool
}

// NewStatusCmd creates the status subcommand with all flags configured.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running cogbox host",
		Long:  `Query the health endpoint of a running cogbox host and report its status.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	// Register flags
	cmd.Flags().StringVar(&cfg.addr, "addr", "http://127.0.0.1:8080", "base URL of the host API")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	status := queryHostStatus(cfg.addr)

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if !status.Running {
		cmd.Printf("cogbox host at %s: not running (%s)\n", cfg.addr, status.Error)
		return nil
	}

	cmd.Printf("cogbox host at %s: %s\n", cfg.addr, status.Status)
	if status.Version != "" {
		cmd.Printf("  version: %s\n", status.Version)
	}
	cmd.Printf("  plugins loaded: %d\n", status.Plugins)
	return nil
}

// queryHostStatus queries the host health endpoint and returns its status.
func queryHostStatus(addr string) HostStatus {
	status := HostStatus{Addr: addr}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(strings.TrimRight(addr, "/") + "/healthz")
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		status.Error = fmt.Sprintf("failed to decode health response: %v", err)
		return status
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		status.Error = fmt.Sprintf("unhealthy response (HTTP %d)", resp.StatusCode)
		return status
	}

	status.Running = true
	if data, ok := env.Data.(map[string]any); ok {
		if v, ok := data["status"].(string); ok {
			status.Status = v
		}
		if v, ok := data["version"].(string); ok {
			status.Version = v
		}
		if n, ok := data["plugins"].(float64); ok {
			status.Plugins = int(n)
		}
	}
	return status
}
