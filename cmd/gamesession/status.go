// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// ServerStatus is what status reports about a running server.
type ServerStatus struct {
	Running      bool   `json:"running"`
	Ready        bool   `json:"ready"`
	InstanceName string `json:"instance_name,omitempty"`
	PlayerCount  int    `json:"player_count"`
	Error        string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	apiURL      string
	metricsAddr string
	jsonOutput  bool
	timeout     time.Duration
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running session server",
		Long:  `Query a running server's public API and health endpoint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg, &http.Client{Timeout: cfg.timeout})
		},
	}

	cmd.Flags().StringVar(&cfg.apiURL, "api-url", "http://127.0.0.1:10050", "base URL of the session API")
	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", "127.0.0.1:9100", "metrics/health address (empty = skip readiness)")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Second, "per-request timeout")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig, client *http.Client) error {
	status := queryServerStatus(client, strings.TrimSuffix(cfg.apiURL, "/"), cfg.metricsAddr)

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Print(formatStatusTable(status))
	return nil
}

// queryServerStatus never fails; problems are reported in Error.
func queryServerStatus(client *http.Client, apiURL, metricsAddr string) ServerStatus {
	var status ServerStatus

	name, err := getBody(client, apiURL+"/api/GetInstanceName")
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	status.Running = true
	status.InstanceName = string(name)

	body, err := getBody(client, apiURL+"/api/player_count")
	if err != nil {
		status.Error = fmt.Sprintf("player count: %v", err)
		return status
	}
	var count struct {
		PlayerCount int `json:"player_count"`
	}
	if err := json.Unmarshal(body, &count); err != nil {
		status.Error = fmt.Sprintf("failed to decode player count: %v", err)
		return status
	}
	status.PlayerCount = count.PlayerCount

	if metricsAddr == "" {
		status.Ready = true
		return status
	}
	_, err = getBody(client, "http://"+metricsAddr+"/healthz/readiness")
	status.Ready = err == nil
	if err != nil {
		status.Error = fmt.Sprintf("readiness: %v", err)
	}
	return status
}

func getBody(client *http.Client, url string) ([]byte, error) {
	resp, err := client.Get(url) //nolint:noctx // short-lived CLI request bounded by client timeout
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", url, resp.Status)
	}
	return body, nil
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status ServerStatus) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "INSTANCE\tSTATUS\tREADY\tPLAYERS\tERROR")
	state := "stopped"
	if status.Running {
		state = "running"
	}
	instance, errText := status.InstanceName, status.Error
	if instance == "" {
		instance = "-"
	}
	if errText == "" {
		errText = "-"
	}
	_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\n", instance, state, status.Ready, status.PlayerCount, errText)

	_ = w.Flush()
	return buf.String()
}
