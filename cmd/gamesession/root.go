// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/gamesession/internal/config"
	"github.com/holomush/gamesession/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the gamesession CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gamesession",
		Short: "Game session server",
		Long: `gamesession authenticates console clients with signed platform tickets,
tracks their sessions and presence, and streams session lifecycle events
to connected game server processes.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/gamesession/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewWhitelistCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}

// loadConfig reads --config, or the XDG config file when it exists, with
// cmd's flags layered on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile, true, cmd.Flags())
	}
	path, err := xdg.ConfigFile()
	if err != nil {
		path = ""
	}
	return config.Load(path, false, cmd.Flags())
}
