// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/gamesession/internal/whitelist"
)

// NewWhitelistCmd creates the whitelist command group. Edits are safe
// while the server runs; it re-reads the file on every login.
func NewWhitelistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Inspect and edit the login whitelist",
	}
	cmd.PersistentFlags().String("whitelist-path", whitelist.DefaultPath, "whitelist JSON file")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print every whitelisted name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wl, err := openWhitelist(cmd)
			if err != nil {
				return err
			}
			names, err := wl.List()
			if err != nil {
				return err
			}
			for _, name := range names {
				cmd.Println(name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add NAME",
		Short: "Whitelist NAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wl, err := openWhitelist(cmd)
			if err != nil {
				return err
			}
			added, err := wl.Add(args[0])
			if err != nil {
				return err
			}
			if added {
				cmd.Printf("Added %s\n", args[0])
			} else {
				cmd.Printf("%s is already whitelisted\n", args[0])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove NAME",
		Short: "Remove NAME from the whitelist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wl, err := openWhitelist(cmd)
			if err != nil {
				return err
			}
			removed, err := wl.Remove(args[0])
			if err != nil {
				return err
			}
			if removed {
				cmd.Printf("Removed %s\n", args[0])
			} else {
				cmd.Printf("%s is not whitelisted\n", args[0])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename OLD NEW",
		Short: "Replace OLD with NEW in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wl, err := openWhitelist(cmd)
			if err != nil {
				return err
			}
			if err := wl.Rename(args[0], args[1]); err != nil {
				return err
			}
			cmd.Printf("Renamed %s to %s\n", args[0], args[1])
			return nil
		},
	})

	return cmd
}

// openWhitelist resolves the whitelist path from --whitelist-path or the
// config file.
func openWhitelist(cmd *cobra.Command) (*whitelist.File, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return whitelist.New(cfg.WhitelistPath), nil
}
