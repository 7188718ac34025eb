package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/corelauncher"
)

func createConfigureCommand(g *GlobalFlags) *cobra.Command {
	cf := &ConfigureFlags{}
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Set executable paths and delays and save the config file",
		Long: `Record where each server executable lives. Once db, auth and world are
set the launcher is marked configured and "serve" will start.

Examples:
  corelauncher configure --db=/srv/mysql/start.sh --auth=/srv/core/authserver --world=/srv/core/worldserver
  corelauncher configure --client="/games/wow/Wow.exe" --world-delay=40s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := g.configPath()
			cfg, err := corelauncher.LoadConfig(path)
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			for _, p := range []struct {
				role corelauncher.Role
				val  string
			}{
				{corelauncher.RoleDB, cf.DB},
				{corelauncher.RoleAuth, cf.Auth},
				{corelauncher.RoleWorld, cf.World},
				{corelauncher.RoleClient, cf.Client},
			} {
				if p.val == "" {
					continue
				}
				abs, err := executablePath(p.val, cf.SkipCheck)
				if err != nil {
					return fmt.Errorf("%s: %w", p.role, err)
				}
				cfg.Paths.Set(p.role, abs)
			}
			if cmd.Flags().Changed("db-delay") {
				cfg.Delays.DB = cf.DBDelay
			}
			if cmd.Flags().Changed("auth-delay") {
				cfg.Delays.Auth = cf.AuthDelay
			}
			if cmd.Flags().Changed("world-delay") {
				cfg.Delays.World = cf.WorldDelay
			}
			cfg.IsConfigured = cfg.Paths.DB != "" && cfg.Paths.Auth != "" && cfg.Paths.World != ""
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.JSON {
				return printJSON(out, cfg.Public())
			}
			_, _ = fmt.Fprintf(out, "Saved %s (configured: %t)\n", path, cfg.IsConfigured)
			return nil
		},
	}
	cmd.Flags().StringVar(&cf.DB, "db", "", "database start script or executable")
	cmd.Flags().StringVar(&cf.Auth, "auth", "", "authentication server executable")
	cmd.Flags().StringVar(&cf.World, "world", "", "world server executable")
	cmd.Flags().StringVar(&cf.Client, "client", "", "game client executable (optional)")
	cmd.Flags().DurationVar(&cf.DBDelay, "db-delay", 0, "wait after launching db")
	cmd.Flags().DurationVar(&cf.AuthDelay, "auth-delay", 0, "wait after launching auth")
	cmd.Flags().DurationVar(&cf.WorldDelay, "world-delay", 0, "wait after launching world")
	cmd.Flags().BoolVar(&cf.SkipCheck, "skip-check", false, "do not require the executables to exist")
	return cmd
}

func executablePath(p string, skipCheck bool) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if skipCheck {
		return abs, nil
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return "", errors.New(abs + " is a directory")
	}
	return abs, nil
}

func createPathsCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the configured executable paths and delays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := corelauncher.LoadConfig(g.configPath())
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			out := cmd.OutOrStdout()
			reg := cfg.Registry()
			if g.JSON {
				type entry struct {
					Role  string `json:"role"`
					Path  string `json:"path"`
					Delay string `json:"delay,omitempty"`
				}
				var entries []entry
				for _, r := range []corelauncher.Role{corelauncher.RoleDB, corelauncher.RoleAuth, corelauncher.RoleWorld, corelauncher.RoleClient} {
					e := entry{Role: r.String(), Path: reg.Path(r)}
					if reg.IsOrdered(r) {
						e.Delay = reg.DelayFor(r).String()
					}
					entries = append(entries, e)
				}
				return printJSON(out, entries)
			}
			for _, r := range []corelauncher.Role{corelauncher.RoleDB, corelauncher.RoleAuth, corelauncher.RoleWorld, corelauncher.RoleClient} {
				path := reg.Path(r)
				if path == "" {
					path = "(not set)"
				}
				delay := "-"
				if reg.IsOrdered(r) {
					delay = reg.DelayFor(r).Round(time.Millisecond).String()
				}
				_, _ = fmt.Fprintf(out, "%-7s %-8s %s\n", r, delay, path)
			}
			if !cfg.IsConfigured {
				_, _ = fmt.Fprintln(out, "launcher is not configured")
			}
			return nil
		},
	}
}
