package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// buildRoot creates the command tree writing to out.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.SetOut(out)

	root.AddCommand(
		createServeCommand(globalFlags),
		createRoleCommand(globalFlags, "launch", "Launch one role and wait until it is running", roleLaunch),
		createRoleCommand(globalFlags, "stop", "Stop one role and its child processes", roleStop),
		createRoleCommand(globalFlags, "restart", "Restart one role", roleRestart),
		createBulkCommand(globalFlags, "start-all", "Start db, auth and world in order, waiting for each", bulkStartAll),
		createBulkCommand(globalFlags, "stop-all", "Stop world, auth and db in order", bulkStopAll),
		createBulkCommand(globalFlags, "restart-all", "Stop everything, wait, then start everything", bulkRestartAll),
		createStatusCommand(globalFlags),
		createEventsCommand(globalFlags),
		createHistoryCommand(globalFlags),
		createSchedulesCommand(globalFlags),
		createConfigureCommand(globalFlags),
		createPathsCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "corelauncher",
		Short: "Launch and supervise a db/auth/world game-server stack",
		Long: `corelauncher starts, stops and monitors the database, authentication
server, world server and game client of a local game-server stack.

Examples:
  corelauncher configure --db=/srv/mysql/start.sh --auth=/srv/core/authserver --world=/srv/core/worldserver
  corelauncher serve                  # run the supervisor daemon
  corelauncher start-all              # start db, auth, world in order
  corelauncher status
  corelauncher events world           # follow world status and output`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (json, toml or yaml; default config.json)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon API base URL (default from server.listen and server.base_path)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 2*time.Minute, "timeout for daemon requests")
	root.PersistentFlags().BoolVar(&flags.JSON, "json", false, "print machine-readable JSON")
	return root
}
