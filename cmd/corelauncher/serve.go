package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/corelauncher"
	"github.com/loykin/corelauncher/internal/pidfile"
)

const shutdownTimeout = 30 * time.Second

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config]",
		Short: "Run the supervisor daemon",
		Long: `Run the supervisor daemon. It owns the managed processes and exposes
the HTTP API used by the other commands. On SIGINT or SIGTERM every running
role is stopped before the daemon exits.

Examples:
  corelauncher serve
  corelauncher serve launcher.toml --start-all
  corelauncher serve --daemonize --pidfile=/run/corelauncher.pid --logfile=/var/log/corelauncher.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				globalFlags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), cmd, globalFlags, serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file (with --daemonize)")
	cmd.Flags().BoolVar(&serveFlags.AutoStart, "start-all", false, "start db, auth and world once the API is up")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, g *GlobalFlags, f *ServeFlags) error {
	cfg, err := corelauncher.LoadConfig(g.configPath())
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if !cfg.IsConfigured {
		return fmt.Errorf("launcher is not configured: run `corelauncher configure` first (config %s)", g.configPath())
	}
	if f.Daemonize {
		return daemonize(cmd.OutOrStdout(), f.PidFile, f.LogFile)
	}

	log := cfg.Log.NewSlogger(cmd.ErrOrStderr())
	slog.SetDefault(log)

	if f.PidFile != "" {
		if pid, alive, _ := pidfile.Read(f.PidFile); alive && pid != os.Getpid() {
			return fmt.Errorf("daemon already running with PID %d (%s)", pid, f.PidFile)
		}
		if err := pidfile.Write(f.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = pidfile.Remove(f.PidFile) }()
	}

	sup, err := corelauncher.NewSupervisor(ctx, cfg, log)
	if err != nil {
		return err
	}

	var servers []*http.Server
	errCh := make(chan error, 2)
	if cfg.Metrics.Enabled {
		if err := corelauncher.RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", slog.Any("error", err))
		}
		if cfg.Metrics.Listen != "" {
			ms := corelauncher.NewMetricsServer(cfg.Metrics.Listen)
			servers = append(servers, ms)
			go serveHTTP(ms, errCh)
			log.Info("metrics listening", slog.String("addr", cfg.Metrics.Listen))
		}
	}

	// cancelled on shutdown so event streams and in-flight waits end
	ctx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	sup.Start(ctx)
	api := sup.NewHTTPServer(ctx)
	servers = append(servers, api)
	go serveHTTP(api, errCh)
	log.Info("corelauncher API listening",
		slog.String("addr", cfg.Server.Listen),
		slog.String("base_path", cfg.Server.BasePath))

	if f.AutoStart {
		go func() {
			rep, err := sup.Manager().StartAll(ctx)
			if err != nil {
				log.Warn("start-all interrupted", slog.Any("error", err))
				return
			}
			if rep.Err() != nil {
				log.Warn("start-all finished with failures", slog.Any("error", rep.Err()))
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("server failed", slog.Any("error", runErr))
	}
	stopRun()

	shCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		_ = s.Shutdown(shCtx)
	}
	if err := sup.Close(shCtx); err != nil {
		log.Warn("shutdown finished with errors", slog.Any("error", err))
	}
	return runErr
}

func serveHTTP(s *http.Server, errCh chan<- error) {
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("listen %s: %w", s.Addr, err)
	}
}
