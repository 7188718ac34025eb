package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
		"strings"

	"github.com/loykin/corelauncher/internal/pidfile"
)

// daemonize re-executes the current command in the background without the
// --daemonize flag and exits the parent once the child is started.
func daemonize(out io.Writer, pidFile, logFile string) error {
	if err := checkPidFile(pidFile); err != nil {
		return err
	}
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// #nosec G204
	cmd := exec.Command(executable, childArgs(os.Args[1:])...)
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil

	if logFile != "" {
		// #nosec G304
		logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer func() { _ = logF.Close() }()
		cmd.Stdout = logF
		cmd.Stderr = logF
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}
	if pidFile != "" {
		if err := pidfile.Write(pidFile, cmd.Process.Pid); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
	}
	_, _ = fmt.Fprintf(out, "Daemon started with PID %d\n", cmd.Process.Pid)
	return cmd.Process.Release()
}

// childArgs drops the daemonize flag; the child keeps every other argument.
func childArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--daemonize" || strings.HasPrefix(a, "--daemonize=") {
			continue
		}
		out = append(out, a)
	}
	return out
}

// checkPidFile fails when path names a live daemon. A stale file is ignored
// and overwritten later.
func checkPidFile(path string) error {
	if path == "" {
		return nil
	}
	pid, alive, err := pidfile.Read(path)
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	if alive {
		return fmt.Errorf("daemon already running with PID %d (%s)", pid, path)
	}
	return nil
}
