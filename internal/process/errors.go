package process

import (
	"errors"
	"fmt"
	"os/exec"
)

var (
	// ErrAlreadyRunning is returned by Launch when the role has a live record.
	ErrAlreadyRunning = errors.New("already running")
	// ErrNotRunning is returned by Stop when the role has no live record.
	ErrNotRunning = errors.New("not running")
	// ErrBusy is returned when another launch/stop/restart holds the role.
	ErrBusy = errors.New("busy: another operation is in progress for this role")
	// ErrLaunch wraps failures to spawn the executable.
	ErrLaunch = errors.New("launch failed")
	// ErrStop wraps failures to request termination.
	ErrStop = errors.New("stop failed")
	// ErrUnconfigured is returned when a role has no executable path.
	ErrUnconfigured = errors.New("executable path not configured")
)

// exitCode extracts the exit code from a cmd.Wait error. It returns -1 when
// the process was terminated by a signal.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func exitMessage(err error) string {
	code := exitCode(err)
	if code == -1 && err != nil {
		return fmt.Sprintf("Process exited with code %d (%v)", code, err)
	}
	return fmt.Sprintf("Process exited with code %d", code)
}
