//go:build !windows

package pidfile

import (
	"errors"
	"syscall"
)

// pidAlive reports whether pid exists. EPERM means it exists under another user.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
