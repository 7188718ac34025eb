//go:build !windows

package process

import "syscall"

// sendSignal delivers sig to pid; a negative pid addresses a process group.
func sendSignal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}
