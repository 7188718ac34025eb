//go:build windows

package process

import "syscall"

const processTerminate = 0x0001

// terminatePID ends pid with exit code 1. A process that cannot be opened is
// treated as already gone.
func terminatePID(pid int) error {
	if pid <= 0 {
		return nil
	}
	h, err := syscall.OpenProcess(processTerminate, false, uint32(pid))
	if err != nil {
		return nil
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	return syscall.TerminateProcess(h, 1)
}
