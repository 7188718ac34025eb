//go:build !windows

package process

import (
	"errors"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// descendants returns the PIDs of every process below pid. Helpers that moved
// to their own process group are still found this way.
func descendants(pid int) []int {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var out []int
	for _, c := range children {
		out = append(out, int(c.Pid))
		out = append(out, descendants(int(c.Pid))...)
	}
	return out
}

func signalTree(pid int, sig syscall.Signal) error {
	kids := descendants(pid)
	if err := sendSignal(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		// Group signalling can be refused; fall back to the leader itself.
		if err := sendSignal(pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
			return err
		}
	}
	for _, k := range kids {
		_ = sendSignal(k, sig)
	}
	return nil
}

// terminateTree asks pid, its process group and all descendants to exit.
func terminateTree(pid int) error { return signalTree(pid, syscall.SIGTERM) }

// killTree forcefully kills pid and all descendants. Best-effort.
func killTree(pid int) error { return signalTree(pid, syscall.SIGKILL) }
