//go:build windows

package process

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// terminateTree kills pid and all of its descendants with taskkill /f /t.
// When taskkill is unavailable or refuses, the top-level process is terminated
// directly.
func terminateTree(pid int) error {
	// #nosec G204
	out, err := exec.Command("taskkill", "/pid", strconv.Itoa(pid), "/f", "/t").CombinedOutput()
	if err == nil {
		return nil
	}
	if kerr := terminatePID(pid); kerr != nil {
		return fmt.Errorf("taskkill pid %d: %v: %s", pid, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// killTree is the same as terminateTree on Windows, which has no gentler
// tree-wide request.
func killTree(pid int) error { return terminateTree(pid) }
