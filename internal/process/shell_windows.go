//go:build windows

package process

import (
	"os/exec"
	"path/filepath"
	"strings"
)

// commandFor returns the command used to run an executable path on Windows.
// Batch files such as start_mysql.bat must run through cmd.exe.
func commandFor(path string, args []string) *exec.Cmd {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bat", ".cmd":
		// #nosec G204
		return exec.Command("cmd", append([]string{"/c", path}, args...)...)
	default:
		// #nosec G204
		return exec.Command(path, args...)
	}
}
