//go:build !windows

package process

import (
	"os/exec"
	"path/filepath"
	"strings"
)

// commandFor returns the command used to run an executable path on Unix.
// Shell scripts are handed to /bin/sh so they need not carry an exec bit.
func commandFor(path string, args []string) *exec.Cmd {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sh":
		// #nosec G204
		return exec.Command("/bin/sh", append([]string{path}, args...)...)
	default:
		// #nosec G204
		return exec.Command(path, args...)
	}
}
