// Package pidfile records the daemon PID together with the process start
// time, so a stale file left by a crashed daemon is not mistaken for a live
// one after the PID is reused.
package pidfile

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type meta struct {
	StartUnix int64 `json:"start_unix"`
}

// Write stores pid and its start time in path.
func Write(path string, pid int) error {
	content := strconv.Itoa(pid) + "\n"
	if start := procStartUnix(pid); start > 0 {
		b, err := json.Marshal(meta{StartUnix: start})
		if err != nil {
			return err
		}
		content += string(b) + "\n"
	}
	// #nosec G306
	return os.WriteFile(path, []byte(content), 0o644)
}

// Remove deletes path. A missing file is not an error.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Read returns the PID stored in path and whether that process is still the
// one that wrote it. A missing file yields 0, false, nil.
func Read(path string) (int, bool, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, false, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if len(lines) >= 2 {
		var m meta
		if err := json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &m); err == nil && m.StartUnix > 0 {
			if cur := procStartUnix(pid); cur > 0 && cur != m.StartUnix {
				// pid reused by an unrelated process
				return pid, false, nil
			}
		}
	}
	return pid, pidAlive(pid), nil
}
