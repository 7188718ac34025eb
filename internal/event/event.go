package event

import (
	"strconv"
	"strings"
	"time"

	"github.com/loykin/corelauncher/internal/role"
)

// Status is the externally visible lifecycle state of a role.
// Starting carries the startup delay, e.g. "Starting-5000".
type Status string

const (
	StatusStopped Status = "Stopped"
	StatusRunning Status = "Running"
	StatusError   Status = "Error"

	startingPrefix = "Starting-"
)

// Starting returns the status reported while a role waits out its delay.
func Starting(d time.Duration) Status {
	return Status(startingPrefix + strconv.FormatInt(d.Milliseconds(), 10))
}

// IsStarting reports whether s is a Starting status.
func (s Status) IsStarting() bool { return strings.HasPrefix(string(s), startingPrefix) }

// Delay returns the delay embedded in a Starting status.
func (s Status) Delay() (time.Duration, bool) {
	if !s.IsStarting() {
		return 0, false
	}
	ms, err := strconv.ParseInt(strings.TrimPrefix(string(s), startingPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

func (s Status) String() string { return string(s) }

// Stream tags the origin of a log chunk.
type Stream string

const (
	StreamOutput Stream = "output"
	StreamError  Stream = "error"
	StreamInfo   Stream = "info"
)

// StatusEvent reports a status transition of a role.
type StatusEvent struct {
	Role    role.Role `json:"role"`
	Status  Status    `json:"status"`
	Message string    `json:"message,omitempty"`
	PID     int       `json:"pid,omitempty"`
	At      time.Time `json:"at"`
}

// LogEvent carries a chunk of process output or a supervisor note.
type LogEvent struct {
	Role   role.Role `json:"role"`
	Stream Stream    `json:"stream"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Type discriminates Event payloads.
type Type string

const (
	TypeStatus Type = "status"
	TypeLog    Type = "log"
)

// Event is the union delivered to channel subscribers.
type Event struct {
	Type   Type         `json:"type"`
	Status *StatusEvent `json:"status,omitempty"`
	Log    *LogEvent    `json:"log,omitempty"`
}

// Sink receives notifications from the supervisor.
// Implementations must be safe for concurrent use and must not block for long;
// they are called from process monitor goroutines.
type Sink interface {
	OnStatus(e StatusEvent)
	OnLog(e LogEvent)
}
