package client

import (
	"encoding/json"
	"time"
)

// RoleStatus is the state of one role as reported by the daemon.
type RoleStatus struct {
	Role       string     `json:"role"`
	Status     string     `json:"status"`
	PID        int        `json:"pid,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	Path       string     `json:"path,omitempty"`
	Configured bool       `json:"configured"`
	Ordered    bool       `json:"ordered"`
	Delay      string     `json:"delay,omitempty"`
}

// Running reports whether the role has a live process.
func (s RoleStatus) Running() bool { return s.PID > 0 }

// Outcome is the result of one stage of a bulk operation.
type Outcome struct {
	Role   string `json:"role"`
	Action string `json:"action"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Report is returned by the start-all, stop-all and restart-all endpoints.
type Report struct {
	ID         string    `json:"id"`
	Op         string    `json:"op"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
	Aborted    bool      `json:"aborted,omitempty"`
}

// Failed returns the outcomes that did not succeed.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Result == "failed" {
			out = append(out, o)
		}
	}
	return out
}

// StatusEvent is a status transition pushed on the event stream.
type StatusEvent struct {
	Role    string    `json:"role"`
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	PID     int       `json:"pid,omitempty"`
	At      time.Time `json:"at"`
}

// LogEvent is a chunk of process output or a supervisor note.
type LogEvent struct {
	Role   string    `json:"role"`
	Stream string    `json:"stream"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Event is one message of the event stream. Name is the SSE event name:
// "ready", "status", "log" or "ping".
type Event struct {
	Name   string          `json:"-"`
	Type   string          `json:"type"`
	Status *StatusEvent    `json:"status,omitempty"`
	Log    *LogEvent       `json:"log,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

// HistoryEvent is a persisted status transition.
type HistoryEvent struct {
	OccurredAt time.Time `json:"occurred_at"`
	Role       string    `json:"role"`
	Status     string    `json:"status"`
	PID        int       `json:"pid,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// Schedule is a cron job registered with the daemon.
type Schedule struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	Action   string     `json:"action"`
	Role     string     `json:"role,omitempty"`
	Running  bool       `json:"running"`
	Runs     int64      `json:"runs"`
	Skipped  int64      `json:"skipped"`
	Next     *time.Time `json:"next,omitempty"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}
