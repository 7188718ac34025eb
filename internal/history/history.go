// Package history persists role status transitions to external stores.
package history

import (
	"context"
	"time"

	"github.com/loykin/corelauncher/internal/event"
)

// Event is one persisted status transition.
type Event struct {
	OccurredAt time.Time `json:"occurred_at"`
	Role       string    `json:"role"`
	Status     string    `json:"status"`
	PID        int       `json:"pid,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// FromStatus converts a bus status event into a history event.
func FromStatus(e event.StatusEvent) Event {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	return Event{
		OccurredAt: at.UTC(),
		Role:       e.Role.String(),
		Status:     e.Status.String(),
		PID:        e.PID,
		Message:    e.Message,
	}
}

// Sink is a destination for history events.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
