package process

import (
	"sync"
	"time"

	"github.com/loykin/corelauncher/internal/event"
	"github.com/loykin/corelauncher/internal/role"
)

// Record is the runtime state of a role's current process.
type Record struct {
	PID       int          `json:"pid"`
	Live      bool         `json:"live"`
	Status    event.Status `json:"status"`
	StartedAt time.Time    `json:"started_at"`
	Command   string       `json:"command"`

	done chan struct{} // closed after the monitor has observed exit
}

// Done returns a channel closed once the process exit has been observed.
// It is nil for records not created by a Controller.
func (r Record) Done() <-chan struct{} { return r.done }

// Table maps roles to their current Record.
//
// Two kinds of locks are involved:
//   - mu guards the map itself; every Get/Set/Clear is atomic.
//   - ops holds one mutex per role, taken by launch/stop/restart so that
//     overlapping requests on the same role serialize. The exit monitor never
//     takes an ops lock, only mu.
type Table struct {
	mu   sync.RWMutex
	recs map[role.Role]Record
	ops  map[role.Role]*sync.Mutex
}

func NewTable() *Table {
	t := &Table{
		recs: make(map[role.Role]Record),
		ops:  make(map[role.Role]*sync.Mutex, len(role.All)),
	}
	for _, r := range role.All {
		t.ops[r] = &sync.Mutex{}
	}
	return t
}

// Get returns the record of r, if any.
func (t *Table) Get(r role.Role) (Record, bool) {
	t.mu.RLock()
	rec, ok := t.recs[r]
	t.mu.RUnlock()
	return rec, ok
}

// Live reports whether r has a live record.
func (t *Table) Live(r role.Role) bool {
	rec, ok := t.Get(r)
	return ok && rec.Live
}

// Set replaces the record of r.
func (t *Table) Set(r role.Role, rec Record) {
	t.mu.Lock()
	t.recs[r] = rec
	t.mu.Unlock()
}

// Clear removes the record of r.
func (t *Table) Clear(r role.Role) {
	t.mu.Lock()
	delete(t.recs, r)
	t.mu.Unlock()
}

// ClearIf removes the record of r only when it belongs to pid. It reports
// whether a record was removed. A late exit of a replaced process therefore
// cannot erase the record of its successor.
func (t *Table) ClearIf(r role.Role, pid int) bool {
	_, ok := t.Take(r, pid)
	return ok
}

// Take is ClearIf returning the removed record.
func (t *Table) Take(r role.Role, pid int) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.recs[r]
	if !ok || rec.PID != pid {
		return Record{}, false
	}
	delete(t.recs, r)
	return rec, true
}

// SetStatus updates the status of r's record when it belongs to pid and
// returns the previous status.
func (t *Table) SetStatus(r role.Role, pid int, st event.Status) (event.Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.recs[r]
	if !ok || rec.PID != pid {
		return "", false
	}
	prev := rec.Status
	rec.Status = st
	t.recs[r] = rec
	return prev, true
}

// Snapshot returns a copy of all records.
func (t *Table) Snapshot() map[role.Role]Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[role.Role]Record, len(t.recs))
	for k, v := range t.recs {
		out[k] = v
	}
	return out
}

func (t *Table) opLock(r role.Role) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.ops[r]
	if !ok {
		m = &sync.Mutex{}
		t.ops[r] = m
	}
	return m
}

// TryLock claims the operation lock of r without blocking.
func (t *Table) TryLock(r role.Role) bool { return t.opLock(r).TryLock() }

// Unlock releases the operation lock of r.
func (t *Table) Unlock(r role.Role) { t.opLock(r).Unlock() }
