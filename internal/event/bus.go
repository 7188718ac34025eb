package event

import (
	"sync"

	"github.com/loykin/corelauncher/internal/role"
)

// Bus fans events out to registered sinks and channel subscribers.
// Sinks are called synchronously in publish order. Subscribers receive events
// through buffered channels; when a subscriber's buffer is full the event is
// dropped for that subscriber so a stalled consumer cannot block supervision.
type Bus struct {
	mu     sync.RWMutex
	sinks  []Sink
	subs   map[int]chan Event
	nextID int
}

func NewBus(sinks ...Sink) *Bus {
	return &Bus{
		sinks: append([]Sink(nil), sinks...),
		subs:  make(map[int]chan Event),
	}
}

// AddSink registers an additional sink.
func (b *Bus) AddSink(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Subscribe returns a channel receiving every subsequent event and a cancel
// function that unregisters and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// OnStatus implements Sink so buses can be chained.
func (b *Bus) OnStatus(e StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sinks {
		s.OnStatus(e)
	}
	b.deliverLocked(Event{Type: TypeStatus, Status: &e})
}

// OnLog implements Sink.
func (b *Bus) OnLog(e LogEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sinks {
		s.OnLog(e)
	}
	b.deliverLocked(Event{Type: TypeLog, Log: &e})
}

func (b *Bus) deliverLocked(ev Event) {
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Recorder is a Sink that keeps every event in memory. It is used by tests
// and by the status endpoint to expose the last known status per role.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	last   map[role.Role]StatusEvent
}

func NewRecorder() *Recorder {
	return &Recorder{last: make(map[role.Role]StatusEvent)}
}

func (r *Recorder) OnStatus(e StatusEvent) {
	r.mu.Lock()
	r.events = append(r.events, Event{Type: TypeStatus, Status: &e})
	r.last[e.Role] = e
	r.mu.Unlock()
}

func (r *Recorder) OnLog(e LogEvent) {
	r.mu.Lock()
	r.events = append(r.events, Event{Type: TypeLog, Log: &e})
	r.mu.Unlock()
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Statuses returns recorded status events, optionally filtered by role.
func (r *Recorder) Statuses(roles ...role.Role) []StatusEvent {
	want := make(map[role.Role]bool, len(roles))
	for _, x := range roles {
		want[x] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StatusEvent, 0, len(r.events))
	for _, e := range r.events {
		if e.Type != TypeStatus {
			continue
		}
		if len(want) > 0 && !want[e.Status.Role] {
			continue
		}
		out = append(out, *e.Status)
	}
	return out
}

// Logs returns recorded log events for a role.
func (r *Recorder) Logs(ro role.Role) []LogEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LogEvent
	for _, e := range r.events {
		if e.Type == TypeLog && e.Log.Role == ro {
			out = append(out, *e.Log)
		}
	}
	return out
}

// Last returns the most recent status of a role.
func (r *Recorder) Last(ro role.Role) (StatusEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.last[ro]
	return e, ok
}
