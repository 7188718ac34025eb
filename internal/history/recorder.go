package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/loykin/corelauncher/internal/event"
)

const (
	defaultBuffer      = 256
	defaultSendTimeout = 5 * time.Second
)

// Recorder adapts history sinks to the event bus. Status events are queued
// and written by Run so slow stores never block process supervision. Events
// arriving while the queue is full are dropped and logged. Log chunks are not
// persisted.
type Recorder struct {
	sinks   []Sink
	queue   chan Event
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
	dropped int
	done    chan struct{}
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	Buffer      int
	SendTimeout time.Duration
	Logger      *slog.Logger
}

func NewRecorder(opts RecorderOptions, sinks ...Sink) *Recorder {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Recorder{
		sinks:   sinks,
		queue:   make(chan Event, opts.Buffer),
		logger:  opts.Logger,
		timeout: opts.SendTimeout,
		done:    make(chan struct{}),
	}
}

// OnStatus implements event.Sink.
func (r *Recorder) OnStatus(e event.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- FromStatus(e):
	default:
		r.dropped++
		r.logger.Warn("history queue full, dropping event",
			slog.String("role", e.Role.String()),
			slog.String("status", e.Status.String()),
			slog.Int("dropped", r.dropped))
	}
}

// OnLog implements event.Sink.
func (r *Recorder) OnLog(event.LogEvent) {}

// Dropped returns how many events were discarded because the queue was full.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Run writes queued events to every sink until Close is called or ctx is
// cancelled. Events still queued when Close is called are flushed first.
func (r *Recorder) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("history recorder already running")
	}
	r.started = true
	r.mu.Unlock()
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-r.queue:
			if !ok {
				return nil
			}
			if err := r.write(ctx, e); err != nil {
				r.logger.Warn("history write failed",
					slog.String("role", e.Role),
					slog.String("status", e.Status),
					slog.Any("error", err))
			}
		}
	}
}

func (r *Recorder) write(ctx context.Context, e Event) error {
	var errs *multierror.Error
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := s.Send(sctx, e)
		cancel()
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Close stops accepting events, waits for a running Run to drain the queue
// and closes every sink that implements io.Closer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	started := r.started
	r.mu.Unlock()

	if started {
		<-r.done
	}

	var errs *multierror.Error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	return errs.ErrorOrNil()
}
