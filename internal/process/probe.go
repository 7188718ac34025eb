package process

import (
	"context"
	"net"
	"time"
)

// Probe decides when a freshly launched role counts as ready. delay is the
// role's configured startup delay.
type Probe interface {
	Wait(ctx context.Context, delay time.Duration) error
}

// DelayProbe waits the configured delay. This is the default: the managed
// servers expose no readiness signal.
type DelayProbe struct{}

func (DelayProbe) Wait(ctx context.Context, delay time.Duration) error {
	return sleep(ctx, delay)
}

// TCPProbe polls a TCP address until it accepts a connection. The role delay
// (or Timeout when set) bounds the wait; when it elapses the role is treated
// as ready anyway, so the probe only ever shortens the fixed delay.
type TCPProbe struct {
	Addr     string
	Interval time.Duration
	Timeout  time.Duration
}

func (p TCPProbe) Wait(ctx context.Context, delay time.Duration) error {
	limit := delay
	if p.Timeout > 0 {
		limit = p.Timeout
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	probeCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	var d net.Dialer
	for {
		conn, err := d.DialContext(probeCtx, "tcp", p.Addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		select {
		case <-probeCtx.Done():
			// the caller's context wins over the probe deadline
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sleep is the cooperative wait used between orchestration stages.
func Sleep(ctx context.Context, d time.Duration) error { return sleep(ctx, d) }
