package process

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayProbeWaitsDelay(t *testing.T) {
	start := time.Now()
	require.NoError(t, DelayProbe{}.Wait(context.Background(), 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestDelayProbeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, DelayProbe{}.Wait(ctx, time.Minute), context.Canceled)
}

func TestTCPProbeShortensDelay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	start := time.Now()
	p := TCPProbe{Addr: ln.Addr().String(), Interval: 10 * time.Millisecond}
	require.NoError(t, p.Wait(context.Background(), 10*time.Second))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTCPProbeFallsBackToDelay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	start := time.Now()
	p := TCPProbe{Addr: addr, Interval: 5 * time.Millisecond}
	require.NoError(t, p.Wait(context.Background(), 50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTCPProbeParentCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p := TCPProbe{Addr: "127.0.0.1:1", Interval: 5 * time.Millisecond}
	assert.ErrorIs(t, p.Wait(ctx, time.Minute), context.DeadlineExceeded)
}
