package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/loykin/corelauncher/internal/event"
	"github.com/loykin/corelauncher/internal/metrics"
	"github.com/loykin/corelauncher/internal/role"
)

const (
	DefaultStopTimeout   = 5 * time.Second
	DefaultProcessSettle = 1 * time.Second

	// waitDelay bounds how long cmd.Wait keeps copying output after the
	// process itself exited; helpers inheriting stdout must not pin it.
	waitDelay = 2 * time.Second
)

// Options configures a Controller.
type Options struct {
	Registry *role.Registry
	Table    *Table
	Sink     event.Sink
	// Env is the complete environment of launched processes in K=V form.
	// Empty means inherit the supervisor environment.
	Env           []string
	StopTimeout   time.Duration
	ProcessSettle time.Duration
	Probes        map[role.Role]Probe
	Logger        *slog.Logger
}

// Controller launches and stops the process of a single role at a time.
type Controller struct {
	table       *Table
	reg         *role.Registry
	sink        event.Sink
	env         []string
	stopTimeout time.Duration
	settle      time.Duration
	probes      map[role.Role]Probe
	logger      *slog.Logger

	// replaced in tests
	terminate func(pid int) error
	kill      func(pid int) error
	now       func() time.Time
}

func NewController(opts Options) *Controller {
	c := &Controller{
		table:       opts.Table,
		reg:         opts.Registry,
		sink:        opts.Sink,
		env:         opts.Env,
		stopTimeout: opts.StopTimeout,
		settle:      opts.ProcessSettle,
		probes:      make(map[role.Role]Probe, len(opts.Probes)),
		logger:      opts.Logger,
		terminate:   terminateTree,
		kill:        killTree,
		now:         time.Now,
	}
	if c.table == nil {
		c.table = NewTable()
	}
	if c.reg == nil {
		c.reg = role.New(role.Options{})
	}
	if c.sink == nil {
		c.sink = event.NewBus()
	}
	if c.stopTimeout <= 0 {
		c.stopTimeout = DefaultStopTimeout
	}
	if c.settle < 0 {
		c.settle = 0
	} else if c.settle == 0 {
		c.settle = DefaultProcessSettle
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	for r, p := range opts.Probes {
		if p != nil {
			c.probes[r] = p
		}
	}
	return c
}

func (c *Controller) Table() *Table            { return c.table }
func (c *Controller) Registry() *role.Registry { return c.reg }

// PIDs returns the PID of every live role keyed by role name.
func (c *Controller) PIDs() map[string]int {
	out := make(map[string]int)
	for r, rec := range c.table.Snapshot() {
		if rec.Live {
			out[r.String()] = rec.PID
		}
	}
	return out
}

// Launch spawns command for role r. It returns as soon as the process has
// been started; the initial status is Starting-<delay> for ordered roles and
// Running for the client. Use AwaitReady to wait out the startup delay.
func (c *Controller) Launch(ctx context.Context, r role.Role, command string, args []string) error {
	if !c.table.TryLock(r) {
		return fmt.Errorf("%s: %w", r, ErrBusy)
	}
	defer c.table.Unlock(r)
	return c.launchLocked(ctx, r, command, args)
}

func (c *Controller) launchLocked(_ context.Context, r role.Role, command string, args []string) error {
	if c.table.Live(r) {
		return fmt.Errorf("%s: %w", r, ErrAlreadyRunning)
	}
	if command == "" {
		return c.launchFailed(r, ErrUnconfigured)
	}

	cmd := commandFor(command, args)
	cmd.Dir = filepath.Dir(command)
	if len(c.env) > 0 {
		cmd.Env = c.env
	}
	configureSysProcAttr(cmd)
	cmd.Stdout = &chunkWriter{sink: c.sink, role: r, stream: event.StreamOutput, now: c.now}
	cmd.Stderr = &chunkWriter{sink: c.sink, role: r, stream: event.StreamError, now: c.now}
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return c.launchFailed(r, err)
	}

	pid := cmd.Process.Pid
	initial := event.StatusRunning
	if c.reg.IsOrdered(r) {
		initial = event.Starting(c.reg.DelayFor(r))
	}
	done := make(chan struct{})
	c.table.Set(r, Record{
		PID:       pid,
		Live:      true,
		StartedAt: c.now(),
		Command:   command,
		done:      done,
	})
	c.setStatus(r, pid, initial, "")
	metrics.IncLaunch(r.String())
	c.logger.Info("process launched",
		slog.String("role", r.String()),
		slog.Int("pid", pid),
		slog.String("command", command),
		slog.String("dir", cmd.Dir))

	go c.wait(r, cmd, pid, done)
	return nil
}

func (c *Controller) launchFailed(r role.Role, cause error) error {
	metrics.IncLaunchFailure(r.String())
	c.publishStatus(r, 0, "", event.StatusError, cause.Error())
	c.publishLog(r, event.StreamError, "Failed to start: "+cause.Error())
	c.logger.Error("process launch failed", slog.String("role", r.String()), slog.Any("error", cause))
	return fmt.Errorf("%s: %w: %w", r, ErrLaunch, cause)
}

// wait observes the exit of pid and is the only caller of cmd.Wait.
func (c *Controller) wait(r role.Role, cmd *exec.Cmd, pid int, done chan struct{}) {
	defer close(done)
	err := cmd.Wait()
	if errors.Is(err, exec.ErrWaitDelay) {
		// the process exited; only its output copy was cut short
		err = nil
	}
	msg := exitMessage(err)
	metrics.IncExit(r.String())
	if rec, ok := c.table.Take(r, pid); ok {
		c.publishStatus(r, pid, rec.Status, event.StatusStopped, msg)
	}
	c.publishLog(r, event.StreamInfo, msg)
	c.logger.Info("process exited", slog.String("role", r.String()), slog.Int("pid", pid), slog.Int("code", exitCode(err)))
}

// Stop terminates the process tree of r and waits for its exit, at most the
// stop timeout. The record is cleared in either case. Only a failed
// termination request leaves the record in place.
func (c *Controller) Stop(ctx context.Context, r role.Role) error {
	if !c.table.TryLock(r) {
		return fmt.Errorf("%s: %w", r, ErrBusy)
	}
	defer c.table.Unlock(r)
	return c.stopLocked(ctx, r)
}

func (c *Controller) stopLocked(ctx context.Context, r role.Role) error {
	rec, ok := c.table.Get(r)
	if !ok || !rec.Live {
		return fmt.Errorf("%s: %w", r, ErrNotRunning)
	}
	if err := c.terminate(rec.PID); err != nil {
		c.logger.Error("terminate failed", slog.String("role", r.String()), slog.Int("pid", rec.PID), slog.Any("error", err))
		return fmt.Errorf("%s: %w: %w", r, ErrStop, err)
	}
	metrics.IncStop(r.String())
	c.logger.Info("stop requested", slog.String("role", r.String()), slog.Int("pid", rec.PID))

	timer := time.NewTimer(c.stopTimeout)
	defer timer.Stop()
	select {
	case <-rec.Done():
		return nil
	case <-timer.C:
		metrics.IncStopTimeout(r.String())
		c.logger.Warn("no exit observed before stop timeout, clearing record",
			slog.String("role", r.String()),
			slog.Int("pid", rec.PID),
			slog.Duration("timeout", c.stopTimeout))
		if err := c.kill(rec.PID); err != nil {
			c.logger.Debug("kill after stop timeout", slog.String("role", r.String()), slog.Any("error", err))
		}
		c.forget(r, rec.PID, "stop timed out")
		return nil
	case <-ctx.Done():
		c.forget(r, rec.PID, "stop cancelled")
		return ctx.Err()
	}
}

// forget clears the record of pid when the exit monitor has not already.
func (c *Controller) forget(r role.Role, pid int, why string) {
	if rec, ok := c.table.Take(r, pid); ok {
		c.publishStatus(r, pid, rec.Status, event.StatusStopped, why)
	}
}

// Restart stops r when it is running, waits the process settle delay, then
// launches command and waits until the role is ready.
func (c *Controller) Restart(ctx context.Context, r role.Role, command string, args []string) error {
	if !c.table.TryLock(r) {
		return fmt.Errorf("%s: %w", r, ErrBusy)
	}
	err := c.restartLocked(ctx, r, command, args)
	c.table.Unlock(r)
	if err != nil {
		return err
	}
	return c.AwaitReady(ctx, r)
}

func (c *Controller) restartLocked(ctx context.Context, r role.Role, command string, args []string) error {
	if c.table.Live(r) {
		if err := c.stopLocked(ctx, r); err != nil && !errors.Is(err, ErrNotRunning) {
			return err
		}
		if err := sleep(ctx, c.settle); err != nil {
			return err
		}
	}
	return c.launchLocked(ctx, r, command, args)
}

// AwaitReady waits the startup delay of r (or its probe) and reports Running.
// It fails with ErrNotRunning when the process exited or was replaced in the
// meantime. Unordered roles are ready immediately.
func (c *Controller) AwaitReady(ctx context.Context, r role.Role) error {
	rec, ok := c.table.Get(r)
	if !ok || !rec.Live {
		return fmt.Errorf("%s: %w", r, ErrNotRunning)
	}
	if !c.reg.IsOrdered(r) || rec.Status == event.StatusRunning {
		return nil
	}
	probe, ok := c.probes[r]
	if !ok {
		probe = DelayProbe{}
	}
	start := c.now()
	if err := probe.Wait(ctx, c.reg.DelayFor(r)); err != nil {
		return err
	}
	if !c.setStatus(r, rec.PID, event.StatusRunning, "") {
		return fmt.Errorf("%s: %w: exited during startup", r, ErrNotRunning)
	}
	metrics.ObserveStartupWait(r.String(), c.now().Sub(start).Seconds())
	return nil
}

// setStatus records st on the record of pid and publishes it. It reports
// false when pid no longer owns the role.
func (c *Controller) setStatus(r role.Role, pid int, st event.Status, msg string) bool {
	prev, ok := c.table.SetStatus(r, pid, st)
	if !ok {
		return false
	}
	c.publishStatus(r, pid, prev, st, msg)
	return true
}

func (c *Controller) publishStatus(r role.Role, pid int, prev, st event.Status, msg string) {
	metrics.RecordStatus(r.String(), prev.String(), st.String())
	c.sink.OnStatus(event.StatusEvent{Role: r, Status: st, Message: msg, PID: pid, At: c.now()})
}

func (c *Controller) publishLog(r role.Role, stream event.Stream, text string) {
	c.sink.OnLog(event.LogEvent{Role: r, Stream: stream, Text: text, At: c.now()})
}

// chunkWriter forwards process output to the sink as log events, one event
// per write.
type chunkWriter struct {
	sink   event.Sink
	role   role.Role
	stream event.Stream
	now    func() time.Time
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.sink.OnLog(event.LogEvent{Role: w.role, Stream: w.stream, Text: string(p), At: w.now()})
	return len(p), nil
}
