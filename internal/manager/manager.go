package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/corelauncher/internal/event"
	"github.com/loykin/corelauncher/internal/metrics"
	"github.com/loykin/corelauncher/internal/process"
	"github.com/loykin/corelauncher/internal/role"
)

const (
	DefaultStopSettle    = 2 * time.Second
	DefaultRestartSettle = 5 * time.Second
)

// Bulk operation names used in reports, logs and metrics.
const (
	OpStartAll   = "start-all"
	OpStopAll    = "stop-all"
	OpRestartAll = "restart-all"
)

// Options configures a Manager.
type Options struct {
	Registry *role.Registry
	Bus      *event.Bus
	// Env is the merged environment for launched processes.
	Env           []string
	Probes        map[role.Role]process.Probe
	StopTimeout   time.Duration
	ProcessSettle time.Duration
	// Zero settles use the defaults; negative values disable them.
	StopSettle    time.Duration
	RestartSettle time.Duration
	Logger        *slog.Logger
}

// Manager sequences operations over the managed roles. It owns the process
// table through its controller; there is no other shared state.
type Manager struct {
	reg           *role.Registry
	bus           *event.Bus
	ctrl          *process.Controller
	stopSettle    time.Duration
	restartSettle time.Duration
	logger        *slog.Logger
}

func New(opts Options) *Manager {
	m := &Manager{
		reg:           opts.Registry,
		bus:           opts.Bus,
		stopSettle:    opts.StopSettle,
		restartSettle: opts.RestartSettle,
		logger:        opts.Logger,
	}
	if m.reg == nil {
		m.reg = role.New(role.Options{})
	}
	if m.bus == nil {
		m.bus = event.NewBus()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.stopSettle == 0 {
		m.stopSettle = DefaultStopSettle
	}
	if m.restartSettle == 0 {
		m.restartSettle = DefaultRestartSettle
	}
	m.ctrl = process.NewController(process.Options{
		Registry:      m.reg,
		Sink:          m.bus,
		Env:           opts.Env,
		StopTimeout:   opts.StopTimeout,
		ProcessSettle: opts.ProcessSettle,
		Probes:        opts.Probes,
		Logger:        m.logger,
	})
	return m
}

func (m *Manager) Registry() *role.Registry        { return m.reg }
func (m *Manager) Bus() *event.Bus                 { return m.bus }
func (m *Manager) Controller() *process.Controller { return m.ctrl }

// Launch starts r from its configured path. Ordered roles are waited for and
// reported Running before Launch returns.
func (m *Manager) Launch(ctx context.Context, r role.Role) error {
	if err := m.ctrl.Launch(ctx, r, m.reg.Path(r), nil); err != nil {
		return err
	}
	return m.ctrl.AwaitReady(ctx, r)
}

// Stop terminates the process tree of r.
func (m *Manager) Stop(ctx context.Context, r role.Role) error {
	return m.ctrl.Stop(ctx, r)
}

// Restart replaces the process of r with a fresh one from its configured path.
func (m *Manager) Restart(ctx context.Context, r role.Role) error {
	return m.ctrl.Restart(ctx, r, m.reg.Path(r), nil)
}

// StartAll launches db, auth and world in that order, waiting each role's
// delay before the next. Roles already running are left alone; the client
// is never started. A failed stage is recorded and the sequence continues.
// The returned error is non-nil only when ctx ended the sequence early.
func (m *Manager) StartAll(ctx context.Context) (*Report, error) {
	rep := newReport(OpStartAll)
	defer m.finish(rep)
	if err := m.startSequence(ctx, rep); err != nil {
		return rep, err
	}
	return rep, nil
}

// StopAll stops world, auth and db in that order with a settle delay after
// each stop that is followed by another stage. Roles without a live record
// are skipped silently.
func (m *Manager) StopAll(ctx context.Context) (*Report, error) {
	rep := newReport(OpStopAll)
	defer m.finish(rep)
	if err := m.stopSequence(ctx, rep); err != nil {
		return rep, err
	}
	return rep, nil
}

// RestartAll runs the StopAll sequence, waits the restart settle delay and
// then runs the StartAll sequence.
func (m *Manager) RestartAll(ctx context.Context) (*Report, error) {
	rep := newReport(OpRestartAll)
	defer m.finish(rep)
	if err := m.stopSequence(ctx, rep); err != nil {
		return rep, err
	}
	if err := m.pause(ctx, rep, m.restartSettle); err != nil {
		return rep, err
	}
	if err := m.startSequence(ctx, rep); err != nil {
		return rep, err
	}
	return rep, nil
}

func (m *Manager) startSequence(ctx context.Context, rep *Report) error {
	for _, r := range m.reg.OrderedRoles() {
		if m.ctrl.Table().Live(r) {
			rep.skip(r, "launch")
			continue
		}
		err := m.ctrl.Launch(ctx, r, m.reg.Path(r), nil)
		if err == nil {
			err = m.ctrl.AwaitReady(ctx, r)
		}
		if cerr := ctx.Err(); cerr != nil {
			rep.add(r, "launch", cerr)
			rep.Aborted = true
			return cerr
		}
		m.stage(rep, r, "launch", err)
	}
	return nil
}

func (m *Manager) stopSequence(ctx context.Context, rep *Report) error {
	order := m.reg.ReverseOrderedRoles()
	for i, r := range order {
		if !m.ctrl.Table().Live(r) {
			rep.skip(r, "stop")
			continue
		}
		err := m.ctrl.Stop(ctx, r)
		if cerr := ctx.Err(); cerr != nil {
			rep.add(r, "stop", cerr)
			rep.Aborted = true
			return cerr
		}
		m.stage(rep, r, "stop", err)
		if i < len(order)-1 {
			if err := m.pause(ctx, rep, m.stopSettle); err != nil {
				return err
			}
		}
	}
	return nil
}

// stage records a finished stage; failures are logged and swallowed.
func (m *Manager) stage(rep *Report, r role.Role, action string, err error) {
	rep.add(r, action, err)
	if err != nil {
		metrics.IncBulkFailure(rep.Op, r.String())
		m.logger.Warn("bulk stage failed, continuing",
			slog.String("op", rep.Op),
			slog.String("id", rep.ID),
			slog.String("role", r.String()),
			slog.String("action", action),
			slog.Any("error", err))
	}
}

func (m *Manager) pause(ctx context.Context, rep *Report, d time.Duration) error {
	if err := process.Sleep(ctx, d); err != nil {
		rep.Aborted = true
		return err
	}
	return nil
}

func (m *Manager) finish(rep *Report) {
	rep.FinishedAt = time.Now()
	elapsed := rep.FinishedAt.Sub(rep.StartedAt)
	metrics.ObserveBulk(rep.Op, elapsed.Seconds())
	m.logger.Info("bulk operation finished",
		slog.String("op", rep.Op),
		slog.String("id", rep.ID),
		slog.Duration("elapsed", elapsed),
		slog.Int("failed", len(rep.Failed())),
		slog.Bool("aborted", rep.Aborted))
}

// RoleStatus is the externally visible state of one role.
type RoleStatus struct {
	Role       role.Role    `json:"role"`
	Status     event.Status `json:"status"`
	PID        int          `json:"pid,omitempty"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	Path       string       `json:"path,omitempty"`
	Configured bool         `json:"configured"`
	Ordered    bool         `json:"ordered"`
	Delay      string       `json:"delay,omitempty"`
}

// Status returns the state of every role in registry order.
func (m *Manager) Status() []RoleStatus {
	snap := m.ctrl.Table().Snapshot()
	out := make([]RoleStatus, 0, len(role.All))
	for _, r := range role.All {
		d, _ := m.reg.Definition(r)
		st := RoleStatus{
			Role:       r,
			Status:     event.StatusStopped,
			Path:       d.Path,
			Configured: d.Path != "",
			Ordered:    d.Ordered,
		}
		if d.Ordered {
			st.Delay = d.Delay.String()
		}
		if rec, ok := snap[r]; ok && rec.Live {
			st.Status = rec.Status
			st.PID = rec.PID
			started := rec.StartedAt
			st.StartedAt = &started
		}
		out = append(out, st)
	}
	return out
}

// StatusOf returns the state of a single role.
func (m *Manager) StatusOf(r role.Role) (RoleStatus, error) {
	for _, st := range m.Status() {
		if st.Role == r {
			return st, nil
		}
	}
	return RoleStatus{}, fmt.Errorf("unknown role %q", r)
}

// Shutdown stops every live role, ordered roles in shutdown order first,
// without settle delays. It is used when the supervisor itself exits.
func (m *Manager) Shutdown(ctx context.Context) {
	roles := append([]role.Role{role.Client}, m.reg.ReverseOrderedRoles()...)
	for _, r := range roles {
		if !m.ctrl.Table().Live(r) {
			continue
		}
		if err := m.ctrl.Stop(ctx, r); err != nil {
			m.logger.Warn("shutdown stop failed", slog.String("role", r.String()), slog.Any("error", err))
		}
	}
}
