// Package schedule runs role operations on cron schedules, such as a nightly
// restart of the world server.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/corelauncher/internal/manager"
	"github.com/loykin/corelauncher/internal/role"
)

// Action is the operation a job performs.
type Action string

const (
	ActionLaunch     Action = "launch"
	ActionStop       Action = "stop"
	ActionRestart    Action = "restart"
	ActionStartAll   Action = "start-all"
	ActionStopAll    Action = "stop-all"
	ActionRestartAll Action = "restart-all"
)

func (a Action) singleRole() bool {
	return a == ActionLaunch || a == ActionStop || a == ActionRestart
}

func (a Action) valid() bool {
	switch a {
	case ActionLaunch, ActionStop, ActionRestart, ActionStartAll, ActionStopAll, ActionRestartAll:
		return true
	}
	return false
}

// Manager is the subset of *manager.Manager a scheduler drives.
type Manager interface {
	Launch(ctx context.Context, r role.Role) error
	Stop(ctx context.Context, r role.Role) error
	Restart(ctx context.Context, r role.Role) error
	StartAll(ctx context.Context) (*manager.Report, error)
	StopAll(ctx context.Context) (*manager.Report, error)
	RestartAll(ctx context.Context) (*manager.Report, error)
}

// Job is one scheduled operation. Schedule accepts five-field cron
// expressions with an optional leading seconds field, and descriptors such
// as "@daily" or "@every 6h". A tick that fires while the previous run of the
// same job is still in progress is skipped.
type Job struct {
	Name     string
	Schedule string
	Action   Action
	// Role is required for launch, stop and restart and ignored otherwise.
	Role role.Role

	entry   cron.EntryID
	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64
}

// Runs returns how many times the job has fired.
func (j *Job) Runs() int64 { return j.runs.Load() }

// Skipped returns how many ticks were dropped because a run was in progress.
func (j *Job) Skipped() int64 { return j.skipped.Load() }

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the job without scheduling it.
func (j *Job) Validate() error {
	_, err := j.parse()
	return err
}

func (j *Job) parse() (cron.Schedule, error) {
	if strings.TrimSpace(j.Name) == "" {
		return nil, errors.New("schedule requires a name")
	}
	if !j.Action.valid() {
		return nil, fmt.Errorf("schedule %s: unknown action %q", j.Name, j.Action)
	}
	if j.Action.singleRole() {
		if _, err := role.Parse(j.Role.String()); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", j.Name, err)
		}
	}
	sched, err := parser.Parse(j.Schedule)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: invalid expression %q: %w", j.Name, j.Schedule, err)
	}
	return sched, nil
}

// Options configures a Scheduler.
type Options struct {
	// Location interprets the cron expressions; nil means local time.
	Location *time.Location
	Logger   *slog.Logger
}

// Scheduler fires jobs against a Manager. Start it once and Stop it once.
type Scheduler struct {
	mgr    Manager
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	jobs    []*Job
	names   map[string]bool
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func New(mgr Manager, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		mgr:    mgr,
		cron:   cron.New(cron.WithParser(parser), cron.WithLocation(opts.Location)),
		logger: opts.Logger,
		names:  make(map[string]bool),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add validates and registers j. Names must be unique.
func (s *Scheduler) Add(j *Job) error {
	sched, err := j.parse()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names[j.Name] {
		return fmt.Errorf("schedule %s: duplicate name", j.Name)
	}
	s.names[j.Name] = true
	s.jobs = append(s.jobs, j)
	j.entry = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(j) }))
	return nil
}

// Jobs returns the registered jobs.
func (s *Scheduler) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Job(nil), s.jobs...)
}

// Info describes a registered job.
type Info struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	Action   Action     `json:"action"`
	Role     role.Role  `json:"role,omitempty"`
	Running  bool       `json:"running"`
	Runs     int64      `json:"runs"`
	Skipped  int64      `json:"skipped"`
	Next     *time.Time `json:"next,omitempty"`
}

// Snapshot returns the registered jobs in the order they were added. Next is
// only known once the scheduler has started.
func (s *Scheduler) Snapshot() []Info {
	jobs := s.Jobs()
	out := make([]Info, 0, len(jobs))
	for _, j := range jobs {
		in := Info{
			Name: j.Name, Schedule: j.Schedule, Action: j.Action,
			Running: j.running.Load(), Runs: j.Runs(), Skipped: j.Skipped(),
		}
		if j.Action.singleRole() {
			in.Role = j.Role
		}
		if next := s.cron.Entry(j.entry).Next; !next.IsZero() {
			in.Next = &next
		}
		out = append(out, in)
	}
	return out
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true
	s.cron.Start()
	return nil
}

// Stop prevents new runs, cancels runs in progress and waits for them.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) fire(j *Job) {
	if s.ctx.Err() != nil {
		return
	}
	if !j.running.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		s.logger.Warn("scheduled run skipped, previous run still in progress", slog.String("schedule", j.Name))
		return
	}
	defer j.running.Store(false)
	j.runs.Add(1)
	_ = s.run(s.ctx, j)
}

// RunNow executes j immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, j *Job) error {
	if !j.running.CompareAndSwap(false, true) {
		return fmt.Errorf("schedule %s: already running", j.Name)
	}
	defer j.running.Store(false)
	j.runs.Add(1)
	return s.run(ctx, j)
}

func (s *Scheduler) run(ctx context.Context, j *Job) error {
	log := s.logger.With(slog.String("schedule", j.Name), slog.String("action", string(j.Action)))
	if j.Action.singleRole() {
		log = log.With(slog.String("role", j.Role.String()))
	}
	log.Info("scheduled run")
	started := time.Now()

	var err error
	var rep *manager.Report
	switch j.Action {
	case ActionLaunch:
		err = s.mgr.Launch(ctx, j.Role)
	case ActionStop:
		err = s.mgr.Stop(ctx, j.Role)
	case ActionRestart:
		err = s.mgr.Restart(ctx, j.Role)
	case ActionStartAll:
		rep, err = s.mgr.StartAll(ctx)
	case ActionStopAll:
		rep, err = s.mgr.StopAll(ctx)
	case ActionRestartAll:
		rep, err = s.mgr.RestartAll(ctx)
	}
	if err == nil && rep != nil {
		err = rep.Err()
	}
	if err != nil {
		log.Warn("scheduled run failed", slog.Any("error", err))
		return err
	}
	log.Info("scheduled run finished", slog.Duration("took", time.Since(started)))
	return nil
}
