// Package corelauncher supervises the db, auth, world and client processes of
// a game-server stack. It wires configuration, logging, history, metrics and
// the HTTP API around the internal manager and is what cmd/corelauncher runs.
package corelauncher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/corelauncher/internal/config"
	"github.com/loykin/corelauncher/internal/event"
	"github.com/loykin/corelauncher/internal/history"
	"github.com/loykin/corelauncher/internal/history/factory"
	"github.com/loykin/corelauncher/internal/logger"
	"github.com/loykin/corelauncher/internal/manager"
	"github.com/loykin/corelauncher/internal/metrics"
	"github.com/loykin/corelauncher/internal/role"
	"github.com/loykin/corelauncher/internal/schedule"
	iapi "github.com/loykin/corelauncher/internal/server"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Role = role.Role

type Manager = manager.Manager

type Report = manager.Report

type RoleStatus = manager.RoleStatus

type Event = event.Event

const (
	RoleDB     = role.DB
	RoleAuth   = role.Auth
	RoleWorld  = role.World
	RoleClient = role.Client
)

// ParseRole converts a role name such as "world" into a Role.
func ParseRole(s string) (Role, error) { return role.Parse(s) }

// LoadConfig reads a configuration file; a missing file yields the defaults.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// DefaultConfigFile is used when no --config is given.
const DefaultConfigFile = cfg.DefaultFile

// Supervisor is a fully wired launcher: manager, event sinks, optional
// history recorder and resource sampler.
type Supervisor struct {
	cfg      *Config
	logger   *slog.Logger
	mgr      *manager.Manager
	files    *logger.FileSink
	recorder *history.Recorder
	store    history.Sink
	sampler  *metrics.Sampler
	sched    *schedule.Scheduler

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSupervisor builds a Supervisor from c. When history is enabled the sink
// is opened here so a bad DSN fails fast.
func NewSupervisor(ctx context.Context, c *Config, log *slog.Logger) (*Supervisor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	probes, err := c.ProbeMap()
	if err != nil {
		return nil, err
	}
	procEnv, err := c.ProcessEnv()
	if err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	s := &Supervisor{cfg: c, logger: log}
	bus := event.NewBus(logger.SlogSink{Logger: log})
	if c.Log.File.Dir != "" {
		s.files = logger.NewFileSink(c.Log, log)
		bus.AddSink(s.files)
	}
	if c.History.Enabled {
		store, err := factory.NewSinkFromDSN(ctx, c.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("open history %s: %w", redacted(c), err)
		}
		s.store = store
		s.recorder = history.NewRecorder(history.RecorderOptions{Logger: log}, store)
		bus.AddSink(s.recorder)
	}

	s.mgr = manager.New(manager.Options{
		Registry:      c.Registry(),
		Bus:           bus,
		Env:           procEnv,
		Probes:        probes,
		StopTimeout:   c.Timings.StopTimeout,
		ProcessSettle: cfg.SettleOption(c.Timings.ProcessSettle),
		StopSettle:    cfg.SettleOption(c.Timings.StopSettle),
		RestartSettle: cfg.SettleOption(c.Timings.RestartSettle),
		Logger:        log,
	})
	if c.Metrics.Enabled {
		roles := make([]string, 0, len(role.All))
		for _, r := range role.All {
			roles = append(roles, r.String())
		}
		s.sampler = &metrics.Sampler{PIDs: s.mgr.Controller().PIDs, Roles: roles, Logger: log}
	}
	if jobs := c.ScheduleJobs(); len(jobs) > 0 {
		loc, err := c.ScheduleLocation()
		if err != nil {
			return nil, err
		}
		s.sched = schedule.New(s.mgr, schedule.Options{Location: loc, Logger: log})
		for _, j := range jobs {
			if err := s.sched.Add(j); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func redacted(c *Config) any {
	return c.Public()["history"].(map[string]any)["dsn"]
}

func (s *Supervisor) Manager() *Manager { return s.mgr }
func (s *Supervisor) Config() *Config   { return s.cfg }

// Scheduler returns the cron scheduler, or nil when no schedules are configured.
func (s *Supervisor) Scheduler() *schedule.Scheduler { return s.sched }

// Start runs the background workers (history writer, resource sampler,
// scheduler) until Close. They outlive cancellation of ctx so the Stopped
// events produced by Close are still persisted.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if s.recorder != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.recorder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("history recorder stopped", slog.Any("error", err))
			}
		}()
	}
	if s.sampler != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sampler.Run(ctx)
		}()
	}
	if s.sched != nil {
		if err := s.sched.Start(); err != nil {
			s.logger.Warn("scheduler not started", slog.Any("error", err))
		}
	}
}

// Handler returns the HTTP API. Role operations run under ctx.
func (s *Supervisor) Handler(ctx context.Context) http.Handler {
	return iapi.NewRouter(s.mgr, s.cfg.Server.BasePath, s.routerOptions(ctx)).Handler()
}

// NewHTTPServer returns the HTTP API server on the configured listen address.
func (s *Supervisor) NewHTTPServer(ctx context.Context) *http.Server {
	return iapi.NewServer(s.cfg.Server.Listen, s.cfg.Server.BasePath, s.mgr, s.routerOptions(ctx))
}

func (s *Supervisor) routerOptions(ctx context.Context) iapi.Options {
	opts := iapi.Options{
		BaseContext: ctx,
		Config:      func() any { return s.cfg.Public() },
		Sampler:     s.sampler,
		Scheduler:   s.sched,
		// serve /metrics on the API listener unless a dedicated one is set
		Metrics: s.cfg.Metrics.Enabled && s.cfg.Metrics.Listen == "",
	}
	if r, ok := s.store.(iapi.HistoryReader); ok {
		opts.History = r
	}
	return opts
}

// Close stops every running role, then drains history and closes log files.
func (s *Supervisor) Close(ctx context.Context) error {
	var errs *multierror.Error
	s.closeOnce.Do(func() {
		if s.sched != nil {
			s.sched.Stop()
		}
		s.mgr.Shutdown(ctx)
		if s.recorder != nil {
			if err := s.recorder.Close(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("history: %w", err))
			}
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		if s.files != nil {
			if err := s.files.Close(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("log files: %w", err))
			}
		}
	})
	return errs.ErrorOrNil()
}

// Metrics helpers

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewMetricsServer returns a server exposing /metrics for the default registry.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
