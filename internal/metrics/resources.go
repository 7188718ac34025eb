package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

var (
	roleCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "role",
			Name:      "cpu_percent",
			Help:      "CPU usage of the role's process tree in percent.",
		}, []string{"role"},
	)
	roleMemory = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "role",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the role's process tree.",
		}, []string{"role"},
	)
	roleProcs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "role",
			Name:      "processes",
			Help:      "Number of processes in the role's tree (0 when not running).",
		}, []string{"role"},
	)
)

// Usage is a resource sample for one role's process tree.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Processes  int     `json:"processes"`
}

// SampleTree collects CPU and memory usage of pid and its descendants.
func SampleTree(pid int) (Usage, error) {
	root, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, err
	}
	var u Usage
	queue := []*gopsproc.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		u.Processes++
		if cpu, err := p.CPUPercent(); err == nil {
			u.CPUPercent += cpu
		}
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			u.RSSBytes += mem.RSS
		}
		if kids, err := p.Children(); err == nil {
			queue = append(queue, kids...)
		}
	}
	return u, nil
}

// Sampler periodically publishes resource gauges for running roles.
type Sampler struct {
	Interval time.Duration
	// PIDs returns the current PID of each running role.
	PIDs   func() map[string]int
	Roles  []string
	Logger *slog.Logger
}

// Run samples until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s.SampleOnce()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// SampleOnce takes one sample for every known role.
func (s *Sampler) SampleOnce() map[string]Usage {
	pids := s.PIDs()
	out := make(map[string]Usage, len(s.Roles))
	for _, r := range s.Roles {
		var u Usage
		if pid, ok := pids[r]; ok && pid > 0 {
			var err error
			u, err = SampleTree(pid)
			if err != nil && s.Logger != nil {
				s.Logger.Debug("resource sample failed", slog.String("role", r), slog.Int("pid", pid), slog.Any("error", err))
			}
		}
		out[r] = u
		if regOK.Load() {
			roleCPU.WithLabelValues(r).Set(u.CPUPercent)
			roleMemory.WithLabelValues(r).Set(float64(u.RSSBytes))
			roleProcs.WithLabelValues(r).Set(float64(u.Processes))
		}
	}
	return out
}
