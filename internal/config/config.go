package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/loykin/corelauncher/internal/env"
	"github.com/loykin/corelauncher/internal/logger"
	"github.com/loykin/corelauncher/internal/process"
	"github.com/loykin/corelauncher/internal/role"
	"github.com/loykin/corelauncher/internal/schedule"
)

// EnvPrefix prefixes environment overrides, e.g. CORELAUNCHER_PATHS_DB.
const EnvPrefix = "CORELAUNCHER"

// DefaultFile is the configuration file used when none is given.
const DefaultFile = "config.json"

// Config is the launcher configuration file.
type Config struct {
	Paths        Paths                  `mapstructure:"paths"`
	IsConfigured bool                   `mapstructure:"is_configured"`
	Delays       Delays                 `mapstructure:"delays"`
	Timings      Timings                `mapstructure:"timings"`
	Probes       map[string]ProbeConfig `mapstructure:"probes"`
	Env          []string               `mapstructure:"env"`
	EnvFiles     []string               `mapstructure:"env_files"`
	Log          logger.Config          `mapstructure:"log"`
	Server       ServerConfig           `mapstructure:"server"`
	Metrics      MetricsConfig          `mapstructure:"metrics"`
	History      HistoryConfig          `mapstructure:"history"`
	Schedule     ScheduleConfig         `mapstructure:"schedule"`
}

// Paths holds the absolute executable path of each role.
type Paths struct {
	DB     string `mapstructure:"db"`
	Auth   string `mapstructure:"auth"`
	World  string `mapstructure:"world"`
	Client string `mapstructure:"client"`
}

type Delays struct {
	DB    time.Duration `mapstructure:"db"`
	Auth  time.Duration `mapstructure:"auth"`
	World time.Duration `mapstructure:"world"`
}

// Timings holds the settle waits and the stop timeout. Load fills in
// defaults for absent keys, so an explicit zero settle disables that wait.
type Timings struct {
	ProcessSettle time.Duration `mapstructure:"process_settle"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
	StopSettle    time.Duration `mapstructure:"stop_settle"`
	RestartSettle time.Duration `mapstructure:"restart_settle"`
}

// SettleOption converts a configured settle to the option form used by the
// manager and controller, where zero selects the default and a negative
// value disables the wait.
func SettleOption(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

// ProbeConfig upgrades the fixed startup delay of a role to a TCP readiness
// check. The delay (or Timeout) still bounds the wait.
type ProbeConfig struct {
	TCP     string        `mapstructure:"tcp"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// HistoryConfig selects where status history is persisted. DSN schemes:
// sqlite://, postgres://, clickhouse://, opensearch://.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// ScheduleConfig lists role operations run on cron schedules.
type ScheduleConfig struct {
	// TimeZone is an IANA name such as "Europe/Berlin"; empty means local.
	TimeZone string        `mapstructure:"timezone"`
	Jobs     []ScheduleJob `mapstructure:"jobs"`
}

// ScheduleJob is one entry of schedule.jobs, e.g.
// {"name": "nightly", "cron": "0 4 * * *", "action": "restart", "role": "world"}.
type ScheduleJob struct {
	Name   string `mapstructure:"name"`
	Cron   string `mapstructure:"cron"`
	Action string `mapstructure:"action"`
	Role   string `mapstructure:"role"`
}

// Get returns the path configured for r.
func (p Paths) Get(r role.Role) string {
	switch r {
	case role.DB:
		return p.DB
	case role.Auth:
		return p.Auth
	case role.World:
		return p.World
	case role.Client:
		return p.Client
	}
	return ""
}

// Set stores the path of r.
func (p *Paths) Set(r role.Role, path string) {
	switch r {
	case role.DB:
		p.DB = path
	case role.Auth:
		p.Auth = path
	case role.World:
		p.World = path
	case role.Client:
		p.Client = path
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.db", "")
	v.SetDefault("paths.auth", "")
	v.SetDefault("paths.world", "")
	v.SetDefault("paths.client", "")
	v.SetDefault("is_configured", false)
	v.SetDefault("delays.db", role.DefaultDBDelay)
	v.SetDefault("delays.auth", role.DefaultAuthDelay)
	v.SetDefault("delays.world", role.DefaultWorldDelay)
	v.SetDefault("timings.process_settle", process.DefaultProcessSettle)
	v.SetDefault("timings.stop_timeout", process.DefaultStopTimeout)
	v.SetDefault("timings.stop_settle", 2*time.Second)
	v.SetDefault("timings.restart_settle", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("server.listen", "127.0.0.1:8765")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("schedule.timezone", "")
}

// Default returns the configuration used before anything was configured.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c, decodeHook)
	return &c
}

// Load reads the configuration file at path. A missing file is not an error:
// the defaults are returned with IsConfigured false, the first-run state.
// Environment variables prefixed with CORELAUNCHER_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType(path))
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &nf) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}
	// config.json files written by earlier launcher versions use camelCase.
	if v.InConfig("isconfigured") && !v.InConfig("is_configured") {
		v.Set("is_configured", v.GetBool("isconfigured"))
	}

	var c Config
	if err := v.Unmarshal(&c, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// Validate checks the configuration. A configured launcher needs the db, auth
// and world paths; the client is optional.
func (c *Config) Validate() error {
	if c.IsConfigured {
		var missing []string
		for _, r := range []role.Role{role.DB, role.Auth, role.World} {
			if strings.TrimSpace(c.Paths.Get(r)) == "" {
				missing = append(missing, r.String())
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("configured launcher is missing paths for %s", strings.Join(missing, ", "))
		}
	}
	for _, r := range role.All {
		if p := c.Paths.Get(r); p != "" && !filepath.IsAbs(p) {
			return fmt.Errorf("path for %s must be absolute: %q", r, p)
		}
	}
	for name, d := range map[string]time.Duration{
		"delays.db": c.Delays.DB, "delays.auth": c.Delays.Auth, "delays.world": c.Delays.World,
		"timings.process_settle": c.Timings.ProcessSettle, "timings.stop_timeout": c.Timings.StopTimeout,
		"timings.stop_settle": c.Timings.StopSettle, "timings.restart_settle": c.Timings.RestartSettle,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	for name, p := range c.Probes {
		r, err := role.Parse(name)
		if err != nil {
			return fmt.Errorf("probes: %w", err)
		}
		if r == role.Client {
			return fmt.Errorf("probes: the client role has no startup delay to probe")
		}
		if p.TCP == "" {
			return fmt.Errorf("probes.%s.tcp is required", name)
		}
	}
	if c.History.Enabled && c.History.DSN == "" {
		return fmt.Errorf("history.dsn is required when history is enabled")
	}
	if _, err := c.ScheduleLocation(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Schedule.Jobs))
	for _, j := range c.ScheduleJobs() {
		if err := j.Validate(); err != nil {
			return err
		}
		if seen[j.Name] {
			return fmt.Errorf("schedule %s: duplicate name", j.Name)
		}
		seen[j.Name] = true
	}
	return nil
}

// ScheduleLocation resolves schedule.timezone.
func (c *Config) ScheduleLocation() (*time.Location, error) {
	if c.Schedule.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Schedule.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

// ScheduleJobs converts schedule.jobs into scheduler jobs.
func (c *Config) ScheduleJobs() []*schedule.Job {
	out := make([]*schedule.Job, 0, len(c.Schedule.Jobs))
	for _, j := range c.Schedule.Jobs {
		out = append(out, &schedule.Job{
			Name:     j.Name,
			Schedule: j.Cron,
			Action:   schedule.Action(strings.ToLower(strings.TrimSpace(j.Action))),
			Role:     role.Role(strings.ToLower(strings.TrimSpace(j.Role))),
		})
	}
	return out
}

// Registry builds the role registry from paths and delays.
func (c *Config) Registry() *role.Registry {
	paths := make(map[role.Role]string, len(role.All))
	for _, r := range role.All {
		paths[r] = c.Paths.Get(r)
	}
	return role.New(role.Options{
		Paths: paths,
		Delays: map[role.Role]time.Duration{
			role.DB:    c.Delays.DB,
			role.Auth:  c.Delays.Auth,
			role.World: c.Delays.World,
		},
	})
}

// ProbeMap returns the readiness probes keyed by role.
func (c *Config) ProbeMap() (map[role.Role]process.Probe, error) {
	out := make(map[role.Role]process.Probe, len(c.Probes))
	for name, p := range c.Probes {
		r, err := role.Parse(name)
		if err != nil {
			return nil, err
		}
		out[r] = process.TCPProbe{Addr: p.TCP, Timeout: p.Timeout}
	}
	return out, nil
}

// ProcessEnv returns the environment for launched servers: the OS
// environment, then env_files in order, then the env list.
func (c *Config) ProcessEnv() ([]string, error) {
	e := env.New()
	for _, f := range c.EnvFiles {
		if err := e.LoadFile(f); err != nil {
			return nil, err
		}
	}
	return e.Merge(c.Env), nil
}

// Save writes c to path; the format follows the file extension.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultFile
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	v := viper.New()
	v.SetConfigType(configType(path))
	for k, val := range c.Settings() {
		v.Set(k, val)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Settings returns c as the nested key/value tree used in config files, with
// durations rendered as strings.
func (c *Config) Settings() map[string]any {
	out := map[string]any{
		"paths": map[string]any{
			"db": c.Paths.DB, "auth": c.Paths.Auth, "world": c.Paths.World, "client": c.Paths.Client,
		},
		"is_configured": c.IsConfigured,
		"delays": map[string]any{
			"db": c.Delays.DB.String(), "auth": c.Delays.Auth.String(), "world": c.Delays.World.String(),
		},
		"timings": map[string]any{
			"process_settle": c.Timings.ProcessSettle.String(),
			"stop_timeout":   c.Timings.StopTimeout.String(),
			"stop_settle":    c.Timings.StopSettle.String(),
			"restart_settle": c.Timings.RestartSettle.String(),
		},
		"log": map[string]any{
			"level": c.Log.Level, "format": c.Log.Format, "color": c.Log.Color,
			"dir": c.Log.File.Dir, "max_size_mb": c.Log.File.MaxSizeMB, "max_backups": c.Log.File.MaxBackups,
			"max_age_days": c.Log.File.MaxAgeDays, "compress": c.Log.File.Compress,
		},
		"server":  map[string]any{"listen": c.Server.Listen, "base_path": c.Server.BasePath},
		"metrics": map[string]any{"enabled": c.Metrics.Enabled, "listen": c.Metrics.Listen},
		"history": map[string]any{"enabled": c.History.Enabled, "dsn": c.History.DSN},
	}
	if len(c.Probes) > 0 {
		probes := make(map[string]any, len(c.Probes))
		for name, p := range c.Probes {
			probes[name] = map[string]any{"tcp": p.TCP, "timeout": p.Timeout.String()}
		}
		out["probes"] = probes
	}
	if len(c.Env) > 0 {
		out["env"] = c.Env
	}
	if c.Schedule.TimeZone != "" || len(c.Schedule.Jobs) > 0 {
		jobs := make([]any, 0, len(c.Schedule.Jobs))
		for _, j := range c.Schedule.Jobs {
			job := map[string]any{"name": j.Name, "cron": j.Cron, "action": j.Action}
			if j.Role != "" {
				job["role"] = j.Role
			}
			jobs = append(jobs, job)
		}
		out["schedule"] = map[string]any{"timezone": c.Schedule.TimeZone, "jobs": jobs}
	}
	if len(c.EnvFiles) > 0 {
		out["env_files"] = c.EnvFiles
	}
	return out
}

// Public is Settings with secrets removed: environment values and the
// history DSN password are masked.
func (c *Config) Public() map[string]any {
	out := c.Settings()
	out["history"] = map[string]any{"enabled": c.History.Enabled, "dsn": redactDSN(c.History.DSN)}
	if len(c.Env) > 0 {
		masked := make([]string, 0, len(c.Env))
		for _, kv := range c.Env {
			k, _, _ := strings.Cut(kv, "=")
			masked = append(masked, k+"=***")
		}
		out["env"] = masked
	}
	return out
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}

var decodeHook = viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
	millisecondsHook,
	mapstructure.StringToTimeDurationHookFunc(),
	mapstructure.StringToSliceHookFunc(","),
))

// millisecondsHook reads bare numbers as milliseconds, the unit the launcher
// has always used for delays ("world": 25000).
func millisecondsHook(_ reflect.Type, t reflect.Type, data any) (any, error) {
	if t != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return time.Duration(v * float64(time.Millisecond)), nil
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return time.Duration(n) * time.Millisecond, nil
		}
	}
	return data, nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}
