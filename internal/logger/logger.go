package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days

	supervisorLogName = "corelauncher.log"
)

// FileConfig describes where role output and the supervisor log are written.
// Role output goes to Dir/<role>.stdout.log and Dir/<role>.stderr.log.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `mapstructure:"dir" json:"dir,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb,omitempty"`   // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups,omitempty"`   // number of backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days,omitempty"` // days to keep (default 7)
	Compress   bool   `mapstructure:"compress" json:"compress,omitempty"`         // gzip rotated files
}

// Config is the logging section of the launcher configuration.
type Config struct {
	Level  string     `mapstructure:"level" json:"level,omitempty"`   // debug, info, warn, error
	Format string     `mapstructure:"format" json:"format,omitempty"` // text or json
	Color  bool       `mapstructure:"color" json:"color,omitempty"`
	File   FileConfig `mapstructure:",squash" json:"file"`
}

// ParseLevel maps a level name to slog.Level; unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewSlogger builds the supervisor logger writing to w. When a log directory
// is configured the records are also written to a rotating corelauncher.log
// (never colored).
func (c Config) NewSlogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	switch {
	case strings.EqualFold(c.Format, "json"):
		h = slog.NewJSONHandler(w, opts)
	case c.Color:
		h = NewColorTextHandler(w, opts, true)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	if fw := c.SupervisorWriter(); fw != nil {
		var fh slog.Handler
		if strings.EqualFold(c.Format, "json") {
			fh = slog.NewJSONHandler(fw, opts)
		} else {
			fh = slog.NewTextHandler(fw, opts)
		}
		h = teeHandler{h, fh}
	}
	return slog.New(h)
}

// SupervisorWriter returns the rotating writer for the supervisor log, or
// nil when no directory is configured.
func (c Config) SupervisorWriter() io.WriteCloser {
	if c.File.Dir == "" {
		return nil
	}
	return c.File.rotating(filepath.Join(c.File.Dir, supervisorLogName))
}

// ProcessWriters returns io.WriteClosers for stdout and stderr of a role.
// Both are nil when no directory is configured.
func (c Config) ProcessWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	if c.File.Dir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(c.File.Dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	outW := c.File.rotating(filepath.Join(c.File.Dir, fmt.Sprintf("%s.stdout.log", name)))
	errW := c.File.rotating(filepath.Join(c.File.Dir, fmt.Sprintf("%s.stderr.log", name)))
	return outW, errW, nil
}

func (f FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
