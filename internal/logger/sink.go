package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/loykin/corelauncher/internal/event"
	"github.com/loykin/corelauncher/internal/role"
)

// FileSink writes role output into rotating per-role files. Supervisor notes
// and status changes are written to the stdout file as marked lines so the
// file reads as a complete history of the role.
type FileSink struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	files  map[role.Role]*roleFiles
	failed map[role.Role]bool
}

type roleFiles struct {
	out io.WriteCloser
	err io.WriteCloser
}

// NewFileSink returns a sink writing under cfg.File.Dir. Failures to open a
// role's files are reported to log once; that role is then not retried.
func NewFileSink(cfg Config, log *slog.Logger) *FileSink {
	if log == nil {
		log = slog.Default()
	}
	return &FileSink{
		cfg:    cfg,
		logger: log,
		files:  make(map[role.Role]*roleFiles),
		failed: make(map[role.Role]bool),
	}
}

func (s *FileSink) writers(r role.Role) *roleFiles {
	if f, ok := s.files[r]; ok {
		return f
	}
	if s.failed[r] {
		return nil
	}
	outW, errW, err := s.cfg.ProcessWriters(r.String())
	if err != nil {
		s.failed[r] = true
		s.logger.Warn("role log files unavailable", slog.String("role", r.String()), slog.Any("error", err))
		return nil
	}
	if outW == nil {
		return nil
	}
	f := &roleFiles{out: outW, err: errW}
	s.files[r] = f
	return f
}

func (s *FileSink) OnLog(e event.LogEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.writers(e.Role)
	if f == nil {
		return
	}
	switch e.Stream {
	case event.StreamOutput:
		_, _ = io.WriteString(f.out, e.Text)
	case event.StreamError:
		_, _ = io.WriteString(f.err, e.Text)
	default:
		_, _ = io.WriteString(f.out, marker(e.At, e.Text))
	}
}

func (s *FileSink) OnStatus(e event.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.writers(e.Role)
	if f == nil {
		return
	}
	text := "status " + e.Status.String()
	if e.Message != "" {
		text += ": " + e.Message
	}
	_, _ = io.WriteString(f.out, marker(e.At, text))
}

// Close closes every open file and reports every close failure.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs *multierror.Error
	for r, f := range s.files {
		if err := f.out.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s stdout: %w", r, err))
		}
		if err := f.err.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s stderr: %w", r, err))
		}
		delete(s.files, r)
	}
	return errs.ErrorOrNil()
}

func marker(at time.Time, text string) string {
	return fmt.Sprintf("--- %s %s ---\n", at.Format(time.RFC3339), strings.TrimRight(text, "\n"))
}

// SlogSink writes events to a structured logger. Status changes are logged
// at info (Error at error), process output at debug.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) OnStatus(e event.StatusEvent) {
	level := slog.LevelInfo
	if e.Status == event.StatusError {
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("role", e.Role.String()),
		slog.String("status", e.Status.String()),
	}
	if d, ok := e.Status.Delay(); ok {
		attrs = append(attrs, slog.Duration("delay", d))
	}
	if e.PID > 0 {
		attrs = append(attrs, slog.Int("pid", e.PID))
	}
	if e.Message != "" {
		attrs = append(attrs, slog.String("message", e.Message))
	}
	s.Logger.LogAttrs(context.Background(), level, "role status", attrs...)
}

func (s SlogSink) OnLog(e event.LogEvent) {
	level := slog.LevelDebug
	if e.Stream == event.StreamInfo {
		level = slog.LevelInfo
	}
	s.Logger.LogAttrs(context.Background(), level, "role output",
		slog.String("role", e.Role.String()),
		slog.String("stream", string(e.Stream)),
		slog.String("text", strings.TrimRight(e.Text, "\r\n")))
}
