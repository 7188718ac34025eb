package logger

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"

	"github.com/loykin/corelauncher/internal/event"
	"github.com/loykin/corelauncher/internal/role"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestProcessWriters_WithDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	cfg := Config{File: FileConfig{Dir: dir}}
	outW, errW, err := cfg.ProcessWriters("db")
	if err != nil {
		t.Fatalf("ProcessWriters error: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("expected both writers non-nil when Dir is set")
	}
	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))
	closeIf(outW)
	closeIf(errW)
	for _, p := range []string{"db.stdout.log", "db.stderr.log"} {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			t.Fatalf("log not created at %s: %v", p, err)
		}
	}
}

func TestProcessWriters_NoDir(t *testing.T) {
	outW, errW, err := Config{}.ProcessWriters("db")
	if err != nil || outW != nil || errW != nil {
		t.Fatalf("expected nil writers without a dir, got %v %v %v", outW, errW, err)
	}
	if (Config{}).SupervisorWriter() != nil {
		t.Fatalf("expected no supervisor writer without a dir")
	}
}

func TestProcessWriters_Rotation(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{File: FileConfig{Dir: dir}}
	outW, errW, _ := cfg.ProcessWriters("auth")
	ol := outW.(*lj.Logger)
	if ol.MaxSize != 10 || ol.MaxBackups != 3 || ol.MaxAge != 7 || ol.Compress {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", ol.MaxSize, ol.MaxBackups, ol.MaxAge)
	}
	closeIf(outW)
	closeIf(errW)

	cfg = Config{File: FileConfig{Dir: dir, MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}}
	outW, errW, _ = cfg.ProcessWriters("auth")
	el := errW.(*lj.Logger)
	if el.MaxSize != 1 || el.MaxBackups != 9 || el.MaxAge != 11 || !el.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", el.MaxSize, el.MaxBackups, el.MaxAge, el.Compress)
	}
	closeIf(outW)
	closeIf(errW)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warn": slog.LevelWarn,
		"warning": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo, "bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewSloggerFormats(t *testing.T) {
	var buf bytes.Buffer
	Config{Level: "debug", Format: "json"}.NewSlogger(&buf).Debug("hello", "k", "v")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("expected json output, got %q", buf.String())
	}

	buf.Reset()
	Config{Level: "warn"}.NewSlogger(&buf).Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}

	buf.Reset()
	Config{Color: true}.NewSlogger(&buf).With("role", "db").Warn("colored")
	out := buf.String()
	if !strings.Contains(out, "\033[33mWARN") || !strings.Contains(out, "role=db") {
		t.Fatalf("expected colored warn with attrs, got %q", out)
	}
}

func TestNewSloggerTeesToFile(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	cfg := Config{File: FileConfig{Dir: dir}}
	cfg.NewSlogger(&buf).Info("to both")
	if !strings.Contains(buf.String(), "to both") {
		t.Fatalf("console output missing")
	}
	b, err := os.ReadFile(filepath.Join(dir, supervisorLogName))
	if err != nil {
		t.Fatalf("read supervisor log: %v", err)
	}
	if !strings.Contains(string(b), "to both") {
		t.Fatalf("file output missing: %q", string(b))
	}
}

func TestFileSinkWritesRoleFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(Config{File: FileConfig{Dir: dir}}, nil)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.OnStatus(event.StatusEvent{Role: role.World, Status: event.Starting(25 * time.Second), At: at})
	s.OnLog(event.LogEvent{Role: role.World, Stream: event.StreamOutput, Text: "listening\n", At: at})
	s.OnLog(event.LogEvent{Role: role.World, Stream: event.StreamError, Text: "warning: slow\n", At: at})
	s.OnLog(event.LogEvent{Role: role.World, Stream: event.StreamInfo, Text: "Process exited with code 0", At: at})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	out, err := os.ReadFile(filepath.Join(dir, "world.stdout.log"))
	if err != nil {
		t.Fatal(err)
	}
	want := "--- 2024-01-02T03:04:05Z status Starting-25000 ---\nlistening\n--- 2024-01-02T03:04:05Z Process exited with code 0 ---\n"
	if string(out) != want {
		t.Fatalf("stdout log:\n%q\nwant\n%q", string(out), want)
	}
	errOut, _ := os.ReadFile(filepath.Join(dir, "world.stderr.log"))
	if string(errOut) != "warning: slow\n" {
		t.Fatalf("stderr log: %q", string(errOut))
	}
}

func TestFileSinkWithoutDirIsNoop(t *testing.T) {
	s := NewFileSink(Config{}, nil)
	s.OnLog(event.LogEvent{Role: role.DB, Stream: event.StreamOutput, Text: "x"})
	s.OnStatus(event.StatusEvent{Role: role.DB, Status: event.StatusRunning})
	_ = s.Close()
}

func TestFileSinkReportsOpenFailureOnce(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	s := NewFileSink(Config{File: FileConfig{Dir: filepath.Join(blocker, "logs")}}, slog.New(slog.NewTextHandler(&buf, nil)))
	for i := 0; i < 3; i++ {
		s.OnLog(event.LogEvent{Role: role.Auth, Stream: event.StreamOutput, Text: "x\n"})
		s.OnStatus(event.StatusEvent{Role: role.Auth, Status: event.StatusRunning})
	}
	if n := strings.Count(buf.String(), "role log files unavailable"); n != 1 {
		t.Fatalf("open failure logged %d times: %q", n, buf.String())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close with no open files: %v", err)
	}
}

type failingCloser struct{ io.Writer }

func (failingCloser) Close() error { return errors.New("disk gone") }

func TestFileSinkCloseReturnsErrors(t *testing.T) {
	s := NewFileSink(Config{}, nil)
	s.files[role.DB] = &roleFiles{out: failingCloser{io.Discard}, err: failingCloser{io.Discard}}
	err := s.Close()
	if err == nil {
		t.Fatal("expected close errors")
	}
	if !strings.Contains(err.Error(), "db stdout") || !strings.Contains(err.Error(), "db stderr") {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	s := SlogSink{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	s.OnStatus(event.StatusEvent{Role: role.DB, Status: event.StatusError, Message: "boom"})
	s.OnLog(event.LogEvent{Role: role.DB, Stream: event.StreamOutput, Text: "ready\r\n"})
	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "message=boom") {
		t.Fatalf("status not logged: %q", out)
	}
	if !strings.Contains(out, "text=ready") || !strings.Contains(out, "level=DEBUG") {
		t.Fatalf("output not logged: %q", out)
	}

	buf.Reset()
	s.OnStatus(event.StatusEvent{Role: role.World, Status: event.Starting(25 * time.Second), PID: 7})
	if out := buf.String(); !strings.Contains(out, "delay=25s") || !strings.Contains(out, "pid=7") {
		t.Fatalf("starting delay not logged: %q", out)
	}
	buf.Reset()
	s.OnStatus(event.StatusEvent{Role: role.World, Status: event.StatusRunning})
	if strings.Contains(buf.String(), "delay=") {
		t.Fatalf("running status must not carry a delay: %q", buf.String())
	}
}
