//go:build !windows

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/corelauncher/internal/event"
	"github.com/loykin/corelauncher/internal/history"
	"github.com/loykin/corelauncher/internal/history/sqlite"
	mng "github.com/loykin/corelauncher/internal/manager"
	"github.com/loykin/corelauncher/internal/metrics"
	"github.com/loykin/corelauncher/internal/role"
	"github.com/loykin/corelauncher/internal/schedule"
)

func setupManager(t *testing.T, paths map[role.Role]string) *mng.Manager {
	t.Helper()
	if paths == nil {
		p := filepath.Join(t.TempDir(), "server.sh")
		require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\nexec sleep 30\n"), 0o600))
		paths = map[role.Role]string{role.DB: p, role.Auth: p, role.World: p, role.Client: p}
	}
	m := mng.New(mng.Options{
		Registry: role.New(role.Options{
			Paths: paths,
			Delays: map[role.Role]time.Duration{
				role.DB: 10 * time.Millisecond, role.Auth: 10 * time.Millisecond, role.World: 10 * time.Millisecond,
			},
		}),
		StopTimeout:   2 * time.Second,
		ProcessSettle: 5 * time.Millisecond,
		StopSettle:    5 * time.Millisecond,
		RestartSettle: 5 * time.Millisecond,
	})
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m
}

func setupRouter(t *testing.T, base string, opts Options) (http.Handler, *mng.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m := setupManager(t, nil)
	return NewRouter(m, base, opts).Handler(), m
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusListsEveryRole(t *testing.T) {
	h, _ := setupRouter(t, "/api", Options{})
	rec := doReq(t, h, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var sts []mng.RoleStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sts))
	require.Len(t, sts, 4)
	for _, st := range sts {
		assert.Equal(t, event.StatusStopped, st.Status)
		assert.True(t, st.Configured)
	}

	rec = doReq(t, h, http.MethodGet, "/api/status?role=world")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"world"`)
}

func TestUnknownRoleIsBadRequest(t *testing.T) {
	h, _ := setupRouter(t, "", Options{})
	for _, path := range []string{"/launch?role=realm", "/stop", "/restart?role="} {
		rec := doReq(t, h, http.MethodPost, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	rec := doReq(t, h, http.MethodGet, "/status?role=realm")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSingleRoleLifecycle(t *testing.T) {
	h, m := setupRouter(t, "/api", Options{})

	rec := doReq(t, h, http.MethodPost, "/api/launch?role=auth")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var st mng.RoleStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, event.StatusRunning, st.Status)
	assert.NotZero(t, st.PID)

	rec = doReq(t, h, http.MethodPost, "/api/launch?role=auth")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doReq(t, h, http.MethodPost, "/api/restart?role=auth")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doReq(t, h, http.MethodPost, "/api/stop?role=auth")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, m.Controller().Table().Live(role.Auth))

	rec = doReq(t, h, http.MethodPost, "/api/stop?role=auth")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLaunchErrorsMapToStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := setupManager(t, map[role.Role]string{
		role.World: filepath.Join(t.TempDir(), "missing", "worldserver"),
	})
	h := NewRouter(m, "", Options{}).Handler()

	rec := doReq(t, h, http.MethodPost, "/launch?role=db")
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = doReq(t, h, http.MethodPost, "/launch?role=world")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "launch failed")
}

func TestBulkEndpointsReturnReports(t *testing.T) {
	h, m := setupRouter(t, "/api", Options{})

	rec := doReq(t, h, http.MethodPost, "/api/start-all")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rep mng.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, mng.OpStartAll, rep.Op)
	assert.NotEmpty(t, rep.ID)
	require.Len(t, rep.Outcomes, 3)
	for _, r := range []role.Role{role.DB, role.Auth, role.World} {
		assert.True(t, m.Controller().Table().Live(r))
	}

	rec = doReq(t, h, http.MethodPost, "/api/restart-all")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doReq(t, h, http.MethodPost, "/api/stop-all")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, m.Controller().Table().Snapshot())
}

func TestEventsStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := setupManager(t, nil)
	srv := httptest.NewServer(NewRouter(m, "/api", Options{}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?role=world", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := bufio.NewScanner(resp.Body)
	next := func(prefix string) string {
		for lines.Scan() {
			if l := lines.Text(); strings.HasPrefix(l, prefix) {
				return strings.TrimPrefix(l, prefix)
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, lines.Err())
		return ""
	}
	assert.Equal(t, "ready", next("event:"))

	// filtered out by role
	m.Bus().OnStatus(event.StatusEvent{Role: role.DB, Status: event.StatusRunning, PID: 1, At: time.Now()})
	m.Bus().OnStatus(event.StatusEvent{Role: role.World, Status: event.StatusError, Message: "boom", PID: 2, At: time.Now()})

	assert.Equal(t, "status", next("event:"))
	var ev event.Event
	require.NoError(t, json.Unmarshal([]byte(next("data:")), &ev))
	require.NotNil(t, ev.Status)
	assert.Equal(t, role.World, ev.Status.Role)
	assert.Equal(t, event.StatusError, ev.Status.Status)
	assert.Equal(t, "boom", ev.Status.Message)
}

func TestConfigEndpoint(t *testing.T) {
	h, _ := setupRouter(t, "", Options{})
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodGet, "/config").Code)

	h, _ = setupRouter(t, "", Options{Config: func() any { return map[string]any{"is_configured": true} }})
	rec := doReq(t, h, http.MethodGet, "/config")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"is_configured":true}`, rec.Body.String())
}

func TestUsageEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := setupManager(t, nil)
	sampler := &metrics.Sampler{PIDs: m.Controller().PIDs, Roles: []string{"db", "auth", "world", "client"}}
	h := NewRouter(m, "", Options{Sampler: sampler}).Handler()
	require.NoError(t, m.Launch(context.Background(), role.Client))

	rec := doReq(t, h, http.MethodGet, "/usage")
	require.Equal(t, http.StatusOK, rec.Code)
	var usage map[string]metrics.Usage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.GreaterOrEqual(t, usage["client"].Processes, 1)
	assert.Zero(t, usage["db"].Processes)
}

func TestHistoryEndpoint(t *testing.T) {
	sink, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	now := time.Now().UTC()
	require.NoError(t, sink.Send(context.Background(), history.Event{OccurredAt: now, Role: "db", Status: "Running", PID: 5}))
	require.NoError(t, sink.Send(context.Background(), history.Event{OccurredAt: now, Role: "auth", Status: "Stopped"}))

	h, _ := setupRouter(t, "", Options{History: sink})
	rec := doReq(t, h, http.MethodGet, "/history?role=db")
	require.Equal(t, http.StatusOK, rec.Code)
	var evs []history.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evs))
	require.Len(t, evs, 1)
	assert.Equal(t, "Running", evs[0].Status)

	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodGet, "/history?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodGet, "/history?role=x").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	require.NoError(t, metrics.Register(prometheus.DefaultRegisterer))
	metrics.IncLaunch("db")
	h, _ := setupRouter(t, "/api", Options{Metrics: true})
	rec := doReq(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "corelauncher_")

	h, _ = setupRouter(t, "/api", Options{})
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodGet, "/metrics").Code)
}

func TestSchedulesEndpoint(t *testing.T) {
	h, m := setupRouter(t, "", Options{})
	rec := doReq(t, h, http.MethodGet, "/schedules")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	sch := schedule.New(m, schedule.Options{})
	require.NoError(t, sch.Add(&schedule.Job{Name: "nightly", Schedule: "0 4 * * *", Action: schedule.ActionRestart, Role: role.World}))
	defer sch.Stop()
	h = NewRouter(m, "", Options{Scheduler: sch}).Handler()
	rec = doReq(t, h, http.MethodGet, "/schedules")
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []schedule.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "nightly", infos[0].Name)
	assert.Equal(t, role.World, infos[0].Role)
}
