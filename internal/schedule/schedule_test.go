package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/loykin/corelauncher/internal/manager"
	"github.com/loykin/corelauncher/internal/role"
)

type fakeManager struct {
	mu    sync.Mutex
	calls []string
	block chan struct{}
	err   error
}

func (f *fakeManager) record(op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.err
}

func (f *fakeManager) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeManager) Launch(_ context.Context, r role.Role) error  { return f.record("launch " + r.String()) }
func (f *fakeManager) Stop(_ context.Context, r role.Role) error    { return f.record("stop " + r.String()) }
func (f *fakeManager) Restart(_ context.Context, r role.Role) error { return f.record("restart " + r.String()) }
func (f *fakeManager) StartAll(context.Context) (*manager.Report, error) {
	return &manager.Report{}, f.record("start-all")
}
func (f *fakeManager) StopAll(context.Context) (*manager.Report, error) {
	return &manager.Report{}, f.record("stop-all")
}
func (f *fakeManager) RestartAll(context.Context) (*manager.Report, error) {
	return &manager.Report{}, f.record("restart-all")
}

func TestValidate(t *testing.T) {
	ok := []*Job{
		{Name: "nightly", Schedule: "0 4 * * *", Action: ActionRestart, Role: role.World},
		{Name: "secs", Schedule: "30 0 4 * * *", Action: ActionRestartAll},
		{Name: "every", Schedule: "@every 6h", Action: ActionStopAll},
		{Name: "daily", Schedule: "@daily", Action: ActionStartAll},
	}
	for _, j := range ok {
		assert.NoError(t, j.Validate(), j.Name)
	}
	bad := []*Job{
		{Schedule: "@daily", Action: ActionStartAll},
		{Name: "x", Schedule: "@daily", Action: "reboot"},
		{Name: "x", Schedule: "@daily", Action: ActionRestart},
		{Name: "x", Schedule: "@daily", Action: ActionLaunch, Role: "realm"},
		{Name: "x", Schedule: "61 * * * *", Action: ActionStartAll},
	}
	for _, j := range bad {
		assert.Error(t, j.Validate(), "%+v", j)
	}
}

func TestAddRejectsDuplicateNames(t *testing.T) {
	s := New(&fakeManager{}, Options{})
	defer s.Stop()
	require.NoError(t, s.Add(&Job{Name: "a", Schedule: "@daily", Action: ActionStartAll}))
	assert.Error(t, s.Add(&Job{Name: "a", Schedule: "@hourly", Action: ActionStopAll}))
	assert.Len(t, s.Jobs(), 1)
}

func TestRunNowDispatchesAction(t *testing.T) {
	f := &fakeManager{}
	s := New(f, Options{})
	defer s.Stop()
	ctx := context.Background()
	require.NoError(t, s.RunNow(ctx, &Job{Name: "w", Action: ActionRestart, Role: role.World}))
	require.NoError(t, s.RunNow(ctx, &Job{Name: "all", Action: ActionRestartAll}))
	require.NoError(t, s.RunNow(ctx, &Job{Name: "c", Action: ActionLaunch, Role: role.Client}))
	assert.Equal(t, []string{"restart world", "restart-all", "launch client"}, f.Calls())
}

func TestRunNowReportsFailure(t *testing.T) {
	f := &fakeManager{err: assert.AnError}
	s := New(f, Options{})
	defer s.Stop()
	assert.ErrorIs(t, s.RunNow(context.Background(), &Job{Name: "db", Action: ActionStop, Role: role.DB}), assert.AnError)
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := &fakeManager{block: make(chan struct{})}
	s := New(f, Options{})
	j := &Job{Name: "slow", Schedule: "@daily", Action: ActionRestartAll}
	require.NoError(t, s.Add(j))

	done := make(chan struct{})
	go func() {
		s.fire(j)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(f.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	s.fire(j)
	assert.Equal(t, int64(1), j.Skipped())

	close(f.block)
	<-done
	assert.Equal(t, int64(1), j.Runs())
	s.Stop()
}

func TestSchedulerFires(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the cron clock")
	}
	defer goleak.VerifyNone(t)
	f := &fakeManager{}
	s := New(f, Options{Location: time.UTC})
	j := &Job{Name: "tick", Schedule: "@every 1s", Action: ActionStartAll}
	require.NoError(t, s.Add(j))
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	require.Eventually(t, func() bool { return j.Runs() >= 1 }, 3*time.Second, 20*time.Millisecond)
	s.Stop()
	assert.Contains(t, f.Calls(), "start-all")
}

func TestSnapshot(t *testing.T) {
	s := New(&fakeManager{}, Options{Location: time.UTC})
	require.NoError(t, s.Add(&Job{Name: "nightly", Schedule: "0 4 * * *", Action: ActionRestart, Role: role.World}))
	require.NoError(t, s.Add(&Job{Name: "all", Schedule: "@weekly", Action: ActionRestartAll, Role: role.DB}))

	infos := s.Snapshot()
	require.Len(t, infos, 2)
	assert.Equal(t, "nightly", infos[0].Name)
	assert.Equal(t, role.World, infos[0].Role)
	assert.Empty(t, infos[1].Role)
	assert.Nil(t, infos[0].Next)

	require.NoError(t, s.Start())
	defer s.Stop()
	require.Eventually(t, func() bool { return s.Snapshot()[0].Next != nil }, time.Second, 10*time.Millisecond)
	next := *s.Snapshot()[0].Next
	assert.Equal(t, 4, next.UTC().Hour())
	assert.True(t, next.After(time.Now()))
}
