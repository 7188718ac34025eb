package pidfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadSelf(t *testing.T) {
	p := filepath.Join(t.TempDir(), "corelauncher.pid")
	require.NoError(t, Write(p, os.Getpid()))

	pid, alive, err := Read(p)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, alive)

	require.NoError(t, Remove(p))
	require.NoError(t, Remove(p))
	pid, alive, err = Read(p)
	require.NoError(t, err)
	assert.Zero(t, pid)
	assert.False(t, alive)
}

func TestReadDetectsReusedPID(t *testing.T) {
	start := procStartUnix(os.Getpid())
	if start == 0 {
		t.Skip("process start time unavailable on this platform")
	}
	p := filepath.Join(t.TempDir(), "corelauncher.pid")
	b, _ := json.Marshal(meta{StartUnix: start - 3600})
	require.NoError(t, os.WriteFile(p, []byte(strconv.Itoa(os.Getpid())+"\n"+string(b)+"\n"), 0o600))

	pid, alive, err := Read(p)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.False(t, alive)
}

func TestProcStartUnix(t *testing.T) {
	start := procStartUnix(os.Getpid())
	if start == 0 {
		t.Skip("process start time unavailable on this platform")
	}
	assert.LessOrEqual(t, start, time.Now().Unix())
	assert.Zero(t, procStartUnix(0))
	assert.Zero(t, procStartUnix(-1))
}

func TestReadPlainPID(t *testing.T) {
	p := filepath.Join(t.TempDir(), "legacy.pid")
	require.NoError(t, os.WriteFile(p, []byte(strconv.Itoa(os.Getpid())), 0o600))
	_, alive, err := Read(p)
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestReadInvalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(p, []byte("not-a-pid\n"), 0o600))
	_, _, err := Read(p)
	assert.Error(t, err)
}
