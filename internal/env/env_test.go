package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePrecedenceAndExpansion(t *testing.T) {
	e := New()
	e.env = Var{"HOME": "/home/gm", "MODE": "os"}
	e.Set("MODE", "launcher")
	e.Set("DATA", "${HOME}/data")
	out := e.Merge([]string{"MODE=extra", "=bad", "noequals"})

	assert.Equal(t, []string{"DATA=/home/gm/data", "HOME=/home/gm", "MODE=extra"}, out)
}

func TestExpandLeavesUnknownReferences(t *testing.T) {
	m := Var{"A": "1"}
	assert.Equal(t, "1-${B}-1", expand("${A}-${B}-${A}", m))
	assert.Equal(t, "x${A", expand("x${A", m))
}

func TestUnset(t *testing.T) {
	e := New()
	e.env = Var{}
	e.Set("K", "v")
	e.Unset("K")
	assert.Empty(t, e.Merge(nil))
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(p, []byte("A=1\n# comment\n\n B = two \n"), 0o600))

	e := New()
	e.env = Var{}
	require.NoError(t, e.LoadFile(p))
	assert.Equal(t, []string{"A=1", "B=two"}, e.Merge(nil))

	assert.Error(t, e.LoadFile(filepath.Join(t.TempDir(), "missing")))
}

func TestLoadFileDotenvSyntax(t *testing.T) {
	p := filepath.Join(t.TempDir(), "realm.env")
	body := "REALM_NAME=\"My Realm\"\n" +
		"export DB_PORT=3306\n" +
		"MOTD='hi' # greeting\n" +
		"LOG_DIR=/var/log/realm # rotated nightly\n"
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))

	e := New()
	e.env = Var{}
	require.NoError(t, e.LoadFile(p))

	assert.Equal(t, Var{
		"REALM_NAME": "My Realm",
		"DB_PORT":    "3306",
		"MOTD":       "hi",
		"LOG_DIR":    "/var/log/realm",
	}, e.Var)
	assert.NotContains(t, e.Var, "export DB_PORT")
}

func TestLoadFileRejectsMalformedLine(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.env")
	require.NoError(t, os.WriteFile(p, []byte("A=1\nnot a pair\n"), 0o600))

	err := New().LoadFile(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), p)
}

func TestLoadFileLaterFilesOverride(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.env")
	local := filepath.Join(dir, "local.env")
	require.NoError(t, os.WriteFile(base, []byte("REALM=base\nPORT=8085\n"), 0o600))
	require.NoError(t, os.WriteFile(local, []byte("REALM=\"local realm\"\n"), 0o600))

	e := New()
	e.env = Var{}
	require.NoError(t, e.LoadFile(base))
	require.NoError(t, e.LoadFile(local))
	assert.Equal(t, []string{"PORT=8085", "REALM=local realm", "ROLE=world"}, e.Merge([]string{"ROLE=world"}))
}

func TestFromOS(t *testing.T) {
	t.Setenv("CORELAUNCHER_ENV_TEST", "yes")
	e := New()
	assert.Contains(t, e.Merge(nil), "CORELAUNCHER_ENV_TEST=yes")
}
