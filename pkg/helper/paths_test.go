package helper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into a fresh temp dir for the rest of the test.
func chdir(t *testing.T) string {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	tmp := t.TempDir()
	require.NoError(t, os.Chdir(tmp))
	t.Cleanup(func() { _ = os.Chdir(old) })
	real, err := filepath.EvalSymlinks(tmp)
	require.NoError(t, err)
	return real
}

func resolved(t *testing.T, p string) string {
	t.Helper()
	real, err := filepath.EvalSymlinks(p)
	require.NoError(t, err)
	return real
}

func TestGetCfgPath(t *testing.T) {
	assert.Panics(t, func() { GetCfgPath("") })
	assert.Equal(t, "/tmp/evalcoach.yaml", GetCfgPath("/tmp/evalcoach.yaml"))

	tmp := chdir(t)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))
	t.Setenv("HOME", filepath.Join(tmp, "home"))

	name := "evalcoach.yaml"
	assert.Equal(t, filepath.Join("/etc/evalcoach", name), GetCfgPath(name))

	require.NoError(t, os.MkdirAll("configs", 0o755))
	require.NoError(t, os.WriteFile(filepath.Join("configs", name), []byte("x"), 0o644))
	assert.Equal(t, filepath.Join(tmp, "configs", name), resolved(t, GetCfgPath(name)))

	// the working directory wins over ./configs
	require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))
	assert.Equal(t, filepath.Join(tmp, name), resolved(t, GetCfgPath(name)))
}

func TestGetPIDPath(t *testing.T) {
	assert.Equal(t, "/tmp/evalcoach.pid", GetPIDPath("/tmp/evalcoach.pid"))

	tmp := chdir(t)
	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(tmp, "run"))

	assert.Equal(t, filepath.Join(tmp, "run", "evalcoach.pid"), GetPIDPath(""))
	assert.Equal(t, filepath.Join(tmp, "run", "evalcoach.pid"), GetPIDPath("missing/dir/evalcoach.pid"))
	got := GetPIDPath("evalcoach.pid")
	assert.Equal(t, filepath.Join(tmp, "evalcoach.pid"), filepath.Join(resolved(t, filepath.Dir(got)), filepath.Base(got)))
}
