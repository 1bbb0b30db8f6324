package utils

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendSignalToPIDFile(t *testing.T) {
	dir := t.TempDir()

	err := SendSignalToPIDFile("", syscall.SIGTERM)
	assert.ErrorContains(t, err, "PID file path is empty")

	err = SendSignalToPIDFile(filepath.Join(dir, "missing.pid"), syscall.SIGTERM)
	assert.ErrorContains(t, err, "failed to read PID file")

	dead := filepath.Join(dir, "dead.pid")
	require.NoError(t, os.WriteFile(dead, []byte("2147483646"), 0o644))
	err = SendSignalToPIDFile(dead, syscall.SIGTERM)
	assert.ErrorContains(t, err, "failed to send signal")

	self := filepath.Join(dir, "self.pid")
	require.NoError(t, os.WriteFile(self, []byte(strconv.Itoa(os.Getpid())), 0o644))
	assert.NoError(t, SendSignalToPIDFile(self, syscall.Signal(0)))
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.pid")

	require.NoError(t, os.WriteFile(path, []byte("invalid"), 0o644))
	_, err := ReadPID(path)
	assert.ErrorContains(t, err, "invalid PID format")

	require.NoError(t, os.WriteFile(path, []byte("0"), 0o644))
	_, err = ReadPID(path)
	assert.ErrorContains(t, err, "invalid PID value")

	require.NoError(t, os.WriteFile(path, []byte(" 42\n"), 0o644))
	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, 42, pid)
}

func TestAlive(t *testing.T) {
	assert.True(t, Alive(os.Getpid()))
	assert.False(t, Alive(2147483646))
}
