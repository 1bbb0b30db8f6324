package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/amoylab/evalcoach/internal/common/config"
	"github.com/amoylab/evalcoach/internal/coordinator"
	"github.com/amoylab/evalcoach/internal/engine"
	"github.com/amoylab/evalcoach/internal/engine/enginetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		analyzeOpts.fen = "startpos"
		analyzeOpts.moves = nil
		analyzeOpts.depth, analyzeOpts.lines = 0, 0
		analyzeOpts.json, analyzeOpts.follow = false, false
		pidFile = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func fakeEngine(t *testing.T) *enginetest.Launcher {
	t.Helper()
	l := &enginetest.Launcher{}
	prev := newLauncher
	newLauncher = func(config.EngineConfig, *zap.Logger) engine.Launcher { return l }
	t.Cleanup(func() { newLauncher = prev })
	return l
}

func TestCommandStructure(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"version", "test", "stop", "analyze"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	conf := rootCmd.PersistentFlags().Lookup("conf")
	require.NotNil(t, conf)
	assert.Equal(t, "c", conf.Shorthand)
	assert.Equal(t, "evalcoach.yaml", conf.DefValue)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("pid"))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "evalcoach version v")
}

func TestTestCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("engine:\n  path: /usr/games/stockfish\npool:\n  max_workers: 4\n"), 0o644))

	out, err := execute(t, "test", "--conf", good)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "/usr/games/stockfish")
	assert.Contains(t, out, "4 workers")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("cache:\n  type: tape\n"), 0o644))
	_, err = execute(t, "test", "--conf", bad)
	assert.ErrorContains(t, err, "unsupported cache type")
}

func TestStopCommandWithoutPIDFile(t *testing.T) {
	_, err := execute(t, "stop", "--pid", filepath.Join(t.TempDir(), "missing.pid"))
	assert.ErrorContains(t, err, "failed to read PID file")
}

func TestAnalyzeCommandJSON(t *testing.T) {
	l := fakeEngine(t)
	missing := filepath.Join(t.TempDir(), "none.yaml")

	out, err := execute(t, "analyze", "--conf", missing, "--moves", "e2e4,e7e5", "--depth", "4", "--lines", "2", "--json")
	require.NoError(t, err, out)

	var u coordinator.Update
	require.NoError(t, json.Unmarshal([]byte(out), &u), out)
	assert.Equal(t, coordinator.UpdateCompleted, u.Status)
	assert.Equal(t, 4, u.Depth)
	assert.Len(t, u.Lines, 2)
	assert.NotEmpty(t, u.BestMove)
	assert.Equal(t, 1, l.Launched())
	assert.Zero(t, l.Live())
}

func TestAnalyzeCommandText(t *testing.T) {
	fakeEngine(t)
	missing := filepath.Join(t.TempDir(), "none.yaml")

	out, err := execute(t, "analyze", "--conf", missing, "--depth", "3", "--lines", "1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "status completed, depth 3 (engine)")
	assert.Contains(t, out, "1. [ 3]")
	assert.Contains(t, out, "bestmove ")
}

func TestAnalyzeCommandRejectsIllegalMove(t *testing.T) {
	l := fakeEngine(t)
	missing := filepath.Join(t.TempDir(), "none.yaml")

	_, err := execute(t, "analyze", "--conf", missing, "--moves", "e2e5")
	assert.ErrorContains(t, err, "This position cannot be analyzed.")
	assert.Zero(t, l.Launched())
}
