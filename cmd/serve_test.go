package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bugflow/internal/daemon"
	"github.com/joescharf/bugflow/internal/notify"
)

func TestPidFile_Path(t *testing.T) {
	dir := testEnv(t)

	pf := pidFile()
	expected := filepath.Join(dir, "bugflow-serve.pid")
	assert.Equal(t, expected, pf.Path)
}

func TestServeLogPath(t *testing.T) {
	dir := testEnv(t)

	assert.Equal(t, filepath.Join(dir, "bugflow-serve.log"), serveLogPath())
}

func TestServeStatusRun_NotRunning(t *testing.T) {
	testEnv(t)

	err := serveStatusRun()
	assert.NoError(t, err)
	assert.Contains(t, captured(t), "not running")
}

func TestServeStatusRun_Running(t *testing.T) {
	dir := testEnv(t)

	pf := daemon.NewPIDFile(filepath.Join(dir, "bugflow-serve.pid"))
	require.NoError(t, pf.Write(":9090"))
	t.Cleanup(func() { _ = os.Remove(pf.Path) })

	require.NoError(t, serveStatusRun())
	out := captured(t)
	assert.Contains(t, out, "running")
	assert.Contains(t, out, ":9090")
}

func TestServeStopRun_NotRunning(t *testing.T) {
	testEnv(t)

	err := serveStopRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestServeStartRun_AlreadyRunning(t *testing.T) {
	dir := testEnv(t)

	// The current test process is alive, so the recorded server looks running.
	pf := daemon.NewPIDFile(filepath.Join(dir, "bugflow-serve.pid"))
	require.NoError(t, pf.Write(":8080"))
	t.Cleanup(func() { _ = os.Remove(pf.Path) })

	err := serveStartRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestNewNotifier(t *testing.T) {
	testEnv(t)

	n, ok := newNotifier().(notify.Multi)
	require.True(t, ok)
	assert.Len(t, n, 1)

	viper.Set("notify.webhook_url", "http://127.0.0.1:1/hook")
	n, ok = newNotifier().(notify.Multi)
	require.True(t, ok)
	require.Len(t, n, 2)
	assert.IsType(t, &notify.Webhook{}, n[1])
}
