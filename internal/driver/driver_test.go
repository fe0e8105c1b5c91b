package driver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relliv/loopctl/internal/config"
	"github.com/relliv/loopctl/internal/recorder"
	"github.com/relliv/loopctl/internal/shutdown"
)

func writeFakeAgent(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func testConfig(t *testing.T, binary string) *config.Config {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Agent.Binary = binary
	cfg.Agent.ArgvTemplate = []string{"{prompt}"}
	cfg.Agent.WorkingDir = dir
	cfg.Watchdog.StaleTimeout = time.Second
	cfg.Watchdog.CheckInterval = 10 * time.Millisecond
	cfg.Backoff.InitialDelay = 10 * time.Millisecond
	cfg.Backoff.MaxDelay = 20 * time.Millisecond
	cfg.Backoff.MaxConsecutiveRateLimits = 2
	cfg.Retry.MaxEmptyRetries = 0
	cfg.Retry.RetryDelay = 10 * time.Millisecond
	cfg.Iteration.MaxGlobalIterations = 3
	cfg.Iteration.MaxProductiveIterations = 0
	cfg.Paths.SessionDir = filepath.Join(dir, "sessions")
	cfg.Paths.SessionFilePrefix = "session"
	cfg.Paths.StatusFile = filepath.Join(dir, "status.json")
	cfg.Paths.EventLog = filepath.Join(dir, "events.jsonl")
	cfg.Paths.CounterFile = filepath.Join(dir, "counters.json")

	promptFile := filepath.Join(dir, "prompt.md")
	require.NoError(t, os.WriteFile(promptFile, []byte("do the task"), 0644))
	cfg.Prompt.FilePath = promptFile

	return cfg
}

func TestDriverStopsOnIterationBudget(t *testing.T) {
	bin := writeFakeAgent(t, `echo '{"type":"result","is_error":false,"result":"did work"}'`)
	cfg := testConfig(t, bin)

	coord := shutdown.New(3*time.Second, filepath.Join(t.TempDir(), "STOP"))
	defer coord.Close()

	d, err := New(cfg, coord)
	require.NoError(t, err)

	reason, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopIterationBudgetExhausted, reason)

	doc, err := recorder.ReadStatus(cfg.Paths.StatusFile)
	require.NoError(t, err)
	require.Equal(t, 3, doc.GlobalIterations)
	require.Equal(t, 3, doc.ProductiveCount)
}

func TestDriverTripsRateLimitCircuitBreaker(t *testing.T) {
	bin := writeFakeAgent(t, `echo '{"type":"result","is_error":true,"result":"rate limit exceeded"}'`)
	cfg := testConfig(t, bin)
	cfg.Iteration.MaxGlobalIterations = 100

	coord := shutdown.New(3*time.Second, filepath.Join(t.TempDir(), "STOP"))
	defer coord.Close()

	d, err := New(cfg, coord)
	require.NoError(t, err)

	reason, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopRateLimitCircuitBreaker, reason)
}

func TestDriverStopsOnStopFile(t *testing.T) {
	bin := writeFakeAgent(t, `echo '{"type":"result","is_error":false,"result":"did work"}'`)
	cfg := testConfig(t, bin)
	cfg.Iteration.MaxGlobalIterations = 1000

	stopFile := filepath.Join(t.TempDir(), "STOP")
	require.NoError(t, os.WriteFile(stopFile, []byte(""), 0644))

	coord := shutdown.New(3*time.Second, stopFile)
	defer coord.Close()

	d, err := New(cfg, coord)
	require.NoError(t, err)

	reason, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopShutdownRequested, reason)
}
