package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relliv/loopctl/internal/config"
	"github.com/relliv/loopctl/internal/outcome"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Backoff.InitialDelay = time.Second
	cfg.Backoff.MaxDelay = 8 * time.Second
	cfg.Backoff.MaxConsecutiveRateLimits = 4
	cfg.Retry.MaxEmptyRetries = 2
	cfg.Retry.RetryDelay = 500 * time.Millisecond
	cfg.Iteration.MaxGlobalIterations = 0
	cfg.Iteration.MaxProductiveIterations = 3
	return cfg
}

func TestEvaluateProductiveResetsConsecutiveAndRetry(t *testing.T) {
	cfg := testConfig()
	counters := &Counters{}
	retry := &RetryState{Index: 1}
	rl := &RateLimitState{Consecutive: 2}

	d := Evaluate(cfg, outcome.Productive, counters, retry, rl)

	require.Equal(t, AdvanceProductive, d.Action)
	require.Equal(t, 0, rl.Consecutive)
	require.Equal(t, 0, retry.Index)
	require.Equal(t, 1, counters.Productive)
	require.Equal(t, 1, counters.Global)
}

func TestEvaluateRetriesSlotUpToMax(t *testing.T) {
	cfg := testConfig()
	counters := &Counters{}
	retry := &RetryState{}
	rl := &RateLimitState{}

	d1 := Evaluate(cfg, outcome.Empty, counters, retry, rl)
	require.Equal(t, RetrySlot, d1.Action)
	require.Equal(t, cfg.Retry.RetryDelay, d1.Delay)
	require.Equal(t, 1, retry.Index)
	require.Equal(t, 1, counters.Global)
	require.Equal(t, 0, counters.Productive)

	d2 := Evaluate(cfg, outcome.AgentError, counters, retry, rl)
	require.Equal(t, RetrySlot, d2.Action)
	require.Equal(t, 2, retry.Index)
	require.Equal(t, 2, counters.Global)

	d3 := Evaluate(cfg, outcome.WatchdogKilled, counters, retry, rl)
	require.Equal(t, AdvanceNonProductive, d3.Action)
	require.Equal(t, 0, retry.Index)
	require.Equal(t, 3, counters.Global)
	require.Equal(t, 0, counters.Productive)
}

func TestEvaluateBackoffDoublesUntilCap(t *testing.T) {
	cfg := testConfig()
	counters := &Counters{}
	retry := &RetryState{}
	rl := &RateLimitState{}

	d1 := Evaluate(cfg, outcome.RateLimited, counters, retry, rl)
	require.Equal(t, BackoffRateLimited, d1.Action)
	require.Equal(t, time.Second, d1.Delay)

	d2 := Evaluate(cfg, outcome.RateLimited, counters, retry, rl)
	require.Equal(t, 2*time.Second, d2.Delay)

	d3 := Evaluate(cfg, outcome.RateLimited, counters, retry, rl)
	require.Equal(t, 4*time.Second, d3.Delay)
}

func TestEvaluateRateLimitResetsRetryIndex(t *testing.T) {
	cfg := testConfig()
	counters := &Counters{}
	retry := &RetryState{Index: 1}
	rl := &RateLimitState{}

	Evaluate(cfg, outcome.RateLimited, counters, retry, rl)
	require.Equal(t, 0, retry.Index)
}

func TestEvaluateCircuitBreakerTrips(t *testing.T) {
	cfg := testConfig()
	counters := &Counters{}
	retry := &RetryState{}
	rl := &RateLimitState{}

	var last Decision
	for i := 0; i < cfg.Backoff.MaxConsecutiveRateLimits; i++ {
		last = Evaluate(cfg, outcome.RateLimited, counters, retry, rl)
	}
	require.Equal(t, TerminateLoop, last.Action)
}

func TestEvaluateInterruptedTerminatesWithoutTouchingCounters(t *testing.T) {
	cfg := testConfig()
	counters := &Counters{Global: 2, Productive: 1}
	retry := &RetryState{}
	rl := &RateLimitState{}

	d := Evaluate(cfg, outcome.Interrupted, counters, retry, rl)

	require.Equal(t, TerminateLoop, d.Action)
	require.Equal(t, 2, counters.Global)
	require.Equal(t, 1, counters.Productive)
}

func TestExhaustedOnProductiveBudget(t *testing.T) {
	cfg := testConfig()
	counters := &Counters{}
	retry := &RetryState{}
	rl := &RateLimitState{}

	Evaluate(cfg, outcome.Productive, counters, retry, rl)
	Evaluate(cfg, outcome.Productive, counters, retry, rl)
	Evaluate(cfg, outcome.Productive, counters, retry, rl)

	require.True(t, Exhausted(cfg, counters))
}

func TestPreHookFailureDecisionBypassesRetry(t *testing.T) {
	counters := &Counters{}
	retry := &RetryState{Index: 0}

	d := PreHookFailureDecision(counters, retry)

	require.Equal(t, AdvanceNonProductive, d.Action)
	require.Equal(t, 1, counters.Global)
	require.Equal(t, 0, counters.Productive)
}
