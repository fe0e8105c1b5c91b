// Package policy decides what a session outcome means for the next
// iteration: whether to retry the slot, back off, advance a counter, or
// stop the run outright.
package policy

import (
	"time"

	"github.com/relliv/loopctl/internal/config"
	"github.com/relliv/loopctl/internal/outcome"
)

// Counters tracks the run's iteration totals. It is the in-memory mirror
// of the persisted IterationCounters record.
type Counters struct {
	Global     int
	Productive int
}

// RetryState tracks how many retry attempts the current slot has used.
// Reset to 0 whenever a slot resolves, whether by advancing productive,
// advancing non-productive, or being rate-limited.
type RetryState struct {
	Index int
}

// RateLimitState tracks consecutive rate-limited outcomes, reset by any
// Productive outcome. It is the in-memory mirror of the persisted
// ConsecutiveRateLimits record.
type RateLimitState struct {
	Consecutive int
}

// Action is what the driver should do after observing an outcome.
type Action int

const (
	// AdvanceProductive counts the iteration as productive and starts the
	// next one immediately.
	AdvanceProductive Action = iota
	// RetrySlot re-spawns within the same slot after Delay.
	RetrySlot
	// AdvanceNonProductive abandons the slot as lost (global counter
	// advanced, productive did not) and starts the next one immediately.
	AdvanceNonProductive
	// BackoffRateLimited waits Delay, an exponentially growing backoff,
	// before the next attempt.
	BackoffRateLimited
	// TerminateLoop halts the run: either the rate-limit circuit breaker
	// tripped or the session was interrupted by shutdown.
	TerminateLoop
)

func (a Action) String() string {
	switch a {
	case AdvanceProductive:
		return "advance_productive"
	case RetrySlot:
		return "retry_slot"
	case AdvanceNonProductive:
		return "advance_non_productive"
	case BackoffRateLimited:
		return "backoff_rate_limited"
	case TerminateLoop:
		return "terminate_loop"
	default:
		return "unknown"
	}
}

// Decision is the result of evaluating one outcome against the current
// counters.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Evaluate updates counters, retry, and rl in place to reflect o having
// just happened, and returns what the driver should do next. The global
// counter advances exactly once per call, except when o is Interrupted:
// an interrupted session never completed a spawn attempt's outcome in the
// normal sense and the driver terminates without a further decision.
func Evaluate(cfg *config.Config, o outcome.Outcome, counters *Counters, retry *RetryState, rl *RateLimitState) Decision {
	if o == outcome.Interrupted {
		return Decision{Action: TerminateLoop}
	}

	counters.Global++

	if o == outcome.Productive {
		counters.Productive++
		rl.Consecutive = 0
		retry.Index = 0
		return Decision{Action: AdvanceProductive}
	}

	if o == outcome.RateLimited {
		retry.Index = 0
		rl.Consecutive++
		if rl.Consecutive >= cfg.Backoff.MaxConsecutiveRateLimits {
			return Decision{Action: TerminateLoop}
		}
		return Decision{Action: BackoffRateLimited, Delay: backoffDelay(cfg, rl.Consecutive)}
	}

	// Empty, AgentError, WatchdogKilled.
	if retry.Index < cfg.Retry.MaxEmptyRetries {
		retry.Index++
		return Decision{Action: RetrySlot, Delay: cfg.Retry.RetryDelay}
	}
	retry.Index = 0
	return Decision{Action: AdvanceNonProductive}
}

// PreHookFailureDecision advances the global counter for a slot abandoned
// because a pre-session hook failed, bypassing the retry count entirely:
// spec.md's hook contract treats a pre-hook failure like AgentError for
// counter purposes but explicitly without retry.
func PreHookFailureDecision(counters *Counters, retry *RetryState) Decision {
	counters.Global++
	retry.Index = 0
	return Decision{Action: AdvanceNonProductive}
}

// backoffDelay computes min(initial * 2^(n-1), max) for the nth
// consecutive rate-limited outcome (n >= 1).
func backoffDelay(cfg *config.Config, consecutive int) time.Duration {
	delay := cfg.Backoff.InitialDelay
	for i := 1; i < consecutive; i++ {
		delay *= 2
		if delay >= cfg.Backoff.MaxDelay {
			return cfg.Backoff.MaxDelay
		}
	}
	if delay > cfg.Backoff.MaxDelay {
		return cfg.Backoff.MaxDelay
	}
	return delay
}

// Exhausted reports whether a configured iteration bound has been
// reached. Checked by the driver at its Persisting step, separately from
// Evaluate's per-outcome decision, matching the LimitReached terminal
// state being distinct from TerminateLoop.
func Exhausted(cfg *config.Config, counters *Counters) bool {
	if cfg.Iteration.MaxGlobalIterations > 0 && counters.Global >= cfg.Iteration.MaxGlobalIterations {
		return true
	}
	if cfg.Iteration.MaxProductiveIterations > 0 && counters.Productive >= cfg.Iteration.MaxProductiveIterations {
		return true
	}
	return false
}
