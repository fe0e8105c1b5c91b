// Package driver implements the top-level iteration state machine that
// binds prompt assembly, session spawning, watchdog monitoring, outcome
// classification, retry/backoff policy, hooks, and status/event recording
// into one supervised run.
package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relliv/loopctl/internal/agent"
	"github.com/relliv/loopctl/internal/config"
	"github.com/relliv/loopctl/internal/hooks"
	"github.com/relliv/loopctl/internal/outcome"
	"github.com/relliv/loopctl/internal/policy"
	"github.com/relliv/loopctl/internal/prompt"
	"github.com/relliv/loopctl/internal/recorder"
	"github.com/relliv/loopctl/internal/shutdown"
	"github.com/relliv/loopctl/internal/watchdog"
)

// StopReason explains why Run returned.
type StopReason int

const (
	StopRateLimitCircuitBreaker StopReason = iota
	StopIterationBudgetExhausted
	StopShutdownRequested
)

func (r StopReason) String() string {
	switch r {
	case StopRateLimitCircuitBreaker:
		return "rate_limit_circuit_breaker"
	case StopIterationBudgetExhausted:
		return "iteration_budget_exhausted"
	case StopShutdownRequested:
		return "shutdown_requested"
	default:
		return "unknown"
	}
}

// Driver runs the supervised iteration loop.
type Driver struct {
	cfg         *config.Config
	recorder    *recorder.Recorder
	coordinator *shutdown.Coordinator

	counters policy.Counters
	rl       policy.RateLimitState
	retry    policy.RetryState

	commitPatterns []*regexp.Regexp

	startedAt time.Time
}

// New constructs a Driver. It loads any persisted counters from
// cfg.Paths.CounterFile so a restarted run resumes its iteration totals
// rather than starting over, and compiles cfg.CommitDetection.Patterns
// once for reuse across every iteration's classification.
func New(cfg *config.Config, coordinator *shutdown.Coordinator) (*Driver, error) {
	counters, rl, retry, err := recorder.LoadCounters(cfg.Paths.CounterFile)
	if err != nil {
		return nil, fmt.Errorf("loading counters: %w", err)
	}

	patterns, err := outcome.CompilePatterns(cfg.CommitDetection.Patterns)
	if err != nil {
		return nil, fmt.Errorf("compiling commit detection patterns: %w", err)
	}

	return &Driver{
		cfg:            cfg,
		recorder:       recorder.New(cfg.Paths.StatusFile, cfg.Paths.EventLog),
		coordinator:    coordinator,
		counters:       counters,
		rl:             rl,
		retry:          retry,
		commitPatterns: patterns,
	}, nil
}

// Run drives sessions until a stop condition is reached or ctx is
// cancelled, and returns why it stopped.
func (d *Driver) Run(ctx context.Context) (StopReason, error) {
	hostname, _ := os.Hostname()
	d.startedAt = time.Now()

	var lastOutcome outcome.Outcome
	haveLastOutcome := false

	for {
		d.coordinator.PollStopFile()
		if mode := d.coordinator.Mode(); mode != shutdown.Running {
			d.recordShutdown(mode)
			return StopShutdownRequested, nil
		}

		iteration := d.counters.Global + 1

		if err := d.writeStatus(hostname, iteration, true, lastOutcome, haveLastOutcome, false); err != nil {
			return 0, err
		}
		d.event(iteration, recorder.EventIterationStart, outcome.Outcome(0), false,
			fmt.Sprintf("starting iteration %d", iteration))

		iter, err := d.runOneIteration(ctx, iteration)
		if err != nil {
			return 0, fmt.Errorf("iteration %d: %w", iteration, err)
		}

		var decision policy.Decision
		if iter.PreHookFailed {
			decision = policy.PreHookFailureDecision(&d.counters, &d.retry)
			d.event(iteration, recorder.EventIterationEnd, outcome.Outcome(0), false,
				fmt.Sprintf("iteration %d abandoned: pre-session hook failed", iteration))
		} else {
			lastOutcome = iter.Result.Outcome
			haveLastOutcome = true
			d.event(iteration, recorder.EventIterationEnd, lastOutcome, true,
				fmt.Sprintf("iteration %d finished: %s", iteration, lastOutcome))
			decision = policy.Evaluate(d.cfg, iter.Result.Outcome, &d.counters, &d.retry, &d.rl)
		}

		if err := recorder.SaveCounters(d.cfg.Paths.CounterFile, d.counters, d.rl, d.retry); err != nil {
			return 0, fmt.Errorf("saving counters: %w", err)
		}

		switch decision.Action {
		case policy.TerminateLoop:
			if lastOutcome == outcome.Interrupted {
				d.writeStatus(hostname, iteration, false, lastOutcome, haveLastOutcome, iter.Result.Committed)
				d.event(iteration, recorder.EventTerminated, lastOutcome, true, "run terminated: interrupted")
				return StopShutdownRequested, nil
			}
			d.writeStatus(hostname, iteration, false, lastOutcome, haveLastOutcome, iter.Result.Committed)
			d.event(iteration, recorder.EventTerminated, lastOutcome, true, "run terminated: rate limit circuit breaker tripped")
			return StopRateLimitCircuitBreaker, nil
		case policy.RetrySlot:
			d.event(iteration, recorder.EventRetryScheduled, lastOutcome, true,
				fmt.Sprintf("retrying slot after %v (attempt %d)", decision.Delay, d.retry.Index))
			if !d.sleep(ctx, decision.Delay) {
				d.writeStatus(hostname, iteration, false, lastOutcome, haveLastOutcome, false)
				d.event(iteration, recorder.EventTerminated, lastOutcome, true, "run terminated: shutdown during retry wait")
				return StopShutdownRequested, nil
			}
		case policy.BackoffRateLimited:
			d.event(iteration, recorder.EventRateLimitBackoff, lastOutcome, true,
				fmt.Sprintf("backing off %v before next attempt", decision.Delay))
			if !d.sleep(ctx, decision.Delay) {
				d.writeStatus(hostname, iteration, false, lastOutcome, haveLastOutcome, false)
				d.event(iteration, recorder.EventTerminated, lastOutcome, true, "run terminated: shutdown during backoff wait")
				return StopShutdownRequested, nil
			}
		}

		if policy.Exhausted(d.cfg, &d.counters) {
			d.writeStatus(hostname, iteration, false, lastOutcome, haveLastOutcome, iter.Result.Committed)
			d.event(iteration, recorder.EventTerminated, lastOutcome, true, "run terminated: iteration budget exhausted")
			return StopIterationBudgetExhausted, nil
		}
	}
}

// iterationOutcome is runOneIteration's result: either a pre-hook failure
// (bypassing outcome classification and retry entirely) or a classified
// session result.
type iterationOutcome struct {
	PreHookFailed bool
	Result        outcome.Result
}

// runOneIteration runs the pre-session hooks, assembles the prompt, spawns
// the agent under watchdog supervision, classifies the outcome, and runs
// the post-session hooks if the outcome was Productive.
func (d *Driver) runOneIteration(ctx context.Context, iteration int) (iterationOutcome, error) {
	workingDir := d.cfg.Agent.WorkingDir
	transcriptPath := filepath.Join(d.cfg.Paths.SessionDir,
		fmt.Sprintf("%s-%d.jsonl", d.cfg.Paths.SessionFilePrefix, iteration))
	promptFile := transcriptPath + ".prompt"

	preEnv := hooks.PreHookEnv{
		Iteration:       d.counters.Productive,
		GlobalIteration: d.counters.Global,
		PromptFile:      promptFile,
	}

	preResults, ok := hooks.RunPreHooks(ctx, d.cfg.Hooks.PreSessionCommands, preEnv, workingDir, d.cfg.Hooks.Timeout)
	for _, res := range preResults {
		d.event(iteration, recorder.EventPreHookRun, outcome.Outcome(0), false,
			fmt.Sprintf("pre-session hook %q exit=%d", res.Command, res.ExitCode))
	}
	if !ok {
		d.event(iteration, recorder.EventPreHookFailed, outcome.Outcome(0), false,
			"pre-session hook sequence aborted the iteration")
		return iterationOutcome{PreHookFailed: true}, nil
	}

	assembled, err := prompt.Assemble(ctx, prompt.Config{
		FilePath:        d.cfg.Prompt.FilePath,
		PrependCommands: d.cfg.Prompt.PrependCommands,
		Separator:       d.cfg.Prompt.Separator,
		WorkingDir:      workingDir,
	})
	if err != nil {
		return iterationOutcome{}, fmt.Errorf("assembling prompt: %w", err)
	}
	assembledEv := recorder.EventOf(iteration, recorder.EventPromptAssembled, outcome.Outcome(0), false,
		fmt.Sprintf("prompt assembled (%d bytes, %d prepend commands)", len(assembled.Text), len(d.cfg.Prompt.PrependCommands)))
	if len(assembled.Debug) > 0 {
		assembledEv.Data = map[string]interface{}{"prepend_stderr": assembled.Debug}
	}
	if err := d.recorder.AppendEvent(assembledEv); err != nil {
		fmt.Fprintf(os.Stderr, "failed to append event: %v\n", err)
	}

	argv := prompt.InjectArgv(d.cfg.Agent.ArgvTemplate, assembled.Text)
	env := []string{}
	if !prompt.HasPromptToken(d.cfg.Agent.ArgvTemplate) {
		if err := os.WriteFile(promptFile, []byte(assembled.Text), 0644); err != nil {
			return iterationOutcome{}, fmt.Errorf("writing prompt file: %w", err)
		}
		env = append(env, "LOOPCTL_PROMPT_FILE="+promptFile)
	}
	for k, v := range d.cfg.Agent.Env {
		env = append(env, k+"="+v)
	}

	sess, err := agent.Spawn(agent.Config{
		Binary:         d.cfg.Agent.Binary,
		Argv:           argv,
		WorkingDir:     workingDir,
		Env:            env,
		TranscriptPath: transcriptPath,
		GraceTimeout:   d.cfg.Shutdown.GraceTimeout,
	})
	if err != nil {
		return iterationOutcome{}, fmt.Errorf("spawning agent: %w", err)
	}
	d.event(iteration, recorder.EventSessionSpawn, outcome.Outcome(0), false,
		fmt.Sprintf("spawned agent pid=%d", sess.PID()))

	wd := watchdog.New(watchdog.Config{
		Path:          transcriptPath,
		StaleTimeout:  d.cfg.Watchdog.StaleTimeout,
		CheckInterval: d.cfg.Watchdog.CheckInterval,
	})

	sessionCtx, cancel := context.WithCancel(ctx)
	staleCh, killCh := wd.Start(sessionCtx)
	immediateCh := d.coordinator.Immediate()

	immediateFired := false

	group, groupCtx := errgroup.WithContext(sessionCtx)
	group.Go(func() error {
		select {
		case <-staleCh:
			d.event(iteration, recorder.EventWatchdogStale, outcome.Outcome(0), false,
				"watchdog detected stale output")
		case <-groupCtx.Done():
		}
		return nil
	})
	group.Go(func() error {
		select {
		case <-killCh:
			cancel()
		case <-immediateCh:
			immediateFired = true
			d.event(iteration, recorder.EventShutdownForced, outcome.Outcome(0), false,
				"immediate shutdown requested mid-session")
			cancel()
		case <-groupCtx.Done():
		}
		return nil
	})

	waitErr := sess.Wait(sessionCtx)
	cancel()
	wd.Stop()
	_ = group.Wait()

	if waitErr != nil {
		fmt.Fprintf(os.Stderr, "agent process error: %v\n", waitErr)
	}
	if wd.Killed() {
		d.event(iteration, recorder.EventWatchdogKill, outcome.Outcome(0), false,
			"watchdog killed session: no output growth")
	}

	size := int64(0)
	if info, statErr := os.Stat(transcriptPath); statErr == nil {
		size = info.Size()
	}

	d.event(iteration, recorder.EventSessionExit, outcome.Outcome(0), false,
		fmt.Sprintf("session exited: code=%d bytes=%d", sess.ExitCode(), size))

	result, err := outcome.Classify(outcome.Input{
		TranscriptPath:     transcriptPath,
		ExitCode:           sess.ExitCode(),
		Size:               size,
		WatchdogKilled:     wd.Killed(),
		ShutdownImmediate:  immediateFired && !wd.Killed(),
		MinProductiveBytes: d.cfg.Watchdog.MinProductiveBytes,
		RateLimitPhrases:   d.cfg.Backoff.RateLimitPhrases,
		CommitPatterns:     d.commitPatterns,
	})
	if err != nil {
		return iterationOutcome{}, fmt.Errorf("classifying outcome: %w", err)
	}
	if err := d.recorder.AppendEvent(recorder.OutcomeEvent(iteration, result.Outcome, result.Committed,
		fmt.Sprintf("classified as %s", result.Outcome))); err != nil {
		fmt.Fprintf(os.Stderr, "failed to append event: %v\n", err)
	}

	if result.Outcome == outcome.Productive {
		postEnv := hooks.PostHookEnv{
			PreHookEnv:      preEnv,
			OutputFile:      transcriptPath,
			ExitCode:        sess.ExitCode(),
			OutputBytes:     size,
			SessionDuration: time.Since(sess.StartedAt()),
			Committed:       result.Committed,
		}
		postResults := hooks.RunPostHooks(ctx, d.cfg.Hooks.PostSessionCommands, postEnv, workingDir, d.cfg.Hooks.Timeout)
		for _, res := range postResults {
			if res.ExitCode != 0 {
				d.event(iteration, recorder.EventPostHookFailed, result.Outcome, true,
					fmt.Sprintf("post-session hook %q exit=%d", res.Command, res.ExitCode))
				continue
			}
			d.event(iteration, recorder.EventPostHookRun, result.Outcome, true,
				fmt.Sprintf("post-session hook %q exit=%d", res.Command, res.ExitCode))
		}
	}

	return iterationOutcome{Result: result}, nil
}

// sleep waits for delay, returning false early if ctx is cancelled or an
// immediate shutdown is requested mid-wait.
func (d *Driver) sleep(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-d.coordinator.Immediate():
		return false
	}
}

func (d *Driver) writeStatus(hostname string, iteration int, running bool, lastOutcome outcome.Outcome, haveLastOutcome bool, lastCommitted bool) error {
	doc := recorder.StatusDocument{
		PID:                 os.Getpid(),
		Hostname:            hostname,
		StartedAt:           d.startedAt,
		CurrentIteration:    iteration,
		GlobalIterations:    d.counters.Global,
		ProductiveCount:     d.counters.Productive,
		ConsecutiveRateHits: d.rl.Consecutive,
		LastCommitted:       lastCommitted,
		ShutdownMode:        d.coordinator.Mode().String(),
		Running:             running,
	}
	if haveLastOutcome {
		doc.LastOutcome = lastOutcome.String()
	}
	return d.recorder.WriteStatus(doc)
}

func (d *Driver) recordShutdown(mode shutdown.Mode) {
	d.event(d.counters.Global, recorder.EventShutdownRequested, outcome.Outcome(0), false,
		fmt.Sprintf("shutdown requested: %s", mode))
	d.event(d.counters.Global, recorder.EventTerminated, outcome.Outcome(0), false, "run terminated: shutdown requested")
}

func (d *Driver) event(iteration int, eventType string, o outcome.Outcome, haveOutcome bool, message string) {
	if err := d.recorder.AppendEvent(recorder.EventOf(iteration, eventType, o, haveOutcome, message)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to append event: %v\n", err)
	}
}
