// Package config loads and validates the configuration that drives a
// loopctl run: which agent binary to spawn, how sessions are bounded, and
// where status and event output is written.
package config

import "time"

// AgentConfig describes how the coding-agent CLI is invoked.
type AgentConfig struct {
	// Binary is the executable name or path looked up on PATH.
	// Default: "claude"
	Binary string `yaml:"binary"`

	// ArgvTemplate is the argument list passed to Binary. Exactly one
	// element may contain the literal token "{prompt}"; it is replaced
	// with the assembled prompt text at spawn time. A template with no
	// "{prompt}" token is valid: the prompt is instead written to the
	// session's prompt file and that path is exported to the child via
	// LOOPCTL_PROMPT_FILE.
	// Default: ["--print", "--dangerously-skip-permissions", "--verbose", "--output-format", "stream-json", "{prompt}"]
	ArgvTemplate []string `yaml:"argv_template"`

	// WorkingDir is the directory the agent process runs in.
	// Default: "."
	WorkingDir string `yaml:"working_dir"`

	// Env holds additional KEY=VALUE environment entries appended to the
	// child's environment (after os.Environ()).
	Env map[string]string `yaml:"env"`

	// MinVersion, when non-empty, is a semver constraint checked only by
	// `loopctl doctor`, never by the run loop itself.
	MinVersion string `yaml:"min_version"`
}

// PromptConfig describes how the per-session prompt text is assembled: the
// stdout of zero or more prepend commands, joined by Separator, followed
// by Separator and the raw contents of FilePath.
type PromptConfig struct {
	// FilePath is the base prompt file. Read fresh every iteration; an
	// unreadable file is a fatal PromptMissing error.
	// Default: ".loopctl/prompt.md"
	FilePath string `yaml:"file_path"`

	// PrependCommands run serially, in order, each in its own subshell
	// with the current working directory and inherited environment. A
	// command's trimmed stdout is accumulated if non-empty; its exit
	// status does not prevent that stdout from contributing.
	PrependCommands []string `yaml:"prepend_commands"`

	// Separator joins accumulated prepend output and precedes the prompt
	// file contents.
	// Default: "\n---\n"
	Separator string `yaml:"separator"`
}

// WatchdogConfig bounds how long a session may run without growing its
// output file before it is judged stalled and killed, and the minimum
// output size a session must reach to be judged Productive.
type WatchdogConfig struct {
	// StaleTimeout is the cumulative duration of no output growth that
	// triggers a kill.
	// Default: 5m
	StaleTimeout time.Duration `yaml:"stale_timeout"`

	// CheckInterval is how often the session output file size is sampled.
	// Default: 5s
	CheckInterval time.Duration `yaml:"check_interval"`

	// MinProductiveBytes is the minimum session output size, in bytes,
	// for an otherwise-clean exit to be classified Productive rather
	// than Empty.
	// Default: 1
	MinProductiveBytes int64 `yaml:"min_productive_bytes"`
}

// RetryConfig bounds how many times a non-productive slot (Empty,
// AgentError, or WatchdogKilled) is retried before the iteration is
// abandoned as non-productive.
type RetryConfig struct {
	// MaxEmptyRetries is the number of retry attempts permitted within one
	// slot before it is abandoned.
	// Default: 2
	MaxEmptyRetries int `yaml:"max_empty_retries"`

	// RetryDelay is the fixed delay before the next attempt in the slot.
	// Default: 5s
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// BackoffConfig controls the delay imposed between sessions after a
// rate-limited outcome, and the circuit breaker that stops the run
// entirely after too many in a row.
type BackoffConfig struct {
	// InitialDelay is the delay applied after the first consecutive
	// rate-limited outcome.
	// Default: 30s
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the exponential backoff.
	// Default: 30m
	MaxDelay time.Duration `yaml:"max_delay"`

	// MaxConsecutiveRateLimits is the number of consecutive rate-limited
	// outcomes that causes the driver to give up rather than keep backing
	// off.
	// Default: 6
	MaxConsecutiveRateLimits int `yaml:"max_consecutive_rate_limits"`

	// RateLimitPhrases are the case-insensitive substrings checked
	// against the final result line's text to detect a rate-limited
	// outcome.
	// Default: ["rate limit", "rate_limit", "usage limit", "hit your limit"]
	RateLimitPhrases []string `yaml:"rate_limit_phrases"`
}

// IterationConfig bounds how many sessions the driver will run.
type IterationConfig struct {
	// MaxGlobalIterations caps the total number of spawn attempts
	// regardless of outcome. 0 = unlimited. Not part of the upstream
	// session model; an optional extra safety net layered on top of
	// MaxProductiveIterations.
	MaxGlobalIterations int `yaml:"max_global_iterations"`

	// MaxProductiveIterations caps the number of Productive-outcome
	// sessions; the driver reaches its LimitReached terminal state once
	// this many have completed. 0 = unlimited.
	// Default: 50
	MaxProductiveIterations int `yaml:"max_productive_iterations"`
}

// HooksConfig names ordered shell-command sequences run around each
// session.
type HooksConfig struct {
	// PreSessionCommands run serially before prompt assembly. A non-zero
	// exit from any command aborts the iteration without retry.
	PreSessionCommands []string `yaml:"pre_session_commands"`

	// PostSessionCommands run serially, only after a Productive outcome
	// and only once per productive iteration. Failures are logged but
	// never reclassify the outcome.
	PostSessionCommands []string `yaml:"post_session_commands"`

	// Timeout bounds each individual command in either sequence.
	// Default: 1m
	Timeout time.Duration `yaml:"timeout"`
}

// ShutdownConfig controls signal handling and the cooperative stop
// sentinel file.
type ShutdownConfig struct {
	// DoubleInterruptWindow is the window within which a second signal
	// escalates a graceful shutdown to an immediate one.
	// Default: 3s
	DoubleInterruptWindow time.Duration `yaml:"double_interrupt_window"`

	// GraceTimeout bounds how long the current agent process is given to
	// exit after SIGTERM before SIGKILL is sent.
	// Default: 10s
	GraceTimeout time.Duration `yaml:"grace_timeout"`

	// StopFile is polled at the top of every iteration; its presence
	// requests a graceful stop and the file is removed once observed.
	// Default: ".loopctl/STOP"
	StopFile string `yaml:"stop_file"`
}

// CommitDetectionConfig names the regular expressions scanned over a
// session's full output to derive its informational "committed" flag.
type CommitDetectionConfig struct {
	// Patterns are Go regular expressions matched as written against each
	// line of the session file (the defaults carry the (?i) flag for
	// case-insensitive matching); a single match anywhere sets
	// committed=true. Independent of outcome classification.
	Patterns []string `yaml:"patterns"`
}

// PathsConfig names the on-disk locations the run loop reads and writes.
type PathsConfig struct {
	// SessionDir holds one output file per session.
	// Default: ".loopctl/sessions"
	SessionDir string `yaml:"session_dir"`

	// SessionFilePrefix names each session file as
	// "{prefix}-{global_iteration}.jsonl" inside SessionDir.
	// Default: "session"
	SessionFilePrefix string `yaml:"session_file_prefix"`

	// StatusFile is the crash-consistent status document.
	// Default: ".loopctl/status.json"
	StatusFile string `yaml:"status_file"`

	// EventLog is the append-only JSONL event log.
	// Default: ".loopctl/events.jsonl"
	EventLog string `yaml:"event_log"`

	// CounterFile persists IterationCounters and ConsecutiveRateLimits
	// across restarts.
	// Default: ".loopctl/counters.json"
	CounterFile string `yaml:"counter_file"`
}

// Config is the fully resolved configuration for a loopctl run.
type Config struct {
	Agent           AgentConfig           `yaml:"agent"`
	Prompt          PromptConfig          `yaml:"prompt"`
	Watchdog        WatchdogConfig        `yaml:"watchdog"`
	Retry           RetryConfig           `yaml:"retry"`
	Backoff         BackoffConfig         `yaml:"backoff"`
	Iteration       IterationConfig       `yaml:"iteration"`
	Hooks           HooksConfig           `yaml:"hooks"`
	Shutdown        ShutdownConfig        `yaml:"shutdown"`
	CommitDetection CommitDetectionConfig `yaml:"commit_detection"`
	Paths           PathsConfig           `yaml:"paths"`
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Binary: "claude",
			ArgvTemplate: []string{
				"--print", "--dangerously-skip-permissions", "--verbose",
				"--output-format", "stream-json", "{prompt}",
			},
			WorkingDir: ".",
		},
		Prompt: PromptConfig{
			FilePath:  ".loopctl/prompt.md",
			Separator: "\n---\n",
		},
		Watchdog: WatchdogConfig{
			StaleTimeout:       5 * time.Minute,
			CheckInterval:      5 * time.Second,
			MinProductiveBytes: 1,
		},
		Retry: RetryConfig{
			MaxEmptyRetries: 2,
			RetryDelay:      5 * time.Second,
		},
		Backoff: BackoffConfig{
			InitialDelay:             30 * time.Second,
			MaxDelay:                 30 * time.Minute,
			MaxConsecutiveRateLimits: 6,
			RateLimitPhrases:         []string{"rate limit", "rate_limit", "usage limit", "hit your limit"},
		},
		Iteration: IterationConfig{
			MaxProductiveIterations: 50,
		},
		Hooks: HooksConfig{
			Timeout: time.Minute,
		},
		Shutdown: ShutdownConfig{
			DoubleInterruptWindow: 3 * time.Second,
			GraceTimeout:          10 * time.Second,
			StopFile:              ".loopctl/STOP",
		},
		CommitDetection: CommitDetectionConfig{
			Patterns: []string{
				`(?i)\bcommitted\b`,
				`(?i)\bchanges (?:have been |were )?committed\b`,
				`(?i)\bcommit [0-9a-f]{7,40}\b`,
			},
		},
		Paths: PathsConfig{
			SessionDir:        ".loopctl/sessions",
			SessionFilePrefix: "session",
			StatusFile:        ".loopctl/status.json",
			EventLog:          ".loopctl/events.jsonl",
			CounterFile:       ".loopctl/counters.json",
		},
	}
}
