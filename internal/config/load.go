package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path (if it exists) over a set of defaults,
// applies LOOPCTL_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides mutates cfg in place from LOOPCTL_<GROUP>_<FIELD>
// environment variables, following the teacher's per-field-getter idiom.
func applyEnvOverrides(cfg *Config) {
	envString("LOOPCTL_AGENT_BINARY", &cfg.Agent.Binary)
	envString("LOOPCTL_AGENT_WORKING_DIR", &cfg.Agent.WorkingDir)
	envString("LOOPCTL_AGENT_MIN_VERSION", &cfg.Agent.MinVersion)

	envString("LOOPCTL_PROMPT_FILE_PATH", &cfg.Prompt.FilePath)
	envString("LOOPCTL_PROMPT_SEPARATOR", &cfg.Prompt.Separator)

	envDuration("LOOPCTL_WATCHDOG_STALE_TIMEOUT", &cfg.Watchdog.StaleTimeout)
	envDuration("LOOPCTL_WATCHDOG_CHECK_INTERVAL", &cfg.Watchdog.CheckInterval)
	envInt64("LOOPCTL_WATCHDOG_MIN_PRODUCTIVE_BYTES", &cfg.Watchdog.MinProductiveBytes)

	envInt("LOOPCTL_RETRY_MAX_EMPTY_RETRIES", &cfg.Retry.MaxEmptyRetries)
	envDuration("LOOPCTL_RETRY_RETRY_DELAY", &cfg.Retry.RetryDelay)

	envDuration("LOOPCTL_BACKOFF_INITIAL_DELAY", &cfg.Backoff.InitialDelay)
	envDuration("LOOPCTL_BACKOFF_MAX_DELAY", &cfg.Backoff.MaxDelay)
	envInt("LOOPCTL_BACKOFF_MAX_CONSECUTIVE_RATE_LIMITS", &cfg.Backoff.MaxConsecutiveRateLimits)

	envInt("LOOPCTL_ITERATION_MAX_GLOBAL_ITERATIONS", &cfg.Iteration.MaxGlobalIterations)
	envInt("LOOPCTL_ITERATION_MAX_PRODUCTIVE_ITERATIONS", &cfg.Iteration.MaxProductiveIterations)

	envDuration("LOOPCTL_HOOKS_TIMEOUT", &cfg.Hooks.Timeout)

	envDuration("LOOPCTL_SHUTDOWN_DOUBLE_INTERRUPT_WINDOW", &cfg.Shutdown.DoubleInterruptWindow)
	envDuration("LOOPCTL_SHUTDOWN_GRACE_TIMEOUT", &cfg.Shutdown.GraceTimeout)
	envString("LOOPCTL_SHUTDOWN_STOP_FILE", &cfg.Shutdown.StopFile)

	envString("LOOPCTL_PATHS_SESSION_DIR", &cfg.Paths.SessionDir)
	envString("LOOPCTL_PATHS_SESSION_FILE_PREFIX", &cfg.Paths.SessionFilePrefix)
	envString("LOOPCTL_PATHS_STATUS_FILE", &cfg.Paths.StatusFile)
	envString("LOOPCTL_PATHS_EVENT_LOG", &cfg.Paths.EventLog)
	envString("LOOPCTL_PATHS_COUNTER_FILE", &cfg.Paths.CounterFile)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envDuration(key string, dst *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		fmt.Printf("Warning: ignoring invalid duration for %s: %v\n", key, err)
		return
	}
	*dst = d
}

func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Printf("Warning: ignoring invalid integer for %s: %v\n", key, err)
		return
	}
	*dst = n
}

func envInt64(key string, dst *int64) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		fmt.Printf("Warning: ignoring invalid integer for %s: %v\n", key, err)
		return
	}
	*dst = n
}

// Validate checks that cfg is internally consistent, returning a
// descriptive error for the first problem found.
func (c *Config) Validate() error {
	if c.Agent.Binary == "" {
		return fmt.Errorf("agent.binary must not be empty")
	}
	if len(c.Agent.ArgvTemplate) == 0 {
		return fmt.Errorf("agent.argv_template must not be empty")
	}
	if n := countPromptTokens(c.Agent.ArgvTemplate); n > 1 {
		return fmt.Errorf("agent.argv_template must contain at most one {prompt} token, found %d", n)
	}

	if c.Prompt.FilePath == "" {
		return fmt.Errorf("prompt.file_path must not be empty")
	}
	if c.Prompt.Separator == "" {
		return fmt.Errorf("prompt.separator must not be empty")
	}

	if c.Watchdog.StaleTimeout <= 0 {
		return fmt.Errorf("watchdog.stale_timeout must be positive, got %v", c.Watchdog.StaleTimeout)
	}
	if c.Watchdog.CheckInterval <= 0 {
		return fmt.Errorf("watchdog.check_interval must be positive, got %v", c.Watchdog.CheckInterval)
	}
	if c.Watchdog.CheckInterval > c.Watchdog.StaleTimeout {
		return fmt.Errorf("watchdog.check_interval (%v) must not exceed watchdog.stale_timeout (%v)", c.Watchdog.CheckInterval, c.Watchdog.StaleTimeout)
	}
	if c.Watchdog.MinProductiveBytes < 0 {
		return fmt.Errorf("watchdog.min_productive_bytes must be non-negative, got %d", c.Watchdog.MinProductiveBytes)
	}

	if c.Retry.MaxEmptyRetries < 0 {
		return fmt.Errorf("retry.max_empty_retries must be non-negative, got %d", c.Retry.MaxEmptyRetries)
	}
	if c.Retry.RetryDelay <= 0 {
		return fmt.Errorf("retry.retry_delay must be positive, got %v", c.Retry.RetryDelay)
	}

	if c.Backoff.InitialDelay <= 0 {
		return fmt.Errorf("backoff.initial_delay must be positive, got %v", c.Backoff.InitialDelay)
	}
	if c.Backoff.MaxDelay <= 0 {
		return fmt.Errorf("backoff.max_delay must be positive, got %v", c.Backoff.MaxDelay)
	}
	if c.Backoff.InitialDelay > c.Backoff.MaxDelay {
		return fmt.Errorf("backoff.initial_delay (%v) must not exceed backoff.max_delay (%v)", c.Backoff.InitialDelay, c.Backoff.MaxDelay)
	}
	if c.Backoff.MaxConsecutiveRateLimits <= 0 {
		return fmt.Errorf("backoff.max_consecutive_rate_limits must be positive, got %d", c.Backoff.MaxConsecutiveRateLimits)
	}
	if len(c.Backoff.RateLimitPhrases) == 0 {
		return fmt.Errorf("backoff.rate_limit_phrases must not be empty")
	}

	if c.Iteration.MaxGlobalIterations < 0 {
		return fmt.Errorf("iteration.max_global_iterations must be non-negative, got %d", c.Iteration.MaxGlobalIterations)
	}
	if c.Iteration.MaxProductiveIterations < 0 {
		return fmt.Errorf("iteration.max_productive_iterations must be non-negative, got %d", c.Iteration.MaxProductiveIterations)
	}
	if c.Iteration.MaxGlobalIterations == 0 && c.Iteration.MaxProductiveIterations == 0 {
		return fmt.Errorf("at least one of iteration.max_global_iterations or iteration.max_productive_iterations must be positive")
	}

	if c.Hooks.Timeout <= 0 {
		return fmt.Errorf("hooks.timeout must be positive, got %v", c.Hooks.Timeout)
	}

	if c.Shutdown.DoubleInterruptWindow <= 0 {
		return fmt.Errorf("shutdown.double_interrupt_window must be positive, got %v", c.Shutdown.DoubleInterruptWindow)
	}
	if c.Shutdown.GraceTimeout <= 0 {
		return fmt.Errorf("shutdown.grace_timeout must be positive, got %v", c.Shutdown.GraceTimeout)
	}
	if c.Shutdown.StopFile == "" {
		return fmt.Errorf("shutdown.stop_file must not be empty")
	}

	for _, pattern := range c.CommitDetection.Patterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("commit_detection.patterns: invalid regular expression %q: %w", pattern, err)
		}
	}

	if c.Paths.SessionDir == "" || c.Paths.StatusFile == "" || c.Paths.EventLog == "" || c.Paths.CounterFile == "" {
		return fmt.Errorf("paths.session_dir, paths.status_file, paths.event_log and paths.counter_file must all be set")
	}
	if c.Paths.SessionFilePrefix == "" {
		return fmt.Errorf("paths.session_file_prefix must not be empty")
	}

	return nil
}

func countPromptTokens(argv []string) int {
	n := 0
	for _, a := range argv {
		n += strings.Count(a, "{prompt}")
	}
	return n
}
