package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Binary != "claude" {
		t.Fatalf("expected default binary claude, got %q", cfg.Agent.Binary)
	}
	if cfg.Iteration.MaxProductiveIterations != 50 {
		t.Fatalf("expected default max productive iterations 50, got %d", cfg.Iteration.MaxProductiveIterations)
	}
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "agent:\n  binary: my-agent\nwatchdog:\n  stale_timeout: 10m\n  check_interval: 10s\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Binary != "my-agent" {
		t.Fatalf("expected binary override, got %q", cfg.Agent.Binary)
	}
	if cfg.Watchdog.StaleTimeout != 10*time.Minute {
		t.Fatalf("expected stale_timeout override, got %v", cfg.Watchdog.StaleTimeout)
	}
	// Untouched fields keep their defaults.
	if cfg.Backoff.MaxConsecutiveRateLimits != 6 {
		t.Fatalf("expected default max_consecutive_rate_limits, got %d", cfg.Backoff.MaxConsecutiveRateLimits)
	}
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("LOOPCTL_AGENT_BINARY", "env-agent")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Binary != "env-agent" {
		t.Fatalf("expected env override, got %q", cfg.Agent.Binary)
	}
}

func TestValidateRejectsMultiplePromptTokens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agent.ArgvTemplate = []string{"{prompt}", "{prompt}"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate prompt tokens")
	}
}

func TestValidateRejectsBackoffOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backoff.InitialDelay = time.Hour
	cfg.Backoff.MaxDelay = time.Minute
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for initial_delay > max_delay")
	}
}

func TestValidateRequiresAnIterationBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Iteration.MaxGlobalIterations = 0
	cfg.Iteration.MaxProductiveIterations = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when no iteration bound is set")
	}
}

func TestValidateRejectsInvalidCommitPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommitDetection.Patterns = []string{"("}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid regular expression")
	}
}

func TestValidateRejectsEmptyRateLimitPhrases(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backoff.RateLimitPhrases = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty rate_limit_phrases")
	}
}

func TestLoadAppliesRetryEnvOverride(t *testing.T) {
	t.Setenv("LOOPCTL_RETRY_MAX_EMPTY_RETRIES", "5")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retry.MaxEmptyRetries != 5 {
		t.Fatalf("expected retry override, got %d", cfg.Retry.MaxEmptyRetries)
	}
}
