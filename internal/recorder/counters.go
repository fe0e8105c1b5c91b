package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/relliv/loopctl/internal/policy"
)

// countersFile is the on-disk shape of the persisted counters, kept
// distinct from policy.Counters/policy.RateLimitState so a format change
// to either in-memory type doesn't silently change the persisted schema.
type countersFile struct {
	Global      int `json:"global_iterations"`
	Productive  int `json:"productive_iterations"`
	Consecutive int `json:"consecutive_rate_limits"`
	RetryIndex  int `json:"retry_index"`
}

// LoadCounters reads the persisted counters at path, returning zero values
// if the file does not yet exist (a fresh run).
func LoadCounters(path string) (policy.Counters, policy.RateLimitState, policy.RetryState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return policy.Counters{}, policy.RateLimitState{}, policy.RetryState{}, nil
		}
		return policy.Counters{}, policy.RateLimitState{}, policy.RetryState{}, fmt.Errorf("reading counter file %s: %w", path, err)
	}

	var cf countersFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return policy.Counters{}, policy.RateLimitState{}, policy.RetryState{}, fmt.Errorf("parsing counter file %s: %w", path, err)
	}

	return policy.Counters{Global: cf.Global, Productive: cf.Productive},
		policy.RateLimitState{Consecutive: cf.Consecutive},
		policy.RetryState{Index: cf.RetryIndex}, nil
}

// SaveCounters atomically persists counters, rl, and retry to path via
// write-to-temp-then-rename, the same crash-consistency discipline the
// status document uses.
func SaveCounters(path string, counters policy.Counters, rl policy.RateLimitState, retry policy.RetryState) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating counter directory: %w", err)
	}

	data, err := json.MarshalIndent(countersFile{
		Global:      counters.Global,
		Productive:  counters.Productive,
		Consecutive: rl.Consecutive,
		RetryIndex:  retry.Index,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling counters: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".counters-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp counter file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp counter file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp counter file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming counter file into place: %w", err)
	}
	return nil
}
