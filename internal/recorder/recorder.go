// Package recorder persists the run's crash-consistent status document and
// append-only event log.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/relliv/loopctl/internal/outcome"
)

// StatusDocument is the single-writer, atomically-replaced snapshot of a
// run's current state.
type StatusDocument struct {
	PID                 int       `json:"pid"`
	Hostname            string    `json:"hostname"`
	StartedAt           time.Time `json:"started_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	CurrentIteration    int       `json:"current_iteration"`
	GlobalIterations    int       `json:"global_iterations"`
	ProductiveCount     int       `json:"productive_iterations"`
	ConsecutiveRateHits int       `json:"consecutive_rate_limits"`
	LastOutcome         string    `json:"last_outcome,omitempty"`
	LastCommitted       bool      `json:"last_committed"`
	ShutdownMode        string    `json:"shutdown_mode"`
	Running             bool      `json:"running"`
}

// Event is one append-only record in the event log.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Iteration int                    `json:"iteration"`
	Type      string                 `json:"type"`
	Outcome   string                 `json:"outcome,omitempty"`
	Committed bool                   `json:"committed,omitempty"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event type constants: the fixed taxonomy every run emits against,
// letting a reader reconstruct a run's history from the event log alone.
const (
	EventIterationStart  = "iteration_start"
	EventPreHookRun      = "pre_hook_run"
	EventPreHookFailed   = "pre_hook_failed"
	EventPromptAssembled = "prompt_assembled"
	EventSessionSpawn    = "session_spawn"
	EventWatchdogStale   = "watchdog_stale"
	EventWatchdogKill    = "watchdog_kill"
	EventSessionExit     = "session_exit"
	EventOutcomeClassified = "outcome_classified"
	EventRetryScheduled  = "retry_scheduled"
	EventRateLimitBackoff = "rate_limit_backoff"
	EventPostHookRun     = "post_hook_run"
	EventPostHookFailed  = "post_hook_failed"
	EventIterationEnd    = "iteration_end"
	EventShutdownRequested = "shutdown_requested"
	EventShutdownForced  = "shutdown_forced"
	EventTerminated      = "terminated"
)

// Recorder owns the status document and event log for one run.
type Recorder struct {
	statusPath string
	eventPath  string
}

// New returns a Recorder writing to the given paths.
func New(statusPath, eventPath string) *Recorder {
	return &Recorder{statusPath: statusPath, eventPath: eventPath}
}

// WriteStatus atomically replaces the status document: it writes to a
// temp file in the same directory and renames it over the target, so a
// reader never observes a partially-written file and a crash mid-write
// never corrupts the previous snapshot.
func (r *Recorder) WriteStatus(doc StatusDocument) error {
	doc.UpdatedAt = time.Now()

	dir := filepath.Dir(r.statusPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling status document: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp status file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp status file: %w", err)
	}
	if err := os.Rename(tmpPath, r.statusPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming status file into place: %w", err)
	}
	return nil
}

// ReadStatus loads the current status document.
func ReadStatus(path string) (StatusDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StatusDocument{}, fmt.Errorf("reading status file %s: %w", path, err)
	}
	var doc StatusDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return StatusDocument{}, fmt.Errorf("parsing status file %s: %w", path, err)
	}
	return doc, nil
}

// AppendEvent appends ev to the event log, assigning it an ID and
// timestamp if unset. The file is opened O_APPEND so concurrent appends
// from a single writer never interleave within one JSON line, matching
// the single-writer discipline the event log is specified under.
func (r *Recorder) AppendEvent(ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if err := os.MkdirAll(filepath.Dir(r.eventPath), 0755); err != nil {
		return fmt.Errorf("creating event log directory: %w", err)
	}

	f, err := os.OpenFile(r.eventPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// EventOf is a convenience constructor used by the driver.
func EventOf(iteration int, eventType string, o outcome.Outcome, haveOutcome bool, message string) Event {
	ev := Event{Iteration: iteration, Type: eventType, Message: message}
	if haveOutcome {
		ev.Outcome = o.String()
	}
	return ev
}

// OutcomeEvent builds the outcome_classified event, carrying the
// independent committed flag alongside the outcome itself.
func OutcomeEvent(iteration int, o outcome.Outcome, committed bool, message string) Event {
	return Event{Iteration: iteration, Type: EventOutcomeClassified, Outcome: o.String(), Committed: committed, Message: message}
}
