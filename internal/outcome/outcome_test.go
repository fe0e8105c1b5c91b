package outcome

import (
	"os"
	"path/filepath"
	"testing"
)

var testPhrases = []string{"rate limit", "rate_limit", "usage limit", "hit your limit"}

func writeTranscript(t *testing.T, lines ...string) (string, int64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path, int64(len(content))
}

func baseInput(path string, size int64) Input {
	return Input{
		TranscriptPath:     path,
		ExitCode:           0,
		Size:               size,
		MinProductiveBytes: 1,
		RateLimitPhrases:   testPhrases,
	}
}

func TestClassifyWatchdogKilledTakesPrecedence(t *testing.T) {
	path, size := writeTranscript(t, `{"type":"result","is_error":false,"result":"rate limit hit"}`)
	in := baseInput(path, size)
	in.WatchdogKilled = true

	res, err := Classify(in)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Outcome != WatchdogKilled {
		t.Fatalf("expected WatchdogKilled, got %v", res.Outcome)
	}
}

func TestClassifyInterruptedBeforeRateLimitCheck(t *testing.T) {
	path, size := writeTranscript(t, `{"type":"result","is_error":true,"result":"rate limit exceeded"}`)
	in := baseInput(path, size)
	in.ShutdownImmediate = true

	res, err := Classify(in)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Outcome != Interrupted {
		t.Fatalf("expected Interrupted, got %v", res.Outcome)
	}
}

func TestClassifyRateLimited(t *testing.T) {
	path, size := writeTranscript(t, `{"type":"result","is_error":true,"result":"Error: rate limit exceeded, try later"}`)
	res, err := Classify(baseInput(path, size))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Outcome != RateLimited {
		t.Fatalf("expected RateLimited, got %v", res.Outcome)
	}
}

func TestClassifyRateLimitedRequiresErrorFlag(t *testing.T) {
	path, size := writeTranscript(t, `{"type":"result","is_error":false,"result":"the docs mention rate limit handling"}`)
	res, err := Classify(baseInput(path, size))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Outcome == RateLimited {
		t.Fatalf("non-error result line mentioning a rate-limit phrase must not classify as RateLimited")
	}
}

func TestClassifyEmptyWhenBelowMinProductiveBytes(t *testing.T) {
	path, size := writeTranscript(t, `{"type":"result","is_error":false,"result":"ok"}`)
	in := baseInput(path, size)
	in.MinProductiveBytes = size + 1

	res, err := Classify(in)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Outcome != Empty {
		t.Fatalf("expected Empty, got %v", res.Outcome)
	}
}

func TestClassifyAgentErrorOnNonZeroExit(t *testing.T) {
	path, size := writeTranscript(t, `{"type":"result","is_error":false,"result":"did a bunch of work but then crashed"}`)
	in := baseInput(path, size)
	in.ExitCode = 1

	res, err := Classify(in)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Outcome != AgentError {
		t.Fatalf("expected AgentError, got %v", res.Outcome)
	}
}

func TestClassifyProductive(t *testing.T) {
	path, size := writeTranscript(t,
		`{"type":"system","subtype":"init"}`,
		`{"type":"result","is_error":false,"result":"Implemented the feature and added tests."}`,
	)
	res, err := Classify(baseInput(path, size))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Outcome != Productive {
		t.Fatalf("expected Productive, got %v", res.Outcome)
	}
}

func TestClassifyUsesLastResultLine(t *testing.T) {
	path, size := writeTranscript(t,
		`{"type":"result","is_error":true,"result":"rate limit"}`,
		`{"type":"result","is_error":false,"result":"done"}`,
	)
	res, err := Classify(baseInput(path, size))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Outcome != Productive {
		t.Fatalf("expected Productive from last result line, got %v", res.Outcome)
	}
}

func TestClassifySkipsMalformedLines(t *testing.T) {
	path, size := writeTranscript(t,
		`not json at all`,
		`{"type":"result","is_error":false,"result":"done"}`,
	)
	res, err := Classify(baseInput(path, size))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Outcome != Productive {
		t.Fatalf("expected Productive, got %v", res.Outcome)
	}
}

func TestClassifyMissingFileIsEmpty(t *testing.T) {
	in := baseInput(filepath.Join(t.TempDir(), "missing.jsonl"), 0)
	res, err := Classify(in)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Outcome != Empty {
		t.Fatalf("expected Empty for missing file, got %v", res.Outcome)
	}
}

func TestClassifyDetectsCommitPattern(t *testing.T) {
	patterns, err := CompilePatterns([]string{`(?i)\bcommitted\b`})
	if err != nil {
		t.Fatalf("CompilePatterns: %v", err)
	}
	path, size := writeTranscript(t,
		`{"type":"assistant","text":"Changes committed to the repository."}`,
		`{"type":"result","is_error":false,"result":"done"}`,
	)
	in := baseInput(path, size)
	in.CommitPatterns = patterns

	res, err := Classify(in)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !res.Committed {
		t.Fatal("expected Committed to be true")
	}
}

func TestClassifyCommitDetectionIndependentOfOutcome(t *testing.T) {
	patterns, err := CompilePatterns([]string{`(?i)\bcommitted\b`})
	if err != nil {
		t.Fatalf("CompilePatterns: %v", err)
	}
	path, size := writeTranscript(t, `{"type":"assistant","text":"Nothing committed yet."}`)
	in := baseInput(path, size)
	in.CommitPatterns = patterns
	in.WatchdogKilled = true

	res, err := Classify(in)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Outcome != WatchdogKilled {
		t.Fatalf("expected WatchdogKilled, got %v", res.Outcome)
	}
	if !res.Committed {
		t.Fatal("commit detection runs on the watchdog-kill path too, so Committed must be true")
	}
}
