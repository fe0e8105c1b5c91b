// Package prompt assembles the text handed to the agent for each session:
// the stdout of zero or more prepend commands, joined by a separator,
// followed by the separator and the raw prompt file contents.
package prompt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ErrPromptMissing wraps the failure to read the base prompt file. The
// driver treats this as a fatal configuration error: no retry.
var ErrPromptMissing = errors.New("prompt file missing")

// Config describes how to assemble one session's prompt text.
type Config struct {
	// FilePath is the base prompt file, read fresh every call.
	FilePath string
	// PrependCommands run serially, in order, before FilePath is read.
	PrependCommands []string
	// Separator joins accumulated prepend output and precedes the prompt
	// file contents.
	Separator string
	// WorkingDir is the directory prepend commands run in.
	WorkingDir string
}

// CommandDebug records a prepend command's stderr output, for the driver
// to attach to the prompt_assembled event at debug detail.
type CommandDebug struct {
	Command string
	Stderr  string
}

// Assembled is the result of one Assemble call.
type Assembled struct {
	Text  string
	Debug []CommandDebug
}

// Assemble executes cfg.PrependCommands in order, accumulates their
// trimmed, non-empty stdout, joins that with cfg.Separator, then appends
// cfg.Separator and the raw contents of cfg.FilePath. A prepend command
// that exits non-zero still contributes whatever stdout it produced; only
// an unreadable prompt file fails the call, wrapping ErrPromptMissing.
func Assemble(ctx context.Context, cfg Config) (Assembled, error) {
	var chunks []string
	var debug []CommandDebug

	for _, command := range cfg.PrependCommands {
		stdout, stderr, _ := runPrepend(ctx, command, cfg.WorkingDir)
		if trimmed := strings.TrimSpace(stdout); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		if trimmed := strings.TrimSpace(stderr); trimmed != "" {
			debug = append(debug, CommandDebug{Command: command, Stderr: trimmed})
		}
	}

	fileContents, err := os.ReadFile(cfg.FilePath)
	if err != nil {
		return Assembled{}, fmt.Errorf("%w: %s: %v", ErrPromptMissing, cfg.FilePath, err)
	}
	chunks = append(chunks, string(fileContents))

	return Assembled{Text: strings.Join(chunks, cfg.Separator), Debug: debug}, nil
}

// runPrepend executes command in a subshell, returning its stdout and
// stderr independently. A non-zero exit is not itself an error the caller
// needs to act on; it is only informational.
func runPrepend(ctx context.Context, command, workingDir string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workingDir

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// InjectArgv substitutes the single "{prompt}" token in argvTemplate with
// prompt text, returning the argv to exec. If argvTemplate contains no
// "{prompt}" token, it is returned unchanged — the caller is expected to
// pass the prompt to the child via the LOOPCTL_PROMPT_FILE contract
// instead. argvTemplate must contain at most one "{prompt}" token; this is
// enforced at configuration load time, not here.
func InjectArgv(argvTemplate []string, promptText string) []string {
	argv := make([]string, len(argvTemplate))
	for i, a := range argvTemplate {
		argv[i] = strings.ReplaceAll(a, "{prompt}", promptText)
	}
	return argv
}

// HasPromptToken reports whether argvTemplate carries a "{prompt}" token.
func HasPromptToken(argvTemplate []string) bool {
	for _, a := range argvTemplate {
		if strings.Contains(a, "{prompt}") {
			return true
		}
	}
	return false
}
