package checks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout is returned when a check command exceeds its timeout.
var ErrTimeout = errors.New("check timed out")

// DefaultTimeout applies when a CheckConfig leaves Timeout unset.
const DefaultTimeout = 2 * time.Minute

// Result holds the structured output of a check run.
type Result struct {
	CheckName   string       `json:"check_name"`
	Passed      bool         `json:"passed"`
	ExitCode    int          `json:"exit_code"`
	DurationMs  int          `json:"duration_ms"`
	Summary     string       `json:"summary"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	Files       []string     `json:"files,omitempty"`
	Stdout      string       `json:"stdout,omitempty"`
	Stderr      string       `json:"stderr,omitempty"`
}

// FindingsJSON returns the diagnostics encoded as JSON for the event log.
func (r *Result) FindingsJSON() string {
	data, err := json.Marshal(r.Diagnostics)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// CheckConfig holds the fields the runner needs for a single check.
type CheckConfig struct {
	Name    string
	Command string
	Parser  string
	Timeout time.Duration
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes checks and parses their output.
type Runner struct {
	cmd     CommandRunner
	parsers map[string]Parser
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	return &Runner{
		cmd:     cmd,
		parsers: builtinParsers(),
	}
}

// RegisterParser adds or replaces a parser under name.
func (r *Runner) RegisterParser(name string, p Parser) {
	r.parsers[name] = p
}

// Run executes a single check in the given directory and parses its output.
func (r *Runner) Run(ctx context.Context, dir string, cfg CheckConfig) (*Result, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	parser, ok := r.parsers[cfg.Parser]
	if !ok {
		if cfg.Parser != "" {
			return nil, fmt.Errorf("check %q: unknown parser %q", cfg.Name, cfg.Parser)
		}
		parser = r.parsers["generic"]
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(runCtx, dir, cfg.Command)
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		// Context deadline exceeded → timeout
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("check %q: %w after %s", cfg.Name, ErrTimeout, timeout)
		}
		return nil, fmt.Errorf("run check %q: %w", cfg.Name, err)
	}

	parsed, err := parser.Parse(stdout, stderr, exitCode)
	if err != nil {
		return nil, fmt.Errorf("check %q: %w", cfg.Name, err)
	}

	return &Result{
		CheckName:   cfg.Name,
		Passed:      parsed.Passed,
		ExitCode:    exitCode,
		DurationMs:  durationMs,
		Summary:     parsed.Summary,
		Diagnostics: parsed.Diagnostics,
		Files:       parsed.Files,
		Stdout:      stdout,
		Stderr:      stderr,
	}, nil
}

// ShellQuote quotes s for safe interpolation into an sh -c command line.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
