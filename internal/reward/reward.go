// Package reward scores a generated file: it runs the configured static
// analysis checks, prices each diagnostic by severity and reports
// reward = 1 - penalty.
package reward

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/lucasnoah/codeforge/internal/checks"
	"github.com/lucasnoah/codeforge/internal/prompt"
)

// ErrScoringUnavailable matches every *UnavailableError.
var ErrScoringUnavailable = errors.New("scoring unavailable")

// UnavailableError means no trustworthy score could be computed: a check
// timed out, could not run, or produced output its parser did not understand.
type UnavailableError struct {
	Check string
	Err   error
}

func (e *UnavailableError) Error() string {
	if e.Check == "" {
		return fmt.Sprintf("%s: %v", ErrScoringUnavailable, e.Err)
	}
	return fmt.Sprintf("%s: check %q: %v", ErrScoringUnavailable, e.Check, e.Err)
}

// Is reports whether target is ErrScoringUnavailable.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrScoringUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// UnknownSeverityError is returned for a diagnostic whose severity has no weight.
type UnknownSeverityError struct {
	Severity int
}

func (e *UnknownSeverityError) Error() string {
	return fmt.Sprintf("no penalty weight for severity %d", e.Severity)
}

// DefaultWeights prices a warning at 0.01 and an error at 0.05.
func DefaultWeights() map[int]float64 {
	return map[int]float64{
		checks.SeverityWarning: 0.01,
		checks.SeverityError:   0.05,
	}
}

// Penalty sums the weight of every diagnostic's severity. It is not capped.
func Penalty(diags []checks.Diagnostic, weights map[int]float64) (float64, error) {
	var total float64
	for _, d := range diags {
		w, ok := weights[d.Severity]
		if !ok {
			return 0, &UnknownSeverityError{Severity: d.Severity}
		}
		total += w
	}
	return total, nil
}

// Result is the outcome of scoring one file.
type Result struct {
	Target      string              `json:"target"`
	Penalty     float64             `json:"penalty"`
	Reward      float64             `json:"reward"`
	Diagnostics []checks.Diagnostic `json:"diagnostics"`
	Counts      map[int]int         `json:"counts"`
	Gate        *checks.GateResult  `json:"gate,omitempty"`
	Checks      []*checks.Result    `json:"-"`
}

// Severities returns the severities present in Counts in ascending order.
func (r *Result) Severities() []int {
	sevs := make([]int, 0, len(r.Counts))
	for s := range r.Counts {
		sevs = append(sevs, s)
	}
	sort.Ints(sevs)
	return sevs
}

// Scorer runs checks against files and turns their diagnostics into a reward.
type Scorer struct {
	runner  *checks.Runner
	checks  []checks.CheckConfig
	weights map[int]float64
}

// NewScorer creates a scorer. Check commands may reference {{file}} and
// {{dir}}, which are replaced by the shell-quoted absolute path of the scored
// file and its directory. A nil weights map selects DefaultWeights.
func NewScorer(runner *checks.Runner, cfgs []checks.CheckConfig, weights map[int]float64) *Scorer {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &Scorer{runner: runner, checks: cfgs, weights: weights}
}

// Score runs every configured check on path. Zero diagnostics give a reward
// of exactly 1; enough diagnostics give a negative reward.
//
// When scoring is unavailable the error is an *UnavailableError and the
// returned Result, if non-nil, carries only the check results gathered
// before the failure.
func (s *Scorer) Score(ctx context.Context, path string) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("score %s: %w", path, err)
	}
	dir := filepath.Dir(abs)

	vars := prompt.Vars{
		"file": checks.ShellQuote(abs),
		"dir":  checks.ShellQuote(dir),
	}
	cfgs := make([]checks.CheckConfig, 0, len(s.checks))
	for _, c := range s.checks {
		cmd, err := prompt.Render(c.Command, vars)
		if err != nil {
			return nil, fmt.Errorf("check %q command: %w", c.Name, err)
		}
		c.Command = cmd
		cfgs = append(cfgs, c)
	}

	gate, results, err := s.runner.RunGate(ctx, dir, checks.GateOpts{Target: abs, Checks: cfgs})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return &Result{Target: abs, Checks: results}, &UnavailableError{Check: failedCheck(cfgs, results), Err: err}
	}

	for _, r := range results {
		if r.Files != nil && !reportsOn(r.Files, dir, abs) {
			err := fmt.Errorf("%w: %s reported no result for %s", checks.ErrUnparseable, r.CheckName, abs)
			return &Result{Target: abs, Gate: gate, Checks: results}, &UnavailableError{Check: r.CheckName, Err: err}
		}
	}

	penalty, err := Penalty(gate.Diagnostics, s.weights)
	if err != nil {
		return &Result{Target: abs, Gate: gate, Checks: results}, &UnavailableError{Err: err}
	}

	counts := make(map[int]int)
	for _, d := range gate.Diagnostics {
		counts[d.Severity]++
	}
	return &Result{
		Target:      abs,
		Penalty:     penalty,
		Reward:      1 - penalty,
		Diagnostics: gate.Diagnostics,
		Counts:      counts,
		Gate:        gate,
		Checks:      results,
	}, nil
}

// failedCheck names the check that aborted the gate: the first one without a result.
func failedCheck(cfgs []checks.CheckConfig, done []*checks.Result) string {
	if len(done) < len(cfgs) {
		return cfgs[len(done)].Name
	}
	return ""
}

// reportsOn reports whether any of the tool's file paths names target.
// Relative paths are resolved against dir.
func reportsOn(files []string, dir, target string) bool {
	want, err := os.Stat(target)
	if err != nil {
		return false
	}
	for _, f := range files {
		if !filepath.IsAbs(f) {
			f = filepath.Join(dir, f)
		}
		if filepath.Clean(f) == target {
			return true
		}
		if got, err := os.Stat(f); err == nil && os.SameFile(got, want) {
			return true
		}
	}
	return false
}
