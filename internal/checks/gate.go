package checks

import (
	"context"
	"encoding/json"
	"fmt"
)

// GateCheckResult holds the result of a single check within a gate run.
type GateCheckResult struct {
	Check       string `json:"check"`
	Passed      bool   `json:"passed"`
	Diagnostics int    `json:"diagnostics"`
	Summary     string `json:"summary,omitempty"`
}

// GateResult is the structured output of running every configured check against one target.
type GateResult struct {
	Target      string            `json:"target"`
	Passed      bool              `json:"passed"`
	Checks      []GateCheckResult `json:"checks"`
	Diagnostics []Diagnostic      `json:"diagnostics"`
}

// JSON returns the gate result as indented JSON.
func (g *GateResult) JSON() (string, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GateOpts configures a gate run.
type GateOpts struct {
	Target string
	Checks []CheckConfig
}

// RunGate executes all checks in order and concatenates their diagnostics.
// Unlike a failing check, a check that cannot run or be parsed aborts the gate:
// a partial diagnostic set would understate the findings.
// Results gathered before the failure are still returned for logging.
func (r *Runner) RunGate(ctx context.Context, dir string, opts GateOpts) (*GateResult, []*Result, error) {
	gate := &GateResult{
		Target: opts.Target,
		Passed: true,
	}

	var allResults []*Result
	for _, chk := range opts.Checks {
		result, err := r.Run(ctx, dir, chk)
		if err != nil {
			return nil, allResults, err
		}
		allResults = append(allResults, result)

		gate.Checks = append(gate.Checks, GateCheckResult{
			Check:       chk.Name,
			Passed:      result.Passed,
			Diagnostics: len(result.Diagnostics),
			Summary:     result.Summary,
		})
		gate.Diagnostics = append(gate.Diagnostics, result.Diagnostics...)
		if !result.Passed {
			gate.Passed = false
		}
	}

	if len(gate.Checks) == 0 {
		return nil, nil, fmt.Errorf("gate %q: no checks configured", opts.Target)
	}
	return gate, allResults, nil
}
