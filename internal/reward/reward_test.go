package reward

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/codeforge/internal/checks"
)

func diags(sev ...int) []checks.Diagnostic {
	out := make([]checks.Diagnostic, 0, len(sev))
	for _, s := range sev {
		out = append(out, checks.Diagnostic{Severity: s, Message: "m"})
	}
	return out
}

func TestPenalty(t *testing.T) {
	tests := []struct {
		name string
		in   []checks.Diagnostic
		want float64
	}{
		{"none", nil, 0},
		{"one warning", diags(1), 0.01},
		{"one error", diags(2), 0.05},
		{"mixed", diags(1, 2, 2, 1), 0.12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Penalty(tt.in, DefaultWeights())
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestPenalty_UnknownSeverity(t *testing.T) {
	_, err := Penalty(diags(1, 3), DefaultWeights())
	var sevErr *UnknownSeverityError
	require.True(t, errors.As(err, &sevErr))
	assert.Equal(t, 3, sevErr.Severity)
}

func TestPenalty_CustomWeights(t *testing.T) {
	got, err := Penalty(diags(1, 2), map[int]float64{1: 0, 2: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-12)
}

// stubCmd returns canned output for every command and records what ran.
type stubCmd struct {
	stdout   string
	exitCode int
	err      error
	block    bool
	commands []string
	dirs     []string
}

func (s *stubCmd) Run(ctx context.Context, dir, command string) (string, string, int, error) {
	s.commands = append(s.commands, command)
	s.dirs = append(s.dirs, dir)
	if s.block {
		<-ctx.Done()
		return "", "", -1, ctx.Err()
	}
	return s.stdout, "", s.exitCode, s.err
}

func eslintOutput(file string, severities ...int) string {
	var msgs []string
	errs, warns := 0, 0
	for i, s := range severities {
		if s == 2 {
			errs++
		} else {
			warns++
		}
		msgs = append(msgs, fmt.Sprintf(`{"ruleId":"r%d","severity":%d,"message":"msg %d","line":%d,"column":1}`, i, s, i, i+1))
	}
	return fmt.Sprintf(`[{"filePath":%q,"messages":[%s],"errorCount":%d,"warningCount":%d}]`,
		file, strings.Join(msgs, ","), errs, warns)
}

func writeTarget(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.js")
	require.NoError(t, os.WriteFile(path, []byte("var x = 1\n"), 0o644))
	return path
}

func eslintCheck() []checks.CheckConfig {
	return []checks.CheckConfig{{
		Name:    "eslint",
		Command: "npx --no-install eslint {{file}} --format=json",
		Parser:  "eslint",
		Timeout: time.Second,
	}}
}

func TestScore_Boundaries(t *testing.T) {
	tests := []struct {
		name       string
		severities []int
		want       float64
	}{
		{"clean", nil, 1},
		{"one warning", []int{1}, 0.99},
		{"one error", []int{2}, 0.95},
		{"negative", []int{2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2}, -0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTarget(t)
			exit := 0
			if len(tt.severities) > 0 {
				exit = 1
			}
			cmd := &stubCmd{stdout: eslintOutput(path, tt.severities...), exitCode: exit}
			s := NewScorer(checks.NewRunner(cmd), eslintCheck(), nil)

			res, err := s.Score(context.Background(), path)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, res.Reward, 1e-9)
			assert.InDelta(t, 1-tt.want, res.Penalty, 1e-9)
			assert.Len(t, res.Diagnostics, len(tt.severities))
		})
	}
}

func TestScore_CleanIsExactlyOne(t *testing.T) {
	path := writeTarget(t)
	s := NewScorer(checks.NewRunner(&stubCmd{stdout: eslintOutput(path)}), eslintCheck(), nil)

	res, err := s.Score(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Reward)
	assert.Empty(t, res.Counts)
}

func TestScore_SubstitutesQuotedPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "it's here")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "index.js")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	cmd := &stubCmd{stdout: eslintOutput(path)}
	s := NewScorer(checks.NewRunner(cmd), eslintCheck(), nil)

	_, err := s.Score(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, cmd.commands, 1)
	assert.Equal(t, "npx --no-install eslint "+checks.ShellQuote(path)+" --format=json", cmd.commands[0])
	assert.Equal(t, dir, cmd.dirs[0])
}

func TestScore_CountsBySeverity(t *testing.T) {
	path := writeTarget(t)
	s := NewScorer(checks.NewRunner(&stubCmd{stdout: eslintOutput(path, 1, 2, 2), exitCode: 1}), eslintCheck(), nil)

	res, err := s.Score(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 1, 2: 2}, res.Counts)
	assert.Equal(t, []int{1, 2}, res.Severities())
	require.NotNil(t, res.Gate)
	assert.False(t, res.Gate.Passed)
}

func TestScore_UnparseableOutput(t *testing.T) {
	tests := map[string]*stubCmd{
		"not json":         {stdout: "Oops! Something went wrong!", exitCode: 2},
		"empty with error": {stdout: "", exitCode: 2},
	}
	for name, cmd := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeTarget(t)
			s := NewScorer(checks.NewRunner(cmd), eslintCheck(), nil)

			res, err := s.Score(context.Background(), path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrScoringUnavailable)
			assert.ErrorIs(t, err, checks.ErrUnparseable)
			var uerr *UnavailableError
			require.True(t, errors.As(err, &uerr))
			assert.Equal(t, "eslint", uerr.Check)
			require.NotNil(t, res)
			assert.Zero(t, res.Reward)
		})
	}
}

func TestScore_NoResultForTargetIsUnavailable(t *testing.T) {
	tests := map[string]*stubCmd{
		"empty array, exit 2": {stdout: "[]", exitCode: 2},
		"null, exit 2":        {stdout: "null", exitCode: 2},
		"empty array, exit 0": {stdout: "[]"},
		"warnings, exit 2":    {stdout: eslintOutput("/elsewhere/index.js", 1), exitCode: 2},
		"other file only":     {stdout: eslintOutput("/elsewhere/index.js")},
	}
	for name, cmd := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeTarget(t)
			s := NewScorer(checks.NewRunner(cmd), eslintCheck(), nil)

			res, err := s.Score(context.Background(), path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrScoringUnavailable)
			assert.ErrorIs(t, err, checks.ErrUnparseable)
			require.NotNil(t, res)
			assert.Zero(t, res.Reward)
		})
	}
}

func TestScore_RelativeFilePathMatchesTarget(t *testing.T) {
	path := writeTarget(t)
	s := NewScorer(checks.NewRunner(&stubCmd{stdout: eslintOutput("index.js", 1), exitCode: 1}), eslintCheck(), nil)

	res, err := s.Score(context.Background(), path)
	require.NoError(t, err)
	assert.InDelta(t, 0.99, res.Reward, 1e-9)
}

func TestScore_Timeout(t *testing.T) {
	path := writeTarget(t)
	cfg := eslintCheck()
	cfg[0].Timeout = 10 * time.Millisecond
	s := NewScorer(checks.NewRunner(&stubCmd{block: true}), cfg, nil)

	_, err := s.Score(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScoringUnavailable)
	assert.ErrorIs(t, err, checks.ErrTimeout)
}

func TestScore_UnknownSeverityIsUnavailable(t *testing.T) {
	path := writeTarget(t)
	s := NewScorer(checks.NewRunner(&stubCmd{stdout: eslintOutput(path, 2), exitCode: 1}), eslintCheck(), map[int]float64{1: 0.01})

	_, err := s.Score(context.Background(), path)
	assert.ErrorIs(t, err, ErrScoringUnavailable)
	var sevErr *UnknownSeverityError
	assert.True(t, errors.As(err, &sevErr))
}

func TestScore_MissingFile(t *testing.T) {
	s := NewScorer(checks.NewRunner(&stubCmd{}), eslintCheck(), nil)
	_, err := s.Score(context.Background(), filepath.Join(t.TempDir(), "missing.js"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrScoringUnavailable)
}

func TestScore_MultipleChecksConcatenate(t *testing.T) {
	path := writeTarget(t)
	cfgs := append(eslintCheck(), checks.CheckConfig{Name: "custom", Command: "lint {{file}}", Parser: "generic"})
	cmd := &stubCmd{stdout: eslintOutput(path, 1), exitCode: 1}
	s := NewScorer(checks.NewRunner(cmd), cfgs, nil)

	res, err := s.Score(context.Background(), path)
	require.NoError(t, err)
	// eslint: one warning; generic: non-zero exit is one error.
	assert.InDelta(t, 1-0.01-0.05, res.Reward, 1e-9)
	assert.Len(t, cmd.commands, 2)
}

func TestScore_RealSubprocess(t *testing.T) {
	path := writeTarget(t)
	report := filepath.Join(filepath.Dir(path), "report.json")
	require.NoError(t, os.WriteFile(report, []byte(eslintOutput(path, 1, 1)), 0o644))

	cfgs := []checks.CheckConfig{{Name: "eslint", Command: "test -f {{file}} && cat {{dir}}/report.json", Parser: "eslint"}}
	s := NewScorer(checks.NewRunner(&checks.ExecRunner{}), cfgs, nil)

	res, err := s.Score(context.Background(), path)
	require.NoError(t, err)
	assert.InDelta(t, 0.98, res.Reward, 1e-9)
}
