package checks

import (
	"fmt"
	"strings"
)

// PrettierParser parses prettier --check output. Each unformatted file is a warning.
type PrettierParser struct{}

func (p *PrettierParser) Parse(stdout string, stderr string, exitCode int) (ParseResult, error) {
	// prettier --check outputs lines like:
	// Checking formatting...
	// [warn] src/auth.ts
	// [warn] Code style issues found in the above file(s). Forgot to run Prettier?
	// Exit code 2 means prettier itself failed (syntax error, bad config).
	if exitCode > 1 {
		return ParseResult{}, unparseable("prettier", exitCode, strings.TrimSpace(stderr))
	}

	var diags []Diagnostic
	for _, line := range strings.Split(stdout+"\n"+stderr, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[warn] ") {
			continue
		}
		file := strings.TrimPrefix(line, "[warn] ")
		if strings.Contains(file, "Code style issues") || strings.Contains(file, "Forgot to run") {
			continue
		}
		diags = append(diags, Diagnostic{
			File:     file,
			Severity: SeverityWarning,
			Rule:     "prettier",
			Message:  "file is not formatted",
		})
	}

	if exitCode == 1 && len(diags) == 0 {
		return ParseResult{}, unparseable("prettier", exitCode, "no files reported")
	}

	summary := fmt.Sprintf("%d files need formatting", len(diags))
	if len(diags) == 0 {
		summary = "all files formatted"
	}
	return ParseResult{
		Passed:      len(diags) == 0,
		Summary:     summary,
		Diagnostics: diags,
	}, nil
}
