package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TypeScriptParser parses tsc --noEmit output.
type TypeScriptParser struct{}

// tsc output format: src/auth.ts(42,5): error TS2345: Argument of type...
var tscLineRe = regexp.MustCompile(`^(.+)\((\d+),(\d+)\):\s+error\s+(TS\d+):\s+(.+)$`)

func (p *TypeScriptParser) Parse(stdout string, stderr string, exitCode int) (ParseResult, error) {
	var diags []Diagnostic

	// tsc outputs to stdout
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		m := tscLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		diags = append(diags, Diagnostic{
			File:     m[1],
			Line:     lineNum,
			Column:   col,
			Severity: SeverityError,
			Rule:     m[4],
			Message:  m[5],
		})
	}

	if exitCode != 0 && len(diags) == 0 {
		return ParseResult{}, unparseable("typescript", exitCode, strings.TrimSpace(stdout+"\n"+stderr))
	}

	summary := fmt.Sprintf("%d errors", len(diags))
	if len(diags) == 0 {
		summary = "no errors"
	}
	return ParseResult{
		Passed:      len(diags) == 0,
		Summary:     summary,
		Diagnostics: diags,
	}, nil
}
