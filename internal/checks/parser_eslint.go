package checks

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ESLintParser parses ESLint JSON output (--format=json).
type ESLintParser struct{}

type eslintFile struct {
	FilePath string          `json:"filePath"`
	Messages []eslintMessage `json:"messages"`
}

type eslintMessage struct {
	RuleID   string `json:"ruleId"`
	Severity int    `json:"severity"` // 1=warning, 2=error
	Message  string `json:"message"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Fatal    bool   `json:"fatal"`
	Fix      *struct {
		Range [2]int `json:"range"`
		Text  string `json:"text"`
	} `json:"fix"`
}

func (p *ESLintParser) Parse(stdout string, stderr string, exitCode int) (ParseResult, error) {
	// ESLint exits 1 when lint errors are found and 2 on configuration or
	// crash errors. Exit 2 output is never a lint result, even when it is JSON.
	if exitCode >= 2 {
		return ParseResult{}, unparseable("eslint", exitCode, "eslint failed: "+strings.TrimSpace(stderr))
	}
	var files []eslintFile
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return ParseResult{}, unparseable("eslint", exitCode, "empty output: "+strings.TrimSpace(stderr))
	}
	if err := json.Unmarshal([]byte(trimmed), &files); err != nil {
		return ParseResult{}, unparseable("eslint", exitCode, err.Error())
	}
	if len(files) == 0 {
		return ParseResult{}, unparseable("eslint", exitCode, "no file results in output")
	}

	var errors, warnings, fixable int
	var diags []Diagnostic
	var paths []string
	for _, f := range files {
		paths = append(paths, f.FilePath)
		for _, m := range f.Messages {
			if m.Severity == SeverityError || m.Fatal {
				errors++
			} else {
				warnings++
			}
			if m.Fix != nil {
				fixable++
			}
			sev := m.Severity
			if m.Fatal {
				sev = SeverityError
			}
			diags = append(diags, Diagnostic{
				File:     f.FilePath,
				Line:     m.Line,
				Column:   m.Column,
				Severity: sev,
				Rule:     m.RuleID,
				Message:  m.Message,
			})
		}
	}

	return ParseResult{
		Passed:      errors == 0,
		Summary:     fmt.Sprintf("%d errors, %d warnings, %d fixable", errors, warnings, fixable),
		Diagnostics: diags,
		Files:       paths,
	}, nil
}
