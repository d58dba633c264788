package checks

import "fmt"

// GenericParser treats any non-zero exit as a single error diagnostic carrying the tool output.
type GenericParser struct{}

// maxOutputLen caps how much stdout/stderr the generic parser retains in the diagnostic.
const maxOutputLen = 8000

func (p *GenericParser) Parse(stdout string, stderr string, exitCode int) (ParseResult, error) {
	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "passed (exit code 0)"}, nil
	}

	combined := stdout
	if stderr != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += stderr
	}
	// Keep the tail: error summaries and tracebacks are usually at the end.
	if len(combined) > maxOutputLen {
		combined = "…(truncated)\n" + combined[len(combined)-maxOutputLen:]
	}

	return ParseResult{
		Passed:  false,
		Summary: fmt.Sprintf("exit code %d, stdout=%d bytes, stderr=%d bytes", exitCode, len(stdout), len(stderr)),
		Diagnostics: []Diagnostic{{
			Severity: SeverityError,
			Rule:     "exit-code",
			Message:  combined,
		}},
	}, nil
}
