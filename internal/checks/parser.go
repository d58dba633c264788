package checks

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnparseable is returned when a tool's output does not match the format its parser expects.
var ErrUnparseable = errors.New("unparseable check output")

// Severity ordinals as reported by linters.
const (
	SeverityWarning = 1
	SeverityError   = 2
)

// Diagnostic is a single static-analysis finding.
type Diagnostic struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Severity int    `json:"severity"`
	Rule     string `json:"rule,omitempty"`
	Message  string `json:"message"`
}

// SeverityName returns a human label for a severity ordinal.
func SeverityName(sev int) string {
	switch sev {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity-%d", sev)
	}
}

// ParseResult holds the normalized output from a parser.
// Files lists the paths the tool reported on; it is nil for tools that do not say.
type ParseResult struct {
	Passed      bool         `json:"passed"`
	Summary     string       `json:"summary"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	Files       []string     `json:"files,omitempty"`
}

// Parser converts raw command output into a structured ParseResult.
// Output that cannot be interpreted yields an error wrapping ErrUnparseable.
type Parser interface {
	Parse(stdout string, stderr string, exitCode int) (ParseResult, error)
}

// builtinParsers returns a fresh instance of every recognized parser keyed by name.
func builtinParsers() map[string]Parser {
	return map[string]Parser{
		"eslint":     &ESLintParser{},
		"prettier":   &PrettierParser{},
		"typescript": &TypeScriptParser{},
		"generic":    &GenericParser{},
	}
}

// ParserNames lists the recognized parser names in sorted order.
func ParserNames() []string {
	var names []string
	for name := range builtinParsers() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsKnownParser reports whether name refers to a built-in parser.
func IsKnownParser(name string) bool {
	_, ok := builtinParsers()[name]
	return ok
}

func unparseable(parser string, exitCode int, detail string) error {
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}
	return fmt.Errorf("%w: %s exited %d: %s", ErrUnparseable, parser, exitCode, detail)
}
