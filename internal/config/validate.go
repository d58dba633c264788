package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/lucasnoah/codeforge/internal/checks"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedProviders maps provider names to their default base URL.
var recognizedProviders = map[string]string{
	"openai": "",
	"ollama": "http://localhost:11434/v1",
}

// ProviderBaseURL returns the default base URL for a provider ("" means the client default).
func ProviderBaseURL(provider string) string {
	return recognizedProviders[provider]
}

// Validate checks a PipelineConfig for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *PipelineConfig) []ValidationError {
	var errs []ValidationError
	p := cfg.Pipeline

	if _, ok := recognizedProviders[p.Model.Provider]; !ok {
		errs = append(errs, ValidationError{
			Field:   "pipeline.model.provider",
			Message: fmt.Sprintf("unrecognized provider %q", p.Model.Provider),
		})
	}
	if p.Model.Name == "" {
		errs = append(errs, ValidationError{Field: "pipeline.model.name", Message: "is required"})
	}
	if p.Model.MaxAttempts < 1 {
		errs = append(errs, ValidationError{Field: "pipeline.model.max_attempts", Message: "must be at least 1"})
	}

	for _, d := range []struct {
		field string
		value string
	}{
		{"pipeline.run_timeout", p.RunTimeout},
		{"pipeline.model.timeout", p.Model.Timeout},
		{"pipeline.model.backoff", p.Model.Backoff},
		{"pipeline.model.max_backoff", p.Model.MaxBackoff},
	} {
		validateDuration(d.field, d.value, &errs)
	}

	for name := range p.Roles {
		if !isRole(name) {
			errs = append(errs, ValidationError{
				Field:   "pipeline.roles." + name,
				Message: fmt.Sprintf("unknown role %q (expected one of %v)", name, RoleNames),
			})
		}
	}

	if len(p.Scoring.Checks) == 0 {
		errs = append(errs, ValidationError{Field: "pipeline.scoring.checks", Message: "at least one check is required"})
	}
	for _, name := range p.Scoring.Checks {
		if _, ok := p.Checks[name]; !ok {
			errs = append(errs, ValidationError{
				Field:   "pipeline.scoring.checks",
				Message: fmt.Sprintf("references undefined check %q", name),
			})
		}
	}

	severities := make([]int, 0, len(p.Scoring.Weights))
	for sev := range p.Scoring.Weights {
		severities = append(severities, sev)
	}
	sort.Ints(severities)
	for _, sev := range severities {
		if p.Scoring.Weights[sev] < 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("pipeline.scoring.weights.%d", sev),
				Message: "must not be negative",
			})
		}
	}

	names := make([]string, 0, len(p.Checks))
	for name := range p.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := p.Checks[name]
		prefix := "pipeline.checks." + name
		if check.Command == "" {
			errs = append(errs, ValidationError{Field: prefix + ".command", Message: "is required"})
		}
		if check.Parser != "" && !checks.IsKnownParser(check.Parser) {
			errs = append(errs, ValidationError{
				Field:   prefix + ".parser",
				Message: fmt.Sprintf("unrecognized parser %q", check.Parser),
			})
		}
		validateDuration(prefix+".timeout", check.Timeout, &errs)
	}

	return errs
}

func validateDuration(field, value string, errs *[]ValidationError) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err != nil || d <= 0 {
		*errs = append(*errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration %q", value),
		})
	}
}

func isRole(name string) bool {
	for _, r := range RoleNames {
		if r == name {
			return true
		}
	}
	return false
}
