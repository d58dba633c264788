// Package plan defines the structured project plan and the boundary that
// turns a model's function-call arguments into a validated ProjectPlan.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// FunctionName is the function the extractor forces the model to call.
const FunctionName = "ProjectPlan"

// ErrInvalidPlan matches every *ValidationError.
var ErrInvalidPlan = errors.New("invalid project plan")

// Task is one unit of work for the engineer.
type Task struct {
	Description        string `json:"description" validate:"nonblank"`
	AcceptanceCriteria string `json:"acceptance_criteria" validate:"nonblank"`
}

// ProjectPlan is the narrative plan plus its ordered tasks. Plan always holds
// the narrative text the tasks were extracted from.
type ProjectPlan struct {
	Plan  string `json:"plan"`
	Tasks []Task `json:"tasks" validate:"required,min=1,dive"`
}

// ValidationError reports why extracted arguments did not form a usable plan.
type ValidationError struct {
	Problems []string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidPlan, strings.Join(e.Problems, "; "))
}

// Is reports whether target is ErrInvalidPlan.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidPlan
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// Validate checks that the plan has at least one task and that every task has
// a non-blank description and acceptance criteria.
func (p *ProjectPlan) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Problems: []string{err.Error()}, Err: err}
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required", "min":
			problems = append(problems, field+" must contain at least one task")
		case "nonblank":
			problems = append(problems, field+" must not be blank")
		default:
			problems = append(problems, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return &ValidationError{Problems: problems}
}

// Decode parses function-call arguments, replaces their plan field with
// narrative and validates the result.
func Decode(args json.RawMessage, narrative string) (*ProjectPlan, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(args, &raw); err != nil {
		return nil, &ValidationError{Problems: []string{"arguments are not a JSON object: " + err.Error()}, Err: err}
	}
	return FromRaw(raw, narrative)
}

// FromRaw builds a ProjectPlan from a decoded argument mapping. Whatever the
// model put in "plan" is discarded in favour of narrative.
func FromRaw(raw map[string]json.RawMessage, narrative string) (*ProjectPlan, error) {
	fields := make(map[string]json.RawMessage, len(raw)+1)
	for k, v := range raw {
		fields[k] = v
	}
	n, err := json.Marshal(narrative)
	if err != nil {
		return nil, fmt.Errorf("encode narrative: %w", err)
	}
	fields["plan"] = n

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, &ValidationError{Problems: []string{"arguments are not valid JSON: " + err.Error()}, Err: err}
	}
	var p ProjectPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ValidationError{Problems: []string{"arguments do not match the plan schema: " + err.Error()}, Err: err}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// FunctionSchema describes ProjectPlan as JSON schema for function calling.
func FunctionSchema() jsonschema.Definition {
	return jsonschema.Definition{
		Type:        jsonschema.Object,
		Description: "The project plan of a software engineering sprint: the raw plain text of the plan and the list of tasks to be performed.",
		Properties: map[string]jsonschema.Definition{
			"plan": {
				Type:        jsonschema.String,
				Description: "A full copy of the plan text the tasks were taken from.",
			},
			"tasks": {
				Type:        jsonschema.Array,
				Description: "The list of tasks to be performed, in order.",
				Items: &jsonschema.Definition{
					Type:        jsonschema.Object,
					Description: "A task to be performed by a software engineer.",
					Properties: map[string]jsonschema.Definition{
						"description": {
							Type:        jsonschema.String,
							Description: "The description of the task to be performed.",
						},
						"acceptance_criteria": {
							Type:        jsonschema.String,
							Description: "The acceptance criteria that define the success of the task.",
						},
					},
					Required: []string{"description", "acceptance_criteria"},
				},
			},
		},
		Required: []string{"tasks"},
	}
}

// Markdown renders the plan for the run store and `forge plan`.
func (p *ProjectPlan) Markdown() string {
	var b strings.Builder
	for i, t := range p.Tasks {
		fmt.Fprintf(&b, "## Task %d\n\n%s\n\n**Acceptance criteria:** %s\n\n", i+1, t.Description, t.AcceptanceCriteria)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
