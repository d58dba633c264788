// Package agent holds the language-model agents of the pipeline: a project
// manager that plans and extracts tasks, and an engineer that writes and
// reviews the code file.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lucasnoah/codeforge/internal/llm"
	"github.com/lucasnoah/codeforge/internal/plan"
	"github.com/lucasnoah/codeforge/internal/prompt"
)

// ErrNoRequirements is returned when planning is asked for without input.
var ErrNoRequirements = errors.New("requirements are empty")

// Option configures an agent.
type Option func(*options)

type options struct {
	templatesDir string
}

// WithTemplatesDir makes the agent prefer templates found in dir over the built-ins.
func WithTemplatesDir(dir string) Option {
	return func(o *options) { o.templatesDir = dir }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ProjectManager turns requirements into a narrative plan and the narrative
// into a structured ProjectPlan. Planner and extractor may use different models.
type ProjectManager struct {
	planner   llm.Model
	extractor llm.Model
	opts      options
}

// NewProjectManager creates a project manager.
func NewProjectManager(planner, extractor llm.Model, opts ...Option) *ProjectManager {
	return &ProjectManager{planner: planner, extractor: extractor, opts: buildOptions(opts)}
}

// Draft asks the planner for a free-text plan covering requirements.
func (pm *ProjectManager) Draft(ctx context.Context, requirements string) (string, error) {
	if strings.TrimSpace(requirements) == "" {
		return "", ErrNoRequirements
	}
	system, err := prompt.RenderNamed(prompt.PlannerSystem, pm.opts.templatesDir, prompt.Vars{})
	if err != nil {
		return "", err
	}
	user, err := prompt.RenderNamed(prompt.PlannerUser, pm.opts.templatesDir, prompt.Vars{"requirements": requirements})
	if err != nil {
		return "", err
	}
	return pm.planner.Complete(ctx, []llm.Message{llm.System(system), llm.User(user)})
}

// Extract asks the extractor to structure narrative into tasks. The returned
// plan's Plan field is narrative itself, whatever the model echoed back.
// Invalid or empty task lists fail with a *plan.ValidationError.
func (pm *ProjectManager) Extract(ctx context.Context, narrative string) (*plan.ProjectPlan, error) {
	system, err := prompt.RenderNamed(prompt.ExtractorSystem, pm.opts.templatesDir, prompt.Vars{})
	if err != nil {
		return nil, err
	}
	fn := llm.Function{
		Name:        plan.FunctionName,
		Description: "Record the project plan and its ordered tasks.",
		Parameters:  plan.FunctionSchema(),
	}
	args, err := pm.extractor.CompleteStructured(ctx, []llm.Message{llm.System(system), llm.User(narrative)}, fn)
	if err != nil {
		return nil, err
	}
	return plan.Decode(args, narrative)
}

// CreateProjectPlan drafts a plan for requirements and extracts its tasks.
func (pm *ProjectManager) CreateProjectPlan(ctx context.Context, requirements string) (*plan.ProjectPlan, error) {
	narrative, err := pm.Draft(ctx, requirements)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	p, err := pm.Extract(ctx, narrative)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return p, nil
}
