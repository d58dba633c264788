package agent

import (
	"context"

	"github.com/lucasnoah/codeforge/internal/llm"
	"github.com/lucasnoah/codeforge/internal/plan"
	"github.com/lucasnoah/codeforge/internal/prompt"
)

// Turn is one exchange with a code agent: the rendered user prompt, the raw
// reply and the file parsed from it.
type Turn struct {
	Prompt string
	Reply  string
	File   CodeFile
}

// Engineer writes code with a developer model and revises it with a separate
// reviewer model. Each role has its own instruction.
type Engineer struct {
	developer llm.Model
	reviewer  llm.Model
	opts      options
}

// NewEngineer creates an engineer.
func NewEngineer(developer, reviewer llm.Model, opts ...Option) *Engineer {
	return &Engineer{developer: developer, reviewer: reviewer, opts: buildOptions(opts)}
}

// Generate writes code for a task description. When prior is non-nil the
// developer is asked to evolve it instead of starting from scratch.
//
// On a malformed reply the returned Turn still carries the prompt and reply.
func (e *Engineer) Generate(ctx context.Context, description string, prior *CodeFile) (*Turn, error) {
	vars := prompt.Vars{"task_description": description, "prior_code": ""}
	if prior != nil {
		vars["prior_code"] = prior.Format()
	}
	return e.ask(ctx, "developer", e.developer, prompt.DeveloperSystem, prompt.DeveloperTask, vars)
}

// Review checks candidate against the task and its acceptance criteria and
// returns the revised file.
func (e *Engineer) Review(ctx context.Context, task plan.Task, candidate CodeFile) (*Turn, error) {
	vars := prompt.Vars{
		"task_description":    task.Description,
		"acceptance_criteria": task.AcceptanceCriteria,
		"candidate":           candidate.Format(),
	}
	return e.ask(ctx, "reviewer", e.reviewer, prompt.ReviewerSystem, prompt.ReviewerTask, vars)
}

func (e *Engineer) ask(ctx context.Context, role string, model llm.Model, systemTmpl, userTmpl string, vars prompt.Vars) (*Turn, error) {
	system, err := prompt.RenderNamed(systemTmpl, e.opts.templatesDir, prompt.Vars{})
	if err != nil {
		return nil, err
	}
	user, err := prompt.RenderNamed(userTmpl, e.opts.templatesDir, vars)
	if err != nil {
		return nil, err
	}

	turn := &Turn{Prompt: user}
	reply, err := model.Complete(ctx, []llm.Message{llm.System(system), llm.User(user)})
	if err != nil {
		return turn, err
	}
	turn.Reply = reply

	file, err := ParseCodeFile(reply)
	if err != nil {
		if merr, ok := err.(*MalformedArtifactError); ok {
			merr.Role = role
		}
		return turn, err
	}
	turn.File = file
	return turn, nil
}
