// Package stage runs one task of a forge run through the code stage:
// generate a file from the task description and the carried-over file, then
// have it reviewed against the acceptance criteria.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lucasnoah/codeforge/internal/agent"
	"github.com/lucasnoah/codeforge/internal/metrics"
	"github.com/lucasnoah/codeforge/internal/pipeline"
	"github.com/lucasnoah/codeforge/internal/plan"
)

// Coder produces and reviews code files. *agent.Engineer implements it.
type Coder interface {
	Generate(ctx context.Context, description string, prior *agent.CodeFile) (*agent.Turn, error)
	Review(ctx context.Context, task plan.Task, candidate agent.CodeFile) (*agent.Turn, error)
}

// EventLogger records pipeline events. *db.DB implements it.
type EventLogger interface {
	LogPipelineEvent(runID, event, stage string, task int, detail string) error
}

// Engine executes the code stage lifecycle for one task: generate → review.
type Engine struct {
	coder    Coder
	store    *pipeline.Store
	events   EventLogger
	metrics  *metrics.Recorder
	logger   *slog.Logger
	progress io.Writer // live progress output; nil = silent
}

// NewEngine creates a stage engine. events may be nil.
func NewEngine(coder Coder, store *pipeline.Store, events EventLogger) *Engine {
	return &Engine{
		coder:  coder,
		store:  store,
		events: events,
		logger: slog.Default(),
	}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (e *Engine) SetProgress(w io.Writer) {
	e.progress = w
}

// SetMetrics sets the recorder for stage durations.
func (e *Engine) SetMetrics(m *metrics.Recorder) {
	e.metrics = m
}

// SetLogger sets the structured logger.
func (e *Engine) SetLogger(l *slog.Logger) {
	if l != nil {
		e.logger = l
	}
}

// logf prints a progress line if a progress writer is configured.
func (e *Engine) logf(format string, args ...interface{}) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// logEvent writes to the event log. Failures are logged and otherwise ignored.
func (e *Engine) logEvent(runID, event, stage string, task int, detail string) {
	if e.events == nil {
		return
	}
	if err := e.events.LogPipelineEvent(runID, event, stage, task, detail); err != nil {
		e.logger.Warn("event log write failed", "run", runID, "event", event, "error", err)
	}
}

// RunOpts configures one task cycle.
type RunOpts struct {
	RunID string
	Index int // 1-based
	Total int
	Task  plan.Task
	Prior *agent.CodeFile // reviewed file of the previous task; nil for the first
}

// RunResult captures the outcome of a task cycle.
type RunResult struct {
	Task             int            `json:"task"`
	Generated        agent.CodeFile `json:"generated"`
	Reviewed         agent.CodeFile `json:"reviewed"`
	GenerateDuration time.Duration  `json:"generate_duration"`
	ReviewDuration   time.Duration  `json:"review_duration"`
}

// Changed reports whether the reviewer altered the generated file.
func (r *RunResult) Changed() bool {
	return r.Generated != r.Reviewed
}

// Run generates the file for opts.Task, has it reviewed, and persists the
// prompts and both files under the run's task directory. Errors are *Error.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*RunResult, error) {
	result := &RunResult{Task: opts.Index}
	e.logf("task %d/%d: generating", opts.Index, opts.Total)

	start := time.Now()
	turn, err := e.coder.Generate(ctx, opts.Task.Description, opts.Prior)
	result.GenerateDuration = time.Since(start)
	e.metrics.ObserveStage(StageGenerate, result.GenerateDuration, err)
	if serr := e.saveTurn(opts, pipeline.GeneratePromptFile, pipeline.GeneratedFile, turn, err); serr != nil {
		return nil, &Error{Stage: StageGenerate, Task: opts.Index, Err: errors.Join(err, serr)}
	}
	if err != nil {
		e.logf("task %d/%d: generate failed: %v", opts.Index, opts.Total, err)
		e.logEvent(opts.RunID, "generate_failed", StageGenerate, opts.Index, err.Error())
		return nil, &Error{Stage: StageGenerate, Task: opts.Index, Err: err}
	}
	result.Generated = turn.File
	e.logEvent(opts.RunID, "generated", StageGenerate, opts.Index, turn.File.Filename)
	e.logf("task %d/%d: generated %s (%s)", opts.Index, opts.Total, turn.File.Filename, result.GenerateDuration.Round(time.Millisecond))

	e.logf("task %d/%d: reviewing", opts.Index, opts.Total)
	start = time.Now()
	turn, err = e.coder.Review(ctx, opts.Task, result.Generated)
	result.ReviewDuration = time.Since(start)
	e.metrics.ObserveStage(StageReview, result.ReviewDuration, err)
	if serr := e.saveTurn(opts, pipeline.ReviewPromptFile, pipeline.ReviewedFile, turn, err); serr != nil {
		return nil, &Error{Stage: StageReview, Task: opts.Index, Err: errors.Join(err, serr)}
	}
	if err != nil {
		e.logf("task %d/%d: review failed: %v", opts.Index, opts.Total, err)
		e.logEvent(opts.RunID, "review_failed", StageReview, opts.Index, err.Error())
		return nil, &Error{Stage: StageReview, Task: opts.Index, Err: err}
	}
	result.Reviewed = turn.File
	e.logEvent(opts.RunID, "reviewed", StageReview, opts.Index, turn.File.Filename)
	e.logf("task %d/%d: reviewed %s (%s)", opts.Index, opts.Total, turn.File.Filename, result.ReviewDuration.Round(time.Millisecond))

	err = e.store.Update(opts.RunID, func(rs *pipeline.RunState) {
		rs.CurrentTask = opts.Index
		rs.Filename = result.Reviewed.Filename
		rs.TaskHistory = append(rs.TaskHistory, pipeline.TaskHistoryEntry{
			Task:             opts.Index,
			Description:      opts.Task.Description,
			Filename:         result.Reviewed.Filename,
			GenerateDuration: result.GenerateDuration.Round(time.Millisecond).String(),
			ReviewDuration:   result.ReviewDuration.Round(time.Millisecond).String(),
			Changed:          result.Changed(),
		})
	})
	if err != nil {
		return nil, &Error{Stage: StageReview, Task: opts.Index, Err: fmt.Errorf("update run state: %w", err)}
	}
	return result, nil
}

// saveTurn persists whatever a turn produced. A parsed file is stored in its
// artifact form; a reply that failed to parse is stored raw.
func (e *Engine) saveTurn(opts RunOpts, promptFile, outFile string, turn *agent.Turn, callErr error) error {
	if turn == nil {
		return nil
	}
	if turn.Prompt != "" {
		if err := e.store.SaveTaskFile(opts.RunID, opts.Index, promptFile, turn.Prompt); err != nil {
			return fmt.Errorf("save prompt: %w", err)
		}
	}
	content := turn.Reply
	if callErr == nil {
		content = turn.File.Format()
	}
	if content == "" {
		return nil
	}
	if err := e.store.SaveTaskFile(opts.RunID, opts.Index, outFile, content); err != nil {
		return fmt.Errorf("save %s: %w", outFile, err)
	}
	return nil
}
