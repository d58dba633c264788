// Package orchestrator drives a forge run end to end: plan, extract, fold
// every task through the code stage, write the final file once and score it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lucasnoah/codeforge/internal/agent"
	"github.com/lucasnoah/codeforge/internal/checks"
	"github.com/lucasnoah/codeforge/internal/config"
	"github.com/lucasnoah/codeforge/internal/metrics"
	"github.com/lucasnoah/codeforge/internal/pipeline"
	"github.com/lucasnoah/codeforge/internal/plan"
	"github.com/lucasnoah/codeforge/internal/reward"
	"github.com/lucasnoah/codeforge/internal/stage"
)

// Planner drafts and structures the project plan. *agent.ProjectManager implements it.
type Planner interface {
	Draft(ctx context.Context, requirements string) (string, error)
	Extract(ctx context.Context, narrative string) (*plan.ProjectPlan, error)
}

// Scorer scores a written file. *reward.Scorer implements it.
type Scorer interface {
	Score(ctx context.Context, path string) (*reward.Result, error)
}

// EventLog is the SQL event log. *db.DB implements it.
type EventLog interface {
	stage.EventLogger
	CreateRun(id, name, source string) error
	SetRunStatus(id, status string) error
	SetRunTaskCount(id string, n int) error
	FinishRun(id, status, filename, outputPath string, reward, penalty *float64, errMsg string) error
	LogCheckRun(runID, checkName string, passed bool, exitCode, durationMs int, summary, findings string) error
}

// Orchestrator composes the run lifecycle.
type Orchestrator struct {
	store    *pipeline.Store
	events   EventLog
	planner  Planner
	engine   *stage.Engine
	scorer   Scorer
	cfg      *config.PipelineConfig
	calls    *CallLog
	metrics  *metrics.Recorder
	logger   *slog.Logger
	progress io.Writer
}

// NewOrchestrator creates an Orchestrator. events may be nil.
func NewOrchestrator(
	store *pipeline.Store,
	events EventLog,
	planner Planner,
	engine *stage.Engine,
	scorer Scorer,
	cfg *config.PipelineConfig,
) *Orchestrator {
	return &Orchestrator{
		store:   store,
		events:  events,
		planner: planner,
		engine:  engine,
		scorer:  scorer,
		cfg:     cfg,
		logger:  slog.Default(),
	}
}

// SetProgress sets a writer for live progress output, for this and the stage engine.
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
	o.engine.SetProgress(w)
}

// SetMetrics sets the metrics recorder, for this and the stage engine.
func (o *Orchestrator) SetMetrics(m *metrics.Recorder) {
	o.metrics = m
	o.engine.SetMetrics(m)
}

// SetLogger sets the structured logger, for this and the stage engine.
func (o *Orchestrator) SetLogger(l *slog.Logger) {
	if l != nil {
		o.logger = l
		o.engine.SetLogger(l)
	}
}

// SetCallLog sets the model call log whose run ID follows the active run.
func (o *Orchestrator) SetCallLog(c *CallLog) {
	o.calls = c
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, format+"\n", args...)
	}
}

// record logs a failed bookkeeping write; the run carries on regardless.
func (o *Orchestrator) record(what, runID string, err error) {
	if err != nil {
		o.logger.Warn("bookkeeping write failed", "what", what, "run", runID, "error", err)
	}
}

func (o *Orchestrator) logEvent(runID, event, stageName string, task int, detail string) {
	if o.events != nil {
		o.record("event "+event, runID, o.events.LogPipelineEvent(runID, event, stageName, task, detail))
	}
}

func (o *Orchestrator) setStatus(runID, status string) {
	o.record("run state", runID, o.store.Update(runID, func(rs *pipeline.RunState) {
		rs.Status = status
		rs.Stage = stageFor(status)
	}))
	if o.events != nil {
		o.record("run status", runID, o.events.SetRunStatus(runID, status))
	}
}

func stageFor(status string) string {
	switch status {
	case pipeline.StatusPlanning:
		return stage.StagePlan
	case pipeline.StatusCoding:
		return stage.StageGenerate
	case pipeline.StatusScoring:
		return stage.StageScore
	}
	return ""
}

// RunOpts configures a run.
type RunOpts struct {
	Requirements string
	Source       string // where the requirements came from, for the record
	OutputDir    string // overrides the configured output_dir
}

// RunResult describes a finished run.
type RunResult struct {
	RunID      string             `json:"run_id"`
	Status     string             `json:"status"`
	Plan       *plan.ProjectPlan  `json:"plan,omitempty"`
	Tasks      []*stage.RunResult `json:"tasks,omitempty"`
	File       *agent.CodeFile    `json:"file,omitempty"`
	OutputPath string             `json:"output_path,omitempty"`
	Score      *reward.Result     `json:"score,omitempty"`
	Duration   time.Duration      `json:"duration"`
}

// begin creates the run in the store and the event log.
func (o *Orchestrator) begin(requirements, source string) (string, error) {
	id := pipeline.NewID()
	if _, err := o.store.Create(id, o.cfg.Pipeline.Name, source); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	if err := o.store.SaveRequirements(id, requirements); err != nil {
		return "", fmt.Errorf("save requirements: %w", err)
	}
	if o.events != nil {
		o.record("create run", id, o.events.CreateRun(id, o.cfg.Pipeline.Name, source))
	}
	o.logEvent(id, "created", "", 0, source)
	if o.calls != nil {
		o.calls.SetRun(id)
	}
	o.logf("run %s", id)
	return id, nil
}

// end marks the run finished with status and returns err unchanged.
func (o *Orchestrator) end(res *RunResult, start time.Time, status string, err error) error {
	res.Status = status
	res.Duration = time.Since(start)

	var errMsg string
	if err != nil {
		errMsg = err.Error()
	}
	var rw, pen *float64
	if res.Score != nil && err == nil {
		rw, pen = &res.Score.Reward, &res.Score.Penalty
	}
	var filename string
	if res.File != nil {
		filename = res.File.Filename
	}

	o.record("run state", res.RunID, o.store.Update(res.RunID, func(rs *pipeline.RunState) {
		rs.Status = status
		rs.Error = errMsg
		rs.OutputPath = res.OutputPath
		rs.Reward, rs.Penalty = rw, pen
		if filename != "" {
			rs.Filename = filename
		}
	}))
	if o.events != nil {
		o.record("finish run", res.RunID, o.events.FinishRun(res.RunID, status, filename, res.OutputPath, rw, pen, errMsg))
	}
	o.logEvent(res.RunID, status, "", 0, errMsg)
	o.metrics.ObserveRun(status)
	if o.calls != nil {
		o.calls.SetRun("")
	}

	if err != nil {
		o.logf("run %s %s: %v", res.RunID, status, err)
		o.logger.Error("run finished", "run", res.RunID, "status", status, "duration", res.Duration, "error", err)
	} else {
		o.logger.Info("run finished", "run", res.RunID, "status", status, "duration", res.Duration)
	}
	return err
}

// planRun drafts and extracts the plan for an existing run.
func (o *Orchestrator) planRun(ctx context.Context, runID, requirements string) (*plan.ProjectPlan, error) {
	o.setStatus(runID, pipeline.StatusPlanning)

	o.logf("  → planning")
	start := time.Now()
	narrative, err := o.planner.Draft(ctx, requirements)
	o.metrics.ObserveStage(stage.StagePlan, time.Since(start), err)
	if err != nil {
		return nil, &stage.Error{Stage: stage.StagePlan, Err: err}
	}
	if err := o.store.SaveNarrative(runID, narrative); err != nil {
		return nil, &stage.Error{Stage: stage.StagePlan, Err: fmt.Errorf("save narrative: %w", err)}
	}
	o.logEvent(runID, "planned", stage.StagePlan, 0, fmt.Sprintf("%d bytes", len(narrative)))

	o.logf("  → extracting tasks")
	start = time.Now()
	p, err := o.planner.Extract(ctx, narrative)
	o.metrics.ObserveStage(stage.StageExtract, time.Since(start), err)
	if err != nil {
		return nil, &stage.Error{Stage: stage.StageExtract, Err: err}
	}
	if err := o.store.SavePlan(runID, p); err != nil {
		return nil, &stage.Error{Stage: stage.StageExtract, Err: fmt.Errorf("save plan: %w", err)}
	}
	o.record("run state", runID, o.store.Update(runID, func(rs *pipeline.RunState) { rs.TaskCount = len(p.Tasks) }))
	if o.events != nil {
		o.record("task count", runID, o.events.SetRunTaskCount(runID, len(p.Tasks)))
	}
	o.logEvent(runID, "extracted", stage.StageExtract, 0, fmt.Sprintf("%d tasks", len(p.Tasks)))
	o.logf("  → %d tasks", len(p.Tasks))
	return p, nil
}

// Plan runs the planning stages only and returns the structured plan.
func (o *Orchestrator) Plan(ctx context.Context, opts RunOpts) (*RunResult, error) {
	start := time.Now()
	id, err := o.begin(opts.Requirements, opts.Source)
	if err != nil {
		return nil, err
	}
	res := &RunResult{RunID: id}

	p, err := o.planRun(ctx, id, opts.Requirements)
	if err != nil {
		return res, o.end(res, start, pipeline.StatusFailed, err)
	}
	res.Plan = p
	return res, o.end(res, start, pipeline.StatusCompleted, nil)
}

// Run executes the whole pipeline. Every returned error names its stage
// (*stage.Error). When the file was written but could not be scored, the
// result is returned together with an error matching reward.ErrScoringUnavailable.
func (o *Orchestrator) Run(ctx context.Context, opts RunOpts) (*RunResult, error) {
	start := time.Now()
	id, err := o.begin(opts.Requirements, opts.Source)
	if err != nil {
		return nil, err
	}
	res := &RunResult{RunID: id}

	p, err := o.planRun(ctx, id, opts.Requirements)
	if err != nil {
		return res, o.end(res, start, pipeline.StatusFailed, err)
	}
	res.Plan = p

	// Fold the tasks in order, carrying only the latest reviewed file.
	o.setStatus(id, pipeline.StatusCoding)
	var current *agent.CodeFile
	for i, task := range p.Tasks {
		if err := ctx.Err(); err != nil {
			return res, o.end(res, start, pipeline.StatusFailed, &stage.Error{Stage: stage.StageGenerate, Task: i + 1, Err: err})
		}
		tr, err := o.engine.Run(ctx, stage.RunOpts{
			RunID: id,
			Index: i + 1,
			Total: len(p.Tasks),
			Task:  task,
			Prior: current,
		})
		if err != nil {
			return res, o.end(res, start, pipeline.StatusFailed, err)
		}
		res.Tasks = append(res.Tasks, tr)
		reviewed := tr.Reviewed
		current = &reviewed
	}
	res.File = current

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = o.cfg.Pipeline.OutputDir
	}
	path, err := o.write(id, outDir, *current)
	if err != nil {
		return res, o.end(res, start, pipeline.StatusFailed, err)
	}
	res.OutputPath = path

	o.setStatus(id, pipeline.StatusScoring)
	score, err := o.score(ctx, id, path)
	res.Score = score
	if err != nil {
		status := pipeline.StatusFailed
		if errors.Is(err, reward.ErrScoringUnavailable) {
			status = pipeline.StatusScoringUnavailable
		}
		return res, o.end(res, start, status, err)
	}
	return res, o.end(res, start, pipeline.StatusCompleted, nil)
}

// write stores the final file once, whole, replacing any previous content.
func (o *Orchestrator) write(runID, outDir string, f agent.CodeFile) (string, error) {
	start := time.Now()
	path, err := filepath.Abs(filepath.Join(outDir, f.Filename))
	if err == nil {
		err = pipeline.WriteAtomic(path, []byte(f.Content))
	}
	o.metrics.ObserveStage(stage.StageWrite, time.Since(start), err)
	if err != nil {
		return "", &stage.Error{Stage: stage.StageWrite, Err: err}
	}
	o.logEvent(runID, "written", stage.StageWrite, 0, path)
	o.logf("  → wrote %s", path)
	return path, nil
}

// score runs the scorer and records its check runs and outcome.
func (o *Orchestrator) score(ctx context.Context, runID, path string) (*reward.Result, error) {
	o.logf("  → scoring %s", filepath.Base(path))
	start := time.Now()
	res, err := o.scorer.Score(ctx, path)
	o.metrics.ObserveStage(stage.StageScore, time.Since(start), err)
	if res != nil {
		o.recordChecks(runID, res.Checks)
	}
	if err != nil {
		o.logEvent(runID, "score_failed", stage.StageScore, 0, err.Error())
		return res, &stage.Error{Stage: stage.StageScore, Err: err}
	}

	o.record("score", runID, o.store.SaveScore(runID, res))
	o.metrics.ObserveScore(res)
	o.logEvent(runID, "scored", stage.StageScore, 0, fmt.Sprintf("reward=%.4f penalty=%.4f", res.Reward, res.Penalty))
	o.logf("  → reward %.4f (penalty %.4f, %d errors, %d warnings)",
		res.Reward, res.Penalty, res.Counts[checks.SeverityError], res.Counts[checks.SeverityWarning])
	o.logger.Info("artifact scored", "run", runID, "reward", res.Reward, "penalty", res.Penalty, "diagnostics", len(res.Diagnostics))
	return res, nil
}

func (o *Orchestrator) recordChecks(runID string, results []*checks.Result) {
	for _, r := range results {
		o.metrics.ObserveCheck(r.CheckName, time.Duration(r.DurationMs)*time.Millisecond)
		if o.events != nil {
			o.record("check run", runID, o.events.LogCheckRun(runID, r.CheckName, r.Passed, r.ExitCode, r.DurationMs, r.Summary, r.FindingsJSON()))
		}
	}
}
