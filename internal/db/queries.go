package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// Run represents a row in the runs table.
type Run struct {
	ID         string
	Name       string
	Source     string
	Status     string
	TaskCount  int
	Filename   string
	OutputPath string
	Reward     *float64
	Penalty    *float64
	Error      string
	CreatedAt  string
	FinishedAt string
}

// PipelineEvent represents a row in the pipeline_events table.
type PipelineEvent struct {
	ID        int
	RunID     string
	Event     string
	Stage     string
	Task      int
	Detail    string
	Timestamp string
}

// LLMCall represents a row in the llm_calls table.
type LLMCall struct {
	ID               int
	RunID            string
	RequestID        string
	Role             string
	Model            string
	Kind             string
	Attempts         int
	DurationMs       int
	PromptTokens     int
	CompletionTokens int
	Status           string // ok, transient, fatal
	Error            string
	Timestamp        string
}

// CheckRun represents a row in the check_runs table.
type CheckRun struct {
	ID         int
	RunID      string
	CheckName  string
	Passed     bool
	ExitCode   int
	DurationMs int
	Summary    string
	Findings   string
	Timestamp  string
}

// CreateRun inserts a new run in status "pending".
func (d *DB) CreateRun(id, name, source string) error {
	_, err := d.exec(
		`INSERT INTO runs (id, name, source, status, created_at) VALUES (?, ?, ?, 'pending', ?)`,
		id, name, source, now(),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// SetRunStatus updates the status of a run in progress.
func (d *DB) SetRunStatus(id, status string) error {
	return d.updateRun(`UPDATE runs SET status = ? WHERE id = ?`, status, id)
}

// SetRunTaskCount records how many tasks the extracted plan holds.
func (d *DB) SetRunTaskCount(id string, n int) error {
	return d.updateRun(`UPDATE runs SET task_count = ? WHERE id = ?`, n, id)
}

// FinishRun records the final status of a run. reward and penalty may be nil
// when no score was produced.
func (d *DB) FinishRun(id, status, filename, outputPath string, reward, penalty *float64, errMsg string) error {
	return d.updateRun(
		`UPDATE runs SET status = ?, filename = ?, output_path = ?, reward = ?, penalty = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		status, nullString(filename), nullString(outputPath), reward, penalty, nullString(errMsg), now(), id,
	)
}

func (d *DB) updateRun(query string, args ...interface{}) error {
	res, err := d.exec(query, args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("run %v not found", args[len(args)-1])
	}
	return nil
}

const runColumns = `id, name, source, status, task_count, filename, output_path, reward, penalty, error, created_at, finished_at`

func scanRun(scan func(...interface{}) error) (*Run, error) {
	var r Run
	var source, filename, outputPath, errMsg, finishedAt sql.NullString
	var reward, penalty sql.NullFloat64
	if err := scan(&r.ID, &r.Name, &source, &r.Status, &r.TaskCount, &filename, &outputPath,
		&reward, &penalty, &errMsg, &r.CreatedAt, &finishedAt); err != nil {
		return nil, err
	}
	r.Source = source.String
	r.Filename = filename.String
	r.OutputPath = outputPath.String
	r.Error = errMsg.String
	r.FinishedAt = finishedAt.String
	if reward.Valid {
		v := reward.Float64
		r.Reward = &v
	}
	if penalty.Valid {
		v := penalty.Float64
		r.Penalty = &v
	}
	return &r, nil
}

// GetRun returns a run by ID, or nil if it does not exist.
func (d *DB) GetRun(id string) (*Run, error) {
	r, err := scanRun(d.queryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest first. status "" matches every status and
// limit <= 0 means no limit.
func (d *DB) ListRuns(status string, limit int) ([]Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs`
	var args []interface{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// LogPipelineEvent inserts a pipeline event. task is 0 for run-level events.
func (d *DB) LogPipelineEvent(runID, event, stage string, task int, detail string) error {
	_, err := d.exec(
		`INSERT INTO pipeline_events (run_id, event, stage, task, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, event, stage, task, detail, now(),
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// GetPipelineHistory returns all events for a run, most recent first.
func (d *DB) GetPipelineHistory(runID string) ([]PipelineEvent, error) {
	rows, err := d.query(
		`SELECT id, run_id, event, stage, task, detail, timestamp
		 FROM pipeline_events WHERE run_id = ? ORDER BY timestamp DESC, id DESC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get pipeline history: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		var stage, detail sql.NullString
		var task sql.NullInt64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &stage, &task, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		e.Stage = stage.String
		e.Task = int(task.Int64)
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// LogLLMCall inserts a model call record.
func (d *DB) LogLLMCall(c LLMCall) error {
	_, err := d.exec(
		`INSERT INTO llm_calls (run_id, request_id, role, model, kind, attempts, duration_ms, prompt_tokens, completion_tokens, status, error, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.RequestID, c.Role, c.Model, c.Kind, c.Attempts, c.DurationMs,
		c.PromptTokens, c.CompletionTokens, c.Status, nullString(c.Error), now(),
	)
	if err != nil {
		return fmt.Errorf("log llm call: %w", err)
	}
	return nil
}

// GetLLMCalls returns the model calls of a run in call order.
func (d *DB) GetLLMCalls(runID string) ([]LLMCall, error) {
	rows, err := d.query(
		`SELECT id, run_id, request_id, role, model, kind, attempts, duration_ms, prompt_tokens, completion_tokens, status, error, timestamp
		 FROM llm_calls WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get llm calls: %w", err)
	}
	defer rows.Close()

	var calls []LLMCall
	for rows.Next() {
		var c LLMCall
		var errMsg sql.NullString
		if err := rows.Scan(&c.ID, &c.RunID, &c.RequestID, &c.Role, &c.Model, &c.Kind, &c.Attempts, &c.DurationMs,
			&c.PromptTokens, &c.CompletionTokens, &c.Status, &errMsg, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan llm call: %w", err)
		}
		c.Error = errMsg.String
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// LogCheckRun inserts a check run record.
func (d *DB) LogCheckRun(runID, checkName string, passed bool, exitCode, durationMs int, summary, findings string) error {
	_, err := d.exec(
		`INSERT INTO check_runs (run_id, check_name, passed, exit_code, duration_ms, summary, findings, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, checkName, passed, exitCode, durationMs, summary, findings, now(),
	)
	if err != nil {
		return fmt.Errorf("log check run: %w", err)
	}
	return nil
}

// GetCheckRuns returns the check runs of a run in execution order.
func (d *DB) GetCheckRuns(runID string) ([]CheckRun, error) {
	rows, err := d.query(
		`SELECT id, run_id, check_name, passed, exit_code, duration_ms, summary, findings, timestamp
		 FROM check_runs WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get check runs: %w", err)
	}
	defer rows.Close()

	var runs []CheckRun
	for rows.Next() {
		var cr CheckRun
		var exitCode, durationMs sql.NullInt64
		var summary, findings sql.NullString
		if err := rows.Scan(&cr.ID, &cr.RunID, &cr.CheckName, &cr.Passed, &exitCode, &durationMs, &summary, &findings, &cr.Timestamp); err != nil {
			return nil, fmt.Errorf("scan check run: %w", err)
		}
		cr.ExitCode = int(exitCode.Int64)
		cr.DurationMs = int(durationMs.Int64)
		cr.Summary = summary.String
		cr.Findings = findings.String
		runs = append(runs, cr)
	}
	return runs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
