// Package analytics aggregates the run history kept in the event log.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
	Rebind(query string) string
}

// RewardStats summarizes the rewards of scored runs.
type RewardStats struct {
	Scored int     `json:"scored"`
	Avg    float64 `json:"avg"`
	P50    float64 `json:"p50"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Clean  int     `json:"clean"` // runs with reward exactly 1
}

// QueryRewardStats returns reward statistics over runs created at or after since.
func QueryRewardStats(database DB, since string) (*RewardStats, error) {
	query := `SELECT reward FROM runs WHERE reward IS NOT NULL`
	args := []interface{}{}
	if since != "" {
		query += ` AND created_at >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query rewards: %w", err)
	}
	defer rows.Close()

	var rewards []float64
	for rows.Next() {
		var r float64
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		rewards = append(rewards, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := &RewardStats{Scored: len(rewards)}
	if len(rewards) == 0 {
		return stats, nil
	}
	sort.Float64s(rewards)
	for _, r := range rewards {
		if r == 1 {
			stats.Clean++
		}
	}
	stats.Avg = round(avg(rewards), 4)
	stats.P50 = round(percentile(rewards, 50), 4)
	stats.Min = rewards[0]
	stats.Max = rewards[len(rewards)-1]
	return stats, nil
}

// StatusCount holds the number of runs that ended in one status.
type StatusCount struct {
	Status string  `json:"status"`
	Count  int     `json:"count"`
	Pct    float64 `json:"pct"`
}

// QueryRunOutcomes returns run counts per status, most frequent first.
func QueryRunOutcomes(database DB, since string) ([]StatusCount, error) {
	query := `SELECT status, COUNT(*) FROM runs`
	args := []interface{}{}
	if since != "" {
		query += ` WHERE created_at >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY status`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query run outcomes: %w", err)
	}
	defer rows.Close()

	var results []StatusCount
	total := 0
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan run outcome: %w", err)
		}
		total += sc.Count
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		results[i].Pct = pct(results[i].Count, total)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Status < results[j].Status
	})
	return results, nil
}

// CallLatency holds model call stats for one agent role.
type CallLatency struct {
	Role             string  `json:"role"`
	Calls            int     `json:"calls"`
	Failed           int     `json:"failed"`
	Retried          int     `json:"retried"`
	AvgMs            float64 `json:"avg_ms"`
	P50Ms            float64 `json:"p50_ms"`
	P95Ms            float64 `json:"p95_ms"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
}

// QueryCallLatency returns per-role latency and failure stats for model calls.
func QueryCallLatency(database DB, since string) ([]CallLatency, error) {
	query := `SELECT role, status, attempts, duration_ms, prompt_tokens, completion_tokens FROM llm_calls`
	args := []interface{}{}
	if since != "" {
		query += ` WHERE timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query llm calls: %w", err)
	}
	defer rows.Close()

	byRole := make(map[string]*CallLatency)
	durations := make(map[string][]float64)
	for rows.Next() {
		var role, status string
		var attempts, durationMs, promptTokens, completionTokens int
		if err := rows.Scan(&role, &status, &attempts, &durationMs, &promptTokens, &completionTokens); err != nil {
			return nil, fmt.Errorf("scan llm call: %w", err)
		}
		cl, ok := byRole[role]
		if !ok {
			cl = &CallLatency{Role: role}
			byRole[role] = cl
		}
		cl.Calls++
		if status != "ok" {
			cl.Failed++
		}
		if attempts > 1 {
			cl.Retried++
		}
		cl.PromptTokens += promptTokens
		cl.CompletionTokens += completionTokens
		durations[role] = append(durations[role], float64(durationMs))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []CallLatency
	for role, cl := range byRole {
		d := durations[role]
		sort.Float64s(d)
		cl.AvgMs = round(avg(d), 1)
		cl.P50Ms = round(percentile(d, 50), 1)
		cl.P95Ms = round(percentile(d, 95), 1)
		results = append(results, *cl)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Role < results[j].Role
	})
	return results, nil
}

// CheckStats holds run and failure stats for one check.
type CheckStats struct {
	CheckName string  `json:"check_name"`
	Runs      int     `json:"runs"`
	Failed    int     `json:"failed"`
	FailRate  float64 `json:"fail_rate_pct"`
	AvgMs     float64 `json:"avg_ms"`
}

// QueryCheckStats returns how often each check ran and reported problems.
func QueryCheckStats(database DB, since string) ([]CheckStats, error) {
	query := `
		SELECT check_name,
			COUNT(*) as runs,
			SUM(CASE WHEN passed THEN 0 ELSE 1 END) as failed,
			AVG(duration_ms) as avg_ms
		FROM check_runs`
	args := []interface{}{}
	if since != "" {
		query += ` WHERE timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY check_name ORDER BY check_name`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query check stats: %w", err)
	}
	defer rows.Close()

	var results []CheckStats
	for rows.Next() {
		var cs CheckStats
		var avgMs sql.NullFloat64
		if err := rows.Scan(&cs.CheckName, &cs.Runs, &cs.Failed, &avgMs); err != nil {
			return nil, fmt.Errorf("scan check stats: %w", err)
		}
		cs.FailRate = pct(cs.Failed, cs.Runs)
		if avgMs.Valid {
			cs.AvgMs = round(avgMs.Float64, 1)
		}
		results = append(results, cs)
	}
	return results, rows.Err()
}

// RunEvent holds a single entry of a run timeline.
type RunEvent struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"` // pipeline, llm or check
	Event     string `json:"event"`
	Stage     string `json:"stage,omitempty"`
	Task      int    `json:"task,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// QueryRunDetail returns the full timeline of one run: pipeline events,
// model calls and check runs, oldest first.
func QueryRunDetail(database DB, runID string) ([]RunEvent, error) {
	var results []RunEvent

	peRows, err := database.Conn().Query(database.Rebind(
		`SELECT timestamp, event, stage, task, detail
		 FROM pipeline_events WHERE run_id = ? ORDER BY timestamp, id`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pipeline events: %w", err)
	}
	defer peRows.Close()

	for peRows.Next() {
		var e RunEvent
		var stage, detail sql.NullString
		var task sql.NullInt64
		if err := peRows.Scan(&e.Timestamp, &e.Event, &stage, &task, &detail); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		e.Type = "pipeline"
		e.Stage = stage.String
		e.Task = int(task.Int64)
		e.Detail = detail.String
		results = append(results, e)
	}
	if err := peRows.Err(); err != nil {
		return nil, err
	}

	lcRows, err := database.Conn().Query(database.Rebind(
		`SELECT timestamp, role, model, kind, attempts, duration_ms, status, error
		 FROM llm_calls WHERE run_id = ? ORDER BY timestamp, id`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query llm calls: %w", err)
	}
	defer lcRows.Close()

	for lcRows.Next() {
		var ts, role, model, kind, status string
		var attempts, durationMs int
		var errMsg sql.NullString
		if err := lcRows.Scan(&ts, &role, &model, &kind, &attempts, &durationMs, &status, &errMsg); err != nil {
			return nil, fmt.Errorf("scan llm call: %w", err)
		}
		detail := fmt.Sprintf("%s %s: %s (%d attempts, %dms)", model, kind, status, attempts, durationMs)
		if errMsg.String != "" {
			detail += ": " + errMsg.String
		}
		results = append(results, RunEvent{Timestamp: ts, Type: "llm", Event: role, Detail: detail})
	}
	if err := lcRows.Err(); err != nil {
		return nil, err
	}

	crRows, err := database.Conn().Query(database.Rebind(
		`SELECT timestamp, check_name, passed, duration_ms, summary
		 FROM check_runs WHERE run_id = ? ORDER BY timestamp, id`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query check runs: %w", err)
	}
	defer crRows.Close()

	for crRows.Next() {
		var ts, checkName string
		var passed bool
		var durationMs sql.NullInt64
		var summary sql.NullString
		if err := crRows.Scan(&ts, &checkName, &passed, &durationMs, &summary); err != nil {
			return nil, fmt.Errorf("scan check run: %w", err)
		}
		status := "PASS"
		if !passed {
			status = "FAIL"
		}
		detail := fmt.Sprintf("%s: %s (%dms)", checkName, status, durationMs.Int64)
		if summary.String != "" {
			detail += ": " + summary.String
		}
		results = append(results, RunEvent{Timestamp: ts, Type: "check", Event: checkName, Stage: "score", Detail: detail})
	}
	if err := crRows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp < results[j].Timestamp
	})
	return results, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
