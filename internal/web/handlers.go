package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/lucasnoah/codeforge/internal/analytics"
	"github.com/lucasnoah/codeforge/internal/pipeline"
	"github.com/lucasnoah/codeforge/internal/plan"
)

var errNoDatabase = errors.New("no database configured")

// taskFiles lists the per-task artifacts that may be fetched.
var taskFiles = map[string]bool{
	pipeline.GeneratePromptFile: true,
	pipeline.GeneratedFile:      true,
	pipeline.ReviewPromptFile:   true,
	pipeline.ReviewedFile:       true,
}

// RunDetail is the response of GET /api/runs/{id}.
type RunDetail struct {
	Run      *pipeline.RunState   `json:"run"`
	Plan     *plan.ProjectPlan    `json:"plan,omitempty"`
	Timeline []analytics.RunEvent `json:"timeline,omitempty"`
}

// AnalyticsSummary is the response of GET /api/analytics.
type AnalyticsSummary struct {
	Rewards  *analytics.RewardStats  `json:"rewards"`
	Outcomes []analytics.StatusCount `json:"outcomes"`
	Calls    []analytics.CallLatency `json:"calls"`
	Checks   []analytics.CheckStats  `json:"checks"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.List(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []pipeline.RunState{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	rs, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	detail := RunDetail{Run: rs}

	var p plan.ProjectPlan
	if err := s.store.GetPlan(rs.ID, &p); err == nil {
		detail.Plan = &p
	}
	if s.db != nil {
		timeline, err := analytics.QueryRunDetail(s.db, rs.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		detail.Timeline = timeline
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleTaskFile(w http.ResponseWriter, r *http.Request) {
	id, file := r.PathValue("id"), r.PathValue("file")
	task, err := strconv.Atoi(r.PathValue("task"))
	if err != nil || task < 1 {
		writeError(w, http.StatusBadRequest, errors.New("invalid task number"))
		return
	}
	if !taskFiles[file] {
		writeError(w, http.StatusNotFound, errors.New("unknown task file"))
		return
	}
	content, err := s.store.GetTaskFile(id, task, file)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(content))
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, errNoDatabase)
		return
	}
	since := r.URL.Query().Get("since")

	var sum AnalyticsSummary
	var err error
	if sum.Rewards, err = analytics.QueryRewardStats(s.db, since); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sum.Outcomes, err = analytics.QueryRunOutcomes(s.db, since); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sum.Calls, err = analytics.QueryCallLatency(s.db, since); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sum.Checks, err = analytics.QueryCheckStats(s.db, since); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
