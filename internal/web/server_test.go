package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/codeforge/internal/db"
	"github.com/lucasnoah/codeforge/internal/pipeline"
	"github.com/lucasnoah/codeforge/internal/plan"
)

func newTestServer(t *testing.T) (*Server, *pipeline.Store, *db.DB) {
	t.Helper()
	store := pipeline.NewStore(t.TempDir())
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	s := NewServer(store, d, 0)
	s.poll = 10 * time.Millisecond
	return s, store, d
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandleRuns(t *testing.T) {
	s, store, _ := newTestServer(t)
	store.Create("run-a", "forge", "a.md")
	store.Create("run-b", "forge", "b.md")
	store.Update("run-b", func(rs *pipeline.RunState) { rs.Status = pipeline.StatusFailed })

	rec := get(t, s.Handler(), "/api/runs?status=failed")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var runs []pipeline.RunState
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-b" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestHandleRuns_EmptyIsArray(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := get(t, s.Handler(), "/api/runs")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestHandleRun(t *testing.T) {
	s, store, d := newTestServer(t)
	store.Create("run-1", "forge", "req.md")
	store.SavePlan("run-1", &plan.ProjectPlan{Plan: "narrative", Tasks: []plan.Task{{Description: "d", AcceptanceCriteria: "a"}}})
	d.LogPipelineEvent("run-1", "created", "", 0, "req.md")

	rec := get(t, s.Handler(), "/api/runs/run-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var detail RunDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.Run.ID != "run-1" || detail.Plan == nil || detail.Plan.Plan != "narrative" {
		t.Errorf("detail = %+v", detail)
	}
	if len(detail.Timeline) != 1 || detail.Timeline[0].Event != "created" {
		t.Errorf("timeline = %+v", detail.Timeline)
	}
}

func TestHandleRun_NotFound(t *testing.T) {
	s, _, _ := newTestServer(t)
	if rec := get(t, s.Handler(), "/api/runs/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleTaskFile(t *testing.T) {
	s, store, _ := newTestServer(t)
	store.Create("run-1", "forge", "-")
	store.SaveTaskFile("run-1", 1, pipeline.ReviewedFile, "<<<FILE: a.js>>>\nx\n<<<END FILE>>>")

	rec := get(t, s.Handler(), "/api/runs/run-1/tasks/1/"+pipeline.ReviewedFile)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "a.js") {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}

	if rec := get(t, s.Handler(), "/api/runs/run-1/tasks/1/run.json"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown file status = %d, want 404", rec.Code)
	}
	if rec := get(t, s.Handler(), "/api/runs/run-1/tasks/zero/"+pipeline.ReviewedFile); rec.Code != http.StatusBadRequest {
		t.Errorf("bad task status = %d, want 400", rec.Code)
	}
}

func TestHandleAnalytics(t *testing.T) {
	s, _, d := newTestServer(t)
	d.CreateRun("r1", "forge", "-")
	reward, penalty := 0.95, 0.05
	d.FinishRun("r1", pipeline.StatusCompleted, "a.js", "/tmp/a.js", &reward, &penalty, "")

	rec := get(t, s.Handler(), "/api/analytics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var sum AnalyticsSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Rewards.Scored != 1 || sum.Rewards.Avg != 0.95 {
		t.Errorf("rewards = %+v", sum.Rewards)
	}
	if len(sum.Outcomes) != 1 || sum.Outcomes[0].Status != pipeline.StatusCompleted {
		t.Errorf("outcomes = %+v", sum.Outcomes)
	}
}

func TestHandleAnalytics_NoDB(t *testing.T) {
	s := NewServer(pipeline.NewStore(t.TempDir()), nil, 0)
	if rec := get(t, s.Handler(), "/api/analytics"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRunStream_EndsWhenFinished(t *testing.T) {
	s, store, _ := newTestServer(t)
	store.Create("run-1", "forge", "-")

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	go func() {
		time.Sleep(30 * time.Millisecond)
		store.Update("run-1", func(rs *pipeline.RunState) { rs.Status = pipeline.StatusCompleted })
	}()

	resp, err := http.Get(srv.URL + "/api/runs/run-1/stream")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	out := string(body)
	if !strings.Contains(out, "event: status") || !strings.HasSuffix(out, "event: done\ndata: completed\n\n") {
		t.Errorf("stream = %q", out)
	}
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	if rec := get(t, s.Handler(), "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
