package pipeline

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	rs, err := s.Create("run-1", "forge", "requirements.md")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rs.ID != "run-1" {
		t.Errorf("ID = %q, want run-1", rs.ID)
	}
	if rs.Status != StatusPending {
		t.Errorf("Status = %q, want %q", rs.Status, StatusPending)
	}
	if rs.CreatedAt == "" {
		t.Error("CreatedAt should not be empty")
	}

	got, err := s.Get("run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Source != "requirements.md" {
		t.Errorf("Source = %q, want requirements.md", got.Source)
	}
	if got.TaskHistory == nil {
		t.Error("TaskHistory should round-trip as an empty slice")
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("a", "forge", "-"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create("a", "forge", "-"); err == nil {
		t.Fatal("expected error creating duplicate run")
	}
}

func TestInvalidIDs(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", ".", "..", "../escape", "a/b"} {
		if _, err := s.Create(id, "forge", "-"); err == nil {
			t.Errorf("Create(%q): expected error", id)
		}
		if _, err := s.Get(id); err == nil {
			t.Errorf("Get(%q): expected error", id)
		}
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Error("NewID returned the same ID twice")
	}
	if err := checkID(a); err != nil {
		t.Errorf("NewID produced unusable id: %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("missing"); err == nil {
		t.Fatal("expected error for missing run")
	}
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("u", "forge", "-"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	reward := 0.95
	err := s.Update("u", func(rs *RunState) {
		rs.Status = StatusCompleted
		rs.TaskCount = 2
		rs.Reward = &reward
		rs.TaskHistory = append(rs.TaskHistory, TaskHistoryEntry{Task: 1, Filename: "index.html"})
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := s.Get("u")
	if got.Status != StatusCompleted || got.TaskCount != 2 {
		t.Errorf("unexpected state %+v", got)
	}
	if got.Reward == nil || *got.Reward != 0.95 {
		t.Errorf("Reward = %v, want 0.95", got.Reward)
	}
	if len(got.TaskHistory) != 1 || got.TaskHistory[0].Filename != "index.html" {
		t.Errorf("TaskHistory = %+v", got.TaskHistory)
	}
	if !got.Finished() {
		t.Error("completed run should be finished")
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.Update("nope", func(*RunState) {}); err == nil {
		t.Fatal("expected error updating missing run")
	}
}

func TestListNewestFirstWithFilter(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"old", "mid", "new"} {
		if _, err := s.Create(id, "forge", "-"); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	stamp := map[string]string{"old": "2026-01-01T00:00:00Z", "mid": "2026-02-01T00:00:00Z", "new": "2026-03-01T00:00:00Z"}
	for id, ts := range stamp {
		rs, _ := s.Get(id)
		rs.CreatedAt = ts
		if id == "mid" {
			rs.Status = StatusFailed
		}
		if err := WriteJSON(s.runPath(id), rs); err != nil {
			t.Fatal(err)
		}
	}
	// A stray file and a broken dir are ignored.
	_ = os.WriteFile(filepath.Join(s.BaseDir(), "stray.txt"), []byte("x"), 0o644)
	_ = os.MkdirAll(filepath.Join(s.BaseDir(), "broken"), 0o755)

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d runs, want 3", len(all))
	}
	if all[0].ID != "new" || all[2].ID != "old" {
		t.Errorf("order = %s,%s,%s", all[0].ID, all[1].ID, all[2].ID)
	}

	failed, _ := s.List(StatusFailed)
	if len(failed) != 1 || failed[0].ID != "mid" {
		t.Errorf("filtered list = %+v", failed)
	}
}

func TestListEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))
	runs, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.Create("d", "forge", "-")
	if err := s.Delete("d"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("d"); err == nil {
		t.Error("run should be gone")
	}
	if err := s.Delete("d"); err == nil {
		t.Error("expected error deleting missing run")
	}
}

func TestTextArtifacts(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.Create("t", "forge", "-")

	if err := s.SaveRequirements("t", "build a clock"); err != nil {
		t.Fatalf("SaveRequirements: %v", err)
	}
	if err := s.SaveNarrative("t", "1. clock"); err != nil {
		t.Fatalf("SaveNarrative: %v", err)
	}
	req, _ := s.GetRequirements("t")
	narrative, _ := s.GetNarrative("t")
	if req != "build a clock" || narrative != "1. clock" {
		t.Errorf("got %q / %q", req, narrative)
	}

	if err := s.SaveNarrative("missing", "x"); err == nil {
		t.Error("expected error saving into missing run")
	}
}

func TestPlanAndScoreJSON(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.Create("p", "forge", "-")

	type task struct {
		Description string `json:"description"`
	}
	in := struct {
		Plan  string `json:"plan"`
		Tasks []task `json:"tasks"`
	}{Plan: "narrative", Tasks: []task{{"T1"}, {"T2"}}}

	if err := s.SavePlan("p", in); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	var out struct {
		Plan  string `json:"plan"`
		Tasks []task `json:"tasks"`
	}
	if err := s.GetPlan("p", &out); err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if out.Plan != "narrative" || len(out.Tasks) != 2 || out.Tasks[1].Description != "T2" {
		t.Errorf("GetPlan = %+v", out)
	}

	if err := s.SaveScore("p", map[string]float64{"reward": 0.9}); err != nil {
		t.Fatalf("SaveScore: %v", err)
	}
	var score map[string]float64
	if err := s.GetScore("p", &score); err != nil || score["reward"] != 0.9 {
		t.Errorf("GetScore = %v, %v", score, err)
	}
}

func TestTaskFiles(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.Create("tf", "forge", "-")

	if err := s.SaveTaskFile("tf", 2, GeneratedFile, "<<<FILE: a.js>>>\nx\n<<<END FILE>>>"); err != nil {
		t.Fatalf("SaveTaskFile: %v", err)
	}
	got, err := s.GetTaskFile("tf", 2, GeneratedFile)
	if err != nil {
		t.Fatalf("GetTaskFile: %v", err)
	}
	if got != "<<<FILE: a.js>>>\nx\n<<<END FILE>>>" {
		t.Errorf("GetTaskFile = %q", got)
	}
	if _, err := os.Stat(filepath.Join(s.BaseDir(), "tf", "tasks", "2", GeneratedFile)); err != nil {
		t.Errorf("expected task file on disk: %v", err)
	}
	if _, err := s.GetTaskFile("tf", 3, ReviewedFile); err == nil {
		t.Error("expected error for missing task file")
	}
}

func TestDefaultStore(t *testing.T) {
	dir := t.TempDir()
	s, err := DefaultStore(dir)
	if err != nil {
		t.Fatalf("DefaultStore: %v", err)
	}
	if s.BaseDir() != filepath.Join(dir, "runs") {
		t.Errorf("BaseDir = %q", s.BaseDir())
	}
	if fi, err := os.Stat(s.BaseDir()); err != nil || !fi.IsDir() {
		t.Errorf("runs dir not created: %v", err)
	}
}

func TestAtomicWriteCleanup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")

	data := []byte(`{"key": "value"}`)
	if err := WriteAtomic(path, data); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("file content = %q, want %q", got, data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "test.json" {
			t.Errorf("unexpected file remaining: %s", e.Name())
		}
	}

	fi, _ := os.Stat(path)
	if fi.Mode().Perm() != 0o644 {
		t.Errorf("mode = %v, want 0644", fi.Mode().Perm())
	}
}

func TestWriteAtomicOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "index.html")
	if err := WriteAtomic(path, []byte("a much longer first version")); err != nil {
		t.Fatal(err)
	}
	if err := WriteAtomic(path, []byte("v2")); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "v2" {
		t.Errorf("content = %q, want v2", got)
	}
}

func TestWriteAndReadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")

	type testData struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	input := testData{Name: "hello", Count: 42}
	if err := WriteJSON(path, &input); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var output testData
	if err := ReadJSON(path, &output); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if output != input {
		t.Errorf("ReadJSON got %+v, want %+v", output, input)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("c", "forge", "-"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update("c", func(rs *RunState) {
				rs.TaskHistory = append(rs.TaskHistory, TaskHistoryEntry{Task: len(rs.TaskHistory) + 1})
			})
		}()
	}
	wg.Wait()

	got, err := s.Get("c")
	if err != nil {
		t.Fatalf("Get after concurrent updates: %v", err)
	}
	if len(got.TaskHistory) != 10 {
		t.Errorf("TaskHistory has %d entries, want 10 (lost update)", len(got.TaskHistory))
	}
	if _, err := time.Parse(time.RFC3339, got.UpdatedAt); err != nil {
		t.Errorf("UpdatedAt not RFC3339: %v", err)
	}
}
