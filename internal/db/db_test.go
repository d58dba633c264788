package db

import (
	"path/filepath"
	"strings"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMigrate(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var version int
	if err := d.conn.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}

	// Migrate again should be idempotent
	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := d.CreateRun("r1", "forge", "-"); err != nil {
		t.Fatalf("create run: %v", err)
	}
	d.Close()

	d2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d2.Close()
	r, err := d2.GetRun("r1")
	if err != nil || r == nil {
		t.Fatalf("run not persisted: %v", err)
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)

	if err := d.CreateRun("r1", "forge", "-"); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	r, err := d.GetRun("r1")
	if err != nil {
		t.Fatalf("get run after reset: %v", err)
	}
	if r != nil {
		t.Error("expected run to be gone after reset")
	}
}

func TestDialectFor(t *testing.T) {
	cases := map[string]string{
		"/home/me/.forge/forge.db":         DialectSQLite,
		":memory:":                         DialectSQLite,
		"postgres://forge@localhost/forge": DialectPostgres,
		"postgresql://forge@db:5432/forge": DialectPostgres,
	}
	for dsn, want := range cases {
		if got := DialectFor(dsn); got != want {
			t.Errorf("DialectFor(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: DialectPostgres}
	got := pg.Rebind(`SELECT * FROM runs WHERE status = ? AND name = 'what?' AND id = ?`)
	want := `SELECT * FROM runs WHERE status = $1 AND name = 'what?' AND id = $2`
	if got != want {
		t.Errorf("Rebind = %q, want %q", got, want)
	}

	lite := &DB{dialect: DialectSQLite}
	if q := lite.Rebind("a = ?"); q != "a = ?" {
		t.Errorf("sqlite Rebind changed query: %q", q)
	}
}

func TestPostgresSchemaUsesSerialIDs(t *testing.T) {
	pg := &DB{dialect: DialectPostgres}
	schema := pg.schemaV1()
	if !strings.Contains(schema, "BIGSERIAL PRIMARY KEY") || strings.Contains(schema, "AUTOINCREMENT") {
		t.Error("postgres schema should use BIGSERIAL ids")
	}
}

func TestRunLifecycle(t *testing.T) {
	d := testDB(t)

	if err := d.CreateRun("r1", "forge", "reqs.md"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.SetRunStatus("r1", "coding"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := d.SetRunTaskCount("r1", 3); err != nil {
		t.Fatalf("task count: %v", err)
	}

	r, err := d.GetRun("r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Status != "coding" || r.TaskCount != 3 || r.Source != "reqs.md" {
		t.Errorf("unexpected run %+v", r)
	}
	if r.Reward != nil || r.FinishedAt != "" {
		t.Error("unfinished run should have no reward or finished_at")
	}

	reward, penalty := 0.94, 0.06
	if err := d.FinishRun("r1", "completed", "index.html", "/out/index.html", &reward, &penalty, ""); err != nil {
		t.Fatalf("finish: %v", err)
	}
	r, _ = d.GetRun("r1")
	if r.Status != "completed" || r.Filename != "index.html" || r.OutputPath != "/out/index.html" {
		t.Errorf("unexpected finished run %+v", r)
	}
	if r.Reward == nil || *r.Reward != 0.94 || r.Penalty == nil || *r.Penalty != 0.06 {
		t.Errorf("reward/penalty = %v/%v", r.Reward, r.Penalty)
	}
	if r.FinishedAt == "" {
		t.Error("finished_at should be set")
	}
}

func TestFinishRunWithoutScore(t *testing.T) {
	d := testDB(t)
	_ = d.CreateRun("r1", "forge", "-")
	if err := d.FinishRun("r1", "failed", "", "", nil, nil, "extract: invalid project plan"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	r, _ := d.GetRun("r1")
	if r.Reward != nil {
		t.Error("reward should be NULL")
	}
	if r.Error != "extract: invalid project plan" {
		t.Errorf("Error = %q", r.Error)
	}
}

func TestUpdateMissingRun(t *testing.T) {
	d := testDB(t)
	if err := d.SetRunStatus("nope", "failed"); err == nil {
		t.Fatal("expected error for missing run")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	d := testDB(t)
	r, err := d.GetRun("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != nil {
		t.Error("expected nil run")
	}
}

func TestListRuns(t *testing.T) {
	d := testDB(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := d.CreateRun(id, "forge", "-"); err != nil {
			t.Fatal(err)
		}
	}
	_ = d.FinishRun("b", "failed", "", "", nil, nil, "boom")

	all, err := d.ListRuns("", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d runs, want 3", len(all))
	}
	if all[0].ID != "c" {
		t.Errorf("newest run first: got %q", all[0].ID)
	}

	failed, _ := d.ListRuns("failed", 0)
	if len(failed) != 1 || failed[0].ID != "b" {
		t.Errorf("failed runs = %+v", failed)
	}

	limited, _ := d.ListRuns("", 2)
	if len(limited) != 2 {
		t.Errorf("limit ignored: %d runs", len(limited))
	}
}

func TestLogPipelineEvent_GetPipelineHistory(t *testing.T) {
	d := testDB(t)

	if err := d.LogPipelineEvent("r1", "created", "", 0, "reqs.md"); err != nil {
		t.Fatalf("log pipeline event: %v", err)
	}
	if err := d.LogPipelineEvent("r1", "reviewed", "review", 2, "index.html"); err != nil {
		t.Fatalf("log pipeline event: %v", err)
	}
	if err := d.LogPipelineEvent("r2", "created", "", 0, ""); err != nil {
		t.Fatalf("log pipeline event: %v", err)
	}

	history, err := d.GetPipelineHistory("r1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d events, want 2", len(history))
	}
	// Should be in descending order (most recent first)
	if history[0].Event != "reviewed" || history[0].Task != 2 || history[0].Stage != "review" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Event != "created" {
		t.Errorf("history[1].Event = %q, want created", history[1].Event)
	}

	history2, _ := d.GetPipelineHistory("r2")
	if len(history2) != 1 {
		t.Fatalf("got %d events for r2, want 1", len(history2))
	}
}

func TestLogLLMCall_GetLLMCalls(t *testing.T) {
	d := testDB(t)

	calls := []LLMCall{
		{RunID: "r1", RequestID: "q1", Role: "planner", Model: "gpt-4", Kind: "text", Attempts: 1, DurationMs: 1200, PromptTokens: 100, CompletionTokens: 300, Status: "ok"},
		{RunID: "r1", RequestID: "q2", Role: "extractor", Model: "gpt-4", Kind: "structured", Attempts: 3, DurationMs: 9000, Status: "transient", Error: "503 overloaded"},
	}
	for _, c := range calls {
		if err := d.LogLLMCall(c); err != nil {
			t.Fatalf("log llm call: %v", err)
		}
	}

	got, err := d.GetLLMCalls("r1")
	if err != nil {
		t.Fatalf("get llm calls: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d calls, want 2", len(got))
	}
	if got[0].Role != "planner" || got[0].CompletionTokens != 300 || got[0].Error != "" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Attempts != 3 || got[1].Status != "transient" || got[1].Error != "503 overloaded" {
		t.Errorf("got[1] = %+v", got[1])
	}
}

func TestLogCheckRun_GetCheckRuns(t *testing.T) {
	d := testDB(t)

	if err := d.LogCheckRun("r1", "eslint", false, 1, 850, "1 errors, 0 warnings, 0 fixable", `[{"severity":2,"message":"x"}]`); err != nil {
		t.Fatalf("log check run: %v", err)
	}
	if err := d.LogCheckRun("r1", "tsc", true, 0, 2000, "", ""); err != nil {
		t.Fatalf("log check run: %v", err)
	}

	runs, err := d.GetCheckRuns("r1")
	if err != nil {
		t.Fatalf("get check runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d check runs, want 2", len(runs))
	}
	if runs[0].CheckName != "eslint" || runs[0].Passed || runs[0].ExitCode != 1 {
		t.Errorf("runs[0] = %+v", runs[0])
	}
	if !runs[1].Passed || runs[1].DurationMs != 2000 {
		t.Errorf("runs[1] = %+v", runs[1])
	}
}

func TestDefaultDBPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	path, err := DefaultDBPath(dir)
	if err != nil {
		t.Fatalf("DefaultDBPath: %v", err)
	}
	if path != filepath.Join(dir, "forge.db") {
		t.Errorf("path = %q", path)
	}
}
