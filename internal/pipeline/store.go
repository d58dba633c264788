package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store manages run state on disk:
//
//	<base>/<id>/run.json
//	<base>/<id>/requirements.md
//	<base>/<id>/plan.md
//	<base>/<id>/plan.json
//	<base>/<id>/score.json
//	<base>/<id>/tasks/<n>/{generate-prompt.md,generated.txt,review-prompt.md,reviewed.txt}
type Store struct {
	baseDir string // defaults to ~/.forge/runs
	mu      sync.Mutex
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at <stateDir>/runs, creating the directory if
// needed. An empty stateDir means ~/.forge.
func DefaultStore(stateDir string) (*Store, error) {
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		stateDir = filepath.Join(home, ".forge")
	}
	dir := filepath.Join(stateDir, "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// NewID returns a fresh run ID.
func NewID() string {
	return uuid.NewString()
}

func checkID(id string) error {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return fmt.Errorf("invalid run id %q", id)
	}
	return nil
}

// RunDir returns the directory path for a run.
func (s *Store) RunDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

func (s *Store) runPath(id string) string {
	return filepath.Join(s.RunDir(id), "run.json")
}

// TaskDir returns the directory holding the artifacts of task n (1-based).
func (s *Store) TaskDir(id string, n int) string {
	return filepath.Join(s.RunDir(id), "tasks", strconv.Itoa(n))
}

// Create initialises a new run on disk.
func (s *Store) Create(id, name, source string) (*RunState, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	dir := s.RunDir(id)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("run %s already exists", id)
	}
	if err := os.MkdirAll(filepath.Join(dir, "tasks"), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir tasks: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	rs := &RunState{
		ID:          id,
		Name:        name,
		Source:      source,
		Status:      StatusPending,
		TaskHistory: []TaskHistoryEntry{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := WriteJSON(s.runPath(id), rs); err != nil {
		return nil, fmt.Errorf("write run.json: %w", err)
	}
	return rs, nil
}

// Get reads the state of a run.
func (s *Store) Get(id string) (*RunState, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var rs RunState
	if err := ReadJSON(s.runPath(id), &rs); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", id)
		}
		return nil, err
	}
	return &rs, nil
}

// Update performs an atomic read-modify-write of the run state.
func (s *Store) Update(id string, fn func(*RunState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.Get(id)
	if err != nil {
		return err
	}
	fn(rs)
	rs.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return WriteJSON(s.runPath(id), rs)
}

// List returns all runs, newest first, optionally filtered by status.
// Pass "" for statusFilter to return all runs.
func (s *Store) List(statusFilter string) ([]RunState, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []RunState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rs, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || rs.Status == statusFilter {
			runs = append(runs, *rs)
		}
	}

	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt != runs[j].CreatedAt {
			return runs[i].CreatedAt > runs[j].CreatedAt
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	dir := s.RunDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s not found", id)
	}
	return os.RemoveAll(dir)
}

func (s *Store) saveText(id, name, content string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return WriteAtomic(filepath.Join(s.RunDir(id), name), []byte(content))
}

func (s *Store) readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveRequirements stores the requirements text the run started from.
func (s *Store) SaveRequirements(id, text string) error {
	return s.saveText(id, "requirements.md", text)
}

// GetRequirements reads the stored requirements.
func (s *Store) GetRequirements(id string) (string, error) {
	return s.readText(filepath.Join(s.RunDir(id), "requirements.md"))
}

// SaveNarrative stores the free-text plan produced by the planner.
func (s *Store) SaveNarrative(id, narrative string) error {
	return s.saveText(id, "plan.md", narrative)
}

// GetNarrative reads the stored free-text plan.
func (s *Store) GetNarrative(id string) (string, error) {
	return s.readText(filepath.Join(s.RunDir(id), "plan.md"))
}

// SavePlan writes the structured plan as JSON.
func (s *Store) SavePlan(id string, plan interface{}) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return WriteJSON(filepath.Join(s.RunDir(id), "plan.json"), plan)
}

// GetPlan reads the structured plan into v.
func (s *Store) GetPlan(id string, v interface{}) error {
	return ReadJSON(filepath.Join(s.RunDir(id), "plan.json"), v)
}

// SaveScore writes the scoring result as JSON.
func (s *Store) SaveScore(id string, score interface{}) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return WriteJSON(filepath.Join(s.RunDir(id), "score.json"), score)
}

// GetScore reads the scoring result into v.
func (s *Store) GetScore(id string, v interface{}) error {
	return ReadJSON(filepath.Join(s.RunDir(id), "score.json"), v)
}

// SaveTaskFile writes one artifact of task n, e.g. GeneratedFile.
func (s *Store) SaveTaskFile(id string, n int, name, content string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return WriteAtomic(filepath.Join(s.TaskDir(id, n), name), []byte(content))
}

// GetTaskFile reads one artifact of task n.
func (s *Store) GetTaskFile(id string, n int, name string) (string, error) {
	return s.readText(filepath.Join(s.TaskDir(id, n), name))
}
