package pipeline

// Run statuses.
const (
	StatusPending            = "pending"
	StatusPlanning           = "planning"
	StatusCoding             = "coding"
	StatusScoring            = "scoring"
	StatusCompleted          = "completed"
	StatusFailed             = "failed"
	StatusScoringUnavailable = "scoring_unavailable"
)

// Statuses lists every run status in lifecycle order.
var Statuses = []string{
	StatusPending, StatusPlanning, StatusCoding, StatusScoring,
	StatusCompleted, StatusFailed, StatusScoringUnavailable,
}

// RunState is the top-level persisted state for a single forge run.
type RunState struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Source      string             `json:"source"`
	Status      string             `json:"status"`
	Stage       string             `json:"stage"`
	TaskCount   int                `json:"task_count"`
	CurrentTask int                `json:"current_task"`
	Filename    string             `json:"filename,omitempty"`
	OutputPath  string             `json:"output_path,omitempty"`
	Reward      *float64           `json:"reward,omitempty"`
	Penalty     *float64           `json:"penalty,omitempty"`
	Error       string             `json:"error,omitempty"`
	TaskHistory []TaskHistoryEntry `json:"task_history"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at"`
}

// Finished reports whether the run reached a terminal status.
func (r *RunState) Finished() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusScoringUnavailable:
		return true
	}
	return false
}

// TaskHistoryEntry records one completed generate/review cycle.
type TaskHistoryEntry struct {
	Task             int    `json:"task"`
	Description      string `json:"description"`
	Filename         string `json:"filename"`
	GenerateDuration string `json:"generate_duration"`
	ReviewDuration   string `json:"review_duration"`
	Changed          bool   `json:"changed"` // reviewer altered the generated file
}

// Task artifact file names, stored under tasks/<n>/.
const (
	GeneratePromptFile = "generate-prompt.md"
	GeneratedFile      = "generated.txt"
	ReviewPromptFile   = "review-prompt.md"
	ReviewedFile       = "reviewed.txt"
)
