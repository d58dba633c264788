package stage

import "fmt"

// Pipeline stage names, as used in errors, events and metrics.
const (
	StagePlan     = "plan"
	StageExtract  = "extract"
	StageGenerate = "generate"
	StageReview   = "review"
	StageWrite    = "write"
	StageScore    = "score"
)

// Error attributes a failure to the stage and, for per-task stages, the
// 1-based task index it happened in.
type Error struct {
	Stage string
	Task  int
	Err   error
}

func (e *Error) Error() string {
	if e.Task > 0 {
		return fmt.Sprintf("%s (task %d): %v", e.Stage, e.Task, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
