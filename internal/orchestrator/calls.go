package orchestrator

import (
	"log/slog"
	"sync"

	"github.com/lucasnoah/codeforge/internal/db"
	"github.com/lucasnoah/codeforge/internal/llm"
	"github.com/lucasnoah/codeforge/internal/metrics"
)

// CallSink stores model call records. *db.DB implements it.
type CallSink interface {
	LogLLMCall(c db.LLMCall) error
}

// CallLog is the llm.Observer shared by every model client. It tags each call
// with the run that is currently active and forwards it to the event log and
// metrics.
type CallLog struct {
	mu      sync.Mutex
	runID   string
	sink    CallSink
	metrics *metrics.Recorder
	logger  *slog.Logger
}

var _ llm.Observer = (*CallLog)(nil)

// NewCallLog creates a call log. sink and m may be nil.
func NewCallLog(sink CallSink, m *metrics.Recorder, logger *slog.Logger) *CallLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallLog{sink: sink, metrics: m, logger: logger}
}

// SetRun sets the run subsequent calls belong to.
func (c *CallLog) SetRun(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runID = id
}

// ObserveCall implements llm.Observer.
func (c *CallLog) ObserveCall(call llm.Call) {
	c.mu.Lock()
	runID := c.runID
	c.mu.Unlock()

	c.metrics.ObserveCall(call)
	if c.sink == nil || runID == "" {
		return
	}
	row := db.LLMCall{
		RunID:            runID,
		RequestID:        call.RequestID,
		Role:             call.Role,
		Model:            call.Model,
		Kind:             call.Kind,
		Attempts:         call.Attempts,
		DurationMs:       int(call.Duration.Milliseconds()),
		PromptTokens:     call.PromptTokens,
		CompletionTokens: call.CompletionTokens,
		Status:           llm.Kind(call.Err),
	}
	if call.Err != nil {
		row.Error = call.Err.Error()
	}
	if err := c.sink.LogLLMCall(row); err != nil {
		c.logger.Warn("bookkeeping write failed", "what", "llm call", "run", runID, "error", err)
	}
}
