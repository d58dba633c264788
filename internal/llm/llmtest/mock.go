// Package llmtest provides a scripted llm.Model for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lucasnoah/codeforge/internal/llm"
)

// Request is one recorded call to the mock.
type Request struct {
	Messages []llm.Message
	Function *llm.Function
}

// System returns the content of the first system message, if any.
func (r Request) System() string {
	for _, m := range r.Messages {
		if m.Role == llm.RoleSystem {
			return m.Content
		}
	}
	return ""
}

// User returns the content of the last user message, if any.
func (r Request) User() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == llm.RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Model is a thread-safe scripted llm.Model.
//
// Usage:
//
//	m := &llmtest.Model{Texts: []string{"first reply", "second reply"}}
//	m := &llmtest.Model{Structured: []json.RawMessage{json.RawMessage(`{"tasks":[]}`)}}
//	m := &llmtest.Model{Err: llm.NewFatalError(errors.New("boom"))}
//
// TextFunc and StructuredFunc take precedence over the queues when set.
type Model struct {
	mu sync.Mutex

	Texts          []string
	Structured     []json.RawMessage
	Err            error
	TextFunc       func(req Request) (string, error)
	StructuredFunc func(req Request) (json.RawMessage, error)

	requests  []Request
	textIdx   int
	structIdx int
}

var _ llm.Model = (*Model)(nil)

// Complete implements llm.Model.
func (m *Model) Complete(_ context.Context, messages []llm.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req := Request{Messages: append([]llm.Message(nil), messages...)}
	m.requests = append(m.requests, req)

	if m.Err != nil {
		return "", m.Err
	}
	if m.TextFunc != nil {
		return m.TextFunc(req)
	}
	if m.textIdx >= len(m.Texts) {
		return "", fmt.Errorf("llmtest: no scripted text reply for call %d", m.textIdx+1)
	}
	out := m.Texts[m.textIdx]
	m.textIdx++
	return out, nil
}

// CompleteStructured implements llm.Model.
func (m *Model) CompleteStructured(_ context.Context, messages []llm.Message, fn llm.Function) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := fn
	req := Request{Messages: append([]llm.Message(nil), messages...), Function: &f}
	m.requests = append(m.requests, req)

	if m.Err != nil {
		return nil, m.Err
	}
	if m.StructuredFunc != nil {
		return m.StructuredFunc(req)
	}
	if m.structIdx >= len(m.Structured) {
		return nil, fmt.Errorf("llmtest: no scripted structured reply for call %d", m.structIdx+1)
	}
	out := m.Structured[m.structIdx]
	m.structIdx++
	return out, nil
}

// Requests returns a copy of every recorded request in call order.
func (m *Model) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// CallCount returns how many calls were made.
func (m *Model) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
