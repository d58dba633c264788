package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, true},
		{"server error", &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}, true},
		{"unauthorized", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}, false},
		{"bad request", &openai.APIError{HTTPStatusCode: 400, Message: "bad"}, false},
		{"raw 502", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, true},
		{"raw 404", &openai.RequestError{HTTPStatusCode: 404, Err: errors.New("not found")}, false},
		{"attempt timeout", fmt.Errorf("post: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"unknown", errors.New("something odd"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.transient, IsTransient(got))
			assert.Equal(t, !tt.transient, IsFatal(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_KeepsExistingKind(t *testing.T) {
	fatal := NewFatalError(errors.New("x"))
	assert.Same(t, fatal, classify(fatal))
	assert.Nil(t, classify(nil))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "ok", Kind(nil))
	assert.Equal(t, "transient", Kind(NewTransientError(errors.New("x"))))
	assert.Equal(t, "fatal", Kind(fmt.Errorf("wrapped: %w", NewFatalError(errors.New("x")))))
	assert.Equal(t, "error", Kind(errors.New("x")))
}
