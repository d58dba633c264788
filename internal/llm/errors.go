package llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when the model answers without usable content.
var ErrEmptyResponse = errors.New("empty model response")

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// Kind names the error class for logs and metrics labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsTransient(err):
		return "transient"
	case IsFatal(err):
		return "fatal"
	default:
		return "error"
	}
}

// classify sorts an error from the chat completion API into transient or fatal.
// Rate limits, server errors, attempt timeouts and network failures are transient.
// Everything else (bad request, auth, unknown model) is fatal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsFatal(err) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return byStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return byStatus(reqErr.HTTPStatusCode, err)
	}

	if errors.Is(err, context.Canceled) {
		return NewFatalError(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewTransientError(err)
	}
	return NewFatalError(err)
}

func byStatus(status int, err error) error {
	switch {
	case status == 0:
		return NewTransientError(err)
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return NewTransientError(err)
	case status >= 500:
		return NewTransientError(err)
	default:
		return NewFatalError(err)
	}
}
