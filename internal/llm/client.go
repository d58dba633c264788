// Package llm talks to an OpenAI-compatible chat completion service. It offers
// plain text completions and schema-constrained function calls, classifies
// failures as transient or fatal, and retries transient ones with backoff.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// Message roles.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message is one chat message.
type Message struct {
	Role    string
	Content string
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Function describes a callable the model is forced to invoke. Its JSON
// arguments are returned verbatim by CompleteStructured.
type Function struct {
	Name        string
	Description string
	Parameters  jsonschema.Definition
}

// Model is what the agents need from a language model.
type Model interface {
	// Complete returns the assistant's text reply.
	Complete(ctx context.Context, messages []Message) (string, error)
	// CompleteStructured forces a call to fn and returns its raw JSON arguments.
	CompleteStructured(ctx context.Context, messages []Message, fn Function) (json.RawMessage, error)
}

// Config holds everything a Client needs. The API key is passed explicitly;
// the client never reads the environment.
type Config struct {
	// Role labels calls in logs and observations (planner, developer, ...).
	Role        string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// MaxAttempts includes the first attempt.
	MaxAttempts int

	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Call describes one finished model call, across all of its attempts.
type Call struct {
	RequestID        string
	Role             string
	Model            string
	Kind             string // "text" or "structured"
	Attempts         int
	Duration         time.Duration
	PromptTokens     int
	CompletionTokens int
	Err              error
}

// Observer receives a Call after every completion, successful or not.
type Observer interface {
	ObserveCall(Call)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Call)

// ObserveCall calls f(c).
func (f ObserverFunc) ObserveCall(c Call) { f(c) }

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for retries and failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver adds an observer notified after every call.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client implements Model against an OpenAI-compatible endpoint.
type Client struct {
	cfg        Config
	api        *openai.Client
	httpClient *http.Client
	logger     *slog.Logger
	observers  []Observer
}

var _ Model = (*Client)(nil)

// New creates a client. Zero retry settings fall back to a single attempt with
// a two second initial backoff.
func New(cfg Config, opts ...Option) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}

	c := &Client{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if c.httpClient != nil {
		apiCfg.HTTPClient = c.httpClient
	}
	c.api = openai.NewClientWithConfig(apiCfg)
	return c
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Complete sends messages and returns the text of the first choice.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	req := c.request(messages)
	return call(ctx, c, "text", req, func(resp openai.ChatCompletionResponse) (string, error) {
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return "", NewFatalError(ErrEmptyResponse)
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// CompleteStructured forces the model to call fn and returns the arguments it
// produced. The arguments are not decoded here.
func (c *Client) CompleteStructured(ctx context.Context, messages []Message, fn Function) (json.RawMessage, error) {
	req := c.request(messages)
	req.Tools = []openai.Tool{{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  fn.Parameters,
		},
	}}
	req.ToolChoice = openai.ToolChoice{
		Type:     openai.ToolTypeFunction,
		Function: openai.ToolFunction{Name: fn.Name},
	}

	return call(ctx, c, "structured", req, func(resp openai.ChatCompletionResponse) (json.RawMessage, error) {
		if len(resp.Choices) == 0 {
			return nil, NewFatalError(ErrEmptyResponse)
		}
		msg := resp.Choices[0].Message
		for _, tc := range msg.ToolCalls {
			if tc.Function.Name == fn.Name {
				return json.RawMessage(tc.Function.Arguments), nil
			}
		}
		// Some OpenAI-compatible servers ignore tool_choice and answer in content.
		if content := strings.TrimSpace(msg.Content); strings.HasPrefix(content, "{") {
			return json.RawMessage(content), nil
		}
		return nil, NewFatalError(fmt.Errorf("%w: no call to %s", ErrEmptyResponse, fn.Name))
	})
}

func (c *Client) request(messages []Message) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
	}
}

// call runs req with per-attempt timeouts, retrying transient failures with
// exponential backoff. extract turns a response into the result; its errors
// are never retried unless they are transient.
func call[T any](ctx context.Context, c *Client, kind string, req openai.ChatCompletionRequest, extract func(openai.ChatCompletionResponse) (T, error)) (T, error) {
	rec := Call{
		RequestID: uuid.NewString(),
		Role:      c.cfg.Role,
		Model:     c.cfg.Model,
		Kind:      kind,
	}
	start := time.Now()
	logger := c.logger.With("request_id", rec.RequestID, "role", rec.Role, "model", rec.Model, "kind", kind)

	var out T
	op := func() error {
		rec.Attempts++
		attemptCtx := ctx
		if c.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}

		resp, err := c.api.CreateChatCompletion(attemptCtx, req)
		if err != nil {
			// A cancelled parent context is never worth another attempt.
			if ctx.Err() != nil {
				return backoff.Permanent(NewFatalError(fmt.Errorf("model call aborted: %w", ctx.Err())))
			}
			cerr := classify(err)
			if IsTransient(cerr) {
				return cerr
			}
			return backoff.Permanent(cerr)
		}
		rec.PromptTokens += resp.Usage.PromptTokens
		rec.CompletionTokens += resp.Usage.CompletionTokens

		v, err := extract(resp)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = v
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.Backoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		logger.Warn("model call failed, retrying", "attempt", rec.Attempts, "wait", wait, "error", err)
	})
	if err != nil && !IsTransient(err) && !IsFatal(err) {
		// Context expiry between attempts surfaces as a bare context error.
		err = NewFatalError(fmt.Errorf("model call aborted: %w", err))
	}

	rec.Duration = time.Since(start)
	rec.Err = err
	for _, o := range c.observers {
		o.ObserveCall(rec)
	}

	if err != nil {
		logger.Error("model call failed", "attempts", rec.Attempts, "error_kind", Kind(err), "error", err)
		var zero T
		return zero, fmt.Errorf("%s model call (%d attempts): %w", kind, rec.Attempts, err)
	}
	logger.Debug("model call complete", "attempts", rec.Attempts, "duration", rec.Duration,
		"prompt_tokens", rec.PromptTokens, "completion_tokens", rec.CompletionTokens)
	return out, nil
}
