// Package llm talks to the local LLM runtime. Every call is bounded by the
// configured timeout and every failure surfaces as an
// errs.LLMUnavailableError, so callers can tell "no answer" from "empty
// answer".
package llm

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hazyhaar/dbmcp/internal/config"
	"github.com/hazyhaar/dbmcp/internal/errs"
)

// Message represents a chat message (system/user/assistant).
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// Response is a provider-agnostic completion response.
type Response struct {
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Content      string        `json:"content"`
	TokensIn     int           `json:"tokens_in"`
	TokensOut    int           `json:"tokens_out"`
	FinishReason string        `json:"finish_reason"`
	Latency      time.Duration `json:"latency_ms"`
}

// Provider is a single LLM API backend.
type Provider interface {
	// Name returns the provider identifier (e.g. "ollama").
	Name() string
	// Complete sends a chat completion request and returns the response.
	Complete(ctx context.Context, req Request) (*Response, error)
	// ListModels returns the model IDs the backend can serve.
	ListModels(ctx context.Context) ([]string, error)
}

// Recorder persists per-call metrics.
type Recorder interface {
	RecordLLMCall(ctx context.Context, provider, model string, tokensIn, tokensOut int, latency time.Duration, err error)
}

// Client applies the default model and the timeout to a Provider.
type Client struct {
	provider     Provider
	defaultModel string
	timeout      time.Duration
	recorder     Recorder
}

// Option configures a Client.
type Option func(*Client)

// WithRecorder persists every call through r.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

func New(p Provider, defaultModel string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{provider: p, defaultModel: defaultModel, timeout: timeout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewFromConfig builds a Client backed by the Ollama provider.
func NewFromConfig(cfg config.LLMConfig, opts ...Option) *Client {
	p := NewOllamaProvider(OllamaConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
	})
	return New(p, cfg.DefaultModel, cfg.Timeout(), opts...)
}

// Complete sends req, falling back to the default model.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		req.Model = c.defaultModel
	}
	if req.Model == "" {
		return nil, errs.LLMUnavailable("", &ProviderError{Provider: c.provider.Name(), Err: ErrNoModel})
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()

	start := time.Now()
	resp, err := c.provider.Complete(ctx, req)
	err = c.classify(ctx, err)
	if c.recorder != nil {
		var in, out int
		if resp != nil {
			in, out = resp.TokensIn, resp.TokensOut
		}
		c.recorder.RecordLLMCall(ctx, c.provider.Name(), req.Model, in, out, time.Since(start), err)
	}
	if err != nil {
		return nil, errs.LLMUnavailable(req.Model, err)
	}
	return resp, nil
}

// Generate sends a single user prompt and returns the completion text.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.Complete(ctx, Request{
		Model:    model,
		Messages: []Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// ListModels returns the models the runtime reports.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	models, err := c.provider.ListModels(ctx)
	if err := c.classify(ctx, err); err != nil {
		return nil, errs.LLMUnavailable("", err)
	}
	return models, nil
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// classify marks deadline expiry so the message names the bound.
func (c *Client) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Mark(errors.Wrapf(err, "no response within %s", c.timeout), ErrTimeout)
	}
	return err
}
