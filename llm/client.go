// Package llm sends chat completions to whichever endpoint the model registry
// resolves for a capability, retrying transient failures and falling back
// along the capability's endpoint chain.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/semthink/model"
	"github.com/google/uuid"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 4 * 1024 * 1024

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // system, user or assistant
	Content string `json:"content"`
}

// Request is a completion request.
type Request struct {
	// Capability selects the endpoint chain. Unknown values fall back to
	// model.CapabilityFast.
	Capability string

	Messages []Message

	// Temperature is left to the endpoint when nil.
	Temperature *float64

	// MaxTokens is left to the endpoint when zero.
	MaxTokens int
}

// TokenUsage reports token counts for a call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completion result.
type Response struct {
	// RequestID identifies the call in logs.
	RequestID    string
	Content      string
	Model        string
	Endpoint     string
	Usage        TokenUsage
	FinishReason string
	Duration     time.Duration
}

// Completer is the part of Client that handlers depend on.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Client is a provider-agnostic completion client.
type Client struct {
	registry   *model.Registry
	httpClient *http.Client
	retry      RetryConfig
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ Completer = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the per-endpoint retry policy.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a client over registry.
func NewClient(registry *model.Registry, opts ...ClientOption) *Client {
	c := &Client{
		registry:   registry,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		retry:      DefaultRetryConfig(),
		logger:     slog.Default(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	return c
}

// Complete sends req to the first healthy endpoint of its capability chain.
// Transient failures are retried with backoff, then the next endpoint is
// tried. A fatal failure stops the chain.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, NewFatalError(fmt.Errorf("at least one message is required"))
	}

	capability := model.ParseCapability(req.Capability)
	if capability == "" {
		capability = model.CapabilityFast
	}

	chain := c.registry.AvailableChain(capability)
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w for capability %s", ErrNoEndpoint, capability)
	}

	requestID := uuid.NewString()
	started := time.Now()

	var lastErr error
	for _, name := range chain {
		ep := c.registry.Endpoint(name)
		if ep == nil {
			c.logger.Debug("Skipping unconfigured endpoint", "endpoint", name)
			continue
		}

		resp, err := c.tryEndpoint(ctx, name, ep, req)
		if err == nil {
			resp.RequestID = requestID
			resp.Endpoint = name
			resp.Duration = time.Since(started)
			c.logger.Debug("LLM completion succeeded",
				"request_id", requestID,
				"capability", capability,
				"endpoint", name,
				"tokens", resp.Usage.TotalTokens,
				"duration", resp.Duration)
			return resp, nil
		}

		lastErr = err
		if IsFatal(err) {
			c.logger.Warn("LLM endpoint rejected request",
				"request_id", requestID,
				"endpoint", name,
				"error", err)
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.logger.Warn("LLM endpoint failed, trying next",
			"request_id", requestID,
			"endpoint", name,
			"provider", ep.Provider,
			"error", err)
	}

	if lastErr == nil {
		return nil, fmt.Errorf("%w for capability %s", ErrNoEndpoint, capability)
	}
	return nil, fmt.Errorf("all endpoints failed for capability %s: %w", capability, lastErr)
}

func (c *Client) tryEndpoint(ctx context.Context, name string, ep *model.EndpointConfig, req Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		resp, err := c.send(ctx, ep, req)
		if err == nil {
			c.registry.MarkSuccess(name)
			return resp, nil
		}
		lastErr = err

		// Fatal errors point at configuration, not endpoint health.
		if IsFatal(err) {
			return nil, err
		}

		if attempt < c.retry.MaxAttempts {
			backoff := c.retry.Backoff(attempt)
			c.logger.Debug("Retrying LLM request",
				"endpoint", name,
				"attempt", attempt,
				"backoff", backoff,
				"error", err)
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}
	}

	c.registry.MarkFailure(name)
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, ep *model.EndpointConfig, req Request) (*Response, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider %q", ep.Provider))
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = ep.MaxTokens
	}

	body, err := provider.BuildRequestBody(ep.Model, req.Messages, req.Temperature, maxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.BuildURL(ep.URL), bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("send request: %w", err))
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyStatus(httpResp.StatusCode, data)
	}

	resp, err := provider.ParseResponse(data)
	if err != nil {
		return nil, NewTransientError(err)
	}
	if resp.Model == "" {
		resp.Model = ep.Model
	}
	return resp, nil
}

// classifyStatus maps a non-200 status to a transient or fatal error.
func classifyStatus(status int, body []byte) error {
	text := string(body)
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	err := fmt.Errorf("LLM API error (status %d): %s", status, text)

	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		return NewTransientError(err)
	}
	return NewFatalError(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
