// Package completion calls an OpenAI-compatible chat completions endpoint
// and maps its failures onto a fixed set of error kinds.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultMaxTokens bounds the completion length.
	DefaultMaxTokens = 500

	// maxErrorBody bounds how much of a failed response is read for logs.
	maxErrorBody = 4 * 1024

	// maxResponseBody bounds a successful response body.
	maxResponseBody = 1 << 20
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config configures a Client.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

// Client posts chat completion requests.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a completion client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		// Deadlines come from the caller's context.
		httpClient: &http.Client{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "completion")
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends messages and returns the first choice's content. Errors
// match ErrUpstreamRejected, ErrRateLimited or ErrUpstreamUnavailable.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &UpstreamError{Kind: ErrUpstreamUnavailable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("completion request failed",
			"action", "complete",
			"error", err,
			"timeout", errors.Is(err, context.DeadlineExceeded),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return "", &UpstreamError{Kind: ErrUpstreamUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.statusError(resp)
	}

	var decoded chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&decoded); err != nil {
		c.logger.Warn("malformed completion response", "action", "complete", "error", err)
		return "", &UpstreamError{Kind: ErrUpstreamUnavailable, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		c.logger.Warn("empty completion response", "action", "complete")
		return "", &UpstreamError{Kind: ErrUpstreamUnavailable, StatusCode: resp.StatusCode, Err: errors.New("response has no content")}
	}

	c.logger.Debug("completion received",
		"action", "complete",
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return decoded.Choices[0].Message.Content, nil
}

func (c *Client) statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	ue := &UpstreamError{
		Kind:       kindForStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
	}
	if ue.Kind == ErrRateLimited {
		ue.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
	}

	attrs := []any{"action", "complete", "status", resp.StatusCode}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		c.logger.Error("completion service refused credentials; check the configured API key", attrs...)
	default:
		c.logger.Warn("completion service returned an error", attrs...)
	}
	c.logger.Debug("completion error body", "action", "complete", "body", strings.TrimSpace(string(snippet)))

	return ue
}
