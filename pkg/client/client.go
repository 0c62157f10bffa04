// Package client is a typed Go client for the Bridge HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hyperengineering/bridge/internal/types"
	"github.com/sethvargo/go-retry"
)

// Defaults for summary retries.
const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 500 * time.Millisecond
	DefaultMaxBackoff  = 10 * time.Second
)

// Config holds the client configuration.
type Config struct {
	BaseURL     string        // Bridge service URL
	HTTPClient  *http.Client  // default: 30s timeout
	MaxAttempts int           // total GenerateSummary attempts (default 3)
	BaseBackoff time.Duration // first retry delay (default 500ms)
	MaxBackoff  time.Duration // cap on a single delay (default 10s)
}

// Client calls the Bridge API. It is safe for concurrent use; the bearer
// token from the last successful Login is sent on authenticated calls.
type Client struct {
	baseURL string
	http    *http.Client
	cfg     Config

	mu    sync.RWMutex
	token string
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		cfg:     cfg,
	}, nil
}

// SetToken sets the bearer token used for authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// CreateUser registers a new account.
func (c *Client) CreateUser(ctx context.Context, name, email, password string) (*types.User, error) {
	var u types.User
	err := c.do(ctx, http.MethodPost, "/create-user", false, types.CreateUserRequest{
		Name: name, Email: email, Password: password,
	}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Login authenticates and stores the returned token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*types.TokenResponse, error) {
	var tok types.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/login", false, types.LoginRequest{Email: email, Password: password}, &tok); err != nil {
		return nil, err
	}
	c.SetToken(tok.AccessToken)
	return &tok, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*types.User, error) {
	var u types.User
	if err := c.do(ctx, http.MethodGet, "/users/me", true, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// LogSymptom appends a symptom to the caller's ledger.
func (c *Client) LogSymptom(ctx context.Context, symptom string) (*types.SymptomEntry, error) {
	var resp types.LogSymptomResponse
	if err := c.do(ctx, http.MethodPost, "/log-symptom", true, types.LogSymptomRequest{Symptom: symptom}, &resp); err != nil {
		return nil, err
	}
	return resp.Entry, nil
}

// ListSymptoms returns the caller's newest entries, oldest first.
// limit <= 0 uses the server default.
func (c *Client) ListSymptoms(ctx context.Context, limit int) ([]types.SymptomEntry, error) {
	path := "/symptoms"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp types.SymptomListResponse
	if err := c.do(ctx, http.MethodGet, path, true, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// GenerateSummary requests a summary, retrying rate-limited and
// unavailable responses with exponential backoff. A server Retry-After
// hint lengthens the wait, up to MaxBackoff.
func (c *Client) GenerateSummary(ctx context.Context, currentSymptoms string) (*types.SummaryResult, error) {
	backoff := retry.NewExponential(c.cfg.BaseBackoff)
	backoff = retry.WithCappedDuration(c.cfg.MaxBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(c.cfg.MaxAttempts-1), backoff)
	hinted := &retryAfterBackoff{next: backoff, max: c.cfg.MaxBackoff}

	var result types.SummaryResult
	err := retry.Do(ctx, hinted, func(ctx context.Context) error {
		err := c.do(ctx, http.MethodPost, "/generate-summary", true,
			types.GenerateSummaryRequest{CurrentSymptoms: currentSymptoms}, &result)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Retryable() {
			hinted.observe(apiErr.RetryAfter)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// retryAfterBackoff stretches the next delay to the last server hint.
type retryAfterBackoff struct {
	next retry.Backoff
	max  time.Duration

	mu   sync.Mutex
	hint time.Duration
}

func (b *retryAfterBackoff) observe(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hint = min(d, b.max)
}

func (b *retryAfterBackoff) Next() (time.Duration, bool) {
	d, stop := b.next.Next()
	if stop {
		return 0, true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d = max(d, b.hint)
	b.hint = 0
	return d, false
}

func (c *Client) do(ctx context.Context, method, path string, authed bool, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if authed {
		if tok := c.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
