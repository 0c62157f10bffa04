// Package summary composes a doctor-facing summary from a user's current
// symptoms and the most relevant entries of their history.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/bridge/internal/completion"
	"github.com/hyperengineering/bridge/internal/metrics"
	"github.com/hyperengineering/bridge/internal/types"
	"github.com/hyperengineering/bridge/internal/validation"
)

// ErrEmptyInput is returned when the current symptom text is empty.
var ErrEmptyInput = errors.New("current symptoms are empty")

// DefaultTimeout bounds the upstream completion call.
const DefaultTimeout = 30 * time.Second

const (
	historyHeader = "--- HISTORICAL SYMPTOMS ---"
	historyFooter = "--- END HISTORICAL SYMPTOMS ---"
	historyEmpty  = "(none recorded)"

	systemPrompt = "You are a clinical assistant preparing a concise summary for a doctor. " +
		"Summarize the patient's current symptoms and relate them to the relevant history provided. " +
		"Do not diagnose. Note durations, recurrences and changes where the history shows them."
)

// Retriever returns the user's entries most relevant to text.
type Retriever interface {
	Query(ctx context.Context, userID, text string) ([]types.RetrievedEntry, error)
}

// Completer sends chat messages to the completion service.
type Completer interface {
	Complete(ctx context.Context, messages []completion.Message) (string, error)
	Model() string
}

// Composer builds prompts and delegates to the completion service.
type Composer struct {
	retriever Retriever
	completer Completer
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Composer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics records request outcomes and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Composer) { c.metrics = m }
}

// WithLogger sets the composer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Composer) { c.logger = l }
}

// NewComposer creates a Composer.
func NewComposer(retriever Retriever, completer Completer, opts ...Option) *Composer {
	c := &Composer{
		retriever: retriever,
		completer: completer,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "summary")
	return c
}

// Compose retrieves relevant history for userID, builds the prompt, and
// returns the upstream summary. Upstream failures are returned as the
// completion package's error kinds; nothing is retried here.
func (c *Composer) Compose(ctx context.Context, userID, currentText string) (result *types.SummaryResult, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveSummary(outcome(err), time.Since(start)) }()

	currentText = strings.TrimSpace(currentText)
	if currentText == "" {
		return nil, ErrEmptyInput
	}
	var v validation.Collector
	v.Add(validation.ValidateUTF8("current_symptoms", currentText))
	v.Add(validation.ValidateNoNullBytes("current_symptoms", currentText))
	v.Add(validation.ValidateMaxLength("current_symptoms", currentText, validation.MaxCurrentLength))
	if err := v.Err(); err != nil {
		return nil, err
	}

	retrieved, err := c.retriever.Query(ctx, userID, currentText)
	if err != nil {
		return nil, fmt.Errorf("query symptom index: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	summary, err := c.completer.Complete(cctx, BuildMessages(currentText, retrieved))
	if err != nil {
		c.logger.Warn("summary generation failed",
			"action", "compose",
			"user_id", userID,
			"retrieved", len(retrieved),
			"error", err,
		)
		return nil, err
	}

	c.logger.Info("summary generated",
		"action", "compose",
		"user_id", userID,
		"retrieved", len(retrieved),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &types.SummaryResult{
		Summary:   strings.TrimSpace(summary),
		Retrieved: retrieved,
		Model:     c.completer.Model(),
	}, nil
}

// BuildMessages returns the system and user messages for a summary request.
func BuildMessages(currentText string, retrieved []types.RetrievedEntry) []completion.Message {
	return []completion.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: BuildPrompt(currentText, retrieved)},
	}
}

// BuildPrompt renders the current text followed by the delimited history block.
func BuildPrompt(currentText string, retrieved []types.RetrievedEntry) string {
	var b strings.Builder
	b.WriteString(currentText)
	b.WriteString("\n\n")
	b.WriteString(historyHeader)
	b.WriteString("\n")
	if len(retrieved) == 0 {
		b.WriteString(historyEmpty)
		b.WriteString("\n")
	}
	for _, e := range retrieved {
		fmt.Fprintf(&b, "- [%s] %s\n", e.LoggedAt.UTC().Format(time.DateOnly), e.Text)
	}
	b.WriteString(historyFooter)
	return b.String()
}

func outcome(err error) string {
	var verrs validation.Errors
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrEmptyInput), errors.As(err, &verrs):
		return metrics.OutcomeInvalid
	case errors.Is(err, completion.ErrRateLimited):
		return metrics.OutcomeRateLimited
	case errors.Is(err, completion.ErrUpstreamRejected):
		return metrics.OutcomeUpstreamRejected
	case errors.Is(err, completion.ErrUpstreamUnavailable):
		return metrics.OutcomeUpstreamUnavailable
	default:
		return metrics.OutcomeError
	}
}
