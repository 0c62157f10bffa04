// Package ledger is the append-only symptom history. Every append is
// followed by a best-effort rebuild of the owner's symptom index.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/bridge/internal/metrics"
	"github.com/hyperengineering/bridge/internal/store"
	"github.com/hyperengineering/bridge/internal/types"
	"github.com/hyperengineering/bridge/internal/validation"
)

// ErrEmptySymptom is returned when the symptom text is empty after trimming.
var ErrEmptySymptom = errors.New("symptom text is empty")

// DefaultRebuildTimeout bounds the post-append index rebuild.
const DefaultRebuildTimeout = 30 * time.Second

// Indexer rebuilds a user's symptom index from their full ledger.
type Indexer interface {
	Rebuild(ctx context.Context, userID string) error
}

// Ledger appends and lists symptom entries.
type Ledger struct {
	store          store.SymptomStore
	indexer        Indexer
	metrics        *metrics.Metrics
	logger         *slog.Logger
	now            func() time.Time
	rebuildTimeout time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMetrics counts appended entries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithLogger sets the ledger's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the clock used when Append is given a zero time.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRebuildTimeout overrides DefaultRebuildTimeout.
func WithRebuildTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.rebuildTimeout = d
		}
	}
}

// New creates a Ledger. indexer may be nil, in which case appends do not
// trigger rebuilds.
func New(s store.SymptomStore, indexer Indexer, opts ...Option) *Ledger {
	l := &Ledger{
		store:          s,
		indexer:        indexer,
		logger:         slog.Default(),
		now:            time.Now,
		rebuildTimeout: DefaultRebuildTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")
	return l
}

// Append trims and validates text, records it for userID at the given time
// (now when zero), then rebuilds the user's index. A rebuild failure is
// logged and never fails the append.
func (l *Ledger) Append(ctx context.Context, userID, text string, at time.Time) (*types.SymptomEntry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptySymptom
	}

	var c validation.Collector
	c.Add(validation.ValidateUTF8("symptom", text))
	c.Add(validation.ValidateNoNullBytes("symptom", text))
	c.Add(validation.ValidateMaxLength("symptom", text, validation.MaxSymptomLength))
	if err := c.Err(); err != nil {
		return nil, err
	}

	if at.IsZero() {
		at = l.now()
	}

	entry, err := l.store.AppendSymptom(ctx, userID, text, at)
	if err != nil {
		return nil, err
	}
	l.metrics.SymptomLogged()

	l.rebuild(ctx, userID)
	return entry, nil
}

func (l *Ledger) rebuild(ctx context.Context, userID string) {
	if l.indexer == nil {
		return
	}

	// The entry is committed; finish the rebuild even if the caller goes away.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.rebuildTimeout)
	defer cancel()

	if err := l.indexer.Rebuild(rctx, userID); err != nil {
		l.logger.Warn("index rebuild failed",
			"action", "rebuild",
			"user_id", userID,
			"error", err,
		)
	}
}

// ListForUser returns every entry for userID, oldest first.
func (l *Ledger) ListForUser(ctx context.Context, userID string) ([]types.SymptomEntry, error) {
	return l.store.ListSymptoms(ctx, userID)
}

// ListRecent returns the newest limit entries for userID, oldest first.
// limit is clamped to [1, validation.MaxListLimit]; zero means the default.
func (l *Ledger) ListRecent(ctx context.Context, userID string, limit int) ([]types.SymptomEntry, error) {
	switch {
	case limit <= 0:
		limit = validation.DefaultListLimit
	case limit > validation.MaxListLimit:
		limit = validation.MaxListLimit
	}
	return l.store.ListRecentSymptoms(ctx, userID, limit)
}
