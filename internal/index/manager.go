package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/bridge/internal/metrics"
	"github.com/hyperengineering/bridge/internal/types"
)

// SnapshotSource reads a user's full ledger, oldest first.
type SnapshotSource interface {
	ListSymptoms(ctx context.Context, userID string) ([]types.SymptomEntry, error)
}

// userIndex is immutable once published. A stale index is still served
// but may miss entries committed since it was built.
type userIndex struct {
	entries []types.SymptomEntry
	handle  Handle
	builtAt time.Time
	model   string
	stale   bool
}

// Manager owns one index per user. Rebuilds for the same user are
// serialized; rebuilds for different users run concurrently.
type Manager struct {
	backend Backend
	source  SnapshotSource
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	indexes map[string]*userIndex

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMetrics records rebuild counts and latency.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(mgr *Manager) {
		mgr.logger = l
	}
}

// NewManager creates an index manager over source.
func NewManager(backend Backend, source SnapshotSource, opts ...ManagerOption) *Manager {
	m := &Manager{
		backend: backend,
		source:  source,
		logger:  slog.Default(),
		now:     time.Now,
		indexes: make(map[string]*userIndex),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "index")
	return m
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// Rebuild reads the user's full ledger and replaces their index. The
// snapshot is read while holding the user's lock, so the last rebuild to
// finish always covers every entry committed before it started.
func (m *Manager) Rebuild(ctx context.Context, userID string) (err error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	defer func() {
		m.metrics.ObserveRebuild(err, time.Since(start))
		if err != nil {
			m.markStale(userID)
		}
	}()

	entries, err := m.source.ListSymptoms(ctx, userID)
	if err != nil {
		return fmt.Errorf("read ledger snapshot: %w", err)
	}

	corpus := make([]string, len(entries))
	for i, e := range entries {
		corpus[i] = e.Text
	}

	handle, err := m.backend.Build(ctx, corpus)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	next := &userIndex{
		entries: entries,
		handle:  handle,
		builtAt: m.now().UTC(),
		model:   m.backend.Model(),
	}

	m.mu.Lock()
	m.indexes[userID] = next
	m.mu.Unlock()

	m.logger.Debug("index rebuilt",
		"action", "rebuild",
		"user_id", userID,
		"entries", len(entries),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// markStale flags the user's published index so the next Ensure rebuilds it.
func (m *Manager) markStale(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.indexes[userID]
	if !ok || idx.stale {
		return
	}
	next := *idx
	next.stale = true
	m.indexes[userID] = &next
}

// Query returns the user's entries most relevant to text, best first.
// A user with no index yet gets an empty result.
func (m *Manager) Query(ctx context.Context, userID, text string) ([]types.RetrievedEntry, error) {
	return m.QueryTopK(ctx, userID, text, 0)
}

// QueryTopK is Query with an explicit result bound; k <= 0 uses the backend default.
func (m *Manager) QueryTopK(ctx context.Context, userID, text string, k int) ([]types.RetrievedEntry, error) {
	m.mu.RLock()
	idx := m.indexes[userID]
	m.mu.RUnlock()

	if idx == nil || idx.handle.Len() == 0 {
		return []types.RetrievedEntry{}, nil
	}

	hits, err := m.backend.Search(ctx, idx.handle, text, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	out := make([]types.RetrievedEntry, 0, len(hits))
	for _, h := range hits {
		if h.Position < 0 || h.Position >= len(idx.entries) {
			continue
		}
		out = append(out, types.RetrievedEntry{
			SymptomEntry: idx.entries[h.Position],
			Score:        h.Score,
		})
	}
	return out, nil
}

// Ensure builds the user's index if none has been published since startup
// or the last rebuild failed. Indexes live in memory only, so the first
// query after a restart needs it.
func (m *Manager) Ensure(ctx context.Context, userID string) error {
	if m.Has(userID) && !m.Stale(userID) {
		return nil
	}
	return m.Rebuild(ctx, userID)
}

// Stale reports whether the user's published index missed a rebuild.
func (m *Manager) Stale(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[userID]
	return ok && idx.stale
}

// Has reports whether the user has a published index.
func (m *Manager) Has(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.indexes[userID]
	return ok
}

// BuiltAt returns when the user's index was last published.
func (m *Manager) BuiltAt(userID string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[userID]
	if !ok {
		return time.Time{}, false
	}
	return idx.builtAt, true
}

// Drop discards the user's index.
func (m *Manager) Drop(userID string) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	delete(m.indexes, userID)
	m.mu.Unlock()
}

// Stats summarizes the published indexes.
func (m *Manager) Stats() types.IndexStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := types.IndexStats{Users: len(m.indexes)}
	for _, idx := range m.indexes {
		stats.Entries += len(idx.entries)
	}
	return stats
}

// Model names the embedding model used for new builds.
func (m *Manager) Model() string {
	return m.backend.Model()
}
