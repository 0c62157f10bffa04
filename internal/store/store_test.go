package store

import (
	"context"
	"time"

	"github.com/hyperengineering/bridge/internal/types"
)

// mockStore is a compile-time check that the Store interface can be implemented.
type mockStore struct{}

var (
	_ Store = (*mockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

func (m *mockStore) CreateUser(ctx context.Context, u types.NewUser) (*types.User, error) {
	return nil, nil
}
func (m *mockStore) GetUserByID(ctx context.Context, id string) (*types.User, error) {
	return nil, nil
}
func (m *mockStore) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	return nil, nil
}
func (m *mockStore) AppendSymptom(ctx context.Context, userID, text string, loggedAt time.Time) (*types.SymptomEntry, error) {
	return nil, nil
}
func (m *mockStore) ListSymptoms(ctx context.Context, userID string) ([]types.SymptomEntry, error) {
	return nil, nil
}
func (m *mockStore) ListRecentSymptoms(ctx context.Context, userID string, limit int) ([]types.SymptomEntry, error) {
	return nil, nil
}
func (m *mockStore) GetStats(ctx context.Context) (*types.StoreStats, error) {
	return nil, nil
}
func (m *mockStore) SchemaVersion(ctx context.Context) (int64, error) {
	return 0, nil
}
func (m *mockStore) Close() error {
	return nil
}
