package store

import (
	"context"
	"time"

	"github.com/hyperengineering/bridge/internal/types"
)

// UserStore persists registered users.
type UserStore interface {
	CreateUser(ctx context.Context, u types.NewUser) (*types.User, error)
	GetUserByID(ctx context.Context, id string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
}

// SymptomStore is the append-only symptom ledger backing store.
type SymptomStore interface {
	AppendSymptom(ctx context.Context, userID, text string, loggedAt time.Time) (*types.SymptomEntry, error)
	ListSymptoms(ctx context.Context, userID string) ([]types.SymptomEntry, error)
	ListRecentSymptoms(ctx context.Context, userID string, limit int) ([]types.SymptomEntry, error)
}

// Store defines the interface contract for all Bridge storage operations.
type Store interface {
	UserStore
	SymptomStore
	GetStats(ctx context.Context) (*types.StoreStats, error)
	SchemaVersion(ctx context.Context) (int64, error)
	Close() error
}
