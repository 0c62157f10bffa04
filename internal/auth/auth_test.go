package auth

import (
	"context"
	"sync"
	"time"

	"github.com/hyperengineering/bridge/internal/store"
	"github.com/hyperengineering/bridge/internal/types"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret-do-not-use"

// memUserStore is an in-memory store.UserStore for tests.
type memUserStore struct {
	mu    sync.Mutex
	byID  map[string]*types.User
	calls int
}

func newMemUserStore() *memUserStore {
	return &memUserStore{byID: make(map[string]*types.User)}
}

func (m *memUserStore) CreateUser(ctx context.Context, u types.NewUser) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := types.NormalizeEmail(u.Email)
	for _, existing := range m.byID {
		if existing.Email == email {
			return nil, store.ErrDuplicateEmail
		}
	}
	user := &types.User{
		ID:           ulid.Make().String(),
		Name:         u.Name,
		Email:        email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	m.byID[user.ID] = user
	return user, nil
}

func (m *memUserStore) GetUserByID(ctx context.Context, id string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	u, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memUserStore) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = types.NormalizeEmail(email)
	for _, u := range m.byID {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memUserStore) delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
}

// fakeClock is a settable whole-second clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCredentials(clock *fakeClock) (*Credentials, *memUserStore) {
	users := newMemUserStore()
	tokens, err := NewTokenIssuer(testSecret, WithTokenClock(clock.Now))
	if err != nil {
		panic(err)
	}
	return NewCredentials(users, NewPasswordHasher(bcrypt.MinCost), tokens, nil), users
}
