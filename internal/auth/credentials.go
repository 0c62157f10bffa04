package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/bridge/internal/store"
	"github.com/hyperengineering/bridge/internal/types"
	"github.com/hyperengineering/bridge/internal/validation"
)

// Credentials is the credential store: registration, password
// verification, and session token issue/resolve.
type Credentials struct {
	users  store.UserStore
	hasher *PasswordHasher
	tokens *TokenIssuer
	logger *slog.Logger
}

// NewCredentials wires the credential store over users.
func NewCredentials(users store.UserStore, hasher *PasswordHasher, tokens *TokenIssuer, logger *slog.Logger) *Credentials {
	if logger == nil {
		logger = slog.Default()
	}
	return &Credentials{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		logger: logger.With("component", "auth"),
	}
}

// Register validates the input, hashes the password and stores the user.
// Returns store.ErrDuplicateEmail when the normalized email is taken.
func (c *Credentials) Register(ctx context.Context, name, email, password string) (*types.User, error) {
	if errs := validation.ValidateCreateUserRequest(types.CreateUserRequest{
		Name:     name,
		Email:    email,
		Password: password,
	}); len(errs) > 0 {
		return nil, validation.Errors(errs)
	}

	hash, err := c.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user, err := c.users.CreateUser(ctx, types.NewUser{
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			c.logger.Info("registration rejected", "action", "register", "reason", "duplicate_email")
		}
		return nil, err
	}

	c.logger.Info("user registered", "action", "register", "user_id", user.ID)
	return user, nil
}

// Verify checks email and password. Unknown email and wrong password both
// yield ErrAuthenticationFailed.
func (c *Credentials) Verify(ctx context.Context, email, password string) (*types.User, error) {
	user, err := c.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.hasher.CompareDummy(password)
			return nil, ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := c.hasher.Compare(user.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAuthenticationFailed
	}
	return user, nil
}

// IssueToken signs a session token for subject.
func (c *Credentials) IssueToken(subject string) (string, time.Time, error) {
	return c.tokens.Issue(subject)
}

// Login verifies the credentials and issues a bearer token.
func (c *Credentials) Login(ctx context.Context, email, password string) (*types.TokenResponse, error) {
	user, err := c.Verify(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			c.logger.Info("login failed", "action", "login")
		}
		return nil, err
	}

	token, expiresAt, err := c.IssueToken(user.ID)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("token issued", "action", "login", "user_id", user.ID)
	return &types.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
	}, nil
}

// ResolveToken verifies the token and loads the current user record.
// A valid token whose subject no longer exists yields ErrUnknownSubject.
func (c *Credentials) ResolveToken(ctx context.Context, token string) (*types.User, error) {
	subject, err := c.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	user, err := c.users.GetUserByID(ctx, subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownSubject
		}
		return nil, fmt.Errorf("lookup token subject: %w", err)
	}
	return user, nil
}
