package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperengineering/bridge/internal/store"
	"github.com/hyperengineering/bridge/internal/types"
)

// TokenResolver resolves a bearer token to the current user record.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*types.User, error)
}

// Gate authenticates requests from their Authorization header value.
type Gate struct {
	resolver TokenResolver
}

// NewGate creates a Gate over resolver.
func NewGate(resolver TokenResolver) *Gate {
	return &Gate{resolver: resolver}
}

// BearerToken extracts the token from an Authorization header value.
// The scheme is matched case-insensitively per RFC 6750.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// Authenticate resolves credential (an Authorization header value) to a user.
// Missing, malformed, invalid or expired tokens yield ErrUnauthorized; a valid
// token for a deleted user yields store.ErrNotFound.
func (g *Gate) Authenticate(ctx context.Context, credential string) (*types.User, error) {
	token, ok := BearerToken(credential)
	if !ok {
		return nil, ErrUnauthorized
	}

	user, err := g.resolver.ResolveToken(ctx, token)
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, ErrUnknownSubject):
		return nil, fmt.Errorf("token subject: %w", store.ErrNotFound)
	case errors.Is(err, ErrInvalidToken):
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	default:
		return nil, err
	}
}
