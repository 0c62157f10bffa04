package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for credential and token operations.
var (
	// ErrAuthenticationFailed covers both unknown email and wrong password.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrInvalidToken is returned for bad signatures, wrong algorithms,
	// malformed tokens and elapsed expiry.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUnknownSubject is returned when a well-formed token names a user
	// that no longer exists. It also matches ErrInvalidToken.
	ErrUnknownSubject = fmt.Errorf("%w: unknown subject", ErrInvalidToken)

	// ErrUnauthorized is the Access Gate's single failure for missing or
	// unusable credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMissingSecret is returned when a TokenIssuer is built without a secret.
	ErrMissingSecret = errors.New("token signing secret is not configured")
)
