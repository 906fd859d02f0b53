package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// TokenKeyPrefix namespaces session entries in the token store.
const TokenKeyPrefix = "auth_"

// DefaultSessionTTL bounds the lifetime of an issued token.
const DefaultSessionTTL = 24 * time.Hour

const tokenByteLength = 16

// ErrInvalidUserID is returned when issuing a session without a user
// identifier.
var ErrInvalidUserID = errors.New("userID is required")

// IssuerOption configures a SessionIssuer instance.
type IssuerOption func(*SessionIssuer)

// WithSessionTTL overrides the default session lifetime.
func WithSessionTTL(ttl time.Duration) IssuerOption {
	return func(i *SessionIssuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithTokenFactory injects a custom token generator, used by tests.
func WithTokenFactory(factory func() (string, error)) IssuerOption {
	return func(i *SessionIssuer) {
		if factory != nil {
			i.tokenFactory = factory
		}
	}
}

// SessionIssuer mints and revokes opaque session tokens backed by a
// TokenStore.
type SessionIssuer struct {
	tokens       TokenStore
	ttl          time.Duration
	tokenFactory func() (string, error)
}

// NewSessionIssuer constructs a SessionIssuer over the provided token store.
func NewSessionIssuer(tokens TokenStore, opts ...IssuerOption) *SessionIssuer {
	issuer := &SessionIssuer{
		tokens:       tokens,
		ttl:          DefaultSessionTTL,
		tokenFactory: generateToken,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(issuer)
		}
	}
	return issuer
}

// Issue generates a fresh token mapped to userID. Every call produces a
// distinct token, even for the same user.
func (i *SessionIssuer) Issue(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrInvalidUserID
	}
	token, err := i.tokenFactory()
	if err != nil {
		return "", err
	}
	if err := i.tokens.Set(ctx, TokenKeyPrefix+token, userID, i.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve returns the user identifier mapped to token, or false when the
// token is unknown or expired.
func (i *SessionIssuer) Resolve(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	return i.tokens.Get(ctx, TokenKeyPrefix+token)
}

// Revoke deletes the token mapping. Revoking an unknown or expired token is
// a no-op.
func (i *SessionIssuer) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return i.tokens.Delete(ctx, TokenKeyPrefix+token)
}

func generateToken() (string, error) {
	bytes := make([]byte, tokenByteLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
