package auth

import (
	"context"
	"errors"

	"filecrate/internal/models"
	"filecrate/internal/storage"
)

// ErrInvalidCredentials is returned for any authentication failure. Unknown
// emails and wrong passwords are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("invalid credentials")

// CredentialVerifier validates email/password pairs against stored users.
type CredentialVerifier struct {
	users storage.UserStore
}

// NewCredentialVerifier constructs a verifier backed by the provided store.
func NewCredentialVerifier(users storage.UserStore) *CredentialVerifier {
	return &CredentialVerifier{users: users}
}

// Verify returns the matching user when the email exists and the password
// hash matches. Email lookup is exact-match and case-sensitive.
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (models.User, error) {
	if email == "" || password == "" {
		return models.User{}, ErrInvalidCredentials
	}
	user, ok, err := v.users.FindUserByEmail(ctx, email)
	if err != nil {
		return models.User{}, err
	}
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	return user, nil
}
