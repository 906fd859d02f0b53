package auth

import (
	"context"
	"errors"
	"testing"

	"filecrate/internal/storage"
)

func registerTestUser(t *testing.T, repo *storage.MemoryRepository, email, password string) string {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user, err := repo.CreateUser(context.Background(), storage.CreateUserParams{
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user.ID
}

func TestCredentialVerifier(t *testing.T) {
	repo := storage.NewMemoryRepository()
	userID := registerTestUser(t, repo, "alice@x.com", "secretpass")
	verifier := NewCredentialVerifier(repo)

	user, err := verifier.Verify(context.Background(), "alice@x.com", "secretpass")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if user.ID != userID {
		t.Fatalf("expected user %s, got %s", userID, user.ID)
	}

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{name: "wrong password", email: "alice@x.com", password: "wrongpass"},
		{name: "unknown email", email: "bob@x.com", password: "secretpass"},
		{name: "case-sensitive email", email: "Alice@x.com", password: "secretpass"},
		{name: "empty password", email: "alice@x.com", password: ""},
		{name: "empty email", email: "", password: "secretpass"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := verifier.Verify(context.Background(), tc.email, tc.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}
