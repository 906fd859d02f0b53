package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "pbkdf2$sha256$") {
		t.Fatalf("unexpected hash format: %q", hash)
	}
	if err := VerifyPassword(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("expected matching password to verify, got %v", err)
	}
	if err := VerifyPassword(hash, "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestHashPasswordSaltsDiffer(t *testing.T) {
	first, err := HashPassword("secret-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	second, err := HashPassword("secret-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct salts to produce distinct hashes")
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	cases := []struct {
		name string
		hash string
	}{
		{name: "empty", hash: ""},
		{name: "wrong part count", hash: "pbkdf2$sha256$1000"},
		{name: "unknown algorithm", hash: "scrypt$sha256$1000$c2FsdA$a2V5"},
		{name: "bad iterations", hash: "pbkdf2$sha256$zero$c2FsdA$a2V5"},
		{name: "bad salt encoding", hash: "pbkdf2$sha256$1000$!!$a2V5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifyPassword(tc.hash, "candidate")
			if err == nil {
				t.Fatal("expected error for malformed hash")
			}
			if errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("malformed hash should not map to ErrInvalidCredentials, got %v", err)
			}
		})
	}
}
