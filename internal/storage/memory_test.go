package storage

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryRepositoryUsers(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, CreateUserParams{Email: "alice@x.com", PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected generated user id")
	}
	if user.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}

	got, ok, err := repo.GetUser(ctx, user.ID)
	if err != nil || !ok {
		t.Fatalf("GetUser: ok=%v err=%v", ok, err)
	}
	if got.Email != "alice@x.com" || got.PasswordHash != "hash" {
		t.Fatalf("unexpected user: %+v", got)
	}

	byEmail, ok, err := repo.FindUserByEmail(ctx, "alice@x.com")
	if err != nil || !ok {
		t.Fatalf("FindUserByEmail: ok=%v err=%v", ok, err)
	}
	if byEmail.ID != user.ID {
		t.Fatalf("expected id %s, got %s", user.ID, byEmail.ID)
	}

	if _, ok, _ := repo.FindUserByEmail(ctx, "ALICE@x.com"); ok {
		t.Fatal("email lookup must be exact match")
	}

	count, err := repo.CountUsers(ctx)
	if err != nil {
		t.Fatalf("CountUsers: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 user, got %d", count)
	}
}

func TestMemoryRepositoryRejectsDuplicateEmail(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.CreateUser(ctx, CreateUserParams{Email: "alice@x.com", PasswordHash: "hash"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	_, err := repo.CreateUser(ctx, CreateUserParams{Email: "alice@x.com", PasswordHash: "other"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestMemoryRepositoryRequiresEmail(t *testing.T) {
	repo := NewMemoryRepository()
	if _, err := repo.CreateUser(context.Background(), CreateUserParams{Email: "   "}); err == nil {
		t.Fatal("expected error for blank email")
	}
}

func TestMemoryRepositoryFiles(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	record, err := repo.CreateFile(ctx, CreateFileParams{
		OwnerID:     "owner-1",
		Filename:    "photo.png",
		LocalPath:   "/data/uploads/photo.png",
		ContentType: "image/png",
		Size:        2048,
	})
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if record.ID == "" {
		t.Fatal("expected generated file id")
	}

	got, ok, err := repo.FindFileByIDAndOwner(ctx, record.ID, "owner-1")
	if err != nil || !ok {
		t.Fatalf("FindFileByIDAndOwner: ok=%v err=%v", ok, err)
	}
	if got.LocalPath != "/data/uploads/photo.png" {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Another owner must not see the record.
	if _, ok, _ := repo.FindFileByIDAndOwner(ctx, record.ID, "owner-2"); ok {
		t.Fatal("file lookup must be owner scoped")
	}
	if _, ok, _ := repo.FindFileByIDAndOwner(ctx, "missing", "owner-1"); ok {
		t.Fatal("expected miss for unknown file id")
	}
}
