package storage

import (
	"context"
	"errors"

	"filecrate/internal/models"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned when creating a user with an email that is
// already registered.
var ErrEmailTaken = errors.New("email is already registered")

var errEmailRequired = errors.New("email is required")

// CreateUserParams carries the fields required to persist a new user. The
// password must already be hashed by the caller.
type CreateUserParams struct {
	Email        string
	PasswordHash string
}

// CreateFileParams carries the fields required to persist a file record.
type CreateFileParams struct {
	OwnerID     string
	Filename    string
	LocalPath   string
	ContentType string
	Size        int64
}

// UserStore provides access to persisted user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)
	FindUserByEmail(ctx context.Context, email string) (models.User, bool, error)
	GetUser(ctx context.Context, id string) (models.User, bool, error)
	CountUsers(ctx context.Context) (int, error)
}

// FileStore provides access to persisted file records.
type FileStore interface {
	CreateFile(ctx context.Context, params CreateFileParams) (models.FileRecord, error)
	FindFileByIDAndOwner(ctx context.Context, fileID, ownerID string) (models.FileRecord, bool, error)
}

// Repository combines the stores backing the API and worker processes.
type Repository interface {
	UserStore
	FileStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
