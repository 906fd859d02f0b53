package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"filecrate/internal/models"
)

// MemoryRepository keeps users and file records in process memory. It is safe
// for concurrent use and intended for tests and single-instance development.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]models.User
	files map[string]models.FileRecord
}

// NewMemoryRepository constructs an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users: make(map[string]models.User),
		files: make(map[string]models.FileRecord),
	}
}

// CreateUser persists a new user and assigns its identifier.
func (r *MemoryRepository) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	email := strings.TrimSpace(params.Email)
	if email == "" {
		return models.User{}, errEmailRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Email == email {
			return models.User{}, ErrEmailTaken
		}
	}
	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}
	user := models.User{
		ID:           id,
		Email:        email,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	r.users[id] = user
	return user, nil
}

// FindUserByEmail looks up a user by exact email match.
func (r *MemoryRepository) FindUserByEmail(ctx context.Context, email string) (models.User, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, true, nil
		}
	}
	return models.User{}, false, nil
}

// GetUser retrieves a user by identifier.
func (r *MemoryRepository) GetUser(ctx context.Context, id string) (models.User, bool, error) {
	r.mu.RLock()
	user, ok := r.users[id]
	r.mu.RUnlock()
	return user, ok, nil
}

// CountUsers reports the number of registered users.
func (r *MemoryRepository) CountUsers(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}

// CreateFile persists a new file record and assigns its identifier.
func (r *MemoryRepository) CreateFile(ctx context.Context, params CreateFileParams) (models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := generateID()
	if err != nil {
		return models.FileRecord{}, err
	}
	record := models.FileRecord{
		ID:          id,
		OwnerID:     params.OwnerID,
		Filename:    params.Filename,
		LocalPath:   params.LocalPath,
		ContentType: params.ContentType,
		Size:        params.Size,
		CreatedAt:   time.Now().UTC(),
	}
	r.files[id] = record
	return record, nil
}

// FindFileByIDAndOwner retrieves a file record scoped to its owner.
func (r *MemoryRepository) FindFileByIDAndOwner(ctx context.Context, fileID, ownerID string) (models.FileRecord, bool, error) {
	r.mu.RLock()
	record, ok := r.files[fileID]
	r.mu.RUnlock()
	if !ok || record.OwnerID != ownerID {
		return models.FileRecord{}, false, nil
	}
	return record, true, nil
}

// Ping always reports success for the in-memory repository.
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// Close releases nothing for the in-memory repository.
func (r *MemoryRepository) Close(ctx context.Context) error {
	return nil
}
