package models

import "time"

// User is an account registered with the API. The password is only ever
// stored as a one-way hash.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// FileRecord describes an uploaded file owned by a user. LocalPath points at
// the stored original on disk; thumbnail artifacts are written beside it.
type FileRecord struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Filename    string    `json:"filename"`
	LocalPath   string    `json:"localPath"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Job lifecycle states reported by queue implementations.
const (
	JobStatusPending   = "pending"
	JobStatusActive    = "active"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)
