// Package api implements the HTTP handlers and authentication middleware of
// the file-management API.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"filecrate/internal/auth"
	"filecrate/internal/queue"
	"filecrate/internal/storage"
)

// Handler bundles the collaborators behind the HTTP surface. All fields are
// injected; there is no process-wide state.
type Handler struct {
	Store    storage.Repository
	Verifier *auth.CredentialVerifier
	Sessions *auth.SessionIssuer
	Queue    queue.Queue
	Logger   *slog.Logger
}

// NewHandler constructs the API handler set.
func NewHandler(store storage.Repository, verifier *auth.CredentialVerifier, sessions *auth.SessionIssuer, jobQueue queue.Queue, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:    store,
		Verifier: verifier,
		Sessions: sessions,
		Queue:    jobQueue,
		Logger:   logger,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Register creates a new account and enqueues the welcome email job.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, errors.New("email is required"))
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, errors.New("password is required"))
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("unable to create account"))
		return
	}
	user, err := h.Store.CreateUser(r.Context(), storage.CreateUserParams{
		Email:        req.Email,
		PasswordHash: hashed,
	})
	if err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			writeError(w, http.StatusBadRequest, storage.ErrEmailTaken)
			return
		}
		h.Logger.Error("register create user failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("unable to create account"))
		return
	}

	if err := h.Queue.Enqueue(r.Context(), queue.QueueEmail, map[string]string{"userId": user.ID}); err != nil {
		h.Logger.Error("welcome email enqueue failed", "user_id", user.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, registerResponse{ID: user.ID, Email: user.Email})
}

type connectResponse struct {
	Token string `json:"token"`
}

// Connect issues a session token for the Basic-authenticated user. It must
// be wired behind RequireBasic.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthenticated)
		return
	}
	token, err := h.Sessions.Issue(r.Context(), user.ID)
	if err != nil {
		h.Logger.Error("session issue failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("unable to create session"))
		return
	}
	writeJSON(w, http.StatusOK, connectResponse{Token: token})
}

// Disconnect revokes the presented session token. It must be wired behind
// RequireToken.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	if err := h.Sessions.Revoke(r.Context(), ExtractToken(r)); err != nil {
		h.Logger.Error("session revoke failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("unable to revoke session"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status reports service liveness without authentication.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats reports aggregate counts to authenticated callers. It must be wired
// behind RequireToken.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	count, err := h.Store.CountUsers(r.Context())
	if err != nil {
		h.Logger.Error("stats count failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("stats unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"users": count})
}
