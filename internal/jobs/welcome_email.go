package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"filecrate/internal/queue"
	"filecrate/internal/storage"
)

const welcomeSubject = "Welcome to Filecrate"

const welcomeBody = `<html>
  <body>
    <h1>Welcome!</h1>
    <p>Your Filecrate account is ready. Upload a file to get started.</p>
  </body>
</html>`

const welcomeSendTimeout = 30 * time.Second

// WelcomeEmailHandler sends the fixed welcome message to newly registered
// users.
type WelcomeEmailHandler struct {
	users  storage.UserStore
	mailer MailSender
	logger *slog.Logger
}

// NewWelcomeEmailHandler constructs the handler for the email-sending queue.
func NewWelcomeEmailHandler(users storage.UserStore, mailer MailSender, logger *slog.Logger) *WelcomeEmailHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WelcomeEmailHandler{users: users, mailer: mailer, logger: logger}
}

// Handle processes one welcome-email job. The job succeeds once the send is
// dispatched; delivery confirmation is not awaited, so transport failures
// are surfaced through logs rather than the retry policy.
func (h *WelcomeEmailHandler) Handle(ctx context.Context, job queue.Job) error {
	userID := job.Payload["userId"]
	if userID == "" {
		return queue.NonRetryable(fmt.Errorf("welcome email payload requires userId"))
	}

	user, ok, err := h.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %s: %w", userID, err)
	}
	if !ok {
		return fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}

	go func(email string) {
		sendCtx, cancel := context.WithTimeout(context.Background(), welcomeSendTimeout)
		defer cancel()
		if err := h.mailer.Send(sendCtx, email, welcomeSubject, welcomeBody); err != nil {
			h.logger.Error("welcome email send failed", "job_id", job.ID, "error", err)
		}
	}(user.Email)

	h.logger.Info("welcome email dispatched", "job_id", job.ID, "user_id", user.ID)
	return nil
}
