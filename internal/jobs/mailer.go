package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// MailSender dispatches an HTML email to a single recipient.
type MailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPSender delivers mail through a plain SMTP endpoint.
type SMTPSender struct {
	Addr     string
	From     string
	Username string
	Password string
}

// Send submits the message to the configured SMTP server.
func (s SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if strings.TrimSpace(s.Addr) == "" {
		return fmt.Errorf("smtp addr is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if s.Username != "" {
		host := s.Addr
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}
	message := strings.Join([]string{
		"From: " + s.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=\"UTF-8\"",
		"",
		htmlBody,
	}, "\r\n")
	if err := smtp.SendMail(s.Addr, auth, s.From, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogSender records dispatched mail instead of delivering it. It is the
// default sender in development.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs the message headers and succeeds.
func (s LogSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail dispatched", "to", to, "subject", subject, "bytes", len(htmlBody))
	return nil
}
