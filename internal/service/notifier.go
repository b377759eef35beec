package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

type VerificationNotification struct {
	AccountID       uint
	Email           string
	Token           string
	ExpiresAt       time.Time
	VerificationURL string
}

type PasswordResetNotification struct {
	AccountID uint
	Email     string
	Token     string
	ExpiresAt time.Time
	ResetURL  string
}

// MailNotifier delivers account mail. Callers treat delivery as best
// effort: a failed send is logged by the caller, never surfaced to the
// user.
type MailNotifier interface {
	SendEmailVerification(ctx context.Context, n VerificationNotification) error
	SendPasswordReset(ctx context.Context, n PasswordResetNotification) error
}

// DevMailNotifier logs the token link instead of sending mail. Used in
// development and tests.
type DevMailNotifier struct {
	logger *slog.Logger
}

func NewDevMailNotifier(logger *slog.Logger) *DevMailNotifier {
	return &DevMailNotifier{logger: logger}
}

func (n *DevMailNotifier) SendEmailVerification(ctx context.Context, notification VerificationNotification) error {
	link := notification.VerificationURL
	if strings.TrimSpace(link) == "" {
		link = fmt.Sprintf("token=%s", notification.Token)
	}
	n.logger.InfoContext(ctx, "email verification token issued",
		"account_id", notification.AccountID,
		"email", notification.Email,
		"expires_at", notification.ExpiresAt,
		"verification", link,
	)
	return nil
}

func (n *DevMailNotifier) SendPasswordReset(ctx context.Context, notification PasswordResetNotification) error {
	link := notification.ResetURL
	if strings.TrimSpace(link) == "" {
		link = fmt.Sprintf("token=%s", notification.Token)
	}
	n.logger.InfoContext(ctx, "password reset token issued",
		"account_id", notification.AccountID,
		"email", notification.Email,
		"expires_at", notification.ExpiresAt,
		"reset", link,
	)
	return nil
}

// tokenLink appends token=<value> to the configured base URL. An empty base
// yields an empty link and the notifier falls back to the bare token.
func tokenLink(base, token string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid notification base URL: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
