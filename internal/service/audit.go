package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/tradeprohub/account-service/internal/domain"
	"github.com/tradeprohub/account-service/internal/observability"
	"github.com/tradeprohub/account-service/internal/repository"
)

// RequestMeta carries the request-scoped attribution recorded on audit
// entries and sessions.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// AuditRecorder writes append-only security audit entries. Record never
// returns an error: a login must not fail because the audit insert did, so
// persistence failures are logged and counted instead. Writes are
// synchronous and callers invoke Record after the state change it
// describes.
type AuditRecorder struct {
	entries repository.AuditRepository
	now     func() time.Time
}

func NewAuditRecorder(entries repository.AuditRepository) *AuditRecorder {
	return &AuditRecorder{entries: entries, now: time.Now}
}

func (a *AuditRecorder) Record(ctx context.Context, action domain.AuditAction, accountID *uint, meta RequestMeta, details map[string]any) {
	entry := &domain.AuditEntry{
		AccountID: accountID,
		Action:    action,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Details:   details,
		CreatedAt: a.now().UTC(),
	}
	if err := a.entries.Create(entry); err != nil {
		observability.RecordAuditWriteFailure(ctx, string(action))
		slog.ErrorContext(ctx, "audit write failed",
			slog.String("action", string(action)),
			slog.Any("account_id", accountID),
			slog.String("error", err.Error()))
	}
}

// RecordAdmin is Record with the acting administrator attached.
func (a *AuditRecorder) RecordAdmin(ctx context.Context, action domain.AuditAction, accountID *uint, performedBy uint, details map[string]any) {
	entry := &domain.AuditEntry{
		AccountID:     accountID,
		Action:        action,
		Details:       details,
		PerformedByID: &performedBy,
		CreatedAt:     a.now().UTC(),
	}
	if err := a.entries.Create(entry); err != nil {
		observability.RecordAuditWriteFailure(ctx, string(action))
		slog.ErrorContext(ctx, "audit write failed",
			slog.String("action", string(action)),
			slog.Any("account_id", accountID),
			slog.String("error", err.Error()))
	}
}
