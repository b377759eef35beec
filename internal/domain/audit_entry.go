package domain

import "time"

type AuditAction string

const (
	AuditActionLogin                  AuditAction = "login"
	AuditActionLoginFailed            AuditAction = "login_failed"
	AuditActionLogout                 AuditAction = "logout"
	AuditActionRegister               AuditAction = "register"
	AuditActionPasswordResetRequested AuditAction = "password_reset_requested"
	AuditActionPasswordResetConfirmed AuditAction = "password_reset_confirmed"
	AuditActionPasswordChanged        AuditAction = "password_changed"
	AuditActionEmailVerified          AuditAction = "email_verified"
	AuditActionAccountLocked          AuditAction = "account_locked"
	AuditActionAccountUnlocked        AuditAction = "account_unlocked"
	AuditActionAdminAction            AuditAction = "admin_action"
)

// AuditEntry is an append-only record of a security-relevant event. Entries
// are never updated or deleted outside of bulk retention purges. AccountID is
// nullable: failed logins against unknown emails carry no account reference,
// and deleting an account leaves its audit history behind.
type AuditEntry struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	AccountID     *uint          `gorm:"index:idx_audit_entries_account_time,priority:1" json:"account_id,omitempty"`
	Action        AuditAction    `gorm:"size:40;not null;index:idx_audit_entries_action_time,priority:1" json:"action"`
	IP            string         `gorm:"size:64" json:"ip"`
	UserAgent     string         `gorm:"size:512" json:"user_agent"`
	Details       map[string]any `gorm:"serializer:json" json:"details,omitempty"`
	PerformedByID *uint          `json:"performed_by_id,omitempty"`
	CreatedAt     time.Time      `gorm:"index:idx_audit_entries_account_time,priority:2;index:idx_audit_entries_action_time,priority:2" json:"created_at"`
}
