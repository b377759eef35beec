package domain

import "time"

type TokenKind string

const (
	TokenKindEmailVerify   TokenKind = "email_verify"
	TokenKindPasswordReset TokenKind = "password_reset"
)

// VerificationToken is a single-use, time-limited opaque credential. The
// random value itself is the lookup key so an outstanding token can be
// re-sent while it is still valid.
type VerificationToken struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Value     string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	AccountID uint       `gorm:"not null;index:idx_verification_tokens_account_kind,priority:1" json:"account_id"`
	Kind      TokenKind  `gorm:"size:32;not null;index:idx_verification_tokens_account_kind,priority:2" json:"kind"`
	ExpiresAt time.Time  `gorm:"not null" json:"expires_at"`
	Used      bool       `gorm:"not null;default:false;index:idx_verification_tokens_account_kind,priority:3" json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	RequestIP string     `gorm:"size:64" json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"-"`
}

func (t *VerificationToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Valid reports whether the token can still be consumed.
func (t *VerificationToken) Valid(now time.Time) bool {
	return !t.Used && !t.Expired(now)
}
