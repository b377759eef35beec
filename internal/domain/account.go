package domain

import "time"

type Account struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	Email               string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Username            string     `gorm:"uniqueIndex;size:150;not null" json:"username"`
	PasswordHash        string     `gorm:"size:1024;not null" json:"-"`
	PasswordChangedAt   time.Time  `json:"password_changed_at"`
	FailedLoginAttempts int        `gorm:"not null;default:0" json:"-"`
	LastLoginAttempt    *time.Time `json:"-"`
	LockedUntil         *time.Time `gorm:"column:account_locked_until" json:"-"`
	EmailVerified       bool       `gorm:"not null;default:false" json:"email_verified"`
	EmailVerifiedAt     *time.Time `json:"email_verified_at,omitempty"`
	Active              bool       `gorm:"not null;default:true;index:idx_accounts_active" json:"active"`
	ForcePasswordChange bool       `gorm:"not null;default:false" json:"-"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Locked reports whether the account is under an active lockout at the given
// instant. Expiry is lazy: a stale account_locked_until in the past means the
// account is usable again without any background sweep.
func (a *Account) Locked(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

// Summary is the caller-facing projection of an account. It carries no
// password or counter state.
type Summary struct {
	ID                  uint   `json:"id"`
	Email               string `json:"email"`
	Username            string `json:"username"`
	EmailVerified       bool   `json:"email_verified"`
	ForcePasswordChange bool   `json:"force_password_change,omitempty"`
}

func (a *Account) Summary() Summary {
	return Summary{
		ID:                  a.ID,
		Email:               a.Email,
		Username:            a.Username,
		EmailVerified:       a.EmailVerified,
		ForcePasswordChange: a.ForcePasswordChange,
	}
}
