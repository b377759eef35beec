package service

import (
	"fmt"
	"time"

	"github.com/tradeprohub/account-service/internal/repository"
)

// LockoutDecision is the outcome of recording one failed login attempt.
type LockoutDecision struct {
	Attempts  int
	Remaining int
	Threshold int
	// Locked is true once the account is under lockout. LockTriggered is
	// true only for the single attempt that armed it.
	Locked        bool
	LockTriggered bool
	UnlockAt      time.Time
}

// LockoutPolicy counts consecutive login failures per account and arms a
// timed lock at the threshold. Counter updates go through atomic SQL
// statements in the account repository so concurrent failures never lose
// increments, and the lock is armed by exactly one of them.
type LockoutPolicy struct {
	accounts  repository.AccountRepository
	threshold int
	duration  time.Duration
	now       func() time.Time
}

func NewLockoutPolicy(accounts repository.AccountRepository, threshold int, duration time.Duration) *LockoutPolicy {
	return &LockoutPolicy{
		accounts:  accounts,
		threshold: threshold,
		duration:  duration,
		now:       time.Now,
	}
}

func (p *LockoutPolicy) Threshold() int          { return p.threshold }
func (p *LockoutPolicy) Duration() time.Duration { return p.duration }

// RecordFailure bumps the failure counter and arms the lock when the count
// reaches the threshold. At or past the threshold every attempt reports
// Locked; only the arming one reports LockTriggered.
func (p *LockoutPolicy) RecordFailure(accountID uint) (*LockoutDecision, error) {
	now := p.now().UTC()
	attempts, err := p.accounts.IncrementFailedAttempts(accountID, now)
	if err != nil {
		return nil, fmt.Errorf("increment failed attempts: %w", err)
	}
	d := &LockoutDecision{
		Attempts:  attempts,
		Threshold: p.threshold,
	}
	if attempts < p.threshold {
		d.Remaining = p.threshold - attempts
		return d, nil
	}
	d.Locked = true
	d.UnlockAt = now.Add(p.duration)
	armed, err := p.accounts.ArmLockout(accountID, d.UnlockAt)
	if err != nil {
		return nil, fmt.Errorf("arm lockout: %w", err)
	}
	d.LockTriggered = armed
	if !armed {
		// Another attempt armed it first; report that lock's deadline.
		acct, err := p.accounts.FindByID(accountID)
		if err != nil {
			return nil, err
		}
		if acct.LockedUntil != nil {
			d.UnlockAt = *acct.LockedUntil
		}
	}
	return d, nil
}

// RecordSuccess resets the counter and clears any stale lock marker.
func (p *LockoutPolicy) RecordSuccess(accountID uint) error {
	if err := p.accounts.RecordLogin(accountID, p.now().UTC()); err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	return nil
}

// IsLocked checks whether the account is under an active lockout. Expired
// locks are cleared lazily here rather than by a background sweep.
func (p *LockoutPolicy) IsLocked(accountID uint) (bool, time.Time, error) {
	acct, err := p.accounts.FindByID(accountID)
	if err != nil {
		return false, time.Time{}, err
	}
	return p.check(acct.ID, acct.LockedUntil)
}

func (p *LockoutPolicy) check(accountID uint, lockedUntil *time.Time) (bool, time.Time, error) {
	if lockedUntil == nil {
		return false, time.Time{}, nil
	}
	now := p.now().UTC()
	if lockedUntil.After(now) {
		return true, *lockedUntil, nil
	}
	if err := p.accounts.ClearLockout(accountID); err != nil {
		return false, time.Time{}, fmt.Errorf("clear expired lockout: %w", err)
	}
	return false, time.Time{}, nil
}

// Unlock clears the lock and counter immediately (admin action).
func (p *LockoutPolicy) Unlock(accountID uint) error {
	if err := p.accounts.ClearLockout(accountID); err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	return nil
}
