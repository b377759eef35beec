package repository

import (
	"errors"
	"time"

	"github.com/tradeprohub/account-service/internal/domain"
	"gorm.io/gorm"
)

var ErrAccountNotFound = errors.New("account not found")

type AccountStats struct {
	Total         int64
	Active        int64
	Locked        int64
	EmailVerified int64
}

type AccountRepository interface {
	FindByID(id uint) (*domain.Account, error)
	FindByEmail(email string) (*domain.Account, error)
	FindByUsername(username string) (*domain.Account, error)
	Create(account *domain.Account) error
	Update(account *domain.Account) error

	// IncrementFailedAttempts bumps the failure counter in a single SQL
	// statement and returns the new count. Concurrent callers each get a
	// distinct value.
	IncrementFailedAttempts(id uint, now time.Time) (int, error)
	// ArmLockout sets account_locked_until only when no lock is currently
	// set. It reports whether this call armed the lock, so exactly one of
	// several racing failures observes true.
	ArmLockout(id uint, until time.Time) (bool, error)
	ClearLockout(id uint) error
	RecordLogin(id uint, now time.Time) error

	UpdatePassword(id uint, hash string, now time.Time) error
	// RehashPassword swaps the stored hash without touching
	// password_changed_at or force_password_change. Used when a login
	// verifies against a hash produced with outdated parameters.
	RehashPassword(id uint, hash string, now time.Time) error
	MarkEmailVerified(id uint, now time.Time) error
	SetForcePasswordChange(id uint, force bool) error
	SetActive(id uint, active bool) error

	ListLocked(now time.Time) ([]domain.Account, error)
	ListExpiredLockouts(now time.Time) ([]domain.Account, error)
	Stats(now time.Time) (*AccountStats, error)
}

type GormAccountRepository struct{ db *gorm.DB }

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &GormAccountRepository{db: db}
}

func (r *GormAccountRepository) FindByID(id uint) (*domain.Account, error) {
	var a domain.Account
	if err := r.db.First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *GormAccountRepository) FindByEmail(email string) (*domain.Account, error) {
	var a domain.Account
	if err := r.db.Where("email = ?", email).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *GormAccountRepository) FindByUsername(username string) (*domain.Account, error) {
	var a domain.Account
	if err := r.db.Where("username = ?", username).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *GormAccountRepository) Create(account *domain.Account) error {
	return r.db.Create(account).Error
}

func (r *GormAccountRepository) Update(account *domain.Account) error {
	return r.db.Save(account).Error
}

func (r *GormAccountRepository) IncrementFailedAttempts(id uint, now time.Time) (int, error) {
	res := r.db.Model(&domain.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failed_login_attempts": gorm.Expr("failed_login_attempts + 1"),
			"last_login_attempt":    now,
			"updated_at":            now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrAccountNotFound
	}
	var count int
	err := r.db.Model(&domain.Account{}).
		Where("id = ?", id).
		Select("failed_login_attempts").
		Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormAccountRepository) ArmLockout(id uint, until time.Time) (bool, error) {
	res := r.db.Model(&domain.Account{}).
		Where("id = ? AND account_locked_until IS NULL", id).
		Update("account_locked_until", until)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormAccountRepository) ClearLockout(id uint) error {
	res := r.db.Model(&domain.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"account_locked_until":  nil,
			"failed_login_attempts": 0,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *GormAccountRepository) RecordLogin(id uint, now time.Time) error {
	return r.db.Model(&domain.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failed_login_attempts": 0,
			"account_locked_until":  nil,
			"last_login_at":         now,
			"last_login_attempt":    now,
			"updated_at":            now,
		}).Error
}

func (r *GormAccountRepository) UpdatePassword(id uint, hash string, now time.Time) error {
	res := r.db.Model(&domain.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"password_hash":         hash,
			"password_changed_at":   now,
			"force_password_change": false,
			"updated_at":            now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *GormAccountRepository) RehashPassword(id uint, hash string, now time.Time) error {
	res := r.db.Model(&domain.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"password_hash": hash,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *GormAccountRepository) MarkEmailVerified(id uint, now time.Time) error {
	res := r.db.Model(&domain.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"email_verified":    true,
			"email_verified_at": now,
			"updated_at":        now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *GormAccountRepository) SetForcePasswordChange(id uint, force bool) error {
	res := r.db.Model(&domain.Account{}).
		Where("id = ?", id).
		Update("force_password_change", force)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *GormAccountRepository) SetActive(id uint, active bool) error {
	res := r.db.Model(&domain.Account{}).
		Where("id = ?", id).
		Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *GormAccountRepository) ListLocked(now time.Time) ([]domain.Account, error) {
	var accounts []domain.Account
	err := r.db.Where("account_locked_until IS NOT NULL AND account_locked_until > ?", now).
		Order("account_locked_until").
		Find(&accounts).Error
	return accounts, err
}

func (r *GormAccountRepository) ListExpiredLockouts(now time.Time) ([]domain.Account, error) {
	var accounts []domain.Account
	err := r.db.Where("account_locked_until IS NOT NULL AND account_locked_until <= ?", now).
		Find(&accounts).Error
	return accounts, err
}

func (r *GormAccountRepository) Stats(now time.Time) (*AccountStats, error) {
	var s AccountStats
	if err := r.db.Model(&domain.Account{}).Count(&s.Total).Error; err != nil {
		return nil, err
	}
	if err := r.db.Model(&domain.Account{}).Where("active = ?", true).Count(&s.Active).Error; err != nil {
		return nil, err
	}
	if err := r.db.Model(&domain.Account{}).
		Where("account_locked_until IS NOT NULL AND account_locked_until > ?", now).
		Count(&s.Locked).Error; err != nil {
		return nil, err
	}
	if err := r.db.Model(&domain.Account{}).Where("email_verified = ?", true).Count(&s.EmailVerified).Error; err != nil {
		return nil, err
	}
	return &s, nil
}
