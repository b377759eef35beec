package repository

import (
	"errors"
	"time"

	"github.com/tradeprohub/account-service/internal/domain"
	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(s *domain.Session) error
	FindActiveByHash(hash string, now time.Time) (*domain.Session, error)
	RevokeByHash(hash string, now time.Time) error
	RevokeByAccount(accountID uint, now time.Time) (int64, error)
	TouchActivity(id uint, now time.Time) error
	DeleteInactiveBefore(cutoff time.Time) (int64, error)
	// CountInactiveBefore reports how many rows DeleteInactiveBefore would
	// remove, for dry-run previews.
	CountInactiveBefore(cutoff time.Time) (int64, error)
	CountActiveByAccount(accountID uint, now time.Time) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &GormSessionRepository{db: db}
}

func (r *GormSessionRepository) Create(s *domain.Session) error {
	return r.db.Create(s).Error
}

func (r *GormSessionRepository) FindActiveByHash(hash string, now time.Time) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("refresh_token_hash = ? AND revoked_at IS NULL AND expires_at > ?", hash, now).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *GormSessionRepository) RevokeByHash(hash string, now time.Time) error {
	res := r.db.Model(&domain.Session{}).
		Where("refresh_token_hash = ? AND revoked_at IS NULL", hash).
		Update("revoked_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *GormSessionRepository) RevokeByAccount(accountID uint, now time.Time) (int64, error) {
	res := r.db.Model(&domain.Session{}).
		Where("account_id = ? AND revoked_at IS NULL", accountID).
		Update("revoked_at", now)
	return res.RowsAffected, res.Error
}

func (r *GormSessionRepository) TouchActivity(id uint, now time.Time) error {
	return r.db.Model(&domain.Session{}).
		Where("id = ?", id).
		Update("last_activity_at", now).Error
}

func (r *GormSessionRepository) DeleteInactiveBefore(cutoff time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ? OR (revoked_at IS NOT NULL AND revoked_at < ?)", cutoff, cutoff).
		Delete(&domain.Session{})
	return res.RowsAffected, res.Error
}

func (r *GormSessionRepository) CountInactiveBefore(cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.Model(&domain.Session{}).
		Where("expires_at <= ? OR (revoked_at IS NOT NULL AND revoked_at < ?)", cutoff, cutoff).
		Count(&n).Error
	return n, err
}

func (r *GormSessionRepository) CountActiveByAccount(accountID uint, now time.Time) (int64, error) {
	var n int64
	err := r.db.Model(&domain.Session{}).
		Where("account_id = ? AND revoked_at IS NULL AND expires_at > ?", accountID, now).
		Count(&n).Error
	return n, err
}
