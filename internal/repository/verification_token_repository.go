package repository

import (
	"errors"
	"time"

	"github.com/tradeprohub/account-service/internal/domain"
	"gorm.io/gorm"
)

var ErrVerificationTokenNotFound = errors.New("verification token not found")

type VerificationTokenRepository interface {
	Create(token *domain.VerificationToken) error
	FindByValue(value string) (*domain.VerificationToken, error)
	// FindActiveByAccountKind returns the newest unused, unexpired token of
	// the given kind, or ErrVerificationTokenNotFound.
	FindActiveByAccountKind(accountID uint, kind domain.TokenKind, now time.Time) (*domain.VerificationToken, error)
	// Consume marks the token used. A token already consumed is a no-op and
	// reports false; the caller decides whether that matters.
	Consume(tokenID uint, now time.Time) (bool, error)
	DeleteExpiredBefore(cutoff time.Time) (int64, error)
	// CountExpiredBefore reports how many rows DeleteExpiredBefore would
	// remove, for dry-run previews.
	CountExpiredBefore(cutoff time.Time) (int64, error)
	CountIssuedSince(kind domain.TokenKind, since time.Time) (int64, error)
}

type GormVerificationTokenRepository struct{ db *gorm.DB }

func NewVerificationTokenRepository(db *gorm.DB) VerificationTokenRepository {
	return &GormVerificationTokenRepository{db: db}
}

func (r *GormVerificationTokenRepository) Create(token *domain.VerificationToken) error {
	return r.db.Create(token).Error
}

func (r *GormVerificationTokenRepository) FindByValue(value string) (*domain.VerificationToken, error) {
	var token domain.VerificationToken
	if err := r.db.Where("value = ?", value).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVerificationTokenNotFound
		}
		return nil, err
	}
	return &token, nil
}

func (r *GormVerificationTokenRepository) FindActiveByAccountKind(accountID uint, kind domain.TokenKind, now time.Time) (*domain.VerificationToken, error) {
	var token domain.VerificationToken
	err := r.db.Where("account_id = ? AND kind = ? AND used = ? AND expires_at > ?", accountID, kind, false, now).
		Order("created_at DESC").
		First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVerificationTokenNotFound
		}
		return nil, err
	}
	return &token, nil
}

func (r *GormVerificationTokenRepository) Consume(tokenID uint, now time.Time) (bool, error) {
	res := r.db.Model(&domain.VerificationToken{}).
		Where("id = ? AND used = ?", tokenID, false).
		Updates(map[string]any{"used": true, "used_at": now, "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormVerificationTokenRepository) DeleteExpiredBefore(cutoff time.Time) (int64, error) {
	res := r.db.Where("expires_at < ? OR (used = ? AND used_at < ?)", cutoff, true, cutoff).
		Delete(&domain.VerificationToken{})
	return res.RowsAffected, res.Error
}

func (r *GormVerificationTokenRepository) CountExpiredBefore(cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.Model(&domain.VerificationToken{}).
		Where("expires_at < ? OR (used = ? AND used_at < ?)", cutoff, true, cutoff).
		Count(&n).Error
	return n, err
}

func (r *GormVerificationTokenRepository) CountIssuedSince(kind domain.TokenKind, since time.Time) (int64, error) {
	var n int64
	err := r.db.Model(&domain.VerificationToken{}).
		Where("kind = ? AND created_at >= ?", kind, since).
		Count(&n).Error
	return n, err
}
