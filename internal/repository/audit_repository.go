package repository

import (
	"time"

	"github.com/tradeprohub/account-service/internal/domain"
	"gorm.io/gorm"
)

type IPFailureCount struct {
	IP    string
	Count int64
}

type AuditRepository interface {
	Create(entry *domain.AuditEntry) error
	ListByAccount(accountID uint, limit int) ([]domain.AuditEntry, error)
	ListRecent(limit int) ([]domain.AuditEntry, error)
	CountByActionSince(action domain.AuditAction, since time.Time) (int64, error)
	TopFailureIPsSince(since time.Time, limit int) ([]IPFailureCount, error)
	DeleteBefore(cutoff time.Time) (int64, error)
}

type GormAuditRepository struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &GormAuditRepository{db: db}
}

func (r *GormAuditRepository) Create(entry *domain.AuditEntry) error {
	return r.db.Create(entry).Error
}

func (r *GormAuditRepository) ListByAccount(accountID uint, limit int) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	err := r.db.Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *GormAuditRepository) ListRecent(limit int) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	err := r.db.Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *GormAuditRepository) CountByActionSince(action domain.AuditAction, since time.Time) (int64, error) {
	var n int64
	err := r.db.Model(&domain.AuditEntry{}).
		Where("action = ? AND created_at >= ?", action, since).
		Count(&n).Error
	return n, err
}

func (r *GormAuditRepository) TopFailureIPsSince(since time.Time, limit int) ([]IPFailureCount, error) {
	var rows []IPFailureCount
	err := r.db.Model(&domain.AuditEntry{}).
		Select("ip, COUNT(*) AS count").
		Where("action = ? AND created_at >= ? AND ip <> ''", domain.AuditActionLoginFailed, since).
		Group("ip").
		Order("count DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

func (r *GormAuditRepository) DeleteBefore(cutoff time.Time) (int64, error) {
	res := r.db.Where("created_at < ?", cutoff).Delete(&domain.AuditEntry{})
	return res.RowsAffected, res.Error
}
