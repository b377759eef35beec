package database

import (
	"github.com/tradeprohub/account-service/internal/domain"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Account{},
		&domain.VerificationToken{},
		&domain.AuditEntry{},
		&domain.Session{},
	)
}
