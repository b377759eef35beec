package database

import (
	"time"

	"github.com/tradeprohub/account-service/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects via the gorm postgres driver. Gorm-managed timestamps are
// written in UTC; every hand-written query in the repositories already
// passes UTC instants.
func Open(cfg *config.Config) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
}
