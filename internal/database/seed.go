package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/tradeprohub/account-service/internal/domain"
	"github.com/tradeprohub/account-service/internal/security"

	"gorm.io/gorm"
)

type seedUser struct {
	Email    string
	Username string
	Password string
	Verified bool
}

var testUsers = []seedUser{
	{Email: "plumber@example.com", Username: "test-plumber", Password: "Plumb3r!pass-word", Verified: true},
	{Email: "electrician@example.com", Username: "test-electrician", Password: "Sparky!pass-w0rd", Verified: true},
	{Email: "customer@example.com", Username: "test-customer", Password: "Cust0mer!pass-wd", Verified: false},
}

// SeedTestUsers creates the development accounts if they are missing.
// Existing accounts are left untouched.
func SeedTestUsers(db *gorm.DB) (int, error) {
	created := 0
	now := time.Now().UTC()
	for _, u := range testUsers {
		email := strings.ToLower(u.Email)
		var existing domain.Account
		err := db.Where("email = ?", email).First(&existing).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return created, err
		}
		hash, err := security.HashPassword(u.Password)
		if err != nil {
			return created, fmt.Errorf("hash seed password: %w", err)
		}
		account := domain.Account{
			Email:             email,
			Username:          u.Username,
			PasswordHash:      hash,
			PasswordChangedAt: now,
			Active:            true,
			EmailVerified:     u.Verified,
		}
		if u.Verified {
			account.EmailVerifiedAt = &now
		}
		if err := db.Create(&account).Error; err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
