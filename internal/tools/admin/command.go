package admin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tradeprohub/account-service/internal/config"
	"github.com/tradeprohub/account-service/internal/database"
	"github.com/tradeprohub/account-service/internal/repository"
	"github.com/tradeprohub/account-service/internal/security"
	"github.com/tradeprohub/account-service/internal/service"
	"github.com/tradeprohub/account-service/internal/tools/common"
)

type options struct {
	envFile string
	timeout time.Duration
	ci      bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Account service operational tooling",
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "operation timeout")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")

	cmd.AddCommand(
		newMigrateCommand(opts),
		newCleanupTokensCommand(opts),
		newUnlockAccountsCommand(opts),
		newSecurityReportCommand(opts),
		newSeedTestUsersCommand(opts),
		newForcePasswordChangeCommand(opts),
		newDeactivateAccountCommand(opts),
	)
	return cmd
}

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, "migrate", func(ctx context.Context, cfg *config.Config, db *gorm.DB) ([]string, error) {
				if err := database.Migrate(db); err != nil {
					return nil, err
				}
				return []string{"schema migration applied"}, nil
			})
		},
	}
}

func newCleanupTokensCommand(opts *options) *cobra.Command {
	var days int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "cleanup-tokens",
		Short: "Purge expired verification tokens and dead sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, "cleanup-tokens", func(ctx context.Context, cfg *config.Config, db *gorm.DB) ([]string, error) {
				svc := newMaintenance(db)
				res, err := svc.CleanupTokens(ctx, time.Duration(days)*24*time.Hour, dryRun)
				if err != nil {
					return nil, err
				}
				verb := "deleted"
				if dryRun {
					verb = "would delete"
				}
				return []string{
					fmt.Sprintf("verification tokens %s: %d", verb, res.TokensDeleted),
					fmt.Sprintf("sessions %s: %d", verb, res.SessionsDeleted),
				}, nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "retention window in days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without deleting")
	return cmd
}

func newUnlockAccountsCommand(opts *options) *cobra.Command {
	var force bool
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "unlock-accounts",
		Short: "Clear expired account lockouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, "unlock-accounts", func(ctx context.Context, cfg *config.Config, db *gorm.DB) ([]string, error) {
				svc := newMaintenance(db)
				n, err := svc.UnlockExpired(ctx, force, dryRun)
				if err != nil {
					return nil, err
				}
				verb := "unlocked"
				if dryRun {
					verb = "would unlock"
				}
				return []string{fmt.Sprintf("%s %d accounts (force=%t)", verb, n, force)}, nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "also clear active lockouts")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without unlocking")
	return cmd
}

func newSecurityReportCommand(opts *options) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "security-report",
		Short: "Summarize recent security activity from the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, "security-report", func(ctx context.Context, cfg *config.Config, db *gorm.DB) ([]string, error) {
				svc := newMaintenance(db)
				report, err := svc.SecurityReport(ctx, time.Duration(days)*24*time.Hour)
				if err != nil {
					return nil, err
				}
				details := []string{
					fmt.Sprintf("window since: %s", report.Since.Format(time.RFC3339)),
					fmt.Sprintf("logins: %d, failed: %d, lockouts: %d", report.Logins, report.FailedLogins, report.Lockouts),
					fmt.Sprintf("resets requested: %d, confirmed: %d", report.ResetsRequested, report.ResetsConfirmed),
					fmt.Sprintf("emails verified: %d", report.EmailsVerified),
					fmt.Sprintf("accounts: %d total, %d active, %d locked, %d verified",
						report.Accounts.Total, report.Accounts.Active, report.Accounts.Locked, report.Accounts.EmailVerified),
				}
				for _, ip := range report.TopFailureIPs {
					details = append(details, fmt.Sprintf("failing ip: %s (%d)", ip.IP, ip.Count))
				}
				return details, nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "report window in days")
	return cmd
}

func newSeedTestUsersCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-test-users",
		Short: "Create development test accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, "seed-test-users", func(ctx context.Context, cfg *config.Config, db *gorm.DB) ([]string, error) {
				n, err := database.SeedTestUsers(db)
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("created %d test accounts", n)}, nil
			})
		},
	}
}

func newForcePasswordChangeCommand(opts *options) *cobra.Command {
	var clear bool
	var adminID uint
	cmd := &cobra.Command{
		Use:   "force-password-change <account-id>",
		Short: "Require (or stop requiring) a new password at next login",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, "force-password-change", func(ctx context.Context, cfg *config.Config, db *gorm.DB) ([]string, error) {
				accountID, err := parseAccountID(args[0])
				if err != nil {
					return nil, err
				}
				if err := newAuth(cfg, db).SetForcePasswordChange(ctx, accountID, adminID, !clear); err != nil {
					return nil, err
				}
				state := "set"
				if clear {
					state = "cleared"
				}
				return []string{fmt.Sprintf("force-password-change %s for account %d", state, accountID)}, nil
			})
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the flag instead of setting it")
	cmd.Flags().UintVar(&adminID, "admin", 0, "acting administrator account id for the audit trail")
	return cmd
}

func newDeactivateAccountCommand(opts *options) *cobra.Command {
	var reactivate bool
	var adminID uint
	cmd := &cobra.Command{
		Use:   "deactivate-account <account-id>",
		Short: "Soft-deactivate an account and revoke its sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, "deactivate-account", func(ctx context.Context, cfg *config.Config, db *gorm.DB) ([]string, error) {
				accountID, err := parseAccountID(args[0])
				if err != nil {
					return nil, err
				}
				if err := newAuth(cfg, db).SetActive(ctx, accountID, adminID, reactivate); err != nil {
					return nil, err
				}
				if reactivate {
					return []string{fmt.Sprintf("account %d reactivated", accountID)}, nil
				}
				return []string{fmt.Sprintf("account %d deactivated, sessions revoked", accountID)}, nil
			})
		},
	}
	cmd.Flags().BoolVar(&reactivate, "reactivate", false, "reactivate the account instead")
	cmd.Flags().UintVar(&adminID, "admin", 0, "acting administrator account id for the audit trail")
	return cmd
}

func parseAccountID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid account id %q", arg)
	}
	return uint(id), nil
}

// newAuth builds the auth service without redis: the session table alone is
// authoritative for revocation, so the blacklist fast path is skipped here.
func newAuth(cfg *config.Config, db *gorm.DB) *service.AuthService {
	accountRepo := repository.NewAccountRepository(db)
	tokenRepo := repository.NewVerificationTokenRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	sessionRepo := repository.NewSessionRepository(db)

	jwtMgr := security.NewJWTManager(security.JWTConfig{
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.JWTAccessTTL,
		RefreshTTL:    cfg.JWTRefreshTTL,
		Pepper:        cfg.RefreshTokenPepper,
	})
	return service.NewAuthService(
		cfg,
		accountRepo,
		service.NewLockoutPolicy(accountRepo, cfg.LockoutThreshold, cfg.LockoutDuration),
		service.NewTokenStore(tokenRepo, cfg.EmailVerifyTokenTTL, cfg.PasswordResetTokenTTL),
		service.NewTokenService(jwtMgr, sessionRepo, nil),
		service.NewAuditRecorder(auditRepo),
		service.NewDevMailNotifier(slog.Default()),
	)
}

func newMaintenance(db *gorm.DB) *service.MaintenanceService {
	auditRepo := repository.NewAuditRepository(db)
	return service.NewMaintenanceService(
		repository.NewAccountRepository(db),
		repository.NewVerificationTokenRepository(db),
		repository.NewSessionRepository(db),
		auditRepo,
		service.NewAuditRecorder(auditRepo),
	)
}

func run(opts *options, title string, fn func(ctx context.Context, cfg *config.Config, db *gorm.DB) ([]string, error)) error {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	details, err := func() ([]string, error) {
		cfg, db, err := loadConfigDB(opts.envFile)
		if err != nil {
			return nil, err
		}
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			defer func() { _ = sqlDB.Close() }()
		}
		return fn(ctx, cfg, db)
	}()

	if opts.ci {
		common.PrintCIResult(err == nil, title, details, err)
	} else {
		for _, d := range details {
			fmt.Println(d)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
	if err != nil {
		os.Exit(3)
	}
	return nil
}

func loadConfigDB(envFile string) (*config.Config, *gorm.DB, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
