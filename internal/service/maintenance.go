package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradeprohub/account-service/internal/domain"
	"github.com/tradeprohub/account-service/internal/repository"
)

// MaintenanceService backs the operational commands: retention sweeps,
// lockout cleanup, and the security report.
type MaintenanceService struct {
	accounts repository.AccountRepository
	tokens   repository.VerificationTokenRepository
	sessions repository.SessionRepository
	entries  repository.AuditRepository
	audit    *AuditRecorder
	now      func() time.Time
}

func NewMaintenanceService(
	accounts repository.AccountRepository,
	tokens repository.VerificationTokenRepository,
	sessions repository.SessionRepository,
	entries repository.AuditRepository,
	audit *AuditRecorder,
) *MaintenanceService {
	return &MaintenanceService{
		accounts: accounts,
		tokens:   tokens,
		sessions: sessions,
		entries:  entries,
		audit:    audit,
		now:      time.Now,
	}
}

type CleanupResult struct {
	TokensDeleted   int64
	SessionsDeleted int64
}

// CleanupTokens purges expired or consumed verification tokens and dead
// sessions older than the retention window. Both sweeps run concurrently;
// they touch disjoint tables.
func (m *MaintenanceService) CleanupTokens(ctx context.Context, retention time.Duration, dryRun bool) (*CleanupResult, error) {
	cutoff := m.now().UTC().Add(-retention)
	var res CleanupResult

	g, _ := errgroup.WithContext(ctx)
	if dryRun {
		// Dry run reports the rows the sweep would remove without touching
		// them.
		slog.InfoContext(ctx, "cleanup dry run", "cutoff", cutoff)
		g.Go(func() error {
			n, err := m.tokens.CountExpiredBefore(cutoff)
			if err != nil {
				return fmt.Errorf("count verification tokens: %w", err)
			}
			res.TokensDeleted = n
			return nil
		})
		g.Go(func() error {
			n, err := m.sessions.CountInactiveBefore(cutoff)
			if err != nil {
				return fmt.Errorf("count sessions: %w", err)
			}
			res.SessionsDeleted = n
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return &res, nil
	}

	g.Go(func() error {
		n, err := m.tokens.DeleteExpiredBefore(cutoff)
		if err != nil {
			return fmt.Errorf("purge verification tokens: %w", err)
		}
		res.TokensDeleted = n
		return nil
	})
	g.Go(func() error {
		n, err := m.sessions.DeleteInactiveBefore(cutoff)
		if err != nil {
			return fmt.Errorf("purge sessions: %w", err)
		}
		res.SessionsDeleted = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &res, nil
}

// UnlockExpired clears lockouts whose deadline has passed; with force it
// clears active ones too. Every unlock is audited.
func (m *MaintenanceService) UnlockExpired(ctx context.Context, force, dryRun bool) (int, error) {
	now := m.now().UTC()
	expired, err := m.accounts.ListExpiredLockouts(now)
	if err != nil {
		return 0, err
	}
	candidates := expired
	if force {
		active, err := m.accounts.ListLocked(now)
		if err != nil {
			return 0, err
		}
		candidates = append(candidates, active...)
	}
	if dryRun {
		return len(candidates), nil
	}
	unlocked := 0
	for i := range candidates {
		acct := candidates[i]
		if err := m.accounts.ClearLockout(acct.ID); err != nil {
			slog.WarnContext(ctx, "unlock failed", "account_id", acct.ID, "error", err.Error())
			continue
		}
		mode := "expired"
		if force && acct.Locked(now) {
			mode = "forced"
		}
		m.audit.Record(ctx, domain.AuditActionAccountUnlocked, &acct.ID, RequestMeta{}, map[string]any{"mode": mode})
		unlocked++
	}
	return unlocked, nil
}

type SecurityReport struct {
	Since           time.Time
	Logins          int64
	FailedLogins    int64
	Lockouts        int64
	ResetsRequested int64
	ResetsConfirmed int64
	EmailsVerified  int64
	TopFailureIPs   []repository.IPFailureCount
	Accounts        repository.AccountStats
}

func (m *MaintenanceService) SecurityReport(ctx context.Context, window time.Duration) (*SecurityReport, error) {
	now := m.now().UTC()
	report := &SecurityReport{Since: now.Add(-window)}

	counts := []struct {
		action domain.AuditAction
		dst    *int64
	}{
		{domain.AuditActionLogin, &report.Logins},
		{domain.AuditActionLoginFailed, &report.FailedLogins},
		{domain.AuditActionAccountLocked, &report.Lockouts},
		{domain.AuditActionPasswordResetRequested, &report.ResetsRequested},
		{domain.AuditActionPasswordResetConfirmed, &report.ResetsConfirmed},
		{domain.AuditActionEmailVerified, &report.EmailsVerified},
	}

	g, _ := errgroup.WithContext(ctx)
	for _, c := range counts {
		g.Go(func() error {
			n, err := m.entries.CountByActionSince(c.action, report.Since)
			if err != nil {
				return fmt.Errorf("count %s: %w", c.action, err)
			}
			*c.dst = n
			return nil
		})
	}
	g.Go(func() error {
		ips, err := m.entries.TopFailureIPsSince(report.Since, 10)
		if err != nil {
			return fmt.Errorf("top failure IPs: %w", err)
		}
		report.TopFailureIPs = ips
		return nil
	})
	g.Go(func() error {
		stats, err := m.accounts.Stats(now)
		if err != nil {
			return fmt.Errorf("account stats: %w", err)
		}
		report.Accounts = *stats
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}
