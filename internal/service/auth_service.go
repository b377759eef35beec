package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tradeprohub/account-service/internal/config"
	"github.com/tradeprohub/account-service/internal/domain"
	"github.com/tradeprohub/account-service/internal/observability"
	"github.com/tradeprohub/account-service/internal/repository"
	"github.com/tradeprohub/account-service/internal/security"
)

var (
	uppercaseRe = regexp.MustCompile(`[A-Z]`)
	lowercaseRe = regexp.MustCompile(`[a-z]`)
	digitRe     = regexp.MustCompile(`[0-9]`)
	specialRe   = regexp.MustCompile(`[^A-Za-z0-9]`)
	usernameRe  = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,150}$`)
)

// AuthService orchestrates registration, login, logout, and the token-based
// verify/reset flows. It owns no policy of its own: lockout counting lives
// in LockoutPolicy, token lifecycle in TokenStore, and every state change
// is followed by a synchronous audit write.
type AuthService struct {
	cfg       *config.Config
	accounts  repository.AccountRepository
	lockout   *LockoutPolicy
	tokens    *TokenStore
	tokenSvc  *TokenService
	audit     *AuditRecorder
	notifier  MailNotifier
	dummyHash string
}

type LoginResult struct {
	Account             domain.Summary `json:"account"`
	AccessToken         string         `json:"-"`
	RefreshToken        string         `json:"-"`
	ExpiresAt           time.Time      `json:"expires_at"`
	ForcePasswordChange bool           `json:"force_password_change,omitempty"`
}

func NewAuthService(
	cfg *config.Config,
	accounts repository.AccountRepository,
	lockout *LockoutPolicy,
	tokens *TokenStore,
	tokenSvc *TokenService,
	audit *AuditRecorder,
	notifier MailNotifier,
) *AuthService {
	// Unknown emails still burn one argon2 verification so response timing
	// does not reveal whether the address exists.
	dummyHash, err := security.HashPassword("tradeprohub-dummy-credential")
	if err != nil {
		dummyHash = ""
	}
	return &AuthService{
		cfg:       cfg,
		accounts:  accounts,
		lockout:   lockout,
		tokens:    tokens,
		tokenSvc:  tokenSvc,
		audit:     audit,
		notifier:  notifier,
		dummyHash: dummyHash,
	}
}

func (s *AuthService) Register(ctx context.Context, email, username, password string, meta RequestMeta) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(username)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if _, err := s.accounts.FindByEmail(email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}
	if _, err := s.accounts.FindByUsername(username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, err
	}
	account := &domain.Account{
		Email:             email,
		Username:          username,
		PasswordHash:      hash,
		PasswordChangedAt: time.Now().UTC(),
		Active:            true,
	}
	if err := s.accounts.Create(account); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.audit.Record(ctx, domain.AuditActionRegister, &account.ID, meta, map[string]any{"email": email})
	s.sendEmailVerification(ctx, account, meta)

	pair, err := s.tokenSvc.Issue(account, meta)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Account:      account.Summary(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.AccessExpiresAt,
	}, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string, meta RequestMeta) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	account, err := s.accounts.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			if s.dummyHash != "" {
				_, _ = security.VerifyPassword(s.dummyHash, password)
			}
			s.audit.Record(ctx, domain.AuditActionLoginFailed, nil, meta, map[string]any{"email": email, "reason": "unknown_email"})
			observability.RecordLoginAttempt(ctx, "failed")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if locked, unlockAt, err := s.lockout.check(account.ID, account.LockedUntil); err != nil {
		return nil, err
	} else if locked {
		s.audit.Record(ctx, domain.AuditActionLoginFailed, &account.ID, meta, map[string]any{"reason": "locked"})
		observability.RecordLoginAttempt(ctx, "locked")
		return nil, &AccountLockedError{UnlockAt: unlockAt}
	}

	ok, err := security.VerifyPassword(account.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.handleFailedPassword(ctx, account, meta)
	}

	if !account.Active {
		s.audit.Record(ctx, domain.AuditActionLoginFailed, &account.ID, meta, map[string]any{"reason": "inactive"})
		observability.RecordLoginAttempt(ctx, "inactive")
		return nil, ErrAccountInactive
	}
	if s.cfg.RequireEmailVerification && !account.EmailVerified {
		s.audit.Record(ctx, domain.AuditActionLoginFailed, &account.ID, meta, map[string]any{"reason": "email_unverified"})
		observability.RecordLoginAttempt(ctx, "failed")
		return nil, ErrEmailUnverified
	}

	// The plaintext is in hand only here, so hashes made with outdated
	// parameters are upgraded on the spot. Best effort: the login proceeds
	// either way.
	if security.NeedsRehash(account.PasswordHash) {
		if hash, err := security.HashPassword(password); err == nil {
			if err := s.accounts.RehashPassword(account.ID, hash, time.Now().UTC()); err != nil {
				slog.WarnContext(ctx, "password rehash failed", "account_id", account.ID, "error", err.Error())
			}
		}
	}

	if err := s.lockout.RecordSuccess(account.ID); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, domain.AuditActionLogin, &account.ID, meta, nil)
	observability.RecordLoginAttempt(ctx, "success")

	pair, err := s.tokenSvc.Issue(account, meta)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Account:             account.Summary(),
		AccessToken:         pair.AccessToken,
		RefreshToken:        pair.RefreshToken,
		ExpiresAt:           pair.AccessExpiresAt,
		ForcePasswordChange: account.ForcePasswordChange,
	}, nil
}

func (s *AuthService) handleFailedPassword(ctx context.Context, account *domain.Account, meta RequestMeta) error {
	decision, err := s.lockout.RecordFailure(account.ID)
	if err != nil {
		return err
	}
	details := map[string]any{
		"reason":   "bad_password",
		"attempts": decision.Attempts,
	}
	s.audit.Record(ctx, domain.AuditActionLoginFailed, &account.ID, meta, details)
	observability.RecordLoginAttempt(ctx, "failed")
	if decision.LockTriggered {
		s.audit.Record(ctx, domain.AuditActionAccountLocked, &account.ID, meta, map[string]any{
			"attempts":  decision.Attempts,
			"unlock_at": decision.UnlockAt,
		})
		observability.RecordLockoutArmed(ctx)
	}
	if decision.Locked {
		return &AccountLockedError{UnlockAt: decision.UnlockAt}
	}
	return ErrInvalidCredentials
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string, accountID uint, meta RequestMeta) {
	s.tokenSvc.Revoke(ctx, refreshToken)
	s.audit.Record(ctx, domain.AuditActionLogout, &accountID, meta, nil)
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*LoginResult, error) {
	account, pair, err := s.tokenSvc.Rotate(ctx, refreshToken, s.accounts.FindByID, meta)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}
	return &LoginResult{
		Account:             account.Summary(),
		AccessToken:         pair.AccessToken,
		RefreshToken:        pair.RefreshToken,
		ExpiresAt:           pair.AccessExpiresAt,
		ForcePasswordChange: account.ForcePasswordChange,
	}, nil
}

// RequestPasswordReset always reports success to the caller. Unknown
// emails do nothing beyond the audit trail, so the endpoint cannot be used
// to enumerate registered addresses.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, meta RequestMeta) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil
	}
	account, err := s.accounts.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			s.audit.Record(ctx, domain.AuditActionPasswordResetRequested, nil, meta, map[string]any{"email": email, "known": false})
			return nil
		}
		return err
	}

	token, err := s.tokens.Issue(account.ID, domain.TokenKindPasswordReset, meta.IP)
	if err != nil {
		return err
	}
	observability.RecordTokenIssued(ctx, string(domain.TokenKindPasswordReset))
	s.audit.Record(ctx, domain.AuditActionPasswordResetRequested, &account.ID, meta, nil)

	resetURL, err := tokenLink(s.cfg.PasswordResetBaseURL, token.Value)
	if err != nil {
		return err
	}
	if err := s.notifier.SendPasswordReset(ctx, PasswordResetNotification{
		AccountID: account.ID,
		Email:     account.Email,
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
		ResetURL:  resetURL,
	}); err != nil {
		slog.ErrorContext(ctx, "password reset mail failed", "account_id", account.ID, "error", err.Error())
	}
	return nil
}

func (s *AuthService) ConfirmPasswordReset(ctx context.Context, tokenValue, newPassword string, meta RequestMeta) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	token, err := s.tokens.Consume(tokenValue, domain.TokenKindPasswordReset)
	if err != nil {
		observability.RecordTokenRejected(ctx, string(domain.TokenKindPasswordReset))
		return err
	}
	if err := s.setPassword(ctx, token.AccountID, newPassword); err != nil {
		return err
	}
	observability.RecordTokenConsumed(ctx, string(domain.TokenKindPasswordReset))
	s.audit.Record(ctx, domain.AuditActionPasswordResetConfirmed, &token.AccountID, meta, nil)
	return nil
}

func (s *AuthService) ChangePassword(ctx context.Context, accountID uint, currentPassword, newPassword string, meta RequestMeta) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	account, err := s.accounts.FindByID(accountID)
	if err != nil {
		return err
	}
	ok, err := security.VerifyPassword(account.PasswordHash, currentPassword)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if currentPassword == newPassword {
		return &ValidationError{Field: "password", Reason: "must differ from current password"}
	}
	if err := s.setPassword(ctx, accountID, newPassword); err != nil {
		return err
	}
	s.audit.Record(ctx, domain.AuditActionPasswordChanged, &accountID, meta, nil)
	return nil
}

// setPassword stores the new hash and revokes every outstanding session.
// The repository update also clears force_password_change and stamps
// password_changed_at.
func (s *AuthService) setPassword(ctx context.Context, accountID uint, newPassword string) error {
	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(accountID, hash, time.Now().UTC()); err != nil {
		return err
	}
	if _, err := s.tokenSvc.RevokeAll(accountID); err != nil {
		slog.WarnContext(ctx, "session revoke after password change failed", "account_id", accountID, "error", err.Error())
	}
	return nil
}

func (s *AuthService) RequestEmailVerification(ctx context.Context, accountID uint, meta RequestMeta) error {
	account, err := s.accounts.FindByID(accountID)
	if err != nil {
		return err
	}
	if account.EmailVerified {
		return nil
	}
	s.sendEmailVerification(ctx, account, meta)
	return nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, tokenValue string, meta RequestMeta) error {
	token, err := s.tokens.Consume(tokenValue, domain.TokenKindEmailVerify)
	if err != nil {
		observability.RecordTokenRejected(ctx, string(domain.TokenKindEmailVerify))
		return err
	}
	if err := s.accounts.MarkEmailVerified(token.AccountID, time.Now().UTC()); err != nil {
		return err
	}
	observability.RecordTokenConsumed(ctx, string(domain.TokenKindEmailVerify))
	s.audit.Record(ctx, domain.AuditActionEmailVerified, &token.AccountID, meta, nil)
	return nil
}

// Unlock clears an account's lockout on behalf of an administrator.
func (s *AuthService) Unlock(ctx context.Context, accountID, adminID uint) error {
	if err := s.lockout.Unlock(accountID); err != nil {
		return err
	}
	s.audit.RecordAdmin(ctx, domain.AuditActionAccountUnlocked, &accountID, adminID, map[string]any{"mode": "manual"})
	return nil
}

// SetForcePasswordChange flips the administrative flag that requires a new
// password on the account's next login. Any successful password set clears
// it again.
func (s *AuthService) SetForcePasswordChange(ctx context.Context, accountID, adminID uint, force bool) error {
	if err := s.accounts.SetForcePasswordChange(accountID, force); err != nil {
		return err
	}
	s.audit.RecordAdmin(ctx, domain.AuditActionAdminAction, &accountID, adminID, map[string]any{
		"op":    "force_password_change",
		"force": force,
	})
	return nil
}

// SetActive soft-activates or deactivates an account. Deactivation revokes
// every outstanding session so already-issued refresh tokens die with it.
func (s *AuthService) SetActive(ctx context.Context, accountID, adminID uint, active bool) error {
	if err := s.accounts.SetActive(accountID, active); err != nil {
		return err
	}
	if !active {
		if _, err := s.tokenSvc.RevokeAll(accountID); err != nil {
			slog.WarnContext(ctx, "session revoke after deactivation failed", "account_id", accountID, "error", err.Error())
		}
	}
	s.audit.RecordAdmin(ctx, domain.AuditActionAdminAction, &accountID, adminID, map[string]any{
		"op":     "set_active",
		"active": active,
	})
	return nil
}

func (s *AuthService) GetAccount(accountID uint) (*domain.Account, error) {
	return s.accounts.FindByID(accountID)
}

func (s *AuthService) ParseAccountID(subject string) (uint, error) {
	id, err := strconv.ParseUint(subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token subject")
	}
	return uint(id), nil
}

// sendEmailVerification issues (or re-issues) the verify token and mails
// it. Delivery failures are logged and swallowed: the account flow never
// depends on the mail path.
func (s *AuthService) sendEmailVerification(ctx context.Context, account *domain.Account, meta RequestMeta) {
	token, err := s.tokens.Issue(account.ID, domain.TokenKindEmailVerify, meta.IP)
	if err != nil {
		slog.ErrorContext(ctx, "email verify token issue failed", "account_id", account.ID, "error", err.Error())
		return
	}
	observability.RecordTokenIssued(ctx, string(domain.TokenKindEmailVerify))
	verifyURL, err := tokenLink(s.cfg.EmailVerifyBaseURL, token.Value)
	if err != nil {
		slog.ErrorContext(ctx, "email verify link build failed", "account_id", account.ID, "error", err.Error())
		return
	}
	if err := s.notifier.SendEmailVerification(ctx, VerificationNotification{
		AccountID:       account.ID,
		Email:           account.Email,
		Token:           token.Value,
		ExpiresAt:       token.ExpiresAt,
		VerificationURL: verifyURL,
	}); err != nil {
		slog.ErrorContext(ctx, "email verification mail failed", "account_id", account.ID, "error", err.Error())
	}
}

func validateEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: "email", Reason: "required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &ValidationError{Field: "email", Reason: "not a valid address"}
	}
	return nil
}

func validateUsername(username string) error {
	if !usernameRe.MatchString(username) {
		return &ValidationError{Field: "username", Reason: "must be 3-150 characters of letters, digits, '_', '.' or '-'"}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 || !uppercaseRe.MatchString(password) ||
		!lowercaseRe.MatchString(password) || !digitRe.MatchString(password) || !specialRe.MatchString(password) {
		return ErrWeakPassword
	}
	return nil
}
