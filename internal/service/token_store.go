package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/tradeprohub/account-service/internal/domain"
	"github.com/tradeprohub/account-service/internal/repository"
	"github.com/tradeprohub/account-service/internal/security"
)

// TokenStore issues and redeems single-use opaque tokens for email
// verification and password reset. Re-requesting while an unexpired unused
// token of the same kind exists returns that token instead of minting a new
// one, so a user mashing "resend" keeps getting a working link.
type TokenStore struct {
	tokens           repository.VerificationTokenRepository
	emailVerifyTTL   time.Duration
	passwordResetTTL time.Duration
	now              func() time.Time
}

func NewTokenStore(tokens repository.VerificationTokenRepository, emailVerifyTTL, passwordResetTTL time.Duration) *TokenStore {
	return &TokenStore{
		tokens:           tokens,
		emailVerifyTTL:   emailVerifyTTL,
		passwordResetTTL: passwordResetTTL,
		now:              time.Now,
	}
}

func (ts *TokenStore) ttl(kind domain.TokenKind) (time.Duration, error) {
	switch kind {
	case domain.TokenKindEmailVerify:
		return ts.emailVerifyTTL, nil
	case domain.TokenKindPasswordReset:
		return ts.passwordResetTTL, nil
	default:
		return 0, fmt.Errorf("unknown token kind %q", kind)
	}
}

// Issue returns a valid token of the given kind for the account, reusing an
// outstanding one when possible. requestIP is recorded on password reset
// tokens for the audit trail.
func (ts *TokenStore) Issue(accountID uint, kind domain.TokenKind, requestIP string) (*domain.VerificationToken, error) {
	ttl, err := ts.ttl(kind)
	if err != nil {
		return nil, err
	}
	now := ts.now().UTC()

	existing, err := ts.tokens.FindActiveByAccountKind(accountID, kind, now)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrVerificationTokenNotFound) {
		return nil, fmt.Errorf("look up active token: %w", err)
	}

	value, err := security.NewTokenValue()
	if err != nil {
		return nil, err
	}
	token := &domain.VerificationToken{
		Value:     value,
		AccountID: accountID,
		Kind:      kind,
		ExpiresAt: now.Add(ttl),
	}
	if kind == domain.TokenKindPasswordReset {
		token.RequestIP = requestIP
	}
	if err := ts.tokens.Create(token); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return token, nil
}

// Validate classifies a presented value without consuming it:
// ErrTokenNotFound (unknown value or wrong kind), ErrTokenExpired,
// ErrTokenUsed, or nil with the live token.
func (ts *TokenStore) Validate(value string, kind domain.TokenKind) (*domain.VerificationToken, error) {
	if value == "" {
		return nil, ErrTokenNotFound
	}
	token, err := ts.tokens.FindByValue(value)
	if err != nil {
		if errors.Is(err, repository.ErrVerificationTokenNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("look up token: %w", err)
	}
	if token.Kind != kind {
		return nil, ErrTokenNotFound
	}
	if token.Used {
		return nil, ErrTokenUsed
	}
	if token.Expired(ts.now().UTC()) {
		return nil, ErrTokenExpired
	}
	return token, nil
}

// Consume validates and marks the token used. Losing the conditional update
// race to a concurrent consumer surfaces as ErrTokenUsed.
func (ts *TokenStore) Consume(value string, kind domain.TokenKind) (*domain.VerificationToken, error) {
	token, err := ts.Validate(value, kind)
	if err != nil {
		return nil, err
	}
	consumed, err := ts.tokens.Consume(token.ID, ts.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	if !consumed {
		return nil, ErrTokenUsed
	}
	return token, nil
}
