package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tradeprohub/account-service/internal/domain"
	"github.com/tradeprohub/account-service/internal/repository"
	"github.com/tradeprohub/account-service/internal/security"
)

const blacklistKeyPrefix = "auth:refresh:blacklist:"

// TokenService issues the JWT pair, persists refresh sessions, and keeps
// the redis-backed blacklist of refresh tokens revoked before expiry. The
// blacklist fails open: if redis is down a revoked-but-unexpired token is
// still rejected by the session table, just without the fast path.
type TokenService struct {
	jwtMgr   *security.JWTManager
	sessions repository.SessionRepository
	rdb      *redis.Client
	now      func() time.Time
}

func NewTokenService(jwtMgr *security.JWTManager, sessions repository.SessionRepository, rdb *redis.Client) *TokenService {
	return &TokenService{jwtMgr: jwtMgr, sessions: sessions, rdb: rdb, now: time.Now}
}

type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

func (s *TokenService) Issue(account *domain.Account, meta RequestMeta) (*TokenPair, error) {
	access, err := s.jwtMgr.SignAccessToken(account.ID, account.Email)
	if err != nil {
		return nil, err
	}
	refresh, err := s.jwtMgr.SignRefreshToken(account.ID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	session := &domain.Session{
		AccountID:        account.ID,
		RefreshTokenHash: s.jwtMgr.HashRefreshToken(refresh.Value),
		TokenID:          refresh.TokenID,
		UserAgent:        meta.UserAgent,
		IP:               meta.IP,
		ExpiresAt:        refresh.ExpiresAt,
		LastActivityAt:   now,
	}
	if err := s.sessions.Create(session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &TokenPair{
		AccessToken:      access.Value,
		RefreshToken:     refresh.Value,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// Rotate exchanges a live refresh token for a fresh pair, revoking the old
// session. Blacklisted, revoked, expired, and unknown tokens all surface as
// ErrSessionInvalid.
func (s *TokenService) Rotate(ctx context.Context, refreshToken string, fetch func(id uint) (*domain.Account, error), meta RequestMeta) (*domain.Account, *TokenPair, error) {
	claims, err := s.jwtMgr.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, nil, ErrSessionInvalid
	}
	blacklisted, err := s.isBlacklisted(ctx, claims.ID)
	if err != nil {
		slog.WarnContext(ctx, "refresh blacklist check failed", "error", err.Error())
	} else if blacklisted {
		return nil, nil, ErrSessionInvalid
	}
	now := s.now().UTC()
	hash := s.jwtMgr.HashRefreshToken(refreshToken)
	session, err := s.sessions.FindActiveByHash(hash, now)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, nil, ErrSessionInvalid
		}
		return nil, nil, err
	}
	id64, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || session.AccountID != uint(id64) {
		return nil, nil, ErrSessionInvalid
	}
	if err := s.sessions.RevokeByHash(hash, now); err != nil {
		return nil, nil, err
	}
	account, err := fetch(session.AccountID)
	if err != nil {
		return nil, nil, err
	}
	pair, err := s.Issue(account, meta)
	if err != nil {
		return nil, nil, err
	}
	return account, pair, nil
}

// Revoke ends the session behind a refresh token and blacklists its jti
// until the token's natural expiry. Both steps fail open: a logout never
// errors because a backing store hiccuped.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) {
	claims, err := s.jwtMgr.ParseRefreshToken(refreshToken)
	if err != nil {
		return
	}
	now := s.now().UTC()
	hash := s.jwtMgr.HashRefreshToken(refreshToken)
	if err := s.sessions.RevokeByHash(hash, now); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		slog.WarnContext(ctx, "session revoke failed on logout", "error", err.Error())
	}
	if claims.ExpiresAt == nil {
		return
	}
	ttl := claims.ExpiresAt.Time.Sub(now)
	if ttl <= 0 {
		return
	}
	if err := s.blacklist(ctx, claims.ID, ttl); err != nil {
		slog.WarnContext(ctx, "refresh blacklist write failed on logout", "error", err.Error())
	}
}

// RevokeAll ends every active session for the account, used after password
// changes and admin deactivation.
func (s *TokenService) RevokeAll(accountID uint) (int64, error) {
	return s.sessions.RevokeByAccount(accountID, s.now().UTC())
}

func (s *TokenService) ParseAccessToken(value string) (*security.Claims, error) {
	return s.jwtMgr.ParseAccessToken(value)
}

func (s *TokenService) blacklist(ctx context.Context, tokenID string, ttl time.Duration) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Set(ctx, blacklistKeyPrefix+tokenID, "1", ttl).Err()
}

func (s *TokenService) isBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	if s.rdb == nil {
		return false, nil
	}
	n, err := s.rdb.Exists(ctx, blacklistKeyPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
