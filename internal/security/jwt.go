package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenInvalid   = errors.New("token invalid")
	ErrTokenWrongType = errors.New("token has wrong type")
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type Claims struct {
	TokenType string `json:"typ"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type JWTConfig struct {
	Issuer        string
	Audience      string
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Pepper        string
}

// JWTManager signs and parses the access/refresh token pair. Access and
// refresh tokens use distinct secrets so one leaking does not compromise
// the other.
type JWTManager struct {
	cfg JWTConfig
	now func() time.Time
}

func NewJWTManager(cfg JWTConfig) *JWTManager {
	return &JWTManager{cfg: cfg, now: time.Now}
}

type SignedToken struct {
	Value     string
	TokenID   string
	ExpiresAt time.Time
}

func (m *JWTManager) SignAccessToken(accountID uint, email string) (*SignedToken, error) {
	return m.sign(TokenTypeAccess, accountID, email, m.cfg.AccessSecret, m.cfg.AccessTTL)
}

func (m *JWTManager) SignRefreshToken(accountID uint) (*SignedToken, error) {
	return m.sign(TokenTypeRefresh, accountID, "", m.cfg.RefreshSecret, m.cfg.RefreshTTL)
}

func (m *JWTManager) sign(typ string, accountID uint, email, secret string, ttl time.Duration) (*SignedToken, error) {
	now := m.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		TokenType: typ,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.cfg.Issuer,
			Audience:  jwt.ClaimStrings{m.cfg.Audience},
			Subject:   fmt.Sprintf("%d", accountID),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return &SignedToken{Value: value, TokenID: claims.ID, ExpiresAt: expiresAt}, nil
}

func (m *JWTManager) ParseAccessToken(value string) (*Claims, error) {
	return m.parse(value, TokenTypeAccess, m.cfg.AccessSecret)
}

func (m *JWTManager) ParseRefreshToken(value string) (*Claims, error) {
	return m.parse(value, TokenTypeRefresh, m.cfg.RefreshSecret)
}

func (m *JWTManager) parse(value, wantType, secret string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(value, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return []byte(secret), nil
	},
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithAudience(m.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != wantType {
		return nil, ErrTokenWrongType
	}
	return &claims, nil
}

// HashRefreshToken produces the at-rest form of a refresh token. The pepper
// keeps a leaked sessions table from being matched against captured tokens.
func (m *JWTManager) HashRefreshToken(value string) string {
	mac := hmac.New(sha256.New, []byte(m.cfg.Pepper))
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
