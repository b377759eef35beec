package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tradeprohub/account-service/internal/config"
	"github.com/tradeprohub/account-service/internal/database"
	"github.com/tradeprohub/account-service/internal/http/handler"
	"github.com/tradeprohub/account-service/internal/repository"
	"github.com/tradeprohub/account-service/internal/security"
	"github.com/tradeprohub/account-service/internal/service"
)

const lifecyclePassword = "Correct#Horse1"

// captureNotifier keeps issued tokens so tests can complete verify and
// reset flows end to end.
type captureNotifier struct {
	mu            sync.Mutex
	verifications []service.VerificationNotification
	resets        []service.PasswordResetNotification
}

func (n *captureNotifier) SendEmailVerification(_ context.Context, msg service.VerificationNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifications = append(n.verifications, msg)
	return nil
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, msg service.PasswordResetNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, msg)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *captureNotifier) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := &config.Config{
		LockoutThreshold:      3,
		LockoutDuration:       30 * time.Minute,
		EmailVerifyTokenTTL:   24 * time.Hour,
		PasswordResetTokenTTL: time.Hour,
		EmailVerifyBaseURL:    "https://app.tradeprohub.test/verify-email",
		PasswordResetBaseURL:  "https://app.tradeprohub.test/reset-password",
	}

	accountRepo := repository.NewAccountRepository(db)
	tokenRepo := repository.NewVerificationTokenRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	sessionRepo := repository.NewSessionRepository(db)

	jwtMgr := security.NewJWTManager(security.JWTConfig{
		Issuer:        "tradeprohub-account-service",
		Audience:      "tradeprohub-api",
		AccessSecret:  strings.Repeat("a", 32),
		RefreshSecret: strings.Repeat("b", 32),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    168 * time.Hour,
		Pepper:        strings.Repeat("p", 16),
	})

	notifier := &captureNotifier{}
	lockout := service.NewLockoutPolicy(accountRepo, cfg.LockoutThreshold, cfg.LockoutDuration)
	store := service.NewTokenStore(tokenRepo, cfg.EmailVerifyTokenTTL, cfg.PasswordResetTokenTTL)
	tokenSvc := service.NewTokenService(jwtMgr, sessionRepo, nil)
	authSvc := service.NewAuthService(cfg, accountRepo, lockout, store, tokenSvc, service.NewAuditRecorder(auditRepo), notifier)

	h := NewRouter(Dependencies{
		AuthHandler: handler.NewAuthHandler(authSvc),
		JWTManager:  jwtMgr,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, notifier
}

type envelope struct {
	Account struct {
		ID    uint   `json:"id"`
		Email string `json:"email"`
	} `json:"account"`
	AccessToken         string `json:"access_token"`
	RefreshToken        string `json:"refresh_token"`
	ForcePasswordChange bool   `json:"force_password_change"`
	Status              string `json:"status"`
	Error               *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func postJSON(t *testing.T, srv *httptest.Server, path, bearer string, body any) (int, *envelope) {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, &env
}

func getJSON(t *testing.T, srv *httptest.Server, path, bearer string) (int, *envelope) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, &env
}

func register(t *testing.T, srv *httptest.Server, email, username string) *envelope {
	t.Helper()
	code, env := postJSON(t, srv, "/api/v1/auth/register", "", map[string]string{
		"email":    email,
		"username": username,
		"password": lifecyclePassword,
	})
	if code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%+v)", code, env.Error)
	}
	return env
}

func TestAuthLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	reg := register(t, srv, "lifecycle@example.com", "lifecycle")
	if reg.AccessToken == "" || reg.RefreshToken == "" {
		t.Fatal("expected token pair on registration")
	}

	code, login := postJSON(t, srv, "/api/v1/auth/login", "", map[string]string{
		"email":    "lifecycle@example.com",
		"password": lifecyclePassword,
	})
	if code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%+v)", code, login.Error)
	}

	code, me := getJSON(t, srv, "/api/v1/me", login.AccessToken)
	if code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", code)
	}
	if me.Account.Email != "lifecycle@example.com" {
		t.Fatalf("unexpected me payload %+v", me.Account)
	}

	code, refreshed := postJSON(t, srv, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": login.RefreshToken,
	})
	if code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d (%+v)", code, refreshed.Error)
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Fatal("expected rotated refresh token")
	}

	// The pre-rotation token is dead.
	code, env := postJSON(t, srv, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": login.RefreshToken,
	})
	if code != http.StatusUnauthorized || env.Error == nil || env.Error.Code != "SESSION_INVALID" {
		t.Fatalf("expected 401 SESSION_INVALID on replay, got %d (%+v)", code, env.Error)
	}

	code, _ = postJSON(t, srv, "/api/v1/auth/logout", refreshed.AccessToken, map[string]string{
		"refresh_token": refreshed.RefreshToken,
	})
	if code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", code)
	}
	code, env = postJSON(t, srv, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": refreshed.RefreshToken,
	})
	if code != http.StatusUnauthorized || env.Error == nil || env.Error.Code != "SESSION_INVALID" {
		t.Fatalf("expected refresh after logout rejected, got %d (%+v)", code, env.Error)
	}
}

func TestLoginLockoutReturns423(t *testing.T) {
	srv, _ := newTestServer(t)
	register(t, srv, "lockout@example.com", "lockout")

	for i := 1; i <= 2; i++ {
		code, env := postJSON(t, srv, "/api/v1/auth/login", "", map[string]string{
			"email":    "lockout@example.com",
			"password": "Wrong#Pass999",
		})
		if code != http.StatusUnauthorized || env.Error == nil || env.Error.Code != "INVALID_CREDENTIALS" {
			t.Fatalf("attempt %d: expected 401 INVALID_CREDENTIALS, got %d (%+v)", i, code, env.Error)
		}
	}

	code, env := postJSON(t, srv, "/api/v1/auth/login", "", map[string]string{
		"email":    "lockout@example.com",
		"password": "Wrong#Pass999",
	})
	if code != http.StatusLocked || env.Error == nil || env.Error.Code != "ACCOUNT_LOCKED" {
		t.Fatalf("expected 423 ACCOUNT_LOCKED, got %d (%+v)", code, env.Error)
	}
	if env.Error.Details["unlock_at"] == nil {
		t.Fatalf("expected unlock_at in error details, got %+v", env.Error.Details)
	}

	// The correct password is also refused while locked.
	code, env = postJSON(t, srv, "/api/v1/auth/login", "", map[string]string{
		"email":    "lockout@example.com",
		"password": lifecyclePassword,
	})
	if code != http.StatusLocked {
		t.Fatalf("expected lock to block correct password, got %d (%+v)", code, env.Error)
	}
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	register(t, srv, "dup@example.com", "dupuser")

	code, env := postJSON(t, srv, "/api/v1/auth/register", "", map[string]string{
		"email":    "dup@example.com",
		"username": "otheruser",
		"password": lifecyclePassword,
	})
	if code != http.StatusConflict || env.Error == nil || env.Error.Code != "EMAIL_TAKEN" {
		t.Fatalf("expected 409 EMAIL_TAKEN, got %d (%+v)", code, env.Error)
	}
	code, env = postJSON(t, srv, "/api/v1/auth/register", "", map[string]string{
		"email":    "other@example.com",
		"username": "dupuser",
		"password": lifecyclePassword,
	})
	if code != http.StatusConflict || env.Error == nil || env.Error.Code != "USERNAME_TAKEN" {
		t.Fatalf("expected 409 USERNAME_TAKEN, got %d (%+v)", code, env.Error)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	srv, notifier := newTestServer(t)
	register(t, srv, "forgot@example.com", "forgot")

	code, _ := postJSON(t, srv, "/api/v1/auth/password/forgot", "", map[string]string{
		"email": "forgot@example.com",
	})
	if code != http.StatusAccepted {
		t.Fatalf("forgot: expected 202, got %d", code)
	}
	// Unknown emails get the same answer.
	code, _ = postJSON(t, srv, "/api/v1/auth/password/forgot", "", map[string]string{
		"email": "ghost@example.com",
	})
	if code != http.StatusAccepted {
		t.Fatalf("forgot unknown: expected 202, got %d", code)
	}
	if len(notifier.resets) != 1 {
		t.Fatalf("expected exactly 1 reset mail, got %d", len(notifier.resets))
	}
	token := notifier.resets[0].Token

	code, env := postJSON(t, srv, "/api/v1/auth/password/reset", "", map[string]string{
		"token":        token,
		"new_password": "Fresh#Stable22",
	})
	if code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d (%+v)", code, env.Error)
	}

	code, env = postJSON(t, srv, "/api/v1/auth/login", "", map[string]string{
		"email":    "forgot@example.com",
		"password": "Fresh#Stable22",
	})
	if code != http.StatusOK {
		t.Fatalf("login with new password: expected 200, got %d (%+v)", code, env.Error)
	}

	code, env = postJSON(t, srv, "/api/v1/auth/password/reset", "", map[string]string{
		"token":        token,
		"new_password": "Another#Pass33",
	})
	if code != http.StatusBadRequest || env.Error == nil || env.Error.Code != "TOKEN_USED" {
		t.Fatalf("expected 400 TOKEN_USED on replay, got %d (%+v)", code, env.Error)
	}
}

func TestEmailVerificationFlow(t *testing.T) {
	srv, notifier := newTestServer(t)
	register(t, srv, "newmail@example.com", "newmail")

	if len(notifier.verifications) != 1 {
		t.Fatalf("expected 1 verification mail, got %d", len(notifier.verifications))
	}
	token := notifier.verifications[0].Token

	code, env := postJSON(t, srv, "/api/v1/auth/verify/confirm", "", map[string]string{"token": token})
	if code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d (%+v)", code, env.Error)
	}
	code, env = postJSON(t, srv, "/api/v1/auth/verify/confirm", "", map[string]string{"token": token})
	if code != http.StatusBadRequest || env.Error == nil || env.Error.Code != "TOKEN_USED" {
		t.Fatalf("expected 400 TOKEN_USED on replay, got %d (%+v)", code, env.Error)
	}
	code, env = postJSON(t, srv, "/api/v1/auth/verify/confirm", "", map[string]string{"token": "bogus"})
	if code != http.StatusBadRequest || env.Error == nil || env.Error.Code != "TOKEN_INVALID" {
		t.Fatalf("expected 400 TOKEN_INVALID, got %d (%+v)", code, env.Error)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	srv, _ := newTestServer(t)

	code, env := getJSON(t, srv, "/api/v1/me", "")
	if code != http.StatusUnauthorized || env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("expected 401 UNAUTHORIZED, got %d (%+v)", code, env.Error)
	}
	code, _ = getJSON(t, srv, "/api/v1/me", "garbage-token")
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	code, _ := getJSON(t, srv, "/health/live", "")
	if code != http.StatusOK {
		t.Fatalf("live: expected 200, got %d", code)
	}
	// With no probe runner wired the readiness endpoint reports ready.
	code, _ = getJSON(t, srv, "/health/ready", "")
	if code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", code)
	}
}
