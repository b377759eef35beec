package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tradeprohub/account-service/internal/http/middleware"
	"github.com/tradeprohub/account-service/internal/http/response"
	"github.com/tradeprohub/account-service/internal/observability"
	"github.com/tradeprohub/account-service/internal/service"
)

type AuthHandler struct {
	authSvc *service.AuthService
}

func NewAuthHandler(authSvc *service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

func (h *AuthHandler) meta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{IP: clientIP(r), UserAgent: r.UserAgent()}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "register", status, time.Since(start))
	}()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	result, err := h.authSvc.Register(r.Context(), req.Email, req.Username, req.Password, h.meta(r))
	if err != nil {
		status = "failure"
		writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.register.success", "account_id", result.Account.ID)
	response.JSON(w, r, http.StatusCreated, loginResponse(result))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "login", status, time.Since(start))
	}()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	result, err := h.authSvc.Login(r.Context(), req.Email, req.Password, h.meta(r))
	if err != nil {
		status = "failure"
		observability.Audit(r, "auth.login.failed")
		writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.login.success", "account_id", result.Account.ID)
	response.JSON(w, r, http.StatusOK, loginResponse(result))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "refresh", status, time.Since(start))
	}()

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing refresh token", nil)
		return
	}
	result, err := h.authSvc.Refresh(r.Context(), req.RefreshToken, h.meta(r))
	if err != nil {
		status = "failure"
		writeAuthError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, loginResponse(result))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "logout", status, time.Since(start))
	}()

	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		status = "failure"
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	accountID, err := h.authSvc.ParseAccountID(claims.Subject)
	if err != nil {
		status = "failure"
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid subject", nil)
		return
	}
	var req refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	h.authSvc.Logout(r.Context(), req.RefreshToken, accountID, h.meta(r))
	observability.Audit(r, "auth.logout", "account_id", accountID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) PasswordForgot(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "password_forgot", status, time.Since(start))
	}()

	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := h.authSvc.RequestPasswordReset(r.Context(), req.Email, h.meta(r)); err != nil {
		status = "failure"
		writeAuthError(w, r, err)
		return
	}
	// Identical response for known and unknown emails.
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "reset_requested"})
}

type passwordResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "password_reset", status, time.Since(start))
	}()

	var req passwordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := h.authSvc.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword, h.meta(r)); err != nil {
		status = "failure"
		writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.password.reset")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_reset"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "change_password", status, time.Since(start))
	}()

	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		status = "failure"
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	accountID, err := h.authSvc.ParseAccountID(claims.Subject)
	if err != nil {
		status = "failure"
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid subject", nil)
		return
	}
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := h.authSvc.ChangePassword(r.Context(), accountID, req.CurrentPassword, req.NewPassword, h.meta(r)); err != nil {
		status = "failure"
		writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.password.changed", "account_id", accountID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_changed"})
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (h *AuthHandler) VerifyEmailConfirm(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "verify_email", status, time.Since(start))
	}()

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := h.authSvc.VerifyEmail(r.Context(), req.Token, h.meta(r)); err != nil {
		status = "failure"
		writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.email.verified")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "email_verified"})
}

func (h *AuthHandler) VerifyEmailRequest(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	accountID, err := h.authSvc.ParseAccountID(claims.Subject)
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid subject", nil)
		return
	}
	if err := h.authSvc.RequestEmailVerification(r.Context(), accountID, h.meta(r)); err != nil {
		writeAuthError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "verification_sent"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	accountID, err := h.authSvc.ParseAccountID(claims.Subject)
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid subject", nil)
		return
	}
	account, err := h.authSvc.GetAccount(accountID)
	if err != nil {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "account not found", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"account": account.Summary()})
}

func loginResponse(result *service.LoginResult) map[string]any {
	return map[string]any{
		"account":               result.Account,
		"access_token":          result.AccessToken,
		"refresh_token":         result.RefreshToken,
		"expires_at":            result.ExpiresAt,
		"force_password_change": result.ForcePasswordChange,
	}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var lockedErr *service.AccountLockedError
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &lockedErr):
		response.Error(w, r, http.StatusLocked, "ACCOUNT_LOCKED", "account temporarily locked", map[string]any{
			"unlock_at": lockedErr.UnlockAt,
		})
	case errors.As(err, &validationErr):
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", validationErr.Error(), map[string]any{
			"field": validationErr.Field,
		})
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
	case errors.Is(err, service.ErrAccountInactive):
		response.Error(w, r, http.StatusForbidden, "ACCOUNT_INACTIVE", "account is deactivated", nil)
	case errors.Is(err, service.ErrEmailUnverified):
		response.Error(w, r, http.StatusForbidden, "EMAIL_UNVERIFIED", "email verification required", nil)
	case errors.Is(err, service.ErrEmailTaken):
		response.Error(w, r, http.StatusConflict, "EMAIL_TAKEN", "email already registered", nil)
	case errors.Is(err, service.ErrUsernameTaken):
		response.Error(w, r, http.StatusConflict, "USERNAME_TAKEN", "username already taken", nil)
	case errors.Is(err, service.ErrWeakPassword):
		response.Error(w, r, http.StatusBadRequest, "WEAK_PASSWORD", err.Error(), nil)
	case errors.Is(err, service.ErrTokenNotFound):
		response.Error(w, r, http.StatusBadRequest, "TOKEN_INVALID", "token not recognized", nil)
	case errors.Is(err, service.ErrTokenExpired):
		response.Error(w, r, http.StatusBadRequest, "TOKEN_EXPIRED", "token has expired", nil)
	case errors.Is(err, service.ErrTokenUsed):
		response.Error(w, r, http.StatusBadRequest, "TOKEN_USED", "token already used", nil)
	case errors.Is(err, service.ErrSessionInvalid):
		response.Error(w, r, http.StatusUnauthorized, "SESSION_INVALID", "invalid refresh token", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}
