package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tradeprohub/account-service/internal/health"
	"github.com/tradeprohub/account-service/internal/http/handler"
	"github.com/tradeprohub/account-service/internal/http/middleware"
	"github.com/tradeprohub/account-service/internal/http/response"
	"github.com/tradeprohub/account-service/internal/security"
)

type Dependencies struct {
	AuthHandler    *handler.AuthHandler
	JWTManager     *security.JWTManager
	Readiness      *health.ProbeRunner
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	authed := middleware.AuthMiddleware(dep.JWTManager)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", dep.AuthHandler.Register)
			r.Post("/login", dep.AuthHandler.Login)
			r.Post("/refresh", dep.AuthHandler.Refresh)
			r.With(authed).Post("/logout", dep.AuthHandler.Logout)
			r.Post("/verify/confirm", dep.AuthHandler.VerifyEmailConfirm)
			r.With(authed).Post("/verify/request", dep.AuthHandler.VerifyEmailRequest)
			r.Post("/password/forgot", dep.AuthHandler.PasswordForgot)
			r.Post("/password/reset", dep.AuthHandler.PasswordReset)
			r.With(authed).Post("/password/change", dep.AuthHandler.ChangePassword)
		})
		r.With(authed).Get("/me", dep.AuthHandler.Me)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
