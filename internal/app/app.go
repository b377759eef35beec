package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/tradeprohub/account-service/internal/config"
	"github.com/tradeprohub/account-service/internal/database"
	"github.com/tradeprohub/account-service/internal/health"
	"github.com/tradeprohub/account-service/internal/http/handler"
	"github.com/tradeprohub/account-service/internal/http/router"
	"github.com/tradeprohub/account-service/internal/observability"
	"github.com/tradeprohub/account-service/internal/repository"
	"github.com/tradeprohub/account-service/internal/security"
	"github.com/tradeprohub/account-service/internal/service"
)

type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Server          *http.Server
	Observability   *observability.Runtime
	DB              *gorm.DB
	Redis           *redis.Client
	ShutdownTimeout time.Duration
}

// Build wires the whole service. Wiring is explicit and ordered: config,
// observability, stores, repositories, services, HTTP.
func Build(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	bootstrapLogger := observability.NewBootstrapLogger(cfg)
	runtime, err := observability.InitRuntime(ctx, cfg, bootstrapLogger)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}
	logger := observability.InitLogger(cfg, runtime.LoggerProvider)

	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(redisOpts)
		observability.InstrumentRedisClient(rdb, logger)
	} else {
		logger.Warn("redis not configured, refresh blacklist disabled")
	}

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

	lockout := service.NewLockoutPolicy(accountRepo, cfg.LockoutThreshold, cfg.LockoutDuration)
	tokenStore := service.NewTokenStore(tokenRepo, cfg.EmailVerifyTokenTTL, cfg.PasswordResetTokenTTL)
	auditRec := service.NewAuditRecorder(auditRepo)
	tokenSvc := service.NewTokenService(jwtMgr, sessionRepo, rdb)
	notifier := service.NewDevMailNotifier(logger)
	authSvc := service.NewAuthService(cfg, accountRepo, lockout, tokenStore, tokenSvc, auditRec, notifier)

	checkers := []health.Checker{health.NewDBChecker(db)}
	if rdb != nil {
		checkers = append(checkers, health.NewRedisChecker(rdb))
	}
	readiness := health.NewProbeRunner(2*time.Second, 3*time.Second, checkers...)

	h := router.NewRouter(router.Dependencies{
		AuthHandler:    handler.NewAuthHandler(authSvc),
		JWTManager:     jwtMgr,
		Readiness:      readiness,
		EnableOTelHTTP: cfg.OTELTracingEnabled,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	return &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Observability:   runtime,
		DB:              db,
		Redis:           rdb,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, nil
}
