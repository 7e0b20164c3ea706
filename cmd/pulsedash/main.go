package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/pulsedash/pulsedash/internal/app"
	"github.com/pulsedash/pulsedash/internal/audit"
	"github.com/pulsedash/pulsedash/internal/auth"
	"github.com/pulsedash/pulsedash/internal/csrf"
	"github.com/pulsedash/pulsedash/internal/loginguard"
	"github.com/pulsedash/pulsedash/internal/observability"
	"github.com/pulsedash/pulsedash/internal/platform/cache"
	"github.com/pulsedash/pulsedash/internal/platform/db"
	"github.com/pulsedash/pulsedash/internal/ratelimit"
	"github.com/pulsedash/pulsedash/internal/revocation"
	"github.com/pulsedash/pulsedash/internal/session"
	"github.com/pulsedash/pulsedash/internal/token"
	"github.com/pulsedash/pulsedash/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	secrets, err := token.NewSecrets(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.IsProduction(), logger)
	if err != nil {
		logger.Error("token secrets", slog.Any("error", err))
		os.Exit(1)
	}
	tokenService := token.NewService(secrets, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	revocationStore := revocation.NewStore(redisClient, logger)
	guard := loginguard.NewGuard(loginguard.NewRepository(pool), logger, cfg.LockoutThreshold, cfg.LockoutWindow)
	sessionRepo := session.NewRepository(pool)
	sessionLimiter := session.NewLimiter(sessionRepo, cfg.SessionLimit)
	ledger := audit.NewLedger(audit.NewRepository(pool), logger)

	mailClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := mailClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(logger, authRepo, tokenService, revocationStore,
		guard, sessionLimiter, sessionRepo, ledger, redisClient, mailClient)
	authenticator := auth.NewAuthenticator(logger, tokenService, revocationStore)

	csrfGuard := csrf.NewGuard(logger, cfg.IsProduction(), []string{
		"/api/v1/login",
		"/api/v1/register",
		"/api/v1/refresh",
		"/api/v1/password-reset/request",
		"/api/v1/password-reset/confirm",
	})
	rateLimiter := ratelimit.New(redisClient, logger)
	metrics := observability.NewMetrics()

	authHandler := auth.NewHandler(logger, authService, csrfGuard, metrics)
	auditHandler := audit.NewHandler(logger, ledger)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		AuthHandler:   authHandler,
		AuditHandler:  auditHandler,
		Authenticator: authenticator,
		CSRFGuard:     csrfGuard,
		RateLimiter:   rateLimiter,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
