package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pulsedash/pulsedash/internal/app"
	"github.com/pulsedash/pulsedash/internal/audit"
	"github.com/pulsedash/pulsedash/internal/loginguard"
	"github.com/pulsedash/pulsedash/internal/platform/db"
	"github.com/pulsedash/pulsedash/internal/session"
	"github.com/pulsedash/pulsedash/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	sessionRepo := session.NewRepository(pool)
	guard := loginguard.NewGuard(loginguard.NewRepository(pool), logger, cfg.LockoutThreshold, cfg.LockoutWindow)
	ledger := audit.NewLedger(audit.NewRepository(pool), logger)

	mailJob := jobs.NewMailJob(jobs.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		From: cfg.SMTPFrom,
	}, logger)
	sweepJob := jobs.NewSessionSweepJob(sessionRepo, logger, nil)
	purgeJob := jobs.NewAttemptPurgeJob(guard, logger, nil)
	verifyJob := jobs.NewAuditVerifyJob(ledger, logger, nil)

	now := time.Now().UTC()
	sweepTask, err := jobs.NewSessionSweepTask(now)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	purgeTask, err := jobs.NewAttemptPurgeTask(now)
	if err != nil {
		logger.Error("build purge task", slog.Any("error", err))
		os.Exit(1)
	}
	verifyTask, err := jobs.NewAuditVerifyTask(now)
	if err != nil {
		logger.Error("build verify task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: mailJob.Handle},
			{Type: jobs.TaskSessionSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskAttemptPurge, Handler: purgeJob.Handle},
			{Type: jobs.TaskAuditVerify, Handler: verifyJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: purgeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 2 * * *", Task: verifyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
