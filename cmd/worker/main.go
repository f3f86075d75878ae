package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/giftdrive/casework/internal/app"
	"github.com/giftdrive/casework/internal/households"
	jobmetrics "github.com/giftdrive/casework/internal/jobs"
	"github.com/giftdrive/casework/internal/observability"
	"github.com/giftdrive/casework/internal/platform/db"
	"github.com/giftdrive/casework/internal/registration"
	"github.com/giftdrive/casework/internal/shared"
	"github.com/giftdrive/casework/internal/users"
	"github.com/giftdrive/casework/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Default().Error("worker", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := app.NewLogger(cfg).With(slog.String("process", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	mailer, err := app.NewMailer(cfg, logger)
	if err != nil {
		return fmt.Errorf("init mailer: %w", err)
	}

	fieldKey, err := cfg.FieldKey()
	if err != nil {
		return err
	}
	fieldCipher, err := households.NewFieldCipher(fieldKey)
	if err != nil {
		return err
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	usersRepo := users.NewRepository(pool)
	auditLogger := shared.NewAuditLogger(pool)

	workflow := registration.NewWorkflow(
		registration.Config{AdminAddress: cfg.AdminEmail, RootURL: cfg.AppRootURL},
		usersRepo,
		mailer,
		registration.NewBcryptPolicy(cfg.PasswordMinLength, cfg.BcryptCost),
		registration.RandomCodes{},
		jobClient,
		logger,
	).WithAudit(auditLogger)

	householdService := households.NewService(
		households.NewRepository(pool, fieldCipher),
		usersRepo,
		mailer,
		jobClient,
		auditLogger,
		households.DefaultOptions(),
		logger,
	)

	metrics := observability.NewMetrics()
	notifications := &jobs.NotificationJobs{
		Registration: workflow,
		Nominations:  householdService,
		Unsent:       usersRepo,
		Dispatcher:   jobClient,
		RootURL:      cfg.AppRootURL,
		Logger:       logger,
		Metrics:      jobmetrics.NewMetrics(metrics.Registerer()),
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    notifications.Handlers(),
		Cron: []jobs.CronRegistration{
			{
				Spec:    cfg.VerificationSweepCron,
				Task:    jobs.NewSweepTask(),
				Options: []asynq.Option{asynq.Queue(jobs.QueueNotifications), asynq.MaxRetry(1)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("init worker: %w", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker started", slog.Int("concurrency", cfg.WorkerConcurrency))
	return worker.Run(ctx)
}
