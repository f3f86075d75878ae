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

	"github.com/giftdrive/casework/cmd/casework/cli"
	"github.com/giftdrive/casework/internal/app"
	"github.com/giftdrive/casework/internal/audit"
	audithttp "github.com/giftdrive/casework/internal/audit/http"
	"github.com/giftdrive/casework/internal/auth"
	"github.com/giftdrive/casework/internal/households"
	"github.com/giftdrive/casework/internal/observability"
	"github.com/giftdrive/casework/internal/platform/cache"
	"github.com/giftdrive/casework/internal/platform/db"
	"github.com/giftdrive/casework/internal/rbac"
	"github.com/giftdrive/casework/internal/registration"
	"github.com/giftdrive/casework/internal/shared"
	"github.com/giftdrive/casework/internal/users"
	"github.com/giftdrive/casework/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(os.Args[2:]))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop); err != nil {
		slog.Default().Error("casework", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

	if cfg.DBAutoMigrate {
		if err := db.Migrate(ctx, dbpool); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	fieldKey, err := cfg.FieldKey()
	if err != nil {
		return err
	}
	fieldCipher, err := households.NewFieldCipher(fieldKey)
	if err != nil {
		return err
	}

	mailer, err := app.NewMailer(cfg, logger)
	if err != nil {
		return fmt.Errorf("init mailer: %w", err)
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
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "casework_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool)

	usersRepo := users.NewRepository(dbpool)

	authService := auth.NewService(auth.NewRepository(dbpool))
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	workflow := registration.NewWorkflow(
		registration.Config{AdminAddress: cfg.AdminEmail, RootURL: cfg.AppRootURL},
		usersRepo,
		mailer,
		registration.NewBcryptPolicy(cfg.PasswordMinLength, cfg.BcryptCost),
		registration.RandomCodes{},
		jobClient,
		logger,
	).WithAudit(auditLogger)
	registrationHandler := registration.NewHandler(logger, workflow, cfg.AppRootURL)

	rbacService := rbac.NewService(usersRepo, auditLogger, logger)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	householdService := households.NewService(
		households.NewRepository(dbpool, fieldCipher),
		usersRepo,
		mailer,
		jobClient,
		auditLogger,
		households.DefaultOptions(),
		logger,
	)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		SessionManager:      sessionManager,
		CSRFManager:         csrfManager,
		AuthHandler:         authHandler,
		RegistrationHandler: registrationHandler,
		UsersHandler:        users.NewHandler(logger, users.NewService(usersRepo), cfg.PageSize),
		RolesHandler:        rbac.NewHandler(logger, rbacService),
		HouseholdsHandler:   households.NewHandler(logger, householdService, cfg.AppRootURL, cfg.PageSize),
		AuditHandler:        audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), cfg.PageSize),
		JobHandler:          jobs.NewHandler(inspector, logger),
		RBACMiddleware:      rbacMiddleware,
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func runJobs(args []string) int {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() {
		_ = jobsCLI.Close()
	}()
	if err := jobsCLI.Run(context.Background(), args, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
