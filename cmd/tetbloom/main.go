package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hibiken/asynq"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/app"
	"github.com/tetbloom/tetbloom/internal/auth"
	"github.com/tetbloom/tetbloom/internal/dashboard"
	"github.com/tetbloom/tetbloom/internal/groups"
	"github.com/tetbloom/tetbloom/internal/lessonplans"
	"github.com/tetbloom/tetbloom/internal/observability"
	"github.com/tetbloom/tetbloom/internal/observations"
	"github.com/tetbloom/tetbloom/internal/platform/cache"
	"github.com/tetbloom/tetbloom/internal/platform/db"
	"github.com/tetbloom/tetbloom/internal/shared"
	"github.com/tetbloom/tetbloom/internal/users"
	"github.com/tetbloom/tetbloom/internal/view"
	"github.com/tetbloom/tetbloom/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	sessionManager := shared.NewSessionManager(redisClient, "tetbloom_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool)
	resolver := access.NewResolver(access.DefaultRegistry())
	metrics := observability.NewMetrics()

	templates, err := view.NewEngine(resolver, cfg.Location())
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
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

	inviteTokens := auth.NewInviteTokens(cfg.InviteSecret, cfg.InviteTTL)
	authService := auth.NewService(auth.ServiceConfig{
		Repo:          auth.NewRepository(dbpool),
		Sessions:      sessionManager,
		Tokens:        inviteTokens,
		Logger:        logger,
		LookupTimeout: cfg.IdentityLookupTimeout,
	})

	guard := access.Middleware{
		Resolver: resolver,
		Sessions: authService,
		Logger:   logger,
		Recorder: metrics,
		Loading:  app.LoadingHandler(templates, logger),
	}

	usersService := users.NewService(users.ServiceConfig{
		Repo:    users.NewRepository(dbpool),
		Inviter: inviteTokens,
		Mail:    jobClient,
		Audit:   auditLogger,
		Logger:  logger,
		BaseURL: cfg.BaseURL(),
	})
	groupsService := groups.NewService(groups.NewRepository(dbpool), auditLogger, logger)
	observationsService := observations.NewService(observations.ServiceConfig{
		Repo:      observations.NewRepository(dbpool),
		Resolver:  resolver,
		Directory: groupsService,
		Notifier:  jobClient,
		Audit:     auditLogger,
		Logger:    logger,
		Location:  cfg.Location(),
	})
	lessonPlansService := lessonplans.NewService(lessonplans.ServiceConfig{
		Repo:     lessonplans.NewRepository(dbpool),
		Resolver: resolver,
		Mail:     jobClient,
		Audit:    auditLogger,
		Logger:   logger,
		BaseURL:  cfg.BaseURL(),
		Location: cfg.Location(),
	})
	dashboardService := dashboard.NewService(usersService, groupsService, observationsService, resolver)
	importReports := cache.NewStore(redisClient, "tetbloom:import:")

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Templates:           templates,
		SessionManager:      sessionManager,
		CSRFManager:         csrfManager,
		Access:              guard,
		AuthHandler:         auth.NewHandler(logger, authService, templates, csrfManager, resolver),
		DashboardHandler:    dashboard.NewHandler(logger, dashboardService, templates, csrfManager),
		UsersHandler:        users.NewHandler(logger, usersService, templates, csrfManager, importReports, "/super/users"),
		GroupsHandler:       groups.NewHandler(logger, groupsService, templates, csrfManager),
		ObservationsHandler: observations.NewHandler(logger, observationsService, templates, csrfManager, guard),
		LessonPlansHandler:  lessonplans.NewHandler(logger, lessonPlansService, templates, csrfManager, guard),
		JobHandler:          jobs.NewHandler(inspector, logger),
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
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
}
