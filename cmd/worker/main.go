package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/hibiken/asynq"

	"github.com/tetbloom/tetbloom/internal/app"
	jobmetrics "github.com/tetbloom/tetbloom/internal/jobs"
	"github.com/tetbloom/tetbloom/internal/observations"
	"github.com/tetbloom/tetbloom/internal/platform/db"
	"github.com/tetbloom/tetbloom/jobs"
)

// reminderSpec runs the reminder sweep every afternoon, school time.
const reminderSpec = "0 16 * * *"

// reminderHorizonHours reaches the end of the following school day.
const reminderHorizonHours = 32

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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)
	mailer := jobs.NewMailer(cfg.SendGridAPIKey, cfg.MailFrom, cfg.MailFromName, logger)
	source := observations.NewRepository(pool)

	mailJob := &jobs.MailJob{Mailer: mailer, Logger: logger, Metrics: metrics}
	notifyJob := jobs.NewObservationNotifyJob(source, mailer, cfg.BaseURL(), logger, metrics)
	remindersJob := jobs.NewObservationRemindersJob(source, mailer, cfg.BaseURL(), logger, metrics)
	notifyJob.Location = cfg.Location()
	remindersJob.Location = cfg.Location()

	remindersTask, err := jobs.NewObservationRemindersTask(reminderHorizonHours)
	if err != nil {
		logger.Error("build reminders task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    cfg.Location(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: mailJob.Handle},
			{Type: jobs.TaskObservationNotify, Handler: notifyJob.Handle},
			{Type: jobs.TaskObservationReminders, Handler: remindersJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: reminderSpec, Task: remindersTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
