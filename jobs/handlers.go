package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tetbloom/tetbloom/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ErrNoticeNotFound is returned by an ObservationSource for unknown ids.
var ErrNoticeNotFound = errors.New("jobs: observation not found")

// ObservationNotice carries what a teacher needs to know about an observation.
type ObservationNotice struct {
	ObservationID string
	TeacherEmail  string
	TeacherName   string
	ObserverName  string
	Kind          string
	Status        string
	ScheduledAt   time.Time
	NotifiedAt    *time.Time
}

// ObservationSource is the observation store as seen by the mail jobs.
type ObservationSource interface {
	NoticeFor(ctx context.Context, observationID string) (*ObservationNotice, error)
	MarkNotified(ctx context.Context, observationID string, at time.Time) error
	DueReminders(ctx context.Context, from, to time.Time) ([]ObservationNotice, error)
	MarkReminded(ctx context.Context, observationID string, at time.Time) error
}

// MailJob delivers queued e-mails.
type MailJob struct {
	Mailer  Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskTypeSendEmail tasks.
func (j *MailJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.To == "" {
		return fmt.Errorf("mail without recipient: %w", asynq.SkipRetry)
	}
	tracker := metricsOr(j.Metrics).Track(TaskTypeSendEmail)
	defer func() { err = tracker.End(err) }()

	if err := j.Mailer.Send(ctx, Email{To: payload.To, ToName: payload.ToName, Subject: payload.Subject, Body: payload.Body}); err != nil {
		loggerOr(j.Logger).Warn("send mail", slog.String("to", payload.To), slog.Any("error", err))
		return err
	}
	metricsOr(j.Metrics).AddMails(kindOr(payload.Kind, "generic"), 1)
	return nil
}

// ObservationNotifyJob mails the teacher when an observation is scheduled.
type ObservationNotifyJob struct {
	Source  ObservationSource
	Mailer  Mailer
	BaseURL string
	// Location is the school time zone used in subjects and bodies.
	Location *time.Location
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewObservationNotifyJob wires the notify handler.
func NewObservationNotifyJob(source ObservationSource, mailer Mailer, baseURL string, logger *slog.Logger, metrics *jobmetrics.Metrics) *ObservationNotifyJob {
	return &ObservationNotifyJob{Source: source, Mailer: mailer, BaseURL: baseURL, Logger: logger, Metrics: metrics, clock: utcNow}
}

// Handle processes TaskObservationNotify tasks. Already notified or canceled
// observations are skipped so retries never double-send.
func (j *ObservationNotifyJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Source == nil || j.Mailer == nil {
		return errors.New("observation notify: handler not configured")
	}
	var payload ObservationNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ObservationID == "" {
		return asynq.SkipRetry
	}
	tracker := metricsOr(j.Metrics).Track(TaskObservationNotify)
	defer func() { err = tracker.End(err) }()

	logger := loggerOr(j.Logger).With(slog.String("observation_id", payload.ObservationID))
	notice, err := j.Source.NoticeFor(ctx, payload.ObservationID)
	if err != nil {
		if errors.Is(err, ErrNoticeNotFound) {
			logger.Info("observation gone, nothing to notify")
			return nil
		}
		return err
	}
	if notice.NotifiedAt != nil || notice.Status == "canceled" {
		return nil
	}

	email := Email{
		To:      notice.TeacherEmail,
		ToName:  notice.TeacherName,
		Subject: "Observation scheduled for " + inZone(notice.ScheduledAt, j.Location).Format("Mon 02 Jan 2006 15:04"),
		Body:    observationBody("A new observation has been scheduled.", *notice, j.BaseURL, j.Location),
	}
	if err := j.Mailer.Send(ctx, email); err != nil {
		logger.Warn("send observation notice", slog.Any("error", err))
		return err
	}
	metricsOr(j.Metrics).AddMails("observation_scheduled", 1)
	return j.Source.MarkNotified(ctx, notice.ObservationID, j.now())
}

func (j *ObservationNotifyJob) now() time.Time {
	if j.clock == nil {
		return utcNow()
	}
	return j.clock()
}

// ObservationRemindersJob mails teachers about upcoming observations.
type ObservationRemindersJob struct {
	Source  ObservationSource
	Mailer  Mailer
	BaseURL string
	// Location is the school time zone used in subjects and bodies.
	Location *time.Location
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewObservationRemindersJob wires the reminder sweep.
func NewObservationRemindersJob(source ObservationSource, mailer Mailer, baseURL string, logger *slog.Logger, metrics *jobmetrics.Metrics) *ObservationRemindersJob {
	return &ObservationRemindersJob{Source: source, Mailer: mailer, BaseURL: baseURL, Logger: logger, Metrics: metrics, clock: utcNow}
}

// Handle processes TaskObservationReminders tasks. Failed sends are retried on
// the next sweep because they are not marked.
func (j *ObservationRemindersJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Source == nil || j.Mailer == nil {
		return errors.New("observation reminders: handler not configured")
	}
	payload := ObservationRemindersPayload{HorizonHours: 24}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.HorizonHours <= 0 {
		payload.HorizonHours = 24
	}
	tracker := metricsOr(j.Metrics).Track(TaskObservationReminders)
	defer func() { err = tracker.End(err) }()

	now := j.now()
	due, err := j.Source.DueReminders(ctx, now, now.Add(time.Duration(payload.HorizonHours)*time.Hour))
	if err != nil {
		return err
	}
	logger := loggerOr(j.Logger)
	var errs []error
	sent := 0
	for _, notice := range due {
		email := Email{
			To:      notice.TeacherEmail,
			ToName:  notice.TeacherName,
			Subject: "Reminder: observation on " + inZone(notice.ScheduledAt, j.Location).Format("Mon 02 Jan 15:04"),
			Body:    observationBody("This is a reminder about your upcoming observation.", notice, j.BaseURL, j.Location),
		}
		if err := j.Mailer.Send(ctx, email); err != nil {
			logger.Warn("send reminder", slog.String("observation_id", notice.ObservationID), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		if err := j.Source.MarkReminded(ctx, notice.ObservationID, now); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	metricsOr(j.Metrics).AddMails("observation_reminder", sent)
	logger.Info("observation reminders sent", slog.Int("due", len(due)), slog.Int("sent", sent))
	return errors.Join(errs...)
}

func (j *ObservationRemindersJob) now() time.Time {
	if j.clock == nil {
		return utcNow()
	}
	return j.clock()
}

func observationBody(intro string, n ObservationNotice, baseURL string, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n%s\n\n", n.TeacherName, intro)
	fmt.Fprintf(&b, "When: %s\n", inZone(n.ScheduledAt, loc).Format("Monday 02 January 2006, 15:04 MST"))
	fmt.Fprintf(&b, "Type: %s\n", n.Kind)
	if n.ObserverName != "" {
		fmt.Fprintf(&b, "Observer: %s\n", n.ObserverName)
	}
	if baseURL != "" {
		fmt.Fprintf(&b, "\nDetails: %s/teacher/observations/%s\n", strings.TrimRight(baseURL, "/"), n.ObservationID)
	}
	return b.String()
}

func metricsOr(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m == nil {
		return defaultJobMetrics
	}
	return m
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func kindOr(kind, fallback string) string {
	if kind == "" {
		return fallback
	}
	return kind
}

// inZone converts t to loc, UTC when loc is unset.
func inZone(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc)
}

func utcNow() time.Time {
	return time.Now().UTC()
}
