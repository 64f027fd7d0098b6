package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/tetbloom/tetbloom/internal/jobs"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Email
	fail map[string]bool
}

func (m *recordingMailer) Send(ctx context.Context, email Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[email.To] {
		return errors.New("provider rejected")
	}
	m.sent = append(m.sent, email)
	return nil
}

type fakeSource struct {
	notices  map[string]*ObservationNotice
	due      []ObservationNotice
	notified map[string]time.Time
	reminded map[string]time.Time
	from, to time.Time
}

func newFakeSource() *fakeSource {
	return &fakeSource{notices: map[string]*ObservationNotice{}, notified: map[string]time.Time{}, reminded: map[string]time.Time{}}
}

func (s *fakeSource) NoticeFor(ctx context.Context, id string) (*ObservationNotice, error) {
	n, ok := s.notices[id]
	if !ok {
		return nil, ErrNoticeNotFound
	}
	return n, nil
}

func (s *fakeSource) MarkNotified(ctx context.Context, id string, at time.Time) error {
	s.notified[id] = at
	return nil
}

func (s *fakeSource) DueReminders(ctx context.Context, from, to time.Time) ([]ObservationNotice, error) {
	s.from, s.to = from, to
	return s.due, nil
}

func (s *fakeSource) MarkReminded(ctx context.Context, id string, at time.Time) error {
	s.reminded[id] = at
	return nil
}

var fixedNow = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func notifyTask(t *testing.T, id string) *asynq.Task {
	t.Helper()
	task, err := NewObservationNotifyTask(id)
	require.NoError(t, err)
	return task
}

func TestObservationNotifySendsOnce(t *testing.T) {
	source := newFakeSource()
	source.notices["obs-1"] = &ObservationNotice{
		ObservationID: "obs-1", TeacherEmail: "teacher@example.com", TeacherName: "Tia",
		ObserverName: "Lee", Kind: "formal", Status: "scheduled",
		ScheduledAt: time.Date(2026, 3, 3, 9, 30, 0, 0, time.UTC),
	}
	mailer := &recordingMailer{}
	job := NewObservationNotifyJob(source, mailer, "https://bloom.example.com/", nil, testMetrics())
	job.clock = func() time.Time { return fixedNow }

	require.NoError(t, job.Handle(context.Background(), notifyTask(t, "obs-1")))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "teacher@example.com", mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].Body, "https://bloom.example.com/teacher/observations/obs-1")
	assert.Equal(t, fixedNow, source.notified["obs-1"])

	// Retry after success: already notified.
	notified := fixedNow
	source.notices["obs-1"].NotifiedAt = &notified
	require.NoError(t, job.Handle(context.Background(), notifyTask(t, "obs-1")))
	assert.Len(t, mailer.sent, 1)
}

func TestObservationNotifySkipsMissingAndCanceled(t *testing.T) {
	source := newFakeSource()
	source.notices["obs-2"] = &ObservationNotice{ObservationID: "obs-2", TeacherEmail: "t@example.com", Status: "canceled"}
	mailer := &recordingMailer{}
	job := NewObservationNotifyJob(source, mailer, "", nil, testMetrics())

	assert.NoError(t, job.Handle(context.Background(), notifyTask(t, "gone")))
	assert.NoError(t, job.Handle(context.Background(), notifyTask(t, "obs-2")))
	assert.Empty(t, mailer.sent)

	err := job.Handle(context.Background(), asynq.NewTask(TaskObservationNotify, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestObservationRemindersMarksOnlyDelivered(t *testing.T) {
	source := newFakeSource()
	source.due = []ObservationNotice{
		{ObservationID: "a", TeacherEmail: "ok@example.com", TeacherName: "Ok", ScheduledAt: fixedNow.Add(20 * time.Hour)},
		{ObservationID: "b", TeacherEmail: "bounce@example.com", TeacherName: "Bounce", ScheduledAt: fixedNow.Add(22 * time.Hour)},
	}
	mailer := &recordingMailer{fail: map[string]bool{"bounce@example.com": true}}
	job := NewObservationRemindersJob(source, mailer, "", nil, testMetrics())
	job.clock = func() time.Time { return fixedNow }

	task, err := NewObservationRemindersTask(36)
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)

	assert.Error(t, err)
	assert.Equal(t, fixedNow, source.from)
	assert.Equal(t, fixedNow.Add(36*time.Hour), source.to)
	assert.Contains(t, source.reminded, "a")
	assert.NotContains(t, source.reminded, "b")
	assert.Len(t, mailer.sent, 1)
}

func TestObservationMailsUseSchoolZone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	typed, err := time.ParseInLocation("2006-01-02 15:04", "2026-03-10 09:00", loc)
	require.NoError(t, err)
	stored := typed.UTC()

	source := newFakeSource()
	source.notices["obs-3"] = &ObservationNotice{ObservationID: "obs-3", TeacherEmail: "t@example.com", Status: "scheduled", ScheduledAt: stored}
	source.due = []ObservationNotice{{ObservationID: "obs-3", TeacherEmail: "t@example.com", ScheduledAt: stored}}
	mailer := &recordingMailer{}

	notify := NewObservationNotifyJob(source, mailer, "", nil, testMetrics())
	notify.Location = loc
	require.NoError(t, notify.Handle(context.Background(), notifyTask(t, "obs-3")))

	reminders := NewObservationRemindersJob(source, mailer, "", nil, testMetrics())
	reminders.Location = loc
	reminders.clock = func() time.Time { return stored.Add(-12 * time.Hour) }
	task, err := NewObservationRemindersTask(24)
	require.NoError(t, err)
	require.NoError(t, reminders.Handle(context.Background(), task))

	require.Len(t, mailer.sent, 2)
	assert.Equal(t, "Observation scheduled for Tue 10 Mar 2026 09:00", mailer.sent[0].Subject)
	assert.Contains(t, mailer.sent[0].Body, "Tuesday 10 March 2026, 09:00 EDT")
	assert.Equal(t, "Reminder: observation on Tue 10 Mar 09:00", mailer.sent[1].Subject)
	assert.Contains(t, mailer.sent[1].Body, "09:00 EDT")
}

func TestMailJob(t *testing.T) {
	mailer := &recordingMailer{}
	job := &MailJob{Mailer: mailer, Metrics: testMetrics()}

	task, err := NewSendEmailTask(SendEmailPayload{To: "new@example.com", Subject: "Welcome", Body: "hi", Kind: "invite"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Welcome", mailer.sent[0].Subject)

	empty, err := NewSendEmailTask(SendEmailPayload{Subject: "nobody"})
	require.NoError(t, err)
	assert.ErrorIs(t, job.Handle(context.Background(), empty), asynq.SkipRetry)
}

func TestTaskPayloads(t *testing.T) {
	task, err := NewObservationNotifyTask("obs-9")
	require.NoError(t, err)
	assert.Equal(t, TaskObservationNotify, task.Type())
	var payload ObservationNotifyPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "obs-9", payload.ObservationID)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3}}, nil).health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"pending":3`)

	rr = httptest.NewRecorder()
	NewHandler(stubInspector{err: errors.New("redis down")}, nil).health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestLogMailer(t *testing.T) {
	m := NewMailer("", "no-reply@example.com", "TET Bloom", nil)
	_, ok := m.(*LogMailer)
	require.True(t, ok)
	assert.NoError(t, m.Send(context.Background(), Email{To: "x@example.com", Subject: "s"}))
	_, ok = NewMailer("SG.key", "no-reply@example.com", "TET Bloom", nil).(*SendGridMailer)
	assert.True(t, ok)
}
