package jobmetrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
)

func scrape(reg *prometheus.Registry) string {
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rr.Body.String()
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	assert.NoError(t, m.Track("mail:send").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("mail:send").End(boom), boom)

	body := scrape(reg)
	assert.Contains(t, body, `tetbloom_jobs_total{job="mail:send",status="success"} 1`)
	assert.Contains(t, body, `tetbloom_jobs_total{job="mail:send",status="failure"} 1`)
	assert.Contains(t, body, `tetbloom_jobs_failures_total{job="mail:send"} 1`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NoError(t, m.Track("x").End(nil))
	m.AddMails("invite", 3)
}

func TestAddMails(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AddMails("observation_reminder", 2)
	m.AddMails("observation_reminder", 0)
	assert.Contains(t, scrape(reg), `tetbloom_mails_sent_total{kind="observation_reminder"} 2`)
}
