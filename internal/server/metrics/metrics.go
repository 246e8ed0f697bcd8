// Package metrics exposes Prometheus counters for authentication outcomes.
//
// Metric naming follows Prometheus conventions:
//   - tagify_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes of the identity check on a protected request.
const (
	OutcomeAccepted       = "accepted"
	OutcomeMissing        = "missing"
	OutcomeMalformed      = "malformed"
	OutcomeForged         = "forged"
	OutcomeExpired        = "expired"
	OutcomeUnknownAccount = "unknown_account"
	OutcomeForbidden      = "forbidden"
	OutcomeStoreError     = "store_error"
	OutcomeCancelled      = "cancelled"
)

// Login results.
const (
	LoginSucceeded = "succeeded"
	LoginFailed    = "failed"
	LoginError     = "error"
)

// Recorder receives authentication events. Implementations must be safe
// for concurrent use.
type Recorder interface {
	AuthOutcome(domain, outcome string)
	Login(domain, result string)
	PasswordHash(d time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) AuthOutcome(string, string) {}
func (Nop) Login(string, string)       {}
func (Nop) PasswordHash(time.Duration) {}

// Prometheus is a Recorder backed by its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	authTotal   *prometheus.CounterVec
	loginsTotal *prometheus.CounterVec
	hashSeconds prometheus.Histogram
	databaseUp  prometheus.Gauge
}

// NewPrometheus registers the auth metrics plus the Go runtime and process
// collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		authTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tagify_auth_requests_total",
				Help: "Protected requests by trust domain and identity check outcome.",
			},
			[]string{"domain", "outcome"},
		),
		loginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tagify_logins_total",
				Help: "Login attempts by trust domain and result.",
			},
			[]string{"domain", "result"},
		),
		hashSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tagify_password_hash_duration_seconds",
				Help:    "Time spent hashing or verifying a password.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		databaseUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tagify_database_up",
				Help: "1 if the last database health check succeeded.",
			},
		),
	}

	p.registry.MustRegister(
		p.authTotal,
		p.loginsTotal,
		p.hashSeconds,
		p.databaseUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return p
}

// AuthOutcome counts one identity check.
func (p *Prometheus) AuthOutcome(domain, outcome string) {
	p.authTotal.WithLabelValues(domain, outcome).Inc()
}

// Login counts one login attempt.
func (p *Prometheus) Login(domain, result string) {
	p.loginsTotal.WithLabelValues(domain, result).Inc()
}

// PasswordHash observes one argon2 computation.
func (p *Prometheus) PasswordHash(d time.Duration) {
	p.hashSeconds.Observe(d.Seconds())
}

// SetDatabaseUp records the result of a database health check.
func (p *Prometheus) SetDatabaseUp(up bool) {
	if up {
		p.databaseUp.Set(1)
		return
	}
	p.databaseUp.Set(0)
}

// RegisterDB exports the connection pool statistics of db.
func (p *Prometheus) RegisterDB(db *sql.DB) error {
	return p.registry.Register(collectors.NewDBStatsCollector(db, "tagify"))
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
