// Package health periodically probes the credential store so that
// operators see a failing database before users do.
package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrijs2005/tagify/internal/logging"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Gauge receives every probe result.
type Gauge interface {
	SetDatabaseUp(up bool)
}

// Monitor runs database probes on a cron schedule.
type Monitor struct {
	db      Pinger
	logger  logging.Logger
	gauge   Gauge
	timeout time.Duration
	cron    *cron.Cron
	healthy atomic.Bool
	checked atomic.Bool
}

// NewMonitor builds a Monitor. gauge may be nil.
func NewMonitor(db Pinger, logger logging.Logger, gauge Gauge, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		db:      db,
		logger:  logger,
		gauge:   gauge,
		timeout: timeout,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Check probes the database once and records the result. Only changes of
// state are logged.
func (m *Monitor) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.db.PingContext(ctx)
	up := err == nil
	was := m.healthy.Swap(up)
	first := !m.checked.Swap(true)

	if m.gauge != nil {
		m.gauge.SetDatabaseUp(up)
	}
	switch {
	case !up && (was || first):
		m.logger.Error(ctx, "database health check failed", "error", err)
	case up && !was:
		m.logger.Info(ctx, "database is healthy")
	}
	return err
}

// Healthy reports the result of the last check.
func (m *Monitor) Healthy() bool {
	return m.healthy.Load()
}

// Start runs one check immediately and then follows schedule, in standard
// cron syntax or descriptors such as "@every 30s".
func (m *Monitor) Start(ctx context.Context, schedule string) error {
	if _, err := m.cron.AddFunc(schedule, func() { _ = m.Check(ctx) }); err != nil {
		return fmt.Errorf("health schedule %q: %w", schedule, err)
	}
	_ = m.Check(ctx)
	m.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running check to finish.
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
}
