// ABOUTME: Cron-driven periodic tenant report
// ABOUTME: Logs how many tenant stores are open and which ones, on a UTC schedule

// Package scheduler runs the periodic tenant report.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// TenantLister is satisfied by *tenant.Router.
type TenantLister interface {
	Known() []string
}

// Scheduler logs a tenant report on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	tenants TenantLister
	logger  *slog.Logger
}

// New creates a Scheduler that reports on spec, a standard cron expression or
// descriptor such as "@every 1h".
func New(spec string, tenants TenantLister, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		tenants: tenants,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(spec, s.Report); err != nil {
		return nil, fmt.Errorf("scheduling tenant report %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("tenant report scheduled", "next", s.cron.Entries()[0].Next)
}

// Report logs the current tenant directory.
func (s *Scheduler) Report() {
	ids := s.tenants.Known()
	s.logger.Info("tenant report", "tenants", len(ids), "ids", ids)
}

// Stop halts the schedule and waits for a running report to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("tenant report stopped")
}
