package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"RecipeAcquisition/internal/clock"
	"RecipeAcquisition/internal/ports"
)

// Pruner drops expired process-wide fetch state.
type Pruner interface {
	Prune() int
}

// IdlePruner drops state that has been idle for longer than the given duration.
type IdlePruner interface {
	Prune(idle time.Duration) int
}

// MaintenanceDeps wires the periodic cleanup job.
type MaintenanceDeps struct {
	Robots        Pruner
	Hosts         IdlePruner
	Users         Pruner
	Jobs          ports.JobRepository
	HostIdleAfter time.Duration
	StaleJobAfter time.Duration
	Clock         clock.Clock
	Logger        *slog.Logger
}

// MaintenanceReport counts what one maintenance run removed.
type MaintenanceReport struct {
	RobotsPruned int
	HostsPruned  int
	UsersPruned  int
	JobsFailed   int
}

// Maintenance keeps process-wide fetch state bounded and closes abandoned scrape jobs.
type Maintenance struct {
	deps MaintenanceDeps
}

// NewMaintenance builds the cleanup job.
func NewMaintenance(deps MaintenanceDeps) *Maintenance {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &Maintenance{deps: deps}
}

// RunOnce performs one cleanup pass.
func (m *Maintenance) RunOnce(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	if m.deps.Robots != nil {
		report.RobotsPruned = m.deps.Robots.Prune()
	}
	if m.deps.Hosts != nil && m.deps.HostIdleAfter > 0 {
		report.HostsPruned = m.deps.Hosts.Prune(m.deps.HostIdleAfter)
	}
	if m.deps.Users != nil {
		report.UsersPruned = m.deps.Users.Prune()
	}
	if m.deps.Jobs != nil && m.deps.StaleJobAfter > 0 {
		cutoff := m.deps.Clock.Now().UTC().Add(-m.deps.StaleJobAfter)
		n, err := m.deps.Jobs.FailStaleJobs(ctx, cutoff, fmt.Sprintf("interrupted: no progress for %s", m.deps.StaleJobAfter))
		if err != nil {
			return report, err
		}
		report.JobsFailed = n
	}

	if m.deps.Logger != nil {
		m.deps.Logger.Debug("maintenance finished",
			"robots_pruned", report.RobotsPruned,
			"hosts_pruned", report.HostsPruned,
			"users_pruned", report.UsersPruned,
			"jobs_failed", report.JobsFailed)
	}
	return report, nil
}

// Scheduler wires the ticking driver with the maintenance job.
type Scheduler struct {
	driver      ports.Scheduler
	maintenance *Maintenance
	logger      *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring maintenance.
func NewScheduler(driver ports.Scheduler, maintenance *Maintenance, logger *slog.Logger) *Scheduler {
	return &Scheduler{driver: driver, maintenance: maintenance, logger: logger}
}

// Start registers the maintenance job with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.maintenance == nil {
		return nil
	}

	job := func(time.Time) {
		if _, err := s.maintenance.RunOnce(ctx); err != nil && s.logger != nil {
			s.logger.Warn("maintenance run failed", "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
