package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RecipeAcquisition/internal/domain"
)

type countPruner int

func (c countPruner) Prune() int { return int(c) }

type idlePruner struct{ idle time.Duration }

func (p *idlePruner) Prune(idle time.Duration) int {
	p.idle = idle
	return 2
}

func TestMaintenanceRunOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.store.CreateJob(ctx, domain.ScrapeJob{ID: "stuck", URL: "https://a.example", Status: domain.JobFetching}))
	e.clock.Advance(time.Hour)
	require.NoError(t, e.store.CreateJob(ctx, domain.ScrapeJob{ID: "fresh", URL: "https://b.example", Status: domain.JobFetching}))

	hosts := &idlePruner{}
	m := NewMaintenance(MaintenanceDeps{
		Robots:        countPruner(3),
		Hosts:         hosts,
		Users:         countPruner(1),
		Jobs:          e.store,
		HostIdleAfter: 30 * time.Minute,
		StaleJobAfter: 10 * time.Minute,
		Clock:         e.clock,
	})

	report, err := m.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, MaintenanceReport{RobotsPruned: 3, HostsPruned: 2, UsersPruned: 1, JobsFailed: 1}, report)
	assert.Equal(t, 30*time.Minute, hosts.idle)

	stuck, err := e.store.GetJob(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, stuck.Status)
	assert.Equal(t, domain.CauseTimeout, stuck.Cause)
	assert.Contains(t, stuck.Error, "interrupted")

	fresh, err := e.store.GetJob(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFetching, fresh.Status)
}

type recordingDriver struct {
	job     func(time.Time)
	stopped bool
}

func (d *recordingDriver) Start(_ context.Context, job func(time.Time)) error {
	d.job = job
	return nil
}

func (d *recordingDriver) Stop(context.Context) error {
	d.stopped = true
	return nil
}

func TestSchedulerRunsMaintenance(t *testing.T) {
	users := countPruner(0)
	driver := &recordingDriver{}
	s := NewScheduler(driver, NewMaintenance(MaintenanceDeps{Users: users}), nil)

	require.NoError(t, s.Start(context.Background()))
	require.NotNil(t, driver.job)
	driver.job(time.Now())

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, driver.stopped)

	assert.NoError(t, NewScheduler(nil, nil, nil).Start(context.Background()))
}
