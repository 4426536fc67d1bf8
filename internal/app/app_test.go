package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracksched/internal/config"
	"tracksched/internal/lifecycle"
	"tracksched/internal/ops"
	"tracksched/internal/report"
	"tracksched/internal/schedule"
	"tracksched/internal/storage"
)

func configYAML(db, tz string) string {
	return fmt.Sprintf(`
logging: {level: error, console: false}
scheduler: {enabled: true, timezone: %q, sweep_every: "1m"}
task_engine: {workers: 2, queue_size: 16}
storage: {driver: sqlite, path: %q}
kpi: {hub: TMDB}
jobs:
  - name: echo_export
    category: Export
    command: "echo done"
    time_limit: "30s"
`, tz, db)
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, configYAML(filepath.Join(dir, "t.db"), "UTC"))

	a, err := New(path)
	require.NoError(t, err)
	names := a.disp.Registry().Names()
	assert.Contains(t, names, "echo_export")
	assert.Contains(t, names, "bct_imports")
	assert.Contains(t, names, report.JobName)
	assert.Contains(t, names, lifecycle.JobName)
	assert.Nil(t, a.http)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	v, err := a.Ops().CreateSchedule(ctx, ops.ScheduleInput{
		Name: "Echo Export", Category: "Export", Frequency: "Weekdays", StartTime: "08:00", EndTime: "18:00",
	})
	require.NoError(t, err)
	assert.NotNil(t, v.NextRun)

	st := a.Status()
	assert.True(t, st.Scheduler.Running)
	assert.True(t, st.Engine.Enabled)
	assert.Len(t, st.Scheduler.Entries, 2) // sweep + Echo Export

	res, err := a.Ops().RunJobNow(ctx, "echo_export")
	require.NoError(t, err)
	assert.NotEmpty(t, res.TaskID)
	require.Eventually(t, func() bool {
		for _, h := range a.Status().Engine.History {
			if h.Name == "echo_export" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	// let the watcher register before writing
	time.Sleep(200 * time.Millisecond)
	writeConfig(t, dir, configYAML(filepath.Join(dir, "t.db"), "America/Chicago"))
	require.Eventually(t, func() bool {
		return a.sched.Location().String() == "America/Chicago"
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "TMDB", a.kpi.Identity().Hub)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	assert.False(t, a.Status().Scheduler.Running)
}

func TestNewRejectsBadJobs(t *testing.T) {
	dir := t.TempDir()
	body := configYAML(filepath.Join(dir, "t.db"), "UTC") + "  - name: broken\n    command: \"python 'unterminated\"\n"
	_, err := New(writeConfig(t, dir, body))
	assert.Error(t, err)
}

func TestMapEngine(t *testing.T) {
	cfg := &config.Config{Scheduler: config.SchedulerConfig{Enabled: true}}
	ec, err := mapEngine(cfg)
	require.NoError(t, err)
	assert.True(t, ec.Enabled)
	assert.Equal(t, defaultWorkers, ec.Workers)
	assert.Equal(t, defaultQueueSize, ec.QueueSize)
	assert.Equal(t, defaultTaskTimeout, ec.DefaultTimeout)
	assert.Zero(t, ec.MaxQueueDelay)

	off := false
	cfg.TaskEngine.Enabled = &off
	_, err = mapEngine(cfg)
	assert.Error(t, err)

	cfg.Scheduler.Enabled = false
	ec, err = mapEngine(cfg)
	require.NoError(t, err)
	assert.False(t, ec.Enabled)
}

func TestMapSchedulerAndReport(t *testing.T) {
	sc, err := mapScheduler(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultSweepEvery, sc.SweepEvery)

	sc, err = mapScheduler(&config.Config{Scheduler: config.SchedulerConfig{SweepEvery: "0s"}})
	require.NoError(t, err)
	assert.Zero(t, sc.SweepEvery)

	rs, err := mapReport(&config.Config{Report: config.ReportConfig{Expires: "2m"}})
	require.NoError(t, err)
	assert.Equal(t, defaultReportLimit, rs.timeLimit)
	assert.Equal(t, 2*time.Minute, rs.expires)
}

func TestMapCommandsOverridesCatalog(t *testing.T) {
	cmds, err := mapCommands(&config.Config{Jobs: []config.JobConfig{
		{Name: "bct_imports", Command: "./bin/bct --fast", TimeLimit: "1m"},
		{Name: "nightly_export", Category: "Export", Command: "./export.sh"},
	}})
	require.NoError(t, err)
	byName := map[string]schedule.Category{}
	for _, c := range cmds {
		byName[c.Name] = c.Category
		if c.Name == "bct_imports" {
			assert.Equal(t, "./bin/bct --fast", c.Command)
			assert.Equal(t, time.Minute, c.TimeLimit)
		}
	}
	assert.Equal(t, schedule.Export, byName["nightly_export"])
	assert.Equal(t, schedule.Import, byName["cn_imports"])

	_, err = mapCommands(&config.Config{Jobs: []config.JobConfig{{Name: "x", Category: "Weekly", Command: "true"}}})
	assert.True(t, errors.Is(err, schedule.ErrInvalidScheduleSpec))
}

func TestMapStorage(t *testing.T) {
	_, err := mapStorage(&config.Config{Storage: config.StorageConfig{Driver: "none"}})
	assert.True(t, errors.Is(err, storage.ErrDisabled))

	sc, err := mapStorage(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultStoragePath, sc.Path)
	assert.Equal(t, defaultBusyTimeout, sc.BusyTimeout)
}

func TestStepBoundsSlowWork(t *testing.T) {
	dir := t.TempDir()
	a, err := New(writeConfig(t, dir, configYAML(filepath.Join(dir, "t.db"), "UTC")))
	require.NoError(t, err)
	defer a.Close()

	start := time.Now()
	a.step(context.Background(), "slow", 50*time.Millisecond, func(c context.Context) error {
		<-c.Done()
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestMapDelivery(t *testing.T) {
	dc, err := mapDelivery(&config.Config{})
	require.NoError(t, err)
	assert.False(t, dc.Enabled)
	assert.Equal(t, defaultDeliveryRetries, dc.RetryMax)
	assert.Equal(t, defaultDedupWindow, dc.DedupWindow)

	dc, err = mapDelivery(&config.Config{Report: config.ReportConfig{Delivery: config.DeliveryConfig{
		Enabled: true, RetryMax: -1, DedupWindow: "0s", RetryBase: "1s",
	}}})
	require.NoError(t, err)
	assert.Zero(t, dc.RetryMax)
	assert.Zero(t, dc.DedupWindow)
	assert.Equal(t, time.Second, dc.RetryBase)

	_, err = mapDelivery(&config.Config{Report: config.ReportConfig{Delivery: config.DeliveryConfig{RetryBase: "soon"}}})
	assert.Error(t, err)
}
