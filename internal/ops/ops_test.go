package ops

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracksched/internal/jobs"
	"tracksched/internal/kpi"
	"tracksched/internal/lifecycle"
	"tracksched/internal/model"
	"tracksched/internal/report"
	"tracksched/internal/schedule"
	"tracksched/internal/storage"
	"tracksched/internal/task/engine"
	"tracksched/internal/task/scheduler"
	"tracksched/pkg/logx"
)

type recorder struct {
	mu    sync.Mutex
	tasks []engine.Task
}

func (r *recorder) Enqueue(t engine.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return nil
}

type fixture struct {
	svc   *Service
	store storage.Store
	sched *scheduler.Service
	queue *recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	noop := func(context.Context, jobs.Params) error { return nil }
	sw := lifecycle.New(st, nil, logx.Nop())
	reg, err := jobs.NewRegistry(
		jobs.Spec{Name: "bct_imports", Category: schedule.Import, Run: noop},
		jobs.Spec{Name: report.JobName, Category: schedule.Email, Run: noop},
		sw.Spec(time.Minute),
	)
	require.NoError(t, err)

	q := &recorder{}
	disp := jobs.NewDispatcher(reg, q, logx.Nop())
	sched := scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC"}, disp, st, logx.Nop())
	svc := New(Deps{
		Store:      st,
		Dispatcher: disp,
		Scheduler:  sched,
		KPI:        kpi.NewAggregator(st, kpi.DefaultIdentity()),
		Sweeper:    sw,
		Log:        logx.Nop(),
	})
	return fixture{svc: svc, store: st, sched: sched, queue: q}
}

func importInput(name string) ScheduleInput {
	return ScheduleInput{Name: name, Category: "Import", Frequency: "Daily", StartTime: "09:30", EndTime: "17:45"}
}

func TestCreateAndListSchedules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.svc.CreateSchedule(ctx, importInput("BCT Imports"))
	require.NoError(t, err)
	assert.Equal(t, "bct_imports", v.Job)
	assert.Equal(t, "09:30 AM", v.StartTime)
	assert.Equal(t, "05:45 PM", v.EndTime)
	assert.True(t, v.Enabled)

	mail, err := f.svc.CreateSchedule(ctx, ScheduleInput{
		Name: "Weekly Traces", Category: "Email", Frequency: "Weekly", DeliveryTime: "08:00",
		Report: &ReportInput{Recipients: "ops@example.com, lead@example.com", Format: "pdf", Type: "UnitTraces"},
	})
	require.NoError(t, err)
	assert.Equal(t, report.JobName, mail.Job)
	assert.Equal(t, "08:00 AM", mail.DeliveryTime)
	require.NotNil(t, mail.Report)
	assert.Equal(t, model.FormatPDF, mail.Report.Format)
	assert.Len(t, mail.Report.Recipients, 2)

	tracing, err := f.svc.ListSchedules(ctx, "tracing")
	require.NoError(t, err)
	require.Len(t, tracing, 1)
	assert.Equal(t, v.ID, tracing[0].ID)

	reports, err := f.svc.ListSchedules(ctx, "report")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, mail.ID, reports[0].ID)

	all, err := f.svc.ListSchedules(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.ListSchedules(ctx, "bogus")
	assert.True(t, errors.Is(err, ErrInvalidInput))

	snap := f.sched.Snapshot()
	assert.Len(t, snap.Entries, 2)
}

func TestCreateScheduleRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	bad := importInput("x")
	bad.StartTime = "9am"
	_, err := f.svc.CreateSchedule(ctx, bad)
	assert.True(t, errors.Is(err, schedule.ErrInvalidScheduleSpec))

	bad = importInput("x")
	bad.Frequency = "Hourly"
	_, err = f.svc.CreateSchedule(ctx, bad)
	assert.True(t, errors.Is(err, schedule.ErrInvalidScheduleSpec))

	_, err = f.svc.CreateSchedule(ctx, ScheduleInput{Name: "r", Category: "Email", Frequency: "Daily", DeliveryTime: "08:00"})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = f.svc.CreateSchedule(ctx, ScheduleInput{Name: "r", Category: "Email", Frequency: "Daily", DeliveryTime: "08:00",
		Report: &ReportInput{Recipients: "a@example.com", Type: "Pie"}})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = f.svc.CreateSchedule(ctx, ScheduleInput{Name: " ", Category: "Import", Frequency: "Daily"})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = f.svc.CreateSchedule(ctx, importInput("dup"))
	require.NoError(t, err)
	_, err = f.svc.CreateSchedule(ctx, importInput("dup"))
	assert.True(t, errors.Is(err, storage.ErrDuplicate))
}

func TestEditToggleDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.svc.CreateSchedule(ctx, importInput("BCT Imports"))
	require.NoError(t, err)

	off, err := f.svc.SetEnabled(ctx, v.ID, false)
	require.NoError(t, err)
	assert.False(t, off.Enabled)
	assert.Empty(t, f.sched.Snapshot().Entries)

	in := importInput("BCT Imports")
	in.Frequency = "Monthly"
	in.StartTime, in.EndTime = "22:00", "02:00"
	edited, err := f.svc.EditSchedule(ctx, v.ID, in)
	require.NoError(t, err)
	assert.False(t, edited.Enabled, "omitted enabled keeps the current flag")
	assert.Equal(t, schedule.Monthly, edited.Frequency)
	assert.Equal(t, "10:00 PM", edited.StartTime)
	assert.Equal(t, "02:00 AM", edited.EndTime)

	_, err = f.svc.EditSchedule(ctx, 999, in)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, f.svc.DeleteSchedule(ctx, v.ID))
	_, err = f.svc.GetSchedule(ctx, v.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.True(t, errors.Is(f.svc.DeleteSchedule(ctx, v.ID), storage.ErrNotFound))
}

func TestMalformedTriggerListsBlankTimes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	def := &model.JobDefinition{Name: "Broken", Category: schedule.Import, Frequency: schedule.Daily, Enabled: true,
		Trigger: schedule.TriggerRecord{Minute: "x", Hour: "9-17", DayOfWeek: "*", DayOfMonth: "*"}}
	require.NoError(t, f.store.CreateSchedule(ctx, def))

	list, err := f.svc.ListSchedules(ctx, "Import")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Malformed)
	assert.Empty(t, list[0].StartTime)
	assert.Empty(t, list[0].EndTime)
}

func TestRunJobNowAndRunSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.RunJobNow(ctx, "bct_imports")
	require.NoError(t, err)
	assert.NotEmpty(t, res.TaskID)
	require.Len(t, f.queue.tasks, 1)

	_, err = f.svc.RunJobNow(ctx, "nonexistent_job")
	assert.True(t, errors.Is(err, jobs.ErrUnknownJob))
	assert.Len(t, f.queue.tasks, 1)

	v, err := f.svc.CreateSchedule(ctx, importInput("BCT Imports"))
	require.NoError(t, err)
	res, err = f.svc.RunSchedule(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "bct_imports", res.Job)
	require.Len(t, f.queue.tasks, 2)
	assert.Equal(t, engine.OverlapSkipIfRunning, f.queue.tasks[1].Opt.Overlap)

	orphan, err := f.svc.CreateSchedule(ctx, importInput("Unknown Imports"))
	require.NoError(t, err)
	_, err = f.svc.RunSchedule(ctx, orphan.ID)
	assert.True(t, errors.Is(err, jobs.ErrUnknownJob))

	names := map[string]bool{}
	for _, j := range f.svc.Jobs() {
		names[j.Name] = true
	}
	assert.True(t, names[lifecycle.JobName])
}

func TestComputeKPIAndIngest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now()
	base := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 1, 0, now.Location())

	for _, in := range []RequestLogInput{
		{Sender: "tracking", Receiver: "TMDB", Method: "get", Start: base, Stop: base.Add(5 * time.Second), Containers: "4", Website: "vaports"},
		{Sender: "tracking", Receiver: "vaports", Method: "POST", Start: base.Add(6 * time.Second), Stop: base.Add(10 * time.Second), Containers: "4", Website: "vaports"},
		{Sender: "tracking", Receiver: "TMDB", Method: "POST", Start: base.Add(11 * time.Second), Stop: base.Add(20 * time.Second), Containers: "4", Website: "vaports"},
	} {
		_, err := f.svc.AppendRequestLog(ctx, in)
		require.NoError(t, err)
	}
	_, err := f.svc.AppendRequestLog(ctx, RequestLogInput{Sender: "a", Receiver: "b", Method: "GET", Start: base, Stop: base.Add(-time.Second), Website: "x"})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	rep, err := f.svc.ComputeKPI(ctx, "vaports", "Todays")
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Records)
	assert.Equal(t, "20.00", rep.EndToEnd.String())
	assert.Equal(t, 4, rep.LegB.Containers)

	_, err = f.svc.ComputeKPI(ctx, "", "fortnight")
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = f.svc.AppendTraceReport(ctx, TraceReportInput{Website: "vaports", UnitsTraced: 3, Success: 5})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	tr, err := f.svc.AppendTraceReport(ctx, TraceReportInput{Website: "vaports", UnitsTraced: 5, Success: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Failures())

	require.NoError(t, f.svc.UpsertWebsite(ctx, model.Website{Name: "vaports", Status: "Active"}))
	sites, err := f.svc.ListWebsites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.True(t, errors.Is(f.svc.UpsertWebsite(ctx, model.Website{}), ErrInvalidInput))
}

func TestSweepDisablesAndReconciles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	past := time.Now().Add(-time.Hour)
	in := importInput("BCT Imports")
	in.DisableAt = &past
	v, err := f.svc.CreateSchedule(ctx, in)
	require.NoError(t, err)

	res, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{v.ID}, res.Disabled)

	got, err := f.svc.GetSchedule(ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}
