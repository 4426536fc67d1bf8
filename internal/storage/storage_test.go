package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracksched/internal/model"
	"tracksched/internal/schedule"
	"tracksched/pkg/logx"
)

func newTestStore(t *testing.T) *sqliteStore {
	t.Helper()
	st, err := openSQLite(Config{Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func importDef(t *testing.T, name string) *model.JobDefinition {
	t.Helper()
	rec, err := schedule.ToTrigger(schedule.Daily, "09:00", "17:30")
	require.NoError(t, err)
	return &model.JobDefinition{
		Name:      name,
		Category:  schedule.Import,
		Frequency: schedule.Daily,
		Enabled:   true,
		Trigger:   rec,
	}
}

func TestScheduleCRUD(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	def := importDef(t, "BCT Imports")
	require.NoError(t, st.CreateSchedule(ctx, def))
	require.NotZero(t, def.ID)

	got, err := st.GetSchedule(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "BCT Imports", got.Name)
	assert.Equal(t, schedule.TriggerRecord{Minute: "0-30", Hour: "9-17", DayOfWeek: "*", DayOfMonth: "*"}, got.Trigger)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.DisableAt)
	assert.Nil(t, got.Report)

	disableAt := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	got.Frequency = schedule.Weekly
	got.Trigger.DayOfWeek = "1"
	got.DisableAt = &disableAt
	require.NoError(t, st.UpdateSchedule(ctx, &got))

	again, err := st.GetSchedule(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.Weekly, again.Frequency)
	assert.Equal(t, "1", again.Trigger.DayOfWeek)
	require.NotNil(t, again.DisableAt)
	assert.True(t, disableAt.Equal(*again.DisableAt))

	require.NoError(t, st.DeleteSchedule(ctx, def.ID))
	_, err = st.GetSchedule(ctx, def.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	var orphans int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM triggers`).Scan(&orphans))
	assert.Zero(t, orphans)

	assert.True(t, errors.Is(st.DeleteSchedule(ctx, def.ID), ErrNotFound))
}

func TestCreateScheduleDuplicateName(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.CreateSchedule(ctx, importDef(t, "gpa_imports")))
	err := st.CreateSchedule(ctx, importDef(t, "gpa_imports"))
	assert.True(t, errors.Is(err, ErrDuplicate))
}

func TestListSchedulesByCategory(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.CreateSchedule(ctx, importDef(t, "a")))

	rec, err := schedule.ToInstant(schedule.Daily, "06:00")
	require.NoError(t, err)
	report := &model.JobDefinition{
		Name: "weekly traces", Category: schedule.Email, Frequency: schedule.Daily, Enabled: true, Trigger: rec,
		Report: &model.ReportParams{
			Recipients: []string{"ops@example.com", "lead@example.com"},
			Format:     model.FormatExcel,
			Type:       model.ReportUnitTraces,
			RangeStart: "2024-01-01",
			RangeEnd:   "2024-01-31",
		},
	}
	require.NoError(t, st.CreateSchedule(ctx, report))

	tracing, err := st.ListSchedules(ctx, schedule.TracingCategories...)
	require.NoError(t, err)
	require.Len(t, tracing, 1)
	assert.Equal(t, "a", tracing[0].Name)

	emails, err := st.ListSchedules(ctx, schedule.Email)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	require.NotNil(t, emails[0].Report)
	assert.Equal(t, report.Report.Recipients, emails[0].Report.Recipients)
	assert.Equal(t, model.ReportUnitTraces, emails[0].Report.Type)

	all, err := st.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDisableExpired(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	expired := importDef(t, "expired")
	expired.DisableAt = &past
	later := importDef(t, "later")
	later.DisableAt = &future
	forever := importDef(t, "forever")
	for _, d := range []*model.JobDefinition{expired, later, forever} {
		require.NoError(t, st.CreateSchedule(ctx, d))
	}

	due, err := st.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, expired.ID, due[0].ID)

	for _, d := range []*model.JobDefinition{expired, later, forever} {
		changed, err := st.DisableExpired(ctx, d.ID, now)
		require.NoError(t, err)
		assert.Equal(t, d == expired, changed, d.Name)
	}
	changed, err := st.DisableExpired(ctx, expired.ID, now)
	require.NoError(t, err)
	assert.False(t, changed)

	due, err = st.ListExpired(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRequestLogFilters(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	rows := []model.RequestLog{
		{Sender: "tracking", Receiver: "TMDB", Method: "get", Website: "bct", Containers: "4", CreatedAt: base},
		{Sender: "tracking", Receiver: "bct", Method: "POST", Website: "bct", CreatedAt: base.Add(time.Hour)},
		{Sender: "tracking", Receiver: "TMDB", Method: "POST", Website: "gpa", CreatedAt: base.Add(48 * time.Hour)},
	}
	for i := range rows {
		rows[i].Start = rows[i].CreatedAt
		rows[i].Stop = rows[i].CreatedAt.Add(5 * time.Second)
		require.NoError(t, st.AppendRequestLog(ctx, &rows[i]))
	}

	got, err := st.ListRequestLogs(ctx, RequestLogFilter{Website: "bct"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "GET", got[0].Method)
	assert.Equal(t, 4, got[0].ContainerCount())
	assert.Equal(t, "", got[1].Containers)
	assert.Equal(t, 5*time.Second, got[0].Stop.Sub(got[0].Start))

	got, err = st.ListRequestLogs(ctx, RequestLogFilter{Since: base.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "gpa", got[0].Website)
}

func TestTraceReportsAndWebsites(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, st.UpsertWebsite(ctx, model.Website{Name: "bct", Status: "Active"}))
	require.NoError(t, st.UpsertWebsite(ctx, model.Website{Name: "bct", Status: "Down", Category: "Rail"}))
	sites, err := st.ListWebsites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "Down", sites[0].Status)

	for i := 0; i < 3; i++ {
		rec := &model.TraceReport{Website: "bct", UnitsTraced: 10, Success: 7, CreatedAt: day.AddDate(0, 0, i)}
		require.NoError(t, st.AppendTraceReport(ctx, rec))
	}
	got, err := st.ListTraceReports(ctx, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Failures())
}

func TestCreateScheduleRollsBackOnTriggerFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := newSQLiteStore(db, logx.Nop())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO job_definitions").WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec("INSERT INTO triggers").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	def := importDef(t, "nsrr_imports")
	err = st.CreateSchedule(context.Background(), def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert trigger")
	assert.Zero(t, def.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateScheduleMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := newSQLiteStore(db, logx.Nop())

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE job_definitions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	def := importDef(t, "ghost")
	def.ID = 42
	err = st.UpdateSchedule(context.Background(), def)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "none"}, logx.Nop())
	assert.True(t, errors.Is(err, ErrDisabled))
}
