package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracksched/internal/model"
	"tracksched/internal/schedule"
	"tracksched/internal/storage"
	"tracksched/pkg/logx"
)

func newStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func create(t *testing.T, st storage.Store, name string, disableAt *time.Time, rec schedule.TriggerRecord) int64 {
	t.Helper()
	def := &model.JobDefinition{
		Name: name, Category: schedule.Import, Frequency: schedule.Daily,
		Enabled: true, DisableAt: disableAt, Trigger: rec,
	}
	require.NoError(t, st.CreateSchedule(context.Background(), def))
	return def.ID
}

func enabled(t *testing.T, st storage.Store, id int64) bool {
	t.Helper()
	def, err := st.GetSchedule(context.Background(), id)
	require.NoError(t, err)
	return def.Enabled
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	good, err := schedule.ToTrigger(schedule.Daily, "09:00", "17:00")
	require.NoError(t, err)

	expired := create(t, st, "expired", &past, good)
	pending := create(t, st, "pending", &future, good)
	unset := create(t, st, "unset", nil, good)
	broken := create(t, st, "broken", &past, schedule.TriggerRecord{Minute: "x-y", Hour: "9-17", DayOfWeek: "*", DayOfMonth: "*"})

	var notified []int64
	sw := New(st, nil, logx.Nop())
	sw.now = func() time.Time { return now }
	sw.OnDisabled = func(_ context.Context, ids []int64) { notified = ids }

	res, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{expired}, res.Disabled)
	assert.Equal(t, []int64{broken}, res.Skipped)
	assert.Equal(t, []int64{expired}, notified)

	assert.False(t, enabled(t, st, expired))
	assert.True(t, enabled(t, st, pending))
	assert.True(t, enabled(t, st, unset))
	assert.True(t, enabled(t, st, broken))

	notified = nil
	res, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Disabled)
	assert.Nil(t, notified)
	assert.False(t, enabled(t, st, expired))
}

func TestSweepNeverTouchesUnsetDisableAt(t *testing.T) {
	st := newStore(t)
	rec, err := schedule.ToTrigger(schedule.Weekly, "01:00", "02:00")
	require.NoError(t, err)
	id := create(t, st, "forever", nil, rec)

	sw := New(st, nil, logx.Nop())
	sw.now = func() time.Time { return time.Date(2999, 1, 1, 0, 0, 0, 0, time.UTC) }
	res, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Disabled)
	assert.True(t, enabled(t, st, id))
}

func TestSpecRunsSweep(t *testing.T) {
	st := newStore(t)
	rec, err := schedule.ToTrigger(schedule.Daily, "01:00", "02:00")
	require.NoError(t, err)
	past := time.Now().Add(-time.Minute)
	id := create(t, st, "old", &past, rec)

	spec := New(st, nil, logx.Nop()).Spec(time.Minute)
	assert.Equal(t, JobName, spec.Name)
	require.NoError(t, spec.Run(context.Background(), nil))
	assert.False(t, enabled(t, st, id))
}
