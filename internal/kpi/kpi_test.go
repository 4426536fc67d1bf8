package kpi

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracksched/internal/model"
	"tracksched/internal/storage"
	"tracksched/pkg/logx"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func pipelineRows() []model.RequestLog {
	return []model.RequestLog{
		{Sender: "tracking", Receiver: "TMDB", Method: "GET", Start: at(0), Stop: at(5), Containers: "4", Website: "vaports"},
		{Sender: "tracking", Receiver: "vaports", Method: "POST", Start: at(6), Stop: at(10), Containers: "4", Website: "vaports"},
		{Sender: "tracking", Receiver: "TMDB", Method: "POST", Start: at(11), Stop: at(20), Containers: "4", Website: "vaports"},
	}
}

func TestAggregateRoundTrip(t *testing.T) {
	rep := Aggregate(pipelineRows(), DefaultIdentity())

	assert.Equal(t, 3, rep.Records)
	for name, leg := range map[string]LegStats{"A": rep.LegA, "B": rep.LegB, "C": rep.LegC} {
		assert.Equal(t, 1, leg.Count, name)
		assert.Equal(t, 4, leg.Containers, name)
	}
	assert.Equal(t, seconds(5), rep.LegA.Average)
	assert.Equal(t, seconds(4), rep.LegB.Average)
	assert.Equal(t, seconds(9), rep.LegC.Average)
	assert.Equal(t, seconds(6), rep.Overall)
	assert.Equal(t, seconds(20), rep.EndToEnd)
	assert.Equal(t, "20.00", rep.EndToEnd.String())
}

func TestAverageEmpty(t *testing.T) {
	_, err := Average(nil)
	assert.True(t, errors.Is(err, ErrNoDataForAverage))

	v, err := Average([]time.Duration{1 * time.Second, 2 * time.Second, 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 1.67, v)
}

func TestAggregateEmptyUsesPlaceholder(t *testing.T) {
	rep := Aggregate(nil, DefaultIdentity())
	assert.False(t, rep.Overall.Valid)
	assert.False(t, rep.LegA.Average.Valid)
	assert.False(t, rep.EndToEnd.Valid)

	b, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"last_round_trip_seconds":"Calculating"`)
	assert.Contains(t, string(b), `"overall_average_seconds":"Calculating"`)
}

func TestEndToEndNeedsBothLegs(t *testing.T) {
	rows := pipelineRows()[:2]
	rep := Aggregate(rows, DefaultIdentity())
	assert.True(t, rep.LegA.Average.Valid)
	assert.False(t, rep.LegC.Average.Valid)
	assert.False(t, rep.EndToEnd.Valid)
	assert.Equal(t, Placeholder, rep.EndToEnd.String())
}

func TestEndToEndPairsLastRows(t *testing.T) {
	rows := append(pipelineRows(),
		model.RequestLog{Sender: "tracking", Receiver: "TMDB", Method: "GET", Start: at(30), Stop: at(31), Website: "gpa"},
	)
	rep := Aggregate(rows, DefaultIdentity())
	// last C stops at 20, last A starts at 30: unrelated runs give a
	// negative span.
	assert.Equal(t, seconds(-10), rep.EndToEnd)
}

func TestMissingContainersCountZero(t *testing.T) {
	rows := pipelineRows()
	rows[0].Containers = ""
	rows[1].Containers = "n/a"
	rep := Aggregate(rows, DefaultIdentity())
	assert.Equal(t, 0, rep.LegA.Containers)
	assert.Equal(t, 0, rep.LegB.Containers)
	assert.Equal(t, 4, rep.LegC.Containers)
}

func TestClassify(t *testing.T) {
	id := DefaultIdentity()
	cases := []struct {
		row  model.RequestLog
		want Leg
	}{
		{model.RequestLog{Sender: "tracking", Receiver: "TMDB", Method: "GET"}, LegA},
		{model.RequestLog{Sender: "tracking", Receiver: "TMDB", Method: "post"}, LegC},
		{model.RequestLog{Sender: "tracking", Receiver: "bnsf", Method: "POST", Website: "bnsf"}, LegB},
		{model.RequestLog{Sender: "tracking", Receiver: "bnsf", Method: "GET", Website: "bnsf"}, LegNone},
		{model.RequestLog{Sender: "tracking", Receiver: "other", Method: "POST", Website: "bnsf"}, LegNone},
		{model.RequestLog{Sender: "TMDB", Receiver: "tracking", Method: "GET"}, LegNone},
		{model.RequestLog{Sender: "tracking", Receiver: "TMDB", Method: "DELETE"}, LegNone},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.row, id), "%+v", tc.row)
	}

	custom := Identity{InternalSystem: "svc", Hub: "hub"}
	assert.Equal(t, LegA, Classify(model.RequestLog{Sender: "svc", Receiver: "hub", Method: "GET"}, custom))
}

func TestParseDateRange(t *testing.T) {
	cases := map[string]DateRange{
		"":            RangeAll,
		"Todays":      RangeToday,
		"today":       RangeToday,
		"Past 7 days": RangePast7Days,
		"past_7_days": RangePast7Days,
		"This month":  RangeThisMonth,
		"This year":   RangeThisYear,
	}
	for in, want := range cases {
		got, err := ParseDateRange(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDateRange("last decade")
	assert.True(t, errors.Is(err, ErrUnknownRange))
}

func TestDateRangeSince(t *testing.T) {
	now := time.Date(2024, 3, 31, 15, 30, 0, 0, time.UTC)
	assert.True(t, RangeAll.Since(now).IsZero())
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), RangeToday.Since(now))
	assert.Equal(t, time.Date(2024, 3, 24, 0, 0, 0, 0, time.UTC), RangePast7Days.Since(now))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), RangeThisMonth.Since(now))
	assert.Equal(t, time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC), RangeThisYear.Since(now))
}

func TestAggregatorCompute(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	for _, r := range pipelineRows() {
		r.CreatedAt = now.Add(-time.Hour)
		require.NoError(t, st.AppendRequestLog(ctx, &r))
	}
	old := model.RequestLog{Sender: "tracking", Receiver: "TMDB", Method: "GET", Start: at(0), Stop: at(100),
		Website: "vaports", CreatedAt: now.AddDate(0, 0, -10)}
	require.NoError(t, st.AppendRequestLog(ctx, &old))
	other := model.RequestLog{Sender: "tracking", Receiver: "TMDB", Method: "GET", Start: at(0), Stop: at(50),
		Website: "gpa", CreatedAt: now.Add(-time.Hour)}
	require.NoError(t, st.AppendRequestLog(ctx, &other))

	agg := NewAggregator(st, Identity{})
	agg.now = func() time.Time { return now }

	rep, err := agg.Compute(ctx, Query{Website: "vaports", Range: RangePast7Days})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Records)
	assert.Equal(t, seconds(5), rep.LegA.Average)
	assert.Equal(t, seconds(20), rep.EndToEnd)

	rep, err = agg.Compute(ctx, Query{Website: "vaports"})
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Records)
	assert.Equal(t, 2, rep.LegA.Count)

	rep, err = agg.Compute(ctx, Query{Range: RangeToday})
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Records)

	rep, err = agg.Compute(ctx, Query{Website: "nowhere"})
	require.NoError(t, err)
	assert.Zero(t, rep.Records)
	assert.False(t, rep.Overall.Valid)
}

func TestAggregatorTodayFollowsLocation(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	// 02:00 UTC on the 4th is still the evening of the 3rd at UTC-6.
	now := time.Date(2024, 3, 4, 2, 0, 0, 0, time.UTC)
	row := pipelineRows()[0]
	row.CreatedAt = time.Date(2024, 3, 3, 23, 0, 0, 0, time.UTC)
	require.NoError(t, st.AppendRequestLog(ctx, &row))

	agg := NewAggregator(st, Identity{})
	agg.now = func() time.Time { return now }

	rep, err := agg.Compute(ctx, Query{Range: RangeToday})
	require.NoError(t, err)
	assert.Zero(t, rep.Records)

	zone := time.FixedZone("UTC-6", -6*3600)
	agg.SetLocation(zone)
	rep, err = agg.Compute(ctx, Query{Range: RangeToday})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Records)
	assert.True(t, rep.Since.Equal(time.Date(2024, 3, 3, 0, 0, 0, 0, zone)))
}

func TestAggregateCountsLegBAcrossSites(t *testing.T) {
	rows := append(pipelineRows(), model.RequestLog{
		Sender: "tracking", Receiver: "gpa", Method: "POST", Start: at(0), Stop: at(2), Containers: "3", Website: "gpa",
	})
	rep := Aggregate(rows, Identity{})
	assert.Equal(t, 2, rep.LegB.Count)
	assert.Equal(t, 7, rep.LegB.Containers)
}
