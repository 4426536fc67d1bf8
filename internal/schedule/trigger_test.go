package schedule

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToTriggerDayFields(t *testing.T) {
	cases := []struct {
		freq     Frequency
		dow, dom string
	}{
		{Daily, "*", "*"},
		{Weekly, "1", "*"},
		{Monthly, "*", "1"},
	}
	for _, tc := range cases {
		t.Run(string(tc.freq), func(t *testing.T) {
			rec, err := ToTrigger(tc.freq, "09:15", "17:45")
			require.NoError(t, err)
			assert.Equal(t, TriggerRecord{Minute: "15-45", Hour: "9-17", DayOfWeek: tc.dow, DayOfMonth: tc.dom}, rec)
		})
	}
}

func TestToTriggerRejectsUnknownFrequency(t *testing.T) {
	for _, f := range []Frequency{"", "Hourly", "daily"} {
		_, err := ToTrigger(f, "01:00", "02:00")
		assert.Truef(t, errors.Is(err, ErrInvalidScheduleSpec), "frequency %q: %v", f, err)
	}
	_, err := ParseFrequency("Yearly")
	assert.True(t, errors.Is(err, ErrInvalidScheduleSpec))
}

func TestToTriggerRejectsBadTimes(t *testing.T) {
	for _, tc := range [][2]string{
		{"9", "10:00"},
		{"24:00", "10:00"},
		{"10:00", "10:60"},
		{"aa:bb", "10:00"},
		{"", ""},
	} {
		_, err := ToTrigger(Daily, tc[0], tc[1])
		assert.Truef(t, errors.Is(err, ErrInvalidScheduleSpec), "%v: %v", tc, err)
	}
}

func TestWindowRoundTrip(t *testing.T) {
	for _, freq := range []Frequency{Daily, Weekly, Monthly} {
		for sh := 0; sh < 24; sh += 5 {
			for eh := sh; eh < 24; eh += 7 {
				start := fmt.Sprintf("%02d:%02d", sh, (sh*7)%60)
				end := fmt.Sprintf("%02d:%02d", eh, 59-eh)
				rec, err := ToTrigger(freq, start, end)
				require.NoError(t, err)
				s, e, err := ToWindow(rec)
				require.NoError(t, err)
				assert.Equal(t, start, s.String())
				assert.Equal(t, end, e.String())
			}
		}
	}
}

func TestToWindowDegenerate(t *testing.T) {
	s, e, err := ToWindow(TriggerRecord{Minute: "30", Hour: "7", DayOfWeek: "*", DayOfMonth: "*"})
	require.NoError(t, err)
	assert.Equal(t, ClockTime{Hour: 7, Minute: 30}, s)
	assert.Equal(t, s, e)
}

func TestToWindowMalformed(t *testing.T) {
	for _, rec := range []TriggerRecord{
		{Minute: "a-b", Hour: "1-2"},
		{Minute: "0-10", Hour: "x"},
		{Minute: "0-99", Hour: "1-2"},
		{Minute: "", Hour: ""},
	} {
		_, _, err := ToWindow(rec)
		assert.Truef(t, errors.Is(err, ErrMalformedTrigger), "%+v: %v", rec, err)
	}
}

func TestDecodeBranchesOnCategory(t *testing.T) {
	rec, err := ToInstant(Weekly, "08:05")
	require.NoError(t, err)
	assert.Equal(t, TriggerRecord{Minute: "5", Hour: "8", DayOfWeek: "1", DayOfMonth: "*"}, rec)

	tr, err := Decode(Email, rec)
	require.NoError(t, err)
	p, ok := tr.(Periodic)
	require.True(t, ok)
	assert.Equal(t, ClockTime{Hour: 8, Minute: 5}, p.At)
	assert.Equal(t, "5 8 * * 1", tr.CronSpec())

	_, err = Decode(Email, TriggerRecord{Minute: "0-5", Hour: "8", DayOfWeek: "*", DayOfMonth: "*"})
	assert.True(t, errors.Is(err, ErrMalformedTrigger))

	rec, err = ToTrigger(Monthly, "09:00", "17:30")
	require.NoError(t, err)
	tr, err = Decode(Import, rec)
	require.NoError(t, err)
	w, ok := tr.(Windowed)
	require.True(t, ok)
	assert.Equal(t, ClockTime{Hour: 17, Minute: 30}, w.End)
	assert.Equal(t, "0-30 9-17 1 * *", tr.CronSpec())

	_, err = Decode(Import, TriggerRecord{Minute: "0-5", Hour: "8-9", DayOfWeek: "mon", DayOfMonth: "*"})
	assert.True(t, errors.Is(err, ErrMalformedTrigger))
}

func TestCronSpecAcceptedByParser(t *testing.T) {
	cases := []struct {
		start, end string
		want       string
	}{
		{"09:00", "17:30", "0-30 9-17 * * *"},
		{"10:15", "10:15", "15 10 * * *"},
		{"22:45", "02:15", "45-59,0-15 22-23,0-2 * * *"},
		{"23:59", "00:00", "59,0 23,0 * * *"},
		{"08:30", "17:00", "30-59,0 8-17 * * *"},
	}
	for _, tc := range cases {
		t.Run(tc.start+"-"+tc.end, func(t *testing.T) {
			rec, err := ToTrigger(Daily, tc.start, tc.end)
			require.NoError(t, err)
			tr, err := Decode(Other, rec)
			require.NoError(t, err)
			assert.Equal(t, tc.want, tr.CronSpec())
			_, err = cron.ParseStandard(tr.CronSpec())
			assert.NoError(t, err)
		})
	}
}

func TestClockFormatting(t *testing.T) {
	cases := map[ClockTime]string{
		{Hour: 0, Minute: 5}:   "12:05 AM",
		{Hour: 9, Minute: 30}:  "09:30 AM",
		{Hour: 12, Minute: 0}:  "12:00 PM",
		{Hour: 23, Minute: 59}: "11:59 PM",
	}
	for c, want := range cases {
		assert.Equal(t, want, c.Format12h())
	}
	assert.True(t, ClockTime{Hour: 9}.Before(ClockTime{Hour: 9, Minute: 1}))
}
