package kpi

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// DateRange is a rolling window ending now. Windows start at midnight in
// now's zone, N days back.
type DateRange string

const (
	RangeAll       DateRange = ""
	RangeToday     DateRange = "today"
	RangePast7Days DateRange = "past_7_days"
	RangeThisMonth DateRange = "this_month"
	RangeThisYear  DateRange = "this_year"
)

var ErrUnknownRange = errors.New("unknown date range")

// ParseDateRange accepts the API keys and the labels of the KPI page
// ("Todays", "Past 7 days", "This month", "This year").
func ParseDateRange(s string) (DateRange, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	switch key {
	case "", "all":
		return RangeAll, nil
	case "today", "todays":
		return RangeToday, nil
	case "past_7_days", "week":
		return RangePast7Days, nil
	case "this_month", "month":
		return RangeThisMonth, nil
	case "this_year", "year":
		return RangeThisYear, nil
	}
	return "", errors.Wrapf(ErrUnknownRange, "%q", s)
}

func (r DateRange) days() int {
	switch r {
	case RangePast7Days:
		return 7
	case RangeThisMonth:
		return 30
	case RangeThisYear:
		return 365
	}
	return 0
}

// Since returns the window start for now, or the zero time for RangeAll.
func (r DateRange) Since(now time.Time) time.Time {
	if r == RangeAll {
		return time.Time{}
	}
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return midnight.AddDate(0, 0, -r.days())
}
