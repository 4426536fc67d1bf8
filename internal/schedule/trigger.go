package schedule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// TriggerRecord is the persisted form: four crontab-like text fields.
type TriggerRecord struct {
	Minute     string `json:"minute"`
	Hour       string `json:"hour"`
	DayOfWeek  string `json:"day_of_week"`
	DayOfMonth string `json:"day_of_month"`
}

// ToTrigger encodes a time-of-day window for the given frequency.
func ToTrigger(freq Frequency, start, end string) (TriggerRecord, error) {
	dow, dom, err := freq.dayFields()
	if err != nil {
		return TriggerRecord{}, err
	}
	s, err := ParseClock(start)
	if err != nil {
		return TriggerRecord{}, errors.Wrap(err, "start time")
	}
	e, err := ParseClock(end)
	if err != nil {
		return TriggerRecord{}, errors.Wrap(err, "end time")
	}
	return Windowed{Start: s, End: e, DayOfWeek: dow, DayOfMonth: dom}.Record(), nil
}

// ToInstant encodes a single delivery time for the given frequency.
func ToInstant(freq Frequency, at string) (TriggerRecord, error) {
	dow, dom, err := freq.dayFields()
	if err != nil {
		return TriggerRecord{}, err
	}
	t, err := ParseClock(at)
	if err != nil {
		return TriggerRecord{}, errors.Wrap(err, "delivery time")
	}
	return Periodic{At: t, DayOfWeek: dow, DayOfMonth: dom}.Record(), nil
}

// ToWindow reads a window back. A field without "-" yields start == end.
func ToWindow(rec TriggerRecord) (start, end ClockTime, err error) {
	m0, m1, err := splitBounds(rec.Minute, 59)
	if err != nil {
		return ClockTime{}, ClockTime{}, errors.Wrap(err, "minute")
	}
	h0, h1, err := splitBounds(rec.Hour, 23)
	if err != nil {
		return ClockTime{}, ClockTime{}, errors.Wrap(err, "hour")
	}
	return ClockTime{Hour: h0, Minute: m0}, ClockTime{Hour: h1, Minute: m1}, nil
}

// Trigger is the decoded form of a TriggerRecord: Periodic or Windowed.
type Trigger interface {
	Record() TriggerRecord
	// CronSpec renders a five-field cron expression for robfig/cron.
	CronSpec() string
	isTrigger()
}

// Periodic fires once at a fixed time of day.
type Periodic struct {
	At         ClockTime
	DayOfWeek  string
	DayOfMonth string
}

// Windowed fires on every minute of the window on the matching days.
type Windowed struct {
	Start      ClockTime
	End        ClockTime
	DayOfWeek  string
	DayOfMonth string
}

func (Periodic) isTrigger() {}
func (Windowed) isTrigger() {}

func (p Periodic) Record() TriggerRecord {
	return TriggerRecord{
		Minute:     strconv.Itoa(p.At.Minute),
		Hour:       strconv.Itoa(p.At.Hour),
		DayOfWeek:  p.DayOfWeek,
		DayOfMonth: p.DayOfMonth,
	}
}

func (p Periodic) CronSpec() string {
	return fmt.Sprintf("%d %d %s * %s", p.At.Minute, p.At.Hour, p.DayOfMonth, p.DayOfWeek)
}

func (w Windowed) Record() TriggerRecord {
	return TriggerRecord{
		Minute:     fmt.Sprintf("%d-%d", w.Start.Minute, w.End.Minute),
		Hour:       fmt.Sprintf("%d-%d", w.Start.Hour, w.End.Hour),
		DayOfWeek:  w.DayOfWeek,
		DayOfMonth: w.DayOfMonth,
	}
}

func (w Windowed) CronSpec() string {
	return fmt.Sprintf("%s %s %s * %s",
		cronRange(w.Start.Minute, w.End.Minute, 59),
		cronRange(w.Start.Hour, w.End.Hour, 23),
		w.DayOfMonth, w.DayOfWeek)
}

// Decode reads rec according to the category's trigger shape.
func Decode(cat Category, rec TriggerRecord) (Trigger, error) {
	if err := checkDayField(rec.DayOfWeek, 0, 6); err != nil {
		return nil, errors.Wrap(err, "day_of_week")
	}
	if err := checkDayField(rec.DayOfMonth, 1, 31); err != nil {
		return nil, errors.Wrap(err, "day_of_month")
	}
	if cat.Windowed() {
		s, e, err := ToWindow(rec)
		if err != nil {
			return nil, err
		}
		return Windowed{Start: s, End: e, DayOfWeek: rec.DayOfWeek, DayOfMonth: rec.DayOfMonth}, nil
	}
	m, err := parseField(rec.Minute, 59)
	if err != nil {
		return nil, errors.Wrap(err, "minute")
	}
	h, err := parseField(rec.Hour, 23)
	if err != nil {
		return nil, errors.Wrap(err, "hour")
	}
	return Periodic{At: ClockTime{Hour: h, Minute: m}, DayOfWeek: rec.DayOfWeek, DayOfMonth: rec.DayOfMonth}, nil
}

func splitBounds(v string, maxV int) (int, int, error) {
	lo, hi, found := strings.Cut(strings.TrimSpace(v), "-")
	a, err := parseField(lo, maxV)
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return a, a, nil
	}
	b, err := parseField(hi, maxV)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func parseField(v string, maxV int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 || n > maxV {
		return 0, errors.Wrapf(ErrMalformedTrigger, "value %q", v)
	}
	return n, nil
}

func checkDayField(v string, lo, hi int) error {
	if v == "*" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return errors.Wrapf(ErrMalformedTrigger, "value %q", v)
	}
	return nil
}

// cronRange renders a lo-hi range, splitting ranges that run past maxV
// (22-2 becomes 22-23,0-2).
func cronRange(lo, hi, maxV int) string {
	switch {
	case lo == hi:
		return strconv.Itoa(lo)
	case lo < hi:
		return fmt.Sprintf("%d-%d", lo, hi)
	case lo == maxV && hi == 0:
		return fmt.Sprintf("%d,0", maxV)
	case lo == maxV:
		return fmt.Sprintf("%d,0-%d", maxV, hi)
	case hi == 0:
		return fmt.Sprintf("%d-%d,0", lo, maxV)
	default:
		return fmt.Sprintf("%d-%d,0-%d", lo, maxV, hi)
	}
}
