package schedule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidScheduleSpec marks user input that cannot be turned into a
	// trigger: bad HH:MM strings, unknown frequencies or categories.
	ErrInvalidScheduleSpec = errors.New("invalid schedule spec")
	// ErrMalformedTrigger marks a persisted trigger whose fields do not
	// parse. Callers treat the times as unknown.
	ErrMalformedTrigger = errors.New("malformed trigger")
)

type Frequency string

const (
	Daily   Frequency = "Daily"
	Weekly  Frequency = "Weekly"
	Monthly Frequency = "Monthly"
)

func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	}
	return "", errors.Wrapf(ErrInvalidScheduleSpec, "frequency %q", s)
}

// dayFields returns the day-of-week and day-of-month fields. Weekly runs on
// Monday, Monthly on the first.
func (f Frequency) dayFields() (dow, dom string, err error) {
	switch f {
	case Daily:
		return "*", "*", nil
	case Weekly:
		return "1", "*", nil
	case Monthly:
		return "*", "1", nil
	}
	return "", "", errors.Wrapf(ErrInvalidScheduleSpec, "frequency %q", string(f))
}

type Category string

const (
	Import Category = "Import"
	Export Category = "Export"
	Other  Category = "Other"
	Email  Category = "Email"
)

func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "import":
		return Import, nil
	case "export":
		return Export, nil
	case "other":
		return Other, nil
	case "email":
		return Email, nil
	}
	return "", errors.Wrapf(ErrInvalidScheduleSpec, "category %q", s)
}

// Windowed reports whether triggers of this category hold a time window
// rather than a single instant.
func (c Category) Windowed() bool { return c != Email }

// TracingCategories are the categories listed on the tracing schedule page.
var TracingCategories = []Category{Import, Export, Other}

// ClockTime is a time of day with minute precision.
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return ClockTime{}, errors.WithHint(
			errors.Wrapf(ErrInvalidScheduleSpec, "time %q", s), "expected HH:MM")
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, errors.Wrapf(ErrInvalidScheduleSpec, "hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, errors.Wrapf(ErrInvalidScheduleSpec, "minute in %q", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Format12h renders the time the way the schedule pages show it, e.g. "09:30 AM".
func (c ClockTime) Format12h() string {
	h := c.Hour % 12
	if h == 0 {
		h = 12
	}
	suffix := "AM"
	if c.Hour >= 12 {
		suffix = "PM"
	}
	return fmt.Sprintf("%02d:%02d %s", h, c.Minute, suffix)
}

// Before reports whether c is strictly earlier in the day than o.
func (c ClockTime) Before(o ClockTime) bool {
	return c.Hour*60+c.Minute < o.Hour*60+o.Minute
}
