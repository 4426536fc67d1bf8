package kpi

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/model"
	"tracksched/internal/storage"
)

// ErrNoDataForAverage is returned when averaging zero durations.
var ErrNoDataForAverage = errors.New("no data for average")

// Placeholder is shown in place of a metric that cannot be computed yet.
const Placeholder = "Calculating"

// Metric is a duration in seconds, or the placeholder when Valid is false.
type Metric struct {
	Seconds float64
	Valid   bool
}

func seconds(v float64) Metric { return Metric{Seconds: v, Valid: true} }

func (m Metric) String() string {
	if !m.Valid {
		return Placeholder
	}
	return strconv.FormatFloat(m.Seconds, 'f', 2, 64)
}

func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return json.Marshal(Placeholder)
	}
	return json.Marshal(m.Seconds)
}

func (m *Metric) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*m = seconds(f)
		return nil
	}
	*m = Metric{}
	return nil
}

// Average returns the mean of ds in seconds, rounded to two decimals.
func Average(ds []time.Duration) (float64, error) {
	if len(ds) == 0 {
		return 0, ErrNoDataForAverage
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return round2(sum.Seconds() / float64(len(ds))), nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

type LegStats struct {
	Count      int    `json:"count"`
	Containers int    `json:"containers"`
	Average    Metric `json:"average_seconds"`

	durations []time.Duration
	last      *model.RequestLog
}

type Report struct {
	Website  string    `json:"website,omitempty"`
	Range    DateRange `json:"range,omitempty"`
	Since    time.Time `json:"since"`
	Records  int       `json:"records"`
	LegA     LegStats  `json:"leg_a"`
	LegB     LegStats  `json:"leg_b"`
	LegC     LegStats  `json:"leg_c"`
	Overall  Metric    `json:"overall_average_seconds"`
	EndToEnd Metric    `json:"last_round_trip_seconds"`
}

// Aggregate computes the report over rows, which must be in insertion
// order so "last" means the most recently written row.
func Aggregate(rows []model.RequestLog, id Identity) Report {
	rep := Report{Records: len(rows)}
	all := make([]time.Duration, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		d := r.Stop.Sub(r.Start)
		all = append(all, d)

		var leg *LegStats
		switch Classify(*r, id) {
		case LegA:
			leg = &rep.LegA
		case LegB:
			leg = &rep.LegB
		case LegC:
			leg = &rep.LegC
		default:
			continue
		}
		leg.Count++
		leg.Containers += r.ContainerCount()
		leg.durations = append(leg.durations, d)
		leg.last = r
	}

	rep.Overall = averageMetric(all)
	for _, leg := range []*LegStats{&rep.LegA, &rep.LegB, &rep.LegC} {
		leg.Average = averageMetric(leg.durations)
	}
	if rep.LegA.last != nil && rep.LegC.last != nil {
		rep.EndToEnd = seconds(round2(rep.LegC.last.Stop.Sub(rep.LegA.last.Start).Seconds()))
	}
	return rep
}

func averageMetric(ds []time.Duration) Metric {
	v, err := Average(ds)
	if err != nil {
		return Metric{}
	}
	return seconds(v)
}

// Source reads request log rows.
type Source interface {
	ListRequestLogs(ctx context.Context, f storage.RequestLogFilter) ([]model.RequestLog, error)
}

type Query struct {
	Website string
	Range   DateRange
}

type Aggregator struct {
	src Source
	now func() time.Time
	loc atomic.Pointer[time.Location]

	mu sync.RWMutex
	id Identity
}

func NewAggregator(src Source, id Identity) *Aggregator {
	return &Aggregator{src: src, id: id.withDefaults(), now: time.Now}
}

func (a *Aggregator) Identity() Identity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.id
}

// SetIdentity swaps the classifier names; later Compute calls use them.
func (a *Aggregator) SetIdentity(id Identity) {
	a.mu.Lock()
	a.id = id.withDefaults()
	a.mu.Unlock()
}

// SetLocation sets the zone whose midnight anchors the date ranges. The app
// keeps it equal to the scheduler zone so KPI and report windows agree. Nil
// uses the clock's own zone.
func (a *Aggregator) SetLocation(loc *time.Location) { a.loc.Store(loc) }

// Compute loads the rows matching q and aggregates them. Website and range
// filters combine.
func (a *Aggregator) Compute(ctx context.Context, q Query) (Report, error) {
	now := a.now()
	if loc := a.loc.Load(); loc != nil {
		now = now.In(loc)
	}
	f := storage.RequestLogFilter{Website: strings.TrimSpace(q.Website), Since: q.Range.Since(now)}
	rows, err := a.src.ListRequestLogs(ctx, f)
	if err != nil {
		return Report{}, errors.Wrap(err, "load request logs")
	}
	rep := Aggregate(rows, a.Identity())
	rep.Website, rep.Range, rep.Since = f.Website, q.Range, f.Since
	return rep, nil
}
