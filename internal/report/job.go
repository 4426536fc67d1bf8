package report

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/eventbus"
	"tracksched/internal/jobs"
	"tracksched/internal/model"
	"tracksched/internal/schedule"
	"tracksched/pkg/logx"
)

// JobName is the registry key of the report job.
const JobName = "email_report"

const dateLayout = "2006-01-02"

const (
	paramRecipients = "recipients"
	paramFormat     = "format"
	paramType       = "report_type"
	paramStart      = "date_range_start"
	paramEnd        = "date_range_end"
)

// Params encodes report parameters for a dispatch.
func Params(p model.ReportParams) jobs.Params {
	return jobs.Params{
		paramRecipients: strings.Join(p.Recipients, ","),
		paramFormat:     string(p.Format),
		paramType:       string(p.Type),
		paramStart:      p.RangeStart,
		paramEnd:        p.RangeEnd,
	}
}

type Deliverer interface {
	Deliver(ctx context.Context, r Report) error
}

// LogDeliverer records a finished report in the log and on the bus.
type LogDeliverer struct {
	Log logx.Logger
	Bus eventbus.Bus
}

func (d LogDeliverer) Deliver(_ context.Context, r Report) error {
	d.Log.Info("report.ready",
		logx.String("subject", r.Subject),
		logx.Strings("to", r.Recipients),
		logx.Int("rows", len(r.Rows)),
	)
	if d.Bus != nil {
		d.Bus.Publish(eventbus.Event{Type: eventbus.TypeReportReady, Data: map[string]any{
			"subject":    r.Subject,
			"recipients": r.Recipients,
			"rows":       len(r.Rows),
		}})
	}
	return nil
}

type Job struct {
	src     Source
	deliver Deliverer
	log     logx.Logger
	loc     atomic.Pointer[time.Location]
	now     func() time.Time
}

func NewJob(src Source, deliver Deliverer, loc *time.Location, log logx.Logger) *Job {
	if loc == nil {
		loc = time.Local
	}
	j := &Job{src: src, deliver: deliver, log: log.With(logx.Component("report")), now: time.Now}
	j.loc.Store(loc)
	return j
}

// SetLocation changes the zone date_range_* bounds are read in.
func (j *Job) SetLocation(loc *time.Location) {
	if loc != nil {
		j.loc.Store(loc)
	}
}

func (j *Job) Spec(timeLimit time.Duration) jobs.Spec {
	return jobs.Spec{Name: JobName, Category: schedule.Email, TimeLimit: timeLimit, Run: j.Run}
}

// Run builds and delivers one report. An empty range start is open; an
// empty end means now. The end date is inclusive.
func (j *Job) Run(ctx context.Context, p jobs.Params) error {
	typ, err := ParseType(p[paramType])
	if err != nil {
		return err
	}
	recipients := model.SplitRecipients(p[paramRecipients])
	if len(recipients) == 0 {
		return errors.New("report has no recipients")
	}
	from, to, err := j.window(p[paramStart], p[paramEnd])
	if err != nil {
		return err
	}

	rows, err := Build(ctx, j.src, typ, from, to)
	if err != nil {
		return err
	}
	format := NormalizeFormat(p[paramFormat])
	r := Report{
		Name:       Title(typ),
		Type:       typ,
		Format:     format,
		Subject:    Subject(typ, format),
		Recipients: recipients,
		From:       from,
		To:         to,
		Rows:       rows,
	}
	if err := j.deliver.Deliver(ctx, r); err != nil {
		return errors.Wrap(err, "deliver report")
	}
	return nil
}

func (j *Job) window(start, end string) (time.Time, time.Time, error) {
	var from, to time.Time
	loc := j.loc.Load()
	if s := strings.TrimSpace(start); s != "" {
		t, err := time.ParseInLocation(dateLayout, s, loc)
		if err != nil {
			return from, to, errors.Wrapf(err, "date_range_start %q", s)
		}
		from = t
	}
	if e := strings.TrimSpace(end); e != "" {
		t, err := time.ParseInLocation(dateLayout, e, loc)
		if err != nil {
			return from, to, errors.Wrapf(err, "date_range_end %q", e)
		}
		to = t.AddDate(0, 0, 1).Add(-time.Millisecond)
	} else {
		to = j.now()
	}
	if !from.IsZero() && to.Before(from) {
		return from, to, errors.Newf("date range ends before it starts (%s > %s)", start, end)
	}
	return from, to, nil
}
