package ops

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/kpi"
	"tracksched/internal/lifecycle"
	"tracksched/internal/model"
	"tracksched/internal/schedule"
	"tracksched/pkg/logx"
)

// RunResult acknowledges a dispatch. The outcome shows up later in the
// engine history and the log tables.
type RunResult struct {
	TaskID string `json:"task_id"`
	Job    string `json:"job"`
}

// JobView lists a registered job.
type JobView struct {
	Name      string            `json:"name"`
	Category  schedule.Category `json:"category"`
	TimeLimit time.Duration     `json:"time_limit"`
}

// RunJobNow dispatches a registered job once. Unknown names fail with
// jobs.ErrUnknownJob and nothing is queued.
func (s *Service) RunJobNow(_ context.Context, name string) (RunResult, error) {
	name = strings.TrimSpace(name)
	id, err := s.disp.DispatchName(name)
	if err != nil {
		return RunResult{}, err
	}
	return RunResult{TaskID: id, Job: name}, nil
}

// RunSchedule dispatches the job behind a stored definition, whether or
// not it is enabled.
func (s *Service) RunSchedule(ctx context.Context, id int64) (RunResult, error) {
	def, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return RunResult{}, err
	}
	h, opts, err := s.sched.Resolve(def)
	if err != nil {
		return RunResult{}, err
	}
	taskID, err := s.disp.Dispatch(h, 0, opts...)
	if err != nil {
		return RunResult{}, err
	}
	s.log.Info("schedule.run_now", logx.ScheduleID(id), logx.Job(h.Name()), logx.String("task", taskID))
	return RunResult{TaskID: taskID, Job: h.Name()}, nil
}

func (s *Service) Jobs() []JobView {
	specs := s.disp.Registry().Specs()
	out := make([]JobView, 0, len(specs))
	for _, sp := range specs {
		out = append(out, JobView{Name: sp.Name, Category: sp.Category, TimeLimit: sp.TimeLimit})
	}
	return out
}

// ComputeKPI aggregates the request log. dateRange takes the range keys
// (today, past_7_days, this_month, this_year) or their display labels;
// empty means all time.
func (s *Service) ComputeKPI(ctx context.Context, website, dateRange string) (kpi.Report, error) {
	r, err := kpi.ParseDateRange(dateRange)
	if err != nil {
		return kpi.Report{}, errors.Mark(err, ErrInvalidInput)
	}
	return s.kpi.Compute(ctx, kpi.Query{Website: strings.TrimSpace(website), Range: r})
}

// Sweep runs the lifecycle sweep inline.
func (s *Service) Sweep(ctx context.Context) (lifecycle.Result, error) {
	return s.sweeper.Sweep(ctx)
}

// RequestLogInput is one call timing reported by a crawler.
type RequestLogInput struct {
	Sender     string    `json:"sender" binding:"required"`
	Receiver   string    `json:"receiver" binding:"required"`
	Method     string    `json:"method" binding:"required,oneof=GET POST PUT PATCH DELETE"`
	Start      time.Time `json:"start_time" binding:"required"`
	Stop       time.Time `json:"stop_time" binding:"required"`
	Containers string    `json:"containers,omitempty"`
	Website    string    `json:"website" binding:"required"`
}

func (s *Service) AppendRequestLog(ctx context.Context, in RequestLogInput) (model.RequestLog, error) {
	if in.Stop.Before(in.Start) {
		return model.RequestLog{}, invalid("stop_time before start_time")
	}
	rec := model.RequestLog{
		Sender:     strings.TrimSpace(in.Sender),
		Receiver:   strings.TrimSpace(in.Receiver),
		Method:     strings.ToUpper(strings.TrimSpace(in.Method)),
		Start:      in.Start,
		Stop:       in.Stop,
		Containers: strings.TrimSpace(in.Containers),
		Website:    strings.TrimSpace(in.Website),
	}
	if err := s.store.AppendRequestLog(ctx, &rec); err != nil {
		return model.RequestLog{}, err
	}
	return rec, nil
}

// TraceReportInput is one crawler run summary.
type TraceReportInput struct {
	Website     string `json:"website" binding:"required"`
	UnitsTraced int    `json:"units_traced" binding:"gte=0"`
	Success     int    `json:"success" binding:"gte=0,ltefield=UnitsTraced"`
}

func (s *Service) AppendTraceReport(ctx context.Context, in TraceReportInput) (model.TraceReport, error) {
	if in.Success > in.UnitsTraced {
		return model.TraceReport{}, invalid("success exceeds units_traced")
	}
	rec := model.TraceReport{Website: strings.TrimSpace(in.Website), UnitsTraced: in.UnitsTraced, Success: in.Success}
	if err := s.store.AppendTraceReport(ctx, &rec); err != nil {
		return model.TraceReport{}, err
	}
	return rec, nil
}

func (s *Service) UpsertWebsite(ctx context.Context, w model.Website) error {
	if strings.TrimSpace(w.Name) == "" {
		return invalid("website name required")
	}
	return s.store.UpsertWebsite(ctx, w)
}

func (s *Service) ListWebsites(ctx context.Context) ([]model.Website, error) {
	return s.store.ListWebsites(ctx)
}
