package ops

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/eventbus"
	"tracksched/internal/model"
	"tracksched/internal/report"
	"tracksched/internal/schedule"
	"tracksched/pkg/logx"
)

// ScheduleInput creates or fully replaces a schedule. Import, Export and
// Other use StartTime/EndTime; Email uses DeliveryTime (StartTime is
// accepted as a fallback) and Report.
type ScheduleInput struct {
	Name         string       `json:"name" binding:"required"`
	Category     string       `json:"category" binding:"required"`
	Frequency    string       `json:"frequency" binding:"required"`
	StartTime    string       `json:"start_time,omitempty" binding:"omitempty,hhmm"`
	EndTime      string       `json:"end_time,omitempty" binding:"omitempty,hhmm"`
	DeliveryTime string       `json:"delivery_time,omitempty" binding:"omitempty,hhmm"`
	Enabled      *bool        `json:"enabled,omitempty"`
	DisableAt    *time.Time   `json:"disable_at,omitempty"`
	Report       *ReportInput `json:"report,omitempty"`
}

type ReportInput struct {
	Recipients string `json:"recipients"` // comma separated
	Format     string `json:"format"`
	Type       string `json:"report_type"`
	RangeStart string `json:"date_range_start,omitempty"`
	RangeEnd   string `json:"date_range_end,omitempty"`
}

// ScheduleView is a definition as the UI shows it. Times are 12-hour
// ("09:30 AM"); they are blank when the stored trigger does not decode.
type ScheduleView struct {
	ID           int64               `json:"id"`
	Name         string              `json:"name"`
	Job          string              `json:"job"`
	Category     schedule.Category   `json:"category"`
	Frequency    schedule.Frequency  `json:"frequency"`
	Enabled      bool                `json:"enabled"`
	DisableAt    *time.Time          `json:"disable_at,omitempty"`
	StartTime    string              `json:"start_time,omitempty"`
	EndTime      string              `json:"end_time,omitempty"`
	DeliveryTime string              `json:"delivery_time,omitempty"`
	Malformed    bool                `json:"malformed,omitempty"`
	Report       *model.ReportParams `json:"report,omitempty"`
	NextRun      *time.Time          `json:"next_run,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// build turns input into a definition, validating every field.
func (in ScheduleInput) build() (model.JobDefinition, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.JobDefinition{}, invalid("name required")
	}
	cat, err := schedule.ParseCategory(in.Category)
	if err != nil {
		return model.JobDefinition{}, err
	}
	freq, err := schedule.ParseFrequency(in.Frequency)
	if err != nil {
		return model.JobDefinition{}, err
	}
	def := model.JobDefinition{Name: name, Category: cat, Frequency: freq, Enabled: true, DisableAt: in.DisableAt}
	if in.Enabled != nil {
		def.Enabled = *in.Enabled
	}

	if cat.Windowed() {
		if in.Report != nil {
			return model.JobDefinition{}, invalid("report parameters only apply to Email schedules")
		}
		def.Trigger, err = schedule.ToTrigger(freq, in.StartTime, in.EndTime)
		return def, err
	}

	at := in.DeliveryTime
	if strings.TrimSpace(at) == "" {
		at = in.StartTime
	}
	if def.Trigger, err = schedule.ToInstant(freq, at); err != nil {
		return model.JobDefinition{}, err
	}
	if def.Report, err = in.Report.build(); err != nil {
		return model.JobDefinition{}, err
	}
	return def, nil
}

func (r *ReportInput) build() (*model.ReportParams, error) {
	if r == nil {
		return nil, invalid("report parameters required for Email schedules")
	}
	recipients := model.SplitRecipients(r.Recipients)
	if len(recipients) == 0 {
		return nil, invalid("at least one recipient required")
	}
	typ, err := report.ParseType(r.Type)
	if err != nil {
		return nil, errors.Mark(err, ErrInvalidInput)
	}
	for _, d := range []string{r.RangeStart, r.RangeEnd} {
		if d = strings.TrimSpace(d); d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return nil, invalid("date %q: expected YYYY-MM-DD", d)
		}
	}
	return &model.ReportParams{
		Recipients: recipients,
		Format:     report.NormalizeFormat(r.Format),
		Type:       typ,
		RangeStart: strings.TrimSpace(r.RangeStart),
		RangeEnd:   strings.TrimSpace(r.RangeEnd),
	}, nil
}

func (s *Service) CreateSchedule(ctx context.Context, in ScheduleInput) (ScheduleView, error) {
	def, err := in.build()
	if err != nil {
		return ScheduleView{}, err
	}
	if err := s.store.CreateSchedule(ctx, &def); err != nil {
		return ScheduleView{}, err
	}
	s.log.Info("schedule.created", logx.ScheduleID(def.ID), logx.String("name", def.Name), logx.String("category", string(def.Category)))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleSaved, Data: map[string]any{"id": def.ID, "name": def.Name}})
	s.reconcile(ctx)
	return s.view(def), nil
}

// EditSchedule replaces the definition and its trigger together. An
// omitted Enabled keeps the current flag.
func (s *Service) EditSchedule(ctx context.Context, id int64, in ScheduleInput) (ScheduleView, error) {
	cur, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return ScheduleView{}, err
	}
	def, err := in.build()
	if err != nil {
		return ScheduleView{}, err
	}
	def.ID = id
	def.CreatedAt = cur.CreatedAt
	if in.Enabled == nil {
		def.Enabled = cur.Enabled
	}
	if err := s.store.UpdateSchedule(ctx, &def); err != nil {
		return ScheduleView{}, err
	}
	s.log.Info("schedule.updated", logx.ScheduleID(id), logx.String("name", def.Name))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleSaved, Data: map[string]any{"id": id, "name": def.Name}})
	s.reconcile(ctx)
	return s.view(def), nil
}

func (s *Service) DeleteSchedule(ctx context.Context, id int64) error {
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.log.Info("schedule.deleted", logx.ScheduleID(id))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleGone, Data: map[string]any{"id": id}})
	s.reconcile(ctx)
	return nil
}

func (s *Service) SetEnabled(ctx context.Context, id int64, enabled bool) (ScheduleView, error) {
	if err := s.store.SetEnabled(ctx, id, enabled); err != nil {
		return ScheduleView{}, err
	}
	s.reconcile(ctx)
	def, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return ScheduleView{}, err
	}
	s.log.Info("schedule.toggled", logx.ScheduleID(id), logx.Bool("enabled", enabled))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleSaved, Data: map[string]any{"id": id, "enabled": enabled}})
	return s.view(def), nil
}

func (s *Service) GetSchedule(ctx context.Context, id int64) (ScheduleView, error) {
	def, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return ScheduleView{}, err
	}
	return s.view(def), nil
}

// ListSchedules accepts "" (all), "tracing" (Import, Export, Other),
// "report" (Email) or a single category name.
func (s *Service) ListSchedules(ctx context.Context, filter string) ([]ScheduleView, error) {
	var cats []schedule.Category
	switch f := strings.ToLower(strings.TrimSpace(filter)); f {
	case "", "all":
	case "tracing":
		cats = schedule.TracingCategories
	case "report", "reports":
		cats = []schedule.Category{schedule.Email}
	default:
		c, err := schedule.ParseCategory(filter)
		if err != nil {
			return nil, errors.Mark(err, ErrInvalidInput)
		}
		cats = []schedule.Category{c}
	}
	defs, err := s.store.ListSchedules(ctx, cats...)
	if err != nil {
		return nil, err
	}
	out := make([]ScheduleView, 0, len(defs))
	for _, d := range defs {
		out = append(out, s.view(d))
	}
	return out, nil
}

func (s *Service) view(def model.JobDefinition) ScheduleView {
	v := ScheduleView{
		ID:        def.ID,
		Name:      def.Name,
		Job:       model.JobKey(def.Name),
		Category:  def.Category,
		Frequency: def.Frequency,
		Enabled:   def.Enabled,
		DisableAt: def.DisableAt,
		Report:    def.Report,
		CreatedAt: def.CreatedAt,
		UpdatedAt: def.UpdatedAt,
	}
	if def.Category == schedule.Email {
		v.Job = report.JobName
	}

	trig, err := schedule.Decode(def.Category, def.Trigger)
	if err != nil {
		s.log.Debug("schedule trigger unreadable", logx.ScheduleID(def.ID), logx.Err(err))
		v.Malformed = true
	} else {
		switch t := trig.(type) {
		case schedule.Windowed:
			v.StartTime, v.EndTime = t.Start.Format12h(), t.End.Format12h()
		case schedule.Periodic:
			v.DeliveryTime = t.At.Format12h()
		}
	}
	if s.sched != nil && def.Enabled {
		if next, ok := s.sched.NextRun(def.ID); ok && !next.IsZero() {
			v.NextRun = &next
		}
	}
	return v
}
