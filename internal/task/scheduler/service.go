package scheduler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"tracksched/internal/jobs"
	"tracksched/internal/lifecycle"
	"tracksched/internal/model"
	"tracksched/internal/report"
	"tracksched/internal/schedule"
	logx "tracksched/pkg/logx"
)

// DefaultReportExpires drops a report run still queued after five minutes.
const DefaultReportExpires = 300 * time.Second

type Option func(*Service)

// WithReportExpires overrides the queue expiry of Email runs.
func WithReportExpires(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.reportExpires = d
		}
	}
}

func New(cfg Config, disp Dispatcher, src Source, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:           cfg,
		log:           log.With(logx.Component("scheduler")),
		disp:          disp,
		src:           src,
		reportExpires: DefaultReportExpires,
		parser:        cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		lastEnqWarn:   map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = s.loadLocationLocked()
	s.setSweepLocked()
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Location is the zone triggers are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Apply swaps the config. A timezone change rebuilds cron in the new zone;
// a sweep interval change replaces the sweep entry.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	oldSweep := s.cfg.SweepEvery
	s.cfg = cfg

	if oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.loc = s.loadLocationLocked()
		if s.c != nil {
			s.restartLocked()
		}
	}
	if oldSweep != cfg.SweepEvery {
		s.setSweepLocked()
	}
}

// Start begins triggering. Definitions are not loaded here; call Reconcile.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.entries {
		s.registerLocked(&s.entries[i])
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("entries", len(s.entries)))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.entries {
		s.entries[i].entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Reconcile replaces the definition entries with the enabled definitions in
// the store. A definition whose trigger does not decode, or whose job is not
// registered, is logged and left without an entry.
func (s *Service) Reconcile(ctx context.Context) (ReconcileResult, error) {
	defs, err := s.src.ListSchedules(ctx)
	if err != nil {
		return ReconcileResult{}, errors.Wrap(err, "list schedules")
	}

	var (
		res  ReconcileResult
		next []entry
	)
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		e, err := s.entryFor(def)
		if err != nil {
			s.log.Warn("schedule skipped", logx.ScheduleID(def.ID), logx.String("name", def.Name), logx.Err(err))
			res.Skipped = append(res.Skipped, def.ID)
			continue
		}
		next = append(next, e)
		res.Registered = append(res.Registered, def.ID)
	}

	s.mu.Lock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.key == sweepKey {
			kept = append(kept, e)
			continue
		}
		if s.c != nil && e.entryID != 0 {
			s.c.Remove(e.entryID)
		}
	}
	s.entries = kept
	for _, e := range next {
		s.entries = append(s.entries, e)
		if s.c != nil {
			s.registerLocked(&s.entries[len(s.entries)-1])
		}
	}
	s.mu.Unlock()

	s.log.Debug("schedules reconciled", logx.Int("registered", len(res.Registered)), logx.Int("skipped", len(res.Skipped)))
	return res, nil
}

func (s *Service) entryFor(def model.JobDefinition) (entry, error) {
	trig, err := schedule.Decode(def.Category, def.Trigger)
	if err != nil {
		return entry{}, err
	}
	spec := trig.CronSpec()
	if _, err := s.parser.Parse(spec); err != nil {
		return entry{}, errors.Wrapf(schedule.ErrMalformedTrigger, "cron %q: %v", spec, err)
	}
	h, opts, err := s.Resolve(def)
	if err != nil {
		return entry{}, err
	}
	return entry{key: defKey(def.ID), defID: def.ID, job: h.Name(), spec: spec, handle: h, opts: opts}, nil
}

// Resolve maps a definition to the handle and dispatch options its firing
// uses. Email definitions run the report job with their parameters and a
// queue expiry; the rest run the job named by JobKey(def.Name).
func (s *Service) Resolve(def model.JobDefinition) (jobs.Handle, []jobs.DispatchOption, error) {
	reg := s.disp.Registry()
	opts := []jobs.DispatchOption{jobs.SkipIfRunning()}
	if def.Category != schedule.Email {
		h, err := reg.Resolve(model.JobKey(def.Name))
		return h, opts, err
	}
	if def.Report == nil {
		return jobs.Handle{}, nil, errors.New("email schedule without report parameters")
	}
	h, err := reg.Resolve(report.JobName)
	if err != nil {
		return jobs.Handle{}, nil, err
	}
	s.mu.Lock()
	expires := s.reportExpires
	s.mu.Unlock()
	return h.With(report.Params(*def.Report)), append(opts, jobs.Expires(expires)), nil
}

func defKey(id int64) string { return "def:" + strconv.FormatInt(id, 10) }

// setSweepLocked installs or removes the lifecycle sweep entry.
func (s *Service) setSweepLocked() {
	for i, e := range s.entries {
		if e.key != sweepKey {
			continue
		}
		if s.c != nil && e.entryID != 0 {
			s.c.Remove(e.entryID)
		}
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		break
	}
	every := s.cfg.SweepEvery
	if every <= 0 || s.disp == nil {
		return
	}
	h, err := s.disp.Registry().Resolve(lifecycle.JobName)
	if err != nil {
		s.log.Warn("sweep entry not installed", logx.Err(err))
		return
	}
	s.entries = append(s.entries, entry{
		key:    sweepKey,
		job:    h.Name(),
		spec:   "@every " + every.String(),
		handle: h,
		opts:   []jobs.DispatchOption{jobs.SkipIfRunning()},
	})
	if s.c != nil {
		s.registerLocked(&s.entries[len(s.entries)-1])
	}
}

func (s *Service) registerLocked(e *entry) {
	handle, opts, key := e.handle, e.opts, e.key
	job := cron.FuncJob(func() {
		if _, err := s.disp.Dispatch(handle, 0, opts...); err != nil {
			s.reportEnqueueError(key, err)
		}
	})

	if strings.HasPrefix(e.spec, "@every ") {
		every, err := time.ParseDuration(strings.TrimPrefix(e.spec, "@every "))
		if err == nil && every > 0 {
			sched, jitter := intervalWithSpread(every, time.Now().In(s.loc), e.key)
			e.spread = jitter
			e.entryID = s.c.Schedule(sched, job)
			return
		}
	}
	eid, err := s.c.AddJob(e.spec, job)
	if err != nil {
		s.log.Error("schedule register failed", logx.String("key", e.key), logx.String("spec", e.spec), logx.Err(err))
		return
	}
	e.entryID = eid
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("schedule registered", logx.String("key", e.key), logx.Job(e.job),
			logx.String("spec", e.spec), logx.String("next", s.previewLocked(e.spec, 3)))
	}
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.entries {
		s.entries[i].entryID = 0
		s.registerLocked(&s.entries[i])
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("entries", len(s.entries)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewLocked lists the next n fire times of spec in the scheduler zone.
func (s *Service) previewLocked(spec string, n int) string {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04"))
	}
	return b.String()
}
