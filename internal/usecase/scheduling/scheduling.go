package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"ppi-control/internal/domain"
	"ppi-control/internal/infra/tracer"
)

// Trigger names one recurring job.
type Trigger string

const (
	TriggerDailyReport   Trigger = "daily_report"
	TriggerDeadlineCheck Trigger = "deadline_check"
	TriggerWeeklyReport  Trigger = "weekly_report"
	TriggerFeedFlush     Trigger = "feed_flush"
	TriggerRiskSweep     Trigger = "risk_sweep"
)

// DefaultSpecs holds the cron expression of every built-in trigger.
var DefaultSpecs = map[Trigger]string{
	TriggerDailyReport:   "0 18 * * *",
	TriggerDeadlineCheck: "0 * * * *",
	TriggerWeeklyReport:  "0 9 * * 1",
	TriggerFeedFlush:     "0 23 * * *",
	TriggerRiskSweep:     "30 6 * * *",
}

// runTimeout bounds a single fire.
const runTimeout = 5 * time.Minute

// Job is the work behind a trigger.
type Job func(ctx context.Context) error

// Entry describes a scheduled trigger.
type Entry struct {
	Trigger  Trigger
	Schedule string
	Next     time.Time
	Prev     time.Time
}

// Scheduler runs triggers on cron schedules. A failing or panicking job is
// logged and never affects other triggers or its own next run.
type Scheduler struct {
	cron      *cron.Cron
	jobs      map[Trigger]Job
	entries   map[Trigger]cron.EntryID
	schedules map[Trigger]string
	logger    *slog.Logger
	mu        sync.Mutex
	started   bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation evaluates cron expressions in loc instead of time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.cron = cron.New(cron.WithLocation(loc))
	}
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:      cron.New(),
		jobs:      make(map[Trigger]Job),
		entries:   make(map[Trigger]cron.EntryID),
		schedules: make(map[Trigger]string),
		logger:    logger.With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds a job to a trigger name without scheduling it.
func (s *Scheduler) Register(name Trigger, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = job
}

// Schedule arms a registered trigger. The schedule can be a cron expression
// or a duration string. Rescheduling replaces the previous entry.
func (s *Scheduler) Schedule(name Trigger, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; !ok {
		return unknownTrigger("Scheduler.Schedule", name)
	}
	sched, err := parseSchedule(schedule)
	if err != nil {
		return domain.NewSubSystemError("scheduler", "Scheduler.Schedule", domain.ErrInvalidInput,
			fmt.Sprintf("trigger %q: %v", name, err))
	}

	if prev, ok := s.entries[name]; ok {
		s.cron.Remove(prev)
	}
	s.entries[name] = s.cron.Schedule(sched, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil {
			s.logger.Debug("scheduler stopped, skipping trigger", "trigger", string(name))
			return
		}
		_ = s.fire(ctx, name)
	}))
	s.schedules[name] = schedule

	s.logger.Info("trigger scheduled", "trigger", string(name), "schedule", schedule)
	return nil
}

// RunNow fires a registered trigger once, synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name Trigger) error {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return unknownTrigger("Scheduler.RunNow", name)
	}
	return s.fire(ctx, name)
}

func unknownTrigger(op string, name Trigger) error {
	return domain.NewSubSystemError("scheduler", op, domain.ErrNotFound, fmt.Sprintf("trigger %q", name))
}

func (s *Scheduler) fire(ctx context.Context, name Trigger) (err error) {
	s.mu.Lock()
	job := s.jobs[name]
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	ctx, span := tracer.StartSpan(ctx, "scheduler.fire",
		trace.WithAttributes(tracer.StringAttr("trigger", string(name))))
	defer span.End()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scheduler: trigger %q panicked: %v", name, p)
		}
		if err != nil {
			tracer.RecordError(span, err)
			s.logger.Warn("scheduled trigger failed",
				"trigger", string(name),
				"error", err,
				"duration", time.Since(start))
			return
		}
		tracer.SetOK(span)
		s.logger.Info("scheduled trigger completed",
			"trigger", string(name),
			"duration", time.Since(start))
	}()
	return job(ctx)
}

// Triggers lists the registered trigger names in sorted order.
func (s *Scheduler) Triggers() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trigger, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entries reports the armed triggers with their next run time.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for name, id := range s.entries {
		e := s.cron.Entry(id)
		out = append(out, Entry{Trigger: name, Schedule: s.schedules[name], Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Trigger < out[j].Trigger })
	return out
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop signals the scheduler to stop and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.ctx = nil
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	return nil
}

// parseSchedule tries to parse a schedule string as a cron expression first,
// then falls back to time.ParseDuration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay(dur), nil
}

// ValidateSchedule reports whether schedule would be accepted by Schedule.
func ValidateSchedule(schedule string) error {
	_, err := parseSchedule(schedule)
	return err
}

// constantDelay fires at a fixed interval. Unlike cron.Every it keeps
// sub-second precision.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}
