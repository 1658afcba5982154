// Package scheduling fires orchestration runs on a recurring schedule.
package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"legalmind/internal/domain"
)

// DefaultRunTimeout bounds a single scheduled run.
const DefaultRunTimeout = 15 * time.Minute

// Runner executes one orchestration run to completion.
type Runner interface {
	Execute(ctx context.Context, req domain.RunRequest) (domain.RunSummary, error)
}

// ScheduledRun defines a recurring orchestration run.
type ScheduledRun struct {
	Name     string
	Schedule string // cron expression "0 7 * * *" OR duration "30m"
	Profile  string
	Query    string
	OneShot  bool
}

// FiredPayload is the payload of scheduler.fired events.
type FiredPayload struct {
	Task      string           `json:"task"`
	Profile   string           `json:"profile"`
	Status    domain.RunStatus `json:"status,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorCode domain.ErrorCode `json:"error_code,omitempty"`
}

// Options configures a Scheduler.
type Options struct {
	Location   *time.Location // nil = time.Local
	RunTimeout time.Duration  // zero = DefaultRunTimeout
	Bus        domain.EventBus
	Logger     *slog.Logger
}

// Scheduler runs orchestration tasks on cron expressions or fixed intervals.
// A task whose previous run is still in progress is skipped.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	opts    Options
	entries map[string]cron.EntryID
	tasks   map[string]ScheduledRun
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler that hands fired tasks to runner.
func NewScheduler(runner Runner, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		runner:  runner,
		opts:    opts,
		entries: make(map[string]cron.EntryID),
		tasks:   make(map[string]ScheduledRun),
		logger:  opts.Logger,
	}
}

// LoadLocation resolves a timezone name. An empty name is time.Local.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, domain.NewDomainError("scheduling.LoadLocation", domain.ErrInvalidInput, err.Error())
	}
	return loc, nil
}

// AddTask registers a scheduled run.
func (s *Scheduler) AddTask(task ScheduledRun) error {
	if task.Name == "" || task.Query == "" {
		return domain.NewDomainError("Scheduler.AddTask", domain.ErrInvalidInput, "task name and query are required")
	}
	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return domain.NewDomainError("Scheduler.AddTask", domain.ErrInvalidInput,
			fmt.Sprintf("invalid schedule %q for task %q: %v", task.Schedule, task.Name, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[task.Name]; exists {
		return domain.NewDomainError("Scheduler.AddTask", domain.ErrDuplicate, task.Name)
	}

	var entryID cron.EntryID
	entryID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil {
			s.logger.Debug("scheduler stopped, skipping task", "task", task.Name)
			return
		}

		s.fire(ctx, task)

		if task.OneShot {
			s.cron.Remove(entryID)
			s.mu.Lock()
			delete(s.entries, task.Name)
			delete(s.tasks, task.Name)
			s.mu.Unlock()
		}
	}))
	s.entries[task.Name] = entryID
	s.tasks[task.Name] = task

	s.logger.Info("task added to scheduler", "name", task.Name, "schedule", task.Schedule, "profile", task.Profile)
	return nil
}

// RemoveTask unregisters a scheduled run.
func (s *Scheduler) RemoveTask(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[name]
	if !ok {
		return domain.NewDomainError("Scheduler.RemoveTask", domain.ErrNotFound, name)
	}
	s.cron.Remove(entryID)
	delete(s.entries, name)
	delete(s.tasks, name)
	return nil
}

// RunNow fires a registered task immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (domain.RunSummary, error) {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return domain.RunSummary{}, domain.NewDomainError("Scheduler.RunNow", domain.ErrNotFound, name)
	}
	return s.fire(ctx, task)
}

func (s *Scheduler) fire(ctx context.Context, task ScheduledRun) (domain.RunSummary, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.opts.RunTimeout)
	defer cancel()

	start := time.Now()
	summary, err := s.runner.Execute(runCtx, domain.RunRequest{Query: task.Query, Profile: task.Profile})

	payload := FiredPayload{
		Task:    task.Name,
		Profile: task.Profile,
		Status:  summary.Status,
		Reason:  summary.TerminationReason,
	}
	if err != nil {
		payload.Error = err.Error()
		payload.ErrorCode = domain.ErrorCodeOf(err)
		s.logger.Warn("scheduled run failed",
			"task", task.Name,
			"run_id", summary.RunID,
			"error", err,
			"duration", time.Since(start))
	} else {
		s.logger.Info("scheduled run completed",
			"task", task.Name,
			"run_id", summary.RunID,
			"reason", summary.TerminationReason,
			"duration", time.Since(start))
	}
	s.publish(ctx, summary, payload)
	return summary, err
}

func (s *Scheduler) publish(ctx context.Context, summary domain.RunSummary, payload FiredPayload) {
	if s.opts.Bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.opts.Bus.Publish(context.WithoutCancel(ctx), domain.Event{
		Type:      domain.EventSchedulerFired,
		Timestamp: time.Now(),
		RunID:     summary.RunID,
		SessionID: summary.SessionID,
		Payload:   data,
	})
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

// Stop signals the scheduler to stop and waits for running tasks to finish.
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

// NextRun returns the next fire time of a task, or nil if it is unknown or
// the scheduler has not started.
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.Lock()
	entryID, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	entry := s.cron.Entry(entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
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
	return &constantDelay{delay: dur}, nil
}

// ValidateSchedule reports whether schedule is a usable cron expression or
// duration.
func ValidateSchedule(schedule string) error {
	_, err := parseSchedule(schedule)
	return err
}

// constantDelay implements cron.Schedule for a fixed interval.
// Unlike cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
