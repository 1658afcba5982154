package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"legalmind/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	mu    sync.Mutex
	reqs  []domain.RunRequest
	count atomic.Int32
	delay time.Duration
	err   error
}

func (f *fakeRunner) Execute(ctx context.Context, req domain.RunRequest) (domain.RunSummary, error) {
	f.count.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	sum := domain.RunSummary{RunID: "run-1", SessionID: "s-1", Status: domain.RunCompleted, TerminationReason: "report_complete"}
	if f.err != nil {
		sum.Status = domain.RunAborted
		sum.TerminationReason = ""
		return sum, f.err
	}
	return sum, nil
}

type captureBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *captureBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}
func (b *captureBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *captureBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *captureBus) Close()                                                 {}

func (b *captureBus) snapshot() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Event(nil), b.events...)
}

func reportTask(schedule string) ScheduledRun {
	return ScheduledRun{
		Name:     "risk-report",
		Schedule: schedule,
		Profile:  "automated",
		Query:    "Please analyze the equipment schedule data and generate a risk report.",
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, Options{Logger: newTestLogger()})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSchedulerFiresAutomatedRun(t *testing.T) {
	runner := &fakeRunner{}
	bus := &captureBus{}
	s := NewScheduler(runner, Options{Logger: newTestLogger(), Bus: bus})
	if err := s.AddTask(reportTask("50ms")); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if runner.count.Load() < 1 {
		t.Fatal("run never fired")
	}
	runner.mu.Lock()
	req := runner.reqs[0]
	runner.mu.Unlock()
	if req.Profile != "automated" || req.Query == "" {
		t.Errorf("request = %+v", req)
	}

	events := bus.snapshot()
	if len(events) == 0 {
		t.Fatal("no scheduler.fired event")
	}
	ev := events[0]
	if ev.Type != domain.EventSchedulerFired || ev.RunID != "run-1" {
		t.Errorf("event = %+v", ev)
	}
	var p FiredPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Task != "risk-report" || p.Status != domain.RunCompleted || p.Reason != "report_complete" {
		t.Errorf("payload = %+v", p)
	}
}

func TestSchedulerRunNowReportsFailure(t *testing.T) {
	runner := &fakeRunner{err: domain.NewSubSystemError("agent", "Engine.invoke", domain.ErrExecutionTimeout, "scheduler")}
	bus := &captureBus{}
	s := NewScheduler(runner, Options{Logger: newTestLogger(), Bus: bus})
	s.AddTask(reportTask("0 7 * * *"))

	sum, err := s.RunNow(context.Background(), "risk-report")
	if !errors.Is(err, domain.ErrExecutionTimeout) {
		t.Fatalf("err = %v", err)
	}
	if sum.Status != domain.RunAborted {
		t.Errorf("status = %s", sum.Status)
	}

	var p FiredPayload
	json.Unmarshal(bus.snapshot()[0].Payload, &p)
	if p.ErrorCode != domain.CodeExecutionTimeout || p.Error == "" {
		t.Errorf("payload = %+v", p)
	}

	if _, err := s.RunNow(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing task err = %v", err)
	}
}

func TestSchedulerRunTimeout(t *testing.T) {
	runner := &fakeRunner{delay: time.Second}
	s := NewScheduler(runner, Options{Logger: newTestLogger(), RunTimeout: 20 * time.Millisecond})
	s.AddTask(reportTask("1h"))

	start := time.Now()
	s.RunNow(context.Background(), "risk-report")
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("run not bounded by RunTimeout: %v", elapsed)
	}
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	runner := &fakeRunner{delay: 300 * time.Millisecond}
	s := NewScheduler(runner, Options{Logger: newTestLogger()})
	s.AddTask(reportTask("20ms"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := runner.count.Load(); c != 1 {
		t.Errorf("runs = %d, want 1 while the first run is in progress", c)
	}
}

func TestSchedulerAddTaskValidation(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, Options{Logger: newTestLogger()})

	tests := []struct {
		name string
		task ScheduledRun
	}{
		{"empty name", ScheduledRun{Schedule: "1h", Query: "q"}},
		{"empty query", ScheduledRun{Name: "x", Schedule: "1h"}},
		{"bad schedule", ScheduledRun{Name: "x", Schedule: "not-valid", Query: "q"}},
		{"negative duration", ScheduledRun{Name: "x", Schedule: "-5m", Query: "q"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.AddTask(tt.task); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}

	if err := s.AddTask(reportTask("1h")); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTask(reportTask("1h")); !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("duplicate err = %v", err)
	}
}

func TestSchedulerRemoveTask(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner, Options{Logger: newTestLogger()})
	s.AddTask(reportTask("50ms"))

	if err := s.RemoveTask("risk-report"); err != nil {
		t.Fatalf("RemoveTask: %v", err)
	}
	if err := s.RemoveTask("risk-report"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second remove err = %v", err)
	}

	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop()
	if runner.count.Load() != 0 {
		t.Error("removed task fired")
	}
}

func TestSchedulerOneShot(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner, Options{Logger: newTestLogger()})
	task := reportTask("30ms")
	task.OneShot = true
	s.AddTask(task)

	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := runner.count.Load(); c != 1 {
		t.Errorf("one-shot fired %d times, want 1", c)
	}
	if s.NextRun("risk-report") != nil {
		t.Error("one-shot task still registered")
	}
}

func TestSchedulerNextRunUsesLocation(t *testing.T) {
	loc, err := LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s := NewScheduler(&fakeRunner{}, Options{Logger: newTestLogger(), Location: loc})
	s.AddTask(reportTask("0 7 * * *"))
	s.Start(context.Background())
	defer s.Stop()

	var next *time.Time
	for i := 0; i < 50 && next == nil; i++ {
		next = s.NextRun("risk-report")
		time.Sleep(5 * time.Millisecond)
	}
	if next == nil {
		t.Fatal("NextRun = nil")
	}
	if got := next.In(loc); got.Hour() != 7 || got.Minute() != 0 {
		t.Errorf("next run = %v, want 07:00 local", got)
	}
	if s.NextRun("missing") != nil {
		t.Error("NextRun for unknown task should be nil")
	}
}

func TestLoadLocation(t *testing.T) {
	if loc, err := LoadLocation(""); err != nil || loc != time.Local {
		t.Errorf("empty name: %v, %v", loc, err)
	}
	if _, err := LoadLocation("Not/AZone"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("bad zone err = %v", err)
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"0 7 * * *", false},
		{"*/5 * * * *", false},
		{"@daily", false},
		{"30m", false},
		{"100ms", false},
		{"", true},
		{"not-valid", true},
		{"0s", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateSchedule(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule(%q) err = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestConstantDelay(t *testing.T) {
	sched, _ := parseSchedule("90s")
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	if got := sched.Next(now); !got.Equal(now.Add(90 * time.Second)) {
		t.Errorf("Next = %v", got)
	}
}
