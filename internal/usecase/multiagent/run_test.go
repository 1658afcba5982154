package multiagent

import (
	"errors"
	"testing"
	"time"

	"legalmind/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newChatbotRun(clock *fakeClock) *Run {
	p := ChatbotProfile()
	return NewRun(RunOptions{
		ID:        "run-1",
		SessionID: "sess-1",
		Profile:   p.Name,
		Roster:    NewRoster(p.Agents...),
		Selector:  NewProfileSelector(p),
		Policy:    p.Termination,
		Now:       clock.Now,
	})
}

func TestRunAdaptiveFlow(t *testing.T) {
	clock := &fakeClock{t: t0}
	run := newChatbotRun(clock)

	if run.Status() != domain.RunNotStarted {
		t.Fatalf("initial status = %q", run.Status())
	}
	d, err := run.Start("what are the political risks?", map[string]string{"project": "p1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if d.Agent != domain.AgentScheduler {
		t.Fatalf("first agent = %q, want scheduler", d.Agent)
	}

	steps := []struct {
		content string
		next    domain.AgentID
	}{
		{"3 items delayed", domain.AgentPoliticalRisk},
		{"elevated risk", domain.AgentReporting},
	}
	for _, step := range steps {
		if _, err := run.Advance(domain.Message{Content: step.content}); err != nil {
			t.Fatalf("Advance: %v", err)
		}
		d, err = run.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if d.Agent != step.next {
			t.Fatalf("next = %+v, want %q", d, step.next)
		}
	}

	stored, err := run.Advance(domain.Message{Content: "Executive Summary ... Recommendations ..."})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if stored.Author != domain.AgentReporting || stored.Position != 3 {
		t.Errorf("stored = %+v", stored)
	}
	d, _ = run.Next()
	if !d.Terminate || !run.IsComplete() {
		t.Fatalf("expected run to complete, got %+v", d)
	}

	s := run.Summary()
	if s.Status != domain.RunCompleted || s.TerminationReason != ReasonReportComplete {
		t.Errorf("summary status=%q reason=%q", s.Status, s.TerminationReason)
	}
	want := []domain.AgentID{domain.AgentScheduler, domain.AgentPoliticalRisk, domain.AgentReporting}
	if len(s.Sequence) != 3 || s.Sequence[0] != want[0] || s.Sequence[2] != want[2] {
		t.Errorf("Sequence = %v", s.Sequence)
	}
	if s.Completed != 3 || s.Total != 3 {
		t.Errorf("Completed/Total = %d/%d", s.Completed, s.Total)
	}
	if s.FinalAnswer == "" || s.Results[domain.AgentPoliticalRisk] != "elevated risk" {
		t.Errorf("results not recorded: %+v", s.Results)
	}
	if s.Context["project"] != "p1" {
		t.Errorf("Context = %v", s.Context)
	}
	for i, m := range s.History {
		if m.Position != i {
			t.Errorf("History[%d].Position = %d", i, m.Position)
		}
	}
}

func TestRunRedirectTracksReplacementAgent(t *testing.T) {
	clock := &fakeClock{t: t0}
	run := newChatbotRun(clock)
	if _, err := run.Start("what are the political risks?", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	run.Advance(domain.Message{Content: "3 items delayed"})
	d, _ := run.Next()
	if d.Agent != domain.AgentPoliticalRisk {
		t.Fatalf("next = %+v", d)
	}

	clock.Advance(time.Second)
	run.Redirect(domain.AgentAssistant)
	if _, ok := run.term.FirstSeen(domain.AgentPoliticalRisk); ok {
		t.Error("replaced agent still has a clock")
	}
	if first, ok := run.term.FirstSeen(domain.AgentAssistant); !ok || !first.Equal(t0.Add(time.Second)) {
		t.Errorf("FirstSeen(assistant) = %v, %v", first, ok)
	}
	stored, err := run.Advance(domain.Message{Content: "I can help with that."})
	if err != nil || stored.Author != domain.AgentAssistant {
		t.Errorf("Advance = %+v, %v", stored, err)
	}
}

func TestRunFixedSequence(t *testing.T) {
	clock := &fakeClock{t: t0}
	seq := []domain.AgentID{domain.AgentContractParser, domain.AgentRiskAssessment, domain.AgentLegalMemo}
	run := NewRun(RunOptions{
		ID:       "run-2",
		Mode:     domain.ModeFixedSequence,
		Template: "risk_analysis",
		Sequence: seq,
		Roster:   NewRoster(seq...),
		Policy:   LegalProfile().Termination,
		Now:      clock.Now,
	})

	d, err := run.Start("review this lease", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i, want := range seq {
		if d.Agent != want {
			t.Fatalf("step %d agent = %q, want %q", i, d.Agent, want)
		}
		if s := run.Summary(); s.Completed != i || s.Total != 3 {
			t.Errorf("step %d progress = %d/%d", i, s.Completed, s.Total)
		}
		if _, err := run.Advance(domain.Message{Content: "done"}); err != nil {
			t.Fatalf("Advance: %v", err)
		}
		d, _ = run.Next()
	}
	if !d.Terminate || !run.IsComplete() {
		t.Fatalf("sequence should be complete, got %+v", d)
	}
	s := run.Summary()
	if s.TerminationReason != ReasonSequenceComplete || s.Completed != 3 {
		t.Errorf("summary = %+v", s)
	}
	if s.Mode != domain.ModeFixedSequence || s.Template != "risk_analysis" {
		t.Errorf("mode/template = %q/%q", s.Mode, s.Template)
	}
}

func TestRunTimeoutAborts(t *testing.T) {
	clock := &fakeClock{t: t0}
	run := newChatbotRun(clock)
	if _, err := run.Start("political risk", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	run.Advance(domain.Message{Content: "working"})

	clock.Advance(9 * time.Minute)
	d, _ := run.Next()
	if !d.Terminate {
		t.Fatalf("expected terminate, got %+v", d)
	}
	s := run.Summary()
	if s.Status != domain.RunAborted || s.ErrorCode != domain.CodeRunTimeout {
		t.Errorf("status=%q code=%q", s.Status, s.ErrorCode)
	}
	if s.FinalAnswer != "" {
		t.Errorf("timed-out run should not report a final answer, got %q", s.FinalAnswer)
	}
	if len(s.History) != 2 {
		t.Errorf("partial history should be preserved, got %d entries", len(s.History))
	}
}

func TestRunLifecycleErrors(t *testing.T) {
	run := newChatbotRun(&fakeClock{t: t0})

	if _, err := run.Next(); !errors.Is(err, domain.ErrRunNotStarted) {
		t.Errorf("Next before Start: %v", err)
	}
	if _, err := run.Advance(domain.Message{}); !errors.Is(err, domain.ErrRunNotStarted) {
		t.Errorf("Advance before Start: %v", err)
	}
	if _, err := run.Start("  ", nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Start with empty query: %v", err)
	}

	run.Start("hi", nil)
	run.Abort(errors.New("boom"))
	if _, err := run.Advance(domain.Message{}); !errors.Is(err, domain.ErrRunFinished) {
		t.Errorf("Advance after Abort: %v", err)
	}
	if run.Status() != domain.RunAborted {
		t.Errorf("status = %q", run.Status())
	}
}

func TestRunStartResetsState(t *testing.T) {
	clock := &fakeClock{t: t0}
	run := newChatbotRun(clock)
	run.Start("hi", nil)
	run.Advance(domain.Message{Content: "hello"})
	run.Next()
	if !run.IsComplete() {
		t.Fatal("assistant reply should finish the run")
	}

	d, err := run.Start("political risk", nil)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if d.Agent != domain.AgentScheduler || run.IsComplete() {
		t.Errorf("restart did not reset state: %+v", d)
	}
	if h := run.History(); len(h) != 1 {
		t.Errorf("history after restart = %d entries", len(h))
	}
}

type panickySelector struct{}

func (panickySelector) Select(Roster, []domain.Message) Decision { panic("bad table") }

func TestRunRecoversSelectorPanic(t *testing.T) {
	run := NewRun(RunOptions{
		ID:       "run-3",
		Roster:   NewRoster(domain.AgentAssistant),
		Selector: panickySelector{},
		Policy:   ChatbotProfile().Termination,
		Now:      (&fakeClock{t: t0}).Now,
	})
	d, err := run.Start("hi", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.Terminate {
		t.Fatalf("expected terminate, got %+v", d)
	}
	if s := run.Summary(); s.Status != domain.RunCompleted || s.TerminationReason != ReasonSelectionTerminated {
		t.Errorf("summary = %q/%q", s.Status, s.TerminationReason)
	}
}
