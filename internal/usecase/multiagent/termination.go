package multiagent

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"legalmind/internal/domain"
)

// Termination reasons recorded on a run.
const (
	ReasonGlobalTimeout         = "global_timeout"
	ReasonAgentTimeout          = "agent_timeout"
	ReasonMaxTurns              = "max_turns"
	ReasonReportComplete        = "report_complete"
	ReasonSpecialistAfterReport = "specialist_after_report"
	ReasonAgentDone             = "assistant_done"
	ReasonSelectionTerminated   = "selection_terminated"
	ReasonSequenceComplete      = "sequence_complete"
)

// IsTimeoutReason reports whether reason ends a run as a timeout failure.
func IsTimeoutReason(reason string) bool {
	return reason == ReasonGlobalTimeout || reason == ReasonAgentTimeout
}

// Default termination ceilings.
const (
	DefaultGlobalTimeout    = 8 * time.Minute
	DefaultAgentTimeout     = 5 * time.Minute
	DefaultMaxTurns         = 50
	DefaultReportMinLength  = 1000
	DefaultMinHistory       = 2
	DefaultCompletionMarker = "Report Generated Successfully"
)

// DefaultSectionMarkers must all appear in a reporting reply for it to count
// as a finished report.
var DefaultSectionMarkers = []string{"Executive Summary", "Recommendations"}

// TerminationPolicy is the immutable configuration of the termination rules.
// It holds no run state and is safe to share between runs.
type TerminationPolicy struct {
	MinHistory    int
	GlobalTimeout time.Duration
	// AgentTimeouts caps the time since an agent was first selected.
	AgentTimeouts    map[domain.AgentID]time.Duration
	MaxTurns         int
	ReportMinLength  int
	CompletionMarker string
	SectionMarkers   []string

	Reporting      domain.AgentID
	Specialists    []domain.AgentID
	TerminalAgents []domain.AgentID
	// RequireReportSignals makes a reporting reply end the run only when it
	// looks like a finished report. When false any reporting reply ends it.
	RequireReportSignals bool
}

// TimeoutsOnly returns a copy of p with the content rules removed, for runs
// whose length is fixed in advance.
func (p TerminationPolicy) TimeoutsOnly() TerminationPolicy {
	p.Reporting = ""
	p.Specialists = nil
	p.TerminalAgents = nil
	return p
}

// TerminationState is the mutable per-run half of termination. One state
// belongs to exactly one run.
type TerminationState struct {
	start              time.Time
	firstSeen          map[domain.AgentID]time.Time
	responded          map[domain.AgentID]bool
	reportingAttempted bool
	latched            bool
	reason             string
}

// NewTerminationState returns a fresh state whose clock starts at now.
func NewTerminationState(now time.Time) *TerminationState {
	s := &TerminationState{}
	s.Reset(now)
	return s
}

// Reset clears all run state, including the latch.
func (s *TerminationState) Reset(now time.Time) {
	s.start = now
	s.firstSeen = make(map[domain.AgentID]time.Time)
	s.responded = make(map[domain.AgentID]bool)
	s.reportingAttempted = false
	s.latched = false
	s.reason = ""
}

// Latch sets the terminal flag. The first reason is kept.
func (s *TerminationState) Latch(reason string) {
	if s.latched {
		return
	}
	s.latched = true
	s.reason = reason
}

// Latched reports whether the run has been told to stop.
func (s *TerminationState) Latched() bool { return s.latched }

// Reason returns why the latch was set.
func (s *TerminationState) Reason() string { return s.reason }

// Start returns when the run clock started.
func (s *TerminationState) Start() time.Time { return s.start }

// FirstSeen returns when id was first selected.
func (s *TerminationState) FirstSeen(id domain.AgentID) (time.Time, bool) {
	t, ok := s.firstSeen[id]
	return t, ok
}

// Redirect moves the per-agent clock from an agent that was selected but
// never ran to the agent that runs in its place.
func (s *TerminationState) Redirect(from, to domain.AgentID, now time.Time) {
	if from != "" && !s.responded[from] {
		delete(s.firstSeen, from)
	}
	if _, ok := s.firstSeen[to]; !ok && to != "" {
		s.firstSeen[to] = now
	}
}

// Responded returns the agents that have replied, sorted.
func (s *TerminationState) Responded() []domain.AgentID {
	out := make([]domain.AgentID, 0, len(s.responded))
	for id := range s.responded {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// ReportingAttempted reports whether the reporting agent has replied.
func (s *TerminationState) ReportingAttempted() bool { return s.reportingAttempted }

// ShouldTerminate evaluates the rules against history as it stands before
// candidate executes. The first matching rule wins and a true result latches.
func (p TerminationPolicy) ShouldTerminate(s *TerminationState, candidate domain.AgentID, history []domain.Message, now time.Time) bool {
	if s.latched {
		return true
	}
	if len(history) < p.minHistory() {
		return false
	}

	if candidate != "" {
		if _, ok := s.firstSeen[candidate]; !ok {
			s.firstSeen[candidate] = now
		}
	}

	if p.GlobalTimeout > 0 && now.Sub(s.start) > p.GlobalTimeout {
		return s.stop(ReasonGlobalTimeout)
	}
	for id, first := range s.firstSeen {
		if limit, ok := p.AgentTimeouts[id]; ok && limit > 0 && now.Sub(first) > limit {
			return s.stop(ReasonAgentTimeout)
		}
	}
	if p.MaxTurns > 0 && len(history) > p.MaxTurns*2 {
		return s.stop(ReasonMaxTurns)
	}

	last := history[len(history)-1]
	if last.Role != domain.RoleAgent {
		return false
	}
	s.responded[last.Author] = true

	if p.Reporting != "" && last.Author == p.Reporting {
		s.reportingAttempted = true
		if !p.RequireReportSignals || p.reportComplete(last.Content) {
			return s.stop(ReasonReportComplete)
		}
		return false
	}
	if slices.Contains(p.Specialists, last.Author) {
		if s.reportingAttempted {
			return s.stop(ReasonSpecialistAfterReport)
		}
		return false
	}
	if slices.Contains(p.TerminalAgents, last.Author) {
		return s.stop(ReasonAgentDone)
	}
	return false
}

func (s *TerminationState) stop(reason string) bool {
	s.Latch(reason)
	return true
}

func (p TerminationPolicy) minHistory() int {
	if p.MinHistory > 0 {
		return p.MinHistory
	}
	return DefaultMinHistory
}

func (p TerminationPolicy) reportComplete(content string) bool {
	minLen := p.ReportMinLength
	if minLen <= 0 {
		minLen = DefaultReportMinLength
	}
	if utf8.RuneCountInString(content) > minLen {
		return true
	}
	if p.CompletionMarker != "" && strings.Contains(content, p.CompletionMarker) {
		return true
	}
	if len(p.SectionMarkers) == 0 {
		return false
	}
	for _, marker := range p.SectionMarkers {
		if !strings.Contains(content, marker) {
			return false
		}
	}
	return true
}

// NewTerminationPolicy returns the default policy for the given reporting
// agent, specialists and terminal agents. Each specialist and the reporting
// agent get the default per-agent timeout.
func NewTerminationPolicy(reporting domain.AgentID, specialists, terminal []domain.AgentID) TerminationPolicy {
	timeouts := make(map[domain.AgentID]time.Duration, len(specialists)+1)
	for _, id := range specialists {
		timeouts[id] = DefaultAgentTimeout
	}
	if reporting != "" {
		timeouts[reporting] = DefaultAgentTimeout
	}
	return TerminationPolicy{
		MinHistory:           DefaultMinHistory,
		GlobalTimeout:        DefaultGlobalTimeout,
		AgentTimeouts:        timeouts,
		MaxTurns:             DefaultMaxTurns,
		ReportMinLength:      DefaultReportMinLength,
		CompletionMarker:     DefaultCompletionMarker,
		SectionMarkers:       DefaultSectionMarkers,
		Reporting:            reporting,
		Specialists:          specialists,
		TerminalAgents:       terminal,
		RequireReportSignals: true,
	}
}
