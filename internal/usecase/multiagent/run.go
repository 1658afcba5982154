package multiagent

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"legalmind/internal/domain"
)

// RunOptions configures a new Run.
type RunOptions struct {
	ID        string
	SessionID string
	Mode      domain.RunMode
	Profile   string
	Template  string
	Roster    Roster
	// Selector and Policy drive adaptive runs.
	Selector Selector
	Policy   TerminationPolicy
	// Sequence is the agent order of a fixed-sequence run.
	Sequence []domain.AgentID
	Now      func() time.Time
}

// Run is the state of one orchestration run. It owns the history and the
// termination state; nothing else mutates them.
type Run struct {
	mu sync.Mutex

	opts    RunOptions
	now     func() time.Time
	policy  TerminationPolicy
	term    *TerminationState
	context map[string]string

	status  domain.RunStatus
	history []domain.Message
	path    []domain.AgentID
	index   int
	results map[domain.AgentID]string
	pending domain.AgentID
	reason  string
	err     error
	created time.Time
	updated time.Time
}

// NewRun creates a run in the NotStarted state.
func NewRun(opts RunOptions) *Run {
	if opts.Mode == "" {
		opts.Mode = domain.ModeAdaptive
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	policy := opts.Policy
	if opts.Mode == domain.ModeFixedSequence {
		policy = policy.TimeoutsOnly()
	}
	opts.Sequence = append([]domain.AgentID(nil), opts.Sequence...)
	t := now()
	return &Run{
		opts:    opts,
		now:     now,
		policy:  policy,
		term:    NewTerminationState(t),
		status:  domain.RunNotStarted,
		results: make(map[domain.AgentID]string),
		created: t,
		updated: t,
	}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.opts.ID }

// SessionID returns the owning session.
func (r *Run) SessionID() string { return r.opts.SessionID }

// Mode returns the orchestration mode.
func (r *Run) Mode() domain.RunMode { return r.opts.Mode }

// Start resets all per-run state, records the query and returns the first
// agent to invoke. An empty result means the run finished without any agent.
func (r *Run) Start(query string, context map[string]string) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(query) == "" {
		return Decision{}, domain.NewSubSystemError("run", "Run.Start", domain.ErrInvalidInput, "query is empty")
	}
	if r.opts.Mode == domain.ModeFixedSequence && len(r.opts.Sequence) == 0 {
		return Decision{}, domain.NewSubSystemError("run", "Run.Start", domain.ErrEmptyRoster, "sequence is empty")
	}

	t := r.now()
	r.term.Reset(t)
	r.history = nil
	r.path = nil
	r.index = 0
	r.results = make(map[domain.AgentID]string)
	r.pending = ""
	r.reason = ""
	r.err = nil
	r.context = maps.Clone(context)
	r.created = t
	r.updated = t
	r.status = domain.RunRunning

	msg := domain.UserMessage(query, t)
	msg.Position = 0
	r.history = append(r.history, msg)

	return r.nextLocked(), nil
}

// Next returns the next decision for a running run. A terminate decision
// finishes the run.
func (r *Run) Next() (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.status {
	case domain.RunNotStarted:
		return Decision{}, domain.NewSubSystemError("run", "Run.Next", domain.ErrRunNotStarted, r.opts.ID)
	case domain.RunCompleted, domain.RunAborted:
		return terminate(r.reason), nil
	}
	if r.pending != "" {
		return Decision{Agent: r.pending, Reason: "pending"}, nil
	}
	return r.nextLocked(), nil
}

func (r *Run) nextLocked() Decision {
	var d Decision
	if r.opts.Mode == domain.ModeFixedSequence {
		if r.index >= len(r.opts.Sequence) {
			r.completeLocked(ReasonSequenceComplete)
			return terminate(ReasonSequenceComplete)
		}
		d = Decision{Agent: r.opts.Sequence[r.index], Reason: fmt.Sprintf("step %d of %d", r.index+1, len(r.opts.Sequence))}
	} else {
		d = r.selectLocked()
	}

	if r.shouldTerminateLocked(d.Agent) {
		reason := r.term.Reason()
		if IsTimeoutReason(reason) {
			r.abortLocked(domain.NewSubSystemError("run", "Run.Next", domain.ErrTimeout, reason), reason)
		} else {
			r.completeLocked(reason)
		}
		return terminate(reason)
	}
	if d.Terminate {
		r.term.Latch(ReasonSelectionTerminated)
		r.completeLocked(ReasonSelectionTerminated)
		return terminate(ReasonSelectionTerminated)
	}
	if !r.opts.Roster.Contains(d.Agent) && r.opts.Mode == domain.ModeAdaptive {
		r.term.Latch(ReasonSelectionTerminated)
		r.completeLocked(ReasonSelectionTerminated)
		return terminate(ReasonSelectionTerminated)
	}
	r.pending = d.Agent
	return d
}

// selectLocked asks the selector for the next agent. A panicking selector
// ends the run instead of crashing it.
func (r *Run) selectLocked() (d Decision) {
	if r.opts.Selector == nil {
		return terminate("no selector")
	}
	defer func() {
		if rec := recover(); rec != nil {
			d = terminate(fmt.Sprintf("selector failed: %v", rec))
		}
	}()
	history := append([]domain.Message(nil), r.history...)
	return r.opts.Selector.Select(r.opts.Roster, history)
}

func (r *Run) shouldTerminateLocked(candidate domain.AgentID) (stop bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.term.Latch(ReasonSelectionTerminated)
			stop = true
		}
	}()
	return r.policy.ShouldTerminate(r.term, candidate, r.history, r.now())
}

// Redirect replaces the pending agent. The engine uses it to fall back to the
// default agent when the selected one cannot be resolved.
func (r *Run) Redirect(agent domain.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == domain.RunRunning {
		r.term.Redirect(r.pending, agent, r.now())
		r.pending = agent
	}
}

// Advance appends the pending agent's reply to history and records its
// result. It returns the stored message.
func (r *Run) Advance(reply domain.Message) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != domain.RunRunning {
		if r.status == domain.RunNotStarted {
			return domain.Message{}, domain.NewSubSystemError("run", "Run.Advance", domain.ErrRunNotStarted, r.opts.ID)
		}
		return domain.Message{}, domain.NewSubSystemError("run", "Run.Advance", domain.ErrRunFinished, r.opts.ID)
	}
	if r.pending == "" {
		return domain.Message{}, domain.NewSubSystemError("run", "Run.Advance", domain.ErrInvalidInput, "no agent is pending")
	}

	t := r.now()
	reply.Role = domain.RoleAgent
	reply.Author = r.pending
	reply.Position = len(r.history)
	if reply.Timestamp.IsZero() {
		reply.Timestamp = t
	}
	r.history = append(r.history, reply)
	r.path = append(r.path, reply.Author)
	r.results[reply.Author] = reply.Content
	r.pending = ""
	r.updated = t

	if r.opts.Mode == domain.ModeFixedSequence {
		r.index++
		if r.index >= len(r.opts.Sequence) {
			r.completeLocked(ReasonSequenceComplete)
		}
	}
	return reply, nil
}

// Abort ends the run with err. Partial history is kept.
func (r *Run) Abort(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Finished() {
		return
	}
	reason := ""
	if errors.Is(err, domain.ErrTimeout) {
		reason = ReasonGlobalTimeout
	}
	r.term.Latch(reason)
	r.abortLocked(err, reason)
}

func (r *Run) abortLocked(err error, reason string) {
	r.status = domain.RunAborted
	r.err = err
	r.reason = reason
	r.pending = ""
	r.updated = r.now()
}

func (r *Run) completeLocked(reason string) {
	r.status = domain.RunCompleted
	r.reason = reason
	r.pending = ""
	r.updated = r.now()
}

// IsComplete reports whether the run has finished, either because its
// sequence is exhausted or because termination fired.
func (r *Run) IsComplete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Finished()
}

// Status returns the lifecycle state.
func (r *Run) Status() domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Err returns the abort cause, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// History returns a copy of the conversation so far.
func (r *Run) History() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Message(nil), r.history...)
}

// Summary returns a read-only snapshot. Fixed-sequence runs report their
// planned sequence; adaptive runs report the path taken so far.
func (r *Run) Summary() domain.RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := domain.RunSummary{
		RunID:             r.opts.ID,
		SessionID:         r.opts.SessionID,
		Mode:              r.opts.Mode,
		Profile:           r.opts.Profile,
		Template:          r.opts.Template,
		Context:           maps.Clone(r.context),
		Status:            r.status,
		Results:           maps.Clone(r.results),
		IsComplete:        r.status.Finished(),
		TerminationReason: r.reason,
		History:           append([]domain.Message(nil), r.history...),
		CreatedAt:         r.created,
		UpdatedAt:         r.updated,
	}
	if r.opts.Mode == domain.ModeFixedSequence {
		s.Sequence = append([]domain.AgentID(nil), r.opts.Sequence...)
		s.Completed = r.index
		s.Total = len(r.opts.Sequence)
	} else {
		s.Sequence = append([]domain.AgentID(nil), r.path...)
		s.Completed = len(r.path)
		s.Total = len(r.path)
		if r.pending != "" {
			s.Total++
		}
	}
	if r.err != nil {
		s.Error = userFacingError(r.err)
		s.ErrorCode = domain.ErrorCodeOf(r.err)
	}
	if r.status == domain.RunCompleted {
		if m, ok := lastAgentMessage(r.history); ok {
			s.FinalAnswer = m.Content
		}
	}
	return s
}

func lastAgentMessage(history []domain.Message) (domain.Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleAgent {
			return history[i], true
		}
	}
	return domain.Message{}, false
}

// userFacingError renders err as a short reason without internal detail.
func userFacingError(err error) string {
	switch domain.ErrorCodeOf(err) {
	case domain.CodeRunTimeout:
		return "the run exceeded its time limit"
	case domain.CodeExecutionTimeout:
		return "an agent did not respond in time"
	case domain.CodeExecutionError:
		return "an agent failed to respond"
	case domain.CodeUnknownAgent:
		return "no agent could handle the request"
	case domain.CodeMaxSteps:
		return "the run exceeded its step limit"
	}
	return "the run failed"
}
