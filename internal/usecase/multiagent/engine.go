package multiagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"legalmind/internal/domain"
	"legalmind/internal/infra/tracer"
)

// Engine defaults.
const (
	DefaultMaxSteps    = 20
	DefaultCallTimeout = 300 * time.Second

	persistTimeout = 10 * time.Second
	summaryRunes   = 200
)

// EngineConfig holds the orchestration ceilings.
type EngineConfig struct {
	DefaultProfile string
	MaxSteps       int
	CallTimeout    time.Duration
	// RunTimeout is the context deadline of a whole run. Zero uses the
	// profile's global termination timeout.
	RunTimeout time.Duration
}

// EngineDeps holds the collaborators of an Engine.
type EngineDeps struct {
	Registry *Registry
	Profiles *ProfileSet
	Executor domain.AgentExecutor
	EventLog domain.EventLog // optional, nil = no event log
	Runs     domain.RunStore // optional, nil = finished runs stay in memory
	Bus      domain.EventBus // optional, nil = no events
	Settler  *Settler        // optional, created when nil
	Logger   *slog.Logger
	Config   EngineConfig
	Now      func() time.Time
	NewID    func() string
}

// Engine starts runs, drives the select, execute, append loop and answers
// status queries. It is safe for concurrent use.
type Engine struct {
	deps EngineDeps

	mu   sync.RWMutex
	live map[string]*Run

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates an Engine.
func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Registry == nil || deps.Profiles == nil || deps.Executor == nil {
		return nil, domain.NewDomainError("NewEngine", domain.ErrInvalidInput, "registry, profiles and executor are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Settler == nil {
		deps.Settler = NewSettler()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return ulid.Make().String() }
	}
	if deps.Config.MaxSteps <= 0 {
		deps.Config.MaxSteps = DefaultMaxSteps
	}
	if deps.Config.CallTimeout <= 0 {
		deps.Config.CallTimeout = DefaultCallTimeout
	}
	if deps.Config.DefaultProfile == "" {
		deps.Config.DefaultProfile = ProfileChatbot
	}
	if _, err := deps.Profiles.Get(deps.Config.DefaultProfile); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		deps:   deps,
		live:   make(map[string]*Run),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Close cancels in-flight runs and waits for them to finish.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

type plannedRun struct {
	run     *Run
	profile SelectionProfile
}

func (e *Engine) prepare(req domain.RunRequest) (plannedRun, error) {
	name := req.Profile
	if name == "" {
		name = e.deps.Config.DefaultProfile
	}
	profile, err := e.deps.Profiles.Get(name)
	if err != nil {
		return plannedRun{}, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = e.deps.NewID()
	}
	opts := RunOptions{
		ID:        e.deps.NewID(),
		SessionID: sessionID,
		Mode:      domain.ModeAdaptive,
		Profile:   profile.Name,
		Policy:    profile.Termination,
		Now:       e.deps.Now,
	}

	switch {
	case req.Template != "":
		tmpl, err := LookupTemplate(req.Template)
		if err != nil {
			return plannedRun{}, err
		}
		opts.Mode = domain.ModeFixedSequence
		opts.Template = tmpl.ID
		opts.Sequence = tmpl.Agents
		opts.Roster = e.deps.Registry.Roster(tmpl.Agents...)
	case profile.PlanSequences && len(PlanSequence(req.Query)) > 1:
		seq := PlanSequence(req.Query)
		opts.Mode = domain.ModeFixedSequence
		opts.Sequence = seq
		opts.Roster = e.deps.Registry.Roster(seq...)
	default:
		opts.Roster = e.deps.Registry.Roster(profile.Agents...)
		opts.Selector = NewProfileSelector(profile)
	}
	return plannedRun{run: NewRun(opts), profile: profile}, nil
}

// StartRun validates and starts a run, then drives it in the background.
// The returned snapshot carries the new run and session identifiers.
func (e *Engine) StartRun(ctx context.Context, req domain.RunRequest) (domain.RunSummary, error) {
	p, first, err := e.begin(ctx, req)
	if err != nil {
		return domain.RunSummary{}, err
	}
	snapshot := p.run.Summary()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.drive(e.ctx, p, first)
	}()
	return snapshot, nil
}

// Execute runs a request to completion and returns its final summary. A
// failed run returns its summary together with the abort cause.
func (e *Engine) Execute(ctx context.Context, req domain.RunRequest) (domain.RunSummary, error) {
	p, first, err := e.begin(ctx, req)
	if err != nil {
		return domain.RunSummary{}, err
	}
	e.drive(ctx, p, first)
	return p.run.Summary(), p.run.Err()
}

func (e *Engine) begin(ctx context.Context, req domain.RunRequest) (plannedRun, Decision, error) {
	p, err := e.prepare(req)
	if err != nil {
		return plannedRun{}, Decision{}, err
	}
	first, err := p.run.Start(req.Query, req.Context)
	if err != nil {
		return plannedRun{}, Decision{}, err
	}

	e.mu.Lock()
	e.live[p.run.ID()] = p.run
	e.mu.Unlock()

	e.deps.Logger.Info("run started",
		"run_id", p.run.ID(), "session_id", p.run.SessionID(),
		"profile", p.profile.Name, "mode", p.run.Mode(), "first_agent", first.Agent)
	e.publish(ctx, domain.EventRunStarted, p.run, domain.RunEventPayload{
		Agent: first.Agent, Profile: p.profile.Name, Status: domain.RunRunning,
	})

	ctxJSON, _ := json.Marshal(req.Context)
	e.appendEvent(ctx, nil, domain.AgentEvent{
		RunID:     p.run.ID(),
		SessionID: p.run.SessionID(),
		AgentName: "orchestrator",
		Action:    domain.ActionStartWorkflow,
		Summary:   truncate(req.Query, summaryRunes),
		RawOutput: string(ctxJSON),
	}, -1)
	return p, first, nil
}

func (e *Engine) runTimeout(p SelectionProfile) time.Duration {
	if e.deps.Config.RunTimeout > 0 {
		return e.deps.Config.RunTimeout
	}
	if p.Termination.GlobalTimeout > 0 {
		return p.Termination.GlobalTimeout
	}
	return DefaultGlobalTimeout
}

// drive runs the loop until the run finishes. Agents of one run never
// execute concurrently.
func (e *Engine) drive(parent context.Context, p plannedRun, d Decision) {
	run := p.run
	runCtx, cancel := context.WithTimeout(parent, e.runTimeout(p.profile))
	defer cancel()

	ctx, span := tracer.StartSpan(runCtx, "multiagent.run",
		tracer.RunAttrs(run.ID(), run.SessionID(), p.profile.Name))
	defer span.End()

	var appends sync.WaitGroup
	fallbackUsed := false

	for step := 0; !run.IsComplete() && !d.Terminate; step++ {
		if step >= e.deps.Config.MaxSteps {
			run.Abort(domain.NewSubSystemError("run", "Engine.drive", domain.ErrMaxSteps,
				fmt.Sprintf("%d steps", e.deps.Config.MaxSteps)))
			break
		}

		if d.SettleWait > 0 {
			if history := run.History(); len(history) > 0 {
				settled := e.deps.Settler.Settle(ctx, run.ID(), len(history)-1, d.SettleWait)
				e.deps.Logger.Debug("settle wait done", "run_id", run.ID(), "agent", d.Agent, "signalled", settled)
			}
		}

		agent, err := e.resolve(ctx, run, d.Agent, &fallbackUsed)
		if err != nil {
			run.Abort(err)
			break
		}

		reply, err := e.invoke(ctx, runCtx, run, agent)
		if err != nil {
			run.Abort(err)
			break
		}

		stored, err := run.Advance(reply)
		if err != nil {
			e.deps.Logger.Warn("advance failed", "run_id", run.ID(), "error", err)
			break
		}
		e.publish(ctx, domain.EventAgentReplied, run, domain.RunEventPayload{
			Agent: stored.Author, Position: stored.Position,
		})
		e.appendEvent(ctx, &appends, domain.AgentEvent{
			RunID:     run.ID(),
			SessionID: run.SessionID(),
			AgentName: string(stored.Author),
			Action:    domain.ActionAgentResponse,
			Summary:   truncate(stored.Content, summaryRunes),
			RawOutput: stored.Content,
		}, stored.Position)

		if d, err = run.Next(); err != nil {
			e.deps.Logger.Warn("next selection failed", "run_id", run.ID(), "error", err)
			break
		}
		if !d.Terminate {
			e.publish(ctx, domain.EventAgentSelected, run, domain.RunEventPayload{Agent: d.Agent, Reason: d.Reason})
		}
	}

	if !run.IsComplete() {
		// Loop exits on a terminate decision always finish the run first;
		// anything else is an orchestration fault.
		run.Abort(domain.NewSubSystemError("run", "Engine.drive", domain.ErrExecutionError, "run left unfinished"))
	}

	if err := run.Err(); err != nil {
		tracer.RecordError(span, err)
	} else {
		tracer.SetOK(span)
	}
	e.finish(ctx, run, &appends)
}

// resolve looks up the agent to invoke. An unknown agent falls back to the
// default agent once per run.
func (e *Engine) resolve(ctx context.Context, run *Run, id domain.AgentID, fallbackUsed *bool) (domain.AgentConfig, error) {
	cfg, err := e.deps.Registry.Lookup(id)
	if err == nil {
		return cfg, nil
	}
	cfg = e.deps.Registry.Default()
	def := cfg.ID
	if *fallbackUsed || def == id {
		return domain.AgentConfig{}, err
	}
	*fallbackUsed = true
	run.Redirect(def)
	e.deps.Logger.Warn("unknown agent, falling back to default",
		"run_id", run.ID(), "agent", id, "fallback", def)
	e.publish(ctx, domain.EventAgentFallback, run, domain.RunEventPayload{Agent: def, Reason: string(id)})
	return cfg, nil
}

// invoke calls the executor with the per-call deadline and maps failures
// onto the orchestration error taxonomy.
func (e *Engine) invoke(ctx, runCtx context.Context, run *Run, agent domain.AgentConfig) (domain.Message, error) {
	ctx, span := tracer.StartSpan(ctx, "multiagent.step",
		trace.WithAttributes(tracer.StringAttr("agent.id", string(agent.ID))))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, e.deps.Config.CallTimeout)
	defer cancel()

	start := e.deps.Now()
	reply, err := e.deps.Executor.Invoke(callCtx, agent, run.History())
	if err == nil {
		e.deps.Logger.Debug("agent replied",
			"run_id", run.ID(), "agent", agent.ID, "duration", e.deps.Now().Sub(start))
		tracer.SetOK(span)
		return reply, nil
	}

	var mapped error
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		mapped = domain.NewSubSystemError("run", "Engine.invoke", domain.ErrTimeout, ReasonGlobalTimeout)
	case errors.Is(callCtx.Err(), context.DeadlineExceeded), errors.Is(err, domain.ErrExecutionTimeout):
		mapped = domain.NewSubSystemError("agent", "Engine.invoke", domain.ErrExecutionTimeout, string(agent.ID))
	default:
		mapped = domain.NewSubSystemError("agent", "Engine.invoke", domain.ErrExecutionError,
			fmt.Sprintf("%s: %v", agent.ID, err))
	}
	e.deps.Logger.Error("agent call failed",
		"run_id", run.ID(), "agent", agent.ID, "code", domain.ErrorCodeOf(mapped), "error", err)
	tracer.RecordError(span, mapped)
	return domain.Message{}, mapped
}

func (e *Engine) finish(ctx context.Context, run *Run, appends *sync.WaitGroup) {
	ctx = context.WithoutCancel(ctx)
	summary := run.Summary()
	eventType := domain.EventRunCompleted
	action := domain.ActionCompleteWorkflow
	note := summary.TerminationReason
	if summary.Status == domain.RunAborted {
		eventType = domain.EventRunAborted
		action = domain.ActionWorkflowError
		note = summary.Error
		e.deps.Logger.Warn("run aborted",
			"run_id", summary.RunID, "code", summary.ErrorCode, "reason", summary.TerminationReason, "error", run.Err())
	} else {
		e.deps.Logger.Info("run completed",
			"run_id", summary.RunID, "reason", summary.TerminationReason, "agents", summary.Completed)
	}

	e.publish(ctx, eventType, run, domain.RunEventPayload{
		Status: summary.Status, Reason: summary.TerminationReason, Error: summary.Error,
	})
	e.appendEvent(ctx, appends, domain.AgentEvent{
		RunID:     summary.RunID,
		SessionID: summary.SessionID,
		AgentName: "orchestrator",
		Action:    action,
		Summary:   truncate(note, summaryRunes),
		RawOutput: summary.FinalAnswer,
	}, -1)
	appends.Wait()
	e.deps.Settler.Forget(summary.RunID)

	saved := false
	if e.deps.Runs != nil {
		sctx, cancel := context.WithTimeout(ctx, persistTimeout)
		if err := e.deps.Runs.SaveRun(sctx, summary); err != nil {
			e.deps.Logger.Warn("save run failed", "run_id", summary.RunID, "error", err)
		} else {
			saved = true
		}
		cancel()
	}
	if saved {
		e.mu.Lock()
		delete(e.live, summary.RunID)
		e.mu.Unlock()
	}
}

// appendEvent writes ev to the event log in the background. Failures are
// logged and never affect the run. When position is non-negative the
// settler is signalled once the write returns.
func (e *Engine) appendEvent(ctx context.Context, wg *sync.WaitGroup, ev domain.AgentEvent, position int) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = e.deps.Now()
	}
	if e.deps.EventLog == nil {
		if position >= 0 {
			e.deps.Settler.Signal(ev.RunID, position)
		}
		return
	}
	if wg != nil {
		wg.Add(1)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if wg != nil {
			defer wg.Done()
		}
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := e.deps.EventLog.AppendEvent(actx, ev); err != nil {
			e.deps.Logger.Warn("append agent event failed",
				"run_id", ev.RunID, "agent", ev.AgentName, "action", ev.Action, "error", err)
		}
		if position >= 0 {
			e.deps.Settler.Signal(ev.RunID, position)
		}
	}()
}

func (e *Engine) publish(ctx context.Context, eventType domain.EventType, run *Run, payload domain.RunEventPayload) {
	if e.deps.Bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	e.deps.Bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: e.deps.Now(),
		SessionID: run.SessionID(),
		RunID:     run.ID(),
		Payload:   raw,
	})
}

// GetRunStatus returns the live or persisted summary of a run.
func (e *Engine) GetRunStatus(ctx context.Context, runID string) (domain.RunSummary, error) {
	e.mu.RLock()
	run, ok := e.live[runID]
	e.mu.RUnlock()
	if ok {
		return run.Summary(), nil
	}
	if e.deps.Runs != nil {
		s, err := e.deps.Runs.GetRun(ctx, runID)
		if err == nil {
			return *s, nil
		}
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrRunNotFound) {
			return domain.RunSummary{}, domain.WrapOp("Engine.GetRunStatus", err)
		}
	}
	return domain.RunSummary{}, domain.NewSubSystemError("run", "Engine.GetRunStatus", domain.ErrRunNotFound, runID)
}

// ListRuns returns live runs followed by persisted ones, newest first within
// each group, up to limit.
func (e *Engine) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	e.mu.RLock()
	out := make([]domain.RunSummary, 0, len(e.live))
	seen := make(map[string]bool, len(e.live))
	for id, run := range e.live {
		out = append(out, run.Summary())
		seen[id] = true
	}
	e.mu.RUnlock()
	sortSummaries(out)

	if e.deps.Runs != nil {
		stored, err := e.deps.Runs.ListRuns(ctx, limit)
		if err != nil {
			return nil, domain.WrapOp("Engine.ListRuns", err)
		}
		for _, s := range stored {
			if !seen[s.RunID] {
				out = append(out, s)
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RunEvents returns the persisted agent events of a run.
func (e *Engine) RunEvents(ctx context.Context, runID string) ([]domain.AgentEvent, error) {
	if e.deps.EventLog == nil {
		return nil, nil
	}
	return e.deps.EventLog.ListEvents(ctx, runID)
}

// ListAgents returns every configured agent.
func (e *Engine) ListAgents() []domain.AgentInfo { return e.deps.Registry.Infos() }

// ListTemplates returns the fixed-sequence workflow templates.
func (e *Engine) ListTemplates() []TemplateInfo { return ListTemplates() }

// ListProfiles returns the selection profiles.
func (e *Engine) ListProfiles() []ProfileInfo { return e.deps.Profiles.List() }

func sortSummaries(s []domain.RunSummary) {
	sort.Slice(s, func(i, j int) bool { return s[i].CreatedAt.After(s[j].CreatedAt) })
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
