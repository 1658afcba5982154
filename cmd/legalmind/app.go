package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"legalmind/internal/adapter/eventlog"
	"legalmind/internal/adapter/executor"
	"legalmind/internal/adapter/httpapi"
	"legalmind/internal/adapter/llm"
	"legalmind/internal/adapter/runstore"
	"legalmind/internal/domain"
	"legalmind/internal/infra/config"
	"legalmind/internal/usecase/eventbus"
	"legalmind/internal/usecase/multiagent"
	"legalmind/internal/usecase/scheduling"
)

const version = "0.3.0"

const scheduledTaskName = "risk-report"

// app holds the wired components of one process.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	bus       *eventbus.Bus
	events    *eventlog.SQLiteStore
	runs      *runstore.FileStore
	limiter   *executor.RateLimitedExecutor
	engine    *multiagent.Engine
	scheduler *scheduling.Scheduler
	provider  domain.LLMProvider
}

// buildApp wires storage, the LLM provider, the executor chain and the
// engine. Agent calls go retry -> rate limit -> chat completion.
func buildApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, bus: eventbus.New(log)}

	providers, err := llm.NewRegistryFromConfig(cfg.LLM, llm.FactoryOptions{
		Bedrock: createBedrockProvider,
		OnBreakerChange: func(provider, from, to string) {
			a.bus.Emit(context.Background(), domain.EventBreakerChanged, "", "", map[string]string{
				"provider": provider, "from": from, "to": to,
			})
		},
	}, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("llm: %w", err)
	}
	if err := providers.SetDefault(cfg.LLM.DefaultProvider); err != nil {
		a.close()
		return nil, fmt.Errorf("llm: %w", err)
	}
	a.provider = providers
	log.Info("llm providers ready", "providers", providers.List(), "default", providers.Name())

	if err := os.MkdirAll(cfg.Storage.DataDir, 0700); err != nil {
		a.close()
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	a.events, err = eventlog.NewSQLiteStore(cfg.Storage.EventLogPath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.runs, err = runstore.NewFileStore(cfg.Storage.RunsDir, cfg.Storage.MaxRuns)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	agents := multiagent.ApplyOverrides(multiagent.DefaultAgents(), agentOverrides(cfg.Agents))
	registry, err := multiagent.NewRegistry(agents, domain.AgentID(cfg.Orchestrator.DefaultAgent), log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("agents: %w", err)
	}

	chat := executor.NewChatExecutor(a.provider,
		executor.NewTokenCounter(executor.DefaultEncoding, log),
		executor.ChatConfig{HistoryBudget: cfg.Orchestrator.HistoryTokenBudget},
		log)
	a.limiter = executor.NewRateLimitedExecutor(chat, executor.RateLimitConfig{
		MaxConcurrent:     cfg.Executor.MaxConcurrent,
		RequestsPerMinute: cfg.Executor.RequestsPerMinute,
	}, log, executor.WithWaitHook(func(agent domain.AgentID, wait time.Duration) {
		a.bus.Emit(context.Background(), domain.EventRateLimitWait, "", "", map[string]any{
			"agent":   agent,
			"wait_ms": wait.Milliseconds(),
		})
	}))

	retrying := executor.NewRetryExecutor(a.limiter, executor.RetryConfig{
		MaxAttempts: cfg.Executor.RetryAttempts,
		BaseDelay:   cfg.Executor.RetryBaseDelay,
	}, log)

	a.engine, err = multiagent.NewEngine(multiagent.EngineDeps{
		Registry: registry,
		Profiles: multiagent.BuiltinProfiles(profileOptions(cfg.Orchestrator)),
		Executor: retrying,
		EventLog: a.events,
		Runs:     a.runs,
		Bus:      a.bus,
		Logger:   log,
		Config: multiagent.EngineConfig{
			DefaultProfile: cfg.Orchestrator.DefaultProfile,
			MaxSteps:       cfg.Orchestrator.MaxSteps,
			CallTimeout:    cfg.Orchestrator.CallTimeout,
		},
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("engine: %w", err)
	}
	return a, nil
}

// startScheduler registers the automated report when enabled.
func (a *app) startScheduler(ctx context.Context) error {
	sc := a.cfg.Scheduler
	if !sc.Enabled {
		return nil
	}
	loc, err := scheduling.LoadLocation(sc.Timezone)
	if err != nil {
		return err
	}
	a.scheduler = scheduling.NewScheduler(a.engine, scheduling.Options{
		Location:   loc,
		RunTimeout: a.cfg.Orchestrator.GlobalTimeout + time.Minute,
		Bus:        a.bus,
		Logger:     a.log,
	})
	query := sc.Query
	if query == "" {
		query = config.DefaultScheduledQuery
	}
	if err := a.scheduler.AddTask(scheduling.ScheduledRun{
		Name:     scheduledTaskName,
		Schedule: sc.Schedule,
		Profile:  sc.Profile,
		Query:    query,
	}); err != nil {
		return err
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	if next := a.scheduler.NextRun(scheduledTaskName); next != nil {
		a.log.Info("scheduler started", "task", scheduledTaskName, "next_run", next.Format(time.RFC3339))
	}
	return nil
}

// httpServer builds the API server over the engine.
func (a *app) httpServer() *httpapi.Server {
	s := a.cfg.Server
	deps := httpapi.Deps{
		Service:  a.engine,
		Bus:      a.bus,
		EventLog: a.events,
		Limiter:  a.limiter,
		Logger:   a.log,
	}
	if a.scheduler != nil {
		deps.Scheduler = a.scheduler
	}
	return httpapi.NewServer(deps, httpapi.Config{
		Addr:             s.Addr,
		ChatTimeout:      s.ChatTimeout,
		RateLimitPerMin:  s.RateLimitPerMin,
		RateLimitBurst:   s.RateLimitBurst,
		TrustedProxies:   s.TrustedProxies,
		WebSocketEnabled: s.WebSocketEnabled,
		Version:          version,
	})
}

// close releases components in reverse start order.
func (a *app) close() error {
	var errs []error
	if a.scheduler != nil {
		errs = append(errs, a.scheduler.Stop())
	}
	if a.engine != nil {
		a.engine.Close()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.events != nil {
		errs = append(errs, a.events.Close())
	}
	return errors.Join(errs...)
}

// profileOptions maps orchestrator settings onto the built-in profiles.
func profileOptions(o config.OrchestratorConfig) multiagent.ProfileOptions {
	opts := multiagent.ProfileOptions{
		GlobalTimeout:   o.GlobalTimeout,
		AgentTimeout:    o.AgentTimeout,
		MaxTurns:        o.MaxTurns,
		ReportMinLength: o.ReportMinLength,
		SpecialistWait:  o.SpecialistWait,
		PerProfile:      make(map[string]multiagent.ProfileOverride),
	}
	if o.ParallelWait > 0 {
		opts.PerProfile[multiagent.ProfileParallel] = multiagent.ProfileOverride{SpecialistWait: o.ParallelWait}
	}
	for name, p := range o.Profiles {
		ov := opts.PerProfile[name]
		if p.SpecialistWait > 0 {
			ov.SpecialistWait = p.SpecialistWait
		}
		if p.DefaultAgent != "" {
			ov.DefaultAgent = domain.AgentID(p.DefaultAgent)
		}
		opts.PerProfile[name] = ov
	}
	return opts
}

func agentOverrides(c config.AgentsConfig) map[domain.AgentID]multiagent.AgentOverride {
	if len(c.Overrides) == 0 {
		return nil
	}
	out := make(map[domain.AgentID]multiagent.AgentOverride, len(c.Overrides))
	for id, o := range c.Overrides {
		out[domain.AgentID(id)] = multiagent.AgentOverride{
			DisplayName:  o.DisplayName,
			Instructions: o.Instructions,
			Model:        o.Model,
			Temperature:  o.Temperature,
		}
	}
	return out
}
