package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateLLM(cfg, ve)
	validateOrchestrator(cfg, ve)
	validateExecutor(cfg, ve)
	validateStorage(cfg, ve)
	validateScheduler(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		ve.Add("server.addr must not be empty")
	}
	if cfg.Server.RateLimitPerMin <= 0 {
		ve.Add("server.rate_limit_per_min must be > 0")
	}
	if cfg.Server.RateLimitBurst <= 0 {
		ve.Add("server.rate_limit_burst must be > 0")
	}
	if cfg.Server.ChatTimeout <= 0 {
		ve.Add("server.chat_timeout must be > 0")
	}
}

var knownProviderTypes = map[string]bool{"openai": true, "bedrock": true, "echo": true}

func validateLLM(cfg *Config, ve *ValidationError) {
	if len(cfg.LLM.Providers) == 0 {
		ve.Add("llm.providers must not be empty")
		return
	}
	seen := make(map[string]bool, len(cfg.LLM.Providers))
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d].name %q is duplicated", i, p.Name)
		}
		seen[p.Name] = true
		typ := p.Type
		if typ == "" {
			typ = "openai"
		}
		if !knownProviderTypes[typ] {
			ve.Add("llm.providers[%d].type %q is not supported", i, p.Type)
		}
	}
	if !seen[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any provider", cfg.LLM.DefaultProvider)
	}
}

func validateOrchestrator(cfg *Config, ve *ValidationError) {
	o := cfg.Orchestrator
	if o.DefaultProfile == "" {
		ve.Add("orchestrator.default_profile must not be empty")
	}
	if o.MaxSteps <= 0 {
		ve.Add("orchestrator.max_steps must be > 0")
	}
	if o.CallTimeout <= 0 {
		ve.Add("orchestrator.call_timeout must be > 0")
	}
	if o.GlobalTimeout <= 0 {
		ve.Add("orchestrator.global_timeout must be > 0")
	}
	if o.AgentTimeout <= 0 {
		ve.Add("orchestrator.agent_timeout must be > 0")
	}
	if o.MaxTurns <= 0 {
		ve.Add("orchestrator.max_turns must be > 0")
	}
	if o.SpecialistWait < 0 || o.ParallelWait < 0 {
		ve.Add("orchestrator settle waits must be >= 0")
	}
	if o.HistoryTokenBudget < 0 {
		ve.Add("orchestrator.history_token_budget must be >= 0")
	}
}

func validateExecutor(cfg *Config, ve *ValidationError) {
	if cfg.Executor.MaxConcurrent <= 0 {
		ve.Add("executor.max_concurrent must be > 0")
	}
	if cfg.Executor.RequestsPerMinute <= 0 {
		ve.Add("executor.requests_per_minute must be > 0")
	}
	if cfg.Executor.RetryAttempts < 0 || cfg.Executor.RetryBaseDelay < 0 {
		ve.Add("executor.retry_attempts and executor.retry_base_delay must be >= 0")
	}
}

func validateStorage(cfg *Config, ve *ValidationError) {
	if cfg.Storage.EventLogPath == "" {
		ve.Add("storage.event_log_path must not be empty")
	}
	if cfg.Storage.RunsDir == "" {
		ve.Add("storage.runs_dir must not be empty")
	}
	if cfg.Storage.MaxRuns <= 0 {
		ve.Add("storage.max_runs must be > 0")
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	if _, err := cron.ParseStandard(cfg.Scheduler.Schedule); err != nil {
		ve.Add("scheduler.schedule %q is invalid: %v", cfg.Scheduler.Schedule, err)
	}
	if cfg.Scheduler.Query == "" {
		ve.Add("scheduler.query must not be empty")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
	if r := cfg.Tracer.SampleRatio; r < 0 || r > 1 {
		ve.Add("tracer.sample_ratio must be within [0, 1]")
	}
}
