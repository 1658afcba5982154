package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateDefaultsPass(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Defaults should pass validation: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Orchestrator.MaxSteps = 0
	cfg.Executor.RequestsPerMinute = 0
	cfg.Server.Addr = ""

	err := Validate(cfg)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidateFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"call timeout", func(c *Config) { c.Orchestrator.CallTimeout = 0 }, "orchestrator.call_timeout must be > 0"},
		{"global timeout", func(c *Config) { c.Orchestrator.GlobalTimeout = 0 }, "orchestrator.global_timeout must be > 0"},
		{"max turns", func(c *Config) { c.Orchestrator.MaxTurns = 0 }, "orchestrator.max_turns must be > 0"},
		{"concurrency", func(c *Config) { c.Executor.MaxConcurrent = 0 }, "executor.max_concurrent must be > 0"},
		{"no providers", func(c *Config) { c.LLM.Providers = nil }, "llm.providers must not be empty"},
		{"unknown default provider", func(c *Config) { c.LLM.DefaultProvider = "nope" }, `llm.default_provider "nope"`},
		{"unsupported type", func(c *Config) {
			c.LLM.Providers = append(c.LLM.Providers, ProviderConfig{Name: "x", Type: "carrier-pigeon"})
		}, `type "carrier-pigeon" is not supported`},
		{"duplicate provider", func(c *Config) {
			c.LLM.Providers = append(c.LLM.Providers, ProviderConfig{Name: "echo", Type: "echo"})
		}, `name "echo" is duplicated`},
		{"bad schedule", func(c *Config) {
			c.Scheduler.Enabled = true
			c.Scheduler.Schedule = "every morning"
		}, `scheduler.schedule "every morning" is invalid`},
		{"log format", func(c *Config) { c.Logger.Format = "xml" }, `logger.format "xml"`},
		{"max runs", func(c *Config) { c.Storage.MaxRuns = 0 }, "storage.max_runs must be > 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			assertContains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateSchedulerDisabledSkipsSchedule(t *testing.T) {
	cfg := Defaults()
	cfg.Scheduler.Enabled = false
	cfg.Scheduler.Schedule = "garbage"
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled scheduler should not be validated: %v", err)
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}
