package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for legalmind. It is loaded once at
// startup and passed by value or pointer into constructors; nothing reads it
// from package state.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Agents       AgentsConfig       `yaml:"agents"`
	Storage      StorageConfig      `yaml:"storage"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr             string        `yaml:"addr"`
	RateLimitPerMin  int           `yaml:"rate_limit_per_min"`
	RateLimitBurst   int           `yaml:"rate_limit_burst"`
	ChatTimeout      time.Duration `yaml:"chat_timeout"`
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	TrustedProxies   []string      `yaml:"trusted_proxies,omitempty"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
// Type is one of "openai", "bedrock" or "echo".
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	MaxTokens   int           `yaml:"max_tokens,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// OrchestratorConfig controls run execution and the termination policy.
type OrchestratorConfig struct {
	DefaultProfile     string                   `yaml:"default_profile"`
	DefaultAgent       string                   `yaml:"default_agent"`
	MaxSteps           int                      `yaml:"max_steps"`
	CallTimeout        time.Duration            `yaml:"call_timeout"`
	GlobalTimeout      time.Duration            `yaml:"global_timeout"`
	AgentTimeout       time.Duration            `yaml:"agent_timeout"`
	MaxTurns           int                      `yaml:"max_turns"`
	ReportMinLength    int                      `yaml:"report_min_length"`
	SpecialistWait     time.Duration            `yaml:"specialist_wait"`
	ParallelWait       time.Duration            `yaml:"parallel_wait"`
	HistoryTokenBudget int                      `yaml:"history_token_budget"`
	Profiles           map[string]ProfileConfig `yaml:"profiles,omitempty"`
}

// ProfileConfig adjusts a built-in selection profile. Only non-zero fields apply.
type ProfileConfig struct {
	SpecialistWait time.Duration `yaml:"specialist_wait"`
	DefaultAgent   string        `yaml:"default_agent"`
}

// ExecutorConfig bounds outbound agent calls.
type ExecutorConfig struct {
	MaxConcurrent     int           `yaml:"max_concurrent"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
}

// AgentsConfig holds per-agent overrides applied on top of the built-in roster.
type AgentsConfig struct {
	Overrides map[string]AgentOverride `yaml:"overrides,omitempty"`
}

// AgentOverride replaces selected fields of a built-in agent definition.
type AgentOverride struct {
	DisplayName  string   `yaml:"display_name,omitempty"`
	Instructions string   `yaml:"instructions,omitempty"`
	Model        string   `yaml:"model,omitempty"`
	Temperature  *float64 `yaml:"temperature,omitempty"`
}

// StorageConfig holds persistence paths.
type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	EventLogPath string `yaml:"event_log_path"`
	RunsDir      string `yaml:"runs_dir"`
	MaxRuns      int    `yaml:"max_runs"`
}

// SchedulerConfig controls the recurring automated risk report.
type SchedulerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone,omitempty"`
	Profile  string `yaml:"profile"`
	Query    string `yaml:"query"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"` // 0 or >= 1 samples every run
}

// DefaultScheduledQuery is the message that opens an automated risk run.
const DefaultScheduledQuery = "Please analyze the equipment schedule data and generate a risk report."

// defaultDataDir returns the persistent data directory under $HOME/.legalmind/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".legalmind", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Server: ServerConfig{
			Addr:             ":8080",
			RateLimitPerMin:  30,
			RateLimitBurst:   10,
			ChatTimeout:      300 * time.Second,
			WebSocketEnabled: true,
		},
		LLM: LLMConfig{
			DefaultProvider: "echo",
			Providers: []ProviderConfig{
				{Name: "echo", Type: "echo"},
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Orchestrator: OrchestratorConfig{
			DefaultProfile:     "chatbot",
			DefaultAgent:       "assistant",
			MaxSteps:           20,
			CallTimeout:        300 * time.Second,
			GlobalTimeout:      480 * time.Second,
			AgentTimeout:       300 * time.Second,
			MaxTurns:           50,
			ReportMinLength:    1000,
			SpecialistWait:     5 * time.Second,
			ParallelWait:       2 * time.Second,
			HistoryTokenBudget: 12000,
		},
		Executor: ExecutorConfig{
			MaxConcurrent:     2,
			RequestsPerMinute: 20,
			RetryAttempts:     3,
			RetryBaseDelay:    2 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:      dataDir,
			EventLogPath: filepath.Join(dataDir, "events.db"),
			RunsDir:      filepath.Join(dataDir, "runs"),
			MaxRuns:      100,
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Schedule: "0 7 * * *",
			Profile:  "automated",
			Query:    DefaultScheduledQuery,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(ConfigKeyEnv); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps LEGALMIND_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LEGALMIND_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LEGALMIND_SERVER_RATE_LIMIT_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimitPerMin = n
		}
	}
	if v := os.Getenv("LEGALMIND_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("LEGALMIND_ORCHESTRATOR_DEFAULT_PROFILE"); v != "" {
		cfg.Orchestrator.DefaultProfile = v
	}
	if v := os.Getenv("LEGALMIND_ORCHESTRATOR_GLOBAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.GlobalTimeout = d
		}
	}
	if v := os.Getenv("LEGALMIND_ORCHESTRATOR_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.CallTimeout = d
		}
	}
	if v := os.Getenv("LEGALMIND_EXECUTOR_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.MaxConcurrent = n
		}
	}
	if v := os.Getenv("LEGALMIND_EXECUTOR_REQUESTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("LEGALMIND_STORAGE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
		cfg.Storage.EventLogPath = filepath.Join(v, "events.db")
		cfg.Storage.RunsDir = filepath.Join(v, "runs")
	}
	if v := os.Getenv("LEGALMIND_SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled = v == "true"
	}
	if v := os.Getenv("LEGALMIND_SCHEDULER_SCHEDULE"); v != "" {
		cfg.Scheduler.Schedule = v
	}
	if v := os.Getenv("LEGALMIND_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LEGALMIND_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("LEGALMIND_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("LEGALMIND_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	// Per-provider API keys: LEGALMIND_<NAME>_API_KEY fills empty keys only.
	for i := range cfg.LLM.Providers {
		envKey := "LEGALMIND_" + strings.ToUpper(strings.ReplaceAll(cfg.LLM.Providers[i].Name, "-", "_")) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" && cfg.LLM.Providers[i].APIKey == "" {
			cfg.LLM.Providers[i].APIKey = v
		}
	}
}

// Provider returns the provider config with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.LLM.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
