package llm

import (
	"fmt"
	"log/slog"

	"legalmind/internal/domain"
	"legalmind/internal/infra/config"
)

// BedrockFactory builds a Bedrock provider. It is supplied by the binary so
// the AWS SDK is only linked into builds that ask for it.
type BedrockFactory func(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error)

// FactoryOptions carries the optional pieces supplied by the binary.
type FactoryOptions struct {
	Bedrock         BedrockFactory
	OnBreakerChange BreakerHook
}

// NewProvider creates the provider described by cfg. When cb is enabled the
// provider is wrapped in a circuit breaker.
func NewProvider(cfg config.ProviderConfig, cb config.CircuitBreakerConfig, opts FactoryOptions, logger *slog.Logger) (domain.LLMProvider, error) {
	var (
		p   domain.LLMProvider
		err error
	)
	switch cfg.Type {
	case "openai", "azure", "":
		p = NewOpenAIProvider(cfg, logger)
	case "echo":
		return NewEchoProvider(cfg.Name), nil
	case "bedrock":
		if opts.Bedrock == nil {
			return nil, domain.NewDomainError("llm.NewProvider", domain.ErrProviderNotFound, "bedrock support not built in")
		}
		p, err = opts.Bedrock(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create bedrock provider %q: %w", cfg.Name, err)
		}
	default:
		return nil, domain.NewDomainError("llm.NewProvider", domain.ErrProviderNotFound, fmt.Sprintf("unknown provider type %q", cfg.Type))
	}

	if cb.Enabled {
		p = NewCircuitBreakerProvider(p, CircuitBreakerConfig{
			MaxFailures:   cb.MaxFailures,
			Timeout:       cb.Timeout,
			Interval:      cb.Interval,
			OnStateChange: opts.OnBreakerChange,
		}, logger)
	}
	return p, nil
}

// NewRegistryFromConfig builds a registry holding every configured provider.
func NewRegistryFromConfig(cfg config.LLMConfig, opts FactoryOptions, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry()
	for _, pc := range cfg.Providers {
		p, err := NewProvider(pc, cfg.CircuitBreaker, opts, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
