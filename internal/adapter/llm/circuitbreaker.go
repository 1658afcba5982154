package llm

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"legalmind/internal/domain"
)

// BreakerHook observes breaker transitions of one provider. States are
// "closed", "half-open" or "open".
type BreakerHook func(provider, from, to string)

// CircuitBreakerConfig configures a provider breaker. Zero fields take the
// defaults below.
type CircuitBreakerConfig struct {
	MaxFailures   uint32        // consecutive provider failures before opening
	Timeout       time.Duration // open period before a half-open probe
	Interval      time.Duration // closed-state window for clearing counts
	OnStateChange BreakerHook
}

const (
	defaultBreakerFailures uint32 = 5
	defaultBreakerTimeout         = 30 * time.Second
	defaultBreakerInterval        = 60 * time.Second
)

// CircuitBreakerProvider fails agent calls fast while its provider is
// unhealthy. Every agent sharing the provider sees the same breaker.
type CircuitBreakerProvider struct {
	inner   domain.LLMProvider
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
}

// NewCircuitBreakerProvider wraps inner with a breaker.
func NewCircuitBreakerProvider(inner domain.LLMProvider, cfg CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerProvider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	trip := cmp.Or(cfg.MaxFailures, defaultBreakerFailures)
	provider := inner.Name()

	settings := gobreaker.Settings{
		Name:        "llm:" + provider,
		MaxRequests: 1,
		Interval:    cmp.Or(cfg.Interval, defaultBreakerInterval),
		Timeout:     cmp.Or(cfg.Timeout, defaultBreakerTimeout),
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= trip
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn("llm provider breaker changed state",
				"provider", provider, "from", from.String(), "to", to.String())
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(provider, from.String(), to.String())
			}
		},
		IsSuccessful: func(err error) bool { return !providerFault(err) },
	}
	return &CircuitBreakerProvider{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[*domain.ChatResponse](settings),
	}
}

// providerFault reports whether err says the provider itself is unhealthy.
// Cancelled callers and requests rejected for their size do not count.
func providerFault(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, domain.ErrContextOverflow):
		return false
	}
	return true
}

// Chat implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.NewSubSystemError("llm", "CircuitBreakerProvider.Chat", domain.ErrUpstream,
			fmt.Sprintf("provider %q circuit open", p.inner.Name()))
	}
	return resp, err
}

// Name implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

// State returns the breaker state name.
func (p *CircuitBreakerProvider) State() string { return p.breaker.State().String() }

var _ domain.LLMProvider = (*CircuitBreakerProvider)(nil)
