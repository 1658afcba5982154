package executor

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"legalmind/internal/domain"
)

// ErrorCategory indicates whether a failed agent call may succeed on retry.
type ErrorCategory int

const (
	ErrorCategoryUnknown ErrorCategory = iota
	ErrorCategoryRetryable
	ErrorCategoryPermanent
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryRetryable:
		return "retryable"
	case ErrorCategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// apiErrorPattern matches the "API error <status>:" text produced by the
// HTTP providers.
var apiErrorPattern = regexp.MustCompile(`API error (\d+):`)

// ClassifyError sorts a provider error into a retry category. Context
// overflow is permanent here: resending the same history fails the same way.
func ClassifyError(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrorCategoryUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryPermanent
	}

	msg := err.Error()
	switch {
	// An open breaker stays open for longer than any backoff.
	case strings.Contains(msg, "circuit open"):
		return ErrorCategoryPermanent
	case domain.IsRetryableError(err):
		return ErrorCategoryRetryable
	case errors.Is(err, domain.ErrContextOverflow), errors.Is(err, domain.ErrAuthInvalid),
		errors.Is(err, domain.ErrProviderError):
		return ErrorCategoryPermanent
	}

	if m := apiErrorPattern.FindStringSubmatch(msg); len(m) == 2 {
		code, _ := strconv.Atoi(m[1])
		switch {
		case code == 429 || code >= 500 && code < 600:
			return ErrorCategoryRetryable
		default:
			return ErrorCategoryPermanent
		}
	}

	lower := strings.ToLower(msg)
	for _, p := range []string{"rate limit", "too many requests", "connection refused", "connection reset", "no such host"} {
		if strings.Contains(lower, p) {
			return ErrorCategoryRetryable
		}
	}
	return ErrorCategoryUnknown
}

// RetryConfig bounds retries of transient agent call failures.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first; <= 1 disables retries
	BaseDelay   time.Duration // first backoff, doubled per attempt
	MaxDelay    time.Duration
}

// RetryExecutor retries an inner executor on retryable failures with
// exponential backoff. Wrap it around the rate limiter so every attempt
// takes a rate slot.
type RetryExecutor struct {
	inner  domain.AgentExecutor
	cfg    RetryConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryExecutor creates a RetryExecutor.
func NewRetryExecutor(inner domain.AgentExecutor, cfg RetryConfig, logger *slog.Logger) *RetryExecutor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RetryExecutor{inner: inner, cfg: cfg, logger: logger, sleep: retrySleepCtx}
}

// Invoke implements domain.AgentExecutor.
func (r *RetryExecutor) Invoke(ctx context.Context, agent domain.AgentConfig, history []domain.Message) (domain.Message, error) {
	delay := r.cfg.BaseDelay
	for attempt := 1; ; attempt++ {
		msg, err := r.inner.Invoke(ctx, agent, history)
		if err == nil {
			return msg, nil
		}
		if attempt >= r.cfg.MaxAttempts || ClassifyError(err) != ErrorCategoryRetryable {
			return domain.Message{}, err
		}
		r.logger.Warn("agent call failed, retrying",
			"agent", agent.ID, "attempt", attempt, "delay", delay, "error", err)
		if serr := r.sleep(ctx, delay); serr != nil {
			return domain.Message{}, err
		}
		delay = min(delay*2, r.cfg.MaxDelay)
	}
}

func retrySleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ domain.AgentExecutor = (*RetryExecutor)(nil)
