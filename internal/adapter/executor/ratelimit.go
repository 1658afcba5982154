// Package executor provides domain.AgentExecutor implementations that call
// out to LLM providers, plus wrappers that bound how hard they are driven.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"legalmind/internal/domain"
)

// Rate limit defaults.
const (
	DefaultMaxConcurrent     = 2
	DefaultRequestsPerMinute = 20
	DefaultWindow            = time.Minute
)

// RateLimitConfig bounds the calls made through a RateLimitedExecutor.
type RateLimitConfig struct {
	MaxConcurrent     int
	RequestsPerMinute int
	Window            time.Duration // zero = one minute
}

// RateLimitedExecutor wraps an executor with a concurrency bound and a
// sliding-window request ledger. When the window is full callers wait until
// the oldest entry expires; the per-window bound is never exceeded.
type RateLimitedExecutor struct {
	next   domain.AgentExecutor
	sem    *semaphore.Weighted
	limit  int
	window time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	calls []time.Time

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	onWait func(agent domain.AgentID, wait time.Duration)
}

// RateLimitOption customises a RateLimitedExecutor.
type RateLimitOption func(*RateLimitedExecutor)

// WithClock sets the time source and sleeper. Used by tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) RateLimitOption {
	return func(r *RateLimitedExecutor) {
		r.now = now
		r.sleep = sleep
	}
}

// WithWaitHook registers a callback invoked before each rate-limit wait.
func WithWaitHook(fn func(agent domain.AgentID, wait time.Duration)) RateLimitOption {
	return func(r *RateLimitedExecutor) { r.onWait = fn }
}

// NewRateLimitedExecutor wraps next. Non-positive limits use the defaults.
func NewRateLimitedExecutor(next domain.AgentExecutor, cfg RateLimitConfig, logger *slog.Logger, opts ...RateLimitOption) *RateLimitedExecutor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &RateLimitedExecutor{
		next:   next,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		limit:  cfg.RequestsPerMinute,
		window: cfg.Window,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Invoke implements domain.AgentExecutor.
func (r *RateLimitedExecutor) Invoke(ctx context.Context, agent domain.AgentConfig, history []domain.Message) (domain.Message, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return domain.Message{}, domain.NewSubSystemError("agent", "RateLimitedExecutor.Invoke", domain.ErrExecutionTimeout, "waiting for a call slot")
	}
	defer r.sem.Release(1)

	if err := r.reserve(ctx, agent.ID); err != nil {
		return domain.Message{}, err
	}
	return r.next.Invoke(ctx, agent, history)
}

// reserve records a call in the ledger, waiting while the window is full.
func (r *RateLimitedExecutor) reserve(ctx context.Context, agent domain.AgentID) error {
	for {
		r.mu.Lock()
		now := r.now()
		r.trimLocked(now)
		if len(r.calls) < r.limit {
			r.calls = append(r.calls, now)
			r.mu.Unlock()
			return nil
		}
		wait := r.calls[0].Add(r.window).Sub(now)
		r.mu.Unlock()

		r.logger.Info("rate limit wait", "agent", agent, "wait", wait)
		if r.onWait != nil {
			r.onWait(agent, wait)
		}
		if err := r.sleep(ctx, wait); err != nil {
			return domain.NewSubSystemError("agent", "RateLimitedExecutor.reserve", domain.ErrExecutionTimeout, "waiting for rate limit window")
		}
	}
}

// trimLocked drops ledger entries older than the window. Caller holds mu.
func (r *RateLimitedExecutor) trimLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	n := 0
	for _, t := range r.calls {
		if t.After(cutoff) {
			r.calls[n] = t
			n++
		}
	}
	r.calls = r.calls[:n]
}

// InWindow returns the number of calls recorded in the current window.
func (r *RateLimitedExecutor) InWindow() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trimLocked(r.now())
	return len(r.calls)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
