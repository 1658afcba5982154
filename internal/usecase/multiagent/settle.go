package multiagent

import (
	"context"
	"sync"
	"time"
)

type settleKey struct {
	runID    string
	position int
}

// Settler lets the engine wait for a reply's side effects to land before the
// next agent reads them. A writer signals (run, position) once the reply is
// persisted; a waiter returns on that signal or after a bounded wait.
type Settler struct {
	mu      sync.Mutex
	signals map[settleKey]chan struct{}
}

// NewSettler creates an empty Settler.
func NewSettler() *Settler {
	return &Settler{signals: make(map[settleKey]chan struct{})}
}

func (s *Settler) channel(k settleKey) chan struct{} {
	ch, ok := s.signals[k]
	if !ok {
		ch = make(chan struct{})
		s.signals[k] = ch
	}
	return ch
}

// Signal marks the message at position in run as settled. Repeated signals
// are no-ops.
func (s *Settler) Signal(runID string, position int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.channel(settleKey{runID, position})
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Settle blocks until the message at position is signalled, maxWait elapses,
// or ctx is done. It reports whether the signal was observed. A non-positive
// maxWait returns immediately.
func (s *Settler) Settle(ctx context.Context, runID string, position int, maxWait time.Duration) bool {
	s.mu.Lock()
	ch := s.channel(settleKey{runID, position})
	s.mu.Unlock()

	select {
	case <-ch:
		return true
	default:
	}
	if maxWait <= 0 {
		return false
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Forget drops every signal recorded for runID.
func (s *Settler) Forget(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.signals {
		if k.runID == runID {
			delete(s.signals, k)
		}
	}
}
