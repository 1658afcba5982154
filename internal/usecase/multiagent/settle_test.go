package multiagent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSettleReturnsOnSignal(t *testing.T) {
	s := NewSettler()
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Signal("r1", 3)
	}()

	start := time.Now()
	assert.True(t, s.Settle(context.Background(), "r1", 3, 5*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSettleAlreadySignalled(t *testing.T) {
	s := NewSettler()
	s.Signal("r1", 1)
	s.Signal("r1", 1)
	assert.True(t, s.Settle(context.Background(), "r1", 1, 0))
}

func TestSettleBoundedWait(t *testing.T) {
	s := NewSettler()
	assert.False(t, s.Settle(context.Background(), "r1", 1, 20*time.Millisecond))
	assert.False(t, s.Settle(context.Background(), "r1", 2, 0))

	// Another position of the same run does not release the waiter.
	s.Signal("r1", 5)
	assert.False(t, s.Settle(context.Background(), "r1", 4, 20*time.Millisecond))
}

func TestSettleHonoursContext(t *testing.T) {
	s := NewSettler()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.False(t, s.Settle(ctx, "r1", 1, 5*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSettleForget(t *testing.T) {
	s := NewSettler()
	s.Signal("r1", 1)
	s.Signal("r2", 1)
	s.Forget("r1")
	assert.False(t, s.Settle(context.Background(), "r1", 1, 0))
	assert.True(t, s.Settle(context.Background(), "r2", 1, 0))
}
