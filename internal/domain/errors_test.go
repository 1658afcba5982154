package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Registry.Lookup", ErrUnknownAgent, "agent 'foo'")
	want := "Registry.Lookup: agent 'foo': unknown agent"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Run.Advance", ErrRunFinished, "")
	want := "Run.Advance: run already finished"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Executor.Invoke", ErrExecutionTimeout, "reporting")
	if !errors.Is(err, ErrExecutionTimeout) {
		t.Error("errors.Is should match ErrExecutionTimeout")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewDomainError("LLM.Chat", ErrProviderNotFound, "groq"))
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "LLM.Chat" {
		t.Errorf("Op = %q, want %q", de.Op, "LLM.Chat")
	}
}

func TestWrapOpNil(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))
	err := WrapOp("Store.Save", ErrPersistence)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, "Store.Save: persistence failed", err.Error())
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeUnknownAgent, ErrorCodeOf(ErrUnknownAgent))
	assert.Equal(t, CodeExecutionTimeout, ErrorCodeOf(ErrExecutionTimeout))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestErrorCodeOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("step 3: %w", fmt.Errorf("invoke: %w", ErrExecutionError))
	assert.Equal(t, CodeExecutionError, ErrorCodeOf(err))
}

func TestErrorCodeOf_SubSystem(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"run not found", NewSubSystemError("run", "Engine.Status", ErrNotFound, "r1"), CodeRunNotFound},
		{"agent duplicate", NewSubSystemError("agent", "NewRegistry", ErrDuplicate, "x"), CodeAgentDuplicate},
		{"run timeout", NewSubSystemError("run", "Engine.Run", ErrTimeout, ""), CodeRunTimeout},
		{"unmapped subsystem falls back", NewSubSystemError("other", "Op", ErrTimeout, ""), CodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestErrorCodeOf_Unknown(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(errors.New("something else")))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(fmt.Errorf("x: %w", ErrRateLimit)))
	assert.True(t, IsRetryableError(ErrUpstream))
	assert.False(t, IsRetryableError(ErrAuthInvalid))
}
