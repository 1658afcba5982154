package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Combine with NewSubSystemError for subsystem-specific codes.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrLimitReached  = fmt.Errorf("limit reached")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Orchestration errors.
var (
	ErrUnknownAgent     = fmt.Errorf("unknown agent")
	ErrExecutionTimeout = fmt.Errorf("agent execution timed out")
	ErrExecutionError   = fmt.Errorf("agent execution failed")
	ErrPersistence      = fmt.Errorf("persistence failed")
	ErrRunNotFound      = fmt.Errorf("run not found")
	ErrRunFinished      = fmt.Errorf("run already finished")
	ErrRunNotStarted    = fmt.Errorf("run not started")
	ErrEmptyRoster      = fmt.Errorf("agent roster is empty")
	ErrUnknownProfile   = fmt.Errorf("unknown selection profile")
	ErrUnknownTemplate  = fmt.Errorf("unknown workflow template")
	ErrMaxSteps         = fmt.Errorf("run reached max steps")
)

// Infrastructure errors.
var (
	ErrProviderNotFound = fmt.Errorf("llm provider not found")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrDecryption       = fmt.Errorf("decryption failed")
	ErrEncryption       = fmt.Errorf("encryption operation failed")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrUpstream        = fmt.Errorf("upstream service failure")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Registry.Lookup")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "run", "agent"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUpstream)
}

// ErrorCode is a machine-parseable error category for API responses and
// persisted failure reasons.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeUnknownAgent     ErrorCode = "UNKNOWN_AGENT"
	CodeExecutionTimeout ErrorCode = "EXECUTION_TIMEOUT"
	CodeExecutionError   ErrorCode = "EXECUTION_ERROR"
	CodePersistence      ErrorCode = "PERSISTENCE"
	CodeRunNotFound      ErrorCode = "RUN_NOT_FOUND"
	CodeRunFinished      ErrorCode = "RUN_FINISHED"
	CodeRunNotStarted    ErrorCode = "RUN_NOT_STARTED"
	CodeEmptyRoster      ErrorCode = "EMPTY_ROSTER"
	CodeUnknownProfile   ErrorCode = "UNKNOWN_PROFILE"
	CodeUnknownTemplate  ErrorCode = "UNKNOWN_TEMPLATE"
	CodeMaxSteps         ErrorCode = "MAX_STEPS"
	CodeProviderNotFound ErrorCode = "PROVIDER_NOT_FOUND"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeDecryption       ErrorCode = "DECRYPTION"
	CodeEncryption       ErrorCode = "ENCRYPTION"
	CodeContextOverflow  ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit        ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid      ErrorCode = "AUTH_INVALID"
	CodeUpstream         ErrorCode = "UPSTREAM"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeAgentDuplicate ErrorCode = "AGENT_DUPLICATE"
	CodeEventNotFound  ErrorCode = "EVENT_NOT_FOUND"
	CodeRunTimeout     ErrorCode = "RUN_TIMEOUT"

	// Category error codes. Fallback when no subsystem-specific code matches.
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeDuplicate     ErrorCode = "DUPLICATE"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeLimitReached  ErrorCode = "LIMIT_REACHED"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrDuplicate:     CodeDuplicate,
	ErrTimeout:       CodeTimeout,
	ErrLimitReached:  CodeLimitReached,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,

	ErrUnknownAgent:     CodeUnknownAgent,
	ErrExecutionTimeout: CodeExecutionTimeout,
	ErrExecutionError:   CodeExecutionError,
	ErrPersistence:      CodePersistence,
	ErrRunNotFound:      CodeRunNotFound,
	ErrRunFinished:      CodeRunFinished,
	ErrRunNotStarted:    CodeRunNotStarted,
	ErrEmptyRoster:      CodeEmptyRoster,
	ErrUnknownProfile:   CodeUnknownProfile,
	ErrUnknownTemplate:  CodeUnknownTemplate,
	ErrMaxSteps:         CodeMaxSteps,
	ErrProviderNotFound: CodeProviderNotFound,
	ErrConfigLoad:       CodeConfigLoad,
	ErrDecryption:       CodeDecryption,
	ErrEncryption:       CodeEncryption,
	ErrContextOverflow:  CodeContextOverflow,
	ErrRateLimit:        CodeRateLimit,
	ErrAuthInvalid:      CodeAuthInvalid,
	ErrUpstream:         CodeUpstream,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"agent": CodeUnknownAgent,
		"run":   CodeRunNotFound,
		"event": CodeEventNotFound,
	},
	ErrDuplicate: {
		"agent": CodeAgentDuplicate,
	},
	ErrTimeout: {
		"run":   CodeRunTimeout,
		"agent": CodeExecutionTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	// Orchestration sentinels are checked before categories so that a
	// wrapped ErrExecutionTimeout never reports as a bare TIMEOUT.
	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// codePriority is the errors.Is walk order used by ErrorCodeOf.
var codePriority = []error{
	ErrUnknownAgent, ErrExecutionTimeout, ErrExecutionError, ErrPersistence,
	ErrRunNotFound, ErrRunFinished, ErrRunNotStarted, ErrEmptyRoster,
	ErrUnknownProfile, ErrUnknownTemplate, ErrMaxSteps,
	ErrProviderNotFound, ErrConfigLoad, ErrDecryption, ErrEncryption,
	ErrContextOverflow, ErrRateLimit, ErrAuthInvalid, ErrUpstream,
	ErrNotFound, ErrDuplicate, ErrTimeout, ErrLimitReached, ErrInvalidInput, ErrProviderError,
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
