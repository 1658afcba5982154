package domain

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of an orchestration run.
type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunAborted    RunStatus = "aborted"
)

// Finished reports whether the status is terminal.
func (s RunStatus) Finished() bool {
	return s == RunCompleted || s == RunAborted
}

// RunMode selects how the next agent is chosen.
type RunMode string

const (
	// ModeAdaptive lets the selection and termination strategies drive the run.
	ModeAdaptive RunMode = "adaptive"
	// ModeFixedSequence walks a predetermined list of agents.
	ModeFixedSequence RunMode = "fixed_sequence"
)

// RunRequest is the input of a new orchestration run.
type RunRequest struct {
	Query     string            `json:"query"`
	SessionID string            `json:"session_id,omitempty"`
	Profile   string            `json:"profile,omitempty"`
	Template  string            `json:"template,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

// RunSummary is the externally visible state of a run.
type RunSummary struct {
	RunID             string             `json:"run_id"`
	SessionID         string             `json:"session_id"`
	Mode              RunMode            `json:"mode"`
	Profile           string             `json:"profile,omitempty"`
	Template          string             `json:"template,omitempty"`
	Context           map[string]string  `json:"context,omitempty"`
	Status            RunStatus          `json:"status"`
	Sequence          []AgentID          `json:"sequence,omitempty"`
	Completed         int                `json:"completed"`
	Total             int                `json:"total"`
	Results           map[AgentID]string `json:"results"`
	IsComplete        bool               `json:"is_complete"`
	FinalAnswer       string             `json:"final_answer,omitempty"`
	TerminationReason string             `json:"termination_reason,omitempty"`
	Error             string             `json:"error,omitempty"`
	ErrorCode         ErrorCode          `json:"error_code,omitempty"`
	History           []Message          `json:"history"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// RunStore persists run snapshots so finished runs remain queryable.
type RunStore interface {
	SaveRun(ctx context.Context, run RunSummary) error
	GetRun(ctx context.Context, id string) (*RunSummary, error)
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	DeleteRun(ctx context.Context, id string) error
}
