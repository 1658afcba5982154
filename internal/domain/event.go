package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventRunStarted     EventType = "run.started"
	EventRunStep        EventType = "run.step"
	EventRunCompleted   EventType = "run.completed"
	EventRunAborted     EventType = "run.aborted"
	EventAgentSelected  EventType = "agent.selected"
	EventAgentReplied   EventType = "agent.replied"
	EventAgentFallback  EventType = "agent.fallback"
	EventRateLimitWait  EventType = "executor.rate_limit_wait"
	EventBreakerChanged EventType = "llm.breaker_changed"
	EventSchedulerFired EventType = "scheduler.fired"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	RunID     string          `json:"run_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// Agent event log actions.
const (
	ActionStartWorkflow    = "Start Workflow"
	ActionAgentResponse    = "Agent Response"
	ActionCompleteWorkflow = "Complete Workflow"
	ActionWorkflowError    = "Workflow Error"
)

// AgentEvent is one persisted entry of the agent activity log. Field names
// match the stored column names.
type AgentEvent struct {
	ID        int64     `json:"id,omitempty"`
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id,omitempty"`
	AgentName string    `json:"agent_name"`
	Action    string    `json:"action"`
	Summary   string    `json:"summary"`
	RawOutput string    `json:"raw_output,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventLog is the append-only store of agent activity. Appends are
// fire-and-forget from the orchestrator's point of view.
type EventLog interface {
	AppendEvent(ctx context.Context, ev AgentEvent) error
	ListEvents(ctx context.Context, runID string) ([]AgentEvent, error)
	ListSessionEvents(ctx context.Context, sessionID string) ([]AgentEvent, error)
	// Sessions lists session ids, most recently active first.
	Sessions(ctx context.Context, limit int) ([]string, error)
}

// RunEventPayload is the payload of run.* and agent.* bus events.
type RunEventPayload struct {
	Agent    AgentID   `json:"agent,omitempty"`
	Position int       `json:"position,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Status   RunStatus `json:"status,omitempty"`
	Profile  string    `json:"profile,omitempty"`
	Error    string    `json:"error,omitempty"`
}
