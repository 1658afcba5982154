package domain

import (
	"testing"
	"time"
)

func TestHistoryHelpers(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	history := []Message{
		UserMessage("what are the risks?", now),
		AgentMessage(AgentScheduler, "schedule analysis", now),
		AgentMessage(AgentPoliticalRisk, "political analysis", now),
	}

	last, ok := LastMessage(history)
	if !ok || !last.IsFromAgent(AgentPoliticalRisk) {
		t.Fatalf("LastMessage = %+v, %v", last, ok)
	}

	first, ok := FirstUserMessage(history)
	if !ok || first.Content != "what are the risks?" {
		t.Fatalf("FirstUserMessage = %+v, %v", first, ok)
	}

	if !HasResponded(history, AgentScheduler) {
		t.Error("scheduler should have responded")
	}
	if HasResponded(history, AgentTariffRisk) {
		t.Error("tariff risk should not have responded")
	}
}

func TestLastMessageEmpty(t *testing.T) {
	if _, ok := LastMessage(nil); ok {
		t.Error("expected no last message for empty history")
	}
	if _, ok := FirstUserMessage([]Message{AgentMessage(AgentAssistant, "hi", time.Time{})}); ok {
		t.Error("expected no user message")
	}
}

func TestUserMessageHasNoAuthor(t *testing.T) {
	m := UserMessage("hello", time.Time{})
	if m.Author != "" || m.IsFromAgent("") {
		t.Errorf("user message should not be attributed to an agent: %+v", m)
	}
}

func TestAgentConfigInfoCopiesToolsMessage(t *testing.T) {
	cfg := AgentConfig{ID: AgentLegalMemo, DisplayName: "Legal Memo", Tools: []string{"document_tools"}}
	info := cfg.Info()
	info.Tools[0] = "changed"
	if cfg.Tools[0] != "document_tools" {
		t.Error("Info must not alias the config's tool slice")
	}
}

func TestRunStatusFinished(t *testing.T) {
	for _, s := range []RunStatus{RunCompleted, RunAborted} {
		if !s.Finished() {
			t.Errorf("%s should be finished", s)
		}
	}
	for _, s := range []RunStatus{RunNotStarted, RunRunning} {
		if s.Finished() {
			t.Errorf("%s should not be finished", s)
		}
	}
}
