package domain

import "context"

// AgentID names a configured agent. Agent identity is a plain string field on
// messages and configs; nothing is inferred from runtime attributes.
type AgentID string

// Equipment-schedule risk roster.
const (
	AgentScheduler     AgentID = "scheduler"
	AgentPoliticalRisk AgentID = "political_risk"
	AgentTariffRisk    AgentID = "tariff_risk"
	AgentLogisticsRisk AgentID = "logistics_risk"
	AgentReporting     AgentID = "reporting"
	AgentAssistant     AgentID = "assistant"
)

// Legal-document roster.
const (
	AgentContractParser    AgentID = "contract_parser"
	AgentLegalResearch     AgentID = "legal_research"
	AgentComplianceChecker AgentID = "compliance_checker"
	AgentRiskAssessment    AgentID = "risk_assessment"
	AgentLegalMemo         AgentID = "legal_memo"
)

// AgentConfig is the static definition of one agent. It is immutable once a
// registry has been built from it.
type AgentConfig struct {
	ID           AgentID  `json:"id"            yaml:"id"`
	DisplayName  string   `json:"display_name"  yaml:"display_name"`
	Instructions string   `json:"instructions"  yaml:"instructions"`
	Tools        []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Temperature  float64  `json:"temperature"   yaml:"temperature"`
	Model        string   `json:"model,omitempty" yaml:"model,omitempty"`
}

// AgentInfo is the public listing shape of an agent.
type AgentInfo struct {
	ID          AgentID  `json:"id"`
	DisplayName string   `json:"display_name"`
	Tools       []string `json:"tools"`
}

// Info returns the public listing view of the config.
func (c AgentConfig) Info() AgentInfo {
	tools := make([]string, len(c.Tools))
	copy(tools, c.Tools)
	return AgentInfo{ID: c.ID, DisplayName: c.DisplayName, Tools: tools}
}

// AgentExecutor runs a single agent turn against the shared history and
// returns the agent's reply. Implementations call out to an LLM service.
type AgentExecutor interface {
	Invoke(ctx context.Context, agent AgentConfig, history []Message) (Message, error)
}

// AgentExecutorFunc adapts a function to AgentExecutor.
type AgentExecutorFunc func(ctx context.Context, agent AgentConfig, history []Message) (Message, error)

// Invoke implements AgentExecutor.
func (f AgentExecutorFunc) Invoke(ctx context.Context, agent AgentConfig, history []Message) (Message, error) {
	return f(ctx, agent, history)
}
