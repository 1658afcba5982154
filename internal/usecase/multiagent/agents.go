package multiagent

import "legalmind/internal/domain"

// DefaultAgents returns the built-in agent roster: the legal-document agents
// followed by the equipment-schedule risk agents.
func DefaultAgents() []domain.AgentConfig {
	return []domain.AgentConfig{
		{
			ID:           domain.AgentContractParser,
			DisplayName:  "Contract Parser",
			Instructions: "Extract contract type, parties, key dates, terms and obligations from the contract under review.",
			Tools:        []string{"contract_tools", "clause_tools"},
			Temperature:  0.3,
		},
		{
			ID:           domain.AgentLegalResearch,
			DisplayName:  "Legal Research",
			Instructions: "Research legal questions, statutes and precedents relevant to the user's request and cite sources.",
			Tools:        []string{"search_grounding"},
			Temperature:  0.5,
		},
		{
			ID:           domain.AgentComplianceChecker,
			DisplayName:  "Compliance Checker",
			Instructions: "Check the contract against the applicable regulatory frameworks and list every gap found.",
			Tools:        []string{"compliance_tools"},
			Temperature:  0.3,
		},
		{
			ID:           domain.AgentRiskAssessment,
			DisplayName:  "Risk Assessment",
			Instructions: "Score the contract's legal and commercial risks and call out one-sided or unfavorable clauses.",
			Tools:        []string{"risk_tools"},
			Temperature:  0.4,
		},
		{
			ID:           domain.AgentLegalMemo,
			DisplayName:  "Legal Memo",
			Instructions: "Write a legal memo with an Executive Summary and Recommendations from the preceding analysis.",
			Tools:        []string{"document_tools"},
			Temperature:  0.5,
		},
		{
			ID:           domain.AgentAssistant,
			DisplayName:  "Assistant",
			Instructions: "Answer general questions and explain what the other agents can do.",
			Tools:        []string{"logging_tools"},
			Temperature:  0.7,
		},
		{
			ID:           domain.AgentScheduler,
			DisplayName:  "Scheduler",
			Instructions: "Analyze the equipment schedule, compute delivery variances and flag at-risk equipment.",
			Tools:        []string{"schedule_tools", "logging_tools"},
			Temperature:  0.3,
		},
		{
			ID:           domain.AgentPoliticalRisk,
			DisplayName:  "Political Risk",
			Instructions: "Assess political risks affecting the flagged equipment's countries of origin.",
			Tools:        []string{"risk_tools", "search_grounding"},
			Temperature:  0.4,
		},
		{
			ID:           domain.AgentTariffRisk,
			DisplayName:  "Tariff Risk",
			Instructions: "Assess tariff, trade and customs risks for the flagged equipment.",
			Tools:        []string{"risk_tools", "search_grounding"},
			Temperature:  0.4,
		},
		{
			ID:           domain.AgentLogisticsRisk,
			DisplayName:  "Logistics Risk",
			Instructions: "Assess shipping, port and transport risks for the flagged equipment.",
			Tools:        []string{"risk_tools", "search_grounding"},
			Temperature:  0.4,
		},
		{
			ID:           domain.AgentReporting,
			DisplayName:  "Reporting",
			Instructions: "Combine the schedule and risk findings into a report with an Executive Summary and Recommendations.",
			Tools:        []string{"report_tools", "logging_tools"},
			Temperature:  0.3,
		},
	}
}

// AgentOverride replaces selected fields of a built-in agent. Zero values
// leave the built-in field untouched.
type AgentOverride struct {
	DisplayName  string
	Instructions string
	Model        string
	Temperature  *float64
}

// ApplyOverrides returns a copy of configs with overrides applied. Overrides
// for agents that are not configured are ignored.
func ApplyOverrides(configs []domain.AgentConfig, overrides map[domain.AgentID]AgentOverride) []domain.AgentConfig {
	out := make([]domain.AgentConfig, len(configs))
	for i, cfg := range configs {
		cfg = cloneConfig(cfg)
		if o, ok := overrides[cfg.ID]; ok {
			if o.DisplayName != "" {
				cfg.DisplayName = o.DisplayName
			}
			if o.Instructions != "" {
				cfg.Instructions = o.Instructions
			}
			if o.Model != "" {
				cfg.Model = o.Model
			}
			if o.Temperature != nil {
				cfg.Temperature = *o.Temperature
			}
		}
		out[i] = cfg
	}
	return out
}
