package multiagent

import "legalmind/internal/domain"

// Template is a named fixed-sequence workflow.
type Template struct {
	ID          string
	Name        string
	Description string
	Agents      []domain.AgentID
}

// TemplateInfo is the listing shape of a template.
type TemplateInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	AgentCount  int    `json:"agent_count"`
}

var templates = []Template{
	{
		ID:          "contract_review",
		Name:        "Contract Review",
		Description: "Comprehensive contract review with compliance and risk analysis",
		Agents: []domain.AgentID{
			domain.AgentContractParser, domain.AgentComplianceChecker,
			domain.AgentRiskAssessment, domain.AgentLegalMemo,
		},
	},
	{
		ID:          "compliance_audit",
		Name:        "Compliance Audit",
		Description: "Check contract compliance against multiple frameworks",
		Agents:      []domain.AgentID{domain.AgentContractParser, domain.AgentComplianceChecker, domain.AgentLegalMemo},
	},
	{
		ID:          "risk_analysis",
		Name:        "Risk Analysis",
		Description: "Comprehensive risk assessment of contract terms",
		Agents:      []domain.AgentID{domain.AgentContractParser, domain.AgentRiskAssessment, domain.AgentLegalMemo},
	},
	{
		ID:          "quick_summary",
		Name:        "Quick Summary",
		Description: "Get a quick overview of contract key terms",
		Agents:      []domain.AgentID{domain.AgentContractParser},
	},
	{
		ID:          "legal_research",
		Name:        "Legal Research",
		Description: "Research legal questions and find precedents",
		Agents:      []domain.AgentID{domain.AgentLegalResearch},
	},
}

// LookupTemplate returns the template with id.
func LookupTemplate(id string) (Template, error) {
	for _, t := range templates {
		if t.ID == id {
			t.Agents = append([]domain.AgentID(nil), t.Agents...)
			return t, nil
		}
	}
	return Template{}, domain.NewSubSystemError("template", "LookupTemplate", domain.ErrUnknownTemplate, id)
}

// ListTemplates returns every template in declaration order.
func ListTemplates() []TemplateInfo {
	out := make([]TemplateInfo, 0, len(templates))
	for _, t := range templates {
		out = append(out, TemplateInfo{ID: t.ID, Name: t.Name, Description: t.Description, AgentCount: len(t.Agents)})
	}
	return out
}
