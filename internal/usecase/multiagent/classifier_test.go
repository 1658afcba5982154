package multiagent

import (
	"slices"
	"testing"

	"legalmind/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"", IntentGeneral},
		{"hello there", IntentGeneral},
		{"Please parse contract and list the parties", IntentContractAnalysis},
		{"Find case law and precedent on this", IntentLegalResearch},
		{"Is this GDPR compliant?", IntentComplianceCheck},
		{"What is the liability exposure here?", IntentRiskAssessment},
		{"Draft a memo", IntentDocumentGeneration},
		// "regulation" counts for both research and compliance; research is declared first.
		{"regulation", IntentLegalResearch},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := Classify(tt.text); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestClassifyIsCaseInsensitive(t *testing.T) {
	if Classify("CHECK COMPLIANCE with HIPAA") != IntentComplianceCheck {
		t.Error("expected compliance intent for upper-case input")
	}
}

func TestClassifyIsPure(t *testing.T) {
	text := "assess risk and generate a report"
	first := Classify(text)
	for i := 0; i < 10; i++ {
		if got := Classify(text); got != first {
			t.Fatalf("Classify changed result: %q then %q", first, got)
		}
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"nothing relevant", 0.3},
		{"draft", 1.0 / 3.0},
		{"draft memo", 2.0 / 3.0},
		{"draft memo brief", 1.0},
		{"draft memo brief report summary", 1.0},
	}
	for _, tt := range tests {
		_, got := Confidence(tt.text)
		if got != tt.want {
			t.Errorf("Confidence(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestSelectSingle(t *testing.T) {
	sel := SelectSingle("Is this GDPR compliant?")
	if sel.Agent != domain.AgentComplianceChecker {
		t.Errorf("Agent = %q, want %q", sel.Agent, domain.AgentComplianceChecker)
	}
	if sel.Reason != "Query classified as compliance_check" {
		t.Errorf("Reason = %q", sel.Reason)
	}

	if got := SelectSingle("hi").Agent; got != domain.AgentAssistant {
		t.Errorf("general query agent = %q, want assistant", got)
	}
}

func TestPlanSequence(t *testing.T) {
	tests := []struct {
		query string
		want  []domain.AgentID
	}{
		{"Give me a full analysis of this NDA", []domain.AgentID{
			domain.AgentContractParser, domain.AgentComplianceChecker, domain.AgentRiskAssessment, domain.AgentLegalMemo,
		}},
		{"compliance and risk please", []domain.AgentID{
			domain.AgentComplianceChecker, domain.AgentRiskAssessment, domain.AgentLegalMemo,
		}},
		{"review this and write a report", []domain.AgentID{
			domain.AgentContractParser, domain.AgentRiskAssessment, domain.AgentLegalMemo,
		}},
		{"find precedent", []domain.AgentID{domain.AgentLegalResearch}},
	}
	for _, tt := range tests {
		if got := PlanSequence(tt.query); !slices.Equal(got, tt.want) {
			t.Errorf("PlanSequence(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestTemplates(t *testing.T) {
	list := ListTemplates()
	if len(list) != 5 {
		t.Fatalf("templates = %d, want 5", len(list))
	}
	if list[0].ID != "contract_review" || list[0].AgentCount != 4 {
		t.Errorf("first template = %+v", list[0])
	}

	tmpl, err := LookupTemplate("quick_summary")
	if err != nil {
		t.Fatalf("LookupTemplate: %v", err)
	}
	if len(tmpl.Agents) != 1 || tmpl.Agents[0] != domain.AgentContractParser {
		t.Errorf("quick_summary agents = %v", tmpl.Agents)
	}

	if _, err := LookupTemplate("missing"); domain.ErrorCodeOf(err) != domain.CodeUnknownTemplate {
		t.Errorf("expected UNKNOWN_TEMPLATE, got %v", err)
	}
}
