package multiagent

import (
	"fmt"
	"math"
	"strings"

	"legalmind/internal/domain"
)

// Intent is the category a user query is classified into.
type Intent string

const (
	IntentContractAnalysis   Intent = "contract_analysis"
	IntentLegalResearch      Intent = "legal_research"
	IntentComplianceCheck    Intent = "compliance_check"
	IntentRiskAssessment     Intent = "risk_assessment"
	IntentDocumentGeneration Intent = "document_generation"
	IntentGeneral            Intent = "general"
)

type intentKeywords struct {
	intent   Intent
	keywords []string
}

// intentTable is scanned in order; ties go to the earlier entry. The order
// is inherited routing policy, not a reviewed product decision.
var intentTable = []intentKeywords{
	{IntentContractAnalysis, []string{
		"analyze contract", "parse contract", "extract", "what does the contract say",
		"contract terms", "parties", "effective date", "termination", "clauses",
		"obligations", "what are the", "contract type", "key dates", "review contract",
		"contract details", "read contract",
	}},
	{IntentLegalResearch, []string{
		"research", "case law", "precedent", "legal meaning", "what is", "explain",
		"jurisdiction", "law says", "regulation", "statute", "court ruling",
		"legal definition", "is it legal", "legal implications",
	}},
	{IntentComplianceCheck, []string{
		"compliance", "gdpr", "hipaa", "ccpa", "sox", "regulation", "compliant",
		"privacy", "data protection", "audit", "framework", "requirements",
		"is this compliant", "check compliance",
	}},
	{IntentRiskAssessment, []string{
		"risk", "risks", "liability", "exposure", "dangerous", "concern", "problematic",
		"unfavorable", "one-sided", "assess risk", "risk score", "potential issues",
		"red flags", "evaluate",
	}},
	{IntentDocumentGeneration, []string{
		"generate", "create", "write", "memo", "report", "summary", "document",
		"brief", "draft", "prepare", "produce",
	}},
}

// intentAgents maps each intent to the agent that handles it.
var intentAgents = map[Intent]domain.AgentID{
	IntentContractAnalysis:   domain.AgentContractParser,
	IntentLegalResearch:      domain.AgentLegalResearch,
	IntentComplianceCheck:    domain.AgentComplianceChecker,
	IntentRiskAssessment:     domain.AgentRiskAssessment,
	IntentDocumentGeneration: domain.AgentLegalMemo,
	IntentGeneral:            domain.AgentAssistant,
}

// Classify returns the intent with the most keyword hits in text. It is a
// pure function; empty or unmatched text is IntentGeneral.
func Classify(text string) Intent {
	intent, _ := classify(text)
	return intent
}

func classify(text string) (Intent, int) {
	lower := strings.ToLower(text)
	best, bestCount := IntentGeneral, 0
	if lower == "" {
		return best, 0
	}
	for _, entry := range intentTable {
		n := 0
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				n++
			}
		}
		if n > bestCount {
			best, bestCount = entry.intent, n
		}
	}
	return best, bestCount
}

// Confidence classifies text and returns the heuristic score
// min(1, matches/3), or 0.3 when nothing matched.
func Confidence(text string) (Intent, float64) {
	intent, matches := classify(text)
	if matches == 0 {
		return intent, 0.3
	}
	return intent, math.Min(1.0, float64(matches)/3.0)
}

// AgentForIntent returns the agent that handles intent.
func AgentForIntent(intent Intent) domain.AgentID {
	if id, ok := intentAgents[intent]; ok {
		return id
	}
	return domain.AgentAssistant
}

// Selection is the result of single-agent selection.
type Selection struct {
	Agent      domain.AgentID `json:"agent"`
	Intent     Intent         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
}

// SelectSingle picks one agent for query.
func SelectSingle(query string) Selection {
	intent, conf := Confidence(query)
	return Selection{
		Agent:      AgentForIntent(intent),
		Intent:     intent,
		Confidence: conf,
		Reason:     fmt.Sprintf("Query classified as %s", intent),
	}
}

var comprehensiveKeywords = []string{"full analysis", "comprehensive", "complete review", "analyze everything"}

// PlanSequence returns the fixed agent sequence a legal query implies. A
// single-element result means no multi-agent workflow is needed.
func PlanSequence(query string) []domain.AgentID {
	lower := strings.ToLower(query)
	switch {
	case containsAny(lower, comprehensiveKeywords):
		return []domain.AgentID{
			domain.AgentContractParser, domain.AgentComplianceChecker,
			domain.AgentRiskAssessment, domain.AgentLegalMemo,
		}
	case strings.Contains(lower, "compliance") && strings.Contains(lower, "risk"):
		return []domain.AgentID{domain.AgentComplianceChecker, domain.AgentRiskAssessment, domain.AgentLegalMemo}
	case (strings.Contains(lower, "analyze") || strings.Contains(lower, "review")) && strings.Contains(lower, "report"):
		return []domain.AgentID{domain.AgentContractParser, domain.AgentRiskAssessment, domain.AgentLegalMemo}
	}
	return []domain.AgentID{SelectSingle(query).Agent}
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
