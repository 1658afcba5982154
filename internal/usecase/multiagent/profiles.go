package multiagent

import (
	"slices"
	"sort"
	"time"

	"legalmind/internal/domain"
)

// Built-in profile names.
const (
	ProfileAutomated = "automated"
	ProfileChatbot   = "chatbot"
	ProfileParallel  = "parallel"
	ProfileLegal     = "legal"
)

var riskSpecialists = []domain.AgentID{
	domain.AgentPoliticalRisk, domain.AgentTariffRisk, domain.AgentLogisticsRisk,
}

var riskRoster = []domain.AgentID{
	domain.AgentScheduler, domain.AgentPoliticalRisk, domain.AgentTariffRisk,
	domain.AgentLogisticsRisk, domain.AgentReporting, domain.AgentAssistant,
}

var legalRoster = []domain.AgentID{
	domain.AgentContractParser, domain.AgentLegalResearch, domain.AgentComplianceChecker,
	domain.AgentRiskAssessment, domain.AgentLegalMemo, domain.AgentAssistant,
}

// riskUserRoutes are checked in this order. A message naming several risk
// areas takes the first matching route; the order is product policy.
func riskUserRoutes() []Route {
	return []Route{
		{
			Name:   "schedule",
			Any:    []string{"schedule risk", "delay risk", "variance risk"},
			None:   []string{"political", "tariff", "logistics", "all risks", "comprehensive"},
			Target: domain.AgentScheduler,
		},
		{
			Name:   "political",
			Any:    []string{"political risk", "political risks"},
			Target: domain.AgentScheduler,
		},
		{
			Name:   "tariff",
			Any:    []string{"tariff risk", "tariff risks", "trade risk", "custom risk", "customs risk"},
			Target: domain.AgentScheduler,
		},
		{
			Name:   "logistics",
			Any:    []string{"logistics risk", "logistics risks", "shipping risk", "port risk", "transport risk"},
			Target: domain.AgentScheduler,
		},
		{
			Name:   "comprehensive",
			Any:    []string{"all risks", "comprehensive", "full analysis", "complete risk", "risk analysis", "what are the risks"},
			Target: domain.AgentScheduler,
		},
	}
}

// AutomatedProfile is the scheduled two-agent round robin: scheduler, then
// reporting, then stop.
func AutomatedProfile() SelectionProfile {
	policy := NewTerminationPolicy(domain.AgentReporting, nil, nil)
	policy.RequireReportSignals = false
	return SelectionProfile{
		Name:                ProfileAutomated,
		Description:         "Scheduled schedule analysis followed by a risk report",
		Agents:              []domain.AgentID{domain.AgentScheduler, domain.AgentReporting},
		EntryAgent:          domain.AgentScheduler,
		DefaultAgent:        domain.AgentScheduler,
		UserFallback:        domain.AgentScheduler,
		Coordinator:         domain.AgentScheduler,
		CoordinatorFallback: domain.AgentReporting,
		Reporting:           domain.AgentReporting,
		Termination:         policy,
	}
}

// ChatbotProfile is the interactive keyword-routed risk workflow.
func ChatbotProfile() SelectionProfile {
	return SelectionProfile{
		Name:         ProfileChatbot,
		Description:  "Interactive risk chat routed by keywords in the user's request",
		Agents:       riskRoster,
		EntryAgent:   domain.AgentAssistant,
		DefaultAgent: domain.AgentAssistant,
		UserRoutes:   riskUserRoutes(),
		UserFallback: domain.AgentAssistant,
		Coordinator:  domain.AgentScheduler,
		CoordinatorRoutes: []SpecialistRoute{
			{Route: Route{Name: "political", Any: []string{"political risk", "political risks"}},
				Specialists: []domain.AgentID{domain.AgentPoliticalRisk}},
			{Route: Route{Name: "tariff", Any: []string{"tariff risk", "tariff risks", "trade risk"}},
				Specialists: []domain.AgentID{domain.AgentTariffRisk}},
			{Route: Route{Name: "logistics", Any: []string{"logistics risk", "logistics risks", "shipping risk"}},
				Specialists: []domain.AgentID{domain.AgentLogisticsRisk}},
			{Route: Route{Name: "comprehensive", Any: []string{"all risks", "comprehensive", "full analysis", "risk analysis", "what are the risks"}},
				Specialists: riskSpecialists},
		},
		CoordinatorFallback: domain.AgentReporting,
		Specialists:         riskSpecialists,
		Reporting:           domain.AgentReporting,
		SpecialistWait:      5 * time.Second,
		TerminalAgents:      []domain.AgentID{domain.AgentReporting, domain.AgentAssistant},
		Termination: NewTerminationPolicy(domain.AgentReporting, riskSpecialists,
			[]domain.AgentID{domain.AgentAssistant}),
	}
}

// ParallelProfile is the risk workflow variant that accepts report requests
// by conversation id and uses shorter settle waits.
func ParallelProfile() SelectionProfile {
	const wait = 2 * time.Second
	routes := append(riskUserRoutes(),
		Route{
			Name:   "report",
			All:    []string{"generate report", "conversation id"},
			Target: domain.AgentReporting,
		},
		Route{
			Name:   "general risk",
			Any:    []string{"risk", "risks", "schedule", "delay", "variance", "equipment"},
			None:   []string{"hello", "hi", "help", "what can you do"},
			Target: domain.AgentScheduler,
		},
	)
	return SelectionProfile{
		Name:         ProfileParallel,
		Description:  "Risk workflow with report-by-conversation routing and short settle waits",
		Agents:       riskRoster,
		EntryAgent:   domain.AgentAssistant,
		DefaultAgent: domain.AgentAssistant,
		UserRoutes:   routes,
		UserFallback: domain.AgentAssistant,
		Coordinator:  domain.AgentScheduler,
		CoordinatorRoutes: []SpecialistRoute{
			{Route: Route{
				Name: "schedule",
				Any:  []string{"schedule risk", "delay risk", "variance risk"},
				None: []string{"political", "tariff", "logistics", "all risks"},
			}},
			{Route: Route{Name: "political", Any: []string{"political risk", "political risks"}},
				Specialists: []domain.AgentID{domain.AgentPoliticalRisk}, Wait: wait},
			{Route: Route{Name: "tariff", Any: []string{"tariff risk", "tariff risks", "trade risk"}},
				Specialists: []domain.AgentID{domain.AgentTariffRisk}, Wait: wait},
			{Route: Route{Name: "logistics", Any: []string{"logistics risk", "logistics risks", "shipping risk"}},
				Specialists: []domain.AgentID{domain.AgentLogisticsRisk}, Wait: wait},
			{Route: Route{Name: "comprehensive", Any: []string{"all risks", "comprehensive", "what are the risks"}},
				Specialists: riskSpecialists, Wait: wait},
		},
		CoordinatorFallback: domain.AgentAssistant,
		Specialists:         riskSpecialists,
		Reporting:           domain.AgentReporting,
		SpecialistWait:      wait,
		TerminalAgents:      []domain.AgentID{domain.AgentReporting, domain.AgentAssistant},
		Termination: NewTerminationPolicy(domain.AgentReporting, riskSpecialists,
			[]domain.AgentID{domain.AgentAssistant}),
	}
}

// LegalProfile routes legal queries through the classifier and follows
// agent hand-offs found in replies.
func LegalProfile() SelectionProfile {
	return SelectionProfile{
		Name:         ProfileLegal,
		Description:  "Legal document analysis with classifier routing and agent hand-offs",
		Agents:       legalRoster,
		EntryAgent:   domain.AgentAssistant,
		DefaultAgent: domain.AgentAssistant,
		ClassifyUser: true,
		UserFallback: domain.AgentAssistant,
		Handoffs: []HandoffRule{
			{From: domain.AgentContractParser, Keywords: []string{"check compliance", "is it compliant"}, Target: domain.AgentComplianceChecker},
			{From: domain.AgentContractParser, Keywords: []string{"what are the risks", "assess risk"}, Target: domain.AgentRiskAssessment},
			{From: domain.AgentComplianceChecker, Keywords: []string{"generate report", "create memo"}, Target: domain.AgentLegalMemo},
			{From: domain.AgentComplianceChecker, Keywords: []string{"assess risk"}, Target: domain.AgentRiskAssessment},
			{From: domain.AgentRiskAssessment, Keywords: []string{"generate report", "create memo", "document"}, Target: domain.AgentLegalMemo},
			{From: domain.AgentLegalResearch, Keywords: []string{"check contract", "apply to contract"}, Target: domain.AgentContractParser},
		},
		TerminalAgents: legalRoster,
		PlanSequences:  true,
		Termination:    NewTerminationPolicy(domain.AgentLegalMemo, nil, []domain.AgentID{domain.AgentAssistant}),
	}
}

// ProfileOptions tunes the built-in profiles. Zero values keep the
// built-in setting.
type ProfileOptions struct {
	GlobalTimeout   time.Duration
	AgentTimeout    time.Duration
	MaxTurns        int
	ReportMinLength int
	// SpecialistWait and DefaultAgent apply to every profile unless the
	// profile has its own entry in PerProfile.
	SpecialistWait time.Duration
	PerProfile     map[string]ProfileOverride
}

// ProfileOverride adjusts a single profile.
type ProfileOverride struct {
	SpecialistWait time.Duration
	DefaultAgent   domain.AgentID
}

// ProfileSet is the immutable collection of selection profiles.
type ProfileSet struct {
	profiles map[string]SelectionProfile
}

// BuiltinProfiles returns the built-in profiles with opts applied.
func BuiltinProfiles(opts ProfileOptions) *ProfileSet {
	set := &ProfileSet{profiles: make(map[string]SelectionProfile)}
	for _, p := range []SelectionProfile{AutomatedProfile(), ChatbotProfile(), ParallelProfile(), LegalProfile()} {
		set.profiles[p.Name] = applyProfileOptions(p, opts)
	}
	return set
}

func applyProfileOptions(p SelectionProfile, opts ProfileOptions) SelectionProfile {
	t := p.Termination
	if opts.GlobalTimeout > 0 {
		t.GlobalTimeout = opts.GlobalTimeout
	}
	if opts.AgentTimeout > 0 {
		timeouts := make(map[domain.AgentID]time.Duration, len(t.AgentTimeouts))
		for id := range t.AgentTimeouts {
			timeouts[id] = opts.AgentTimeout
		}
		t.AgentTimeouts = timeouts
	}
	if opts.MaxTurns > 0 {
		t.MaxTurns = opts.MaxTurns
	}
	if opts.ReportMinLength > 0 {
		t.ReportMinLength = opts.ReportMinLength
	}
	p.Termination = t

	// Only profiles that already wait between specialists take the global
	// wait; the parallel profile keeps its shorter built-in wait.
	if opts.SpecialistWait > 0 && p.Name == ProfileChatbot {
		p.SpecialistWait = opts.SpecialistWait
	}
	if o, ok := opts.PerProfile[p.Name]; ok {
		if o.SpecialistWait > 0 {
			p.SpecialistWait = o.SpecialistWait
			p.CoordinatorRoutes = withRouteWait(p.CoordinatorRoutes, o.SpecialistWait)
		}
		if o.DefaultAgent != "" && slices.Contains(p.Agents, o.DefaultAgent) {
			p.DefaultAgent = o.DefaultAgent
		}
	}
	return p
}

// withRouteWait returns a copy of routes with every non-zero hand-off wait
// replaced by wait.
func withRouteWait(routes []SpecialistRoute, wait time.Duration) []SpecialistRoute {
	out := slices.Clone(routes)
	for i := range out {
		if out[i].Wait > 0 {
			out[i].Wait = wait
		}
	}
	return out
}

// Get returns the named profile.
func (s *ProfileSet) Get(name string) (SelectionProfile, error) {
	p, ok := s.profiles[name]
	if !ok {
		return SelectionProfile{}, domain.NewSubSystemError("profile", "ProfileSet.Get", domain.ErrUnknownProfile, name)
	}
	return p, nil
}

// ProfileInfo is the listing shape of a profile.
type ProfileInfo struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	EntryAgent  domain.AgentID   `json:"entry_agent"`
	Agents      []domain.AgentID `json:"agents"`
}

// List returns the profiles sorted by name.
func (s *ProfileSet) List() []ProfileInfo {
	out := make([]ProfileInfo, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, ProfileInfo{
			Name:        p.Name,
			Description: p.Description,
			EntryAgent:  p.EntryAgent,
			Agents:      append([]domain.AgentID(nil), p.Agents...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
