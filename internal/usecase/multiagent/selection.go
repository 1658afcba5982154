package multiagent

import (
	"slices"
	"strings"
	"time"

	"legalmind/internal/domain"
)

// Decision is the outcome of one selection step.
type Decision struct {
	Agent     domain.AgentID
	Terminate bool
	Reason    string
	// SettleWait bounds how long the engine waits for the previous reply's
	// side effects before invoking Agent. Zero means no wait.
	SettleWait time.Duration
}

func terminate(reason string) Decision {
	return Decision{Terminate: true, Reason: reason}
}

// Selector picks the next agent from the full run history. Implementations
// must only return roster members or a terminate decision.
type Selector interface {
	Select(roster Roster, history []domain.Message) Decision
}

// Route maps keyword matches on a message to a target agent.
type Route struct {
	Name string
	// Any matches when at least one keyword is present; empty Any always matches.
	Any []string
	// All must all be present.
	All []string
	// None must all be absent.
	None   []string
	Target domain.AgentID
}

// Matches reports whether the lowercased text satisfies the route.
func (r Route) Matches(lower string) bool {
	if len(r.Any) > 0 && !containsAny(lower, r.Any) {
		return false
	}
	for _, kw := range r.All {
		if !strings.Contains(lower, kw) {
			return false
		}
	}
	return !containsAny(lower, r.None)
}

// SpecialistRoute maps the original query to the specialists the coordinator
// hands off to, in priority order.
type SpecialistRoute struct {
	Route
	Specialists []domain.AgentID
	Wait        time.Duration
}

// HandoffRule sends the run from one agent to another when the agent's
// reply contains any of the keywords.
type HandoffRule struct {
	From     domain.AgentID
	Keywords []string
	Target   domain.AgentID
}

// SelectionProfile is the immutable configuration of one selection variant.
type SelectionProfile struct {
	Name        string
	Description string
	// Agents is the roster a run of this profile uses.
	Agents []domain.AgentID

	EntryAgent   domain.AgentID
	DefaultAgent domain.AgentID

	// UserRoutes are tried in order against the latest user message.
	UserRoutes   []Route
	UserFallback domain.AgentID
	// ClassifyUser routes user messages through the query classifier instead
	// of UserRoutes.
	ClassifyUser bool

	Coordinator         domain.AgentID
	CoordinatorRoutes   []SpecialistRoute
	CoordinatorFallback domain.AgentID

	Specialists    []domain.AgentID
	Reporting      domain.AgentID
	SpecialistWait time.Duration
	TerminalAgents []domain.AgentID
	Handoffs       []HandoffRule

	// PlanSequences switches multi-agent legal queries to a fixed sequence.
	PlanSequences bool

	Termination TerminationPolicy
}

// ProfileSelector implements Selector from a SelectionProfile.
type ProfileSelector struct {
	profile SelectionProfile
}

// NewProfileSelector creates a selector for profile.
func NewProfileSelector(profile SelectionProfile) *ProfileSelector {
	return &ProfileSelector{profile: profile}
}

// Profile returns the selector's configuration.
func (s *ProfileSelector) Profile() SelectionProfile { return s.profile }

// Select implements Selector.
func (s *ProfileSelector) Select(roster Roster, history []domain.Message) Decision {
	p := s.profile
	if roster.Len() == 0 {
		return terminate("empty roster")
	}

	last, ok := domain.LastMessage(history)
	if !ok {
		if roster.Contains(p.EntryAgent) {
			return Decision{Agent: p.EntryAgent, Reason: "entry agent"}
		}
		return terminate("entry agent not in roster")
	}

	if last.Role == domain.RoleUser {
		return s.selectForUser(roster, last.Content)
	}

	author := last.Author
	if d, ok := s.handoff(roster, history, author, last.Content); ok {
		return d
	}

	if author == p.Coordinator && p.Coordinator != "" {
		return s.selectAfterCoordinator(roster, history)
	}

	if slices.Contains(p.Specialists, author) {
		if roster.Contains(p.Reporting) {
			return Decision{Agent: p.Reporting, Reason: "specialist hands off to reporting", SettleWait: p.SpecialistWait}
		}
		return terminate("reporting agent not in roster")
	}

	if slices.Contains(p.TerminalAgents, author) {
		return terminate(string(author) + " finished")
	}

	return s.fallback(roster, "no rule matched")
}

func (s *ProfileSelector) selectForUser(roster Roster, content string) Decision {
	p := s.profile
	lower := strings.ToLower(content)

	if p.ClassifyUser {
		sel := SelectSingle(content)
		if roster.Contains(sel.Agent) {
			return Decision{Agent: sel.Agent, Reason: sel.Reason}
		}
		return s.fallback(roster, "classified agent not in roster")
	}

	for _, route := range p.UserRoutes {
		if !route.Matches(lower) {
			continue
		}
		if roster.Contains(route.Target) {
			return Decision{Agent: route.Target, Reason: "user route " + route.Name}
		}
		return s.fallback(roster, "user route target not in roster")
	}

	if roster.Contains(p.UserFallback) {
		return Decision{Agent: p.UserFallback, Reason: "no user route matched"}
	}
	if roster.Contains(p.DefaultAgent) {
		return Decision{Agent: p.DefaultAgent, Reason: "no user route matched"}
	}
	first, _ := roster.First()
	return Decision{Agent: first, Reason: "no user route matched"}
}

// selectAfterCoordinator inspects the original query, not the latest
// message, since intermediate agents do not restate the request.
func (s *ProfileSelector) selectAfterCoordinator(roster Roster, history []domain.Message) Decision {
	p := s.profile
	var original string
	if m, ok := domain.FirstUserMessage(history); ok {
		original = strings.ToLower(m.Content)
	}

	for _, route := range p.CoordinatorRoutes {
		if !route.Matches(original) {
			continue
		}
		for _, id := range route.Specialists {
			if roster.Contains(id) && !domain.HasResponded(history, id) {
				return Decision{Agent: id, Reason: "coordinator route " + route.Name, SettleWait: route.Wait}
			}
		}
		if roster.Contains(p.Reporting) {
			return Decision{Agent: p.Reporting, Reason: "specialists done for " + route.Name, SettleWait: route.Wait}
		}
		return terminate("reporting agent not in roster")
	}

	if roster.Contains(p.CoordinatorFallback) {
		return Decision{Agent: p.CoordinatorFallback, Reason: "coordinator fallback"}
	}
	return terminate("coordinator fallback not in roster")
}

func (s *ProfileSelector) handoff(roster Roster, history []domain.Message, from domain.AgentID, content string) (Decision, bool) {
	if len(s.profile.Handoffs) == 0 {
		return Decision{}, false
	}
	lower := strings.ToLower(content)
	for _, h := range s.profile.Handoffs {
		if h.From != from || !containsAny(lower, h.Keywords) {
			continue
		}
		if roster.Contains(h.Target) && !domain.HasResponded(history, h.Target) {
			return Decision{Agent: h.Target, Reason: "handoff from " + string(from)}, true
		}
	}
	return Decision{}, false
}

func (s *ProfileSelector) fallback(roster Roster, reason string) Decision {
	if roster.Contains(s.profile.DefaultAgent) {
		return Decision{Agent: s.profile.DefaultAgent, Reason: reason}
	}
	return terminate(reason)
}
