package multiagent

import (
	"fmt"
	"log/slog"

	"legalmind/internal/domain"
)

// Registry is the immutable lookup table of agent configurations. It is built
// once at startup and shared by every run.
type Registry struct {
	agents    map[domain.AgentID]domain.AgentConfig
	order     []domain.AgentID
	defaultID domain.AgentID
}

// NewRegistry builds a registry from configs in declaration order. Duplicate
// IDs are rejected, and defaultID must name one of the configs.
func NewRegistry(configs []domain.AgentConfig, defaultID domain.AgentID, logger *slog.Logger) (*Registry, error) {
	if len(configs) == 0 {
		return nil, domain.NewSubSystemError("agent", "NewRegistry", domain.ErrEmptyRoster, "")
	}
	r := &Registry{
		agents:    make(map[domain.AgentID]domain.AgentConfig, len(configs)),
		order:     make([]domain.AgentID, 0, len(configs)),
		defaultID: defaultID,
	}
	for _, cfg := range configs {
		if cfg.ID == "" {
			return nil, domain.NewSubSystemError("agent", "NewRegistry", domain.ErrInvalidInput, "agent id is empty")
		}
		if _, exists := r.agents[cfg.ID]; exists {
			return nil, domain.NewSubSystemError("agent", "NewRegistry", domain.ErrDuplicate, string(cfg.ID))
		}
		r.agents[cfg.ID] = cloneConfig(cfg)
		r.order = append(r.order, cfg.ID)
	}
	if _, ok := r.agents[defaultID]; !ok {
		return nil, domain.NewSubSystemError("agent", "NewRegistry", domain.ErrUnknownAgent,
			fmt.Sprintf("default agent %q is not configured", defaultID))
	}
	if logger != nil {
		logger.Info("agent registry built", "agents", len(r.order), "default", defaultID)
	}
	return r, nil
}

// Lookup returns the configuration for id, or ErrUnknownAgent. It never
// substitutes the default agent.
func (r *Registry) Lookup(id domain.AgentID) (domain.AgentConfig, error) {
	cfg, ok := r.agents[id]
	if !ok {
		return domain.AgentConfig{}, domain.NewSubSystemError("agent", "Registry.Lookup", domain.ErrUnknownAgent, string(id))
	}
	return cloneConfig(cfg), nil
}

// List returns every configuration in declaration order.
func (r *Registry) List() []domain.AgentConfig {
	out := make([]domain.AgentConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneConfig(r.agents[id]))
	}
	return out
}

// Infos returns the public listing of every agent.
func (r *Registry) Infos() []domain.AgentInfo {
	out := make([]domain.AgentInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id].Info())
	}
	return out
}

// Default returns the designated fallback agent's configuration.
func (r *Registry) Default() domain.AgentConfig {
	return cloneConfig(r.agents[r.defaultID])
}

// Roster returns the run roster for ids, keeping their order. Unknown IDs
// are skipped so a profile can name agents a deployment has not configured.
func (r *Registry) Roster(ids ...domain.AgentID) Roster {
	members := make([]domain.AgentID, 0, len(ids))
	seen := make(map[domain.AgentID]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.agents[id]; ok && !seen[id] {
			members = append(members, id)
			seen[id] = true
		}
	}
	return NewRoster(members...)
}

func cloneConfig(c domain.AgentConfig) domain.AgentConfig {
	c.Tools = append([]string(nil), c.Tools...)
	return c
}

// Roster is the ordered set of agents that may act in a run.
type Roster struct {
	ids []domain.AgentID
	set map[domain.AgentID]bool
}

// NewRoster builds a roster from ids in order.
func NewRoster(ids ...domain.AgentID) Roster {
	r := Roster{ids: append([]domain.AgentID(nil), ids...), set: make(map[domain.AgentID]bool, len(ids))}
	for _, id := range ids {
		r.set[id] = true
	}
	return r
}

// Contains reports whether id is a roster member.
func (r Roster) Contains(id domain.AgentID) bool { return id != "" && r.set[id] }

// Len returns the number of members.
func (r Roster) Len() int { return len(r.ids) }

// IDs returns a copy of the members in order.
func (r Roster) IDs() []domain.AgentID { return append([]domain.AgentID(nil), r.ids...) }

// First returns the first member, or false for an empty roster.
func (r Roster) First() (domain.AgentID, bool) {
	if len(r.ids) == 0 {
		return "", false
	}
	return r.ids[0], true
}
