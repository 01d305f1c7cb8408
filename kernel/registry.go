package kernel

import (
	"sort"

	"github.com/Govcraft/acton-ai/types"
)

// CapabilityRegistry tracks which agents advertise which capabilities so
// the kernel can route by capability. It is a plain data structure owned
// by the kernel actor; no locking of its own.
type CapabilityRegistry struct {
	capabilityToAgents  map[string]map[types.AgentID]struct{}
	agentToCapabilities map[types.AgentID]map[string]struct{}
}

// NewCapabilityRegistry returns an empty registry.
func NewCapabilityRegistry() *CapabilityRegistry {
	return &CapabilityRegistry{
		capabilityToAgents:  make(map[string]map[types.AgentID]struct{}),
		agentToCapabilities: make(map[types.AgentID]map[string]struct{}),
	}
}

// Register replaces an agent's advertised capabilities. An empty set
// removes the agent from the registry.
func (r *CapabilityRegistry) Register(agentID types.AgentID, capabilities []string) {
	r.Unregister(agentID)
	if len(capabilities) == 0 {
		return
	}

	caps := make(map[string]struct{}, len(capabilities))
	for _, cap := range capabilities {
		caps[cap] = struct{}{}
		agents, ok := r.capabilityToAgents[cap]
		if !ok {
			agents = make(map[types.AgentID]struct{})
			r.capabilityToAgents[cap] = agents
		}
		agents[agentID] = struct{}{}
	}
	r.agentToCapabilities[agentID] = caps
}

// Unregister removes all of an agent's capabilities.
func (r *CapabilityRegistry) Unregister(agentID types.AgentID) {
	caps, ok := r.agentToCapabilities[agentID]
	if !ok {
		return
	}
	delete(r.agentToCapabilities, agentID)
	for cap := range caps {
		agents := r.capabilityToAgents[cap]
		delete(agents, agentID)
		if len(agents) == 0 {
			delete(r.capabilityToAgents, cap)
		}
	}
}

// FindCapableAgent returns one agent advertising capability, or false when
// none does. Selection is deterministic: the lexicographically smallest ID.
func (r *CapabilityRegistry) FindCapableAgent(capability string) (types.AgentID, bool) {
	all := r.FindAllCapableAgents(capability)
	if len(all) == 0 {
		return "", false
	}
	return all[0], true
}

// FindAllCapableAgents returns every agent advertising capability, sorted
// by ID.
func (r *CapabilityRegistry) FindAllCapableAgents(capability string) []types.AgentID {
	agents, ok := r.capabilityToAgents[capability]
	if !ok {
		return nil
	}
	all := make([]types.AgentID, 0, len(agents))
	for id := range agents {
		all = append(all, id)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}

// AgentCapabilities returns the capabilities an agent advertises, sorted.
func (r *CapabilityRegistry) AgentCapabilities(agentID types.AgentID) []string {
	caps, ok := r.agentToCapabilities[agentID]
	if !ok {
		return nil
	}
	all := make([]string, 0, len(caps))
	for cap := range caps {
		all = append(all, cap)
	}
	sort.Strings(all)
	return all
}

// HasCapability reports whether the agent advertises capability.
func (r *CapabilityRegistry) HasCapability(agentID types.AgentID, capability string) bool {
	_, ok := r.agentToCapabilities[agentID][capability]
	return ok
}

// AgentCount returns the number of agents with registered capabilities.
func (r *CapabilityRegistry) AgentCount() int { return len(r.agentToCapabilities) }

// CapabilityCount returns the number of distinct capabilities.
func (r *CapabilityRegistry) CapabilityCount() int { return len(r.capabilityToAgents) }
