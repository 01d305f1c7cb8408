package kernel

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Govcraft/acton-ai/types"
)

func TestCapabilityRegistry_RegisterAndFind(t *testing.T) {
	r := NewCapabilityRegistry()
	r.Register("agent-b", []string{"search", "summarize"})
	r.Register("agent-a", []string{"search"})

	id, ok := r.FindCapableAgent("search")
	require.True(t, ok)
	assert.Equal(t, types.AgentID("agent-a"), id, "selection is the smallest ID")

	all := r.FindAllCapableAgents("search")
	assert.Equal(t, []types.AgentID{"agent-a", "agent-b"}, all)

	assert.True(t, r.HasCapability("agent-b", "summarize"))
	assert.False(t, r.HasCapability("agent-a", "summarize"))
	assert.Equal(t, 2, r.AgentCount())
	assert.Equal(t, 2, r.CapabilityCount())
}

func TestCapabilityRegistry_RegisterReplaces(t *testing.T) {
	r := NewCapabilityRegistry()
	r.Register("agent-a", []string{"search", "summarize"})
	r.Register("agent-a", []string{"translate"})

	assert.False(t, r.HasCapability("agent-a", "search"))
	assert.True(t, r.HasCapability("agent-a", "translate"))
	assert.Equal(t, []string{"translate"}, r.AgentCapabilities("agent-a"))

	_, ok := r.FindCapableAgent("search")
	assert.False(t, ok, "replaced capability no longer resolves")
	assert.Equal(t, 1, r.CapabilityCount())
}

func TestCapabilityRegistry_UnregisterPrunesEmptyCapabilities(t *testing.T) {
	r := NewCapabilityRegistry()
	r.Register("agent-a", []string{"search"})
	r.Register("agent-b", []string{"search", "translate"})

	r.Unregister("agent-b")
	assert.Equal(t, 1, r.AgentCount())
	assert.Equal(t, 1, r.CapabilityCount(), "translate entry pruned")
	_, ok := r.FindCapableAgent("translate")
	assert.False(t, ok)

	id, ok := r.FindCapableAgent("search")
	require.True(t, ok)
	assert.Equal(t, types.AgentID("agent-a"), id)

	// Unknown agents are a no-op.
	r.Unregister("agent-c")
	assert.Equal(t, 1, r.AgentCount())
}

func TestCapabilityRegistry_EmptyLookups(t *testing.T) {
	r := NewCapabilityRegistry()
	_, ok := r.FindCapableAgent("anything")
	assert.False(t, ok)
	assert.Nil(t, r.FindAllCapableAgents("anything"))
	assert.Nil(t, r.AgentCapabilities("agent-a"))
	assert.Zero(t, r.AgentCount())
	assert.Zero(t, r.CapabilityCount())
}

// Property: both index directions agree after any sequence of register and
// unregister operations.
func TestCapabilityRegistry_Consistency(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewCapabilityRegistry()
		agents := make(map[types.AgentID][]string)

		ids := rapid.SliceOfN(rapid.IntRange(0, 9), 1, 40).Draw(t, "ops")
		for _, n := range ids {
			id := types.AgentID(fmt.Sprintf("agent-%d", n%5))
			if n%3 == 0 {
				r.Unregister(id)
				delete(agents, id)
				continue
			}
			caps := rapid.SliceOfN(
				rapid.SampledFrom([]string{"search", "translate", "summarize", "plan"}),
				0, 3).Draw(t, "caps")
			r.Register(id, caps)
			if len(caps) == 0 {
				delete(agents, id)
			} else {
				agents[id] = caps
			}
		}

		require.Equal(t, len(agents), r.AgentCount())
		for id, caps := range agents {
			for _, cap := range caps {
				require.True(t, r.HasCapability(id, cap))
				require.Contains(t, r.FindAllCapableAgents(cap), id)
			}
		}
		for _, cap := range []string{"search", "translate", "summarize", "plan"} {
			for _, id := range r.FindAllCapableAgents(cap) {
				require.True(t, r.HasCapability(id, cap))
			}
		}
	})
}
