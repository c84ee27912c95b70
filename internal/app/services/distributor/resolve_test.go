package distributor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cleanfleet/control-plane/internal/app/domain/agent"
	"github.com/cleanfleet/control-plane/internal/app/domain/distribution"
)

type fakeReg struct {
	rows []agent.Registered
}

func (f *fakeReg) AllAgents() []agent.Registered { return f.rows }

func (f *fakeReg) AgentByID(id string) (agent.Registered, bool) {
	for _, r := range f.rows {
		if r.Identity.ID == id {
			return r, true
		}
	}
	return agent.Registered{}, false
}

func (f *fakeReg) AgentsWithTags(tags map[string]struct{}) []agent.Registered {
	var out []agent.Registered
	for _, r := range f.rows {
		if agent.HasAll(r.Identity.Tags, tags) {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeReg) AgentsWithCapability(cap string) []agent.Registered {
	var out []agent.Registered
	for _, r := range f.rows {
		if _, ok := r.Capabilities[cap]; ok {
			out = append(out, r)
		}
	}
	return out
}

func reg3() *fakeReg {
	return &fakeReg{rows: []agent.Registered{
		{Identity: agent.Identity{ID: "a1", Tags: agent.TagSet("eng")}, Capabilities: agent.TagSet("cleanup", "audit-logging"), State: agent.StateActive},
		{Identity: agent.Identity{ID: "a2", Tags: agent.TagSet("sales")}, Capabilities: agent.TagSet("cleanup"), State: agent.StateActive},
		{Identity: agent.Identity{ID: "a3", Tags: agent.TagSet("eng")}, Capabilities: agent.TagSet("cleanup"), State: agent.StateOffline},
	}}
}

func TestResolveAllReturnsEveryAgent(t *testing.T) {
	ids := ResolveTargets(distribution.AllTarget(), reg3())
	assert.ElementsMatch(t, []string{"a1", "a2", "a3"}, ids)
}

func TestResolveAgentsDropsUnknownIDs(t *testing.T) {
	ids := ResolveTargets(distribution.AgentsTarget("a1", "ghost"), reg3())
	assert.Equal(t, []string{"a1"}, ids)
}

func TestResolveTagsRequiresSuperset(t *testing.T) {
	ids := ResolveTargets(distribution.TagsTarget("eng"), reg3())
	assert.ElementsMatch(t, []string{"a1", "a3"}, ids)
}

func TestResolveCapabilitiesRequiresAllListed(t *testing.T) {
	ids := ResolveTargets(distribution.CapabilitiesTarget("cleanup", "audit-logging"), reg3())
	assert.Equal(t, []string{"a1"}, ids)
}

func TestResolveCombinedIsUnionDeduped(t *testing.T) {
	ids := ResolveTargets(distribution.CombinedTarget(
		distribution.TagsTarget("eng"),
		distribution.AgentsTarget("a1", "a2"),
	), reg3())
	assert.ElementsMatch(t, []string{"a1", "a3", "a2"}, ids)
}

func TestResolveFilterAppliesConstraintsAndMaxAgents(t *testing.T) {
	f := distribution.Filter{RequiredConnectionState: "active", MaxAgents: 1}
	ids := ResolveTargets(distribution.FilterTarget(f), reg3())
	assert.Len(t, ids, 1)
}

func TestResolveFilterExcludesListedAgents(t *testing.T) {
	f := distribution.Filter{ExcludedAgents: map[string]struct{}{"a1": {}}}
	ids := ResolveTargets(distribution.FilterTarget(f), reg3())
	assert.ElementsMatch(t, []string{"a2", "a3"}, ids)
}
