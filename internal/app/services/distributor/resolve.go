package distributor

import (
	"github.com/cleanfleet/control-plane/internal/app/domain/agent"
	"github.com/cleanfleet/control-plane/internal/app/domain/distribution"
)

// RegistryPort is the subset of the Agent Registry the distributor needs.
type RegistryPort interface {
	AllAgents() []agent.Registered
	AgentByID(id string) (agent.Registered, bool)
	AgentsWithTags(tags map[string]struct{}) []agent.Registered
	AgentsWithCapability(capability string) []agent.Registered
}

// ResolveTargets is the pure traversal of the distribution.Target sum type
// against reg, returning agent ids in the order the resolution rule
// produces them (insertion order preserved for Filter truncation).
func ResolveTargets(t distribution.Target, reg RegistryPort) []string {
	switch t.Kind {
	case distribution.TargetAll:
		return idsOf(reg.AllAgents())

	case distribution.TargetAgents:
		var out []string
		for id := range t.AgentIDs {
			if _, ok := reg.AgentByID(id); ok {
				out = append(out, id)
			}
		}
		return out

	case distribution.TargetTags:
		return idsOf(reg.AgentsWithTags(t.Tags))

	case distribution.TargetCapabilities:
		return resolveCapabilities(t.Capabilities, reg)

	case distribution.TargetCombined:
		seen := make(map[string]struct{})
		var out []string
		for _, sub := range t.Combined {
			for _, id := range ResolveTargets(sub, reg) {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
		return out

	case distribution.TargetFilter:
		return resolveFilter(t.Filter, reg)

	default:
		return nil
	}
}

// resolveCapabilities requires the agent's capability set to be a superset
// of every required capability (intersection of per-capability lookups).
func resolveCapabilities(required map[string]struct{}, reg RegistryPort) []string {
	if len(required) == 0 {
		return nil
	}
	var first string
	for c := range required {
		first = c
		break
	}
	candidates := reg.AgentsWithCapability(first)
	var out []string
	for _, row := range candidates {
		ok := true
		for c := range required {
			if _, has := row.Capabilities[c]; !has {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, row.Identity.ID)
		}
	}
	return out
}

func resolveFilter(f *distribution.Filter, reg RegistryPort) []string {
	if f == nil {
		return nil
	}
	var out []string
	for _, row := range reg.AllAgents() {
		if len(f.RequiredTags) > 0 && !agent.HasAll(row.Identity.Tags, f.RequiredTags) {
			continue
		}
		if _, excluded := f.ExcludedAgents[row.Identity.ID]; excluded {
			continue
		}
		if f.RequiredConnectionState != "" && string(row.State) != f.RequiredConnectionState {
			continue
		}
		out = append(out, row.Identity.ID)
		if f.MaxAgents > 0 && len(out) >= f.MaxAgents {
			break
		}
	}
	return out
}

func idsOf(rows []agent.Registered) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Identity.ID
	}
	return out
}
