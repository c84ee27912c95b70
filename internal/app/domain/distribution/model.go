// Package distribution defines the rollout ledger for one policy
// distribution: targets, per-agent acknowledgement state, and the
// distribution-wide outcome.
package distribution

import "time"

// TargetKind discriminates the DistributionTarget sum type.
type TargetKind string

const (
	TargetAll          TargetKind = "all"
	TargetAgents       TargetKind = "agents"
	TargetTags         TargetKind = "tags"
	TargetCapabilities TargetKind = "capabilities"
	TargetCombined     TargetKind = "combined"
	TargetFilter       TargetKind = "filter"
)

// Filter composes several resolution constraints for TargetFilter.
type Filter struct {
	RequiredTags            map[string]struct{}
	ExcludedAgents          map[string]struct{}
	MaxAgents               int
	RequiredConnectionState string // empty means "no constraint"
}

// Target is the sum-typed resolution criterion for one distribute call.
// Exactly the fields relevant to Kind are populated.
type Target struct {
	Kind         TargetKind
	AgentIDs     map[string]struct{}
	Tags         map[string]struct{}
	Capabilities map[string]struct{}
	Combined     []Target
	Filter       *Filter
}

// AllTarget returns a Target selecting every registered agent.
func AllTarget() Target { return Target{Kind: TargetAll} }

// AgentsTarget returns a Target selecting an explicit agent id set.
func AgentsTarget(ids ...string) Target {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return Target{Kind: TargetAgents, AgentIDs: set}
}

// TagsTarget returns a Target selecting agents whose tags are a superset
// of tags.
func TagsTarget(tags ...string) Target {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return Target{Kind: TargetTags, Tags: set}
}

// CapabilitiesTarget returns a Target selecting agents whose capabilities
// are a superset of caps.
func CapabilitiesTarget(caps ...string) Target {
	set := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return Target{Kind: TargetCapabilities, Capabilities: set}
}

// CombinedTarget returns a Target that is the union of its members.
func CombinedTarget(targets ...Target) Target {
	return Target{Kind: TargetCombined, Combined: targets}
}

// FilterTarget returns a Target that applies f over all registered agents.
func FilterTarget(f Filter) Target {
	return Target{Kind: TargetFilter, Filter: &f}
}

// AgentState is the per-agent state machine value for one distribution.
type AgentState string

const (
	AgentPending      AgentState = "pending"
	AgentDispatched   AgentState = "dispatched"
	AgentAcknowledged AgentState = "acknowledged"
	AgentCompleted    AgentState = "completed"
	AgentFailed       AgentState = "failed"
	AgentTimedOut     AgentState = "timedOut"
	AgentRolledBack   AgentState = "rolledBack"
	AgentRolledBackPending AgentState = "rolledBackPending"
)

// IsTerminal reports whether state requires no further transitions absent
// a rollback.
func (s AgentState) IsTerminal() bool {
	switch s {
	case AgentCompleted, AgentFailed, AgentTimedOut, AgentRolledBack, AgentRolledBackPending:
		return true
	default:
		return false
	}
}

// AgentDistributionStatus tracks one agent's progress through a rollout.
type AgentDistributionStatus struct {
	State      AgentState
	RetryCount int
	Error      string
	AckAt      time.Time
	CompleteAt time.Time
}

// Outcome is the terminal disposition of an entire distribution.
type Outcome string

const (
	OutcomeInProgress   Outcome = "inProgress"
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeFailedRollout Outcome = "failedRollout"
	OutcomeRolledBack   Outcome = "rolledBack"
	OutcomeCancelled    Outcome = "cancelled"
)

// Status is the rollout ledger for one distribute() call.
type Status struct {
	ID           string
	PolicyName   string
	Version      int
	Target       Target
	InitiatedAt  time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
	AgentStatus  map[string]AgentDistributionStatus
	Outcome      Outcome
}

// Total returns the number of agents targeted by this distribution.
func (s Status) Total() int { return len(s.AgentStatus) }

// CompletedCount returns the number of agents in the completed state.
func (s Status) CompletedCount() int {
	n := 0
	for _, st := range s.AgentStatus {
		if st.State == AgentCompleted {
			n++
		}
	}
	return n
}

// SuccessRate returns completed*100/total, or 100 when total is 0 (nothing
// to fail).
func (s Status) SuccessRate() float64 {
	total := s.Total()
	if total == 0 {
		return 100
	}
	return float64(s.CompletedCount()) * 100 / float64(total)
}

// IsFullySuccessful reports successRate == 100.
func (s Status) IsFullySuccessful() bool { return s.SuccessRate() == 100 }

// AllTerminal reports whether every tracked agent has reached a terminal
// state.
func (s Status) AllTerminal() bool {
	for _, st := range s.AgentStatus {
		if !st.State.IsTerminal() {
			return false
		}
	}
	return true
}
