// Package registry implements the Agent Registry: the authoritative,
// mutex-guarded table of registered agents, keyed by both agent id and
// auth token.
//
// The dual-map shape and RWMutex-guarded access pattern are grounded on
// system/core/registry.go's module registry in the teacher repo.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cleanfleet/control-plane/internal/app/apperrors"
	"github.com/cleanfleet/control-plane/internal/app/domain/agent"
)

// Config governs registry admission limits and token lifetime.
type Config struct {
	TokenValidityDuration time.Duration
	MaxAgents             int
	AllowReregistration   bool
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Registry is the authoritative fleet table.
type Registry struct {
	mu     sync.RWMutex
	cfg    Config
	now    Clock
	byID    map[string]agent.Registered
	byToken map[string]string // token -> id
}

// New constructs a Registry. A nil clock defaults to time.Now.
func New(cfg Config, clock Clock) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		cfg:     cfg,
		now:     clock,
		byID:    make(map[string]agent.Registered),
		byToken: make(map[string]string),
	}
}

func newToken() string { return uuid.NewString() }

// Register admits identity into the fleet with the given capability set.
func (r *Registry) Register(identity agent.Identity, capabilities map[string]struct{}) (agent.Registered, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if existing, ok := r.byID[identity.ID]; ok {
		if !r.cfg.AllowReregistration {
			return agent.Registered{}, apperrors.AgentAlreadyRegistered(identity.ID)
		}
		delete(r.byToken, existing.AuthToken)
		token := newToken()
		row := agent.Registered{
			Identity:      identity,
			AuthToken:     token,
			TokenExpiry:   now.Add(r.cfg.TokenValidityDuration),
			Capabilities:  cloneSet(capabilities),
			State:         agent.StateActive,
			LastHeartbeat: existing.LastHeartbeat,
			RegisteredAt:  existing.RegisteredAt,
			LatestStatus:  existing.LatestStatus,
			Metadata:      existing.Metadata,
		}
		r.byID[identity.ID] = row
		r.byToken[token] = identity.ID
		return row.Clone(), nil
	}

	if r.cfg.MaxAgents > 0 && len(r.byID) >= r.cfg.MaxAgents {
		return agent.Registered{}, apperrors.MaxAgentsReached(r.cfg.MaxAgents)
	}

	token := newToken()
	row := agent.Registered{
		Identity:      identity,
		AuthToken:     token,
		TokenExpiry:   now.Add(r.cfg.TokenValidityDuration),
		Capabilities:  cloneSet(capabilities),
		State:         agent.StatePending,
		RegisteredAt:  now,
		Metadata:      map[string]string{},
	}
	r.byID[identity.ID] = row
	r.byToken[token] = identity.ID
	return row.Clone(), nil
}

// Unregister removes id from the fleet.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.byID[id]
	if !ok {
		return apperrors.AgentNotFound(id)
	}
	delete(r.byToken, row.AuthToken)
	delete(r.byID, id)
	return nil
}

// AgentByID returns the row for id, if present.
func (r *Registry) AgentByID(id string) (agent.Registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.byID[id]
	if !ok {
		return agent.Registered{}, false
	}
	return row.Clone(), true
}

// AgentByToken resolves a row from its current auth token.
func (r *Registry) AgentByToken(token string) (agent.Registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byToken[token]
	if !ok {
		return agent.Registered{}, false
	}
	row := r.byID[id]
	return row.Clone(), true
}

// AllAgents returns a snapshot of every row, ordered by id for determinism.
func (r *Registry) AllAgents() []agent.Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(func(agent.Registered) bool { return true })
}

// AgentsWithState returns rows in the given state.
func (r *Registry) AgentsWithState(state agent.ConnectionState) []agent.Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(func(row agent.Registered) bool { return row.State == state })
}

// AgentsWithTags returns rows whose tag set is a superset of tags.
func (r *Registry) AgentsWithTags(tags map[string]struct{}) []agent.Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(func(row agent.Registered) bool {
		return agent.HasAll(row.Identity.Tags, tags)
	})
}

// AgentsWithCapability returns rows advertising capability.
func (r *Registry) AgentsWithCapability(capability string) []agent.Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(func(row agent.Registered) bool {
		_, ok := row.Capabilities[capability]
		return ok
	})
}

func (r *Registry) snapshotLocked(keep func(agent.Registered) bool) []agent.Registered {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]agent.Registered, 0, len(ids))
	for _, id := range ids {
		row := r.byID[id]
		if keep(row) {
			out = append(out, row.Clone())
		}
	}
	return out
}

// UpdateStatus records a heartbeat snapshot for id.
func (r *Registry) UpdateStatus(id string, status agent.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.byID[id]
	if !ok {
		return apperrors.AgentNotFound(id)
	}
	s := status
	row.LatestStatus = &s
	row.LastHeartbeat = r.now()
	r.byID[id] = row
	return nil
}

// MarkOffline transitions id to the offline state.
func (r *Registry) MarkOffline(id string) error {
	return r.transition(id, agent.StateOffline)
}

// MarkActive transitions id to the active state.
func (r *Registry) MarkActive(id string) error {
	return r.transition(id, agent.StateActive)
}

func (r *Registry) transition(id string, state agent.ConnectionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.byID[id]
	if !ok {
		return apperrors.AgentNotFound(id)
	}
	row.State = state
	r.byID[id] = row
	return nil
}

// ValidateToken returns the agent id for a live, non-expired token.
func (r *Registry) ValidateToken(token string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byToken[token]
	if !ok {
		return "", apperrors.InvalidToken()
	}
	row := r.byID[id]
	if row.IsTokenExpired(r.now()) {
		return "", apperrors.InvalidToken()
	}
	if row.State != agent.StateActive && row.State != agent.StatePending {
		return "", apperrors.InvalidToken()
	}
	return id, nil
}

// RefreshToken issues a new auth token for id, atomically swapping both maps.
func (r *Registry) RefreshToken(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.byID[id]
	if !ok {
		return "", apperrors.AgentNotFound(id)
	}
	delete(r.byToken, row.AuthToken)
	token := newToken()
	row.AuthToken = token
	row.TokenExpiry = r.now().Add(r.cfg.TokenValidityDuration)
	r.byID[id] = row
	r.byToken[token] = id
	return token, nil
}

// Statistics computes population counts from current rows.
func (r *Registry) Statistics() agent.Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stats agent.Statistics
	stats.TotalAgents = len(r.byID)
	for _, row := range r.byID {
		switch row.State {
		case agent.StateActive:
			stats.ActiveAgents++
		case agent.StateOffline:
			stats.OfflineAgents++
		case agent.StatePending:
			stats.PendingAgents++
		}
		if row.LatestStatus != nil {
			switch row.LatestStatus.Health {
			case agent.HealthHealthy:
				stats.HealthyAgents++
			case agent.HealthWarning:
				stats.WarningAgents++
			case agent.HealthCritical:
				stats.CriticalAgents++
			}
		}
	}
	return stats
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
