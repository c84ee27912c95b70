// Package heartbeat implements the Heartbeat Monitor: it records agent
// heartbeats, maintains per-agent interval statistics, and sweeps the
// registry for agents that have gone silent.
//
// The Start/Stop/ticker shape is grounded on
// internal/app/services/automation/scheduler.go in the teacher repo.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/cleanfleet/control-plane/internal/app/apperrors"
	"github.com/cleanfleet/control-plane/internal/app/domain/agent"
	"github.com/cleanfleet/control-plane/pkg/logger"
)

// RegistryPort is the subset of the Agent Registry the monitor needs.
type RegistryPort interface {
	AgentByID(id string) (agent.Registered, bool)
	UpdateStatus(id string, status agent.Status) error
	AllAgents() []agent.Registered
	MarkOffline(id string) error
	Statistics() agent.Statistics
}

// Config governs cadence and liveness timeout.
type Config struct {
	HeartbeatInterval time.Duration // advertised to agents as nextHeartbeat
	HeartbeatTimeout  time.Duration
	SweepInterval     time.Duration
}

// Stats is per-agent heartbeat bookkeeping.
type Stats struct {
	TotalHeartbeats int
	FirstSeen       time.Time
	LastSeen        time.Time
	MeanInterval    time.Duration
}

// Response is returned to an agent after it heartbeats.
type Response struct {
	Acknowledged    bool
	PendingPolicies []string
	PendingCommands []string
	NextHeartbeat   time.Duration
}

// PendingSource supplies an agent's outstanding policy/command work for the
// heartbeat acknowledgement response; the Distributor implements it.
type PendingSource interface {
	PendingPolicies(agentID string) []string
	PendingCommands(agentID string) []string
}

// Monitor drives liveness transitions and collects heartbeat statistics.
type Monitor struct {
	cfg      Config
	registry RegistryPort
	pending  PendingSource
	log      *logger.Logger

	mu    sync.Mutex
	stats map[string]Stats

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New constructs a Monitor. pending may be nil if no distributor is wired.
func New(cfg Config, reg RegistryPort, pending PendingSource, log *logger.Logger) *Monitor {
	if log == nil {
		log = logger.NewDefault("heartbeat-monitor")
	}
	return &Monitor{
		cfg:      cfg,
		registry: reg,
		pending:  pending,
		log:      log,
		stats:    make(map[string]Stats),
	}
}

// ProcessHeartbeat records one heartbeat from a registered agent.
func (m *Monitor) ProcessHeartbeat(id string, status agent.Status) (Response, error) {
	if _, ok := m.registry.AgentByID(id); !ok {
		return Response{}, apperrors.AgentNotFound(id)
	}
	if err := m.registry.UpdateStatus(id, status); err != nil {
		return Response{}, err
	}

	now := time.Now().UTC()
	m.mu.Lock()
	s, ok := m.stats[id]
	if !ok {
		s = Stats{FirstSeen: now}
	} else {
		elapsed := now.Sub(s.LastSeen)
		if s.TotalHeartbeats > 0 {
			total := time.Duration(s.TotalHeartbeats) * s.MeanInterval
			s.MeanInterval = (total + elapsed) / time.Duration(s.TotalHeartbeats+1)
		} else {
			s.MeanInterval = elapsed
		}
	}
	s.TotalHeartbeats++
	s.LastSeen = now
	m.stats[id] = s
	m.mu.Unlock()

	resp := Response{
		Acknowledged:  true,
		NextHeartbeat: m.cfg.HeartbeatInterval,
	}
	if m.pending != nil {
		resp.PendingPolicies = m.pending.PendingPolicies(id)
		resp.PendingCommands = m.pending.PendingCommands(id)
	}
	return resp, nil
}

// StatsFor returns the recorded statistics for id.
func (m *Monitor) StatsFor(id string) (Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[id]
	return s, ok
}

// StartMonitoring begins the background offline sweep. Idempotent.
func (m *Monitor) StartMonitoring(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// StopMonitoring halts the sweep loop; cancellation is observable within
// one sweep period.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// sweep never blocks on network I/O: it only inspects and mutates
// in-process registry state.
func (m *Monitor) sweep() {
	now := time.Now().UTC()
	for _, row := range m.registry.AllAgents() {
		if !row.State.IsOnline() {
			continue
		}
		if row.LastHeartbeat.IsZero() {
			continue
		}
		if now.Sub(row.LastHeartbeat) > m.cfg.HeartbeatTimeout {
			if err := m.registry.MarkOffline(row.Identity.ID); err != nil {
				m.log.WithError(err).Warn("failed to mark agent offline")
			}
		}
	}
}

// Summary mirrors Registry.Statistics for convenience.
func (m *Monitor) Summary() agent.Statistics {
	return m.registry.Statistics()
}
