// Package distributor implements the Policy Distributor: target
// resolution, a monotonic per-policy version counter, and a per-agent
// retry-with-backoff state machine driving one rollout to completion,
// rollback, or cancellation.
//
// The retry/backoff shape is grounded on internal/app/core/service/retry.go
// in the teacher repo; the concurrency cap is a buffered-channel counting
// semaphore, the same shape the teacher uses for bounded worker fan-out.
package distributor

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cleanfleet/control-plane/internal/app/apperrors"
	"github.com/cleanfleet/control-plane/internal/app/domain/audit"
	"github.com/cleanfleet/control-plane/internal/app/domain/distribution"
	"github.com/cleanfleet/control-plane/internal/app/domain/policy"
	"github.com/cleanfleet/control-plane/pkg/logger"
)

// AuditRecorder receives a fleet-wide audit event plus a short compliance
// log line for every distribution/rollback outcome. The Audit Event Store
// and Compliance Reporter are wired onto the same call in cmd/controlplane
// via a small adapter, so the Distributor never imports either directly.
type AuditRecorder interface {
	Insert(e audit.Event)
	RecordAuditLog(agentID, severity, category, message string)
}

const defaultAckPollInterval = 20 * time.Millisecond

// Job describes one agent-bound dispatch.
type Job struct {
	DistributionID string
	PolicyName     string
	Version        int
	Policy         policy.Policy
}

// Transport performs the actual network dispatch to one agent; its
// concrete implementation (MDM push, websocket, etc.) is out of scope.
type Transport interface {
	Dispatch(ctx context.Context, agentID string, job Job) error
	Rollback(ctx context.Context, agentID string, distributionID string, toVersion int) error
}

// Config governs distributor-wide behavior.
type Config struct {
	MaxConcurrentDistributions int
	MaxRetryAttempts           int
	RetryDelay                 time.Duration
	AcknowledgementTimeout     time.Duration
	ContinueOnFailure          bool
	MinimumSuccessRate         float64
	AutoRollbackOnFailure      bool
}

// Distributor drives policy rollouts across the fleet.
type Distributor struct {
	cfg       Config
	registry  RegistryPort
	transport Transport
	log       *logger.Logger
	audit     AuditRecorder

	ackPollInterval time.Duration

	mu       sync.Mutex
	versions map[string]int
	active   map[string]*distribution.Status
	history  map[string][]distribution.Status

	historyLimit int
}

// New constructs a Distributor.
func New(cfg Config, reg RegistryPort, transport Transport, log *logger.Logger) *Distributor {
	if log == nil {
		log = logger.NewDefault("policy-distributor")
	}
	return &Distributor{
		cfg:             cfg,
		registry:        reg,
		transport:       transport,
		log:             log,
		ackPollInterval: defaultAckPollInterval,
		versions:        make(map[string]int),
		active:          make(map[string]*distribution.Status),
		history:         make(map[string][]distribution.Status),
		historyLimit:    50,
	}
}

// SetAuditRecorder wires an audit sink after construction, so main.go can
// build the Distributor before the Audit Event Store and Compliance
// Reporter exist. nil is a valid no-op sink (the default).
func (d *Distributor) SetAuditRecorder(rec AuditRecorder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.audit = rec
}

// VersionFor returns the current version counter for policyName (0 if the
// policy has never been distributed).
func (d *Distributor) VersionFor(policyName string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.versions[policyName]
}

// Distribute resolves target, bumps policyName's version counter, and
// begins dispatching pol to every resolved agent concurrently, bounded by
// cfg.MaxConcurrentDistributions.
func (d *Distributor) Distribute(ctx context.Context, policyName string, pol policy.Policy, target distribution.Target) (string, error) {
	ids := ResolveTargets(target, d.registry)
	if len(ids) == 0 {
		return "", apperrors.NoTargetAgents()
	}

	now := time.Now().UTC()
	d.mu.Lock()
	d.versions[policyName]++
	version := d.versions[policyName]
	status := &distribution.Status{
		ID:          uuid.NewString(),
		PolicyName:  policyName,
		Version:     version,
		Target:      target,
		InitiatedAt: now,
		StartedAt:   now,
		AgentStatus: make(map[string]distribution.AgentDistributionStatus, len(ids)),
		Outcome:     distribution.OutcomeInProgress,
	}
	for _, id := range ids {
		status.AgentStatus[id] = distribution.AgentDistributionStatus{State: distribution.AgentPending}
	}
	d.active[status.ID] = status
	d.mu.Unlock()

	limit := d.cfg.MaxConcurrentDistributions
	if limit <= 0 {
		limit = len(ids)
	}
	sem := make(chan struct{}, limit)

	job := Job{DistributionID: status.ID, PolicyName: policyName, Version: version, Policy: pol}
	for _, id := range ids {
		go d.runAgent(ctx, status, id, job, sem)
	}
	return status.ID, nil
}

func (d *Distributor) runAgent(ctx context.Context, status *distribution.Status, agentID string, job Job, sem chan struct{}) {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	released := false
	release := func() {
		if !released {
			released = true
			<-sem
		}
	}

	d.setState(status, agentID, distribution.AgentDispatched)
	if err := d.transport.Dispatch(ctx, agentID, job); err != nil {
		release()
		d.onDispatchFailure(ctx, status, agentID, job, sem, err)
		return
	}
	d.awaitAck(ctx, status, agentID, release)
}

// awaitAck polls (rather than blocking on a channel) so acknowledgement can
// arrive from an arbitrary goroutine (the HTTP layer's ack handler) without
// the distributor needing to track per-agent channels.
func (d *Distributor) awaitAck(ctx context.Context, status *distribution.Status, agentID string, release func()) {
	deadline := time.Now().Add(d.cfg.AcknowledgementTimeout)
	ticker := time.NewTicker(d.ackPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			release()
			return
		case <-ticker.C:
			d.mu.Lock()
			st, ok := status.AgentStatus[agentID]
			d.mu.Unlock()
			if !ok || st.State != distribution.AgentDispatched {
				release()
				return
			}
			if d.cfg.AcknowledgementTimeout > 0 && time.Now().After(deadline) {
				d.setState(status, agentID, distribution.AgentTimedOut)
				release()
				d.checkFinalize(ctx, status)
				return
			}
		}
	}
}

func (d *Distributor) onDispatchFailure(ctx context.Context, status *distribution.Status, agentID string, job Job, sem chan struct{}, cause error) {
	d.mu.Lock()
	st := status.AgentStatus[agentID]
	st.State = distribution.AgentFailed
	if cause != nil {
		st.Error = cause.Error()
	}
	status.AgentStatus[agentID] = st
	retryCount := st.RetryCount
	d.mu.Unlock()

	if retryCount < d.cfg.MaxRetryAttempts {
		delay := backoffDelay(d.cfg.RetryDelay, retryCount)
		go func() {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			d.mu.Lock()
			st := status.AgentStatus[agentID]
			st.RetryCount++
			status.AgentStatus[agentID] = st
			d.mu.Unlock()
			d.runAgent(ctx, status, agentID, job, sem)
		}()
		return
	}
	d.checkFinalize(ctx, status)
}

func backoffDelay(base time.Duration, retryCount int) time.Duration {
	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
	}
	return d
}

func (d *Distributor) setState(status *distribution.Status, agentID string, state distribution.AgentState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := status.AgentStatus[agentID]
	st.State = state
	status.AgentStatus[agentID] = st
}

// Acknowledge records an agent's dispatch acknowledgement, or — when the
// agent's current state is rolledBackPending — the agent catching up on a
// rollback it missed while offline (see PendingCommands). Acks carrying a
// stale version, or arriving for an agent not currently dispatched, are
// silently discarded (duplicate/out-of-order acks per spec).
func (d *Distributor) Acknowledge(distributionID, agentID string, version int) error {
	status, ok := d.lookupActive(distributionID)
	if !ok {
		return apperrors.DistributionNotFound(distributionID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := status.AgentStatus[agentID]
	if !ok {
		return nil
	}
	if st.State == distribution.AgentRolledBackPending {
		st.State = distribution.AgentRolledBack
		st.AckAt = time.Now().UTC()
		status.AgentStatus[agentID] = st
		d.archiveIfResolvedLocked(status)
		if d.audit != nil {
			d.audit.Insert(audit.Event{
				ID:        uuid.NewString(),
				Timestamp: time.Now().UTC(),
				Category:  audit.CategoryPolicy,
				Severity:  audit.SeverityInfo,
				Actor:     agentID,
				Target:    status.PolicyName,
				Action:    "rollback",
				Result:    audit.ResultSuccess,
				Metadata:  map[string]string{"distributionId": status.ID},
			})
			d.audit.RecordAuditLog(agentID, string(audit.SeverityInfo), "rollback", "deferred rollback acknowledged for "+status.PolicyName)
		}
		return nil
	}
	if version != status.Version {
		return nil
	}
	if st.State != distribution.AgentDispatched {
		return nil
	}
	st.State = distribution.AgentAcknowledged
	st.AckAt = time.Now().UTC()
	status.AgentStatus[agentID] = st
	return nil
}

// CompleteAgent records the agent's apply-result for a distribution it has
// already acknowledged. success=false re-enters the retry/failure path.
func (d *Distributor) CompleteAgent(ctx context.Context, distributionID, agentID string, success bool, applyErr string) error {
	status, ok := d.lookupActive(distributionID)
	if !ok {
		return apperrors.DistributionNotFound(distributionID)
	}

	d.mu.Lock()
	st, ok := status.AgentStatus[agentID]
	if !ok || st.State != distribution.AgentAcknowledged {
		d.mu.Unlock()
		return nil
	}
	if success {
		st.State = distribution.AgentCompleted
		st.CompleteAt = time.Now().UTC()
		status.AgentStatus[agentID] = st
		d.mu.Unlock()
		d.checkFinalize(ctx, status)
		return nil
	}
	st.State = distribution.AgentFailed
	st.Error = applyErr
	retryCount := st.RetryCount
	status.AgentStatus[agentID] = st
	d.mu.Unlock()

	if retryCount < d.cfg.MaxRetryAttempts {
		job := Job{DistributionID: status.ID, PolicyName: status.PolicyName, Version: status.Version}
		delay := backoffDelay(d.cfg.RetryDelay, retryCount)
		sem := make(chan struct{}, 1)
		go func() {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			d.mu.Lock()
			st := status.AgentStatus[agentID]
			st.RetryCount++
			status.AgentStatus[agentID] = st
			d.mu.Unlock()
			d.runAgent(ctx, status, agentID, job, sem)
		}()
		return nil
	}
	d.checkFinalize(ctx, status)
	return nil
}

// checkFinalize computes the global decision once every agent is terminal.
func (d *Distributor) checkFinalize(ctx context.Context, status *distribution.Status) {
	d.mu.Lock()
	if status.Outcome != distribution.OutcomeInProgress || !status.AllTerminal() {
		d.mu.Unlock()
		return
	}
	successRate := status.SuccessRate()
	rollbackNeeded := successRate < d.cfg.MinimumSuccessRate
	d.mu.Unlock()

	var outcome distribution.Outcome
	switch {
	case rollbackNeeded && d.cfg.AutoRollbackOnFailure:
		d.rollback(ctx, status)
		outcome = distribution.OutcomeRolledBack
	case rollbackNeeded:
		outcome = distribution.OutcomeFailedRollout
	default:
		outcome = distribution.OutcomeSucceeded
	}
	d.finalize(status, outcome)
	d.recordOutcome(status, outcome, successRate)
}

func (d *Distributor) recordOutcome(status *distribution.Status, outcome distribution.Outcome, successRate float64) {
	if d.audit == nil {
		return
	}
	severity, result := audit.SeverityInfo, audit.ResultSuccess
	if outcome != distribution.OutcomeSucceeded {
		severity, result = audit.SeverityWarning, audit.ResultFailure
	}
	d.audit.Insert(audit.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Category:  audit.CategoryPolicy,
		Severity:  severity,
		Actor:     "distributor",
		Target:    status.PolicyName,
		Action:    "distribute",
		Result:    result,
		Metadata: map[string]string{
			"distributionId": status.ID,
			"version":        strconv.Itoa(status.Version),
			"outcome":        string(outcome),
			"successRate":    strconv.FormatFloat(successRate, 'f', 1, 64),
		},
	})
	d.audit.RecordAuditLog("", string(severity), "distribution", status.PolicyName+" "+string(outcome))
}

func (d *Distributor) rollback(ctx context.Context, status *distribution.Status) {
	d.mu.Lock()
	completed := make([]string, 0)
	for id, st := range status.AgentStatus {
		if st.State == distribution.AgentCompleted {
			completed = append(completed, id)
		}
	}
	d.mu.Unlock()

	for _, id := range completed {
		row, known := d.registry.AgentByID(id)
		offline := known && !row.IsOnline()
		if !offline {
			if err := d.transport.Rollback(ctx, id, status.ID, status.Version-1); err != nil {
				offline = true // treat dispatch failure as deferred-rollback, same as offline
			}
		}
		d.mu.Lock()
		st := status.AgentStatus[id]
		if offline {
			st.State = distribution.AgentRolledBackPending
		} else {
			st.State = distribution.AgentRolledBack
		}
		status.AgentStatus[id] = st
		d.mu.Unlock()

		if d.audit != nil {
			severity, result, message := audit.SeverityInfo, audit.ResultSuccess, "rolled back"
			if offline {
				severity, result, message = audit.SeverityWarning, audit.ResultWarning, "rollback deferred, agent offline"
			}
			d.audit.Insert(audit.Event{
				ID:        uuid.NewString(),
				Timestamp: time.Now().UTC(),
				Category:  audit.CategoryPolicy,
				Severity:  severity,
				Actor:     id,
				Target:    status.PolicyName,
				Action:    "rollback",
				Result:    result,
				Metadata:  map[string]string{"distributionId": status.ID},
			})
			d.audit.RecordAuditLog(id, string(severity), "rollback", message+" for "+status.PolicyName)
		}
	}
}

func (d *Distributor) finalize(status *distribution.Status, outcome distribution.Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if status.Outcome != distribution.OutcomeInProgress {
		return
	}
	status.Outcome = outcome
	status.CompletedAt = time.Now().UTC()
	d.archiveIfResolvedLocked(status)
}

// archiveIfResolvedLocked moves a finalized status out of d.active and into
// its policy's history, unless one or more agents are still
// rolledBackPending — those distributions stay active (and therefore
// reachable by Acknowledge and visible to PendingCommands) until every
// offline agent at rollback time has caught up. Must be called with d.mu
// held.
func (d *Distributor) archiveIfResolvedLocked(status *distribution.Status) {
	for _, st := range status.AgentStatus {
		if st.State == distribution.AgentRolledBackPending {
			return
		}
	}
	delete(d.active, status.ID)
	hist := append([]distribution.Status{*status}, d.history[status.PolicyName]...)
	if len(hist) > d.historyLimit {
		hist = hist[:d.historyLimit]
	}
	d.history[status.PolicyName] = hist
}

// Cancel transitions every non-terminal agent in distributionID to failed
// with reason "cancelled" and runs the normal finalize/rollback path.
func (d *Distributor) Cancel(ctx context.Context, distributionID string) error {
	status, ok := d.lookupActive(distributionID)
	if !ok {
		return apperrors.DistributionNotFound(distributionID)
	}
	d.mu.Lock()
	for id, st := range status.AgentStatus {
		if st.State.IsTerminal() {
			continue
		}
		st.State = distribution.AgentFailed
		st.Error = "cancelled"
		status.AgentStatus[id] = st
	}
	d.mu.Unlock()
	d.checkFinalize(ctx, status)
	return nil
}

// Status returns a distribution's current ledger, searching active
// rollouts then each policy's bounded history.
func (d *Distributor) Status(distributionID string) (distribution.Status, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.active[distributionID]; ok {
		return *s, true
	}
	for _, entries := range d.history {
		for _, s := range entries {
			if s.ID == distributionID {
				return s, true
			}
		}
	}
	return distribution.Status{}, false
}

// History returns policyName's bounded, newest-first distribution history.
func (d *Distributor) History(policyName string) []distribution.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]distribution.Status, len(d.history[policyName]))
	copy(out, d.history[policyName])
	return out
}

// AllDistributions returns every active and historical distribution. Used
// by the Compliance Reporter to derive per-agent execution history without
// the distributor needing to track a separate per-agent index.
func (d *Distributor) AllDistributions() []distribution.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]distribution.Status, 0, len(d.active))
	for _, s := range d.active {
		out = append(out, *s)
	}
	for _, entries := range d.history {
		out = append(out, entries...)
	}
	return out
}

func (d *Distributor) lookupActive(distributionID string) (*distribution.Status, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.active[distributionID]
	return s, ok
}

// PendingPolicies implements heartbeat.PendingSource: every policy with a
// non-terminal dispatch for agentID.
func (d *Distributor) PendingPolicies(agentID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, status := range d.active {
		st, ok := status.AgentStatus[agentID]
		if ok && !st.State.IsTerminal() {
			out = append(out, status.PolicyName)
		}
	}
	return out
}

// PendingCommands implements heartbeat.PendingSource: a synthetic
// "rollback:<policy>" command per policy awaiting rollback acknowledgement
// from an agent that was offline when the rollback was issued. A
// distribution with any rolledBackPending agent stays in d.active (see
// archiveIfResolvedLocked) specifically so it remains visible here until
// Acknowledge resolves it.
func (d *Distributor) PendingCommands(agentID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, status := range d.active {
		st, ok := status.AgentStatus[agentID]
		if ok && st.State == distribution.AgentRolledBackPending {
			out = append(out, "rollback:"+status.PolicyName)
		}
	}
	return out
}
