package distributor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanfleet/control-plane/internal/app/domain/agent"
	"github.com/cleanfleet/control-plane/internal/app/domain/audit"
	"github.com/cleanfleet/control-plane/internal/app/domain/distribution"
	"github.com/cleanfleet/control-plane/internal/app/domain/policy"
)

type fakeTransport struct {
	mu        sync.Mutex
	dispatch  func(agentID string) error
	rollbacks []string
}

func (f *fakeTransport) Dispatch(ctx context.Context, agentID string, job Job) error {
	if f.dispatch != nil {
		return f.dispatch(agentID)
	}
	return nil
}

func (f *fakeTransport) Rollback(ctx context.Context, agentID string, distributionID string, toVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks = append(f.rollbacks, agentID)
	return nil
}

func testConfig() Config {
	return Config{
		MaxConcurrentDistributions: 4,
		MaxRetryAttempts:           2,
		RetryDelay:                 5 * time.Millisecond,
		AcknowledgementTimeout:     200 * time.Millisecond,
		MinimumSuccessRate:         100,
		AutoRollbackOnFailure:      false,
	}
}

func testPolicy() policy.Policy {
	return policy.Policy{SchemaVersion: "1.0", Name: "p", Rules: []policy.Rule{{ID: "r1"}}}
}

func TestDistributeFailsFastOnEmptyTarget(t *testing.T) {
	d := New(testConfig(), &fakeReg{}, &fakeTransport{}, nil)
	_, err := d.Distribute(context.Background(), "p", testPolicy(), distribution.AgentsTarget("ghost"))
	require.Error(t, err)
}

func TestDistributeIncrementsVersionCounterPerPolicy(t *testing.T) {
	reg := reg3()
	d := New(testConfig(), reg, &fakeTransport{}, nil)
	id1, err := d.Distribute(context.Background(), "p", testPolicy(), distribution.AllTarget())
	require.NoError(t, err)
	id2, err := d.Distribute(context.Background(), "p", testPolicy(), distribution.AllTarget())
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, d.VersionFor("p"))
}

func TestFullLifecycleAckThenCompleteSucceeds(t *testing.T) {
	reg := &fakeReg{rows: []agent.Registered{{Identity: agent.Identity{ID: "a1"}, State: agent.StateActive}}}
	d := New(testConfig(), reg, &fakeTransport{}, nil)
	d.ackPollInterval = time.Millisecond

	distID, err := d.Distribute(context.Background(), "p", testPolicy(), distribution.AllTarget())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, _ := d.Status(distID)
		return s.AgentStatus["a1"].State == distribution.AgentDispatched
	}, time.Second, time.Millisecond)

	require.NoError(t, d.Acknowledge(distID, "a1", 1))
	require.NoError(t, d.CompleteAgent(context.Background(), distID, "a1", true, ""))

	require.Eventually(t, func() bool {
		s, _ := d.Status(distID)
		return s.Outcome == distribution.OutcomeSucceeded
	}, time.Second, time.Millisecond)
}

func TestStaleVersionAckIsDiscarded(t *testing.T) {
	reg := &fakeReg{rows: []agent.Registered{{Identity: agent.Identity{ID: "a1"}, State: agent.StateActive}}}
	d := New(testConfig(), reg, &fakeTransport{}, nil)
	d.ackPollInterval = time.Millisecond

	distID, err := d.Distribute(context.Background(), "p", testPolicy(), distribution.AllTarget())
	require.NoError(t, err)

	require.NoError(t, d.Acknowledge(distID, "a1", 999))
	s, _ := d.Status(distID)
	assert.NotEqual(t, distribution.AgentAcknowledged, s.AgentStatus["a1"].State)
}

func TestAckTimeoutMarksAgentTimedOut(t *testing.T) {
	reg := &fakeReg{rows: []agent.Registered{{Identity: agent.Identity{ID: "a1"}, State: agent.StateActive}}}
	cfg := testConfig()
	cfg.AcknowledgementTimeout = 10 * time.Millisecond
	d := New(cfg, reg, &fakeTransport{}, nil)
	d.ackPollInterval = time.Millisecond

	distID, err := d.Distribute(context.Background(), "p", testPolicy(), distribution.AllTarget())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, _ := d.Status(distID)
		return s.AgentStatus["a1"].State == distribution.AgentTimedOut
	}, time.Second, time.Millisecond)
}

func TestDispatchFailureRetriesThenFails(t *testing.T) {
	reg := &fakeReg{rows: []agent.Registered{{Identity: agent.Identity{ID: "a1"}, State: agent.StateActive}}}
	transport := &fakeTransport{dispatch: func(string) error { return assert.AnError }}
	cfg := testConfig()
	cfg.MaxRetryAttempts = 1
	cfg.RetryDelay = time.Millisecond
	d := New(cfg, reg, transport, nil)
	d.ackPollInterval = time.Millisecond

	distID, err := d.Distribute(context.Background(), "p", testPolicy(), distribution.AllTarget())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, _ := d.Status(distID)
		return s.Outcome == distribution.OutcomeFailedRollout
	}, time.Second, time.Millisecond)
}

func TestAutoRollbackOnFailureRollsBackCompletedAgents(t *testing.T) {
	reg := &fakeReg{rows: []agent.Registered{
		{Identity: agent.Identity{ID: "a1"}, State: agent.StateActive},
		{Identity: agent.Identity{ID: "a2"}, State: agent.StateActive},
	}}
	transport := &fakeTransport{}
	cfg := testConfig()
	cfg.MinimumSuccessRate = 100
	cfg.AutoRollbackOnFailure = true
	cfg.AcknowledgementTimeout = 10 * time.Millisecond
	cfg.MaxRetryAttempts = 0
	d := New(cfg, reg, transport, nil)
	d.ackPollInterval = time.Millisecond

	distID, err := d.Distribute(context.Background(), "p", testPolicy(), distribution.AllTarget())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, _ := d.Status(distID)
		return s.AgentStatus["a1"].State == distribution.AgentDispatched
	}, time.Second, time.Millisecond)
	require.NoError(t, d.Acknowledge(distID, "a1", 1))
	require.NoError(t, d.CompleteAgent(context.Background(), distID, "a1", true, ""))
	// a2 times out -> success rate 50% < 100% -> rollback triggered

	require.Eventually(t, func() bool {
		s, _ := d.Status(distID)
		return s.Outcome == distribution.OutcomeRolledBack
	}, time.Second, time.Millisecond)

	s, _ := d.Status(distID)
	assert.Equal(t, distribution.AgentRolledBack, s.AgentStatus["a1"].State)
}

func TestCancelFailsNonTerminalAgentsAndFinalizes(t *testing.T) {
	reg := &fakeReg{rows: []agent.Registered{{Identity: agent.Identity{ID: "a1"}, State: agent.StateActive}}}
	cfg := testConfig()
	cfg.AcknowledgementTimeout = time.Minute // would never naturally time out
	d := New(cfg, reg, &fakeTransport{}, nil)
	d.ackPollInterval = time.Millisecond

	distID, err := d.Distribute(context.Background(), "p", testPolicy(), distribution.AllTarget())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, _ := d.Status(distID)
		return s.AgentStatus["a1"].State == distribution.AgentDispatched
	}, time.Second, time.Millisecond)

	require.NoError(t, d.Cancel(context.Background(), distID))
	s, _ := d.Status(distID)
	assert.True(t, s.Outcome == distribution.OutcomeFailedRollout || s.Outcome == distribution.OutcomeRolledBack)
	assert.Equal(t, "cancelled", s.AgentStatus["a1"].Error)
}

func TestCancelUnknownDistributionFails(t *testing.T) {
	d := New(testConfig(), &fakeReg{}, &fakeTransport{}, nil)
	err := d.Cancel(context.Background(), "ghost")
	require.Error(t, err)
}

func TestOfflineAgentRollbackPendingResolvesOnAcknowledge(t *testing.T) {
	reg := &fakeReg{rows: []agent.Registered{
		{Identity: agent.Identity{ID: "a1"}, State: agent.StateActive},
		{Identity: agent.Identity{ID: "a2"}, State: agent.StateOffline},
		{Identity: agent.Identity{ID: "a3"}, State: agent.StateActive},
	}}
	transport := &fakeTransport{}
	cfg := testConfig()
	cfg.MinimumSuccessRate = 100
	cfg.AutoRollbackOnFailure = true
	cfg.AcknowledgementTimeout = 10 * time.Millisecond
	cfg.MaxRetryAttempts = 0
	d := New(cfg, reg, transport, nil)
	d.ackPollInterval = time.Millisecond

	distID, err := d.Distribute(context.Background(), "p", testPolicy(), distribution.AllTarget())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, _ := d.Status(distID)
		return s.AgentStatus["a1"].State == distribution.AgentDispatched &&
			s.AgentStatus["a2"].State == distribution.AgentDispatched
	}, time.Second, time.Millisecond)
	for _, id := range []string{"a1", "a2"} {
		require.NoError(t, d.Acknowledge(distID, id, 1))
		require.NoError(t, d.CompleteAgent(context.Background(), distID, id, true, ""))
	}
	// a3 never acks -> times out -> rollback of the completed agents; a2 is
	// offline, so its rollback is deferred

	require.Eventually(t, func() bool {
		s, _ := d.Status(distID)
		return s.Outcome == distribution.OutcomeRolledBack
	}, time.Second, time.Millisecond)

	s, _ := d.Status(distID)
	assert.Equal(t, distribution.AgentRolledBackPending, s.AgentStatus["a2"].State)
	assert.Contains(t, d.PendingCommands("a2"), "rollback:p")
	assert.Empty(t, d.History("p"), "distribution must stay active while a2's rollback is pending")

	require.NoError(t, d.Acknowledge(distID, "a2", s.Version))

	s, _ = d.Status(distID)
	assert.Equal(t, distribution.AgentRolledBack, s.AgentStatus["a2"].State)
	assert.Empty(t, d.PendingCommands("a2"))
	assert.Len(t, d.History("p"), 1, "distribution archives into history once a2 catches up")
}

type fakeAuditRecorder struct {
	mu     sync.Mutex
	events []audit.Event
	logs   []string
}

func (f *fakeAuditRecorder) Insert(e audit.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeAuditRecorder) RecordAuditLog(agentID, severity, category, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, category+":"+message)
}

func (f *fakeAuditRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestSuccessfulDistributionRecordsAuditEvent(t *testing.T) {
	reg := &fakeReg{rows: []agent.Registered{{Identity: agent.Identity{ID: "a1"}, State: agent.StateActive}}}
	d := New(testConfig(), reg, &fakeTransport{}, nil)
	d.ackPollInterval = time.Millisecond
	rec := &fakeAuditRecorder{}
	d.SetAuditRecorder(rec)

	distID, err := d.Distribute(context.Background(), "p", testPolicy(), distribution.AllTarget())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := d.Status(distID)
		return s.AgentStatus["a1"].State == distribution.AgentDispatched
	}, time.Second, time.Millisecond)
	require.NoError(t, d.Acknowledge(distID, "a1", 1))
	require.NoError(t, d.CompleteAgent(context.Background(), distID, "a1", true, ""))

	require.Eventually(t, func() bool { return rec.count() > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, audit.CategoryPolicy, rec.events[0].Category)
	assert.Equal(t, audit.ResultSuccess, rec.events[0].Result)
	assert.NotEmpty(t, rec.logs)
}

func TestPendingPoliciesReflectsInFlightDistribution(t *testing.T) {
	reg := &fakeReg{rows: []agent.Registered{{Identity: agent.Identity{ID: "a1"}, State: agent.StateActive}}}
	cfg := testConfig()
	cfg.AcknowledgementTimeout = time.Minute
	d := New(cfg, reg, &fakeTransport{}, nil)

	_, err := d.Distribute(context.Background(), "p", testPolicy(), distribution.AllTarget())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(d.PendingPolicies("a1")) == 1
	}, time.Second, time.Millisecond)
}
