package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanfleet/control-plane/internal/app/apperrors"
	"github.com/cleanfleet/control-plane/internal/app/domain/agent"
)

func fixedClock(t time.Time) Clock { return func() time.Time { return t } }

func testIdentity(id string) agent.Identity {
	return agent.Identity{ID: id, Hostname: id + ".local", AppVersion: "1.0.0"}
}

func TestRegisterRejectsDuplicateWithoutReregistration(t *testing.T) {
	r := New(Config{TokenValidityDuration: time.Hour, MaxAgents: 10}, fixedClock(time.Unix(0, 0)))
	_, err := r.Register(testIdentity("a1"), nil)
	require.NoError(t, err)

	_, err = r.Register(testIdentity("a1"), nil)
	require.Error(t, err)
	svcErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeAgentAlreadyRegistered, svcErr.Code)
}

func TestRegisterReissuesTokenOnReregistration(t *testing.T) {
	r := New(Config{TokenValidityDuration: time.Hour, AllowReregistration: true}, fixedClock(time.Unix(0, 0)))
	first, err := r.Register(testIdentity("a1"), nil)
	require.NoError(t, err)

	second, err := r.Register(testIdentity("a1"), agent.TagSet("cleanup"))
	require.NoError(t, err)

	assert.NotEqual(t, first.AuthToken, second.AuthToken)
	assert.Equal(t, agent.StateActive, second.State)
	assert.Equal(t, first.RegisteredAt, second.RegisteredAt)

	_, found := r.AgentByToken(first.AuthToken)
	assert.False(t, found, "stale token must no longer resolve")
}

func TestRegisterRejectsPastMaxAgents(t *testing.T) {
	r := New(Config{TokenValidityDuration: time.Hour, MaxAgents: 1}, fixedClock(time.Unix(0, 0)))
	_, err := r.Register(testIdentity("a1"), nil)
	require.NoError(t, err)

	_, err = r.Register(testIdentity("a2"), nil)
	require.Error(t, err)
	svcErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeMaxAgentsReached, svcErr.Code)
}

// TestBijectionInvariant is testable property 1: no two live rows share an
// id or token, and the two maps always agree.
func TestBijectionInvariant(t *testing.T) {
	r := New(Config{TokenValidityDuration: time.Hour, AllowReregistration: true}, fixedClock(time.Unix(0, 0)))
	agents := []string{"a1", "a2", "a3"}
	for _, id := range agents {
		_, err := r.Register(testIdentity(id), nil)
		require.NoError(t, err)
	}
	// reregister one and refresh another.
	_, err := r.Register(testIdentity("a1"), nil)
	require.NoError(t, err)
	_, err = r.RefreshToken("a2")
	require.NoError(t, err)

	all := r.AllAgents()
	seen := map[string]struct{}{}
	for _, row := range all {
		_, dup := seen[row.AuthToken]
		assert.False(t, dup, "duplicate token found")
		seen[row.AuthToken] = struct{}{}

		id, err := r.ValidateToken(row.AuthToken)
		require.NoError(t, err)
		assert.Equal(t, row.Identity.ID, id)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	r := New(Config{TokenValidityDuration: time.Minute}, fixedClock(now))
	row, err := r.Register(testIdentity("a1"), nil)
	require.NoError(t, err)

	r.now = fixedClock(now.Add(2 * time.Minute))
	_, err = r.ValidateToken(row.AuthToken)
	require.Error(t, err)
}

func TestUnregisterRemovesBothMaps(t *testing.T) {
	r := New(Config{TokenValidityDuration: time.Hour}, fixedClock(time.Unix(0, 0)))
	row, err := r.Register(testIdentity("a1"), nil)
	require.NoError(t, err)

	require.NoError(t, r.Unregister("a1"))
	_, found := r.AgentByID("a1")
	assert.False(t, found)
	_, found = r.AgentByToken(row.AuthToken)
	assert.False(t, found)

	err = r.Unregister("a1")
	require.Error(t, err)
}

func TestAgentsWithTagsRequiresSuperset(t *testing.T) {
	r := New(Config{TokenValidityDuration: time.Hour}, fixedClock(time.Unix(0, 0)))
	id := testIdentity("a1")
	id.Tags = agent.TagSet("lab", "macbook")
	_, err := r.Register(id, nil)
	require.NoError(t, err)

	matches := r.AgentsWithTags(agent.TagSet("lab"))
	assert.Len(t, matches, 1)

	none := r.AgentsWithTags(agent.TagSet("lab", "missing"))
	assert.Empty(t, none)
}

func TestStatisticsCountsByStateAndHealth(t *testing.T) {
	r := New(Config{TokenValidityDuration: time.Hour}, fixedClock(time.Unix(0, 0)))
	_, err := r.Register(testIdentity("a1"), nil)
	require.NoError(t, err)
	_, err = r.Register(testIdentity("a2"), nil)
	require.NoError(t, err)
	require.NoError(t, r.MarkActive("a1"))
	require.NoError(t, r.UpdateStatus("a1", agent.Status{Health: agent.HealthWarning}))

	stats := r.Statistics()
	assert.Equal(t, 2, stats.TotalAgents)
	assert.Equal(t, 1, stats.ActiveAgents)
	assert.Equal(t, 1, stats.PendingAgents)
	assert.Equal(t, 1, stats.WarningAgents)
}
