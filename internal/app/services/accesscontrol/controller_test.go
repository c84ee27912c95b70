package accesscontrol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanfleet/control-plane/internal/app/domain/audit"
	"github.com/cleanfleet/control-plane/internal/app/domain/authz"
)

type fakeAuditRecorder struct {
	events []audit.Event
}

func (f *fakeAuditRecorder) Insert(e audit.Event) { f.events = append(f.events, e) }

type fakeTokens struct {
	claims map[string]authz.Claims
}

func (f *fakeTokens) Validate(token string) (authz.Claims, error) {
	c, ok := f.claims[token]
	if !ok {
		return authz.Claims{}, assertErr{}
	}
	return c, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "invalid token" }

func testPolicies() []Policy {
	return []Policy{
		{ResourcePattern: "/healthz", Methods: []string{"GET"}},
		{ResourcePattern: "/agents", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewAgents}},
		{ResourcePattern: "/agents/{id}", Methods: []string{"DELETE"}, RequiredPermissions: []authz.Permission{authz.PermDeleteAgents}},
		{ResourcePattern: "/admin/*", Methods: []string{"GET", "POST"}, RequiredPermissions: []authz.Permission{authz.PermManageSystem}},
	}
}

func viewerClaims() authz.Claims {
	return authz.Claims{Subject: "u1", Username: "viewer-user", Role: authz.RoleViewer}
}

func TestValidateGrantsPublicEndpointWithoutToken(t *testing.T) {
	c := New(Config{}, testPolicies(), &fakeTokens{}, nil)
	result := c.Validate(authz.AccessRequest{Resource: "/healthz", Method: "GET"})
	assert.True(t, result.Granted)
}

func TestValidateDeniesUnmatchedResource(t *testing.T) {
	c := New(Config{}, testPolicies(), &fakeTokens{}, nil)
	result := c.Validate(authz.AccessRequest{Resource: "/nonexistent", Method: "GET"})
	assert.False(t, result.Granted)
	assert.Equal(t, authz.DenialForbidden, result.DenialReason)
}

func TestValidateRequiresTokenForGatedResource(t *testing.T) {
	c := New(Config{}, testPolicies(), &fakeTokens{}, nil)
	result := c.Validate(authz.AccessRequest{Resource: "/agents", Method: "GET"})
	assert.False(t, result.Granted)
	assert.Equal(t, authz.DenialUnauthorized, result.DenialReason)
}

func TestValidateDeniesInvalidToken(t *testing.T) {
	c := New(Config{}, testPolicies(), &fakeTokens{}, nil)
	result := c.Validate(authz.AccessRequest{Resource: "/agents", Method: "GET", Token: "bogus"})
	assert.False(t, result.Granted)
	assert.Equal(t, authz.DenialUnauthorized, result.DenialReason)
}

func TestValidateDeniedRequestRecordsFleetAuditEvent(t *testing.T) {
	c := New(Config{LogDeniedAccess: true, MaxAuditEntries: 10}, testPolicies(), &fakeTokens{}, nil)
	rec := &fakeAuditRecorder{}
	c.SetAuditRecorder(rec)

	result := c.Validate(authz.AccessRequest{Resource: "/agents", Method: "GET"})
	require.False(t, result.Granted)

	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.CategorySecurity, rec.events[0].Category)
	assert.Equal(t, audit.ResultFailure, rec.events[0].Result)
}

func TestValidateGrantedRequestDoesNotRecordFleetAuditEvent(t *testing.T) {
	c := New(Config{}, testPolicies(), &fakeTokens{}, nil)
	rec := &fakeAuditRecorder{}
	c.SetAuditRecorder(rec)

	result := c.Validate(authz.AccessRequest{Resource: "/healthz", Method: "GET"})
	require.True(t, result.Granted)
	assert.Empty(t, rec.events)
}

func TestValidateGrantsWhenRoleHasPermission(t *testing.T) {
	tokens := &fakeTokens{claims: map[string]authz.Claims{"tok": viewerClaims()}}
	c := New(Config{}, testPolicies(), tokens, nil)
	result := c.Validate(authz.AccessRequest{Resource: "/agents", Method: "GET", Token: "tok"})
	assert.True(t, result.Granted)
	assert.Equal(t, "u1", result.UserID)
}

func TestValidateDeniesWhenRoleLacksPermission(t *testing.T) {
	tokens := &fakeTokens{claims: map[string]authz.Claims{"tok": viewerClaims()}}
	c := New(Config{}, testPolicies(), tokens, nil)
	result := c.Validate(authz.AccessRequest{Resource: "/agents/a1", Method: "DELETE", Token: "tok"})
	assert.False(t, result.Granted)
	assert.Equal(t, authz.DenialForbidden, result.DenialReason)
	assert.Equal(t, []authz.Permission{authz.PermDeleteAgents}, result.MissingPerms)
}

func TestValidateWildcardMatchesNestedPaths(t *testing.T) {
	adminClaims := authz.Claims{Subject: "admin1", Role: authz.RoleAdmin}
	tokens := &fakeTokens{claims: map[string]authz.Claims{"tok": adminClaims}}
	c := New(Config{}, testPolicies(), tokens, nil)
	result := c.Validate(authz.AccessRequest{Resource: "/admin/config/reload", Method: "POST", Token: "tok"})
	assert.True(t, result.Granted)
}

type fakeUsers struct {
	inactive map[string]bool
}

func (f *fakeUsers) IsActive(userID string) (bool, bool) {
	if f.inactive[userID] {
		return false, true
	}
	return true, true
}

func TestValidateDeniesInactiveUser(t *testing.T) {
	tokens := &fakeTokens{claims: map[string]authz.Claims{"tok": viewerClaims()}}
	users := &fakeUsers{inactive: map[string]bool{"u1": true}}
	c := New(Config{}, testPolicies(), tokens, users)
	result := c.Validate(authz.AccessRequest{Resource: "/agents", Method: "GET", Token: "tok"})
	assert.False(t, result.Granted)
}

func TestCheckPermissionReflectsRole(t *testing.T) {
	tokens := &fakeTokens{claims: map[string]authz.Claims{"tok": viewerClaims()}}
	c := New(Config{}, testPolicies(), tokens, nil)
	assert.True(t, c.CheckPermission("tok", authz.PermViewAgents))
	assert.False(t, c.CheckPermission("tok", authz.PermDeleteAgents))
}

func TestCheckRoleRespectsHierarchy(t *testing.T) {
	tokens := &fakeTokens{claims: map[string]authz.Claims{"tok": viewerClaims()}}
	c := New(Config{}, testPolicies(), tokens, nil)
	assert.True(t, c.CheckRole("tok", authz.RoleViewer))
	assert.False(t, c.CheckRole("tok", authz.RoleAdmin))
}

func TestInvalidateSessionRemovesCacheEntry(t *testing.T) {
	tokens := &fakeTokens{claims: map[string]authz.Claims{"tok": viewerClaims()}}
	c := New(Config{}, testPolicies(), tokens, nil)
	c.Validate(authz.AccessRequest{Resource: "/agents", Method: "GET", Token: "tok"})
	_, ok := c.sessions["u1"]
	assert.True(t, ok)
	c.InvalidateSession("u1")
	_, ok = c.sessions["u1"]
	assert.False(t, ok)
}

func TestRecentAuditEntriesOrderedNewestFirst(t *testing.T) {
	tokens := &fakeTokens{claims: map[string]authz.Claims{"tok": viewerClaims()}}
	c := New(Config{LogAllAccess: true}, testPolicies(), tokens, nil)
	c.Validate(authz.AccessRequest{Resource: "/healthz", Method: "GET"})
	c.Validate(authz.AccessRequest{Resource: "/agents", Method: "GET", Token: "tok"})

	entries := c.RecentAuditEntries(10)
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "/agents", entries[0].Resource)
		assert.Equal(t, "/healthz", entries[1].Resource)
	}
}

func TestDeniedAccessAttemptsFiltersGranted(t *testing.T) {
	tokens := &fakeTokens{claims: map[string]authz.Claims{"tok": viewerClaims()}}
	c := New(Config{LogDeniedAccess: true}, testPolicies(), tokens, nil)
	c.Validate(authz.AccessRequest{Resource: "/healthz", Method: "GET"})
	c.Validate(authz.AccessRequest{Resource: "/agents/a1", Method: "DELETE", Token: "tok"})

	denied := c.DeniedAccessAttempts(10)
	if assert.Len(t, denied, 1) {
		assert.Equal(t, "/agents/a1", denied[0].Resource)
	}
}

func TestRecordAuditBoundsRingBuffer(t *testing.T) {
	c := New(Config{LogAllAccess: true, MaxAuditEntries: 2}, testPolicies(), &fakeTokens{}, nil)
	c.Validate(authz.AccessRequest{Resource: "/healthz", Method: "GET"})
	c.Validate(authz.AccessRequest{Resource: "/healthz", Method: "GET"})
	c.Validate(authz.AccessRequest{Resource: "/healthz", Method: "GET"})
	assert.Len(t, c.audit, 2)
}
