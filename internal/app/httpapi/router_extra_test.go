package httpapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanfleet/control-plane/internal/app/domain/audit"
)

func registerAndAdmit(t *testing.T, h *harness, id string) registrationResponseDTO {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/agents/register", registrationRequestDTO{
		ID:         id,
		Hostname:   id + ".local",
		AppVersion: "1.0.0",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp registrationResponseDTO
	require.NoError(t, decodeBody(t, rec, &resp))
	require.Equal(t, "admitted", resp.Result)
	return resp
}

func TestRefreshTokenIssuesNewPair(t *testing.T) {
	h := newHarness(t)
	loginRec := h.do(t, http.MethodPost, "/auth/login", loginRequestDTO{Username: "admin", Password: "correct horse battery staple"}, "")
	require.Equal(t, http.StatusOK, loginRec.Code)
	var pair tokenPairDTO
	require.NoError(t, decodeBody(t, loginRec, &pair))

	rec := h.do(t, http.MethodPost, "/auth/refresh", refreshRequestDTO{RefreshToken: pair.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed tokenPairDTO
	require.NoError(t, decodeBody(t, rec, &refreshed))
	assert.NotEmpty(t, refreshed.AccessToken)
}

func TestLogoutRevokesTokenForFutureRequests(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/auth/logout", nil, h.adminJWT)
	assert.Equal(t, http.StatusOK, rec.Code)

	after := h.do(t, http.MethodGet, "/agents", nil, h.adminJWT)
	assert.Equal(t, http.StatusUnauthorized, after.Code)
}

func TestPolicyValidateReturnsResultWithoutPersisting(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/policies/scratch/validate", validPolicyDTO("scratch"), h.adminJWT)
	assert.Equal(t, http.StatusOK, rec.Code)

	list := h.do(t, http.MethodGet, "/policies", nil, h.adminJWT)
	var policies []policyDTO
	require.NoError(t, decodeBody(t, list, &policies))
	assert.Empty(t, policies)
}

func TestPolicyExportRoundTripsThroughImport(t *testing.T) {
	h := newHarness(t)
	save := h.do(t, http.MethodPost, "/policies", validPolicyDTO("export-me"), h.adminJWT)
	require.Equal(t, http.StatusOK, save.Code)

	exportRec := h.do(t, http.MethodGet, "/policies/export-me/export", nil, h.adminJWT)
	require.Equal(t, http.StatusOK, exportRec.Code)
	require.NoError(t, h.deps.PolicyStore.Delete("export-me"))

	req, err := http.NewRequest(http.MethodPost, "/policies/import", exportRec.Body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+h.adminJWT)
	rec := httpRecord(t, h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPolicyHistoryReflectsDistributions(t *testing.T) {
	h := newHarness(t)
	registerAndAdmit(t, h, "agent-hist")
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/policies", validPolicyDTO("hist-policy"), h.adminJWT).Code)

	distRec := h.do(t, http.MethodPost, "/distributions", distributeRequestDTO{PolicyName: "hist-policy", TargetKind: "all"}, h.adminJWT)
	require.Equal(t, http.StatusAccepted, distRec.Code)

	rec := h.do(t, http.MethodGet, "/policies/hist-policy/history", nil, h.adminJWT)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The agent never acks, so the rollout times out, finalizes, and is
	// archived into the policy's history.
	require.Eventually(t, func() bool {
		rec := h.do(t, http.MethodGet, "/policies/hist-policy/history", nil, h.adminJWT)
		var history []map[string]interface{}
		return rec.Code == http.StatusOK && decodeBody(t, rec, &history) == nil && len(history) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDistributionStatusAndCancel(t *testing.T) {
	h := newHarness(t)
	registerAndAdmit(t, h, "agent-cancel")
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/policies", validPolicyDTO("cancel-policy"), h.adminJWT).Code)

	distRec := h.do(t, http.MethodPost, "/distributions", distributeRequestDTO{PolicyName: "cancel-policy", TargetKind: "all"}, h.adminJWT)
	require.Equal(t, http.StatusAccepted, distRec.Code)
	var accepted map[string]string
	require.NoError(t, decodeBody(t, distRec, &accepted))
	distID := accepted["distributionId"]
	require.NotEmpty(t, distID)

	statusRec := h.do(t, http.MethodGet, "/distributions/"+distID, nil, h.adminJWT)
	assert.Equal(t, http.StatusOK, statusRec.Code)

	cancelRec := h.do(t, http.MethodPost, "/distributions/"+distID+"/cancel", nil, h.adminJWT)
	assert.Equal(t, http.StatusOK, cancelRec.Code)
}

func TestDistributionStatusUnknownIDIsNotFound(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/distributions/does-not-exist", nil, h.adminJWT)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditQueryAndExportFormats(t *testing.T) {
	h := newHarness(t)
	registerAndAdmit(t, h, "agent-audit")

	listRec := h.do(t, http.MethodGet, "/audit", nil, h.adminJWT)
	assert.Equal(t, http.StatusOK, listRec.Code)

	for _, format := range []string{"", "csv", "jsonl"} {
		rec := h.do(t, http.MethodGet, "/audit/export?format="+format, nil, h.adminJWT)
		assert.Equal(t, http.StatusOK, rec.Code, "format=%s", format)
	}
}

func TestRegistrationAndAccessDenialsPopulateAuditStore(t *testing.T) {
	h := newHarness(t)
	registerAndAdmit(t, h, "agent-audited")

	denied := h.do(t, http.MethodGet, "/agents", nil, "")
	require.Equal(t, http.StatusUnauthorized, denied.Code)

	events := h.deps.AuditStore.Query(audit.Query{})
	require.NotEmpty(t, events, "registration and access-control outcomes must reach the Audit Event Store")

	var sawRegistration, sawSecurity bool
	for _, e := range events {
		if e.Category == audit.CategoryUser && e.Action == "register" {
			sawRegistration = true
		}
		if e.Category == audit.CategorySecurity {
			sawSecurity = true
		}
	}
	assert.True(t, sawRegistration, "expected a registration audit event")
	assert.True(t, sawSecurity, "expected an access-denial audit event")
}

func TestFleetOverviewExportFormats(t *testing.T) {
	h := newHarness(t)
	for _, format := range []string{"", "csv"} {
		rec := h.do(t, http.MethodGet, "/fleet/overview/export?format="+format, nil, h.adminJWT)
		assert.Equal(t, http.StatusOK, rec.Code, "format=%s", format)
	}
}

func TestFleetAuditSummaryRequiresTimeRange(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/fleet/audit-summary", nil, h.adminJWT)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/fleet/audit-summary?start=2026-01-01T00:00:00Z&end=2026-12-31T00:00:00Z", nil, h.adminJWT)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeactivateUserInvalidatesFutureAccess(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/admin/users/admin-1/deactivate", nil, h.adminJWT)
	assert.Equal(t, http.StatusOK, rec.Code)

	after := h.do(t, http.MethodGet, "/agents", nil, h.adminJWT)
	assert.Equal(t, http.StatusUnauthorized, after.Code)
}
