// Package httpapi is the HTTP ingress: a gorilla/mux router, a fixed
// middleware chain, and one handler file per resource group translating
// wire requests into calls against the control plane's components.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cleanfleet/control-plane/internal/app/domain/authz"
	"github.com/cleanfleet/control-plane/internal/app/metrics"
	"github.com/cleanfleet/control-plane/internal/app/services/accesscontrol"
	"github.com/cleanfleet/control-plane/internal/app/services/auditstore"
	"github.com/cleanfleet/control-plane/internal/app/services/compliance"
	"github.com/cleanfleet/control-plane/internal/app/services/distributor"
	"github.com/cleanfleet/control-plane/internal/app/services/heartbeat"
	"github.com/cleanfleet/control-plane/internal/app/services/policystore"
	"github.com/cleanfleet/control-plane/internal/app/services/registration"
	"github.com/cleanfleet/control-plane/internal/app/services/registry"
	"github.com/cleanfleet/control-plane/internal/app/services/tokenprovider"
	"github.com/cleanfleet/control-plane/internal/app/services/useraccounts"
	"github.com/cleanfleet/control-plane/pkg/logger"
)

// Deps bundles every component the ingress layer dispatches to.
type Deps struct {
	Registry     *registry.Registry
	Registration *registration.Service
	Heartbeat    *heartbeat.Monitor
	Distributor  *distributor.Distributor
	PolicyStore  *policystore.Store
	AuditStore   *auditstore.Store
	Reporter     *compliance.Reporter
	Tokens       *tokenprovider.Provider
	Access       *accesscontrol.Controller
	Accounts     *useraccounts.Store
	Metrics      *metrics.Metrics
	Log          *logger.Logger
}

// AccessPolicies is the declarative (resource, methods, permissions) table
// the Access Controller authorizes every request against. Agent-facing
// endpoints (registration, heartbeat, ack, complete) carry their own
// agent-issued token, verified inside the handler, and are left public
// here; everything else requires a user-issued JWT and role permission.
func AccessPolicies() []accesscontrol.Policy {
	return []accesscontrol.Policy{
		{ResourcePattern: "/healthz", Methods: []string{"GET"}},
		{ResourcePattern: "/metrics", Methods: []string{"GET"}},
		{ResourcePattern: "/auth/login", Methods: []string{"POST"}},
		{ResourcePattern: "/auth/refresh", Methods: []string{"POST"}},
		{ResourcePattern: "/agents/register", Methods: []string{"POST"}},
		{ResourcePattern: "/agents/{id}/heartbeat", Methods: []string{"POST"}},
		{ResourcePattern: "/agents/{id}/ack", Methods: []string{"POST"}},
		{ResourcePattern: "/agents/{id}/complete", Methods: []string{"POST"}},

		{ResourcePattern: "/auth/logout", Methods: []string{"POST"}, RequiredPermissions: []authz.Permission{authz.PermViewAgents}},

		{ResourcePattern: "/agents", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewAgents}},
		{ResourcePattern: "/agents/{id}", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewAgents}},
		{ResourcePattern: "/agents/{id}", Methods: []string{"DELETE"}, RequiredPermissions: []authz.Permission{authz.PermDeleteAgents}},
		{ResourcePattern: "/agents/{id}/stats", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewAgents}},
		{ResourcePattern: "/agents/{id}/report", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewReports}},
		{ResourcePattern: "/agents/{id}/registration/approve", Methods: []string{"POST"}, RequiredPermissions: []authz.Permission{authz.PermRegisterAgents}},

		{ResourcePattern: "/policies", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewPolicies}},
		{ResourcePattern: "/policies", Methods: []string{"POST"}, RequiredPermissions: []authz.Permission{authz.PermCreatePolicies}},
		{ResourcePattern: "/policies/import", Methods: []string{"POST"}, RequiredPermissions: []authz.Permission{authz.PermCreatePolicies}},
		{ResourcePattern: "/policies/{name}", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewPolicies}},
		{ResourcePattern: "/policies/{name}", Methods: []string{"PUT"}, RequiredPermissions: []authz.Permission{authz.PermCreatePolicies}},
		{ResourcePattern: "/policies/{name}", Methods: []string{"DELETE"}, RequiredPermissions: []authz.Permission{authz.PermDeletePolicies}},
		{ResourcePattern: "/policies/{name}/export", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewPolicies}},
		{ResourcePattern: "/policies/{name}/validate", Methods: []string{"POST"}, RequiredPermissions: []authz.Permission{authz.PermCreatePolicies}},
		{ResourcePattern: "/policies/{name}/history", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewReports}},

		{ResourcePattern: "/distributions", Methods: []string{"POST"}, RequiredPermissions: []authz.Permission{authz.PermDeployPolicies}},
		{ResourcePattern: "/distributions/{id}", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewReports}},
		{ResourcePattern: "/distributions/{id}/cancel", Methods: []string{"POST"}, RequiredPermissions: []authz.Permission{authz.PermDeployPolicies}},
		{ResourcePattern: "/distributions/{id}/report", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewReports}},

		{ResourcePattern: "/fleet/overview", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewReports}},
		{ResourcePattern: "/fleet/overview/export", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewReports}},
		{ResourcePattern: "/fleet/audit-summary", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewReports}},

		{ResourcePattern: "/audit", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewAudit}},
		{ResourcePattern: "/audit/export", Methods: []string{"GET"}, RequiredPermissions: []authz.Permission{authz.PermViewAudit}},

		{ResourcePattern: "/admin/users/{id}/deactivate", Methods: []string{"POST"}, RequiredPermissions: []authz.Permission{authz.PermDeleteUsers}},
	}
}

// NewRouter builds the ingress router: middleware chain
// logging -> recovery -> CORS -> metrics -> auth, then one route group per
// resource file.
func NewRouter(d *Deps) http.Handler {
	r := mux.NewRouter()

	h := &handlers{deps: d}

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	h.registerAuthRoutes(r)
	h.registerAgentRoutes(r)
	h.registerPolicyRoutes(r)
	h.registerDistributionRoutes(r)
	h.registerReportRoutes(r)
	h.registerAuditRoutes(r)

	// Catch-all OPTIONS route: mux runs middleware only for a matched route,
	// so this lets preflight requests reach corsMiddleware, which answers them.
	r.Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	r.Use(loggingMiddleware(d.Log))
	r.Use(recoveryMiddleware(d.Log))
	r.Use(corsMiddleware)
	r.Use(metricsMiddleware(d.Metrics))
	r.Use(authMiddleware(d.Access, d.Metrics))

	return r
}

// handlers holds the shared dependency bundle every handler_*.go method
// closes over.
type handlers struct {
	deps *Deps
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
