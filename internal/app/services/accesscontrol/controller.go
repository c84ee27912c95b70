// Package accesscontrol authorises requests against a declarative table
// of (resource pattern, methods, required permissions) policies, backed
// by the Token Provider for identity and a session cache for repeat hits.
package accesscontrol

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cleanfleet/control-plane/internal/app/domain/audit"
	"github.com/cleanfleet/control-plane/internal/app/domain/authz"
)

// Policy is one row of the access table.
type Policy struct {
	ResourcePattern     string
	Methods             []string
	RequiredPermissions []authz.Permission
}

// TokenValidator abstracts the Token Provider so this package does not
// import it directly.
type TokenValidator interface {
	Validate(token string) (authz.Claims, error)
}

// UserDirectory optionally reports whether a user id is still active.
// When absent, every authenticated user is treated as active.
// useraccounts.Store implements it.
type UserDirectory interface {
	IsActive(userID string) (active bool, known bool)
}

// Config configures audit and logging behaviour.
type Config struct {
	LogAllAccess    bool
	LogDeniedAccess bool
	MaxAuditEntries int
}

// AuditRecorder receives a fleet-wide audit event for every denied access
// request; granted requests only populate the Controller's own in-memory
// audit ring (RecentAuditEntries/DeniedAccessAttempts).
type AuditRecorder interface {
	Insert(e audit.Event)
}

// Controller is the Access Controller.
type Controller struct {
	cfg      Config
	policies []Policy
	tokens   TokenValidator
	users    UserDirectory
	recorder AuditRecorder

	mu       sync.Mutex
	sessions map[string]authz.Session
	audit    []authz.AuditEntry
}

// New constructs a Controller. users may be nil.
func New(cfg Config, policies []Policy, tokens TokenValidator, users UserDirectory) *Controller {
	return &Controller{
		cfg:      cfg,
		policies: policies,
		tokens:   tokens,
		users:    users,
		sessions: make(map[string]authz.Session),
	}
}

// SetAuditRecorder wires a fleet-wide audit sink after construction. nil is
// a valid no-op sink (the default).
func (c *Controller) SetAuditRecorder(rec AuditRecorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorder = rec
}

// Validate authorises one request per spec.md §4.10's seven-step algorithm.
func (c *Controller) Validate(req authz.AccessRequest) authz.AccessResult {
	matching := c.matchingPolicies(req.Resource, req.Method)
	if len(matching) == 0 {
		return c.finish(req, authz.AccessResult{Granted: false, DenialReason: authz.DenialForbidden})
	}

	if allPublic(matching) {
		return c.finish(req, authz.AccessResult{Granted: true})
	}

	if req.Token == "" {
		return c.finish(req, authz.AccessResult{Granted: false, DenialReason: authz.DenialUnauthorized})
	}

	claims, err := c.tokens.Validate(req.Token)
	if err != nil {
		return c.finish(req, authz.AccessResult{Granted: false, DenialReason: authz.DenialUnauthorized})
	}

	session := c.sessionFor(claims)
	if c.users != nil {
		if active, known := c.users.IsActive(session.UserID); known && !active {
			return c.finish(req, authz.AccessResult{
				Granted: false, UserID: session.UserID, Username: session.Username,
				Role: session.Role, DenialReason: authz.DenialUnauthorized,
			})
		}
	}

	required := unionPermissions(matching)
	for _, perm := range required {
		if !session.Role.Has(perm) {
			return c.finish(req, authz.AccessResult{
				Granted: false, UserID: session.UserID, Username: session.Username,
				Role: session.Role, DenialReason: authz.DenialForbidden, MissingPerms: []authz.Permission{perm},
			})
		}
	}

	c.mu.Lock()
	c.sessions[session.UserID] = session
	c.mu.Unlock()

	return c.finish(req, authz.AccessResult{
		Granted: true, UserID: session.UserID, Username: session.Username, Role: session.Role,
	})
}

func (c *Controller) matchingPolicies(resource, method string) []Policy {
	var out []Policy
	for _, p := range c.policies {
		if matchPattern(p.ResourcePattern, resource) && methodAllowed(p.Methods, method) {
			out = append(out, p)
		}
	}
	return out
}

func allPublic(policies []Policy) bool {
	for _, p := range policies {
		if len(p.RequiredPermissions) > 0 {
			return false
		}
	}
	return true
}

func unionPermissions(policies []Policy) []authz.Permission {
	seen := make(map[authz.Permission]struct{})
	var out []authz.Permission
	for _, p := range policies {
		for _, perm := range p.RequiredPermissions {
			if _, ok := seen[perm]; !ok {
				seen[perm] = struct{}{}
				out = append(out, perm)
			}
		}
	}
	return out
}

func (c *Controller) sessionFor(claims authz.Claims) authz.Session {
	c.mu.Lock()
	existing, ok := c.sessions[claims.Subject]
	c.mu.Unlock()
	if ok && existing.Role == claims.Role {
		return existing
	}
	return authz.Session{
		UserID:    claims.Subject,
		Username:  claims.Username,
		Role:      claims.Role,
		CreatedAt: time.Now().UTC(),
	}
}

func (c *Controller) finish(req authz.AccessRequest, result authz.AccessResult) authz.AccessResult {
	shouldLog := c.cfg.LogAllAccess || (c.cfg.LogDeniedAccess && !result.Granted)
	if shouldLog {
		c.recordAudit(authz.AuditEntry{
			Timestamp: time.Now().UTC(),
			UserID:    result.UserID,
			Resource:  req.Resource,
			Method:    req.Method,
			Granted:   result.Granted,
			Reason:    result.DenialReason,
			ClientIP:  req.ClientIP,
		})
	}
	if !result.Granted && c.recorder != nil {
		actor := result.UserID
		if actor == "" {
			actor = "anonymous"
		}
		c.recorder.Insert(audit.Event{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Category:  audit.CategorySecurity,
			Severity:  audit.SeverityWarning,
			Actor:     actor,
			Username:  result.Username,
			Target:    req.Resource,
			Action:    req.Method,
			Result:    audit.ResultFailure,
			Metadata:  map[string]string{"reason": string(result.DenialReason), "clientIp": req.ClientIP},
		})
	}
	return result
}

func (c *Controller) recordAudit(e authz.AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audit = append(c.audit, e)
	max := c.cfg.MaxAuditEntries
	if max > 0 && len(c.audit) > max {
		c.audit = c.audit[len(c.audit)-max:]
	}
}

// CheckPermission is a convenience probe consulting the Token Provider.
func (c *Controller) CheckPermission(token string, perm authz.Permission) bool {
	claims, err := c.tokens.Validate(token)
	if err != nil {
		return false
	}
	return claims.Role.Has(perm)
}

// CheckRole is a convenience probe consulting the Token Provider.
func (c *Controller) CheckRole(token string, minRole authz.Role) bool {
	claims, err := c.tokens.Validate(token)
	if err != nil {
		return false
	}
	return claims.Role.AtLeast(minRole)
}

// InvalidateSession removes a cached session, forcing re-derivation from
// claims on the user's next request.
func (c *Controller) InvalidateSession(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, userID)
}

// RecentAuditEntries returns up to limit entries, newest first.
func (c *Controller) RecentAuditEntries(limit int) []authz.AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return reversedTail(c.audit, limit)
}

// DeniedAccessAttempts returns up to limit denied entries, newest first.
func (c *Controller) DeniedAccessAttempts(limit int) []authz.AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var denied []authz.AuditEntry
	for _, e := range c.audit {
		if !e.Granted {
			denied = append(denied, e)
		}
	}
	return reversedTail(denied, limit)
}

func reversedTail(entries []authz.AuditEntry, limit int) []authz.AuditEntry {
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	tail := entries[len(entries)-limit:]
	out := make([]authz.AuditEntry, len(tail))
	for i, e := range tail {
		out[len(tail)-1-i] = e
	}
	return out
}
