// Package registration implements the Registration Service: an admission
// gate in front of the Agent Registry.
package registration

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cleanfleet/control-plane/internal/app/apperrors"
	"github.com/cleanfleet/control-plane/internal/app/domain/agent"
	"github.com/cleanfleet/control-plane/internal/app/domain/audit"
	regdomain "github.com/cleanfleet/control-plane/internal/app/domain/registration"
	"github.com/cleanfleet/control-plane/internal/app/services/registry"
)

// Registrar is the subset of *registry.Registry the service needs.
type Registrar interface {
	Register(identity agent.Identity, capabilities map[string]struct{}) (agent.Registered, error)
}

// AuditRecorder receives a fleet-wide audit event plus a short compliance
// log line for every registration outcome.
type AuditRecorder interface {
	Insert(e audit.Event)
	RecordAuditLog(agentID, severity, category, message string)
}

// Service gates registration via a configurable admission policy.
type Service struct {
	cfg      regdomain.Config
	registry Registrar
	audit    AuditRecorder

	mu      sync.Mutex
	pending map[string]regdomain.Request
}

// New constructs a registration Service.
func New(cfg regdomain.Config, reg Registrar) *Service {
	return &Service{
		cfg:      cfg,
		registry: reg,
		pending:  make(map[string]regdomain.Request),
	}
}

// SetAuditRecorder wires an audit sink after construction. nil is a valid
// no-op sink (the default).
func (s *Service) SetAuditRecorder(rec AuditRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = rec
}

// ProcessRegistration applies the admission policy to req.
func (s *Service) ProcessRegistration(req regdomain.Request) (regdomain.Outcome, error) {
	outcome, err := s.processRegistration(req)
	s.recordOutcome(req.Identity.ID, outcome, err)
	return outcome, err
}

func (s *Service) processRegistration(req regdomain.Request) (regdomain.Outcome, error) {
	if s.cfg.MinimumAppVersion != "" && compareSemver(req.Identity.AppVersion, s.cfg.MinimumAppVersion) < 0 {
		return regdomain.Outcome{Result: regdomain.ResultDenied, Reason: "versionTooOld"},
			apperrors.VersionTooOld(req.Identity.AppVersion, s.cfg.MinimumAppVersion)
	}

	if missing := missingCapabilities(s.cfg.RequiredCapabilities, req.Capabilities); len(missing) > 0 {
		return regdomain.Outcome{Result: regdomain.ResultDenied, Reason: "missingCapabilities"},
			apperrors.MissingCapabilities(missing)
	}

	switch s.cfg.Policy {
	case regdomain.AdmissionManual:
		s.mu.Lock()
		s.pending[req.Identity.ID] = req
		s.mu.Unlock()
		return regdomain.Outcome{Result: regdomain.ResultPending}, nil

	case regdomain.AdmissionWhitelist:
		if _, ok := s.cfg.WhitelistedSerialHashes[req.Identity.SerialNumberHash]; !ok {
			return regdomain.Outcome{Result: regdomain.ResultDenied, Reason: "notWhitelisted"}, nil
		}
		return s.admit(req)

	case regdomain.AdmissionHostnamePattern:
		if !anyPatternMatches(s.cfg.HostnamePatterns, req.Identity.Hostname) {
			return regdomain.Outcome{Result: regdomain.ResultDenied, Reason: "hostnameNotAllowed"}, nil
		}
		return s.admit(req)

	default: // AdmissionAuto
		return s.admit(req)
	}
}

func (s *Service) admit(req regdomain.Request) (regdomain.Outcome, error) {
	row, err := s.registry.Register(req.Identity, req.Capabilities)
	if err != nil {
		return regdomain.Outcome{}, err
	}
	return regdomain.Outcome{
		Result:    regdomain.ResultAdmitted,
		Agent:     &row,
		AuthToken: row.AuthToken,
	}, nil
}

// ApproveManualRegistration admits a previously-queued pending request.
func (s *Service) ApproveManualRegistration(id string) (regdomain.Outcome, error) {
	s.mu.Lock()
	req, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		err := apperrors.New(apperrors.CodeRegistrationPending, "no pending registration for agent", 404)
		s.recordOutcome(id, regdomain.Outcome{Result: regdomain.ResultDenied, Reason: "noPendingRegistration"}, err)
		return regdomain.Outcome{}, err
	}
	outcome, err := s.admit(req)
	s.recordOutcome(id, outcome, err)
	return outcome, err
}

func (s *Service) recordOutcome(agentID string, outcome regdomain.Outcome, err error) {
	if s.audit == nil {
		return
	}
	severity, result := audit.SeverityInfo, audit.ResultSuccess
	if outcome.Result != regdomain.ResultAdmitted {
		severity, result = audit.SeverityWarning, audit.ResultFailure
	}
	reason := outcome.Reason
	if err != nil && reason == "" {
		reason = err.Error()
	}
	s.audit.Insert(audit.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Category:  audit.CategoryUser,
		Severity:  severity,
		Actor:     "registration",
		Target:    agentID,
		Action:    "register",
		Result:    result,
		Metadata:  map[string]string{"outcome": string(outcome.Result), "reason": reason},
	})
	s.audit.RecordAuditLog(agentID, string(severity), "registration", "registration "+string(outcome.Result))
}

// IsRegistrationPending reports whether id has a queued manual request.
func (s *Service) IsRegistrationPending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

func missingCapabilities(required, have map[string]struct{}) []string {
	var missing []string
	for cap := range required {
		if _, ok := have[cap]; !ok {
			missing = append(missing, cap)
		}
	}
	return missing
}

func anyPatternMatches(patterns []string, hostname string) bool {
	for _, p := range patterns {
		if ok, err := filepath.Match(p, hostname); err == nil && ok {
			return true
		}
	}
	return false
}

// compareSemver compares two "MAJOR.MINOR.PATCH"-shaped strings, returning
// -1, 0, or 1. Non-numeric or short components compare as 0.
func compareSemver(a, b string) int {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < 3; i++ {
		av, bv := component(as, i), component(bs, i)
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func component(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n := 0
	for _, r := range parts[i] {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}
