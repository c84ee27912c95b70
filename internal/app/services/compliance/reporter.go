// Package compliance implements the Compliance Reporter: weighted
// per-agent scoring, fleet/agent/policy/audit reports, and JSON/CSV
// export, with its own bounded internal audit ring buffer.
//
// The ring-buffer-plus-recordAuditLog shape is grounded on
// internal/app/httpapi/audit.go's auditLog in the teacher repo.
package compliance

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cleanfleet/control-plane/internal/app/apperrors"
	"github.com/cleanfleet/control-plane/internal/app/domain/agent"
	"github.com/cleanfleet/control-plane/internal/app/domain/compliance"
	"github.com/cleanfleet/control-plane/internal/app/domain/distribution"
)

// RegistryPort is the subset of the Agent Registry the reporter needs.
type RegistryPort interface {
	AllAgents() []agent.Registered
	AgentByID(id string) (agent.Registered, bool)
}

// DistributorPort is the subset of the Policy Distributor the reporter
// needs.
type DistributorPort interface {
	Status(distributionID string) (distribution.Status, bool)
	AllDistributions() []distribution.Status
}

// Config governs scoring weights and bounds.
type Config struct {
	PolicyWeight        float64
	HealthWeight        float64
	ConnectivityWeight  float64
	HeartbeatTimeout    time.Duration
	MaxAuditLogEntries  int
}

// AuditEntry is one internal reporter log line, distinct from the
// fleet-wide Audit Event Store.
type AuditEntry struct {
	AgentID   string
	Severity  string
	Category  string
	Message   string
	Timestamp time.Time
}

// Reporter computes and caches per-agent compliance scores and renders
// fleet-level reports.
type Reporter struct {
	cfg        Config
	registry   RegistryPort
	distributor DistributorPort

	mu        sync.Mutex
	cache     map[string]compliance.Score
	auditLog  []AuditEntry
}

// New constructs a Reporter.
func New(cfg Config, reg RegistryPort, dist DistributorPort) *Reporter {
	return &Reporter{
		cfg:         cfg,
		registry:    reg,
		distributor: dist,
		cache:       make(map[string]compliance.Score),
	}
}

func clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Minute
	}
	return d
}

func healthScore(h agent.Health) float64 {
	switch h {
	case agent.HealthHealthy:
		return 100
	case agent.HealthWarning:
		return 60
	case agent.HealthCritical:
		return 20
	default:
		return 50
	}
}

func connectivityScore(lastHeartbeat, now time.Time, timeout time.Duration) float64 {
	if lastHeartbeat.IsZero() {
		return 0
	}
	elapsed := now.Sub(lastHeartbeat)
	if elapsed <= timeout {
		return 100
	}
	decayWindow := 3 * timeout
	if elapsed >= decayWindow {
		return 0
	}
	return 100 * (1 - float64(elapsed-timeout)/float64(decayWindow-timeout))
}

func (r *Reporter) executionsFor(agentID string) []distribution.AgentDistributionStatus {
	var out []distribution.AgentDistributionStatus
	for _, status := range r.distributor.AllDistributions() {
		if st, ok := status.AgentStatus[agentID]; ok {
			out = append(out, st)
		}
	}
	return out
}

// CalculateScore computes (and caches) agentID's weighted compliance
// score.
func (r *Reporter) CalculateScore(agentID string) (compliance.Score, error) {
	row, ok := r.registry.AgentByID(agentID)
	if !ok {
		return compliance.Score{}, apperrors.AgentNotFound(agentID)
	}

	executions := r.executionsFor(agentID)
	applied, withIssues := 0, 0
	for _, st := range executions {
		if !st.State.IsTerminal() {
			continue
		}
		applied++
		if st.State == distribution.AgentFailed || st.State == distribution.AgentTimedOut {
			withIssues++
		}
	}

	policyScore := 100.0
	if applied > 0 {
		policyScore = 100 * float64(applied-withIssues) / float64(applied)
	}

	health := agent.HealthUnknown
	if row.LatestStatus != nil {
		health = row.LatestStatus.Health
	}
	hScore := healthScore(health)

	now := time.Now().UTC()
	cScore := connectivityScore(row.LastHeartbeat, now, clampTimeout(r.cfg.HeartbeatTimeout))

	overall := r.cfg.PolicyWeight*policyScore + r.cfg.HealthWeight*hScore + r.cfg.ConnectivityWeight*cScore

	score := compliance.NewScore(agentID, overall, policyScore, hScore, cScore, applied, withIssues, now)

	r.mu.Lock()
	r.cache[agentID] = score
	r.mu.Unlock()
	return score, nil
}

// CachedScore returns the most recently calculated score for agentID.
func (r *Reporter) CachedScore(agentID string) (compliance.Score, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.cache[agentID]
	return s, ok
}

// RecordAuditLog appends to the reporter's bounded internal audit ring
// buffer.
func (r *Reporter) RecordAuditLog(agentID, severity, category, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditLog = append(r.auditLog, AuditEntry{
		AgentID: agentID, Severity: severity, Category: category,
		Message: message, Timestamp: time.Now().UTC(),
	})
	max := r.cfg.MaxAuditLogEntries
	if max > 0 && len(r.auditLog) > max {
		r.auditLog = r.auditLog[len(r.auditLog)-max:]
	}
}

// GenerateFleetOverview summarizes the whole fleet's compliance posture.
func (r *Reporter) GenerateFleetOverview(periodStart, periodEnd *time.Time) compliance.FleetOverviewReport {
	rows := r.registry.AllAgents()
	report := compliance.FleetOverviewReport{
		ComplianceLevelBreakdown: make(map[compliance.Level]int),
		PeriodStart:              periodStart,
		PeriodEnd:                periodEnd,
	}
	report.TotalAgents = len(rows)

	var totalScore float64
	for _, row := range rows {
		switch row.State {
		case agent.StateActive:
			report.ActiveAgents++
		case agent.StateOffline:
			report.OfflineAgents++
		}
		score, err := r.CalculateScore(row.Identity.ID)
		if err != nil {
			continue
		}
		totalScore += score.Overall
		report.ComplianceLevelBreakdown[score.ComplianceLevel()]++
		switch score.ComplianceLevel() {
		case compliance.LevelCompliant:
			report.CompliantAgents++
		case compliance.LevelNonCompliant, compliance.LevelPartiallyCompliant:
			report.NonCompliantAgents++
		case compliance.LevelCritical:
			report.CriticalAgents++
		}
		if row.LatestStatus != nil {
			report.TotalBytesFreed += row.LatestStatus.FreedBytesTotal
			report.TotalCleanupOperations += row.LatestStatus.CleanupCount
		}
	}
	if report.TotalAgents > 0 {
		report.AverageComplianceScore = totalScore / float64(report.TotalAgents)
	}

	for _, status := range r.distributor.AllDistributions() {
		report.TotalPoliciesDeployed++
		switch status.Outcome {
		case distribution.OutcomeSucceeded:
			report.SuccessfulDeployments++
		case distribution.OutcomeFailedRollout, distribution.OutcomeRolledBack:
			report.FailedDeployments++
		}
	}
	return report
}

// GenerateAgentReport produces the detailed per-agent compliance view.
func (r *Reporter) GenerateAgentReport(agentID string) (compliance.AgentComplianceReport, error) {
	row, ok := r.registry.AgentByID(agentID)
	if !ok {
		return compliance.AgentComplianceReport{}, apperrors.AgentNotFound(agentID)
	}
	score, err := r.CalculateScore(agentID)
	if err != nil {
		return compliance.AgentComplianceReport{}, err
	}

	tags := make([]string, 0, len(row.Identity.Tags))
	for t := range row.Identity.Tags {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	var executions []compliance.PolicyExecution
	for _, status := range r.distributor.AllDistributions() {
		st, ok := status.AgentStatus[agentID]
		if !ok {
			continue
		}
		executions = append(executions, compliance.PolicyExecution{
			AgentID: agentID, State: string(st.State), Error: st.Error,
		})
	}

	report := compliance.AgentComplianceReport{
		AgentID:          agentID,
		Hostname:         row.Identity.Hostname,
		Tags:             tags,
		ComplianceScore:  score,
		RecentExecutions: executions,
	}
	if row.LatestStatus != nil {
		report.CleanupBytesFreed = row.LatestStatus.FreedBytesTotal
		report.CleanupCount = row.LatestStatus.CleanupCount
	}
	return report, nil
}

// GeneratePolicyExecutionReport summarizes one distribution's rollout.
func (r *Reporter) GeneratePolicyExecutionReport(distributionID string) (compliance.PolicyExecutionReport, error) {
	status, ok := r.distributor.Status(distributionID)
	if !ok {
		return compliance.PolicyExecutionReport{}, apperrors.DistributionNotFound(distributionID)
	}

	ids := make([]string, 0, len(status.AgentStatus))
	for id := range status.AgentStatus {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	perAgent := make([]compliance.PolicyExecution, 0, len(ids))
	for _, id := range ids {
		st := status.AgentStatus[id]
		perAgent = append(perAgent, compliance.PolicyExecution{AgentID: id, State: string(st.State), Error: st.Error})
	}

	return compliance.PolicyExecutionReport{
		DistributionID:      status.ID,
		PolicyName:          status.PolicyName,
		Version:             status.Version,
		TotalTargetedAgents: status.Total(),
		PerAgentStatus:      perAgent,
		SuccessRate:         status.SuccessRate(),
	}, nil
}

// GenerateAuditLogSummary aggregates the reporter's internal audit ring
// buffer between start and end (inclusive).
func (r *Reporter) GenerateAuditLogSummary(start, end time.Time) (compliance.AuditLogSummary, error) {
	if end.Before(start) {
		return compliance.AuditLogSummary{}, apperrors.InvalidDateRange()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	summary := compliance.AuditLogSummary{
		EntriesBySeverity: make(map[string]int),
		EntriesByCategory: make(map[string]int),
	}
	for _, e := range r.auditLog {
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		summary.TotalEntries++
		summary.EntriesBySeverity[e.Severity]++
		summary.EntriesByCategory[e.Category]++
	}
	return summary, nil
}

// ExportJSON pretty-prints any report value.
func ExportJSON(report interface{}) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

// ExportFleetOverviewCSV flattens a FleetOverviewReport into metric/value rows.
func ExportFleetOverviewCSV(r compliance.FleetOverviewReport) ([]byte, error) {
	rows := [][]string{
		{"metric", "value"},
		{"totalAgents", fmt.Sprint(r.TotalAgents)},
		{"activeAgents", fmt.Sprint(r.ActiveAgents)},
		{"offlineAgents", fmt.Sprint(r.OfflineAgents)},
		{"averageComplianceScore", fmt.Sprintf("%.2f", r.AverageComplianceScore)},
		{"compliantAgents", fmt.Sprint(r.CompliantAgents)},
		{"nonCompliantAgents", fmt.Sprint(r.NonCompliantAgents)},
		{"criticalAgents", fmt.Sprint(r.CriticalAgents)},
		{"totalPoliciesDeployed", fmt.Sprint(r.TotalPoliciesDeployed)},
		{"successfulDeployments", fmt.Sprint(r.SuccessfulDeployments)},
		{"failedDeployments", fmt.Sprint(r.FailedDeployments)},
		{"totalBytesFreed", fmt.Sprint(r.TotalBytesFreed)},
		{"totalCleanupOperations", fmt.Sprint(r.TotalCleanupOperations)},
	}
	return writeCSV(rows)
}

// ExportPolicyExecutionCSV flattens a PolicyExecutionReport into one row
// per targeted agent.
func ExportPolicyExecutionCSV(r compliance.PolicyExecutionReport) ([]byte, error) {
	rows := [][]string{{"agentId", "state", "error"}}
	for _, pe := range r.PerAgentStatus {
		rows = append(rows, []string{pe.AgentID, pe.State, pe.Error})
	}
	return writeCSV(rows)
}

func writeCSV(rows [][]string) ([]byte, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}
