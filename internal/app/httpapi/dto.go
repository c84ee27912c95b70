package httpapi

import (
	"time"

	"github.com/cleanfleet/control-plane/internal/app/domain/agent"
	"github.com/cleanfleet/control-plane/internal/app/domain/audit"
	"github.com/cleanfleet/control-plane/internal/app/domain/distribution"
	"github.com/cleanfleet/control-plane/internal/app/domain/policy"
	regdomain "github.com/cleanfleet/control-plane/internal/app/domain/registration"
)

func tagsToSlice(tags map[string]struct{}) []string {
	out := make([]string, 0, len(tags))
	for t := range tags {
		out = append(out, t)
	}
	return out
}

func sliceToSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, v := range in {
		out[v] = struct{}{}
	}
	return out
}

// registrationRequestDTO is the wire shape of an inbound registration.
type registrationRequestDTO struct {
	ID               string   `json:"id"`
	Hostname         string   `json:"hostname"`
	OSVersion        string   `json:"osVersion"`
	AppVersion       string   `json:"appVersion"`
	HardwareModel    string   `json:"hardwareModel"`
	SerialNumberHash string   `json:"serialNumberHash"`
	Username         string   `json:"username"`
	Platform         string   `json:"platform"`
	Chip             string   `json:"chip"`
	Tags             []string `json:"tags"`
	Capabilities     []string `json:"capabilities"`
}

func (d registrationRequestDTO) toDomain(now time.Time) regdomain.Request {
	return regdomain.Request{
		Identity: agent.Identity{
			ID:               d.ID,
			Hostname:         d.Hostname,
			OSVersion:        d.OSVersion,
			AppVersion:       d.AppVersion,
			HardwareModel:    d.HardwareModel,
			SerialNumberHash: d.SerialNumberHash,
			Username:         d.Username,
			Platform:         d.Platform,
			Chip:             d.Chip,
			RegisteredAt:     now,
			Tags:             sliceToSet(d.Tags),
		},
		Capabilities: sliceToSet(d.Capabilities),
	}
}

type registrationResponseDTO struct {
	Result    string `json:"result"`
	AgentID   string `json:"agentId,omitempty"`
	AuthToken string `json:"authToken,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func agentToDTO(r agent.Registered) map[string]interface{} {
	out := map[string]interface{}{
		"id":            r.Identity.ID,
		"hostname":      r.Identity.Hostname,
		"osVersion":     r.Identity.OSVersion,
		"appVersion":    r.Identity.AppVersion,
		"platform":      r.Identity.Platform,
		"chip":          r.Identity.Chip,
		"tags":          tagsToSlice(r.Identity.Tags),
		"capabilities":  tagsToSlice(r.Capabilities),
		"state":         r.State,
		"registeredAt":  r.RegisteredAt,
		"lastHeartbeat": r.LastHeartbeat,
	}
	if r.LatestStatus != nil {
		out["health"] = r.LatestStatus.Health
		out["activePolicyCount"] = r.LatestStatus.ActivePolicyCount
		out["diskUsagePercent"] = r.LatestStatus.DiskUsagePercent()
		out["freedBytesTotal"] = r.LatestStatus.FreedBytesTotal
		out["cleanupCount"] = r.LatestStatus.CleanupCount
	}
	return out
}

type heartbeatRequestDTO struct {
	ConnectionState    string `json:"connectionState"`
	Health             string `json:"health"`
	ActivePolicyCount  int    `json:"activePolicyCount"`
	TotalDiskBytes     int64  `json:"totalDiskBytes"`
	AvailableDiskBytes int64  `json:"availableDiskBytes"`
	FreedBytesTotal    int64  `json:"freedBytesTotal"`
	CleanupCount       int64  `json:"cleanupCount"`
}

func (d heartbeatRequestDTO) toDomain(now time.Time) agent.Status {
	return agent.Status{
		ConnectionState:    agent.ConnectionState(d.ConnectionState),
		Health:             agent.Health(d.Health),
		ReportedAt:         now,
		ActivePolicyCount:  d.ActivePolicyCount,
		TotalDiskBytes:     d.TotalDiskBytes,
		AvailableDiskBytes: d.AvailableDiskBytes,
		FreedBytesTotal:    d.FreedBytesTotal,
		CleanupCount:       d.CleanupCount,
	}
}

type ackRequestDTO struct {
	DistributionID string `json:"distributionId"`
	Version        int    `json:"version"`
}

type completeRequestDTO struct {
	DistributionID string `json:"distributionId"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

type ruleDTO struct {
	ID          string             `json:"id"`
	Target      string             `json:"target"`
	Action      string             `json:"action"`
	Schedule    string             `json:"schedule"`
	Enabled     bool               `json:"enabled"`
	Description string             `json:"description,omitempty"`
	Conditions  *conditionDTO      `json:"conditions,omitempty"`
}

type conditionDTO struct {
	OlderThan    string `json:"olderThan,omitempty"`
	MinFreeSpace string `json:"minFreeSpace,omitempty"`
	MaxFreeSpace string `json:"maxFreeSpace,omitempty"`
	MinFileSize  string `json:"minFileSize,omitempty"`
	MaxFileSize  string `json:"maxFileSize,omitempty"`
	WeekdaysOnly bool   `json:"weekdaysOnly,omitempty"`
}

type policyDTO struct {
	SchemaVersion string    `json:"schemaVersion"`
	Name          string    `json:"name"`
	DisplayName   string    `json:"displayName"`
	Description   string    `json:"description,omitempty"`
	Rules         []ruleDTO `json:"rules"`
	Exclusions    []string  `json:"exclusions,omitempty"`
	Notifications bool      `json:"notifications"`
	Priority      string    `json:"priority"`
	Enabled       bool      `json:"enabled"`
	Tags          []string  `json:"tags,omitempty"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

func policyToDTO(p policy.Policy) policyDTO {
	rules := make([]ruleDTO, 0, len(p.Rules))
	for _, r := range p.Rules {
		rd := ruleDTO{
			ID: r.ID, Target: string(r.Target), Action: string(r.Action),
			Schedule: string(r.Schedule), Enabled: r.Enabled, Description: r.Description,
		}
		if r.Conditions != nil {
			rd.Conditions = &conditionDTO{
				OlderThan: r.Conditions.OlderThan, MinFreeSpace: r.Conditions.MinFreeSpace,
				MaxFreeSpace: r.Conditions.MaxFreeSpace, MinFileSize: r.Conditions.MinFileSize,
				MaxFileSize: r.Conditions.MaxFileSize, WeekdaysOnly: r.Conditions.WeekdaysOnly,
			}
		}
		rules = append(rules, rd)
	}
	return policyDTO{
		SchemaVersion: p.SchemaVersion, Name: p.Name, DisplayName: p.DisplayName,
		Description: p.Description, Rules: rules, Exclusions: p.Exclusions,
		Notifications: p.Notifications, Priority: p.Priority.String(), Enabled: p.Enabled,
		Tags: tagsToSlice(p.Tags), CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func (d policyDTO) toDomain() policy.Policy {
	rules := make([]policy.Rule, 0, len(d.Rules))
	for _, rd := range d.Rules {
		rule := policy.Rule{
			ID: rd.ID, Target: policy.Target(rd.Target), Action: policy.Action(rd.Action),
			Schedule: policy.Schedule(rd.Schedule), Enabled: rd.Enabled, Description: rd.Description,
		}
		if rd.Conditions != nil {
			rule.Conditions = &policy.Condition{
				OlderThan: rd.Conditions.OlderThan, MinFreeSpace: rd.Conditions.MinFreeSpace,
				MaxFreeSpace: rd.Conditions.MaxFreeSpace, MinFileSize: rd.Conditions.MinFileSize,
				MaxFileSize: rd.Conditions.MaxFileSize, WeekdaysOnly: rd.Conditions.WeekdaysOnly,
			}
		}
		rules = append(rules, rule)
	}
	return policy.Policy{
		SchemaVersion: d.SchemaVersion, Name: d.Name, DisplayName: d.DisplayName,
		Description: d.Description, Rules: rules, Exclusions: d.Exclusions,
		Notifications: d.Notifications, Priority: policy.ParsePriority(d.Priority), Enabled: d.Enabled,
		Tags: sliceToSet(d.Tags),
	}
}

type distributeRequestDTO struct {
	PolicyName string   `json:"policyName"`
	TargetKind string   `json:"targetKind"`
	AgentIDs   []string `json:"agentIds,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Capability []string `json:"capabilities,omitempty"`
}

func (d distributeRequestDTO) toTarget() distribution.Target {
	switch distribution.TargetKind(d.TargetKind) {
	case distribution.TargetAgents:
		return distribution.AgentsTarget(d.AgentIDs...)
	case distribution.TargetTags:
		return distribution.TagsTarget(d.Tags...)
	case distribution.TargetCapabilities:
		return distribution.CapabilitiesTarget(d.Capability...)
	default:
		return distribution.AllTarget()
	}
}

func distributionStatusToDTO(s distribution.Status) map[string]interface{} {
	agents := make(map[string]interface{}, len(s.AgentStatus))
	for id, st := range s.AgentStatus {
		agents[id] = map[string]interface{}{
			"state": st.State, "retryCount": st.RetryCount, "error": st.Error,
		}
	}
	return map[string]interface{}{
		"id": s.ID, "policyName": s.PolicyName, "version": s.Version,
		"initiatedAt": s.InitiatedAt, "completedAt": s.CompletedAt,
		"outcome": s.Outcome, "successRate": s.SuccessRate(), "total": s.Total(),
		"agentStatus": agents,
	}
}

func auditEventToDTO(e audit.Event) map[string]interface{} {
	return map[string]interface{}{
		"id": e.ID, "timestamp": e.Timestamp, "category": e.Category,
		"severity": e.Severity, "actor": e.Actor, "target": e.Target,
		"action": e.Action, "result": e.Result, "hostname": e.Hostname,
		"username": e.Username, "sessionId": e.SessionID, "metadata": e.Metadata,
	}
}
