// Package policy defines the declarative cleanup policy document schema.
package policy

import "time"

// Priority orders policies for distribution and merge precedence.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Less reports whether p sorts before other in ascending priority order.
func (p Priority) Less(other Priority) bool { return p < other }

// ParsePriority maps a wire string to Priority; unrecognized strings yield
// PriorityNormal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Target names the kind of data a rule cleans.
type Target string

const (
	TargetSystemCaches     Target = "system-caches"
	TargetAppCaches        Target = "app-caches"
	TargetBrowserCaches    Target = "browser-caches"
	TargetDeveloperCaches  Target = "developer-caches"
	TargetPackageCaches    Target = "package-caches"
	TargetSystemLogs       Target = "system-logs"
	TargetAppLogs          Target = "app-logs"
	TargetDownloads        Target = "downloads"
	TargetTrash            Target = "trash"
	TargetAll              Target = "all"
)

// Action is what a rule does to its target.
type Action string

const (
	ActionClean  Action = "clean"
	ActionReport Action = "report"
)

// Schedule is when a rule runs.
type Schedule string

const (
	ScheduleManual  Schedule = "manual"
	ScheduleDaily   Schedule = "daily"
	ScheduleWeekly  Schedule = "weekly"
	ScheduleMonthly Schedule = "monthly"
)

// HourRange is an inclusive [Start,End] hour window; Start>End means the
// window wraps past midnight.
type HourRange struct {
	Start int
	End   int
}

// Contains reports whether hour (0-23) falls within the range, accounting
// for wraparound.
func (h HourRange) Contains(hour int) bool {
	if h.Start <= h.End {
		return hour >= h.Start && hour <= h.End
	}
	return hour >= h.Start || hour <= h.End
}

// Condition gates whether a rule applies. All set fields must hold.
type Condition struct {
	OlderThan       string // duration literal, e.g. "30d"
	MinFreeSpace    string // size literal, e.g. "5GB"
	MaxFreeSpace    string
	MinFileSize     string
	MaxFileSize     string
	WeekdaysOnly    bool
	HourRange       *HourRange
}

// Rule is one cleanup action within a policy.
type Rule struct {
	ID          string
	Target      Target
	Action      Action
	Schedule    Schedule
	Enabled     bool
	Conditions  *Condition
	Description string
}

// Policy is a versioned declarative cleanup document.
type Policy struct {
	SchemaVersion    string
	Name             string
	DisplayName      string
	Description      string
	Rules            []Rule
	Exclusions       []string
	Notifications    bool
	Priority         Priority
	Enabled          bool
	Tags             map[string]struct{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RuleIDs returns the ordered list of rule identifiers.
func (p Policy) RuleIDs() []string {
	ids := make([]string, len(p.Rules))
	for i, r := range p.Rules {
		ids[i] = r.ID
	}
	return ids
}

// HasRule reports whether id is present among p's rules.
func (p Policy) HasRule(id string) bool {
	for _, r := range p.Rules {
		if r.ID == id {
			return true
		}
	}
	return false
}

// RuleByID returns the rule with the given id, if present.
func (p Policy) RuleByID(id string) (Rule, bool) {
	for _, r := range p.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}
