// Package policyvalidator implements the pure validation function for
// policy documents: structural checks, identifier/literal syntax checks,
// and semantic warnings.
//
// Grounded on system/sandbox/policy_loader.go's validate-before-build
// pattern in the teacher repo.
package policyvalidator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cleanfleet/control-plane/internal/app/domain/policy"
)

const currentSchemaVersion = "1.0"

var (
	nameRe     = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	versionRe  = regexp.MustCompile(`^\d+\.\d+$`)
	durationRe = regexp.MustCompile(`^\d+[dwmy]$`)
	sizeRe     = regexp.MustCompile(`(?i)^\d+(\.\d+)?(KB|MB|GB|TB)$`)
)

// Result is the outcome of validating one policy document.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Validate runs every structural and semantic check from spec.md §4.1, in
// order, returning a Result that never panics on malformed input.
func Validate(p policy.Policy) Result {
	var r Result
	r.Errors = checkVersion(p)
	r.Errors = append(r.Errors, checkName(p)...)
	r.Errors = append(r.Errors, checkRules(p)...)
	r.Errors = append(r.Errors, checkExclusions(p)...)
	r.Warnings = warnings(p)
	r.Valid = len(r.Errors) == 0
	return r
}

func checkVersion(p policy.Policy) []string {
	var errs []string
	if !versionRe.MatchString(p.SchemaVersion) {
		errs = append(errs, fmt.Sprintf("schema version %q does not match MAJOR.MINOR", p.SchemaVersion))
		return errs
	}
	if compareVersion(p.SchemaVersion, currentSchemaVersion) > 0 {
		errs = append(errs, fmt.Sprintf("schema version %q is newer than supported %q", p.SchemaVersion, currentSchemaVersion))
	}
	return errs
}

func compareVersion(a, b string) int {
	pa, pb := strings.SplitN(a, ".", 2), strings.SplitN(b, ".", 2)
	amaj, _ := strconv.Atoi(pa[0])
	bmaj, _ := strconv.Atoi(pb[0])
	if amaj != bmaj {
		if amaj < bmaj {
			return -1
		}
		return 1
	}
	amin, bmin := 0, 0
	if len(pa) > 1 {
		amin, _ = strconv.Atoi(pa[1])
	}
	if len(pb) > 1 {
		bmin, _ = strconv.Atoi(pb[1])
	}
	if amin == bmin {
		return 0
	}
	if amin < bmin {
		return -1
	}
	return 1
}

func checkName(p policy.Policy) []string {
	if !nameRe.MatchString(p.Name) {
		return []string{fmt.Sprintf("policy name %q must be lowercase-kebab", p.Name)}
	}
	return nil
}

func checkRules(p policy.Policy) []string {
	var errs []string
	if len(p.Rules) == 0 {
		errs = append(errs, "policy must declare at least one rule")
		return errs
	}
	seen := make(map[string]struct{}, len(p.Rules))
	for _, rule := range p.Rules {
		if rule.ID == "" {
			errs = append(errs, "rule id must not be empty")
			continue
		}
		if !nameRe.MatchString(rule.ID) {
			errs = append(errs, fmt.Sprintf("rule id %q must be lowercase-kebab", rule.ID))
		}
		if _, dup := seen[rule.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate rule id %q", rule.ID))
		}
		seen[rule.ID] = struct{}{}
		errs = append(errs, checkCondition(rule)...)
	}
	return errs
}

func checkCondition(rule policy.Rule) []string {
	if rule.Conditions == nil {
		return nil
	}
	var errs []string
	c := rule.Conditions
	if c.OlderThan != "" && !durationRe.MatchString(c.OlderThan) {
		errs = append(errs, fmt.Sprintf("rule %q: invalid duration literal %q", rule.ID, c.OlderThan))
	}
	for label, lit := range map[string]string{
		"minFreeSpace": c.MinFreeSpace, "maxFreeSpace": c.MaxFreeSpace,
		"minFileSize": c.MinFileSize, "maxFileSize": c.MaxFileSize,
	} {
		if lit != "" && !sizeRe.MatchString(lit) {
			errs = append(errs, fmt.Sprintf("rule %q: invalid size literal %q (%s)", rule.ID, lit, label))
		}
	}
	if c.HourRange != nil {
		if c.HourRange.Start < 0 || c.HourRange.Start > 23 || c.HourRange.End < 0 || c.HourRange.End > 23 {
			errs = append(errs, fmt.Sprintf("rule %q: hour range must be within 0-23", rule.ID))
		}
	}
	return errs
}

func checkExclusions(p policy.Policy) []string {
	var errs []string
	for _, ex := range p.Exclusions {
		if ex == "" {
			errs = append(errs, "exclusion pattern must not be empty")
			continue
		}
		if !isValidExclusion(ex) {
			errs = append(errs, fmt.Sprintf("exclusion pattern %q must start with ~, /, or contain a wildcard/path separator", ex))
		}
	}
	return errs
}

func isValidExclusion(ex string) bool {
	if strings.HasPrefix(ex, "~") || strings.HasPrefix(ex, "/") {
		return true
	}
	return strings.ContainsAny(ex, "*?") || strings.Contains(ex, "/")
}

func warnings(p policy.Policy) []string {
	var warns []string
	if len(p.Exclusions) == 0 {
		for _, rule := range p.Rules {
			if rule.Target == policy.TargetDownloads || rule.Target == policy.TargetAll {
				warns = append(warns, "aggressive policy targets downloads/all with no exclusions")
				break
			}
		}
	}
	if !p.Notifications {
		for _, rule := range p.Rules {
			if rule.Schedule != policy.ScheduleManual {
				warns = append(warns, "notifications disabled alongside a non-manual schedule")
				break
			}
		}
	}
	if p.Priority == policy.PriorityCritical {
		for _, rule := range p.Rules {
			if rule.Conditions == nil {
				warns = append(warns, "critical priority policy has unconditioned rules")
				break
			}
		}
	}
	return warns
}
