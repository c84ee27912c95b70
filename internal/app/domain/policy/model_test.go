package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePriorityRecognizesKnownValues(t *testing.T) {
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityHigh, ParsePriority("high"))
	assert.Equal(t, PriorityCritical, ParsePriority("critical"))
}

func TestParsePriorityDefaultsToNormal(t *testing.T) {
	assert.Equal(t, PriorityNormal, ParsePriority("unknown"))
	assert.Equal(t, PriorityNormal, ParsePriority(""))
}

func TestPriorityStringRoundTripsThroughParse(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical} {
		assert.Equal(t, p, ParsePriority(p.String()))
	}
}

func TestPriorityLessOrdersAscending(t *testing.T) {
	assert.True(t, PriorityLow.Less(PriorityNormal))
	assert.True(t, PriorityNormal.Less(PriorityHigh))
	assert.True(t, PriorityHigh.Less(PriorityCritical))
	assert.False(t, PriorityCritical.Less(PriorityLow))
}

func TestHourRangeContainsWithoutWraparound(t *testing.T) {
	r := HourRange{Start: 9, End: 17}
	assert.True(t, r.Contains(9))
	assert.True(t, r.Contains(17))
	assert.True(t, r.Contains(13))
	assert.False(t, r.Contains(8))
	assert.False(t, r.Contains(18))
}

func TestHourRangeContainsWithWraparound(t *testing.T) {
	r := HourRange{Start: 22, End: 4}
	assert.True(t, r.Contains(23))
	assert.True(t, r.Contains(0))
	assert.True(t, r.Contains(4))
	assert.False(t, r.Contains(12))
}

func TestPolicyRuleIDsPreservesOrder(t *testing.T) {
	p := Policy{Rules: []Rule{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	assert.Equal(t, []string{"a", "b", "c"}, p.RuleIDs())
}

func TestPolicyHasRule(t *testing.T) {
	p := Policy{Rules: []Rule{{ID: "clear-cache"}}}
	assert.True(t, p.HasRule("clear-cache"))
	assert.False(t, p.HasRule("missing"))
}

func TestPolicyRuleByID(t *testing.T) {
	p := Policy{Rules: []Rule{{ID: "clear-cache", Target: TargetAppCaches}}}

	rule, ok := p.RuleByID("clear-cache")
	assert.True(t, ok)
	assert.Equal(t, TargetAppCaches, rule.Target)

	_, ok = p.RuleByID("missing")
	assert.False(t, ok)
}
