package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func category(c Category) *Category { return &c }
func result(r Result) *Result       { return &r }
func severity(s Severity) *Severity { return &s }
func at(d time.Duration) *time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(d)
	return &t
}

func TestQueryMatchesEmptyQueryAcceptsAnyEvent(t *testing.T) {
	q := Query{}
	assert.True(t, q.Matches(Event{Category: CategoryCleanup, Result: ResultSuccess}))
}

func TestQueryMatchesFiltersByCategory(t *testing.T) {
	q := Query{Category: category(CategoryPolicy)}
	assert.True(t, q.Matches(Event{Category: CategoryPolicy}))
	assert.False(t, q.Matches(Event{Category: CategoryCleanup}))
}

func TestQueryMatchesFiltersByResultAndSeverity(t *testing.T) {
	q := Query{Result: result(ResultFailure), Severity: severity(SeverityCritical)}
	assert.True(t, q.Matches(Event{Result: ResultFailure, Severity: SeverityCritical}))
	assert.False(t, q.Matches(Event{Result: ResultSuccess, Severity: SeverityCritical}))
	assert.False(t, q.Matches(Event{Result: ResultFailure, Severity: SeverityWarning}))
}

func TestQueryMatchesFiltersBySessionID(t *testing.T) {
	q := Query{SessionID: "sess-1"}
	assert.True(t, q.Matches(Event{SessionID: "sess-1"}))
	assert.False(t, q.Matches(Event{SessionID: "sess-2"}))
}

func TestQueryMatchesActorContainsIsCaseInsensitive(t *testing.T) {
	q := Query{ActorContains: "ADMIN"}
	assert.True(t, q.Matches(Event{Actor: "admin-1"}))
	assert.True(t, q.Matches(Event{Actor: "the-Admin-account"}))
	assert.False(t, q.Matches(Event{Actor: "operator-1"}))
}

func TestQueryMatchesTimeRange(t *testing.T) {
	q := Query{Since: at(time.Hour), Until: at(3 * time.Hour)}
	assert.False(t, q.Matches(Event{Timestamp: *at(0)}))
	assert.True(t, q.Matches(Event{Timestamp: *at(2 * time.Hour)}))
	assert.False(t, q.Matches(Event{Timestamp: *at(4 * time.Hour)}))
}

func TestQueryMatchesCombinesAllPredicates(t *testing.T) {
	q := Query{Category: category(CategorySecurity), Result: result(ResultFailure), ActorContains: "agent"}
	assert.True(t, q.Matches(Event{Category: CategorySecurity, Result: ResultFailure, Actor: "agent-7"}))
	assert.False(t, q.Matches(Event{Category: CategorySecurity, Result: ResultSuccess, Actor: "agent-7"}))
}
