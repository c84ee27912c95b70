// Package auditstore implements the Audit Event Store: an append-only log
// with filtered reads, retention sweeps, and pure export derivations.
//
// Generalized from internal/app/httpapi/audit.go's mutex-guarded bounded
// slice and pluggable sink in the teacher repo.
package auditstore

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cleanfleet/control-plane/internal/app/domain/audit"
)

// Sink receives a best-effort copy of every inserted event.
type Sink interface {
	Write(e audit.Event) error
}

// Store is the append-only, mutex-serialised audit log.
type Store struct {
	mu     sync.Mutex
	events []audit.Event
	sink   Sink
	cfg    audit.RetentionConfig
}

// New constructs a Store. sink may be nil.
func New(cfg audit.RetentionConfig, sink Sink) *Store {
	return &Store{cfg: cfg, sink: sink}
}

// Insert appends e, applying the autoVacuum bound before the insert so the
// new row is never itself evicted.
func (s *Store) Insert(e audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.AutoVacuum && s.cfg.MaxEvents > 0 && len(s.events) >= s.cfg.MaxEvents {
		overflow := len(s.events) - s.cfg.MaxEvents + 1
		s.events = s.events[overflow:]
	}
	s.events = append(s.events, e)

	if s.sink != nil {
		_ = s.sink.Write(e)
	}
}

// Query returns every event matching q, applying order and limit last.
func (s *Store) Query(q audit.Query) []audit.Event {
	s.mu.Lock()
	matches := make([]audit.Event, 0, len(s.events))
	for _, e := range s.events {
		if q.Matches(e) {
			matches = append(matches, e)
		}
	}
	s.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		if q.Ascending {
			return matches[i].Timestamp.Before(matches[j].Timestamp)
		}
		return matches[i].Timestamp.After(matches[j].Timestamp)
	})
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches
}

// Count returns the number of events matching q, ignoring limit.
func (s *Store) Count(q audit.Query) int {
	q.Limit = 0
	return len(s.Query(q))
}

// Statistics aggregates the events matching q.
func (s *Store) Statistics(q audit.Query) audit.Statistics {
	matches := s.Query(audit.Query{
		Category: q.Category, Result: q.Result, Severity: q.Severity,
		SessionID: q.SessionID, ActorContains: q.ActorContains,
		Since: q.Since, Until: q.Until, Ascending: true,
	})

	stats := audit.Statistics{
		ByCategory: make(map[audit.Category]int),
		ByResult:   make(map[audit.Result]int),
	}
	for i, e := range matches {
		stats.TotalEvents++
		stats.ByCategory[e.Category]++
		stats.ByResult[e.Result]++
		if freed, ok := e.Metadata["freedBytes"]; ok {
			if n, err := strconv.ParseInt(freed, 10, 64); err == nil {
				stats.TotalFreedBytes += n
			}
		}
		if i == 0 {
			stats.RangeStart = e.Timestamp
		}
		stats.RangeEnd = e.Timestamp
	}
	return stats
}

// Clear removes every event.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// ApplyRetention discards rows older than cfg.RetentionDays. Intended to be
// called from a periodic sweep; it is also idempotent and side-effect-free
// on an already-compliant log.
func (s *Store) ApplyRetention(now time.Time) int {
	if s.cfg.RetentionDays <= 0 {
		return 0
	}
	cutoff := now.AddDate(0, 0, -s.cfg.RetentionDays)

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0:0]
	removed := 0
	for _, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return removed
}

// ExportJSON renders events as a JSON array.
func ExportJSON(events []audit.Event) ([]byte, error) {
	return json.Marshal(events)
}

// ExportJSONL renders events newline-delimited, one JSON object per line.
func ExportJSONL(events []audit.Event) ([]byte, error) {
	var b strings.Builder
	for _, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

var csvHeader = []string{"id", "timestamp", "category", "severity", "actor", "target", "action", "result", "session", "metadata"}

// ExportCSV renders events with the fixed header
// id,timestamp,category,severity,actor,target,action,result,session,metadata
// where metadata is a sorted key=value list joined by ';'.
func ExportCSV(events []audit.Event) ([]byte, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, e := range events {
		if err := w.Write([]string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339),
			string(e.Category),
			string(e.Severity),
			e.Actor,
			e.Target,
			e.Action,
			string(e.Result),
			e.SessionID,
			metadataField(e.Metadata),
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func metadataField(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, m[k])
	}
	return strings.Join(parts, ";")
}
