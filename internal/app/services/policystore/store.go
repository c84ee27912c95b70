// Package policystore implements the Policy Store: a content directory of
// self-describing YAML policy documents behind a read-through cache.
//
// The extension-driven decode and atomic-write-then-rename idiom are
// grounded on system/sandbox/policy_loader.go's loadConfigFile in the
// teacher repo.
package policystore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cleanfleet/control-plane/internal/app/apperrors"
	"github.com/cleanfleet/control-plane/internal/app/domain/policy"
	"github.com/cleanfleet/control-plane/internal/app/services/policyvalidator"
)

// Store is a mutex-serialised, file-backed policy content directory.
type Store struct {
	dir string

	mu     sync.Mutex
	cache  map[string]policy.Policy
	loaded bool
}

// New constructs a Store rooted at dir. dir is created on first write if
// absent.
func New(dir string) *Store {
	return &Store{dir: dir, cache: make(map[string]policy.Policy)}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

// ensureLoadedLocked lazily populates the cache from disk. Caller holds mu.
func (s *Store) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return nil
		}
		return apperrors.IO(err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		full := filepath.Join(s.dir, e.Name())
		data, err := os.ReadFile(full)
		if err != nil {
			return apperrors.IO(err)
		}
		var p policy.Policy
		if err := yaml.Unmarshal(data, &p); err != nil {
			return apperrors.InvalidPolicyFile(full, err)
		}
		s.cache[p.Name] = p
	}
	s.loaded = true
	return nil
}

// List returns all cached policies sorted by descending priority.
func (s *Store) List() ([]policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	return s.sortedLocked(), nil
}

func (s *Store) sortedLocked() []policy.Policy {
	out := make([]policy.Policy, 0, len(s.cache))
	for _, p := range s.cache {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Get returns the named policy.
func (s *Store) Get(name string) (policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return policy.Policy{}, err
	}
	p, ok := s.cache[name]
	if !ok {
		return policy.Policy{}, apperrors.PolicyNotFound(name)
	}
	return p, nil
}

// Exists reports whether a policy is present without allocating an error.
func (s *Store) Exists(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return false, err
	}
	_, ok := s.cache[name]
	return ok, nil
}

// Save validates p, stamps updatedAt, writes it atomically, and inserts it
// into the cache. When overwrite is false and the policy already exists,
// Save fails with policyAlreadyExists.
func (s *Store) Save(p policy.Policy, overwrite bool) (policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return policy.Policy{}, err
	}
	if _, exists := s.cache[p.Name]; exists && !overwrite {
		return policy.Policy{}, apperrors.PolicyAlreadyExists(p.Name)
	}

	result := policyvalidator.Validate(p)
	if !result.Valid {
		return policy.Policy{}, apperrors.ValidationFailed(result.Errors)
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if err := s.writeAtomic(p); err != nil {
		return policy.Policy{}, err
	}
	s.cache[p.Name] = p
	return p, nil
}

func (s *Store) writeAtomic(p policy.Policy) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return apperrors.IO(err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return apperrors.IO(err)
	}
	tmp, err := os.CreateTemp(s.dir, p.Name+".*.tmp")
	if err != nil {
		return apperrors.IO(err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperrors.IO(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperrors.IO(err)
	}
	if err := os.Rename(tmpPath, s.path(p.Name)); err != nil {
		os.Remove(tmpPath)
		return apperrors.IO(err)
	}
	return nil
}

// Delete removes a policy from disk and cache.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	if _, ok := s.cache[name]; !ok {
		return apperrors.PolicyNotFound(name)
	}
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return apperrors.IO(err)
	}
	delete(s.cache, name)
	return nil
}

// Import validates and saves a raw YAML blob, overwriting any existing
// policy of the same name.
func (s *Store) Import(blob []byte) (policy.Policy, error) {
	var p policy.Policy
	if err := yaml.Unmarshal(blob, &p); err != nil {
		return policy.Policy{}, apperrors.InvalidPolicyFile("<import>", err)
	}
	return s.Save(p, true)
}

// Export serialises the named policy back to YAML.
func (s *Store) Export(name string) ([]byte, error) {
	p, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, apperrors.IO(err)
	}
	return data, nil
}

// PoliciesWithTag returns every enabled-or-not policy carrying tag t.
func (s *Store) PoliciesWithTag(t string) ([]policy.Policy, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []policy.Policy
	for _, p := range all {
		if _, ok := p.Tags[t]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// PoliciesForSchedule returns every policy containing at least one rule on
// the given schedule.
func (s *Store) PoliciesForSchedule(sched policy.Schedule) ([]policy.Policy, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []policy.Policy
	for _, p := range all {
		for _, r := range p.Rules {
			if r.Schedule == sched {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

// EnabledPolicies returns every policy with Enabled set.
func (s *Store) EnabledPolicies() ([]policy.Policy, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []policy.Policy
	for _, p := range all {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

// Merge combines list (sorted by descending priority, first writer wins on
// rule-id collision) into a new named policy. DisplayName is synthesized
// from the input names in ascending order ("Merged: A, B"); Description and
// SchemaVersion carry over from the highest-priority input, so a
// single-element merge reproduces its input up to Name/UpdatedAt.
func Merge(list []policy.Policy, name string) policy.Policy {
	sorted := make([]policy.Policy, len(list))
	copy(sorted, list)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	out := policy.Policy{SchemaVersion: "1.0", Name: name, Tags: make(map[string]struct{})}
	if len(sorted) > 0 {
		out.Notifications = sorted[0].Notifications
		out.Priority = sorted[0].Priority
		out.Description = sorted[0].Description
		out.SchemaVersion = sorted[0].SchemaVersion
	}

	names := make([]string, len(list))
	for i, p := range list {
		names[i] = p.Name
	}
	sort.Strings(names)
	if len(names) > 0 {
		out.DisplayName = "Merged: " + strings.Join(names, ", ")
	}

	seenRules := make(map[string]struct{})
	exclusions := make(map[string]struct{})
	for _, p := range sorted {
		for _, r := range p.Rules {
			if _, dup := seenRules[r.ID]; dup {
				continue
			}
			seenRules[r.ID] = struct{}{}
			out.Rules = append(out.Rules, r)
		}
		for _, ex := range p.Exclusions {
			exclusions[ex] = struct{}{}
		}
		for tag := range p.Tags {
			out.Tags[tag] = struct{}{}
		}
	}
	for ex := range exclusions {
		out.Exclusions = append(out.Exclusions, ex)
	}
	sort.Strings(out.Exclusions)
	return out
}

// InvalidateCache drops the in-memory cache without touching disk; the next
// access reloads from the content directory.
func (s *Store) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]policy.Policy)
	s.loaded = false
}

// Reload is InvalidateCache followed by an eager re-read.
func (s *Store) Reload() error {
	s.InvalidateCache()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLoadedLocked()
}
