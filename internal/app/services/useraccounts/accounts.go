// Package useraccounts is the minimal local credential store backing the
// HTTP login endpoint: a fixed, config-provisioned set of operator
// accounts checked against bcrypt hashes. It also satisfies
// accesscontrol.UserDirectory so the Access Controller can reject
// deactivated accounts.
package useraccounts

import (
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/cleanfleet/control-plane/internal/app/apperrors"
	"github.com/cleanfleet/control-plane/internal/app/domain/authz"
)

// Account is one provisioned operator login.
type Account struct {
	ID           string
	Username     string
	PasswordHash string
	Role         authz.Role
	Active       bool
}

// Store holds the fixed account set, looked up by username.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]Account
	byUser map[string]string // username (lowercased) -> id
}

// New constructs a Store from a provisioned account list.
func New(accounts []Account) *Store {
	s := &Store{
		byID:   make(map[string]Account, len(accounts)),
		byUser: make(map[string]string, len(accounts)),
	}
	for _, a := range accounts {
		s.byID[a.ID] = a
		s.byUser[strings.ToLower(a.Username)] = a.ID
	}
	return s
}

// HashPassword is a constructor helper for provisioning accounts from
// plaintext configuration at startup.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", apperrors.Internal("failed to hash password", err)
	}
	return string(hash), nil
}

// Authenticate checks username/password and returns the matching user.
func (s *Store) Authenticate(username, password string) (authz.User, error) {
	s.mu.RLock()
	id, ok := s.byUser[strings.ToLower(strings.TrimSpace(username))]
	var acct Account
	if ok {
		acct = s.byID[id]
	}
	s.mu.RUnlock()

	if !ok {
		return authz.User{}, apperrors.Unauthorized("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return authz.User{}, apperrors.Unauthorized("invalid username or password")
	}
	if !acct.Active {
		return authz.User{}, apperrors.Unauthorized("account is deactivated")
	}
	return authz.User{ID: acct.ID, Username: acct.Username, Role: acct.Role, Active: acct.Active}, nil
}

// IsActive implements accesscontrol.UserDirectory.
func (s *Store) IsActive(userID string) (active bool, known bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.byID[userID]
	if !ok {
		return false, false
	}
	return acct.Active, true
}

// UserByID returns the account for id, used to re-derive identity on refresh.
func (s *Store) UserByID(id string) (authz.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.byID[id]
	if !ok {
		return authz.User{}, false
	}
	return authz.User{ID: acct.ID, Username: acct.Username, Role: acct.Role, Active: acct.Active}, true
}

// Deactivate flips an account's active flag off, used by admin tooling.
func (s *Store) Deactivate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.byID[id]
	if !ok {
		return apperrors.New(apperrors.CodeUnauthorized, "unknown account", 404).WithDetails("id", id)
	}
	acct.Active = false
	s.byID[id] = acct
	return nil
}
