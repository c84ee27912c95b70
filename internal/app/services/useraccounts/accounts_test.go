package useraccounts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanfleet/control-plane/internal/app/domain/authz"
)

func testStore(t *testing.T) *Store {
	hash, err := HashPassword("correct-horse")
	require.NoError(t, err)
	return New([]Account{
		{ID: "u1", Username: "alice", PasswordHash: hash, Role: authz.RoleOperator, Active: true},
		{ID: "u2", Username: "bob", PasswordHash: hash, Role: authz.RoleViewer, Active: false},
	})
}

func TestAuthenticateSucceedsWithCorrectPassword(t *testing.T) {
	s := testStore(t)
	user, err := s.Authenticate("alice", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, authz.RoleOperator, user.Role)
}

func TestAuthenticateIsCaseInsensitiveOnUsername(t *testing.T) {
	s := testStore(t)
	_, err := s.Authenticate("ALICE", "correct-horse")
	require.NoError(t, err)
}

func TestAuthenticateFailsWithWrongPassword(t *testing.T) {
	s := testStore(t)
	_, err := s.Authenticate("alice", "wrong")
	require.Error(t, err)
}

func TestAuthenticateFailsForUnknownUser(t *testing.T) {
	s := testStore(t)
	_, err := s.Authenticate("ghost", "anything")
	require.Error(t, err)
}

func TestAuthenticateFailsForDeactivatedAccount(t *testing.T) {
	s := testStore(t)
	_, err := s.Authenticate("bob", "correct-horse")
	require.Error(t, err)
}

func TestIsActiveReportsKnownAndUnknown(t *testing.T) {
	s := testStore(t)
	active, known := s.IsActive("u1")
	assert.True(t, known)
	assert.True(t, active)

	_, known = s.IsActive("ghost")
	assert.False(t, known)
}

func TestDeactivateFlipsActiveFlag(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Deactivate("u1"))
	active, known := s.IsActive("u1")
	assert.True(t, known)
	assert.False(t, active)
}
