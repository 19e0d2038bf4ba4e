package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootAdmin_CanPerformEveryAdminOp(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	require.NoError(t, a.GrantRole("did-hash-1", RoleRootAdmin))

	for _, obj := range []string{ObjAdminList, ObjAdminAdd, ObjAdminStrip, ObjConfiguration} {
		allowed, err := a.Authorize("did-hash-1", obj)
		require.NoError(t, err)
		assert.True(t, allowed, obj)
	}
}

func TestStandard_CannotPerformAnyAdminOp(t *testing.T) {
	a, err := New()
	require.NoError(t, err)

	allowed, err := a.Authorize("unknown-did-hash", ObjAdminList)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, RoleStandard, a.RoleOf("unknown-did-hash"))
}

func TestGrantRole_ReplacesExistingRole(t *testing.T) {
	a, err := New()
	require.NoError(t, err)

	require.NoError(t, a.GrantRole("did-hash-1", RoleAdmin))
	assert.Equal(t, RoleAdmin, a.RoleOf("did-hash-1"))

	require.NoError(t, a.GrantRole("did-hash-1", RoleRootAdmin))
	assert.Equal(t, RoleRootAdmin, a.RoleOf("did-hash-1"))
}

func TestRevokeRole_DemotesToStandard(t *testing.T) {
	a, err := New()
	require.NoError(t, err)

	require.NoError(t, a.GrantRole("did-hash-1", RoleAdmin))
	require.NoError(t, a.RevokeRole("did-hash-1"))

	assert.Equal(t, RoleStandard, a.RoleOf("did-hash-1"))

	allowed, err := a.Authorize("did-hash-1", ObjAdminList)
	require.NoError(t, err)
	assert.False(t, allowed)
}
