// Package authz implements the mediator's admin RBAC of spec §4.6: three
// roles (RootAdmin, Admin, Standard) gating the admin protocol's
// AdminList/AdminAdd/AdminStrip/Configuration operations.
//
// Grounded on the teacher's server/authz.Authorizer: a thin Casbin
// enforcer wrapper. The teacher authorizes a SPIFFE trust domain against
// an API method with a file-backed policy adapter; here the subject is a
// DID's role (root-admin / admin / standard) instead of a trust domain,
// loaded from an in-memory adapter that AddRoleForDID populates, since the
// mediator's role assignments are runtime (admin DIDs added/removed via
// the admin protocol itself) rather than a static ops-managed policy file.
package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Role is one of the mediator's three admin tiers.
type Role string

const (
	RoleRootAdmin Role = "root-admin"
	RoleAdmin     Role = "admin"
	RoleStandard  Role = "standard"
)

// rbacModel is the classic Casbin RBAC model: a subject's permission on an
// object is granted if some role assigned to it (via g) is directly
// permitted (via p).
const rbacModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj
`

// Admin protocol operations, the objects policies are written against.
const (
	ObjAdminList        = "admin:list"
	ObjAdminAdd         = "admin:add"
	ObjAdminStrip       = "admin:strip"
	ObjConfiguration    = "admin:configuration"
)

// Authorizer is a Casbin-backed RBAC enforcer over the mediator's three
// admin roles.
type Authorizer struct {
	enforcer *casbin.Enforcer
}

// New builds an Authorizer with the built-in RBAC model and the standard
// role -> permission grants: RootAdmin and Admin can perform every admin
// operation; Standard can perform none (a standard session never reaches
// the admin protocol's authorization check in the first place, but the
// enforcer still denies cleanly if it does).
func New() (*Authorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz: parse model: %w", err)
	}

	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz: create enforcer: %w", err)
	}

	for _, obj := range []string{ObjAdminList, ObjAdminAdd, ObjAdminStrip, ObjConfiguration} {
		if _, err := enforcer.AddPolicy(string(RoleRootAdmin), obj); err != nil {
			return nil, fmt.Errorf("authz: seed policy: %w", err)
		}

		if _, err := enforcer.AddPolicy(string(RoleAdmin), obj); err != nil {
			return nil, fmt.Errorf("authz: seed policy: %w", err)
		}
	}

	return &Authorizer{enforcer: enforcer}, nil
}

// GrantRole assigns role to didHash, replacing any role it already held
// (a DID holds exactly one admin tier at a time).
func (a *Authorizer) GrantRole(didHash string, role Role) error {
	if _, err := a.enforcer.DeleteRolesForUser(didHash); err != nil {
		return fmt.Errorf("authz: clear existing roles: %w", err)
	}

	if _, err := a.enforcer.AddRoleForUser(didHash, string(role)); err != nil {
		return fmt.Errorf("authz: grant role: %w", err)
	}

	return nil
}

// RevokeRole strips didHash's admin role entirely, demoting it to no
// special privileges (equivalent to Standard for admin-protocol purposes).
func (a *Authorizer) RevokeRole(didHash string) error {
	if _, err := a.enforcer.DeleteRolesForUser(didHash); err != nil {
		return fmt.Errorf("authz: revoke role: %w", err)
	}

	return nil
}

// RoleOf returns the admin role assigned to didHash, or RoleStandard if
// none was ever granted.
func (a *Authorizer) RoleOf(didHash string) Role {
	roles, err := a.enforcer.GetRolesForUser(didHash)
	if err != nil || len(roles) == 0 {
		return RoleStandard
	}

	return Role(roles[0])
}

// Authorize reports whether didHash may perform the admin operation obj.
func (a *Authorizer) Authorize(didHash, obj string) (bool, error) {
	allowed, err := a.enforcer.Enforce(didHash, obj)
	if err != nil {
		return false, fmt.Errorf("authz: enforce: %w", err)
	}

	return allowed, nil
}
