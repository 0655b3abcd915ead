// Package access holds role-based authorization shared by the registry and
// the pool engine, and the circuit breaker that pauses the engine.
package access

import (
	"strings"

	dErrors "receiv3/pkg/domain-errors"
)

// Role is a capability an account may hold on one component.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleOperator Role = "OPERATOR"
	RoleMinter   Role = "MINTER"
	RoleVerifier Role = "VERIFIER"
)

// Component scopes role grants. The same account can be an operator on the
// registry without being one on the engine.
type Component string

const (
	ComponentRegistry Component = "registry"
	ComponentEngine   Component = "engine"
)

var knownRoles = map[Role]bool{
	RoleAdmin:    true,
	RoleOperator: true,
	RoleMinter:   true,
	RoleVerifier: true,
}

// ParseRole accepts role names case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !knownRoles[r] {
		return "", dErrors.New(dErrors.CodeValidation, "unknown role "+s)
	}
	return r, nil
}

func (r Role) String() string { return string(r) }
