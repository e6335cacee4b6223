// Package domain holds the relay's value types: the fixed pair of peer
// roles, their validation, and the connection status reported to peers.
package domain

import (
	"errors"
	"fmt"
)

const MaxRoleLen = 36

var (
	ErrRoleEmpty   = errors.New("role empty")
	ErrRoleTooLong = errors.New("role too long")
	ErrRolesEqual  = errors.New("roles must be distinct")
)

// Role is one of the two peer identities the relay mediates between.
type Role string

// Roles is the closed pair configured at startup. A streams audio, B consumes it.
type Roles struct {
	A Role
	B Role
}

func validateRole(name string) error {
	if len(name) == 0 {
		return ErrRoleEmpty
	}
	if len(name) > MaxRoleLen {
		return ErrRoleTooLong
	}
	return nil
}

// NewRoles is a tiny helper to avoid ad-hoc struct literals in wiring code.
func NewRoles(a, b string) (Roles, error) {
	if err := validateRole(a); err != nil {
		return Roles{}, fmt.Errorf("role a: %w", err)
	}
	if err := validateRole(b); err != nil {
		return Roles{}, fmt.Errorf("role b: %w", err)
	}
	if a == b {
		return Roles{}, ErrRolesEqual
	}
	return Roles{A: Role(a), B: Role(b)}, nil
}

func (r Roles) All() []Role { return []Role{r.A, r.B} }

func (r Roles) Has(role Role) bool {
	return role != "" && (role == r.A || role == r.B)
}

// Parse matches s exactly against the two role names.
func (r Roles) Parse(s string) (Role, bool) {
	role := Role(s)
	if !r.Has(role) {
		return "", false
	}
	return role, true
}

// Peer returns the other role of the pair.
func (r Roles) Peer(role Role) (Role, bool) {
	switch role {
	case r.A:
		return r.B, true
	case r.B:
		return r.A, true
	}
	return "", false
}
