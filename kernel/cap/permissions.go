// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package cap

import "strings"

// Permissions is a bitmask of rights attached to a capability.
type Permissions uint32

const (
	// PermRead allows reading the resource.
	PermRead Permissions = 1 << iota
	// PermWrite allows writing the resource.
	PermWrite
	// PermExecute allows executing the resource (code regions).
	PermExecute
	// PermGrant allows deriving child capabilities and transferring
	// or delegating this capability to another thread.
	PermGrant
	// PermRevoke allows revoking capabilities derived from this one.
	PermRevoke
)

// PermNone is the empty permission set.
const PermNone Permissions = 0

// PermAll grants every permission bit.
const PermAll Permissions = 0xFFFFFFFF

// Contains reports whether p includes every bit of other.
func (p Permissions) Contains(other Permissions) bool {
	return p&other == other
}

// SubsetOf reports whether every bit of p is present in other. This is
// the derivation invariant: a child permission set must be a subset of
// its parent's.
func (p Permissions) SubsetOf(other Permissions) bool {
	return p&^other == 0
}

// Union returns the permissions present in p or other.
func (p Permissions) Union(other Permissions) Permissions {
	return p | other
}

// Intersect returns the permissions present in both p and other.
func (p Permissions) Intersect(other Permissions) Permissions {
	return p & other
}

// String returns a "+"-joined list of permission names, or "none".
func (p Permissions) String() string {
	if p == PermNone {
		return "none"
	}

	names := make([]string, 0, 5)
	for _, flag := range []struct {
		bit  Permissions
		name string
	}{
		{PermRead, "read"},
		{PermWrite, "write"},
		{PermExecute, "execute"},
		{PermGrant, "grant"},
		{PermRevoke, "revoke"},
	} {
		if p.Contains(flag.bit) {
			names = append(names, flag.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "+")
}
