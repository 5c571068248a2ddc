// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package cap

import (
	"fmt"
	"slices"

	"github.com/atom-foundation/atom/kernel/ref"
)

// Handle names a capability. Handles are allocated monotonically by
// the Authority and never reused. Zero is never a valid handle.
type Handle uint64

// String returns "cap:N".
func (h Handle) String() string { return fmt.Sprintf("cap:%d", uint64(h)) }

// Capability binds a handle to a resource, a permission set, an owning
// thread, and its position in the derivation forest. Parent and
// Children are plain handle values, not references: the Authority's
// registry is the arena that resolves them, which keeps the
// parent/child back-links free of ownership cycles.
type Capability struct {
	Handle      Handle
	Resource    Resource
	Permissions Permissions
	Owner       ref.ThreadID

	// Parent is zero for root capabilities.
	Parent Handle

	// Children holds the handles derived from this capability, in
	// derivation order.
	Children []Handle
}

// HasPermission reports whether the capability carries every bit of
// required.
func (c *Capability) HasPermission(required Permissions) bool {
	return c.Permissions.Contains(required)
}

// IsOwnedBy reports whether thread owns the capability.
func (c *Capability) IsOwnedBy(thread ref.ThreadID) bool {
	return c.Owner == thread
}

// IsRoot reports whether the capability has no parent.
func (c *Capability) IsRoot() bool { return c.Parent == 0 }

// clone returns a deep copy. The registry hands out clones so callers
// can never alias registry-internal state.
func (c *Capability) clone() Capability {
	copied := *c
	copied.Children = slices.Clone(c.Children)
	return copied
}
