// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package cap

import (
	"fmt"
	"slices"

	"github.com/atom-foundation/atom/kernel/ref"
)

// Table is a thread's private view of the capabilities it holds,
// keyed by handle. Each thread control block owns exactly one Table;
// removal (voluntary via transfer, involuntary via revoke) is the only
// way a thread loses a capability.
//
// Table is not safe for concurrent use on its own. The thread registry
// serializes access, matching the per-subsystem big-lock discipline.
type Table struct {
	owner        ref.ThreadID
	capabilities map[Handle]Capability
}

// NewTable returns an empty capability table for the given thread.
func NewTable(owner ref.ThreadID) *Table {
	return &Table{
		owner:        owner,
		capabilities: make(map[Handle]Capability),
	}
}

// Owner returns the thread this table belongs to.
func (t *Table) Owner() ref.ThreadID { return t.owner }

// Insert adds a capability. Duplicate handles are rejected with
// ErrAlreadyExists.
func (t *Table) Insert(capability Capability) error {
	if _, exists := t.capabilities[capability.Handle]; exists {
		return fmt.Errorf("inserting %v into %v table: %w", capability.Handle, t.owner, ErrAlreadyExists)
	}
	t.capabilities[capability.Handle] = capability
	return nil
}

// Get returns the capability for handle, if held.
func (t *Table) Get(handle Handle) (Capability, bool) {
	capability, ok := t.capabilities[handle]
	return capability, ok
}

// Remove strips the capability from the table and returns it.
func (t *Table) Remove(handle Handle) (Capability, bool) {
	capability, ok := t.capabilities[handle]
	if ok {
		delete(t.capabilities, handle)
	}
	return capability, ok
}

// Contains reports whether the table holds handle.
func (t *Table) Contains(handle Handle) bool {
	_, ok := t.capabilities[handle]
	return ok
}

// Validate returns the capability if the table holds handle and it
// carries every bit of required. This is the check every syscall-level
// capability gate goes through.
func (t *Table) Validate(handle Handle, required Permissions) (Capability, error) {
	capability, ok := t.capabilities[handle]
	if !ok {
		return Capability{}, fmt.Errorf("validating %v for %v: %w", handle, t.owner, ErrNotFound)
	}
	if !capability.HasPermission(required) {
		return Capability{}, fmt.Errorf("validating %v for %v: need %v, have %v: %w",
			handle, t.owner, required, capability.Permissions, ErrPermissionDenied)
	}
	return capability, nil
}

// List returns the held handles in ascending order.
func (t *Table) List() []Handle {
	handles := make([]Handle, 0, len(t.capabilities))
	for handle := range t.capabilities {
		handles = append(handles, handle)
	}
	slices.Sort(handles)
	return handles
}

// Count returns the number of capabilities held.
func (t *Table) Count() int { return len(t.capabilities) }
