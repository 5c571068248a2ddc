// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package cap

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/atom-foundation/atom/kernel/ref"
)

// TickSource provides the monotonic tick count used to timestamp
// audit entries. The scheduler implements it.
type TickSource interface {
	Ticks() uint64
}

// TableStore gives the Authority access to per-thread capability
// tables without owning them: the thread registry implements it and
// keeps each table bound to its thread control block.
type TableStore interface {
	// InsertCapability adds a capability to owner's table. Fails with
	// ErrAlreadyExists on a duplicate handle and ErrNotFound if the
	// thread does not exist.
	InsertCapability(owner ref.ThreadID, capability Capability) error

	// RemoveCapability strips handle from owner's table, returning
	// the removed capability.
	RemoveCapability(owner ref.ThreadID, handle Handle) (Capability, bool)

	// HasCapability reports whether owner's table holds handle.
	HasCapability(owner ref.ThreadID, handle Handle) bool
}

// Authority is the global capability registry plus the audit ring. All
// lifecycle operations (create, derive, transfer, revoke) go through
// it; per-thread tables are kept consistent with the registry on every
// mutation.
//
// The registry is an arena keyed by handle: parent/child lineage is
// stored as handle values resolved against the arena, never as
// pointers between nodes.
type Authority struct {
	ticks  TickSource
	tables TableStore
	logger *slog.Logger

	nextHandle atomic.Uint64

	mu       sync.Mutex
	registry map[Handle]*Capability

	auditMu sync.Mutex
	audit   auditLog
}

// NewAuthority returns an empty capability authority.
func NewAuthority(ticks TickSource, tables TableStore, logger *slog.Logger) *Authority {
	return &Authority{
		ticks:    ticks,
		tables:   tables,
		logger:   logger.With("component", "cap"),
		registry: make(map[Handle]*Capability),
	}
}

// allocateHandle returns a fresh handle. Handles start at 1 and are
// never reused.
func (a *Authority) allocateHandle() Handle {
	return Handle(a.nextHandle.Add(1))
}

// CreateRoot mints a root capability for resource, registers it, and
// inserts it into owner's table. Returns the new handle.
func (a *Authority) CreateRoot(resource Resource, owner ref.ThreadID, permissions Permissions) (Handle, error) {
	capability := Capability{
		Handle:      a.allocateHandle(),
		Resource:    resource,
		Permissions: permissions,
		Owner:       owner,
	}

	a.mu.Lock()
	if _, exists := a.registry[capability.Handle]; exists {
		a.mu.Unlock()
		return 0, fmt.Errorf("registering %v: %w", capability.Handle, ErrAlreadyExists)
	}
	stored := capability.clone()
	a.registry[capability.Handle] = &stored
	a.mu.Unlock()

	if err := a.tables.InsertCapability(owner, capability); err != nil {
		a.mu.Lock()
		delete(a.registry, capability.Handle)
		a.mu.Unlock()
		return 0, fmt.Errorf("granting %v to %v: %w", capability.Handle, owner, err)
	}

	a.logAudit(AuditEntry{
		Timestamp:  a.ticks.Ticks(),
		Event:      AuditCreate,
		Thread:     owner,
		Capability: capability.Handle,
	})
	a.logger.Debug("capability created",
		"handle", capability.Handle,
		"resource", resource.Kind(),
		"owner", owner,
		"permissions", permissions)
	return capability.Handle, nil
}

// Derive creates a child of parentHandle owned by newOwner with
// reduced permissions. actingThread must hold the parent in its table,
// own it, and the parent must carry GRANT; reduced must be a subset of
// the parent's permissions. On success the child is registered and
// inserted into newOwner's table, and the derivation is audited with
// the child-to-parent link.
func (a *Authority) Derive(parentHandle Handle, actingThread, newOwner ref.ThreadID, reduced Permissions) (Handle, error) {
	if !a.tables.HasCapability(actingThread, parentHandle) {
		a.logger.Warn("derive rejected: parent not held",
			"thread", actingThread, "parent", parentHandle)
		return 0, fmt.Errorf("deriving from %v: %w", parentHandle, ErrNotFound)
	}

	a.mu.Lock()
	parent, ok := a.registry[parentHandle]
	if !ok {
		a.mu.Unlock()
		return 0, fmt.Errorf("deriving from %v: %w", parentHandle, ErrNotFound)
	}
	if !parent.IsOwnedBy(actingThread) {
		a.mu.Unlock()
		a.logger.Warn("derive rejected: not owner",
			"thread", actingThread, "parent", parentHandle, "owner", parent.Owner)
		return 0, fmt.Errorf("deriving from %v as %v: %w", parentHandle, actingThread, ErrNotOwner)
	}
	if !parent.HasPermission(PermGrant) {
		a.mu.Unlock()
		a.logger.Warn("derive rejected: parent lacks grant",
			"thread", actingThread, "parent", parentHandle)
		return 0, fmt.Errorf("deriving from %v without grant: %w", parentHandle, ErrPermissionDenied)
	}
	if !reduced.SubsetOf(parent.Permissions) {
		a.mu.Unlock()
		a.logger.Warn("derive rejected: permissions widen",
			"thread", actingThread, "parent", parentHandle,
			"parent_permissions", parent.Permissions, "requested", reduced)
		return 0, fmt.Errorf("deriving %v from %v would widen %v: %w",
			reduced, parent.Permissions, parentHandle, ErrPermissionDenied)
	}

	child := Capability{
		Handle:      a.allocateHandle(),
		Resource:    parent.Resource,
		Permissions: reduced,
		Owner:       newOwner,
		Parent:      parentHandle,
	}
	parent.Children = append(parent.Children, child.Handle)
	stored := child.clone()
	a.registry[child.Handle] = &stored
	a.mu.Unlock()

	if err := a.tables.InsertCapability(newOwner, child); err != nil {
		a.mu.Lock()
		delete(a.registry, child.Handle)
		if parent, ok := a.registry[parentHandle]; ok {
			parent.Children = slices.DeleteFunc(parent.Children, func(h Handle) bool {
				return h == child.Handle
			})
		}
		a.mu.Unlock()
		return 0, fmt.Errorf("granting derived %v to %v: %w", child.Handle, newOwner, err)
	}

	a.logAudit(AuditEntry{
		Timestamp:  a.ticks.Ticks(),
		Event:      AuditDerive,
		Thread:     actingThread,
		Capability: child.Handle,
		Parent:     parentHandle,
	})
	a.logger.Debug("capability derived",
		"child", child.Handle, "parent", parentHandle,
		"new_owner", newOwner, "permissions", reduced)
	return child.Handle, nil
}

// Transfer reassigns ownership of handle from source to target. The
// capability must carry GRANT and source must be the current owner.
// The capability leaves source's table before entering target's, so no
// window exists where both tables hold it; on any failure it is put
// back in source's table unchanged.
func (a *Authority) Transfer(handle Handle, source, target ref.ThreadID) error {
	capability, ok := a.tables.RemoveCapability(source, handle)
	if !ok {
		a.logger.Warn("transfer rejected: not held",
			"thread", source, "handle", handle)
		return fmt.Errorf("transferring %v from %v: %w", handle, source, ErrNotFound)
	}

	restore := func() {
		// Reinsertion into the table the capability just left cannot
		// collide.
		_ = a.tables.InsertCapability(source, capability)
	}

	if !capability.IsOwnedBy(source) {
		restore()
		a.logger.Warn("transfer rejected: not owner",
			"thread", source, "handle", handle, "owner", capability.Owner)
		return fmt.Errorf("transferring %v as %v: %w", handle, source, ErrNotOwner)
	}
	if !capability.HasPermission(PermGrant) {
		restore()
		a.logger.Warn("transfer rejected: no grant permission",
			"thread", source, "handle", handle)
		return fmt.Errorf("transferring %v without grant: %w", handle, ErrPermissionDenied)
	}

	capability.Owner = target
	if err := a.tables.InsertCapability(target, capability); err != nil {
		capability.Owner = source
		restore()
		return fmt.Errorf("transferring %v to %v: %w", handle, target, err)
	}

	a.mu.Lock()
	if registered, ok := a.registry[handle]; ok {
		registered.Owner = target
	}
	a.mu.Unlock()

	a.logAudit(AuditEntry{
		Timestamp:  a.ticks.Ticks(),
		Event:      AuditTransfer,
		Thread:     source,
		Capability: handle,
		Target:     target,
	})
	a.logger.Debug("capability transferred",
		"handle", handle, "source", source, "target", target)
	return nil
}

// Revoke deletes handle and, transitively, every descendant. Each node
// is stripped from whichever thread currently owns it and audited
// independently. Returns every revoked handle, parents before their
// children.
//
// No permission precondition is checked on actingThread: revocation
// authority is the caller's policy. The audit entry records the acting
// thread so misuse remains attributable.
func (a *Authority) Revoke(handle Handle, actingThread ref.ThreadID) ([]Handle, error) {
	type removal struct {
		handle Handle
		owner  ref.ThreadID
	}

	a.mu.Lock()
	root, ok := a.registry[handle]
	if !ok {
		a.mu.Unlock()
		return nil, fmt.Errorf("revoking %v: %w", handle, ErrNotFound)
	}

	// Detach from the parent so lineage queries never surface a dead
	// child.
	if parent, ok := a.registry[root.Parent]; ok {
		parent.Children = slices.DeleteFunc(parent.Children, func(h Handle) bool {
			return h == handle
		})
	}

	// Walk the subtree breadth-first, parents before children.
	var removals []removal
	frontier := []Handle{handle}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		node, ok := a.registry[current]
		if !ok {
			continue
		}
		removals = append(removals, removal{handle: current, owner: node.Owner})
		frontier = append(frontier, node.Children...)
		delete(a.registry, current)
	}
	a.mu.Unlock()

	revoked := make([]Handle, 0, len(removals))
	for _, r := range removals {
		a.tables.RemoveCapability(r.owner, r.handle)
		a.logAudit(AuditEntry{
			Timestamp:  a.ticks.Ticks(),
			Event:      AuditRevoke,
			Thread:     actingThread,
			Capability: r.handle,
		})
		revoked = append(revoked, r.handle)
	}

	a.logger.Info("capability revoked",
		"handle", handle, "thread", actingThread, "cascade", len(revoked))
	return revoked, nil
}

// QueryParent returns handle's parent, or zero for a root. Fails with
// ErrNotFound if handle is unknown.
func (a *Authority) QueryParent(handle Handle) (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	capability, ok := a.registry[handle]
	if !ok {
		return 0, fmt.Errorf("querying parent of %v: %w", handle, ErrNotFound)
	}
	return capability.Parent, nil
}

// QueryChildren returns handle's direct children in derivation order.
// Fails with ErrNotFound if handle is unknown.
func (a *Authority) QueryChildren(handle Handle) ([]Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	capability, ok := a.registry[handle]
	if !ok {
		return nil, fmt.Errorf("querying children of %v: %w", handle, ErrNotFound)
	}
	return slices.Clone(capability.Children), nil
}

// Lookup returns a copy of the registered capability for handle.
func (a *Authority) Lookup(handle Handle) (Capability, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	capability, ok := a.registry[handle]
	if !ok {
		return Capability{}, false
	}
	return capability.clone(), true
}

// Stats summarizes live capabilities partitioned by resource kind.
type Stats struct {
	Total  int                  `cbor:"total"`
	ByKind map[ResourceKind]int `cbor:"by_kind"`
}

// Stats returns a count of live capabilities per resource kind.
func (a *Authority) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := Stats{
		Total:  len(a.registry),
		ByKind: make(map[ResourceKind]int, numResourceKinds),
	}
	for _, capability := range a.registry {
		stats.ByKind[capability.Resource.Kind()]++
	}
	return stats
}

// AuditLog returns up to max audit entries, newest first.
func (a *Authority) AuditLog(max int) []AuditEntry {
	a.auditMu.Lock()
	defer a.auditMu.Unlock()
	return a.audit.snapshot(max)
}

// logAudit appends an entry under the audit mutex. Never blocks the
// primary operation and never fails; a full ring drops its oldest
// entry.
func (a *Authority) logAudit(entry AuditEntry) {
	a.auditMu.Lock()
	defer a.auditMu.Unlock()
	a.audit.append(entry)
}
