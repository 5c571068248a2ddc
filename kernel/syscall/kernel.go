// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package syscall

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/atom-foundation/atom/kernel/cap"
	"github.com/atom-foundation/atom/kernel/ipc"
	"github.com/atom-foundation/atom/kernel/ref"
	"github.com/atom-foundation/atom/kernel/sched"
	"github.com/atom-foundation/atom/kernel/sharedmem"
	"github.com/atom-foundation/atom/kernel/thread"
	"github.com/atom-foundation/atom/lib/clock"
)

// NoTimeout selects an unbounded blocking receive or sleep.
const NoTimeout uint64 = ^uint64(0)

// Kernel wires the subsystems together and exposes the call surface.
// All operations are safe for concurrent use; each names the calling
// thread explicitly because in the hosted runtime any goroutine may
// drive any thread.
type Kernel struct {
	clk    clock.Clock
	logger *slog.Logger

	threads *thread.Registry
	sched   *sched.Scheduler
	caps    *cap.Authority
	regions *sharedmem.Registry
	ports   *ipc.Registry

	sleepMu  sync.Mutex
	sleepers map[ref.ThreadID]uint64
}

// New assembles a kernel. The scheduler is initialized with its idle
// thread before New returns.
func New(clk clock.Clock, logger *slog.Logger) *Kernel {
	threads := thread.NewRegistry(logger)
	scheduler := sched.New(threads, logger)
	k := &Kernel{
		clk:      clk,
		logger:   logger.With("component", "kernel"),
		threads:  threads,
		sched:    scheduler,
		caps:     cap.NewAuthority(scheduler, threads, logger),
		regions:  sharedmem.NewRegistry(logger),
		sleepers: make(map[ref.ThreadID]uint64),
	}
	k.ports = ipc.NewRegistry(scheduler, k.regions, logger)
	scheduler.Init()
	return k
}

// Threads exposes the thread registry for inspection tooling.
func (k *Kernel) Threads() *thread.Registry { return k.threads }

// Scheduler exposes the scheduler for inspection tooling.
func (k *Kernel) Scheduler() *sched.Scheduler { return k.sched }

// Capabilities exposes the capability authority for inspection tooling.
func (k *Kernel) Capabilities() *cap.Authority { return k.caps }

// Regions exposes the shared memory registry for inspection tooling.
func (k *Kernel) Regions() *sharedmem.Registry { return k.regions }

// Ports exposes the port registry for inspection tooling.
func (k *Kernel) Ports() *ipc.Registry { return k.ports }

// Ticks returns the monotonic kernel tick counter.
func (k *Kernel) Ticks() uint64 { return k.sched.Ticks() }

// Tick advances kernel time by one quantum: the scheduler preempts if
// ready work allows, receive deadlines are swept, and due sleepers are
// woken. Returns the previous and newly current threads.
func (k *Kernel) Tick() (previous, next ref.ThreadID) {
	previous, next = k.sched.OnTimerTick()
	now := k.sched.Ticks()
	k.ports.OnTimerTick(now)
	k.wakeSleepers(now)
	return previous, next
}

// Run drives Tick from the clock at the given interval until the
// context is cancelled.
func (k *Kernel) Run(ctx context.Context, interval time.Duration) {
	ticker := k.clk.NewTicker(interval)
	defer ticker.Stop()

	k.logger.Info("kernel running", "tick_interval", interval)
	for {
		select {
		case <-ctx.Done():
			k.logger.Info("kernel stopped", "ticks", k.sched.Ticks())
			return
		case <-ticker.C:
			k.Tick()
		}
	}
}

// --- Thread operations ---

// CreateThread registers a thread and queues it as ready.
func (k *Kernel) CreateThread(name string, priority thread.Priority) ref.ThreadID {
	id := k.threads.Create(name, priority)
	k.sched.AddThread(id, priority)
	return id
}

// ExitThread terminates the calling thread and revokes every root
// capability it still holds, cascading to all derived children.
func (k *Kernel) ExitThread(caller ref.ThreadID) Errno {
	if !k.threads.Exists(caller) {
		return EInval
	}

	handles, err := k.threads.Capabilities(caller)
	if err == nil {
		for _, handle := range handles {
			// Revoking a root removes its whole subtree; handles already
			// swept by an earlier revocation fail lookup and are skipped.
			if _, revokeErr := k.caps.Revoke(handle, caller); revokeErr != nil {
				continue
			}
		}
	}

	k.ports.CancelWait(caller)
	k.sleepMu.Lock()
	delete(k.sleepers, caller)
	k.sleepMu.Unlock()

	k.sched.Exit(caller)
	return OK
}

// Yield gives up the processor voluntarily. Returns the thread now
// running.
func (k *Kernel) Yield(caller ref.ThreadID) ref.ThreadID {
	return k.sched.Schedule()
}

// Sleep blocks the caller for at least durationMS kernel milliseconds,
// rounded up to whole ticks. Returns when a later Tick passes the
// deadline or the context is cancelled.
func (k *Kernel) Sleep(ctx context.Context, caller ref.ThreadID, durationMS uint64) Errno {
	wakeCh, err := k.threads.WakeChannel(caller)
	if err != nil {
		return EInval
	}

	ticks := (durationMS + ipc.TickMillis - 1) / ipc.TickMillis
	deadline := k.sched.Ticks() + ticks

	k.threads.DrainWake(caller)
	k.sleepMu.Lock()
	k.sleepers[caller] = deadline
	k.sleepMu.Unlock()
	k.sched.Block(caller)

	select {
	case <-wakeCh:
		return OK
	case <-ctx.Done():
		k.sleepMu.Lock()
		delete(k.sleepers, caller)
		k.sleepMu.Unlock()
		k.sched.MarkReady(caller)
		return ETimedOut
	}
}

func (k *Kernel) wakeSleepers(now uint64) {
	k.sleepMu.Lock()
	var due []ref.ThreadID
	for id, deadline := range k.sleepers {
		if now >= deadline {
			due = append(due, id)
		}
	}
	for _, id := range due {
		delete(k.sleepers, id)
	}
	k.sleepMu.Unlock()

	for _, id := range due {
		k.sched.MarkReady(id)
	}
}

// --- Capability operations ---

// CreateCapability mints a root capability over resource for the
// caller.
func (k *Kernel) CreateCapability(caller ref.ThreadID, resource cap.Resource, permissions cap.Permissions) (cap.Handle, Errno) {
	if !k.threads.Exists(caller) {
		return 0, EInval
	}
	handle, err := k.caps.CreateRoot(resource, caller, permissions)
	if err != nil {
		return 0, ErrnoFor(err)
	}
	return handle, OK
}

// CheckCapability verifies the caller holds handle with at least the
// required permissions.
func (k *Kernel) CheckCapability(caller ref.ThreadID, handle cap.Handle, required cap.Permissions) Errno {
	if _, err := k.threads.ValidateCapability(caller, handle, required); err != nil {
		return ErrnoFor(err)
	}
	return OK
}

// DeriveCapability mints a child of parent for newOwner with reduced
// permissions. The caller must hold the parent with GRANT.
func (k *Kernel) DeriveCapability(caller ref.ThreadID, parent cap.Handle, newOwner ref.ThreadID, reduced cap.Permissions) (cap.Handle, Errno) {
	if !k.threads.Exists(newOwner) {
		return 0, EInval
	}
	handle, err := k.caps.Derive(parent, caller, newOwner, reduced)
	if err != nil {
		return 0, ErrnoFor(err)
	}
	return handle, OK
}

// TransferCapability moves handle from the caller to target.
func (k *Kernel) TransferCapability(caller ref.ThreadID, handle cap.Handle, target ref.ThreadID) Errno {
	if !k.threads.Exists(target) {
		return EInval
	}
	return ErrnoFor(k.caps.Transfer(handle, caller, target))
}

// RevokeCapability revokes handle and its entire derivation subtree.
// Returns the revoked handles, parents before children.
func (k *Kernel) RevokeCapability(caller ref.ThreadID, handle cap.Handle) ([]cap.Handle, Errno) {
	revoked, err := k.caps.Revoke(handle, caller)
	if err != nil {
		return nil, ErrnoFor(err)
	}
	return revoked, OK
}

// QueryCapabilityParent returns the parent handle, zero for roots.
func (k *Kernel) QueryCapabilityParent(handle cap.Handle) (cap.Handle, Errno) {
	parent, err := k.caps.QueryParent(handle)
	if err != nil {
		return 0, ErrnoFor(err)
	}
	return parent, OK
}

// QueryCapabilityChildren returns the direct children of handle.
func (k *Kernel) QueryCapabilityChildren(handle cap.Handle) ([]cap.Handle, Errno) {
	children, err := k.caps.QueryChildren(handle)
	if err != nil {
		return nil, ErrnoFor(err)
	}
	return children, OK
}

// ListCapabilities returns the caller's handles in ascending order.
func (k *Kernel) ListCapabilities(caller ref.ThreadID) ([]cap.Handle, Errno) {
	handles, err := k.threads.Capabilities(caller)
	if err != nil {
		return nil, ErrnoFor(err)
	}
	return handles, OK
}

// --- Shared memory operations ---

// CreateRegion allocates a shared memory region mapped into the
// caller, plus a root capability over it with read, write, and grant.
func (k *Kernel) CreateRegion(caller ref.ThreadID, size int) (ref.RegionID, cap.Handle, Errno) {
	if !k.threads.Exists(caller) {
		return 0, 0, EInval
	}
	region, err := k.regions.Create(caller, size)
	if err != nil {
		return 0, 0, ErrnoFor(err)
	}
	resource := cap.SharedMemoryResource{Region: region}
	permissions := cap.PermRead | cap.PermWrite | cap.PermGrant
	handle, err := k.caps.CreateRoot(resource, caller, permissions)
	if err != nil {
		k.regions.Destroy(region, caller)
		return 0, 0, ErrnoFor(err)
	}
	return region, handle, OK
}

// MapRegion maps region into the caller. Requires a read-bearing
// capability over the region unless the caller owns it.
func (k *Kernel) MapRegion(caller ref.ThreadID, region ref.RegionID) Errno {
	info, err := k.regions.Info(region)
	if err != nil {
		return ErrnoFor(err)
	}
	if info.Owner != caller && !k.hasRegionPermission(caller, region, cap.PermRead) {
		k.logger.Warn("map denied", "thread", caller, "region", region)
		return EPerm
	}
	return ErrnoFor(k.regions.Map(region, caller))
}

// UnmapRegion removes the caller's mapping of region.
func (k *Kernel) UnmapRegion(caller ref.ThreadID, region ref.RegionID) Errno {
	return ErrnoFor(k.regions.Unmap(region, caller))
}

// DestroyRegion destroys region. Owner only.
func (k *Kernel) DestroyRegion(caller ref.ThreadID, region ref.RegionID) Errno {
	return ErrnoFor(k.regions.Destroy(region, caller))
}

// --- Port operations ---

// CreatePort allocates a port owned by the caller, plus a root
// capability over it with read, write, and grant. The capability is
// what the owner later derives or transfers to admit other threads.
func (k *Kernel) CreatePort(caller ref.ThreadID) (ref.PortID, cap.Handle, Errno) {
	if !k.threads.Exists(caller) {
		return 0, 0, EInval
	}
	port := k.ports.CreatePort(caller)
	resource := cap.IPCPortResource{Port: port}
	permissions := cap.PermRead | cap.PermWrite | cap.PermGrant
	handle, err := k.caps.CreateRoot(resource, caller, permissions)
	if err != nil {
		k.ports.ClosePort(port, caller)
		return 0, 0, ErrnoFor(err)
	}
	return port, handle, OK
}

// ClosePort destroys the port. Owner only; queued messages are
// dropped and a blocked receiver is woken empty-handed.
func (k *Kernel) ClosePort(caller ref.ThreadID, port ref.PortID) Errno {
	return ErrnoFor(k.ports.ClosePort(port, caller))
}

// Send enqueues one message on port. The caller needs a write-bearing
// port capability; the message's sender field is forced to the caller.
func (k *Kernel) Send(caller ref.ThreadID, port ref.PortID, message ipc.Message) Errno {
	if !k.hasPortPermission(caller, port, cap.PermWrite) {
		k.logger.Warn("send denied", "thread", caller, "port", port)
		return EPerm
	}
	message.Sender = caller
	return ErrnoFor(k.ports.Send(port, message))
}

// SendWithCapability enqueues a message that delegates one of the
// caller's capabilities. Grant mode derives a reduced child for the
// receiver at delivery; move mode transfers the capability itself.
// The delegated capability must carry GRANT.
func (k *Kernel) SendWithCapability(caller ref.ThreadID, port ref.PortID, message ipc.Message) Errno {
	if !message.HasDelegation() {
		return EInval
	}
	if !k.hasPortPermission(caller, port, cap.PermWrite) {
		k.logger.Warn("delegating send denied", "thread", caller, "port", port)
		return EPerm
	}
	delegated, err := k.threads.ValidateCapability(caller, message.Delegation.Handle, cap.PermGrant)
	if err != nil {
		k.logger.Warn("delegating send denied",
			"thread", caller, "capability", message.Delegation.Handle, "error", err)
		return ErrnoFor(err)
	}
	if message.Delegation.Mode == ipc.DelegateGrant &&
		!message.Delegation.Permissions.SubsetOf(delegated.Permissions) {
		return EPerm
	}
	message.Sender = caller
	return ErrnoFor(k.ports.Send(port, message))
}

// SendBatch enqueues up to MaxBatchSize messages atomically: either
// all fit or none are enqueued. Returns the number delivered.
func (k *Kernel) SendBatch(caller ref.ThreadID, port ref.PortID, messages []ipc.Message) (int, Errno) {
	if !k.hasPortPermission(caller, port, cap.PermWrite) {
		k.logger.Warn("batch send denied", "thread", caller, "port", port)
		return 0, EPerm
	}
	for i := range messages {
		messages[i].Sender = caller
	}
	sent, err := k.ports.SendBatch(port, messages)
	return sent, ErrnoFor(err)
}

// TryRecv dequeues one message without blocking. The caller must own
// the port or hold a read-bearing capability over it. EWouldBlock when
// the queue is empty.
func (k *Kernel) TryRecv(caller ref.ThreadID, port ref.PortID) (ipc.Message, Errno) {
	if errno := k.checkReceiver(caller, port); errno.IsError() {
		return ipc.Message{}, errno
	}
	message, err := k.ports.TryRecv(port, caller)
	if err != nil {
		return ipc.Message{}, ErrnoFor(err)
	}
	return k.applyDelegation(caller, message), OK
}

// RecvBatch dequeues up to max messages without blocking.
func (k *Kernel) RecvBatch(caller ref.ThreadID, port ref.PortID, max int) ([]ipc.Message, Errno) {
	if errno := k.checkReceiver(caller, port); errno.IsError() {
		return nil, errno
	}
	messages, err := k.ports.RecvBatch(port, caller, max)
	if err != nil {
		return nil, ErrnoFor(err)
	}
	for i := range messages {
		messages[i] = k.applyDelegation(caller, messages[i])
	}
	return messages, OK
}

// Recv blocks until a message arrives on port. Equivalent to
// RecvTimeout with NoTimeout.
func (k *Kernel) Recv(ctx context.Context, caller ref.ThreadID, port ref.PortID) (ipc.Message, Errno) {
	return k.RecvTimeout(ctx, caller, port, NoTimeout)
}

// RecvTimeout dequeues one message, blocking up to timeoutMS kernel
// milliseconds. Zero means non-blocking; NoTimeout means wait forever.
// EBusy when another thread already blocks on the port, EDeadlk when
// blocking would close a wait cycle, ETimedOut on deadline expiry. A
// receive without a deadline returns only on delivery, port close, or
// context cancellation.
func (k *Kernel) RecvTimeout(ctx context.Context, caller ref.ThreadID, port ref.PortID, timeoutMS uint64) (ipc.Message, Errno) {
	message, errno := k.TryRecv(caller, port)
	if errno != EWouldBlock {
		return message, errno
	}
	if timeoutMS == 0 {
		return ipc.Message{}, EWouldBlock
	}

	wakeCh, err := k.threads.WakeChannel(caller)
	if err != nil {
		return ipc.Message{}, EInval
	}

	var deadline *uint64
	if timeoutMS != NoTimeout {
		ticks := (timeoutMS + ipc.TickMillis - 1) / ipc.TickMillis
		at := k.sched.Ticks() + ticks
		deadline = &at
	}

	priority := k.sched.EffectivePriority(caller)
	k.threads.DrainWake(caller)
	if err := k.ports.BlockReceive(port, caller, priority, deadline); err != nil {
		return ipc.Message{}, ErrnoFor(err)
	}
	k.sched.Block(caller)

	// Close the window where a message landed between the empty
	// TryRecv and the waiter registration: such a send saw no blocked
	// receiver and woke nobody.
	if message, errno = k.TryRecv(caller, port); errno != EWouldBlock {
		k.ports.CancelWait(caller)
		k.sched.MarkReady(caller)
		return message, errno
	}

	for {
		select {
		case <-wakeCh:
		case <-ctx.Done():
			k.ports.CancelWait(caller)
			k.sched.MarkReady(caller)
			return ipc.Message{}, ETimedOut
		}

		// Woken by a delivery, the deadline sweep, or a stray signal;
		// the queue and the waiter record decide which.
		if message, errno = k.TryRecv(caller, port); errno != EWouldBlock {
			return message, errno
		}
		if k.ports.IsWaiting(caller) {
			// Stray wake while still registered: keep waiting.
			continue
		}
		if deadline != nil && k.sched.Ticks() >= *deadline {
			return ipc.Message{}, ETimedOut
		}

		// The wait ended without a message and without the deadline
		// passing: a concurrent receiver drained the delivery, or the
		// wait was withdrawn. Re-register and wait out the episode.
		k.threads.DrainWake(caller)
		if err := k.ports.BlockReceive(port, caller, priority, deadline); err != nil {
			return ipc.Message{}, ErrnoFor(err)
		}
		k.sched.Block(caller)
		if message, errno = k.TryRecv(caller, port); errno != EWouldBlock {
			k.ports.CancelWait(caller)
			k.sched.MarkReady(caller)
			return message, errno
		}
	}
}

// --- Introspection ---

// Trace returns up to max IPC trace events, oldest first.
func (k *Kernel) Trace(max int) []ipc.TraceEvent { return k.ports.Trace(max) }

// PortStats returns the counters for one port.
func (k *Kernel) PortStats(port ref.PortID) (ipc.PortStats, Errno) {
	stats, err := k.ports.PortStats(port)
	if err != nil {
		return ipc.PortStats{}, ErrnoFor(err)
	}
	return stats, OK
}

// AuditLog returns up to max capability audit entries, newest first.
func (k *Kernel) AuditLog(max int) []cap.AuditEntry { return k.caps.AuditLog(max) }

// --- Internal helpers ---

// checkReceiver admits the port owner outright, anyone else on a
// read-bearing port capability.
func (k *Kernel) checkReceiver(caller ref.ThreadID, port ref.PortID) Errno {
	owner, err := k.ports.PortOwner(port)
	if err != nil {
		return ErrnoFor(err)
	}
	if owner == caller {
		return OK
	}
	if !k.hasPortPermission(caller, port, cap.PermRead) {
		k.logger.Warn("receive denied", "thread", caller, "port", port)
		return EPerm
	}
	return OK
}

// hasPortPermission reports whether the caller holds any capability
// over port carrying the required permissions.
func (k *Kernel) hasPortPermission(caller ref.ThreadID, port ref.PortID, required cap.Permissions) bool {
	handles, err := k.threads.Capabilities(caller)
	if err != nil {
		return false
	}
	for _, handle := range handles {
		capability, err := k.threads.ValidateCapability(caller, handle, required)
		if err != nil {
			continue
		}
		if resource, ok := capability.Resource.(cap.IPCPortResource); ok && resource.Port == port {
			return true
		}
	}
	return false
}

// hasRegionPermission reports whether the caller holds any capability
// over region carrying the required permissions.
func (k *Kernel) hasRegionPermission(caller ref.ThreadID, region ref.RegionID, required cap.Permissions) bool {
	handles, err := k.threads.Capabilities(caller)
	if err != nil {
		return false
	}
	for _, handle := range handles {
		capability, err := k.threads.ValidateCapability(caller, handle, required)
		if err != nil {
			continue
		}
		if resource, ok := capability.Resource.(cap.SharedMemoryResource); ok && resource.Region == region {
			return true
		}
	}
	return false
}

// applyDelegation settles a message's capability delegation at
// delivery: grant derives a reduced child owned by the receiver, move
// transfers the capability outright. The delegation's handle is
// rewritten to the one the receiver now holds. A delegation that can
// no longer be honored (sender exited, capability revoked in flight)
// is dropped with a warning; the message itself still delivers.
func (k *Kernel) applyDelegation(receiver ref.ThreadID, message ipc.Message) ipc.Message {
	if !message.HasDelegation() {
		return message
	}

	delegation := *message.Delegation
	switch delegation.Mode {
	case ipc.DelegateMove:
		if err := k.caps.Transfer(delegation.Handle, message.Sender, receiver); err != nil {
			k.logger.Warn("delegation dropped",
				"mode", delegation.Mode, "capability", delegation.Handle,
				"sender", message.Sender, "receiver", receiver, "error", err)
			message.Delegation = nil
			return message
		}
	default:
		child, err := k.caps.Derive(delegation.Handle, message.Sender, receiver, delegation.Permissions)
		if err != nil {
			k.logger.Warn("delegation dropped",
				"mode", delegation.Mode, "capability", delegation.Handle,
				"sender", message.Sender, "receiver", receiver, "error", err)
			message.Delegation = nil
			return message
		}
		delegation.Handle = child
	}
	message.Delegation = &delegation
	return message
}
