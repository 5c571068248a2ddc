// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/atom-foundation/atom/kernel/ref"
	"github.com/atom-foundation/atom/kernel/thread"
)

// Scheduler is the slice of the scheduler the port subsystem needs:
// the tick clock, wakeups, and the priority inheritance primitives.
type Scheduler interface {
	Ticks() uint64
	MarkReady(id ref.ThreadID)
	BoostPriority(id ref.ThreadID, level thread.Priority) bool
	RestoreBasePriority(id ref.ThreadID)
}

// RegionResolver resolves a shared region reference to its size, which
// is the effective transfer size of a zero-copy message.
type RegionResolver interface {
	RegionSize(id ref.RegionID) (int, error)
}

// port is the registry-internal state of one port.
type port struct {
	id    ref.PortID
	owner ref.ThreadID
	queue []Message

	// blockedReceiver is the single thread waiting on this port, zero
	// when the port is idle. A second blocking receive while the slot
	// is held fails fast with ErrPortBusy.
	blockedReceiver ref.ThreadID

	// maxWaiterPriority is the highest priority seen among waiters of
	// the current blocking episode, the level the owner is boosted to.
	maxWaiterPriority thread.Priority
	hasWaiter         bool

	metrics portMetrics
}

// waiter records where a blocked thread waits and until when.
type waiter struct {
	port ref.PortID

	// deadline is an absolute tick count. Meaningful only when
	// hasDeadline is set; without a deadline the wait is infinite.
	deadline    uint64
	hasDeadline bool
}

// Registry owns every port, the waiter table, and the trace ring. The
// port collection and the waiter table are guarded by their own locks,
// acquired and released per operation and never held across a blocking
// wait. When both are needed, the port lock is taken first.
type Registry struct {
	sched   Scheduler
	regions RegionResolver
	logger  *slog.Logger

	nextPort atomic.Uint64

	mu    sync.Mutex
	ports map[ref.PortID]*port

	waitMu  sync.Mutex
	waiters map[ref.ThreadID]waiter

	traceMu sync.Mutex
	trace   traceRing
}

// NewRegistry returns an empty port registry.
func NewRegistry(sched Scheduler, regions RegionResolver, logger *slog.Logger) *Registry {
	return &Registry{
		sched:   sched,
		regions: regions,
		logger:  logger.With("component", "ipc"),
		ports:   make(map[ref.PortID]*port),
		waiters: make(map[ref.ThreadID]waiter),
	}
}

// nowMS returns the kernel time in milliseconds, derived from
// scheduler ticks. Coarse but deterministic.
func (r *Registry) nowMS() uint64 {
	return r.sched.Ticks() * TickMillis
}

// CreatePort allocates a port owned by owner.
func (r *Registry) CreatePort(owner ref.ThreadID) ref.PortID {
	id := ref.PortID(r.nextPort.Add(1))

	r.mu.Lock()
	r.ports[id] = &port{id: id, owner: owner}
	r.mu.Unlock()

	r.logger.Debug("port created", "port", id, "owner", owner)
	return id
}

// PortOwner returns the owning thread of a port.
func (r *Registry) PortOwner(id ref.PortID) (ref.ThreadID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.ports[id]
	if !ok {
		return 0, fmt.Errorf("resolving owner of %v: %w", id, ErrInvalidPort)
	}
	return p.owner, nil
}

// ClosePort removes the port. Only the owner may close it. A receiver
// blocked on the port is woken with its priority restored; undelivered
// messages are dropped with the port.
func (r *Registry) ClosePort(id ref.PortID, caller ref.ThreadID) error {
	r.mu.Lock()
	p, ok := r.ports[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("closing %v: %w", id, ErrInvalidPort)
	}
	if p.owner != caller {
		r.mu.Unlock()
		r.logger.Warn("port close rejected", "port", id, "caller", caller, "owner", p.owner)
		return fmt.Errorf("closing %v as %v: %w", id, caller, ErrPermissionDenied)
	}
	blocked := p.blockedReceiver
	delete(r.ports, id)
	r.mu.Unlock()

	if blocked != 0 {
		r.waitMu.Lock()
		delete(r.waiters, blocked)
		r.waitMu.Unlock()

		r.sched.MarkReady(blocked)
		r.sched.RestoreBasePriority(blocked)
		r.rebalanceOwnerBoost(caller)
	}
	r.logger.Debug("port closed", "port", id, "dropped_messages", len(p.queue))
	return nil
}

// effectiveSize validates a message's payload policy and returns its
// effective transfer size. A shared region reference requires an empty
// inline payload; an inline payload must not exceed the zero-copy
// threshold.
func (r *Registry) effectiveSize(message *Message) (int, error) {
	if message.SharedRegion != 0 {
		if len(message.Payload) > 0 {
			return 0, fmt.Errorf("message with %v: %w", message.SharedRegion, ErrSharedMemoryPayloadConflict)
		}
		size, err := r.regions.RegionSize(message.SharedRegion)
		if err != nil {
			return 0, fmt.Errorf("message with %v: %w", message.SharedRegion, ErrInvalidSharedRegion)
		}
		return size, nil
	}

	if len(message.Payload) > MaxMessageSize {
		return 0, fmt.Errorf("payload of %d bytes: %w", len(message.Payload), ErrMessageTooLarge)
	}
	if len(message.Payload) > ZeroCopyThreshold {
		return 0, fmt.Errorf("payload of %d bytes exceeds %d: %w",
			len(message.Payload), ZeroCopyThreshold, ErrRequiresSharedMemory)
	}
	return len(message.Payload), nil
}

// Send validates and enqueues one message, stamping its timestamp if
// absent. A receiver blocked on the port is woken.
func (r *Registry) Send(id ref.PortID, message Message) error {
	r.mu.Lock()
	p, ok := r.ports[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("sending to %v: %w", id, ErrInvalidPort)
	}

	size, err := r.effectiveSize(&message)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("sending to %v: %w", id, err)
	}
	if len(p.queue) >= MaxQueueDepth {
		r.mu.Unlock()
		return fmt.Errorf("sending to %v: %w", id, ErrQueueFull)
	}

	if message.TimestampMS == 0 {
		message.TimestampMS = r.nowMS()
	}
	p.queue = append(p.queue, message)
	p.metrics.recordSend(size, message.TimestampMS)

	blocked, owner := p.takeBlockedReceiver()
	r.mu.Unlock()

	r.recordTrace(TraceEvent{
		TimestampMS: message.TimestampMS,
		Kind:        TraceSend,
		Port:        id,
		Sender:      message.Sender,
		Size:        size,
	})

	if blocked != 0 {
		r.wakeReceiver(blocked, owner)
	}
	return nil
}

// SendBatch validates every message before any enqueue (all-or-nothing
// up to the queue-capacity and size checks), then lands the whole
// batch in caller order. A blocked receiver is woken exactly once,
// after the entire batch is queued. Returns the number of messages
// enqueued.
func (r *Registry) SendBatch(id ref.PortID, messages []Message) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}
	if len(messages) > MaxBatchSize {
		return 0, fmt.Errorf("batch of %d messages: %w", len(messages), ErrBatchTooLarge)
	}

	r.mu.Lock()
	p, ok := r.ports[id]
	if !ok {
		r.mu.Unlock()
		return 0, fmt.Errorf("batch sending to %v: %w", id, ErrInvalidPort)
	}

	sizes := make([]int, len(messages))
	for i := range messages {
		size, err := r.effectiveSize(&messages[i])
		if err != nil {
			r.mu.Unlock()
			return 0, fmt.Errorf("batch sending to %v (message %d): %w", id, i, err)
		}
		sizes[i] = size
	}
	if len(p.queue)+len(messages) > MaxQueueDepth {
		r.mu.Unlock()
		return 0, fmt.Errorf("batch sending %d to %v with %d queued: %w",
			len(messages), id, len(p.queue), ErrQueueFull)
	}

	now := r.nowMS()
	events := make([]TraceEvent, 0, len(messages))
	for i := range messages {
		if messages[i].TimestampMS == 0 {
			messages[i].TimestampMS = now
		}
		p.queue = append(p.queue, messages[i])
		p.metrics.recordSend(sizes[i], messages[i].TimestampMS)
		events = append(events, TraceEvent{
			TimestampMS: messages[i].TimestampMS,
			Kind:        TraceSend,
			Port:        id,
			Sender:      messages[i].Sender,
			Size:        sizes[i],
		})
	}

	blocked, owner := p.takeBlockedReceiver()
	r.mu.Unlock()

	for _, event := range events {
		r.recordTrace(event)
	}
	if blocked != 0 {
		r.wakeReceiver(blocked, owner)
	}
	return len(messages), nil
}

// takeBlockedReceiver clears and returns the port's blocked-receiver
// slot. Caller holds the port lock.
func (p *port) takeBlockedReceiver() (receiver, owner ref.ThreadID) {
	receiver = p.blockedReceiver
	owner = p.owner
	p.blockedReceiver = 0
	p.hasWaiter = false
	return receiver, owner
}

// wakeReceiver finishes a delivery wake: the waiter record goes away,
// the receiver is made ready with its base priority back, and the port
// owner's inheritance boost is recomputed.
func (r *Registry) wakeReceiver(receiver, owner ref.ThreadID) {
	r.waitMu.Lock()
	delete(r.waiters, receiver)
	r.waitMu.Unlock()

	r.sched.MarkReady(receiver)
	r.sched.RestoreBasePriority(receiver)
	r.rebalanceOwnerBoost(owner)
}

// TryRecv pops the front message if one is queued. Returns
// ErrWouldBlock on an empty queue.
func (r *Registry) TryRecv(id ref.PortID, caller ref.ThreadID) (Message, error) {
	r.mu.Lock()
	p, ok := r.ports[id]
	if !ok {
		r.mu.Unlock()
		return Message{}, fmt.Errorf("receiving from %v: %w", id, ErrInvalidPort)
	}
	if len(p.queue) == 0 {
		r.mu.Unlock()
		return Message{}, fmt.Errorf("receiving from %v: %w", id, ErrWouldBlock)
	}

	message := p.queue[0]
	// Clear the slot so the backing array does not pin the payload.
	p.queue[0] = Message{}
	p.queue = p.queue[1:]

	receiveMS := r.nowMS()
	size, err := r.effectiveSize(&message)
	if err != nil {
		// A region destroyed after enqueue: deliver with size zero
		// rather than losing the message.
		size = 0
	}
	p.metrics.recordReceive(size, message.TimestampMS, receiveMS)
	r.mu.Unlock()

	r.recordTrace(TraceEvent{
		TimestampMS: receiveMS,
		Kind:        TraceReceive,
		Port:        id,
		Sender:      message.Sender,
		Receiver:    caller,
		Size:        size,
	})
	return message, nil
}

// RecvBatch pops up to max queued messages (capped at MaxBatchSize)
// without blocking. A non-positive max and an empty queue both yield
// an empty slice, not an error.
func (r *Registry) RecvBatch(id ref.PortID, caller ref.ThreadID, max int) ([]Message, error) {
	if max < 0 {
		max = 0
	}
	if max > MaxBatchSize {
		max = MaxBatchSize
	}

	messages := make([]Message, 0, max)
	for len(messages) < max {
		message, err := r.TryRecv(id, caller)
		if err != nil {
			if len(messages) > 0 || isWouldBlock(err) {
				break
			}
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// BlockReceive registers caller as the port's single blocked receiver
// with an optional deadline in absolute ticks. The caller must already
// have found the queue empty; the scheduler-side blocked transition is
// the caller's next step. While the episode lasts, the port owner is
// boosted to the maximum waiter priority.
func (r *Registry) BlockReceive(id ref.PortID, caller ref.ThreadID, callerPriority thread.Priority, deadline *uint64) error {
	if err := r.detectDeadlock(caller, id); err != nil {
		return err
	}

	r.mu.Lock()
	p, ok := r.ports[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("blocking on %v: %w", id, ErrInvalidPort)
	}
	if p.blockedReceiver != 0 {
		r.mu.Unlock()
		return fmt.Errorf("blocking on %v: %w", id, ErrPortBusy)
	}

	p.blockedReceiver = caller
	if !p.hasWaiter || callerPriority > p.maxWaiterPriority {
		p.maxWaiterPriority = callerPriority
	}
	p.hasWaiter = true
	owner := p.owner
	boost := p.maxWaiterPriority
	r.mu.Unlock()

	r.waitMu.Lock()
	record := waiter{port: id}
	if deadline != nil {
		record.deadline = *deadline
		record.hasDeadline = true
	}
	r.waiters[caller] = record
	r.waitMu.Unlock()

	// Priority inheritance: the owner runs at the waiter's level until
	// the episode ends. The deadlock walk has already excluded
	// owner == caller.
	r.sched.BoostPriority(owner, boost)
	return nil
}

// detectDeadlock refuses a block that would close a wait cycle: it
// walks owner(target) → port that owner is blocked on → its owner → …
// and fails if the chain returns to the requester. The walk is bounded
// by ports+waiters so it terminates even under malformed state.
func (r *Registry) detectDeadlock(requester ref.ThreadID, target ref.PortID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waitMu.Lock()
	defer r.waitMu.Unlock()

	bound := len(r.ports) + len(r.waiters)
	current := target
	for steps := 0; steps <= bound; steps++ {
		p, ok := r.ports[current]
		if !ok {
			return nil
		}
		if p.owner == requester {
			r.logger.Warn("deadlock prevented",
				"thread", requester, "port", target, "cycle_port", current)
			return fmt.Errorf("blocking %v on %v: %w", requester, target, ErrDeadlockDetected)
		}
		next, waiting := r.waiters[p.owner]
		if !waiting {
			return nil
		}
		current = next.port
	}
	return nil
}

// OnTimerTick sweeps the waiter table for expired deadlines. Every
// expired waiter loses its blocked-receiver slot, becomes ready with
// its base priority restored, and the affected port owner's boost is
// recomputed.
func (r *Registry) OnTimerTick(currentTicks uint64) {
	type expiry struct {
		thread ref.ThreadID
		port   ref.PortID
	}

	r.waitMu.Lock()
	var expired []expiry
	for id, record := range r.waiters {
		if record.hasDeadline && currentTicks >= record.deadline {
			expired = append(expired, expiry{thread: id, port: record.port})
		}
	}
	for _, e := range expired {
		delete(r.waiters, e.thread)
	}
	r.waitMu.Unlock()

	if len(expired) == 0 {
		return
	}

	owners := make([]ref.ThreadID, 0, len(expired))
	r.mu.Lock()
	for _, e := range expired {
		if p, ok := r.ports[e.port]; ok && p.blockedReceiver == e.thread {
			p.blockedReceiver = 0
			p.hasWaiter = false
			owners = append(owners, p.owner)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		r.logger.Warn("receive timed out", "thread", e.thread, "port", e.port, "tick", currentTicks)
		r.sched.MarkReady(e.thread)
		r.sched.RestoreBasePriority(e.thread)
	}
	for _, owner := range owners {
		r.rebalanceOwnerBoost(owner)
	}
}

// CancelWait withdraws id's blocking receive, if any: the waiter
// record and the port's blocked-receiver slot are cleared and the
// owner's inheritance boost is recomputed. Reports whether a wait was
// cancelled. The caller is responsible for rescheduling the thread.
func (r *Registry) CancelWait(id ref.ThreadID) bool {
	r.waitMu.Lock()
	record, ok := r.waiters[id]
	if ok {
		delete(r.waiters, id)
	}
	r.waitMu.Unlock()
	if !ok {
		return false
	}

	var owner ref.ThreadID
	var hadSlot bool
	r.mu.Lock()
	if p, exists := r.ports[record.port]; exists && p.blockedReceiver == id {
		p.blockedReceiver = 0
		p.hasWaiter = false
		owner = p.owner
		hadSlot = true
	}
	r.mu.Unlock()

	r.sched.RestoreBasePriority(id)
	if hadSlot {
		r.rebalanceOwnerBoost(owner)
	}
	return true
}

// IsWaiting reports whether id currently has a waiter record. The
// syscall layer uses it to distinguish a delivery wake from a timeout
// after the thread resumes.
func (r *Registry) IsWaiting(id ref.ThreadID) bool {
	r.waitMu.Lock()
	defer r.waitMu.Unlock()
	_, ok := r.waiters[id]
	return ok
}

// MaxWaiterPriority returns the recorded maximum waiter priority for
// the port's current blocking episode.
func (r *Registry) MaxWaiterPriority(id ref.PortID) (thread.Priority, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.ports[id]
	if !ok || !p.hasWaiter {
		return 0, false
	}
	return p.maxWaiterPriority, true
}

// rebalanceOwnerBoost recomputes a thread's inheritance boost after a
// blocking episode ends somewhere: base priority first, then re-boost
// to the highest waiter still blocked on any port the thread owns.
// Unconditional restore alone would drop a boost the thread still
// deserves for another port.
func (r *Registry) rebalanceOwnerBoost(owner ref.ThreadID) {
	r.mu.Lock()
	var highest thread.Priority
	var any bool
	for _, p := range r.ports {
		if p.owner == owner && p.hasWaiter {
			if !any || p.maxWaiterPriority > highest {
				highest = p.maxWaiterPriority
			}
			any = true
		}
	}
	r.mu.Unlock()

	r.sched.RestoreBasePriority(owner)
	if any {
		r.sched.BoostPriority(owner, highest)
	}
}

// recordTrace pushes an event into the trace ring and mirrors it to
// the debug log.
func (r *Registry) recordTrace(event TraceEvent) {
	r.traceMu.Lock()
	r.trace.push(event)
	r.traceMu.Unlock()

	if event.Kind == TraceSend {
		r.logger.Debug("trace send",
			"port", event.Port, "sender", event.Sender,
			"size", event.Size, "timestamp_ms", event.TimestampMS)
	} else {
		r.logger.Debug("trace receive",
			"port", event.Port, "sender", event.Sender, "receiver", event.Receiver,
			"size", event.Size, "timestamp_ms", event.TimestampMS)
	}
}

// Trace returns up to max trace events, oldest first.
func (r *Registry) Trace(max int) []TraceEvent {
	r.traceMu.Lock()
	defer r.traceMu.Unlock()
	return r.trace.snapshot(max)
}

// PortStats returns a snapshot of the port's counters.
func (r *Registry) PortStats(id ref.PortID) (PortStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.ports[id]
	if !ok {
		return PortStats{}, fmt.Errorf("stats for %v: %w", id, ErrInvalidPort)
	}
	return p.metrics.snapshot(), nil
}

// Stats summarizes the subsystem.
type Stats struct {
	Ports          int `cbor:"ports"`
	QueuedMessages int `cbor:"queued_messages"`
	BlockedThreads int `cbor:"blocked_threads"`
}

// Stats returns port, queued-message, and blocked-thread counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	stats := Stats{Ports: len(r.ports)}
	for _, p := range r.ports {
		stats.QueuedMessages += len(p.queue)
	}
	r.mu.Unlock()

	r.waitMu.Lock()
	stats.BlockedThreads = len(r.waiters)
	r.waitMu.Unlock()
	return stats
}

func isWouldBlock(err error) bool {
	return errors.Is(err, ErrWouldBlock)
}
