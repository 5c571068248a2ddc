// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package sched

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/atom-foundation/atom/kernel/ref"
	"github.com/atom-foundation/atom/kernel/thread"
)

// readyQueues is one FIFO per priority level. A thread appears in at
// most one queue, and only while in the Ready state.
type readyQueues struct {
	queues [thread.NumPriorities][]ref.ThreadID
}

func (q *readyQueues) push(id ref.ThreadID, priority thread.Priority) {
	q.queues[priority] = append(q.queues[priority], id)
}

// popNext removes and returns the front of the highest non-empty
// queue.
func (q *readyQueues) popNext() (ref.ThreadID, bool) {
	for level := thread.NumPriorities - 1; level >= 0; level-- {
		queue := q.queues[level]
		if len(queue) == 0 {
			continue
		}
		id := queue[0]
		q.queues[level] = queue[1:]
		return id, true
	}
	return 0, false
}

func (q *readyQueues) remove(id ref.ThreadID) bool {
	for level := range q.queues {
		before := len(q.queues[level])
		q.queues[level] = slices.DeleteFunc(q.queues[level], func(queued ref.ThreadID) bool {
			return queued == id
		})
		if len(q.queues[level]) != before {
			return true
		}
	}
	return false
}

// highestReady returns the priority of the best queued thread.
func (q *readyQueues) highestReady() (thread.Priority, bool) {
	for level := thread.NumPriorities - 1; level >= 0; level-- {
		if len(q.queues[level]) > 0 {
			return thread.Priority(level), true
		}
	}
	return 0, false
}

func (q *readyQueues) isEmpty() bool {
	for level := range q.queues {
		if len(q.queues[level]) > 0 {
			return false
		}
	}
	return true
}

// Scheduler owns the ready queues, the current thread, per-thread
// base and effective priorities, and the monotonic tick counter. One
// mutex guards all scheduling state, acquired and released per
// operation.
type Scheduler struct {
	threads *thread.Registry
	logger  *slog.Logger

	ticks atomic.Uint64

	mu          sync.Mutex
	ready       readyQueues
	base        map[ref.ThreadID]thread.Priority
	effective   map[ref.ThreadID]thread.Priority
	current     ref.ThreadID
	idle        ref.ThreadID
	initialized bool

	// contextSwitch, when set, is invoked after every dispatch that
	// changes the current thread. The hardware context switch lives
	// outside this core; the hook is where it attaches.
	contextSwitch func(from, to ref.ThreadID)
}

// New returns a scheduler over the given thread registry. Call Init
// before scheduling.
func New(threads *thread.Registry, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		threads:   threads,
		logger:    logger.With("component", "sched"),
		base:      make(map[ref.ThreadID]thread.Priority),
		effective: make(map[ref.ThreadID]thread.Priority),
	}
}

// SetContextSwitch installs the context-switch hook. Must be called
// before scheduling starts; the hook runs outside the scheduler lock.
func (s *Scheduler) SetContextSwitch(hook func(from, to ref.ThreadID)) {
	s.contextSwitch = hook
}

// Init creates the idle thread, installs it as the current thread, and
// enables scheduling. Returns the idle thread's id.
func (s *Scheduler) Init() ref.ThreadID {
	idleID := s.threads.Create("idle", thread.PriorityIdle)

	s.mu.Lock()
	s.idle = idleID
	s.current = idleID
	s.base[idleID] = thread.PriorityIdle
	s.effective[idleID] = thread.PriorityIdle
	s.initialized = true
	s.mu.Unlock()

	s.threads.SetState(idleID, thread.StateRunning)
	s.logger.Info("scheduler initialized", "idle", idleID)
	return idleID
}

// AddThread registers an existing thread with the scheduler at the
// given base priority and queues it as ready.
func (s *Scheduler) AddThread(id ref.ThreadID, priority thread.Priority) {
	s.mu.Lock()
	s.base[id] = priority
	s.effective[id] = priority
	s.ready.push(id, priority)
	s.mu.Unlock()

	s.threads.SetState(id, thread.StateReady)
	s.logger.Debug("thread admitted", "thread", id, "priority", priority)
}

// Ticks returns the monotonic tick count. This is the kernel's
// timestamp source.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks.Load()
}

// CurrentThread returns the currently running thread, or zero before
// Init.
func (s *Scheduler) CurrentThread() ref.ThreadID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// EffectivePriority returns the priority the ready queues index the
// thread by.
func (s *Scheduler) EffectivePriority(id ref.ThreadID) thread.Priority {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveLocked(id)
}

func (s *Scheduler) effectiveLocked(id ref.ThreadID) thread.Priority {
	if priority, ok := s.effective[id]; ok {
		return priority
	}
	return thread.PriorityNormal
}

// BasePriority returns the thread's creation-time priority.
func (s *Scheduler) BasePriority(id ref.ThreadID) thread.Priority {
	s.mu.Lock()
	defer s.mu.Unlock()
	if priority, ok := s.base[id]; ok {
		return priority
	}
	return thread.PriorityNormal
}

// BoostPriority raises the thread's effective priority to level if
// level is strictly higher than the current effective level. A queued
// thread is repositioned to its new queue. Returns whether a boost
// happened; the raise is monotonic and idempotent.
func (s *Scheduler) BoostPriority(id ref.ThreadID, level thread.Priority) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.effectiveLocked(id)
	if level <= current {
		return false
	}
	s.effective[id] = level
	if s.ready.remove(id) {
		s.ready.push(id, level)
	}
	s.logger.Debug("priority boosted", "thread", id, "from", current, "to", level)
	return true
}

// RestoreBasePriority resets the thread's effective priority to its
// base unconditionally, repositioning it if queued.
func (s *Scheduler) RestoreBasePriority(id ref.ThreadID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.base[id]
	if !ok {
		base = thread.PriorityNormal
	}
	if s.effectiveLocked(id) == base {
		return
	}
	s.effective[id] = base
	if s.ready.remove(id) {
		s.ready.push(id, base)
	}
	s.logger.Debug("priority restored", "thread", id, "to", base)
}

// MarkReady moves a blocked thread back to the ready queue at its
// effective priority and delivers its wake signal.
func (s *Scheduler) MarkReady(id ref.ThreadID) {
	s.mu.Lock()
	priority := s.effectiveLocked(id)
	// Guard against double-queuing on redundant wakes.
	s.ready.remove(id)
	s.ready.push(id, priority)
	s.mu.Unlock()

	s.threads.SetState(id, thread.StateReady)
	s.threads.Wake(id)
}

// Block records a voluntary suspension (blocking receive, sleep). If
// the thread was current, the processor falls back to the next ready
// thread or idle.
func (s *Scheduler) Block(id ref.ThreadID) {
	s.mu.Lock()
	s.ready.remove(id)
	wasCurrent := s.current == id
	if wasCurrent {
		s.current = 0
	}
	s.mu.Unlock()

	s.threads.SetState(id, thread.StateBlocked)
	if wasCurrent {
		s.Schedule()
	}
}

// Exit terminates the thread. Terminal: the thread leaves the queues
// and priority maps and never runs again.
func (s *Scheduler) Exit(id ref.ThreadID) {
	s.mu.Lock()
	s.ready.remove(id)
	delete(s.base, id)
	delete(s.effective, id)
	wasCurrent := s.current == id
	if wasCurrent {
		s.current = 0
	}
	s.mu.Unlock()

	s.threads.SetState(id, thread.StateExited)
	s.logger.Debug("thread exited", "thread", id)
	if wasCurrent {
		s.Schedule()
	}
}

// Schedule dispatches the next ready thread: the front of the highest
// non-empty queue, or the idle thread when nothing is ready. The
// previous thread, if still runnable, is requeued behind its peers.
// Returns the thread now running, or zero before Init.
func (s *Scheduler) Schedule() ref.ThreadID {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return 0
	}

	previous := s.current
	next, ok := s.ready.popNext()
	if !ok {
		if previous != 0 {
			// Nothing else to run; keep the current thread.
			s.mu.Unlock()
			return previous
		}
		next = s.idle
	}

	if previous != 0 && previous != next && previous != s.idle {
		s.ready.push(previous, s.effectiveLocked(previous))
	}
	s.current = next
	s.mu.Unlock()

	s.finishSwitch(previous, next)
	return next
}

// OnTimerTick advances the tick counter and preempts the current
// thread when ready work exists at its level or above. Returns the
// previous and newly current threads.
func (s *Scheduler) OnTimerTick() (previous, next ref.ThreadID) {
	s.ticks.Add(1)

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return 0, 0
	}

	previous = s.current
	best, any := s.ready.highestReady()
	if !any {
		s.mu.Unlock()
		return previous, previous
	}

	// Preempt when a queued thread is at least as urgent, or the
	// processor is idle. A strictly lower-priority queued thread
	// waits for the current thread to block or exit.
	if previous != 0 && previous != s.idle && best < s.effectiveLocked(previous) {
		s.mu.Unlock()
		return previous, previous
	}

	next, _ = s.ready.popNext()
	if previous != 0 && previous != s.idle && previous != next {
		s.ready.push(previous, s.effectiveLocked(previous))
	}
	s.current = next
	s.mu.Unlock()

	s.finishSwitch(previous, next)
	return previous, next
}

// finishSwitch updates thread states and fires the context-switch
// hook. Runs outside the scheduler lock.
func (s *Scheduler) finishSwitch(previous, next ref.ThreadID) {
	if previous != 0 && previous != next {
		if state, err := s.threads.State(previous); err == nil && state == thread.StateRunning {
			s.threads.SetState(previous, thread.StateReady)
		}
	}
	if next != 0 {
		s.threads.SetState(next, thread.StateRunning)
	}
	if previous != next && s.contextSwitch != nil {
		s.contextSwitch(previous, next)
	}
}

// HasReadyWork reports whether any thread is queued.
func (s *Scheduler) HasReadyWork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ready.isEmpty()
}

// IdleThread returns the installed idle thread id.
func (s *Scheduler) IdleThread() ref.ThreadID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}
