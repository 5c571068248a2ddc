// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

// Package sched implements the fixed-priority round-robin scheduler.
//
// Four ready queues, one FIFO per priority level. Dispatch always
// prefers the highest non-empty level; threads within a level rotate
// round-robin on timer-tick preemption. An idle thread installed at
// initialization is the fallback when no other thread is ready.
//
// Every thread has a base priority assigned at creation and an
// effective priority the ready queues are indexed by. BoostPriority
// raises the effective level only when the new level is strictly
// higher (a monotonic raise); RestoreBasePriority resets it to base
// unconditionally. The IPC layer builds priority inheritance out of
// this pair: a port owner is boosted to the maximum priority among
// the port's waiters, and restored once the blocking episode ends.
//
// The scheduler also owns the monotonic tick counter that timestamps
// audit entries and IPC deadlines. No SMP: there is one current
// thread, and preemption happens only on ticks.
package sched
