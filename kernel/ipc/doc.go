// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc implements the message port subsystem: bounded message
// queues between threads, with capability delegation, deadlock
// detection, priority inheritance hooks, and first-class
// observability.
//
// # Ports and messages
//
// A port has exactly one owner, a FIFO queue capped at MaxQueueDepth
// messages, and at most one blocked receiver at a time. Messages carry
// a sender, a 32-bit application type tag, an inline payload of at
// most ZeroCopyThreshold bytes, and optionally either a capability
// delegation record or a shared memory region reference. Payloads
// between ZeroCopyThreshold and MaxMessageSize are rejected with
// ErrRequiresSharedMemory: the zero-copy threshold is a hard policy
// line, not a heuristic.
//
// # Blocking and deadlock
//
// Before a thread may block on a port, the registry walks the chain
// "owner of the port → port that owner is blocked on → its owner → …";
// if the chain returns to the requester, the block is refused with
// ErrDeadlockDetected. The walk is bounded by the number of ports plus
// waiters, so it terminates even under malformed state. While a
// receiver is blocked, the port owner's effective priority is boosted
// to the maximum waiter priority; the boost is undone when the
// blocking episode ends (delivery, timeout, or port close).
//
// # Observability
//
// Send and receive events land in a fixed-size trace ring, overwritten
// oldest-first. Each port tracks message and byte counters, min/max/
// average delivery latency, and approximate throughput.
//
// Ordering: within one port, delivery is FIFO; batched sends preserve
// caller order; there is no cross-port ordering guarantee.
package ipc
