// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "errors"

// Port operation failures. Callers branch with errors.Is; the syscall
// boundary maps these onto its numeric code set.
var (
	// ErrInvalidPort means the port id names no live port.
	ErrInvalidPort = errors.New("invalid port")

	// ErrPermissionDenied means the caller is not the port owner.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrMessageTooLarge means the inline payload exceeds
	// MaxMessageSize.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrRequiresSharedMemory means the inline payload is above the
	// zero-copy threshold; the sender must use a shared memory region.
	ErrRequiresSharedMemory = errors.New("payload requires shared memory")

	// ErrSharedMemoryPayloadConflict means the message carries both a
	// non-empty inline payload and a shared region reference.
	ErrSharedMemoryPayloadConflict = errors.New("inline payload conflicts with shared region")

	// ErrInvalidSharedRegion means the referenced region is unknown.
	ErrInvalidSharedRegion = errors.New("invalid shared region")

	// ErrQueueFull means the port's queue is at MaxQueueDepth.
	ErrQueueFull = errors.New("port queue full")

	// ErrBatchTooLarge means more than MaxBatchSize messages in one
	// batch call.
	ErrBatchTooLarge = errors.New("batch too large")

	// ErrPortBusy means another thread already holds the port's
	// blocked-receiver slot.
	ErrPortBusy = errors.New("port busy")

	// ErrDeadlockDetected means blocking would close a wait cycle
	// across port ownership.
	ErrDeadlockDetected = errors.New("deadlock detected")

	// ErrWouldBlock means a non-blocking receive found the queue
	// empty.
	ErrWouldBlock = errors.New("operation would block")

	// ErrTimedOut means a blocking receive reached its deadline with
	// no message.
	ErrTimedOut = errors.New("operation timed out")
)
