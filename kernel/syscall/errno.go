// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package syscall

import (
	"errors"
	"math"

	"github.com/atom-foundation/atom/kernel/cap"
	"github.com/atom-foundation/atom/kernel/ipc"
	"github.com/atom-foundation/atom/kernel/sharedmem"
	"github.com/atom-foundation/atom/kernel/thread"
)

// Errno is the stable numeric result code returned across the call
// boundary. Zero is success; failures count down from the top of the
// uint64 range so they can never collide with returned handles or ids.
type Errno uint64

const (
	// OK is the success code.
	OK Errno = 0

	// EInval means an argument named no live object or was otherwise
	// malformed.
	EInval Errno = math.MaxUint64 - 1

	// ENosys means the operation is not implemented.
	ENosys Errno = math.MaxUint64 - 2

	// ENomem means a queue or allocation limit was hit.
	ENomem Errno = math.MaxUint64 - 3

	// EPerm means a capability or ownership check failed.
	EPerm Errno = math.MaxUint64 - 4

	// EBusy means a single-slot resource was already held.
	EBusy Errno = math.MaxUint64 - 5

	// EMsgSize means a payload exceeded a message size bound.
	EMsgSize Errno = math.MaxUint64 - 6

	// ETimedOut means a blocking operation reached its deadline.
	ETimedOut Errno = math.MaxUint64 - 7

	// EWouldBlock means a non-blocking operation found nothing to do.
	EWouldBlock Errno = math.MaxUint64 - 8

	// EDeadlk means blocking would have closed a wait cycle.
	EDeadlk Errno = math.MaxUint64 - 9
)

// String returns the conventional short name for the code.
func (e Errno) String() string {
	switch e {
	case OK:
		return "OK"
	case EInval:
		return "EINVAL"
	case ENosys:
		return "ENOSYS"
	case ENomem:
		return "ENOMEM"
	case EPerm:
		return "EPERM"
	case EBusy:
		return "EBUSY"
	case EMsgSize:
		return "EMSGSIZE"
	case ETimedOut:
		return "ETIMEDOUT"
	case EWouldBlock:
		return "EWOULDBLOCK"
	case EDeadlk:
		return "EDEADLK"
	}
	return "EUNKNOWN"
}

// IsError reports whether the code is a failure.
func (e Errno) IsError() bool { return e != OK }

// ErrnoFor maps a subsystem error onto the stable code set. Unknown
// errors map to EInval, the fail-safe default.
func ErrnoFor(err error) Errno {
	switch {
	case err == nil:
		return OK

	case errors.Is(err, ipc.ErrPermissionDenied),
		errors.Is(err, sharedmem.ErrPermissionDenied),
		errors.Is(err, cap.ErrPermissionDenied),
		errors.Is(err, cap.ErrNotOwner):
		return EPerm

	case errors.Is(err, ipc.ErrMessageTooLarge),
		errors.Is(err, ipc.ErrRequiresSharedMemory):
		return EMsgSize

	case errors.Is(err, ipc.ErrQueueFull),
		errors.Is(err, ipc.ErrBatchTooLarge):
		return ENomem

	case errors.Is(err, ipc.ErrPortBusy):
		return EBusy

	case errors.Is(err, ipc.ErrDeadlockDetected):
		return EDeadlk

	case errors.Is(err, ipc.ErrWouldBlock):
		return EWouldBlock

	case errors.Is(err, ipc.ErrTimedOut):
		return ETimedOut

	case errors.Is(err, ipc.ErrInvalidPort),
		errors.Is(err, ipc.ErrInvalidSharedRegion),
		errors.Is(err, ipc.ErrSharedMemoryPayloadConflict),
		errors.Is(err, sharedmem.ErrNotFound),
		errors.Is(err, sharedmem.ErrInvalidSize),
		errors.Is(err, sharedmem.ErrAlreadyMapped),
		errors.Is(err, sharedmem.ErrNotMapped),
		errors.Is(err, cap.ErrNotFound),
		errors.Is(err, cap.ErrAlreadyExists),
		errors.Is(err, thread.ErrNotFound):
		return EInval
	}
	return EInval
}
