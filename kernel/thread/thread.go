// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package thread

import (
	"github.com/atom-foundation/atom/kernel/cap"
	"github.com/atom-foundation/atom/kernel/ref"
)

// State is a thread's lifecycle state. Transitions: Ready→Running on
// dispatch, Running→Ready on preemption, Running→Blocked on a
// voluntary suspend (blocking receive, sleep), Blocked→Ready on an
// explicit wake. Exited is terminal from any state.
type State int

const (
	// StateReady means the thread is runnable and queued.
	StateReady State = iota
	// StateRunning means the thread is the current thread.
	StateRunning
	// StateBlocked means the thread is suspended waiting for a wake.
	StateBlocked
	// StateExited means the thread has terminated. Terminal.
	StateExited
)

// String returns the canonical state name.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Priority is one of four fixed scheduling levels. Higher values are
// scheduled first.
type Priority int

const (
	// PriorityIdle is reserved for the idle thread.
	PriorityIdle Priority = iota
	// PriorityLow is background work.
	PriorityLow
	// PriorityNormal is the default level.
	PriorityNormal
	// PriorityHigh is latency-sensitive work.
	PriorityHigh

	// NumPriorities is the number of scheduling levels.
	NumPriorities = iota
)

// String returns the canonical priority name.
func (p Priority) String() string {
	switch p {
	case PriorityIdle:
		return "idle"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "invalid"
	}
}

// Max returns the higher of p and other.
func (p Priority) Max(other Priority) Priority {
	if other > p {
		return other
	}
	return p
}

// ControlBlock is the kernel-side record of one thread. Access is
// serialized by the registry; the wake channel is the only field other
// goroutines touch directly.
type ControlBlock struct {
	id           ref.ThreadID
	name         string
	state        State
	basePriority Priority
	table        *cap.Table

	// wake carries resume signals for a blocked thread. Capacity 1:
	// a wake delivered while the thread is not yet parked is not
	// lost, and redundant wakes collapse.
	wake chan struct{}
}

// ID returns the thread's identifier.
func (cb *ControlBlock) ID() ref.ThreadID { return cb.id }

// Name returns the thread's display name.
func (cb *ControlBlock) Name() string { return cb.name }
