// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package thread

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/atom-foundation/atom/kernel/cap"
	"github.com/atom-foundation/atom/kernel/ref"
)

// ErrNotFound means the thread id names no live control block.
var ErrNotFound = fmt.Errorf("thread not found")

// Registry owns every thread control block. One mutex guards the
// whole table, acquired and released per operation — never held
// across a blocking wait.
type Registry struct {
	logger *slog.Logger

	nextID atomic.Uint64

	mu      sync.Mutex
	threads map[ref.ThreadID]*ControlBlock
}

// NewRegistry returns an empty thread registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger.With("component", "thread"),
		threads: make(map[ref.ThreadID]*ControlBlock),
	}
}

// Create allocates a control block in the Ready state with the given
// base priority and an empty capability table.
func (r *Registry) Create(name string, priority Priority) ref.ThreadID {
	id := ref.ThreadID(r.nextID.Add(1))
	block := &ControlBlock{
		id:           id,
		name:         name,
		state:        StateReady,
		basePriority: priority,
		table:        cap.NewTable(id),
		wake:         make(chan struct{}, 1),
	}

	r.mu.Lock()
	r.threads[id] = block
	r.mu.Unlock()

	r.logger.Debug("thread created", "thread", id, "name", name, "priority", priority)
	return id
}

// Exists reports whether id names a live control block.
func (r *Registry) Exists(id ref.ThreadID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.threads[id]
	return ok
}

// Name returns the thread's display name.
func (r *Registry) Name(id ref.ThreadID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	block, ok := r.threads[id]
	if !ok {
		return "", fmt.Errorf("naming %v: %w", id, ErrNotFound)
	}
	return block.name, nil
}

// State returns the thread's lifecycle state.
func (r *Registry) State(id ref.ThreadID) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	block, ok := r.threads[id]
	if !ok {
		return 0, fmt.Errorf("reading state of %v: %w", id, ErrNotFound)
	}
	return block.state, nil
}

// SetState moves the thread to state. Exited is terminal: once a
// thread has exited, further transitions are ignored.
func (r *Registry) SetState(id ref.ThreadID, state State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	block, ok := r.threads[id]
	if !ok || block.state == StateExited {
		return false
	}
	block.state = state
	return true
}

// BasePriority returns the thread's base (creation-time) priority.
func (r *Registry) BasePriority(id ref.ThreadID) (Priority, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	block, ok := r.threads[id]
	if !ok {
		return 0, fmt.Errorf("reading base priority of %v: %w", id, ErrNotFound)
	}
	return block.basePriority, nil
}

// Wake delivers a resume signal to id. Non-blocking: if a signal is
// already pending the wake collapses into it.
func (r *Registry) Wake(id ref.ThreadID) {
	r.mu.Lock()
	block, ok := r.threads[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	select {
	case block.wake <- struct{}{}:
	default:
	}
}

// WakeChannel returns the channel a blocked thread parks on. The
// channel is created once at thread creation and never replaced, so
// holding it across the registry lock is safe.
func (r *Registry) WakeChannel(id ref.ThreadID) (<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	block, ok := r.threads[id]
	if !ok {
		return nil, fmt.Errorf("wake channel of %v: %w", id, ErrNotFound)
	}
	return block.wake, nil
}

// DrainWake clears any stale pending wake signal for id. Called
// before a thread blocks so a leftover signal from a previous episode
// cannot cause a spurious instant wake.
func (r *Registry) DrainWake(id ref.ThreadID) {
	r.mu.Lock()
	block, ok := r.threads[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-block.wake:
	default:
	}
}

// InsertCapability implements cap.TableStore.
func (r *Registry) InsertCapability(owner ref.ThreadID, capability cap.Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	block, ok := r.threads[owner]
	if !ok {
		return fmt.Errorf("inserting %v for %v: %w", capability.Handle, owner, cap.ErrNotFound)
	}
	return block.table.Insert(capability)
}

// RemoveCapability implements cap.TableStore.
func (r *Registry) RemoveCapability(owner ref.ThreadID, handle cap.Handle) (cap.Capability, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	block, ok := r.threads[owner]
	if !ok {
		return cap.Capability{}, false
	}
	return block.table.Remove(handle)
}

// HasCapability implements cap.TableStore.
func (r *Registry) HasCapability(owner ref.ThreadID, handle cap.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	block, ok := r.threads[owner]
	if !ok {
		return false
	}
	return block.table.Contains(handle)
}

// ValidateCapability returns the capability if owner's table holds
// handle with every bit of required. This is the syscall-level gate.
func (r *Registry) ValidateCapability(owner ref.ThreadID, handle cap.Handle, required cap.Permissions) (cap.Capability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	block, ok := r.threads[owner]
	if !ok {
		return cap.Capability{}, fmt.Errorf("validating %v for %v: %w", handle, owner, cap.ErrNotFound)
	}
	return block.table.Validate(handle, required)
}

// Capabilities returns the handles held by id, in ascending order.
func (r *Registry) Capabilities(id ref.ThreadID) ([]cap.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	block, ok := r.threads[id]
	if !ok {
		return nil, fmt.Errorf("listing capabilities of %v: %w", id, ErrNotFound)
	}
	return block.table.List(), nil
}

// Stats counts threads by lifecycle state.
type Stats struct {
	Total   int `cbor:"total"`
	Running int `cbor:"running"`
	Ready   int `cbor:"ready"`
	Blocked int `cbor:"blocked"`
	Exited  int `cbor:"exited"`
}

// Stats returns per-state thread counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{Total: len(r.threads)}
	for _, block := range r.threads {
		switch block.state {
		case StateRunning:
			stats.Running++
		case StateReady:
			stats.Ready++
		case StateBlocked:
			stats.Blocked++
		case StateExited:
			stats.Exited++
		}
	}
	return stats
}
