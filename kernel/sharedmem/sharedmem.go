// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

// Package sharedmem tracks shared memory regions: the zero-copy
// counterpart to inline IPC payloads. A region has one owning thread,
// a fixed size, and a set of threads that currently map it. The page
// table work behind mapping belongs to the memory manager outside this
// core; here the registry is the bookkeeping the IPC layer consults
// when a message references a region instead of carrying bytes.
package sharedmem

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/atom-foundation/atom/kernel/ref"
)

// MaxRegionSize caps a single region at 16 MiB, keeping a runaway
// client from exhausting the hosted arena.
const MaxRegionSize = 16 << 20

// Region operation failures.
var (
	// ErrNotFound means the region id is unknown.
	ErrNotFound = errors.New("shared region not found")

	// ErrInvalidSize means the requested size is zero, negative, or
	// above MaxRegionSize.
	ErrInvalidSize = errors.New("invalid region size")

	// ErrPermissionDenied means the caller does not own the region.
	ErrPermissionDenied = errors.New("not the region owner")

	// ErrAlreadyMapped means the thread already maps the region.
	ErrAlreadyMapped = errors.New("region already mapped")

	// ErrNotMapped means the thread does not map the region.
	ErrNotMapped = errors.New("region not mapped")
)

// Info describes a region for callers outside the registry.
type Info struct {
	ID       ref.RegionID `cbor:"id"`
	Owner    ref.ThreadID `cbor:"owner"`
	Size     int          `cbor:"size"`
	Mappings int          `cbor:"mappings"`
}

// region is the registry-internal record.
type region struct {
	id      ref.RegionID
	owner   ref.ThreadID
	size    int
	mappers map[ref.ThreadID]struct{}
}

// Registry owns every shared memory region, guarded by one mutex.
type Registry struct {
	logger *slog.Logger

	nextID atomic.Uint64

	mu      sync.Mutex
	regions map[ref.RegionID]*region
}

// NewRegistry returns an empty region registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger.With("component", "sharedmem"),
		regions: make(map[ref.RegionID]*region),
	}
}

// Create allocates a region of size bytes owned by owner. The owner
// starts with the region mapped.
func (r *Registry) Create(owner ref.ThreadID, size int) (ref.RegionID, error) {
	if size <= 0 || size > MaxRegionSize {
		return 0, fmt.Errorf("creating region of %d bytes: %w", size, ErrInvalidSize)
	}

	id := ref.RegionID(r.nextID.Add(1))
	r.mu.Lock()
	r.regions[id] = &region{
		id:      id,
		owner:   owner,
		size:    size,
		mappers: map[ref.ThreadID]struct{}{owner: {}},
	}
	r.mu.Unlock()

	r.logger.Debug("region created", "region", id, "owner", owner, "size", size)
	return id, nil
}

// Map records that thread maps the region.
func (r *Registry) Map(id ref.RegionID, thread ref.ThreadID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.regions[id]
	if !ok {
		return fmt.Errorf("mapping %v: %w", id, ErrNotFound)
	}
	if _, mapped := reg.mappers[thread]; mapped {
		return fmt.Errorf("mapping %v for %v: %w", id, thread, ErrAlreadyMapped)
	}
	reg.mappers[thread] = struct{}{}
	return nil
}

// Unmap removes thread's mapping of the region.
func (r *Registry) Unmap(id ref.RegionID, thread ref.ThreadID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.regions[id]
	if !ok {
		return fmt.Errorf("unmapping %v: %w", id, ErrNotFound)
	}
	if _, mapped := reg.mappers[thread]; !mapped {
		return fmt.Errorf("unmapping %v for %v: %w", id, thread, ErrNotMapped)
	}
	delete(reg.mappers, thread)
	return nil
}

// Destroy removes the region. Only the owner may destroy it; any
// remaining mappings are dropped with it.
func (r *Registry) Destroy(id ref.RegionID, caller ref.ThreadID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.regions[id]
	if !ok {
		return fmt.Errorf("destroying %v: %w", id, ErrNotFound)
	}
	if reg.owner != caller {
		r.logger.Warn("region destroy rejected", "region", id, "caller", caller, "owner", reg.owner)
		return fmt.Errorf("destroying %v as %v: %w", id, caller, ErrPermissionDenied)
	}
	delete(r.regions, id)
	return nil
}

// Info returns the region's descriptor.
func (r *Registry) Info(id ref.RegionID) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.regions[id]
	if !ok {
		return Info{}, fmt.Errorf("describing %v: %w", id, ErrNotFound)
	}
	return Info{
		ID:       reg.id,
		Owner:    reg.owner,
		Size:     reg.size,
		Mappings: len(reg.mappers),
	}, nil
}

// RegionSize implements the region lookup the IPC validation path
// needs: the effective transfer size of a message that references a
// region.
func (r *Registry) RegionSize(id ref.RegionID) (int, error) {
	info, err := r.Info(id)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// Stats summarizes the registry.
type Stats struct {
	Regions    int `cbor:"regions"`
	TotalBytes int `cbor:"total_bytes"`
	Mappings   int `cbor:"mappings"`
}

// Stats returns region counts and aggregate size.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{Regions: len(r.regions)}
	for _, reg := range r.regions {
		stats.TotalBytes += reg.size
		stats.Mappings += len(reg.mappers)
	}
	return stats
}
