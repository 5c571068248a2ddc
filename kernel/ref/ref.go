// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref defines the identifier types shared across kernel
// subsystems. Identifiers are opaque monotonic values: possession of
// the matching kernel-side entry is what grants access, never the
// numeric value itself.
package ref

import "fmt"

// ThreadID names a thread control block. Zero is never a valid thread.
type ThreadID uint64

// String returns "thread:N".
func (id ThreadID) String() string { return fmt.Sprintf("thread:%d", uint64(id)) }

// PortID names an IPC port. Zero is never a valid port.
type PortID uint64

// String returns "port:N".
func (id PortID) String() string { return fmt.Sprintf("port:%d", uint64(id)) }

// RegionID names a shared memory region. Zero is never a valid region.
type RegionID uint64

// String returns "region:N".
func (id RegionID) String() string { return fmt.Sprintf("region:%d", uint64(id)) }
