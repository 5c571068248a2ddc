// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

// Package thread manages thread control blocks: identity, lifecycle
// state, base priority, the thread's private capability table, and the
// wake signal used to resume a blocked thread in the hosted runtime.
//
// The hardware half of a thread (CPU context, kernel stack) lives
// outside this core; here a thread is the unit of ownership and
// scheduling that the capability authority, the IPC layer, and the
// scheduler all agree on.
//
// The registry implements cap.TableStore, so capability lifecycle
// operations keep per-thread tables consistent with the global
// registry without the cap package reaching into control blocks.
package thread
