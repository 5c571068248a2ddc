// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

// Package cap implements the kernel's capability authority: the single
// source of truth for who may touch which resource.
//
// A capability binds an unforgeable handle to a resource descriptor, a
// permission set, an owning thread, and its derivation lineage.
// Handles are monotonic and never reused; the numeric value carries no
// access by itself — a thread must hold the capability in its table
// for a check to pass.
//
// # Derivation and revocation
//
// Capabilities form a forest. An owner holding GRANT may derive a
// child with a permission set that is a subset of its own; permissions
// only narrow down the tree, never widen. Revoking a node removes it
// and every descendant transitively, stripping each from whichever
// thread currently owns it.
//
// # Audit
//
// Every lifecycle event (create, derive, transfer, revoke) appends an
// entry to a fixed-capacity ring; once full, each insertion evicts the
// oldest entry. Entries are chained with a keyed BLAKE3 digest so a
// snapshot of the log is tamper-evident: recomputing the chain from
// the first retained entry must reproduce the head digest.
//
// # Concurrency
//
// The global registry and the audit ring are each guarded by one
// mutex, acquired and released per operation. Audit writes never block
// or fail the primary operation.
package cap
