// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides deterministic CBOR encoding for kernel export
// types: audit log entries, IPC trace events, and stats snapshots. The
// encoder uses Core Deterministic Encoding so the same logical data
// always produces identical bytes, which keeps exported audit records
// byte-comparable across runs.
package codec
