// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package cap

import "errors"

// Capability operation failures. Callers branch with errors.Is; the
// syscall boundary maps these onto its numeric code set.
var (
	// ErrNotFound means the handle is not present in the registry or
	// table consulted.
	ErrNotFound = errors.New("capability not found")

	// ErrPermissionDenied means the capability lacks a required
	// permission, or a derivation attempted to widen permissions.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAlreadyExists means a handle collision on insert. Should not
	// occur given monotonic allocation.
	ErrAlreadyExists = errors.New("capability already exists")

	// ErrNotOwner means the acting thread does not own the capability.
	ErrNotOwner = errors.New("not the capability owner")
)
