// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

// Package syscall is the kernel's call boundary: a single Kernel
// facade that wires the thread registry, scheduler, capability
// authority, shared memory registry, and port registry together and
// exposes the operations user code is allowed to invoke.
//
// Every operation takes the calling thread explicitly. The facade
// performs the capability checks that gate each operation, translates
// subsystem errors into the stable Errno code set, and orchestrates
// blocking receives against the scheduler's wake channels.
package syscall
