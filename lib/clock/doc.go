// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the hosted kernel runtime.
// Production code injects Real(), which is backed by the time package;
// tests inject Fake(), which advances only when told to. The kernel
// timer loop is the main consumer: it turns ticker fires into
// scheduler ticks, so a test can step the whole kernel one tick at a
// time by advancing a fake clock.
package clock
