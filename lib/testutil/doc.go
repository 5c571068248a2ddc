// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides channel helpers for tests that wait on
// kernel wakeups. Each helper wraps the select-with-timeout safety
// valve so individual tests cannot hang the suite when a wakeup never
// arrives.
package testutil
