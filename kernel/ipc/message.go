// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"github.com/atom-foundation/atom/kernel/cap"
	"github.com/atom-foundation/atom/kernel/ref"
)

// Deterministic bounds. Queue depth, batch size, and message size are
// capped so every IPC path has a known worst case.
const (
	// MaxMessageSize is the absolute inline payload cap in bytes.
	MaxMessageSize = 256

	// ZeroCopyThreshold is the largest inline payload accepted.
	// Payloads in (ZeroCopyThreshold, MaxMessageSize] are rejected
	// with ErrRequiresSharedMemory.
	ZeroCopyThreshold = 128

	// MaxBatchSize caps messages per batch send or receive call.
	MaxBatchSize = 32

	// MaxQueueDepth caps queued messages per port.
	MaxQueueDepth = 64
)

// TickMillis converts scheduler ticks to the millisecond timestamps
// used in message stamps, trace events, and latency metrics.
const TickMillis = 10

// DelegationMode selects how a capability rides along with a message.
type DelegationMode int

const (
	// DelegateGrant derives a child capability for the receiver with
	// reduced permissions; the sender keeps the original.
	DelegateGrant DelegationMode = iota
	// DelegateMove transfers ownership of the capability to the
	// receiver; the sender loses it.
	DelegateMove
)

// String returns "grant" or "move".
func (m DelegationMode) String() string {
	if m == DelegateMove {
		return "move"
	}
	return "grant"
}

// Delegation is the capability record attached to a message.
type Delegation struct {
	// Mode is grant-with-reduced-permissions or move.
	Mode DelegationMode `cbor:"mode"`

	// Handle names the sender's capability being delegated.
	Handle cap.Handle `cbor:"handle"`

	// Permissions is the reduced permission set for grant mode.
	// Ignored for move.
	Permissions cap.Permissions `cbor:"permissions,omitempty"`
}

// Message is one IPC datagram. Wire-shaped: the CBOR tags define the
// canonical encoding used when messages are exported (trace tooling)
// or carried over an out-of-process boundary.
type Message struct {
	// Sender is the thread the message came from.
	Sender ref.ThreadID `cbor:"sender"`

	// Type is an application-defined 32-bit tag. The kernel never
	// interprets it.
	Type uint32 `cbor:"type"`

	// Payload is the inline bytes, at most ZeroCopyThreshold long.
	// Empty when SharedRegion is set.
	Payload []byte `cbor:"payload,omitempty"`

	// Delegation optionally delegates a capability to the receiver.
	Delegation *Delegation `cbor:"delegation,omitempty"`

	// SharedRegion optionally references a shared memory region in
	// place of an inline payload. Zero means none.
	SharedRegion ref.RegionID `cbor:"shared_region,omitempty"`

	// TimestampMS is the send time in kernel milliseconds. Stamped at
	// enqueue when zero.
	TimestampMS uint64 `cbor:"timestamp_ms,omitempty"`
}

// NewMessage returns an inline-payload message.
func NewMessage(sender ref.ThreadID, messageType uint32, payload []byte) Message {
	return Message{Sender: sender, Type: messageType, Payload: payload}
}

// NewSharedRegionMessage returns a message that hands the receiver a
// shared memory region instead of inline bytes.
func NewSharedRegionMessage(sender ref.ThreadID, messageType uint32, region ref.RegionID) Message {
	return Message{Sender: sender, Type: messageType, SharedRegion: region}
}

// WithGrant attaches a grant-mode delegation carrying reduced
// permissions for the receiver's derived capability.
func (m Message) WithGrant(handle cap.Handle, permissions cap.Permissions) Message {
	m.Delegation = &Delegation{Mode: DelegateGrant, Handle: handle, Permissions: permissions}
	return m
}

// WithMove attaches a move-mode delegation transferring the
// capability to the receiver.
func (m Message) WithMove(handle cap.Handle) Message {
	m.Delegation = &Delegation{Mode: DelegateMove, Handle: handle}
	return m
}

// HasDelegation reports whether a capability rides along.
func (m Message) HasDelegation() bool { return m.Delegation != nil }
