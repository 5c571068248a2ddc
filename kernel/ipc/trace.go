// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "github.com/atom-foundation/atom/kernel/ref"

// TraceRingSize is the fixed capacity of the IPC trace ring. New
// events overwrite the oldest once the ring is full.
const TraceRingSize = 1000

// TraceKind distinguishes send and receive events.
type TraceKind int

const (
	// TraceSend records a message entering a port queue.
	TraceSend TraceKind = iota
	// TraceReceive records a message leaving a port queue.
	TraceReceive
)

// String returns "send" or "receive".
func (k TraceKind) String() string {
	if k == TraceReceive {
		return "receive"
	}
	return "send"
}

// TraceEvent is one entry in the IPC trace ring.
type TraceEvent struct {
	// TimestampMS is the event time in kernel milliseconds.
	TimestampMS uint64 `cbor:"timestamp_ms"`

	// Kind is send or receive.
	Kind TraceKind `cbor:"kind"`

	// Port is the port the message moved through.
	Port ref.PortID `cbor:"port"`

	// Sender is the message's originating thread.
	Sender ref.ThreadID `cbor:"sender"`

	// Receiver is the receiving thread for receive events, zero for
	// send events.
	Receiver ref.ThreadID `cbor:"receiver,omitempty"`

	// Size is the effective transfer size in bytes: the inline
	// payload length, or the referenced region's size.
	Size int `cbor:"size"`
}

// traceRing is a fixed-size circular buffer of trace events,
// overwritten oldest-first. Guarded by the registry's trace mutex.
type traceRing struct {
	events [TraceRingSize]TraceEvent
	head   int
	full   bool
}

func (r *traceRing) push(event TraceEvent) {
	r.events[r.head] = event
	r.head = (r.head + 1) % TraceRingSize
	if r.head == 0 {
		r.full = true
	}
}

// snapshot returns up to max events, oldest first.
func (r *traceRing) snapshot(max int) []TraceEvent {
	total := r.head
	if r.full {
		total = TraceRingSize
	}
	count := min(max, total)

	out := make([]TraceEvent, 0, count)
	for i := 0; i < count; i++ {
		index := i
		if r.full {
			index = (r.head + i) % TraceRingSize
		}
		out = append(out, r.events[index])
	}
	return out
}
