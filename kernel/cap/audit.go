// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package cap

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/atom-foundation/atom/kernel/ref"
)

// MaxAuditEntries bounds the audit ring. Once full, each insertion
// evicts the oldest entry: predictable footprint is traded for
// long-term auditability.
const MaxAuditEntries = 1000

// AuditEvent is the lifecycle event an audit entry records.
type AuditEvent int

const (
	// AuditCreate records registration of a root capability.
	AuditCreate AuditEvent = iota
	// AuditDerive records derivation of a child capability.
	AuditDerive
	// AuditTransfer records an ownership transfer.
	AuditTransfer
	// AuditRevoke records a revocation, one entry per node in the
	// cascade.
	AuditRevoke
)

// String returns the canonical event name.
func (e AuditEvent) String() string {
	switch e {
	case AuditCreate:
		return "create"
	case AuditDerive:
		return "derive"
	case AuditTransfer:
		return "transfer"
	case AuditRevoke:
		return "revoke"
	default:
		return "unknown"
	}
}

// AuditEntry records one capability lifecycle event.
type AuditEntry struct {
	// Timestamp is the scheduler tick count at the time of the event.
	Timestamp uint64 `cbor:"timestamp"`

	// Event is the lifecycle event kind.
	Event AuditEvent `cbor:"event"`

	// Thread is the acting thread.
	Thread ref.ThreadID `cbor:"thread"`

	// Capability is the handle the event concerns. For derive events
	// this is the child.
	Capability Handle `cbor:"capability"`

	// Parent is the parent handle for derive events, zero otherwise.
	Parent Handle `cbor:"parent,omitempty"`

	// Target is the receiving thread for transfer events, zero
	// otherwise.
	Target ref.ThreadID `cbor:"target,omitempty"`

	// Chain is the keyed BLAKE3 digest binding this entry to its
	// predecessor. Recomputing the chain over a snapshot must
	// reproduce the final entry's digest, making truncation or
	// in-place edits of an exported log detectable.
	Chain [32]byte `cbor:"chain"`
}

// auditDomainKey separates audit-chain digests from any other BLAKE3
// use. The value is the ASCII domain name zero-padded to 32 bytes so
// it stays readable in hex dumps; keyed mode treats it as opaque.
var auditDomainKey = [32]byte{
	'a', 't', 'o', 'm', '.', 'c', 'a', 'p', '.', 'a', 'u', 'd', 'i', 't', 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// auditLog is the fixed-capacity ring of audit entries plus the
// running chain head. Not safe for concurrent use; the Authority
// serializes access under its audit mutex.
type auditLog struct {
	entries []AuditEntry
	head    [32]byte
}

// append chains and stores an entry, evicting the oldest once the
// ring is full. Never fails: audit is a standing side effect, not a
// gate on the primary operation.
func (l *auditLog) append(entry AuditEntry) {
	entry.Chain = chainDigest(l.head, entry)
	l.head = entry.Chain

	if len(l.entries) >= MaxAuditEntries {
		copy(l.entries, l.entries[1:])
		l.entries[len(l.entries)-1] = entry
		return
	}
	l.entries = append(l.entries, entry)
}

// snapshot returns up to max entries, newest first.
func (l *auditLog) snapshot(max int) []AuditEntry {
	count := min(max, len(l.entries))
	out := make([]AuditEntry, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, l.entries[len(l.entries)-1-i])
	}
	return out
}

// chainDigest computes the keyed BLAKE3 digest of the previous chain
// head and the entry's fields.
func chainDigest(previous [32]byte, entry AuditEntry) [32]byte {
	hasher, err := blake3.NewKeyed(auditDomainKey[:])
	if err != nil {
		// NewKeyed only fails on a wrong key length; the key is a
		// 32-byte constant.
		panic("cap: audit chain hasher: " + err.Error())
	}

	hasher.Write(previous[:])

	var fields [48]byte
	binary.LittleEndian.PutUint64(fields[0:], entry.Timestamp)
	binary.LittleEndian.PutUint64(fields[8:], uint64(entry.Event))
	binary.LittleEndian.PutUint64(fields[16:], uint64(entry.Thread))
	binary.LittleEndian.PutUint64(fields[24:], uint64(entry.Capability))
	binary.LittleEndian.PutUint64(fields[32:], uint64(entry.Parent))
	binary.LittleEndian.PutUint64(fields[40:], uint64(entry.Target))
	hasher.Write(fields[:])

	var digest [32]byte
	hasher.Sum(digest[:0])
	return digest
}

// VerifyAuditChain recomputes the digest chain over entries (given in
// the order they were appended) starting from the chain value that
// preceded the first entry, and reports whether every stored digest
// matches. For a snapshot that reaches back to the first retained
// entry of a fresh log, previous is the zero value.
func VerifyAuditChain(previous [32]byte, entries []AuditEntry) bool {
	running := previous
	for _, entry := range entries {
		if entry.Chain != chainDigest(running, entry) {
			return false
		}
		running = entry.Chain
	}
	return true
}
