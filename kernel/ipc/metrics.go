// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

// portMetrics accumulates per-port counters. Guarded by the registry's
// port lock.
type portMetrics struct {
	messagesSent     uint64
	messagesReceived uint64
	bytesSent        uint64
	bytesReceived    uint64

	// latency extremes are valid only when messagesReceived > 0.
	minLatencyMS   uint64
	maxLatencyMS   uint64
	totalLatencyMS uint64

	firstMessageMS uint64
	lastMessageMS  uint64
	sawMessage     bool
}

func (m *portMetrics) recordSend(size int, timestampMS uint64) {
	m.messagesSent++
	m.bytesSent += uint64(size)
	if !m.sawMessage {
		m.firstMessageMS = timestampMS
		m.sawMessage = true
	}
	m.lastMessageMS = timestampMS
}

func (m *portMetrics) recordReceive(size int, sendMS, receiveMS uint64) {
	var latency uint64
	if receiveMS > sendMS {
		latency = receiveMS - sendMS
	}

	if m.messagesReceived == 0 || latency < m.minLatencyMS {
		m.minLatencyMS = latency
	}
	if m.messagesReceived == 0 || latency > m.maxLatencyMS {
		m.maxLatencyMS = latency
	}
	m.messagesReceived++
	m.bytesReceived += uint64(size)
	m.totalLatencyMS += latency

	if !m.sawMessage {
		m.firstMessageMS = sendMS
		m.sawMessage = true
	}
	m.lastMessageMS = receiveMS
}

// PortStats is the exported snapshot of a port's counters.
type PortStats struct {
	MessagesSent     uint64 `cbor:"messages_sent"`
	MessagesReceived uint64 `cbor:"messages_received"`
	BytesSent        uint64 `cbor:"bytes_sent"`
	BytesReceived    uint64 `cbor:"bytes_received"`

	MinLatencyMS uint64 `cbor:"min_latency_ms"`
	MaxLatencyMS uint64 `cbor:"max_latency_ms"`
	AvgLatencyMS uint64 `cbor:"avg_latency_ms"`

	// MessagesPerSecond is messages received divided by the elapsed
	// time between the first and last message, floored at 1 ms to
	// avoid division by zero. Approximate by construction.
	MessagesPerSecond uint64 `cbor:"messages_per_second"`
}

func (m *portMetrics) snapshot() PortStats {
	stats := PortStats{
		MessagesSent:     m.messagesSent,
		MessagesReceived: m.messagesReceived,
		BytesSent:        m.bytesSent,
		BytesReceived:    m.bytesReceived,
	}
	if m.messagesReceived > 0 {
		stats.MinLatencyMS = m.minLatencyMS
		stats.MaxLatencyMS = m.maxLatencyMS
		stats.AvgLatencyMS = m.totalLatencyMS / m.messagesReceived
	}
	if m.sawMessage {
		elapsed := m.lastMessageMS - m.firstMessageMS
		if elapsed < 1 {
			elapsed = 1
		}
		stats.MessagesPerSecond = m.messagesReceived * 1000 / elapsed
	}
	return stats
}
