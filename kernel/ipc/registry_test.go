// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/atom-foundation/atom/kernel/ref"
	"github.com/atom-foundation/atom/kernel/thread"
)

// fakeSched records scheduler interactions instead of scheduling.
type fakeSched struct {
	ticks    uint64
	ready    []ref.ThreadID
	boosts   map[ref.ThreadID]thread.Priority
	restores []ref.ThreadID
}

func newFakeSched() *fakeSched {
	return &fakeSched{boosts: make(map[ref.ThreadID]thread.Priority)}
}

func (f *fakeSched) Ticks() uint64 { return f.ticks }

func (f *fakeSched) MarkReady(id ref.ThreadID) { f.ready = append(f.ready, id) }

func (f *fakeSched) RestoreBasePriority(id ref.ThreadID) {
	f.restores = append(f.restores, id)
	delete(f.boosts, id)
}

func (f *fakeSched) BoostPriority(id ref.ThreadID, level thread.Priority) bool {
	if current, ok := f.boosts[id]; ok && level <= current {
		return false
	}
	f.boosts[id] = level
	return true
}

// fakeRegions resolves region ids from a fixed size table.
type fakeRegions struct {
	sizes map[ref.RegionID]int
}

func (f *fakeRegions) RegionSize(id ref.RegionID) (int, error) {
	size, ok := f.sizes[id]
	if !ok {
		return 0, fmt.Errorf("region %v not found", id)
	}
	return size, nil
}

const (
	serverThread = ref.ThreadID(1)
	clientThread = ref.ThreadID(2)
	otherThread  = ref.ThreadID(3)
)

func newTestRegistry() (*Registry, *fakeSched, *fakeRegions) {
	sched := newFakeSched()
	regions := &fakeRegions{sizes: map[ref.RegionID]int{1: 4096}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(sched, regions, logger), sched, regions
}

func TestSendReceiveFIFO(t *testing.T) {
	registry, _, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)

	for i := 0; i < 5; i++ {
		message := NewMessage(clientThread, uint32(i), []byte{byte(i)})
		if err := registry.Send(port, message); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		message, err := registry.TryRecv(port, serverThread)
		if err != nil {
			t.Fatalf("TryRecv %d: %v", i, err)
		}
		if message.Type != uint32(i) {
			t.Fatalf("message %d has type %d, want %d (FIFO violated)", i, message.Type, i)
		}
		if !bytes.Equal(message.Payload, []byte{byte(i)}) {
			t.Fatalf("message %d payload = %v", i, message.Payload)
		}
	}

	if _, err := registry.TryRecv(port, serverThread); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("empty TryRecv: err = %v, want ErrWouldBlock", err)
	}
}

func TestSendSizePolicy(t *testing.T) {
	registry, _, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)

	tests := []struct {
		name    string
		message Message
		wantErr error
	}{
		{"empty payload", NewMessage(clientThread, 1, nil), nil},
		{"at threshold", NewMessage(clientThread, 1, make([]byte, ZeroCopyThreshold)), nil},
		{"above threshold", NewMessage(clientThread, 1, make([]byte, ZeroCopyThreshold+1)), ErrRequiresSharedMemory},
		{"at absolute max", NewMessage(clientThread, 1, make([]byte, MaxMessageSize)), ErrRequiresSharedMemory},
		{"above absolute max", NewMessage(clientThread, 1, make([]byte, MaxMessageSize+1)), ErrMessageTooLarge},
		{"shared region", NewSharedRegionMessage(clientThread, 1, 1), nil},
		{"unknown region", NewSharedRegionMessage(clientThread, 1, 99), ErrInvalidSharedRegion},
		{
			"payload and region conflict",
			Message{Sender: clientThread, Payload: []byte("x"), SharedRegion: 1},
			ErrSharedMemoryPayloadConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Send(port, tt.message)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Send: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Send: err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestQueueDepthLimit(t *testing.T) {
	registry, _, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)

	for i := 0; i < MaxQueueDepth; i++ {
		if err := registry.Send(port, NewMessage(clientThread, 0, nil)); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if err := registry.Send(port, NewMessage(clientThread, 0, nil)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("send %d: err = %v, want ErrQueueFull", MaxQueueDepth+1, err)
	}

	// Draining one slot re-admits exactly one message.
	if _, err := registry.TryRecv(port, serverThread); err != nil {
		t.Fatalf("TryRecv: %v", err)
	}
	if err := registry.Send(port, NewMessage(clientThread, 0, nil)); err != nil {
		t.Fatalf("Send after drain: %v", err)
	}
}

func TestSendBatchAllOrNothing(t *testing.T) {
	registry, _, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)

	// Fill to MaxQueueDepth-4, then try a batch of 8.
	for i := 0; i < MaxQueueDepth-4; i++ {
		registry.Send(port, NewMessage(clientThread, 0, nil))
	}
	batch := make([]Message, 8)
	for i := range batch {
		batch[i] = NewMessage(clientThread, uint32(i), nil)
	}

	sent, err := registry.SendBatch(port, batch)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("overfull batch: err = %v, want ErrQueueFull", err)
	}
	if sent != 0 {
		t.Fatalf("overfull batch enqueued %d messages, want 0", sent)
	}
	if queued := registry.Stats().QueuedMessages; queued != MaxQueueDepth-4 {
		t.Fatalf("partial enqueue: %d queued, want %d", queued, MaxQueueDepth-4)
	}
}

func TestSendBatchValidatesBeforeEnqueue(t *testing.T) {
	registry, _, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)

	batch := []Message{
		NewMessage(clientThread, 0, nil),
		NewMessage(clientThread, 1, make([]byte, MaxMessageSize+1)),
	}
	sent, err := registry.SendBatch(port, batch)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("invalid batch: err = %v, want ErrMessageTooLarge", err)
	}
	if sent != 0 || registry.Stats().QueuedMessages != 0 {
		t.Fatal("invalid batch partially enqueued")
	}
}

func TestSendBatchTooLarge(t *testing.T) {
	registry, _, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)

	batch := make([]Message, MaxBatchSize+1)
	for i := range batch {
		batch[i] = NewMessage(clientThread, 0, nil)
	}
	if _, err := registry.SendBatch(port, batch); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("err = %v, want ErrBatchTooLarge", err)
	}
}

func TestRecvBatchClampsLimit(t *testing.T) {
	registry, _, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)
	registry.Send(port, NewMessage(clientThread, 1, nil))

	for _, max := range []int{-1, 0} {
		messages, err := registry.RecvBatch(port, serverThread, max)
		if err != nil {
			t.Fatalf("RecvBatch(max=%d): %v", max, err)
		}
		if len(messages) != 0 {
			t.Fatalf("RecvBatch(max=%d) popped %d messages, want 0", max, len(messages))
		}
	}

	// The queued message is still there.
	messages, err := registry.RecvBatch(port, serverThread, 1)
	if err != nil {
		t.Fatalf("RecvBatch: %v", err)
	}
	if len(messages) != 1 || messages[0].Type != 1 {
		t.Fatalf("RecvBatch = %v, want the queued message", messages)
	}
}

func TestPopDoesNotDisturbQueuedMessages(t *testing.T) {
	registry, _, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)

	registry.Send(port, NewMessage(clientThread, 1, []byte("first")))
	registry.Send(port, NewMessage(clientThread, 2, []byte("second")).WithGrant(7, 0))
	registry.TryRecv(port, serverThread)

	message, err := registry.TryRecv(port, serverThread)
	if err != nil {
		t.Fatalf("TryRecv: %v", err)
	}
	if !bytes.Equal(message.Payload, []byte("second")) {
		t.Errorf("payload = %q, want %q", message.Payload, "second")
	}
	if !message.HasDelegation() || message.Delegation.Handle != 7 {
		t.Errorf("delegation = %+v, want handle 7", message.Delegation)
	}
}

func TestBatchPreservesOrderAcrossMixedSends(t *testing.T) {
	registry, _, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)

	registry.Send(port, NewMessage(clientThread, 1, nil))
	registry.SendBatch(port, []Message{
		NewMessage(clientThread, 2, nil),
		NewMessage(clientThread, 3, nil),
	})
	registry.Send(port, NewMessage(clientThread, 4, nil))

	messages, err := registry.RecvBatch(port, serverThread, MaxBatchSize)
	if err != nil {
		t.Fatalf("RecvBatch: %v", err)
	}
	var types []uint32
	for _, message := range messages {
		types = append(types, message.Type)
	}
	if !slices.Equal(types, []uint32{1, 2, 3, 4}) {
		t.Fatalf("receive order = %v, want [1 2 3 4]", types)
	}
}

func TestBlockedReceiverWokenOnSend(t *testing.T) {
	registry, sched, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)

	if err := registry.BlockReceive(port, clientThread, thread.PriorityNormal, nil); err != nil {
		t.Fatalf("BlockReceive: %v", err)
	}
	if !registry.IsWaiting(clientThread) {
		t.Fatal("no waiter record after BlockReceive")
	}

	if err := registry.Send(port, NewMessage(otherThread, 1, nil)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !slices.Contains(sched.ready, clientThread) {
		t.Error("blocked receiver not marked ready on delivery")
	}
	if registry.IsWaiting(clientThread) {
		t.Error("waiter record survives delivery wake")
	}
	if !slices.Contains(sched.restores, clientThread) {
		t.Error("receiver priority not restored on wake")
	}
}

func TestBatchWakesReceiverOnce(t *testing.T) {
	registry, sched, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)
	registry.BlockReceive(port, clientThread, thread.PriorityNormal, nil)

	registry.SendBatch(port, []Message{
		NewMessage(otherThread, 1, nil),
		NewMessage(otherThread, 2, nil),
		NewMessage(otherThread, 3, nil),
	})

	count := 0
	for _, id := range sched.ready {
		if id == clientThread {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("receiver woken %d times for one batch, want 1", count)
	}
}

func TestSecondWaiterIsRejected(t *testing.T) {
	registry, _, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)

	if err := registry.BlockReceive(port, clientThread, thread.PriorityNormal, nil); err != nil {
		t.Fatalf("first BlockReceive: %v", err)
	}
	err := registry.BlockReceive(port, otherThread, thread.PriorityNormal, nil)
	if !errors.Is(err, ErrPortBusy) {
		t.Fatalf("second BlockReceive: err = %v, want ErrPortBusy", err)
	}
}

func TestOwnerBoostedToWaiterPriority(t *testing.T) {
	registry, sched, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)

	registry.BlockReceive(port, clientThread, thread.PriorityHigh, nil)
	if sched.boosts[serverThread] != thread.PriorityHigh {
		t.Fatalf("owner boost = %v, want %v", sched.boosts[serverThread], thread.PriorityHigh)
	}

	// Delivery ends the episode: the boost is rebalanced away.
	registry.Send(port, NewMessage(otherThread, 1, nil))
	if _, boosted := sched.boosts[serverThread]; boosted {
		t.Error("owner still boosted after episode ended")
	}
}

func TestDeadlockDetected(t *testing.T) {
	registry, _, _ := newTestRegistry()
	portA := registry.CreatePort(serverThread)
	portB := registry.CreatePort(clientThread)

	// Server blocks on the client's port; the client blocking on the
	// server's port would close the cycle.
	if err := registry.BlockReceive(portB, serverThread, thread.PriorityNormal, nil); err != nil {
		t.Fatalf("BlockReceive(portB): %v", err)
	}
	err := registry.BlockReceive(portA, clientThread, thread.PriorityNormal, nil)
	if !errors.Is(err, ErrDeadlockDetected) {
		t.Fatalf("cyclic BlockReceive: err = %v, want ErrDeadlockDetected", err)
	}
}

func TestBlockOnOwnPortRejected(t *testing.T) {
	registry, _, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)

	err := registry.BlockReceive(port, serverThread, thread.PriorityNormal, nil)
	if !errors.Is(err, ErrDeadlockDetected) {
		t.Fatalf("blocking on own port: err = %v, want ErrDeadlockDetected", err)
	}
}

func TestTimeoutSweep(t *testing.T) {
	registry, sched, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)

	deadline := uint64(10)
	if err := registry.BlockReceive(port, clientThread, thread.PriorityHigh, &deadline); err != nil {
		t.Fatalf("BlockReceive: %v", err)
	}

	registry.OnTimerTick(9)
	if !registry.IsWaiting(clientThread) {
		t.Fatal("waiter swept before its deadline")
	}

	registry.OnTimerTick(10)
	if registry.IsWaiting(clientThread) {
		t.Fatal("waiter survives its deadline")
	}
	if !slices.Contains(sched.ready, clientThread) {
		t.Error("timed-out waiter not marked ready")
	}
	if !slices.Contains(sched.restores, clientThread) {
		t.Error("timed-out waiter priority not restored")
	}
	if _, boosted := sched.boosts[serverThread]; boosted {
		t.Error("owner boost survives the waiter's timeout")
	}
}

func TestCancelWait(t *testing.T) {
	registry, sched, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)
	registry.BlockReceive(port, clientThread, thread.PriorityHigh, nil)

	if !registry.CancelWait(clientThread) {
		t.Fatal("CancelWait found no wait")
	}
	if registry.IsWaiting(clientThread) {
		t.Error("waiter record survives cancellation")
	}
	if _, boosted := sched.boosts[serverThread]; boosted {
		t.Error("owner boost survives cancellation")
	}
	if registry.CancelWait(clientThread) {
		t.Error("second CancelWait reported a wait")
	}

	// The slot is free again.
	if err := registry.BlockReceive(port, otherThread, thread.PriorityNormal, nil); err != nil {
		t.Fatalf("BlockReceive after cancel: %v", err)
	}
}

func TestOwnerBoostRebalancedAcrossPorts(t *testing.T) {
	registry, sched, _ := newTestRegistry()
	portA := registry.CreatePort(serverThread)
	portB := registry.CreatePort(serverThread)

	registry.BlockReceive(portA, clientThread, thread.PriorityHigh, nil)
	registry.BlockReceive(portB, otherThread, thread.PriorityNormal, nil)
	if sched.boosts[serverThread] != thread.PriorityHigh {
		t.Fatalf("owner boost = %v, want %v", sched.boosts[serverThread], thread.PriorityHigh)
	}

	// The high waiter is served; the normal waiter on the other port
	// must keep the owner boosted at its level.
	registry.Send(portA, NewMessage(otherThread, 1, nil))
	if sched.boosts[serverThread] != thread.PriorityNormal {
		t.Fatalf("owner boost after rebalance = %v, want %v",
			sched.boosts[serverThread], thread.PriorityNormal)
	}
}

func TestClosePortWakesReceiver(t *testing.T) {
	registry, sched, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)
	registry.BlockReceive(port, clientThread, thread.PriorityNormal, nil)

	if err := registry.ClosePort(port, clientThread); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("close by non-owner: err = %v, want ErrPermissionDenied", err)
	}
	if err := registry.ClosePort(port, serverThread); err != nil {
		t.Fatalf("ClosePort: %v", err)
	}
	if !slices.Contains(sched.ready, clientThread) {
		t.Error("blocked receiver not woken by port close")
	}
	if _, err := registry.TryRecv(port, serverThread); !errors.Is(err, ErrInvalidPort) {
		t.Errorf("TryRecv on closed port: err = %v, want ErrInvalidPort", err)
	}
}

func TestTraceRecordsTraffic(t *testing.T) {
	registry, sched, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)

	sched.ticks = 3
	registry.Send(port, NewMessage(clientThread, 1, []byte("abcd")))
	sched.ticks = 5
	registry.TryRecv(port, serverThread)

	events := registry.Trace(10)
	if len(events) != 2 {
		t.Fatalf("trace has %d events, want 2", len(events))
	}
	send, receive := events[0], events[1]
	if send.Kind != TraceSend || send.Port != port || send.Sender != clientThread || send.Size != 4 {
		t.Errorf("send event = %+v", send)
	}
	if send.TimestampMS != 3*TickMillis {
		t.Errorf("send timestamp = %d, want %d", send.TimestampMS, 3*TickMillis)
	}
	if receive.Kind != TraceReceive || receive.Receiver != serverThread {
		t.Errorf("receive event = %+v", receive)
	}
	if receive.TimestampMS != 5*TickMillis {
		t.Errorf("receive timestamp = %d, want %d", receive.TimestampMS, 5*TickMillis)
	}
}

func TestPortStatsLatency(t *testing.T) {
	registry, sched, _ := newTestRegistry()
	port := registry.CreatePort(serverThread)

	sched.ticks = 1
	registry.Send(port, NewMessage(clientThread, 1, []byte("xy")))
	sched.ticks = 4
	registry.TryRecv(port, serverThread)

	stats, err := registry.PortStats(port)
	if err != nil {
		t.Fatalf("PortStats: %v", err)
	}
	if stats.MessagesSent != 1 || stats.MessagesReceived != 1 {
		t.Errorf("counters = %+v", stats)
	}
	if stats.BytesSent != 2 || stats.BytesReceived != 2 {
		t.Errorf("byte counters = %+v", stats)
	}
	wantLatency := uint64(3 * TickMillis)
	if stats.MinLatencyMS != wantLatency || stats.MaxLatencyMS != wantLatency || stats.AvgLatencyMS != wantLatency {
		t.Errorf("latency = min %d max %d avg %d, want all %d",
			stats.MinLatencyMS, stats.MaxLatencyMS, stats.AvgLatencyMS, wantLatency)
	}
}

func TestSharedRegionMessageSize(t *testing.T) {
	registry, _, regions := newTestRegistry()
	port := registry.CreatePort(serverThread)
	regions.sizes[2] = 1 << 20

	registry.Send(port, NewSharedRegionMessage(clientThread, 1, 2))
	message, err := registry.TryRecv(port, serverThread)
	if err != nil {
		t.Fatalf("TryRecv: %v", err)
	}
	if message.SharedRegion != 2 {
		t.Errorf("SharedRegion = %v, want 2", message.SharedRegion)
	}

	events := registry.Trace(10)
	if events[0].Size != 1<<20 {
		t.Errorf("trace size = %d, want region size %d", events[0].Size, 1<<20)
	}
}

func TestStats(t *testing.T) {
	registry, _, _ := newTestRegistry()
	portA := registry.CreatePort(serverThread)
	registry.CreatePort(clientThread)

	registry.Send(portA, NewMessage(clientThread, 1, nil))
	registry.Send(portA, NewMessage(clientThread, 2, nil))

	stats := registry.Stats()
	if stats.Ports != 2 || stats.QueuedMessages != 2 || stats.BlockedThreads != 0 {
		t.Errorf("Stats = %+v, want ports=2 queued=2 blocked=0", stats)
	}
}
