// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package sched

import (
	"io"
	"log/slog"
	"testing"

	"github.com/atom-foundation/atom/kernel/ref"
	"github.com/atom-foundation/atom/kernel/thread"
)

func newTestScheduler(t *testing.T) (*Scheduler, *thread.Registry) {
	t.Helper()
	registry := thread.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	scheduler := New(registry, slog.New(slog.NewTextHandler(io.Discard, nil)))
	scheduler.Init()
	return scheduler, registry
}

func addThread(scheduler *Scheduler, registry *thread.Registry, name string, priority thread.Priority) ref.ThreadID {
	id := registry.Create(name, priority)
	scheduler.AddThread(id, priority)
	return id
}

func TestInitInstallsIdle(t *testing.T) {
	scheduler, registry := newTestScheduler(t)

	idle := scheduler.IdleThread()
	if scheduler.CurrentThread() != idle {
		t.Errorf("current = %v, want idle %v", scheduler.CurrentThread(), idle)
	}
	state, _ := registry.State(idle)
	if state != thread.StateRunning {
		t.Errorf("idle state = %v, want %v", state, thread.StateRunning)
	}
}

func TestScheduleDispatchesHighestPriority(t *testing.T) {
	scheduler, registry := newTestScheduler(t)
	low := addThread(scheduler, registry, "low", thread.PriorityLow)
	high := addThread(scheduler, registry, "high", thread.PriorityHigh)
	normal := addThread(scheduler, registry, "normal", thread.PriorityNormal)

	if got := scheduler.Schedule(); got != high {
		t.Fatalf("first dispatch = %v, want high %v", got, high)
	}
	scheduler.Block(high)
	if got := scheduler.Schedule(); got != normal {
		t.Fatalf("second dispatch = %v, want normal %v", got, normal)
	}
	scheduler.Block(normal)
	if got := scheduler.Schedule(); got != low {
		t.Fatalf("third dispatch = %v, want low %v", got, low)
	}
}

func TestRoundRobinWithinLevel(t *testing.T) {
	scheduler, registry := newTestScheduler(t)
	a := addThread(scheduler, registry, "a", thread.PriorityNormal)
	b := addThread(scheduler, registry, "b", thread.PriorityNormal)

	if got := scheduler.Schedule(); got != a {
		t.Fatalf("dispatch = %v, want %v", got, a)
	}

	// Each tick hands the quantum to the other peer.
	_, next := scheduler.OnTimerTick()
	if next != b {
		t.Fatalf("after tick 1, current = %v, want %v", next, b)
	}
	_, next = scheduler.OnTimerTick()
	if next != a {
		t.Fatalf("after tick 2, current = %v, want %v", next, a)
	}
}

func TestLowerPriorityDoesNotPreempt(t *testing.T) {
	scheduler, registry := newTestScheduler(t)
	normal := addThread(scheduler, registry, "normal", thread.PriorityNormal)
	if got := scheduler.Schedule(); got != normal {
		t.Fatalf("dispatch = %v, want %v", got, normal)
	}
	addThread(scheduler, registry, "low", thread.PriorityLow)

	previous, next := scheduler.OnTimerTick()
	if previous != normal || next != normal {
		t.Errorf("tick switched %v -> %v, want %v to keep running", previous, next, normal)
	}
}

func TestHigherPriorityPreempts(t *testing.T) {
	scheduler, registry := newTestScheduler(t)
	normal := addThread(scheduler, registry, "normal", thread.PriorityNormal)
	scheduler.Schedule()
	high := addThread(scheduler, registry, "high", thread.PriorityHigh)

	previous, next := scheduler.OnTimerTick()
	if previous != normal || next != high {
		t.Errorf("tick switched %v -> %v, want %v -> %v", previous, next, normal, high)
	}
}

func TestIdleFallback(t *testing.T) {
	scheduler, registry := newTestScheduler(t)
	only := addThread(scheduler, registry, "only", thread.PriorityNormal)
	scheduler.Schedule()

	scheduler.Block(only)
	if got := scheduler.CurrentThread(); got != scheduler.IdleThread() {
		t.Errorf("current = %v, want idle after last thread blocked", got)
	}
	if scheduler.HasReadyWork() {
		t.Error("HasReadyWork = true with everything blocked")
	}
}

func TestMarkReadyRequeues(t *testing.T) {
	scheduler, registry := newTestScheduler(t)
	id := addThread(scheduler, registry, "worker", thread.PriorityNormal)
	scheduler.Schedule()
	scheduler.Block(id)

	scheduler.MarkReady(id)
	state, _ := registry.State(id)
	if state != thread.StateReady {
		t.Errorf("state = %v, want %v", state, thread.StateReady)
	}
	if got := scheduler.Schedule(); got != id {
		t.Errorf("dispatch = %v, want %v", got, id)
	}

	// Redundant wakes must not double-queue.
	scheduler.Block(id)
	scheduler.MarkReady(id)
	scheduler.MarkReady(id)
	if got := scheduler.Schedule(); got != id {
		t.Fatalf("dispatch = %v, want %v", got, id)
	}
	scheduler.Block(id)
	if scheduler.HasReadyWork() {
		t.Error("double-queued thread left a stale ready entry")
	}
}

func TestBoostIsMonotonic(t *testing.T) {
	scheduler, registry := newTestScheduler(t)
	id := addThread(scheduler, registry, "worker", thread.PriorityLow)

	if !scheduler.BoostPriority(id, thread.PriorityHigh) {
		t.Fatal("boost to high failed")
	}
	if scheduler.BoostPriority(id, thread.PriorityNormal) {
		t.Error("boost below current effective level succeeded")
	}
	if got := scheduler.EffectivePriority(id); got != thread.PriorityHigh {
		t.Errorf("effective = %v, want %v", got, thread.PriorityHigh)
	}
	if got := scheduler.BasePriority(id); got != thread.PriorityLow {
		t.Errorf("base = %v, want %v", got, thread.PriorityLow)
	}
}

func TestBoostRepositionsQueuedThread(t *testing.T) {
	scheduler, registry := newTestScheduler(t)
	normal := addThread(scheduler, registry, "normal", thread.PriorityNormal)
	low := addThread(scheduler, registry, "low", thread.PriorityLow)

	scheduler.BoostPriority(low, thread.PriorityHigh)
	if got := scheduler.Schedule(); got != low {
		t.Errorf("dispatch = %v, want boosted %v before %v", got, low, normal)
	}
}

func TestRestoreBasePriority(t *testing.T) {
	scheduler, registry := newTestScheduler(t)
	id := addThread(scheduler, registry, "worker", thread.PriorityLow)
	scheduler.BoostPriority(id, thread.PriorityHigh)

	scheduler.RestoreBasePriority(id)
	if got := scheduler.EffectivePriority(id); got != thread.PriorityLow {
		t.Errorf("effective = %v, want base %v", got, thread.PriorityLow)
	}
}

func TestExitIsTerminal(t *testing.T) {
	scheduler, registry := newTestScheduler(t)
	id := addThread(scheduler, registry, "doomed", thread.PriorityNormal)
	scheduler.Schedule()

	scheduler.Exit(id)
	state, _ := registry.State(id)
	if state != thread.StateExited {
		t.Errorf("state = %v, want %v", state, thread.StateExited)
	}
	if got := scheduler.CurrentThread(); got != scheduler.IdleThread() {
		t.Errorf("current = %v, want idle", got)
	}
}

func TestTicksAreMonotonic(t *testing.T) {
	scheduler, _ := newTestScheduler(t)
	before := scheduler.Ticks()
	scheduler.OnTimerTick()
	scheduler.OnTimerTick()
	if got := scheduler.Ticks(); got != before+2 {
		t.Errorf("Ticks = %d, want %d", got, before+2)
	}
}

func TestContextSwitchHook(t *testing.T) {
	scheduler, registry := newTestScheduler(t)

	type transition struct{ from, to ref.ThreadID }
	var switches []transition
	scheduler.SetContextSwitch(func(from, to ref.ThreadID) {
		switches = append(switches, transition{from, to})
	})

	id := addThread(scheduler, registry, "worker", thread.PriorityNormal)
	scheduler.Schedule()

	if len(switches) != 1 {
		t.Fatalf("got %d switches, want 1", len(switches))
	}
	if switches[0].from != scheduler.IdleThread() || switches[0].to != id {
		t.Errorf("switch = %+v, want idle -> %v", switches[0], id)
	}
}
