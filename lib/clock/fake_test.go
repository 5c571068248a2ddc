// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeNowAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := Fake(start)

	if got := fake.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	fake.Advance(42 * time.Second)
	if got := fake.Now(); !got.Equal(start.Add(42 * time.Second)) {
		t.Fatalf("Now() after Advance = %v, want %v", got, start.Add(42*time.Second))
	}
}

func TestFakeTickerFiresPerInterval(t *testing.T) {
	fake := Fake(time.Unix(0, 0))
	ticker := fake.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	fake.Advance(10 * time.Millisecond)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire after one interval")
	}

	// Two intervals in one Advance deliver at most one tick because
	// the channel has capacity 1, matching time.Ticker drop behavior.
	fake.Advance(20 * time.Millisecond)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire after further advance")
	}
}

func TestFakeTickerStop(t *testing.T) {
	fake := Fake(time.Unix(0, 0))
	ticker := fake.NewTicker(5 * time.Millisecond)
	ticker.Stop()

	fake.Advance(50 * time.Millisecond)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeAfterImmediate(t *testing.T) {
	fake := Fake(time.Unix(0, 0))
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) did not deliver immediately")
	}
}

func TestFakeAfterFiresOnce(t *testing.T) {
	fake := Fake(time.Unix(0, 0))
	ch := fake.After(time.Second)

	fake.Advance(999 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	fake.Advance(time.Millisecond)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire at its deadline")
	}

	fake.Advance(time.Hour)
	select {
	case <-ch:
		t.Fatal("After fired twice")
	default:
	}
}
