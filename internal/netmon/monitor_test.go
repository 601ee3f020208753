package netmon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestInitialState(t *testing.T) {
	t.Parallel()
	m := New(NewManualProbe(true))
	m.Start(context.Background())
	if !m.IsOnline() {
		t.Fatalf("expected online at start")
	}
}

func TestEdgeTriggeredOnce(t *testing.T) {
	t.Parallel()
	probe := NewManualProbe(false)
	m := New(probe)
	var fired int32
	m.OnOnline(func(context.Context) { atomic.AddInt32(&fired, 1) })
	m.Start(context.Background())

	probe.Set(true)
	waitFor(t, func() bool { return atomic.LoadInt32(&fired) == 1 })

	// A repeated online report is not an edge.
	probe.Set(true)
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("hook fired %d times for one edge", got)
	}

	// A full offline→online cycle is a second edge.
	probe.Set(false)
	waitFor(t, func() bool { return !m.IsOnline() })
	probe.Set(true)
	waitFor(t, func() bool { return atomic.LoadInt32(&fired) == 2 })
}

func TestKickObservesMissedTransition(t *testing.T) {
	t.Parallel()
	probe := NewManualProbe(false)
	m := New(probe)
	var fired int32
	m.OnOnline(func(context.Context) { atomic.AddInt32(&fired, 1) })
	m.Start(context.Background())

	// Flip the probe without an event, as a suspended app would see.
	probe.mu.Lock()
	probe.online = true
	probe.mu.Unlock()

	m.Kick(context.Background())
	if atomic.LoadInt32(&fired) != 1 || !m.IsOnline() {
		t.Fatalf("kick did not apply the missed transition")
	}
}
