package initmgr

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestInitializeReachesReady(t *testing.T) {
	var calls int32
	phases := map[State]Phase{
		LicenseInit:      func(ctx context.Context) error { atomic.AddInt32(&calls, 1); return nil },
		SessionLoad:      func(ctx context.Context) error { atomic.AddInt32(&calls, 1); return nil },
	}
	m := New(phases)

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if m.State() != Ready {
		t.Fatalf("state = %v, want Ready", m.State())
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("phase calls = %d, want 2", calls)
	}
}

func TestInitializeIsIdempotentOnceReady(t *testing.T) {
	var calls int32
	phases := map[State]Phase{
		LicenseInit: func(ctx context.Context) error { atomic.AddInt32(&calls, 1); return nil },
	}
	m := New(phases)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("phase ran %d times, want 1 (no-op once Ready)", calls)
	}
}

func TestFailedPhaseMovesToError(t *testing.T) {
	boom := errors.New("boom")
	phases := map[State]Phase{
		SessionLoad: func(ctx context.Context) error { return boom },
	}
	m := New(phases)
	if err := m.Initialize(context.Background()); err != boom {
		t.Fatalf("err = %v, want boom", err)
	}
	if m.State() != Error {
		t.Fatalf("state = %v, want Error", m.State())
	}
}

func TestWaitForReadyTimesOut(t *testing.T) {
	phases := map[State]Phase{
		SessionLoad: func(ctx context.Context) error { time.Sleep(50 * time.Millisecond); return nil },
	}
	m := New(phases)
	go m.Initialize(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := m.WaitForReady(ctx); err == nil {
		t.Fatal("expected WaitForReady to time out before the phase finishes")
	}
}
