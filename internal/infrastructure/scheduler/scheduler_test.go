package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewInvalidArgs(t *testing.T) {
	if s, err := New("bad", 0, func(context.Context) {}); err == nil || s != nil {
		t.Fatalf("expected error for zero interval, got %v / %#v", err, s)
	}
	if s, err := New("bad", 100*time.Millisecond, nil); err == nil || s != nil {
		t.Fatalf("expected error for nil tickFn, got %v / %#v", err, s)
	}
}

func TestStartStopBasics(t *testing.T) {
	var calls atomic.Int64
	s, err := New("test", 10*time.Millisecond, func(context.Context) {
		calls.Add(1)
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if s.IsRunning() {
		t.Fatalf("expected not running initially")
	}
	if ok := s.Start(); !ok {
		t.Fatalf("expected Start true on first call")
	}
	if ok := s.Start(); ok {
		t.Fatalf("expected Start false when already running")
	}

	// Start 时立即执行一次 tick
	deadline := time.Now().Add(time.Second)
	for calls.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if calls.Load() < 1 {
		t.Fatalf("expected at least one tick")
	}

	if ok := s.Stop(); !ok {
		t.Fatalf("expected Stop true on first call")
	}
	if s.IsRunning() {
		t.Fatalf("expected not running after Stop")
	}
	if ok := s.Stop(); ok {
		t.Fatalf("expected Stop false when already stopped")
	}

	// Stop 之后不再有新的 tick
	after := calls.Load()
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != after {
		t.Fatalf("tick executed after Stop")
	}
}

func TestTickPanicIsRecovered(t *testing.T) {
	var calls atomic.Int64
	s, err := New("panicky", 10*time.Millisecond, func(context.Context) {
		calls.Add(1)
		panic("boom")
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	defer s.Stop()

	// panic 不得终止调度循环
	deadline := time.Now().Add(time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if calls.Load() < 2 {
		t.Fatalf("expected scheduler to survive a panicking tick, got %d calls", calls.Load())
	}
}
