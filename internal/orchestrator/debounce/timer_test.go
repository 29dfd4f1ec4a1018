package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerFiresOnce(t *testing.T) {
	var calls atomic.Int32
	tm := New(10*time.Millisecond, func() { calls.Add(1) })

	tm.Arm()
	if !tm.Pending() {
		t.Error("armed timer should be pending")
	}
	time.Sleep(50 * time.Millisecond)

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if tm.Pending() {
		t.Error("fired timer should not be pending")
	}
}

func TestTimerRearmSupersedes(t *testing.T) {
	var calls atomic.Int32
	tm := New(30*time.Millisecond, func() { calls.Add(1) })

	for i := 0; i < 5; i++ {
		tm.Arm()
		time.Sleep(10 * time.Millisecond)
	}
	if calls.Load() != 0 {
		t.Fatalf("re-armed timer fired early: %d", calls.Load())
	}
	time.Sleep(80 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestTimerCancel(t *testing.T) {
	var calls atomic.Int32
	tm := New(10*time.Millisecond, func() { calls.Add(1) })

	tm.Arm()
	tm.Cancel()
	time.Sleep(40 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("cancelled timer fired %d times", calls.Load())
	}

	tm.Arm()
	time.Sleep(40 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("timer should be reusable after Cancel, calls = %d", calls.Load())
	}
}

func TestTimerStop(t *testing.T) {
	var calls atomic.Int32
	tm := New(5*time.Millisecond, func() { calls.Add(1) })

	tm.Arm()
	tm.Stop()
	tm.Arm()
	time.Sleep(30 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("stopped timer fired %d times", calls.Load())
	}
}
