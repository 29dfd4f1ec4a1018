package syncx

import (
	"sync"
	"testing"
)

type counters struct {
	Started, Finalized int
}

func TestValueUpdateAndLoad(t *testing.T) {
	v := NewValue(counters{Started: 1})
	v.Update(func(c *counters) { c.Finalized++ })

	got := v.Load()
	if got.Started != 1 || got.Finalized != 1 {
		t.Errorf("Load() = %+v", got)
	}

	// Load hands out a copy.
	got.Started = 99
	if v.Load().Started != 1 {
		t.Error("mutating a loaded copy changed the guarded value")
	}
}

func TestValueConcurrentUpdates(t *testing.T) {
	v := NewValue(counters{})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.Update(func(c *counters) { c.Started++ })
			_ = v.Load()
		}()
	}
	wg.Wait()
	if got := v.Load().Started; got != 100 {
		t.Errorf("Started = %d, want 100", got)
	}
}
