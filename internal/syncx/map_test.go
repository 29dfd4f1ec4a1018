package syncx

import (
	"sort"
	"strconv"
	"sync"
	"testing"
)

func TestMapLoadStoreDelete(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("a", 1)

	if v, ok := m.Load("a"); !ok || v != 1 {
		t.Errorf("Load(a) = (%d, %v), want (1, true)", v, ok)
	}
	if _, ok := m.Load("b"); ok {
		t.Error("Load(b) should miss")
	}

	m.Delete("a")
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestMapLoadOrStore(t *testing.T) {
	m := NewMap[string, string]()

	v, loaded := m.LoadOrStore("k", "first")
	if loaded || v != "first" {
		t.Errorf("LoadOrStore = (%q, %v), want (first, false)", v, loaded)
	}
	v, loaded = m.LoadOrStore("k", "second")
	if !loaded || v != "first" {
		t.Errorf("LoadOrStore = (%q, %v), want (first, true)", v, loaded)
	}
}

func TestMapLoadAndDelete(t *testing.T) {
	m := NewMap[int, string]()
	m.Store(1, "one")

	v, ok := m.LoadAndDelete(1)
	if !ok || v != "one" {
		t.Errorf("LoadAndDelete = (%q, %v), want (one, true)", v, ok)
	}
	if _, ok := m.LoadAndDelete(1); ok {
		t.Error("second LoadAndDelete should miss")
	}
}

func TestMapValuesSnapshot(t *testing.T) {
	m := NewMap[string, int]()
	for i := 0; i < 3; i++ {
		m.Store(strconv.Itoa(i), i)
	}

	vals := m.Values()
	sort.Ints(vals)
	if len(vals) != 3 || vals[0] != 0 || vals[2] != 2 {
		t.Errorf("Values() = %v, want [0 1 2]", vals)
	}
}

func TestMapConcurrentSafety(t *testing.T) {
	m := NewMap[int, int]()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Store(i, i)
			_, _ = m.Load(i)
			_ = m.Values()
		}()
	}
	wg.Wait()

	if m.Len() != 100 {
		t.Errorf("Len() = %d, want 100", m.Len())
	}
}
