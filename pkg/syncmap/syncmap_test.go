package syncmap

import "testing"

func TestMap_PutGet(t *testing.T) {
	m := New[string, int]()

	if _, ok := m.Get("a"); ok {
		t.Fatalf("Get on empty map should miss")
	}

	m.Put("a", 1)
	v, ok := m.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v, want 1, true", v, ok)
	}
}

func TestMap_Delete(t *testing.T) {
	m := New[string, int]()
	m.Put("a", 1)
	m.Put("b", 2)

	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Fatalf("a should be deleted")
	}
	if v, ok := m.Get("b"); !ok || v != 2 {
		t.Fatalf("b should be unaffected by deleting a")
	}
}

func TestMap_DeleteMultiple(t *testing.T) {
	m := New[string, int]()
	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("c", 3)

	m.Delete("a", "c")

	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
	if _, ok := m.Get("b"); !ok {
		t.Fatalf("b should still be present")
	}
}

func TestMap_Range(t *testing.T) {
	m := New[string, int]()
	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("c", 3)

	sum := 0
	m.Range(func(_ string, v int) bool {
		sum += v
		return true
	})
	if sum != 6 {
		t.Fatalf("Range sum = %d, want 6", sum)
	}
}

func TestMap_RangeStopsEarly(t *testing.T) {
	m := New[string, int]()
	m.Put("a", 1)
	m.Put("b", 2)

	seen := 0
	m.Range(func(_ string, _ int) bool {
		seen++
		return false
	})
	if seen != 1 {
		t.Fatalf("Range should have stopped after the first entry, saw %d", seen)
	}
}
