package lru

import "testing"

func TestCache_SetGet(t *testing.T) {
	c := New[string, int](3)

	c.Set("a", 1)
	c.Set("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v, want 1, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) returned ok for absent key")
	}
	if !c.Has("b") {
		t.Error("Has(b) = false, want true")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3) // evicts "a"

	if c.Has("a") {
		t.Error("oldest entry 'a' should have been evicted")
	}
	if !c.Has("b") || !c.Has("c") {
		t.Error("recent entries should survive eviction")
	}
}

func TestCache_GetPromotes(t *testing.T) {
	c := New[string, int](2)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")    // "a" becomes most recent
	c.Set("c", 3) // evicts "b", not "a"

	if !c.Has("a") {
		t.Error("promoted entry 'a' should not have been evicted")
	}
	if c.Has("b") {
		t.Error("entry 'b' should have been evicted")
	}
}

func TestCache_SetExistingUpdatesValue(t *testing.T) {
	c := New[string, int](2)

	c.Set("a", 1)
	c.Set("a", 10)

	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("Get(a) = %d, want 10", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCache_PeekDoesNotPromote(t *testing.T) {
	c := New[string, int](2)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Peek("a")   // recency unchanged
	c.Set("c", 3) // evicts "a"

	if c.Has("a") {
		t.Error("peeked entry 'a' should still have been evicted")
	}
}

func TestCache_RangeOldestFirst(t *testing.T) {
	c := New[string, int](3)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Get("a") // order is now b, c, a

	var keys []string
	c.Range(func(k string, _ int) bool {
		keys = append(keys, k)
		return true
	})

	want := []string{"b", "c", "a"}
	if len(keys) != len(want) {
		t.Fatalf("Range visited %d entries, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Range order[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestCache_RangeEarlyStop(t *testing.T) {
	c := New[int, int](4)
	for i := 0; i < 4; i++ {
		c.Set(i, i)
	}

	count := 0
	c.Range(func(_, _ int) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Errorf("Range visited %d entries after early stop, want 2", count)
	}
}

func TestCache_Delete(t *testing.T) {
	c := New[string, int](2)
	c.Set("a", 1)
	c.Delete("a")
	c.Delete("missing") // no-op

	if c.Has("a") || c.Len() != 0 {
		t.Error("Delete did not remove entry")
	}
}

func TestCache_MinimumCapacity(t *testing.T) {
	c := New[string, int](0)
	c.Set("a", 1)
	c.Set("b", 2)

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (capacity clamped to 1)", c.Len())
	}
}
