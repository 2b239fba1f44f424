package notify

import (
	"testing"

	"notibridge/internal/host"
)

func mkEntry(id int64, tag string) *entry {
	return &entry{id: id, rec: host.NewRecord(host.CapDesktop, id, host.Note{Title: "t", Tag: tag})}
}

func TestRegistryIDsNeverReused(t *testing.T) {
	t.Parallel()
	r := newRegistry()

	a := r.alloc()
	b := r.alloc()
	if a != 0 || b != 1 {
		t.Fatalf("first ids = %d, %d, want 0, 1", a, b)
	}

	r.put(mkEntry(a, ""))
	if r.take(a) == nil {
		t.Fatal("take of live entry returned nil")
	}
	// A removed id is gone for good; the next allocation moves on.
	if c := r.alloc(); c != 2 {
		t.Fatalf("alloc after removal = %d, want 2", c)
	}
}

func TestRegistryTakeIdempotent(t *testing.T) {
	t.Parallel()
	r := newRegistry()
	id := r.alloc()
	r.put(mkEntry(id, ""))

	if r.take(id) == nil {
		t.Fatal("first take = nil")
	}
	if r.take(id) != nil {
		t.Fatal("second take != nil")
	}
	if r.count() != 0 {
		t.Fatalf("count = %d, want 0", r.count())
	}
}

func TestRegistryPutDuplicateIgnored(t *testing.T) {
	t.Parallel()
	r := newRegistry()
	id := r.alloc()
	first := mkEntry(id, "one")
	r.put(first)
	r.put(mkEntry(id, "two"))

	if got := r.get(id); got != first {
		t.Fatal("duplicate put replaced the original entry")
	}
	if r.count() != 1 {
		t.Fatalf("count = %d, want 1", r.count())
	}
}

func TestRegistryFirstByTagInsertionOrder(t *testing.T) {
	t.Parallel()
	r := newRegistry()
	for _, tag := range []string{"a", "b", "a"} {
		id := r.alloc()
		r.put(mkEntry(id, tag))
	}

	e := r.firstByTag("a")
	if e == nil || e.id != 0 {
		t.Fatalf("firstByTag returned id %v, want 0", e)
	}
	r.take(e.id)

	e = r.firstByTag("a")
	if e == nil || e.id != 2 {
		t.Fatalf("firstByTag after removal returned %v, want id 2", e)
	}
	if r.firstByTag("nope") != nil {
		t.Fatal("firstByTag matched a missing tag")
	}
}

func TestRegistrySnapshotOrder(t *testing.T) {
	t.Parallel()
	r := newRegistry()
	for i := 0; i < 4; i++ {
		r.put(mkEntry(r.alloc(), ""))
	}
	r.take(1)

	snap := r.snapshot()
	want := []int64{0, 2, 3}
	if len(snap) != len(want) {
		t.Fatalf("snapshot length = %d, want %d", len(snap), len(want))
	}
	for i, e := range snap {
		if e.id != want[i] {
			t.Fatalf("snapshot[%d].id = %d, want %d", i, e.id, want[i])
		}
	}
}
