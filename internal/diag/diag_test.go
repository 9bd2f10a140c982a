package diag

import "testing"

func TestRingWrapsAtCapacity(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Record(ErrorEntry{Mapping: "m", Error: string(rune('a' + i))})
	}
	recent := r.Recent()
	if len(recent) != 3 {
		t.Fatalf("len(Recent()) = %d, want 3", len(recent))
	}
	if recent[0].Error != "c" || recent[2].Error != "e" {
		t.Fatalf("unexpected ordering: %+v", recent)
	}
}

func TestRingBelowCapacityReturnsAllEntries(t *testing.T) {
	r := NewRing(10)
	r.Record(ErrorEntry{Mapping: "m", Error: "x"})
	r.Record(ErrorEntry{Mapping: "m", Error: "y"})

	recent := r.Recent()
	if len(recent) != 2 {
		t.Fatalf("len(Recent()) = %d, want 2", len(recent))
	}
}

func TestNewRingDefaultsCapacity(t *testing.T) {
	r := NewRing(0)
	if r.capacity != 256 {
		t.Fatalf("capacity = %d, want 256", r.capacity)
	}
}
