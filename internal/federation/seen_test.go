package federation

import "testing"

func TestSeenSet_CheckAndMark(t *testing.T) {
	s := newSeenSet(2)

	if s.CheckAndMark("a") {
		t.Fatal("first sighting of a should not be reported as already seen")
	}
	if !s.CheckAndMark("a") {
		t.Fatal("second sighting of a should be reported as already seen")
	}
}

func TestSeenSet_EvictsOldestBeyondCapacity(t *testing.T) {
	s := newSeenSet(2)

	s.CheckAndMark("a")
	s.CheckAndMark("b")
	s.CheckAndMark("c") // evicts "a"

	if s.CheckAndMark("a") {
		t.Fatal("a should have been evicted and treated as unseen again")
	}
}

func TestSeenSet_EmptyIDNeverMarked(t *testing.T) {
	s := newSeenSet(2)
	if s.CheckAndMark("") {
		t.Fatal("empty id should never be reported as already seen")
	}
	if s.CheckAndMark("") {
		t.Fatal("empty id should never be reported as already seen")
	}
}
