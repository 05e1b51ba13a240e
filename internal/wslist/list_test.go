package wslist

import "testing"

type slotTable struct {
	links []Links
}

func newSlotTable(n int) *slotTable {
	t := &slotTable{links: make([]Links, n)}
	for i := range t.links {
		t.links[i] = NewLinks()
	}
	return t
}

func (t *slotTable) Links(i int) *Links { return &t.links[i] }

func collect(l *List) []int {
	var out []int
	for i := l.Front(); i != nilIndex; i = l.Next(i) {
		out = append(out, i)
	}
	return out
}

func eqInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPushBackOrder(t *testing.T) {
	st := newSlotTable(5)
	l := New(st)
	l.PushBack(2)
	l.PushBack(0)
	l.PushBack(4)

	if got := collect(l); !eqInts(got, []int{2, 0, 4}) {
		t.Fatalf("collect() = %v, want [2 0 4]", got)
	}
	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}
}

func TestPushFrontOrder(t *testing.T) {
	st := newSlotTable(5)
	l := New(st)
	l.PushFront(2)
	l.PushFront(0)
	l.PushFront(4)

	if got := collect(l); !eqInts(got, []int{4, 0, 2}) {
		t.Fatalf("collect() = %v, want [4 0 2]", got)
	}
}

func TestRemoveMiddleHeadTail(t *testing.T) {
	st := newSlotTable(5)
	l := New(st)
	l.PushBack(0)
	l.PushBack(1)
	l.PushBack(2)
	l.PushBack(3)

	l.Remove(1) // middle
	if got := collect(l); !eqInts(got, []int{0, 2, 3}) {
		t.Fatalf("after remove middle: %v", got)
	}

	l.Remove(0) // head
	if got := collect(l); !eqInts(got, []int{2, 3}) {
		t.Fatalf("after remove head: %v", got)
	}

	l.Remove(3) // tail
	if got := collect(l); !eqInts(got, []int{2}) {
		t.Fatalf("after remove tail: %v", got)
	}

	l.Remove(2)
	if l.Len() != 0 || l.Front() != nilIndex || l.Back() != nilIndex {
		t.Fatalf("list not empty after removing all members")
	}
}

func TestPopFrontDrainsInOrder(t *testing.T) {
	st := newSlotTable(3)
	l := New(st)
	l.PushBack(0)
	l.PushBack(1)
	l.PushBack(2)

	var got []int
	for l.Len() > 0 {
		got = append(got, l.PopFront())
	}
	if !eqInts(got, []int{0, 1, 2}) {
		t.Fatalf("PopFront sequence = %v, want [0 1 2]", got)
	}
}

func TestPopFrontOnEmptyReturnsNilIndex(t *testing.T) {
	st := newSlotTable(1)
	l := New(st)
	if got := l.PopFront(); got != nilIndex {
		t.Fatalf("PopFront() on empty = %d, want nilIndex", got)
	}
}

func TestMoveToBackKeepsRecencyOrder(t *testing.T) {
	st := newSlotTable(4)
	l := New(st)
	l.PushBack(0)
	l.PushBack(1)
	l.PushBack(2)

	l.MoveToBack(0)
	if got := collect(l); !eqInts(got, []int{1, 2, 0}) {
		t.Fatalf("after MoveToBack(0): %v", got)
	}

	// Moving the current tail is a no-op.
	l.MoveToBack(0)
	if got := collect(l); !eqInts(got, []int{1, 2, 0}) {
		t.Fatalf("after redundant MoveToBack(0): %v", got)
	}
}

func TestIndependentListsOnSameSlots(t *testing.T) {
	// A slot can be a member of two distinct lists simultaneously, each
	// list backed by its own Links field (here, two slotTables over the
	// same logical index space).
	active := newSlotTable(3)
	heartbeat := newSlotTable(3)

	la := New(active)
	lh := New(heartbeat)

	la.PushBack(1)
	lh.PushBack(1)

	if la.Len() != 1 || lh.Len() != 1 {
		t.Fatalf("expected slot 1 present in both lists independently")
	}

	la.Remove(1)
	if la.Len() != 0 {
		t.Fatalf("active list should be empty after remove")
	}
	if lh.Len() != 1 {
		t.Fatalf("heartbeat list should be unaffected by active list removal")
	}
}
