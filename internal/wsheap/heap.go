// Package wsheap implements a timer priority queue keyed on an absolute
// millisecond deadline, backed by container/heap.
//
// No third-party priority-queue library in the example corpus models an
// ordered-by-deadline heap (github.com/eapache/queue, used elsewhere in the
// corpus, is a FIFO ring buffer, not an ordered structure) — see DESIGN.md
// for the full justification of falling back to the standard library here.
package wsheap

import "container/heap"

// Timer is one scheduled callback, keyed by DeadlineMS. Token is opaque to
// the heap; callers stash whatever they need to identify the fired timer
// (a slot index, a sweep kind, ...).
type Timer struct {
	DeadlineMS int64
	Token      any

	index int // heap-internal position, maintained by container/heap hooks
}

// TimerHeap is a min-heap of *Timer ordered by DeadlineMS.
type TimerHeap struct {
	items timerSlice
}

// New returns an empty TimerHeap.
func New() *TimerHeap {
	h := &TimerHeap{}
	heap.Init(&h.items)
	return h
}

// Push schedules t and returns it (so callers can later Remove it by
// reference, e.g. to cancel a heartbeat timeout once a pong arrives).
func (h *TimerHeap) Push(t *Timer) *Timer {
	heap.Push(&h.items, t)
	return t
}

// Peek returns the earliest-deadline timer without removing it, or nil if
// the heap is empty.
func (h *TimerHeap) Peek() *Timer {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

// Pop removes and returns the earliest-deadline timer, or nil if empty.
func (h *TimerHeap) Pop() *Timer {
	if len(h.items) == 0 {
		return nil
	}
	return heap.Pop(&h.items).(*Timer)
}

// Remove cancels t if it is still scheduled. Safe to call with a timer that
// has already fired or been removed (no-op).
func (h *TimerHeap) Remove(t *Timer) {
	if t.index < 0 || t.index >= len(h.items) || h.items[t.index] != t {
		return
	}
	heap.Remove(&h.items, t.index)
}

// Len returns the number of scheduled timers.
func (h *TimerHeap) Len() int { return len(h.items) }

// timerSlice implements container/heap.Interface over []*Timer.
type timerSlice []*Timer

func (s timerSlice) Len() int { return len(s) }

func (s timerSlice) Less(i, j int) bool { return s[i].DeadlineMS < s[j].DeadlineMS }

func (s timerSlice) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
	s[i].index = i
	s[j].index = j
}

func (s *timerSlice) Push(x any) {
	t := x.(*Timer)
	t.index = len(*s)
	*s = append(*s, t)
}

func (s *timerSlice) Pop() any {
	old := *s
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*s = old[:n-1]
	return t
}
