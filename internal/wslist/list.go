// Package wslist implements a stable-index intrusive doubly-linked list: a
// slot lives at a fixed index, and each named list is a head/tail index
// pair plus per-slot next/prev index fields. Membership moves are O(1) index
// swings with zero heap allocation, unlike a map-of-pointers or a
// container/list node (which would heap-allocate a node per entry and break
// the "multiple lists, same slot" requirement without extra bookkeeping).
package wslist

const nilIndex = -1

// Links holds the intrusive next/prev fields for one slot in one list. A
// slot that belongs to several lists (e.g. active + heartbeatTracked) has
// one Links value per list it can join; LinkAccessor.Links(i) is usually wired to a
// field on the caller's per-slot struct.
type Links struct {
	next, prev int
}

// NewLinks returns Links initialized as not-in-any-list.
func NewLinks() Links { return Links{next: nilIndex, prev: nilIndex} }

// LinkAccessor lets List operate on per-slot Links fields that live inside
// an arbitrary caller-owned slice (e.g. a slot-table element also carrying
// protocol state), instead of requiring List to own the backing storage.
type LinkAccessor interface {
	Links(i int) *Links
}

// List is an intrusive doubly-linked list over indices into the storage
// addressed by a LinkAccessor. The zero value is not usable; construct
// with New.
type List struct {
	head, tail int
	length     int
	acc        LinkAccessor
}

// New returns an empty List reading/writing link fields through acc.
func New(acc LinkAccessor) *List {
	return &List{head: nilIndex, tail: nilIndex, acc: acc}
}

// Len returns the number of members.
func (l *List) Len() int { return l.length }

// Front returns the head index, or nilIndex if empty.
func (l *List) Front() int { return l.head }

// Back returns the tail index, or nilIndex if empty.
func (l *List) Back() int { return l.tail }

// Next returns the index following i within this list, or nilIndex at the
// tail.
func (l *List) Next(i int) int { return l.acc.Links(i).next }

// Prev returns the index preceding i within this list, or nilIndex at the
// head.
func (l *List) Prev(i int) int { return l.acc.Links(i).prev }

// PushBack appends slot i to the tail. i must not already be a member of
// this list.
func (l *List) PushBack(i int) {
	link := l.acc.Links(i)
	link.next = nilIndex
	link.prev = l.tail

	if l.tail != nilIndex {
		l.acc.Links(l.tail).next = i
	} else {
		l.head = i
	}
	l.tail = i
	l.length++
}

// PushFront prepends slot i to the head. i must not already be a member of
// this list.
func (l *List) PushFront(i int) {
	link := l.acc.Links(i)
	link.prev = nilIndex
	link.next = l.head

	if l.head != nilIndex {
		l.acc.Links(l.head).prev = i
	} else {
		l.tail = i
	}
	l.head = i
	l.length++
}

// Remove detaches slot i from this list. Safe to call only when i is
// currently a member — callers track membership externally.
func (l *List) Remove(i int) {
	link := l.acc.Links(i)

	if link.prev != nilIndex {
		l.acc.Links(link.prev).next = link.next
	} else {
		l.head = link.next
	}

	if link.next != nilIndex {
		l.acc.Links(link.next).prev = link.prev
	} else {
		l.tail = link.prev
	}

	link.next = nilIndex
	link.prev = nilIndex
	l.length--
}

// PopFront removes and returns the head index, or nilIndex if empty.
func (l *List) PopFront() int {
	i := l.head
	if i == nilIndex {
		return nilIndex
	}
	l.Remove(i)
	return i
}

// MoveToBack relocates slot i (already a member) to the tail — used to keep
// the heartbeat-tracked list sorted by recency of received pong.
func (l *List) MoveToBack(i int) {
	if l.tail == i {
		return
	}
	l.Remove(i)
	l.PushBack(i)
}
