// Package reactor implements a single-threaded, epoll-backed readiness
// loop on Linux: register a file descriptor with an interest mask and a
// callback, and the loop dispatches that callback whenever epoll_wait
// reports the descriptor ready. It also carries a wsheap.TimerHeap so
// scheduled work (heartbeats, handshake deadlines) fires without a
// separate ticking goroutine — the loop computes its next epoll_wait
// timeout from the heap's earliest deadline.
//
// The loop never spawns goroutines and never blocks except inside
// epoll_wait itself, matching the single-threaded dispatch model the
// rest of this module assumes (wsconn.Endpoint and wsserver.Server are
// not safe for concurrent use from multiple goroutines).
package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/coregx/wsreactor/internal/wsheap"
)

// Interest is a bitmask of readiness conditions a registration cares
// about.
type Interest uint32

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

func (i Interest) toEpollEvents() uint32 {
	var ev uint32
	if i&InterestRead != 0 {
		ev |= unix.EPOLLIN
	}
	if i&InterestWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Callback is invoked once per dispatch with the readiness flags that
// fired (a subset of InterestRead|InterestWrite, plus InterestRead set
// alone to signal a hangup/error condition the caller should treat as
// readable-then-fail).
type Callback func(ready Interest)

// maxEvents bounds how many ready descriptors a single epoll_wait call
// drains; the loop simply calls epoll_wait again if more are pending.
const maxEvents = 256

// registration is the loop's bookkeeping for one registered descriptor.
type registration struct {
	fd       int
	interest Interest
	cb       Callback
}

// Loop is a single epoll instance plus a timer heap. The zero value is
// not usable; construct with New.
type Loop struct {
	epfd  int
	regs  map[int]*registration
	timer *wsheap.TimerHeap
	// timerFire receives the token of every expired timer; since
	// wsheap.Timer.Token is an opaque any, it dispatches on the token.
	timerFire func(token any)
	events    []unix.EpollEvent
}

// New creates an epoll instance. timerFire is called (from the loop
// thread, during Run/RunOnce) whenever a scheduled timer's deadline
// arrives; it receives back the same token passed to ScheduleTimer.
func New(timerFire func(token any)) (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &Loop{
		epfd:      epfd,
		regs:      make(map[int]*registration),
		timer:     wsheap.New(),
		timerFire: timerFire,
		events:    make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Close releases the underlying epoll descriptor. Registered fds are
// not closed by this call; callers own their own descriptors.
func (l *Loop) Close() error {
	return unix.Close(l.epfd)
}

// Register begins watching fd for the given interest, dispatching ready
// events to cb. fd must not already be registered.
func (l *Loop) Register(fd int, interest Interest, cb Callback) error {
	if _, exists := l.regs[fd]; exists {
		return fmt.Errorf("reactor: fd %d already registered", fd)
	}
	ev := unix.EpollEvent{Events: interest.toEpollEvents(), Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl add fd %d: %w", fd, err)
	}
	l.regs[fd] = &registration{fd: fd, interest: interest, cb: cb}
	return nil
}

// Modify changes the interest mask for an already-registered fd — used
// to arm/disarm EPOLLOUT once a pending write drains.
func (l *Loop) Modify(fd int, interest Interest) error {
	reg, ok := l.regs[fd]
	if !ok {
		return fmt.Errorf("reactor: fd %d not registered", fd)
	}
	if reg.interest == interest {
		return nil
	}
	ev := unix.EpollEvent{Events: interest.toEpollEvents(), Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl mod fd %d: %w", fd, err)
	}
	reg.interest = interest
	return nil
}

// Unregister stops watching fd. It is not an error to unregister an fd
// that was never registered (a connection can fail before it's armed).
func (l *Loop) Unregister(fd int) error {
	if _, ok := l.regs[fd]; !ok {
		return nil
	}
	delete(l.regs, fd)
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("reactor: epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// ScheduleTimer arms a one-shot deadline, deliverFire milliseconds from
// now, identified by token. Returns the handle needed to cancel it via
// CancelTimer.
func (l *Loop) ScheduleTimer(nowMS, deliverFireMS int64, token any) *wsheap.Timer {
	return l.timer.Push(&wsheap.Timer{DeadlineMS: nowMS + deliverFireMS, Token: token})
}

// CancelTimer cancels a previously scheduled timer. Safe to call on an
// already-fired or already-cancelled timer.
func (l *Loop) CancelTimer(t *wsheap.Timer) {
	l.timer.Remove(t)
}

// nextTimeout computes the epoll_wait timeout (milliseconds, -1 = block
// forever) from the timer heap's earliest deadline relative to nowMS.
func (l *Loop) nextTimeout(nowMS int64) int {
	next := l.timer.Peek()
	if next == nil {
		return -1
	}
	remaining := next.DeadlineMS - nowMS
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

// fireDueTimers pops and dispatches every timer whose deadline has
// passed, then returns.
func (l *Loop) fireDueTimers(nowMS int64) {
	for {
		next := l.timer.Peek()
		if next == nil || next.DeadlineMS > nowMS {
			return
		}
		fired := l.timer.Pop()
		if l.timerFire != nil {
			l.timerFire(fired.Token)
		}
	}
}

// RunOnce blocks in a single epoll_wait call (bounded by the nearest
// timer deadline, or nowMS itself if timers have already expired),
// dispatches any ready descriptors and any fired timers, and returns.
// nowMS is supplied by the caller rather than read internally, since a
// millisecond clock read belongs to the caller's timekeeping policy.
func (l *Loop) RunOnce(nowMS int64) error {
	timeout := l.nextTimeout(nowMS)
	n, err := unix.EpollWait(l.epfd, l.events, timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := l.events[i]
		reg, ok := l.regs[int(ev.Fd)]
		if !ok {
			continue // raced with Unregister between epoll_wait and here
		}
		ready := readyFromEpollEvents(ev.Events)
		reg.cb(ready)
	}
	l.fireDueTimers(nowMS)
	return nil
}

func readyFromEpollEvents(events uint32) Interest {
	var ready Interest
	if events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		ready |= InterestRead
	}
	if events&unix.EPOLLOUT != 0 {
		ready |= InterestWrite
	}
	return ready
}

// Run repeatedly calls RunOnce, using wall-clock time for nowMS, until
// stop is closed. It's the convenience entry point for production use;
// tests generally drive RunOnce directly with synthetic timestamps.
func (l *Loop) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		if err := l.RunOnce(time.Now().UnixMilli()); err != nil {
			return err
		}
	}
}
