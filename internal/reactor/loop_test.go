package reactor

import (
	"testing"

	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("set nonblock: %v", err)
		}
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestRegisterDispatchesReadableEvent(t *testing.T) {
	a, b := socketpair(t)

	l, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	fired := make(chan Interest, 1)
	if err := l.Register(a, InterestRead, func(ready Interest) {
		fired <- ready
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := unix.Write(b, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := l.RunOnce(0); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	select {
	case ready := <-fired:
		if ready&InterestRead == 0 {
			t.Fatalf("ready = %v, want InterestRead set", ready)
		}
	default:
		t.Fatal("callback was not invoked")
	}
}

func TestModifyChangesInterest(t *testing.T) {
	a, b := socketpair(t)

	l, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	calls := 0
	if err := l.Register(a, InterestWrite, func(ready Interest) { calls++ }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := l.RunOnce(0); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if calls == 0 {
		t.Fatal("expected writable dispatch while armed for write")
	}

	if err := l.Modify(a, InterestRead); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	calls = 0
	if err := l.RunOnce(0); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if calls != 0 {
		t.Fatal("expected no dispatch once disarmed for write and peer hasn't sent anything")
	}
	_ = b
}

func TestUnregisterStopsDispatch(t *testing.T) {
	a, b := socketpair(t)

	l, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	calls := 0
	if err := l.Register(a, InterestRead, func(ready Interest) { calls++ }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := l.Unregister(a); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	if _, err := unix.Write(b, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.RunOnce(0); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if calls != 0 {
		t.Fatalf("calls = %d, want 0 after Unregister", calls)
	}
}

func TestTimerFiresWithoutAnyFDReady(t *testing.T) {
	var firedToken any
	l, err := New(func(token any) { firedToken = token })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.ScheduleTimer(0, 0, "heartbeat-sweep")

	if err := l.RunOnce(1); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if firedToken != "heartbeat-sweep" {
		t.Fatalf("firedToken = %v, want heartbeat-sweep", firedToken)
	}
}

func TestCancelTimerPreventsFire(t *testing.T) {
	fired := false
	l, err := New(func(token any) { fired = true })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	tm := l.ScheduleTimer(0, 0, "x")
	l.CancelTimer(tm)

	if err := l.RunOnce(1); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if fired {
		t.Fatal("cancelled timer fired anyway")
	}
}

func TestNextTimeoutBlocksForeverWithNoTimers(t *testing.T) {
	l, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	if got := l.nextTimeout(0); got != -1 {
		t.Fatalf("nextTimeout = %d, want -1", got)
	}
}
