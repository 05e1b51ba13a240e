package wsserver

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/coregx/wsreactor/internal/reactor"
	"github.com/coregx/wsreactor/wsconn"
	"github.com/coregx/wsreactor/wsproto"
)

// socketpair returns two connected, non-blocking AF_UNIX stream fds,
// standing in for a server's accepted connection and the client holding
// the other end.
func socketpair(t *testing.T) (server, client int) {
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

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.loop.Close() })
	return s
}

func TestNewPreallocatesFreeSlots(t *testing.T) {
	opts := NewOptions("", 0)
	opts.MaxClients = 4
	s := newTestServer(t, opts)

	if got := s.free.Len(); got != 4 {
		t.Fatalf("free.Len() = %d, want 4", got)
	}
	if got := s.active.Len(); got != 0 {
		t.Fatalf("active.Len() = %d, want 0", got)
	}
}

func TestAcceptConnMovesSlotToActiveAndHandshakePending(t *testing.T) {
	server, _ := socketpair(t)

	opts := NewOptions("", 0)
	opts.MaxClients = 2
	opts.HandshakeTimeoutMS = 5000
	s := newTestServer(t, opts)

	s.acceptConn(server, "")

	if got := s.free.Len(); got != 1 {
		t.Fatalf("free.Len() = %d, want 1", got)
	}
	if got := s.active.Len(); got != 1 {
		t.Fatalf("active.Len() = %d, want 1", got)
	}
	if got := s.handshakePending.Len(); got != 1 {
		t.Fatalf("handshakePending.Len() = %d, want 1", got)
	}
}

func TestAcceptConnRefusesBeyondCapacity(t *testing.T) {
	a, _ := socketpair(t)
	b, _ := socketpair(t)

	opts := NewOptions("", 0)
	opts.MaxClients = 1
	s := newTestServer(t, opts)

	s.acceptConn(a, "")
	s.acceptConn(b, "")

	if got := s.active.Len(); got != 1 {
		t.Fatalf("active.Len() = %d, want 1 (second accept should be refused)", got)
	}
}

func TestOnConnIODrivesHandshakeAndFiresOnOpen(t *testing.T) {
	server, client := socketpair(t)

	opened := make(chan struct{}, 1)
	opts := NewOptions("", 0)
	opts.MaxClients = 2
	opts.HeartbeatIntervalMS = 0
	opts.Handlers = wsconn.Callbacks{
		OnOpen: func(e *wsconn.Endpoint) { opened <- struct{}{} },
	}
	s := newTestServer(t, opts)
	s.acceptConn(server, "")

	req := wsproto.BuildUpgradeRequest("example.invalid", "/", "dGhlIHNhbXBsZSBub25jZQ==", nil)
	if _, err := unix.Write(client, req); err != nil {
		t.Fatalf("write handshake request: %v", err)
	}

	// Slot index 0: the only accepted connection.
	s.onConnIO(0, reactor.InterestRead)
	// Drain the server's queued 101 response.
	s.onConnIO(0, reactor.InterestWrite)

	select {
	case <-opened:
	default:
		t.Fatal("OnOpen was not invoked after a valid handshake")
	}

	if s.slots[0].ep.State() != wsconn.StateConnected {
		t.Fatalf("state = %v, want StateConnected", s.slots[0].ep.State())
	}
	if got := s.handshakePending.Len(); got != 0 {
		t.Fatalf("handshakePending.Len() = %d, want 0 after handshake completes", got)
	}
}

func TestSweepHandshakesForceClosesExpiredSlot(t *testing.T) {
	server, _ := socketpair(t)

	opts := NewOptions("", 0)
	opts.MaxClients = 1
	opts.HandshakeTimeoutMS = 1000
	s := newTestServer(t, opts)
	s.acceptConn(server, "")

	s.slots[0].handshakeDeadlineMS = nowMS() - 1
	s.sweepHandshakes(nowMS())

	if got := s.active.Len(); got != 0 {
		t.Fatalf("active.Len() = %d, want 0 after expired handshake is force-closed", got)
	}
	if got := s.free.Len(); got != 1 {
		t.Fatalf("free.Len() = %d, want 1 after slot is released", got)
	}
}

func TestHeartbeatSendAndExpireCycle(t *testing.T) {
	server, client := socketpair(t)

	opts := NewOptions("", 0)
	opts.MaxClients = 1
	opts.HeartbeatIntervalMS = 1000
	opts.HeartbeatTTLMS = 1000
	s := newTestServer(t, opts)
	s.acceptConn(server, "")

	// Fast-forward straight to CONNECTED without a real handshake so the
	// heartbeat bookkeeping can be exercised directly.
	s.onHandshakeComplete(0)
	if got := s.heartbeatTracked.Len(); got != 1 {
		t.Fatalf("heartbeatTracked.Len() = %d, want 1", got)
	}

	s.sendHeartbeats()
	if !s.slots[0].heartbeatPending {
		t.Fatal("heartbeatPending should be true after sendHeartbeats")
	}

	// The PING is only queued in the endpoint's write buffer; no Write
	// has run, so this read of the client end finds nothing yet.
	buf := make([]byte, 64)
	_, _ = unix.Read(client, buf)

	s.expireHeartbeats()
	if got := s.active.Len(); got != 0 {
		t.Fatalf("active.Len() = %d, want 0 after heartbeat TTL expiry", got)
	}
}

func TestTouchHeartbeatClearsPendingAndReordersList(t *testing.T) {
	a, _ := socketpair(t)
	b, _ := socketpair(t)

	opts := NewOptions("", 0)
	opts.MaxClients = 2
	opts.HeartbeatIntervalMS = 1000
	s := newTestServer(t, opts)

	s.acceptConn(a, "")
	s.acceptConn(b, "")
	s.onHandshakeComplete(0)
	s.onHandshakeComplete(1)

	s.slots[0].heartbeatPending = true
	s.touchHeartbeat(0)

	if s.slots[0].heartbeatPending {
		t.Fatal("heartbeatPending should be cleared by touchHeartbeat")
	}
	if got := s.heartbeatTracked.Back(); got != 0 {
		t.Fatalf("heartbeatTracked.Back() = %d, want 0 (moved to tail)", got)
	}
}

func TestBroadcastTextArmsWritableForActiveConnections(t *testing.T) {
	server, client := socketpair(t)

	opts := NewOptions("", 0)
	opts.MaxClients = 1
	s := newTestServer(t, opts)
	s.acceptConn(server, "")
	s.onHandshakeComplete(0)

	s.BroadcastText("hello")

	if !s.slots[0].ep.PendingWrite() {
		t.Fatal("expected a pending write queued by BroadcastText")
	}
	_ = client
}
