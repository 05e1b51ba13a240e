package wsserver

import (
	"golang.org/x/sys/unix"

	"github.com/coregx/wsreactor/internal/reactor"
	"github.com/coregx/wsreactor/wsconn"
)

// onAcceptable drains every pending connection on the listening socket,
// stopping at the first EAGAIN (no event-count bound beyond what the
// kernel's accept queue holds).
func (s *Server) onAcceptable(_ reactor.Interest) {
	for {
		fd, sa, err := unix.Accept4(s.listFD, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			s.log.Error().Err(err).Msg("wsserver: accept4")
			return
		}
		s.acceptConn(fd, sockaddrString(sa))
	}
}

func (s *Server) acceptConn(fd int, remoteAddr string) {
	if s.stopping.Load() {
		_ = unix.Close(fd)
		return
	}

	i := s.free.PopFront()
	if i == -1 {
		s.log.Warn().Err(ErrAtCapacity).Str("remote_addr", remoteAddr).Msg("wsserver: at capacity, refusing connection")
		_ = unix.Close(fd)
		return
	}

	sl := &s.slots[i]
	sl.fd = fd
	sl.remoteAddr = remoteAddr
	sl.ep.Init(s.opts.Settings)
	sl.heartbeatPending = false

	cb := func(ready reactor.Interest) { s.onConnIO(i, ready) }
	if err := s.loop.Register(fd, reactor.InterestRead, cb); err != nil {
		s.connLog(i).Error().Err(err).Msg("wsserver: register accepted fd")
		_ = unix.Close(fd)
		sl.fd = -1
		s.free.PushBack(i)
		return
	}
	s.active.PushBack(i)

	if s.opts.HandshakeTimeoutMS > 0 {
		sl.handshakeDeadlineMS = nowMS() + s.opts.HandshakeTimeoutMS
		s.handshakePending.PushBack(i)
		sl.timeout = timeoutHandshake
	}
}

// onConnIO drives one accepted connection's endpoint over whatever
// readiness the reactor reported, releasing its slot back to the free
// list the moment the endpoint reaches StateClosed.
func (s *Server) onConnIO(i int, ready reactor.Interest) {
	sl := &s.slots[i]

	if ready&reactor.InterestRead != 0 {
		_ = sl.ep.Read(fdIO{sl.fd})
		if sl.ep.Done() {
			s.releaseSlot(i)
			return
		}
	}

	if ready&reactor.InterestWrite != 0 {
		outcome, err := sl.ep.Write(fdIO{sl.fd})
		if err != nil || outcome == wsconn.WriteClosed {
			s.releaseSlot(i)
			return
		}
		if outcome == wsconn.WriteDone {
			_ = s.loop.Modify(sl.fd, reactor.InterestRead)
		}
	}

	s.armWritable(i)
}

// onHandshakeComplete moves slot i out of the handshake-pending list and
// into the heartbeat-tracked list (if heartbeats are enabled) the moment
// its endpoint reaches StateConnected.
func (s *Server) onHandshakeComplete(i int) {
	s.leaveTimeoutList(i)
	if s.opts.HeartbeatIntervalMS > 0 {
		s.heartbeatTracked.PushBack(i)
		s.slots[i].timeout = timeoutHeartbeat
	}
}

// touchHeartbeat clears slot i's pending-pong flag and moves it to the
// tail of the heartbeat-tracked list, keeping the list sorted by
// recency of received pong as the expirer scan relies on.
func (s *Server) touchHeartbeat(i int) {
	s.slots[i].heartbeatPending = false
	if s.slots[i].timeout == timeoutHeartbeat {
		s.heartbeatTracked.MoveToBack(i)
	}
}

// releaseSlot tears down slot i's connection and returns it to the free
// list. Safe to call only once the endpoint has reached StateClosed (or
// is being force-closed).
func (s *Server) releaseSlot(i int) {
	sl := &s.slots[i]
	s.leaveTimeoutList(i)
	s.active.Remove(i)
	_ = s.loop.Unregister(sl.fd)
	_ = unix.Close(sl.fd)
	sl.fd = -1
	sl.ep.Reset()
	s.free.PushBack(i)
}

// forceClose tears an active connection down immediately (heartbeat TTL
// or handshake deadline expiry): OnClose fires with code 0 via
// Endpoint.ForceClose, then the slot is released.
func (s *Server) forceClose(i int, reason string) {
	s.connLog(i).Warn().Str("reason", reason).Msg("wsserver: force-closing connection")
	s.slots[i].ep.ForceClose()
	s.releaseSlot(i)
}
