package wsserver

import (
	"github.com/coregx/wsreactor/wsconn"
	"github.com/coregx/wsreactor/wsproto"
)

// heartbeatPayload is the fixed PING payload sent to every
// heartbeat-tracked connection.
var heartbeatPayload = []byte("wsreactor-heartbeat")

// onTimer dispatches a fired reactor timer to the matching recurring
// sweep and reschedules it (all four timers are periodic for the
// lifetime of the server, except the one-shot TTL expiry scheduled
// alongside each heartbeat send).
func (s *Server) onTimer(token any) {
	now := nowMS()
	switch token.(type) {
	case stopWatchdogToken:
		s.runStopWatchdog()
		s.loop.ScheduleTimer(now, SERVER_WATCHDOG_FREQ_MS, stopWatchdogToken{})

	case heartbeatSendToken:
		s.sendHeartbeats()
		s.loop.ScheduleTimer(now, s.opts.HeartbeatIntervalMS, heartbeatSendToken{})
		if s.opts.HeartbeatTTLMS > 0 {
			s.loop.ScheduleTimer(now, s.opts.HeartbeatTTLMS, heartbeatExpToken{})
		}

	case heartbeatExpToken:
		s.expireHeartbeats()

	case handshakeSweepTok:
		s.sweepHandshakes(now)
		s.loop.ScheduleTimer(now, handshakeSweepFreqMS, handshakeSweepTok{})
	}
}

// runStopWatchdog checks the shutdown flag and, once set, sends a
// going-away close frame to every still-open active connection. Listen's
// loop exits once the active list empties.
func (s *Server) runStopWatchdog() {
	if !s.stopping.Load() {
		return
	}
	for i := s.active.Front(); i != -1; i = s.active.Next(i) {
		sl := &s.slots[i]
		if sl.ep.State() != wsconn.StateClosed {
			_ = sl.ep.Close(wsproto.CloseGoingAway, "server shutting down")
			s.armWritable(i)
		}
	}
}

// sendHeartbeats PINGs every heartbeat-tracked connection and flips its
// pending flag; the matching OnPong (wired through touchHeartbeat)
// clears it before the expirer's next pass.
func (s *Server) sendHeartbeats() {
	for i := s.heartbeatTracked.Front(); i != -1; i = s.heartbeatTracked.Next(i) {
		sl := &s.slots[i]
		_ = sl.ep.SendPing(heartbeatPayload)
		sl.heartbeatPending = true
		s.armWritable(i)
	}
}

// expireHeartbeats force-closes any heartbeat-tracked connection still
// pending a pong reply. The list is kept sorted by pong recency
// (touchHeartbeat moves a slot to the tail on receipt), so scanning from
// the front, the first not-pending entry means every remaining entry was
// touched more recently still and can't be expired either.
func (s *Server) expireHeartbeats() {
	i := s.heartbeatTracked.Front()
	for i != -1 {
		next := s.heartbeatTracked.Next(i)
		if !s.slots[i].heartbeatPending {
			return
		}
		s.forceClose(i, "heartbeat timeout")
		i = next
	}
}

// sweepHandshakes force-closes any handshake-pending connection whose
// deadline has passed. The list is FIFO-ordered by acceptance time,
// which — since every slot gets the same fixed timeout — is also
// deadline order, so the scan stops at the first not-yet-expired entry.
func (s *Server) sweepHandshakes(now int64) {
	i := s.handshakePending.Front()
	for i != -1 {
		next := s.handshakePending.Next(i)
		if s.slots[i].handshakeDeadlineMS > now {
			return
		}
		s.forceClose(i, "handshake timeout")
		i = next
	}
}
