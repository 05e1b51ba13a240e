package wsserver

import (
	"github.com/coregx/wsreactor/internal/wslist"
	"github.com/coregx/wsreactor/wsconn"
)

// timeoutKind distinguishes which (at most one) timeout-tracking list a
// slot currently belongs to, besides the active list.
type timeoutKind int

const (
	timeoutNone timeoutKind = iota
	timeoutHandshake
	timeoutHeartbeat
)

// slot is one entry in the server's preallocated connection table. A
// slot lives at a fixed index for the lifetime of the server; only its
// contents are reset between connections. It can be a member of several
// lists simultaneously (free xor active, plus independently at most one
// of handshake-pending/heartbeat-tracked), each with its own Links
// field, per the stable-index intrusive-list discipline internal/wslist
// implements.
type slot struct {
	ep         *wsconn.Endpoint
	fd         int
	remoteAddr string

	freeLinks      wslist.Links
	activeLinks    wslist.Links
	handshakeLinks wslist.Links
	heartbeatLinks wslist.Links

	timeout timeoutKind

	// handshakeDeadlineMS is absolute-ms when a not-yet-connected slot's
	// handshake must complete by.
	handshakeDeadlineMS int64
	// heartbeatPending is true from the moment a heartbeat PING is sent
	// until the matching PONG arrives; the expirer force-closes any slot
	// still pending when its turn comes.
	heartbeatPending bool
}

// accessorFunc adapts a plain function to wslist.LinkAccessor.
type accessorFunc func(i int) *wslist.Links

func (f accessorFunc) Links(i int) *wslist.Links { return f(i) }

func (s *Server) freeAccessor() wslist.LinkAccessor {
	return accessorFunc(func(i int) *wslist.Links { return &s.slots[i].freeLinks })
}

func (s *Server) activeAccessor() wslist.LinkAccessor {
	return accessorFunc(func(i int) *wslist.Links { return &s.slots[i].activeLinks })
}

func (s *Server) handshakeAccessor() wslist.LinkAccessor {
	return accessorFunc(func(i int) *wslist.Links { return &s.slots[i].handshakeLinks })
}

func (s *Server) heartbeatAccessor() wslist.LinkAccessor {
	return accessorFunc(func(i int) *wslist.Links { return &s.slots[i].heartbeatLinks })
}

// leaveTimeoutList removes slot i from whichever timeout list it
// currently belongs to, if any.
func (s *Server) leaveTimeoutList(i int) {
	switch s.slots[i].timeout {
	case timeoutHandshake:
		s.handshakePending.Remove(i)
	case timeoutHeartbeat:
		s.heartbeatTracked.Remove(i)
	}
	s.slots[i].timeout = timeoutNone
}
