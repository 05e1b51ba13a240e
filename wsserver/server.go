// Package wsserver implements the reactor-driven WebSocket server: an
// accept loop over a preallocated connection slot table, with heartbeat
// and handshake-timeout supervision running on the same single-threaded
// readiness loop as connection I/O.
//
// This generalizes coregx-stream/websocket's Hub (an unbounded
// map-of-goroutines broadcaster fed by channels) into a single-threaded,
// zero-per-connection-goroutine design: the slot table replaces the
// client map, internal/wslist memberships replace ad-hoc map iteration,
// and internal/reactor's epoll loop replaces Hub.Run's channel select.
package wsserver

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/coregx/wsreactor/internal/reactor"
	"github.com/coregx/wsreactor/internal/wslist"
	"github.com/coregx/wsreactor/wsconn"
	"github.com/coregx/wsreactor/wslog"
	"github.com/coregx/wsreactor/wsproto"
)

// ErrAtCapacity is returned to the log (not to callers) when an accept
// arrives with no free slot. Exported so tests can assert on the
// logged condition without string-matching a log line.
var ErrAtCapacity = errors.New("wsserver: at capacity")

// timer tokens identify which recurring sweep fired, dispatched through
// reactor.Loop's single timerFire callback.
type (
	stopWatchdogToken  struct{}
	heartbeatSendToken struct{}
	heartbeatExpToken  struct{}
	handshakeSweepTok  struct{}
)

// Server is a single-threaded reactor-driven WebSocket server. The zero
// value is not usable; construct with New.
type Server struct {
	opts Options
	log  *wslog.Logger

	loop   *reactor.Loop
	listFD int

	slots            []slot
	free             *wslist.List
	active           *wslist.List
	handshakePending *wslist.List
	heartbeatTracked *wslist.List

	stopping  atomic.Bool
	boundPort int
}

// Port returns the TCP port the server is bound to. If Options.Port was
// 0 (let the kernel choose), this reflects the actual assigned port
// after Listen returns successfully; it is meaningless before that.
func (s *Server) Port() int { return s.boundPort }

// New preallocates opts.MaxClients connection slots and builds the
// reactor loop. Listen must be called to actually bind and start
// serving.
func New(opts Options) (*Server, error) {
	if opts.MaxClients <= 0 {
		return nil, fmt.Errorf("wsserver: MaxClients must be positive")
	}
	log := opts.Logger
	if log == nil {
		nop := wslog.New(io.Discard, zerolog.Disabled)
		log = &nop
	}

	s := &Server{
		opts:   opts,
		log:    log,
		listFD: -1,
		slots:  make([]slot, opts.MaxClients),
	}
	s.free = wslist.New(s.freeAccessor())
	s.active = wslist.New(s.activeAccessor())
	s.handshakePending = wslist.New(s.handshakeAccessor())
	s.heartbeatTracked = wslist.New(s.heartbeatAccessor())

	for i := range s.slots {
		s.slots[i].fd = -1
		s.slots[i].ep = wsconn.NewServerEndpoint(opts.Settings, opts.Hooks, s.callbacksFor(i))
		s.free.PushBack(i)
	}

	loop, err := reactor.New(s.onTimer)
	if err != nil {
		return nil, err
	}
	s.loop = loop
	return s, nil
}

// callbacksFor builds the wsconn.Callbacks for slot i, wrapping the
// application's Handlers with the server's own bookkeeping (handshake-
// pending and heartbeat list movement) so user code and server internals
// both see every event without the user needing to call back into the
// server.
func (s *Server) callbacksFor(i int) wsconn.Callbacks {
	user := s.opts.Handlers
	return wsconn.Callbacks{
		OnOpen: func(e *wsconn.Endpoint) {
			s.onHandshakeComplete(i)
			if user.OnOpen != nil {
				user.OnOpen(e)
			}
		},
		OnMessage: func(e *wsconn.Endpoint, mt wsproto.MessageType, payload []byte) {
			if user.OnMessage != nil {
				user.OnMessage(e, mt, payload)
			}
		},
		OnPing: func(e *wsconn.Endpoint, payload []byte) {
			if user.OnPing != nil {
				user.OnPing(e, payload)
			}
		},
		OnPong: func(e *wsconn.Endpoint, payload []byte) {
			s.touchHeartbeat(i)
			if user.OnPong != nil {
				user.OnPong(e, payload)
			}
		},
		OnClose: func(e *wsconn.Endpoint, code wsproto.CloseCode, reason string) {
			if user.OnClose != nil {
				user.OnClose(e, code, reason)
			}
		},
	}
}

func nowMS() int64 { return time.Now().UnixMilli() }

// Listen binds and starts accepting connections, then runs the reactor
// loop until Stop is called and the active list drains. It blocks for
// the lifetime of the server.
func (s *Server) Listen() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("wsserver: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("wsserver: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := setNonblocking(fd); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("wsserver: set nonblocking: %w", err)
	}

	var addr unix.SockaddrInet4
	addr.Port = s.opts.Port
	copy(addr.Addr[:], parseIPv4(s.opts.BindAddr))
	if err := unix.Bind(fd, &addr); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("wsserver: bind: %w", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("wsserver: listen: %w", err)
	}

	s.listFD = fd
	if err := s.loop.Register(fd, reactor.InterestRead, s.onAcceptable); err != nil {
		_ = unix.Close(fd)
		return err
	}

	if bound, err := unix.Getsockname(fd); err == nil {
		if sa4, ok := bound.(*unix.SockaddrInet4); ok {
			s.boundPort = sa4.Port
		}
	}

	now := nowMS()
	s.loop.ScheduleTimer(now, SERVER_WATCHDOG_FREQ_MS, stopWatchdogToken{})
	if s.opts.HeartbeatIntervalMS > 0 {
		s.loop.ScheduleTimer(now, s.opts.HeartbeatIntervalMS, heartbeatSendToken{})
	}
	if s.opts.HandshakeTimeoutMS > 0 {
		s.loop.ScheduleTimer(now, handshakeSweepFreqMS, handshakeSweepTok{})
	}

	s.log.Info().Int("port", s.boundPort).Int("max_clients", s.opts.MaxClients).Msg("wsserver: listening")

	for {
		if err := s.loop.RunOnce(nowMS()); err != nil {
			return err
		}
		if s.stopping.Load() && s.active.Len() == 0 {
			return nil
		}
	}
}

// parseIPv4 parses a dotted-quad bind address, defaulting to 0.0.0.0 for
// an empty string (listen on all interfaces) — deliberately minimal,
// since full address parsing (IPv6, hostnames) is out of scope.
func parseIPv4(addr string) [4]byte {
	if addr == "" {
		return [4]byte{0, 0, 0, 0}
	}
	var out [4]byte
	var part, idx int
	for i := 0; i < len(addr); i++ {
		c := addr[i]
		if c == '.' {
			out[idx] = byte(part)
			idx++
			part = 0
			continue
		}
		part = part*10 + int(c-'0')
	}
	out[idx] = byte(part)
	return out
}

// Stop requests a graceful shutdown: the next stop-watchdog tick stops
// accepting new connections, sends a close frame (code 1001) to every
// active connection, and Listen returns once the active list empties.
// Safe to call from a signal handler — it only flips a flag the
// watchdog polls.
func (s *Server) Stop() {
	s.stopping.Store(true)
}

// Close releases the listening socket and the epoll instance. Call
// after Listen returns.
func (s *Server) Close() error {
	if s.listFD >= 0 {
		_ = s.loop.Unregister(s.listFD)
		_ = unix.Close(s.listFD)
		s.listFD = -1
	}
	return s.loop.Close()
}

// Broadcast enqueues payload as a binary message to every active
// connection. Per-connection send failures are handled the same as any
// other write error on that connection's next Write.
func (s *Server) Broadcast(payload []byte) {
	for i := s.active.Front(); i != -1; i = s.active.Next(i) {
		_ = s.slots[i].ep.SendMessage(wsproto.BinaryMessage, payload)
		s.armWritable(i)
	}
}

// BroadcastText enqueues text as a text message to every active
// connection.
func (s *Server) BroadcastText(text string) {
	for i := s.active.Front(); i != -1; i = s.active.Next(i) {
		_ = s.slots[i].ep.SendMessage(wsproto.TextMessage, []byte(text))
		s.armWritable(i)
	}
}

// connLog returns a logger pre-tagged with slot i's connection ID and
// remote address, so every line a connection produces can be filtered
// on a single field.
func (s *Server) connLog(i int) wslog.Logger {
	sl := &s.slots[i]
	return wslog.Conn(*s.log, sl.ep.ID(), sl.remoteAddr)
}

// sockaddrString renders a Sockaddr as host:port for logging. Only
// AF_INET is meaningful here since Listen only ever binds IPv4.
func sockaddrString(sa unix.Sockaddr) string {
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.%d:%d", sa4.Addr[0], sa4.Addr[1], sa4.Addr[2], sa4.Addr[3], sa4.Port)
}

func (s *Server) armWritable(i int) {
	if s.slots[i].ep.PendingWrite() {
		_ = s.loop.Modify(s.slots[i].fd, reactor.InterestRead|reactor.InterestWrite)
	}
}
