// Package wsclient implements the active-connect side of the protocol:
// a non-blocking TCP connect verified via SO_ERROR, followed by the
// same wsconn.Endpoint state machine used on the server, with
// role = client. The caller owns the event loop — Client exposes FD,
// Read, and Write for the caller to drive from its own poller (or
// reuse internal/reactor directly, as wsserver does).
package wsclient

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/coregx/wsreactor/wsconn"
	"github.com/coregx/wsreactor/wslog"
	"github.com/coregx/wsreactor/wsproto"
)

// Client is one active WebSocket connection. The zero value is not
// usable; construct with Dial.
type Client struct {
	fd        int
	ep        *wsconn.Endpoint
	connected bool
	log       wslog.Logger
}

// Dial opens a non-blocking socket and issues connect(2), expecting
// EINPROGRESS. It returns immediately — the underlying TCP connection
// may still be in progress — so the caller must arm writable readiness
// on FD() and call Write until it returns something other than
// wsconn.WriteContinue with no error; the first Write verifies
// SO_ERROR and only then flushes the already-queued handshake request.
func Dial(opts Options, handlers wsconn.Callbacks) (*Client, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("wsclient: socket: %w", err)
	}
	if err := setNonblocking(fd); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("wsclient: set nonblocking: %w", err)
	}

	var addr unix.SockaddrInet4
	addr.Port = opts.Port
	copy(addr.Addr[:], parseIPv4(opts.IP))

	connected := false
	if err := unix.Connect(fd, &addr); err != nil {
		if err != unix.EINPROGRESS {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("wsclient: connect: %w", err)
		}
	} else {
		connected = true
	}

	cfg := wsconn.ClientConfig{Host: opts.Host, Target: opts.Target, Subprotocols: opts.Subprotocols}
	ep := wsconn.NewClientEndpoint(opts.Settings, cfg, handlers)

	base := opts.Logger
	if base == nil {
		nop := wslog.New(io.Discard, zerolog.Disabled)
		base = &nop
	}
	remoteAddr := fmt.Sprintf("%s:%d", opts.IP, opts.Port)
	log := wslog.Conn(*base, ep.ID(), remoteAddr)
	log.Info().Bool("in_progress", !connected).Msg("wsclient: dialing")

	return &Client{fd: fd, ep: ep, connected: connected, log: log}, nil
}

// FD returns the underlying socket descriptor, for registration with
// the caller's own poller.
func (c *Client) FD() int { return c.fd }

// Endpoint exposes the underlying protocol state machine for
// SendMessage/SendPing/SendPong/Close/Subprotocol/Extension/UserData —
// everything that isn't connect-specific.
func (c *Client) Endpoint() *wsconn.Endpoint { return c.ep }

// Write verifies the non-blocking connect's outcome on its first call
// (via SO_ERROR), then flushes the endpoint's write buffer — the
// already-queued handshake request on the very first successful call,
// application data or close frames afterward.
func (c *Client) Write() (wsconn.WriteOutcome, error) {
	if !c.connected {
		if err := c.verifyConnected(); err != nil {
			return wsconn.WriteClosed, err
		}
	}
	return c.ep.Write(fdIO{c.fd})
}

// verifyConnected checks SO_ERROR once the socket first reports
// writable, per the standard non-blocking connect idiom: writable
// alone doesn't mean connected, since a failed connect also wakes the
// writer.
func (c *Client) verifyConnected() error {
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("wsclient: getsockopt SO_ERROR: %w", err)
	}
	if errno != 0 {
		connErr := unix.Errno(errno)
		c.log.Warn().Err(connErr).Msg("wsclient: connect failed")
		return fmt.Errorf("wsclient: connect failed: %w", connErr)
	}
	c.connected = true
	c.log.Info().Msg("wsclient: connected")
	return nil
}

// Read pulls and processes whatever is available on the socket. Only
// meaningful once the connect has been verified by a prior Write; the
// caller should not arm read readiness before that.
func (c *Client) Read() error {
	return c.ep.Read(fdIO{c.fd})
}

// Disconnect initiates the closing handshake. The caller must keep
// driving Write until the endpoint closes (wsconn.WriteClosed), then
// call Close to release the socket.
func (c *Client) Disconnect() error {
	c.log.Info().Msg("wsclient: closing")
	return c.ep.Close(wsproto.CloseNormalClosure, "")
}

// Close releases the socket. Safe to call once the endpoint has
// reached wsconn.StateClosed, or to force an immediate teardown
// without a graceful close exchange.
func (c *Client) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

// parseIPv4 parses a dotted-quad remote address — deliberately minimal,
// matching wsserver's bind-address parser; full address parsing (IPv6,
// DNS resolution) is out of scope.
func parseIPv4(addr string) [4]byte {
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
