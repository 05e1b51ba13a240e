package wsclient

import (
	"github.com/coregx/wsreactor/wslog"
	"github.com/coregx/wsreactor/wsproto"
)

// Options configures a client connection's target and handshake
// request. The zero value connects to 0.0.0.0:0 with an empty
// Host/Target, which is never useful — callers always set at least IP,
// Port, and Host.
type Options struct {
	// IP is the dotted-quad remote address to connect to.
	IP string
	// Port is the remote TCP port.
	Port int

	// Host is sent as the handshake request's Host header.
	Host string
	// Target is the request path (and query), e.g. "/chat".
	Target string
	// Subprotocols are offered via Sec-WebSocket-Protocol, in preference
	// order.
	Subprotocols []string

	// Settings configures the endpoint's buffers and frame/message caps.
	Settings wsproto.Settings

	// Logger receives structured connection-lifecycle events. A nil
	// Logger falls back to a disabled logger (zerolog.Nop()).
	Logger *wslog.Logger
}
