package wsserver

import (
	"github.com/coregx/wsreactor/wsconn"
	"github.com/coregx/wsreactor/wslog"
	"github.com/coregx/wsreactor/wsproto"
)

// SERVER_WATCHDOG_FREQ_MS is how often the stop watchdog checks for a
// pending shutdown request.
const SERVER_WATCHDOG_FREQ_MS = 100

// handshakeSweepFreqMS is how often the handshake-pending list is swept
// for expired deadlines.
const handshakeSweepFreqMS = 300

// Options configures a Server. The zero value is not directly usable;
// NewOptions returns sane defaults. For the heartbeat/handshake-timeout
// fields 0 means "disabled"; wsproto.Settings instead uses Unlimited
// (-1) for "no cap".
type Options struct {
	// BindAddr is the address to listen on, e.g. "0.0.0.0" or "".
	BindAddr string
	// Port is the TCP port to listen on.
	Port int
	// MaxClients bounds the preallocated connection slot table. Accepts
	// beyond this limit are refused and the new fd closed immediately.
	MaxClients int

	// HeartbeatIntervalMS is how often a PING is sent to each connected
	// client. 0 disables heartbeats entirely.
	HeartbeatIntervalMS int64
	// HeartbeatTTLMS is how long a client has to reply with a PONG after
	// a heartbeat PING before being force-closed. Only meaningful when
	// HeartbeatIntervalMS > 0.
	HeartbeatTTLMS int64
	// HandshakeTimeoutMS bounds how long a connection may sit in
	// READ_HANDSHAKE/WRITE_HANDSHAKE before being force-closed. 0
	// disables the timeout.
	HandshakeTimeoutMS int64

	// Settings configures every accepted endpoint (buffer sizes,
	// frame/message caps, masking RNG).
	Settings wsproto.Settings
	// Hooks configures the server-side opening handshake (subprotocol
	// list, origin check, connect-accept hook).
	Hooks wsconn.ServerHooks
	// Handlers are the per-connection callbacks dispatched for every
	// accepted endpoint.
	Handlers wsconn.Callbacks

	// Logger receives structured connection-lifecycle events. A nil
	// Logger falls back to a disabled logger (zerolog.Nop()).
	Logger *wslog.Logger
}

// NewOptions returns Options with conservative defaults: 1024 client
// slots, no heartbeats, a 10s handshake timeout, and DefaultSettings.
func NewOptions(bindAddr string, port int) Options {
	return Options{
		BindAddr:           bindAddr,
		Port:               port,
		MaxClients:         1024,
		HandshakeTimeoutMS: 10_000,
		Settings:           wsproto.DefaultSettings(),
	}
}
