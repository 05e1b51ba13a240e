// Package wslog wraps github.com/rs/zerolog with the handful of
// structured fields wsserver and wsclient attach to every connection
// log line: a stable connection ID and the remote address, so a log
// aggregator can group a connection's whole lifecycle
// by a single field.
package wslog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is a thin alias so callers don't need to import zerolog
// directly just to hold a reference.
type Logger = zerolog.Logger

// New builds a logger writing to w (os.Stderr if nil) at the given
// level. Production callers typically pass os.Stderr; tests pass an
// io.Writer they can inspect.
func New(w io.Writer, level zerolog.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Conn returns a child logger scoped to one connection, tagging every
// subsequent line with conn_id and remote_addr so a reader can filter
// on a single connection's lifecycle across accept, handshake,
// messages, and close.
func Conn(base Logger, connID, remoteAddr string) Logger {
	return base.With().
		Str("conn_id", connID).
		Str("remote_addr", remoteAddr).
		Logger()
}
