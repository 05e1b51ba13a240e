package wsproto

// Role identifies which side of the connection a Parser enforces masking
// rules for (RFC 6455 Section 5.3): servers require masked inbound frames
// and emit unmasked frames; clients are the mirror image.
type Role int

const (
	// RoleServer accepts masked frames and emits unmasked frames.
	RoleServer Role = iota
	// RoleClient accepts unmasked frames and emits masked frames.
	RoleClient
)

// Unlimited is the sentinel for "no cap" on a Settings size field.
const Unlimited int64 = -1

// Settings enumerates the connection-level options an Endpoint is
// configured with. The zero value is not directly usable: a zero
// ReadMaxMsgSize caps messages at zero bytes, and a zero WriteMaxFrameSize
// sends every message as a single frame. DefaultSettings returns sane
// defaults.
type Settings struct {
	// WriteMaxFrameSize splits outgoing frames at this payload size.
	// Unlimited (-1) means no splitting.
	WriteMaxFrameSize int64

	// ReadMaxMsgSize caps a single accumulated message. Exceeding it fails
	// the connection with close code 1009. Unlimited (-1) disables the
	// cap.
	ReadMaxMsgSize int64

	// ReadMaxNumFrames caps the number of fragments a single message may
	// be split across. Exceeding it fails the connection with close code
	// 1009, enforced strictly. Unlimited (-1) disables the cap.
	ReadMaxNumFrames int64

	// MaxHandshakeSize caps the number of bytes consumed parsing the
	// upgrade request/response before giving up with ErrHandshakeTooLarge.
	MaxHandshakeSize int64

	// InitBufLen sizes the initial capacity of the read/write/handshake
	// buffers.
	InitBufLen int

	// FailByDrop skips the closing handshake on a protocol error: the
	// endpoint invokes OnClose and tears the socket down immediately
	// instead of sending a close frame first.
	FailByDrop bool

	// RandFunc fills b with random bytes, used to generate client masking
	// keys and (client-side) the handshake's Sec-WebSocket-Key. nil
	// selects a deterministic PRNG suitable for tests, never for
	// production use (see internal/xrand).
	RandFunc func(b []byte)
}

const (
	defaultWriteMaxFrameSize = 1 << 16 // 64 KiB per outgoing frame by default.
	defaultMaxHandshakeSize  = 8192
	defaultInitBufLen        = 4096
)

// DefaultSettings returns Settings with conservative defaults: unlimited
// message size, an 8 KiB handshake cap, and a 64 KiB default outgoing
// frame size.
func DefaultSettings() Settings {
	return Settings{
		WriteMaxFrameSize: defaultWriteMaxFrameSize,
		ReadMaxMsgSize:    Unlimited,
		ReadMaxNumFrames:  Unlimited,
		MaxHandshakeSize:  defaultMaxHandshakeSize,
		InitBufLen:        defaultInitBufLen,
	}
}

// withinInt64Cap reports whether v (a non-negative count) is within cap, or
// cap is Unlimited.
func withinInt64Cap(v, cap int64) bool {
	return cap == Unlimited || v <= cap
}
