package wsconn

import (
	"encoding/base64"
	"encoding/binary"
	"errors"

	"github.com/google/uuid"

	"github.com/coregx/wsreactor/internal/wsbuf"
	"github.com/coregx/wsreactor/internal/xrand"
	"github.com/coregx/wsreactor/wsproto"
)

// State is the endpoint's protocol connection state.
type State int

const (
	StateReadHandshake State = iota
	StateWriteHandshake
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReadHandshake:
		return "READ_HANDSHAKE"
	case StateWriteHandshake:
		return "WRITE_HANDSHAKE"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// WriteOutcome is the result of a Write call, telling the reactor whether
// to keep writable readiness armed, disarm it, or release the fd.
type WriteOutcome int

const (
	WriteContinue WriteOutcome = iota // partial: more buffered bytes remain
	WriteDone                         // drained: disarm writable readiness
	WriteClosed                       // close handshake complete: release fd
)

// Callbacks is the per-role capability set an application supplies to an
// Endpoint. Any field may be nil.
type Callbacks struct {
	OnOpen    func(e *Endpoint)
	OnMessage func(e *Endpoint, mt wsproto.MessageType, payload []byte)
	OnPing    func(e *Endpoint, payload []byte)
	OnPong    func(e *Endpoint, payload []byte)
	// OnClose is always invoked exactly once per connection.
	OnClose func(e *Endpoint, code wsproto.CloseCode, reason string)
}

// ServerHooks configures the server-side opening handshake. All fields
// optional.
type ServerHooks struct {
	// Subprotocols are advertised in server-preference order.
	Subprotocols []string
	// CheckOrigin validates the request's Origin header. nil accepts any
	// origin (including none).
	CheckOrigin func(origin string) bool
	// OnConnect is called once the handshake request is parsed and
	// structurally valid; returning false rejects the connection (closed
	// with code 1002, no response sent).
	OnConnect func(req *wsproto.Request) bool
}

// ClientConfig configures the client-side opening handshake.
type ClientConfig struct {
	Host         string
	Target       string
	Subprotocols []string
}

// Endpoint is the per-connection state machine: wsproto's Parser/Writer
// bound to buffers, a write cursor, and the closing-handshake flags. The
// zero value is not usable; construct with NewServerEndpoint or
// NewClientEndpoint.
type Endpoint struct {
	role     wsproto.Role
	settings wsproto.Settings
	cb       Callbacks

	state State

	parser *wsproto.Parser
	writer *wsproto.Writer

	readBuf      *wsbuf.Buffer
	writeBuf     *wsbuf.Buffer
	handshakeBuf *wsbuf.Buffer
	writeCursor  int

	closeSendPending bool
	closeSent        bool
	closeReceived    bool
	shouldFail       bool

	lastCloseCode   wsproto.CloseCode
	lastCloseReason string

	subprotocol string
	extension   string
	headers     []wsproto.Header

	serverHooks ServerHooks
	clientCfg   ClientConfig
	stashedKey  string

	userdata any

	id string
}

// NewServerEndpoint constructs a server-role Endpoint awaiting an incoming
// handshake request.
func NewServerEndpoint(settings wsproto.Settings, hooks ServerHooks, cb Callbacks) *Endpoint {
	e := &Endpoint{role: wsproto.RoleServer, serverHooks: hooks, cb: cb}
	e.Init(settings)
	return e
}

// NewClientEndpoint constructs a client-role Endpoint that immediately
// queues an outgoing handshake request.
func NewClientEndpoint(settings wsproto.Settings, cfg ClientConfig, cb Callbacks) *Endpoint {
	e := &Endpoint{role: wsproto.RoleClient, clientCfg: cfg, cb: cb}
	e.Init(settings)
	return e
}

// Init (re)initializes the endpoint for settings, allocating buffers at
// settings.InitBufLen and clearing protocol state. Used both by the
// constructors and to recycle a slot for a new connection.
func (e *Endpoint) Init(settings wsproto.Settings) {
	if settings.RandFunc == nil {
		settings.RandFunc = xrand.Deterministic(1)
	}
	e.settings = settings
	e.parser = wsproto.NewParser(e.role, settings)
	e.writer = wsproto.NewWriter(e.role, settings.RandFunc)
	e.readBuf = wsbuf.New(settings.InitBufLen)
	e.writeBuf = wsbuf.New(settings.InitBufLen)
	e.handshakeBuf = wsbuf.New(settings.InitBufLen)
	e.readBuf.Clear()
	e.writeBuf.Clear()
	e.handshakeBuf.Clear()
	e.writeCursor = 0
	e.closeSendPending = false
	e.closeSent = false
	e.closeReceived = false
	e.shouldFail = false
	e.lastCloseCode = 0
	e.lastCloseReason = ""
	e.subprotocol = ""
	e.extension = ""
	e.headers = nil
	e.stashedKey = ""
	e.id = uuid.NewString()

	if e.role == wsproto.RoleServer {
		e.state = StateReadHandshake
		return
	}

	key := make([]byte, 16)
	if e.settings.RandFunc != nil {
		e.settings.RandFunc(key)
	}
	e.stashedKey = base64.StdEncoding.EncodeToString(key)
	req := wsproto.BuildUpgradeRequest(e.clientCfg.Host, e.clientCfg.Target, e.stashedKey, e.clientCfg.Subprotocols)
	e.writeBuf.Append(req)
	e.state = StateWriteHandshake
}

// Reset scrubs connection state for slot reuse while keeping the
// already-allocated buffers.
func (e *Endpoint) Reset() {
	e.parser.Reset()
	e.readBuf.Clear()
	e.writeBuf.Clear()
	e.handshakeBuf.Clear()
	e.writeCursor = 0
	e.closeSendPending = false
	e.closeSent = false
	e.closeReceived = false
	e.shouldFail = false
	e.lastCloseCode = 0
	e.lastCloseReason = ""
	e.subprotocol = ""
	e.extension = ""
	e.headers = nil
	e.stashedKey = ""
	e.id = uuid.NewString()
	if e.role == wsproto.RoleServer {
		e.state = StateReadHandshake
	}
}

// ID returns a trace identifier unique to this connection's current
// occupancy of its slot — regenerated on every Init/Reset so a recycled
// slot never reuses its previous connection's ID. Intended for log
// correlation, not wire protocol use.
func (e *Endpoint) ID() string { return e.id }

// State reports the endpoint's current protocol state.
func (e *Endpoint) State() State { return e.state }

// Done reports whether the close handshake has completed and the fd may
// be released.
func (e *Endpoint) Done() bool { return e.state == StateClosed }

// PendingWrite reports whether there are buffered bytes not yet flushed,
// i.e. whether the reactor should keep writable readiness armed.
func (e *Endpoint) PendingWrite() bool { return e.writeCursor < e.writeBuf.Len() }

// Subprotocol returns the negotiated subprotocol, or "" if none.
func (e *Endpoint) Subprotocol() string { return e.subprotocol }

// Extension returns the negotiated (pass-through) extension token, or ""
// if none.
func (e *Endpoint) Extension() string { return e.extension }

// HeaderValues returns every value for a handshake header name
// (case-insensitive), in the order they appeared.
func (e *Endpoint) HeaderValues(name string) []string {
	var out []string
	for _, h := range e.headers {
		if equalFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// UserData returns the opaque value SetUserData last stored.
func (e *Endpoint) UserData() any { return e.userdata }

// SetUserData stores an opaque value the application can retrieve later
// via UserData.
func (e *Endpoint) SetUserData(v any) { e.userdata = v }

// SendMessage enqueues a complete application message for sending.
// Silently dropped once the closing handshake has started.
func (e *Endpoint) SendMessage(mt wsproto.MessageType, payload []byte) error {
	if e.closeSendPending {
		return nil
	}
	return e.writer.WriteMessage(e.writeBuf, mt, payload, e.settings.WriteMaxFrameSize)
}

// SendPing enqueues a ping control frame.
func (e *Endpoint) SendPing(payload []byte) error {
	if e.closeSendPending {
		return nil
	}
	return e.writer.WriteControl(e.writeBuf, wsproto.OpPing, payload)
}

// SendPong enqueues a pong control frame.
func (e *Endpoint) SendPong(payload []byte) error {
	if e.closeSendPending {
		return nil
	}
	return e.writer.WriteControl(e.writeBuf, wsproto.OpPong, payload)
}

// Close initiates the closing handshake. Calling it more than once is a
// no-op: only the first close frame is ever sent.
func (e *Endpoint) Close(code wsproto.CloseCode, reason string) error {
	if e.closeSendPending {
		return nil
	}
	e.closeSendPending = true
	return e.writer.WriteCloseFrame(e.writeBuf, code, reason)
}

// Read pulls up to one chunk of bytes from src and drives the protocol
// state machine over whatever arrived. When src reports ErrWouldBlock (no
// data right now) Read returns nil, since that is not an error condition;
// a non-nil return means the peer connection is gone and the endpoint has already
// transitioned to StateClosed with OnClose invoked.
func (e *Endpoint) Read(src Reader) error {
	if e.state == StateClosed {
		return nil
	}

	dst := e.readBuf.Grow(readChunk)
	n, err := src.Read(dst)
	e.readBuf.Truncate(e.readBuf.Len() - (len(dst) - n))

	if n > 0 {
		e.drive()
	}

	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return nil
		}
		e.failAbnormally()
		return err
	}
	return nil
}

// Write flushes buffered bytes to dst starting at the write cursor. See
// WriteOutcome for what each result means to the caller.
func (e *Endpoint) Write(dst Writer) (WriteOutcome, error) {
	for e.writeCursor < e.writeBuf.Len() {
		end := e.writeCursor + writeChunk
		if end > e.writeBuf.Len() {
			end = e.writeBuf.Len()
		}
		n, err := dst.Write(e.writeBuf.Bytes()[e.writeCursor:end])
		e.writeCursor += n
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return WriteContinue, nil
			}
			e.failAbnormally()
			return WriteClosed, err
		}
		if n == 0 || e.writeCursor < e.writeBuf.Len() {
			// At most writeChunk bytes per call; writable readiness stays
			// armed and the caller calls Write again.
			return WriteContinue, nil
		}
	}

	e.writeBuf.Clear()
	e.writeCursor = 0

	if e.state == StateWriteHandshake {
		if e.role == wsproto.RoleServer {
			e.state = StateConnected
			if e.cb.OnOpen != nil {
				e.cb.OnOpen(e)
			}
			// A pipelining client may have sent frame bytes right after
			// the handshake request, already captured in handshakeBuf.
			if e.handshakeBuf.Len() > 0 {
				e.readBuf.Append(e.handshakeBuf.Bytes())
				e.handshakeBuf.Clear()
				e.driveFrames()
				if e.state == StateClosed {
					return WriteClosed, nil
				}
			}
			return WriteDone, nil
		}
		e.state = StateReadHandshake
		return WriteDone, nil
	}

	if e.closeSendPending && !e.closeSent {
		e.closeSent = true
	}
	// Complete the close handshake the moment we've sent our own close
	// frame AND either the peer has also closed or we're in the
	// drop-on-failure path — never wait for a peer close we ourselves
	// preempted by failing the connection.
	if e.closeSent && (e.closeReceived || e.shouldFail) {
		e.finishClose()
		return WriteClosed, nil
	}

	return WriteDone, nil
}

// drive runs the handshake or frame-parsing state machine over whatever
// bytes are currently buffered.
func (e *Endpoint) drive() {
	switch e.state {
	case StateReadHandshake:
		if e.role == wsproto.RoleServer {
			e.driveServerHandshake()
		} else {
			e.driveClientHandshakeResponse()
		}
	case StateConnected:
		e.driveFrames()
	case StateWriteHandshake, StateClosed:
		// Nothing to parse: still flushing the handshake response/request
		// or already torn down.
	}
}

func (e *Endpoint) driveServerHandshake() {
	e.handshakeBuf.Append(e.readBuf.Bytes())
	e.readBuf.Clear()

	req, n, perr := wsproto.ParseRequest(e.handshakeBuf.Bytes(), e.settings.MaxHandshakeSize)
	if perr != nil {
		e.failHandshake(perr.Code, perr.Error())
		return
	}
	if req == nil {
		return // incomplete; wait for more bytes
	}
	e.handshakeBuf.SliceOff(n)
	e.headers = req.Headers

	key, verr := wsproto.ValidateUpgradeRequest(req)
	if verr != nil {
		e.failHandshake(wsproto.CloseProtocolError, verr.Error())
		return
	}

	if e.serverHooks.CheckOrigin != nil && !e.serverHooks.CheckOrigin(req.Get("Origin")) {
		e.rejectHandshake()
		return
	}
	if e.serverHooks.OnConnect != nil && !e.serverHooks.OnConnect(req) {
		e.rejectHandshake()
		return
	}

	e.subprotocol = wsproto.NegotiateSubprotocol(req, e.serverHooks.Subprotocols)
	accept := wsproto.AcceptKey(key)
	e.writeBuf.Append(wsproto.BuildUpgradeResponse(accept, e.subprotocol, e.extension))
	e.state = StateWriteHandshake
}

func (e *Endpoint) driveClientHandshakeResponse() {
	e.handshakeBuf.Append(e.readBuf.Bytes())
	e.readBuf.Clear()

	resp, n, perr := wsproto.ParseResponse(e.handshakeBuf.Bytes(), e.settings.MaxHandshakeSize)
	if perr != nil {
		e.failHandshake(perr.Code, perr.Error())
		return
	}
	if resp == nil {
		return
	}
	e.handshakeBuf.SliceOff(n)
	e.headers = resp.Headers

	expected := wsproto.AcceptKey(e.stashedKey)
	if verr := wsproto.ValidateUpgradeResponse(resp, expected); verr != nil {
		e.failHandshake(wsproto.CloseProtocolError, verr.Error())
		return
	}

	e.subprotocol = resp.Get("Sec-WebSocket-Protocol")
	e.extension = resp.Get("Sec-WebSocket-Extensions")
	e.state = StateConnected
	if e.cb.OnOpen != nil {
		e.cb.OnOpen(e)
	}
	// Any bytes past the handshake terminator are already-arrived frame
	// data; feed them straight into the frame parser.
	if e.handshakeBuf.Len() > 0 {
		e.readBuf.Append(e.handshakeBuf.Bytes())
		e.handshakeBuf.Clear()
		e.driveFrames()
	}
}

// rejectHandshake drops a structurally valid but application-rejected
// handshake: no response is sent, the connection is simply failed with
// code 1002.
func (e *Endpoint) rejectHandshake() {
	e.shouldFail = true
	e.lastCloseCode = wsproto.CloseProtocolError
	e.state = StateClosed
	if e.cb.OnClose != nil {
		e.cb.OnClose(e, wsproto.CloseProtocolError, "")
	}
}

// failHandshake drops a structurally invalid or oversize handshake: the
// socket is simply closed, with no HTTP error response attempted.
func (e *Endpoint) failHandshake(code wsproto.CloseCode, reason string) {
	e.shouldFail = true
	e.lastCloseCode = code
	e.lastCloseReason = reason
	e.state = StateClosed
	if e.cb.OnClose != nil {
		e.cb.OnClose(e, code, reason)
	}
}

func (e *Endpoint) driveFrames() {
	for {
		ev := e.parser.Next(e.readBuf)
		switch ev.Kind {
		case wsproto.EvNeedMore:
			return
		case wsproto.EvContinue:
			continue
		case wsproto.EvControlFrame:
			e.handleControlFrame(ev)
			if e.state == StateClosed {
				return
			}
		case wsproto.EvMessageFinished:
			if e.cb.OnMessage != nil {
				e.cb.OnMessage(e, ev.MsgType, ev.Payload)
			}
			e.parser.Commit(e.readBuf)
		case wsproto.EvFail:
			e.failProtocol(ev.Err)
			return
		}
	}
}

func (e *Endpoint) handleControlFrame(ev wsproto.Event) {
	switch ev.Opcode {
	case wsproto.OpPing:
		if e.cb.OnPing != nil {
			e.cb.OnPing(e, ev.Payload)
		}
		// The auto-pong enqueue happens strictly after the user callback
		// returns, so any writes the callback itself made are ordered first.
		_ = e.SendPong(ev.Payload)
	case wsproto.OpPong:
		if e.cb.OnPong != nil {
			e.cb.OnPong(e, ev.Payload)
		}
	case wsproto.OpClose:
		e.handleIncomingClose(ev.Payload)
	}
}

func (e *Endpoint) handleIncomingClose(payload []byte) {
	code := wsproto.CloseNormalClosure
	reason := ""
	if len(payload) >= 2 {
		code = wsproto.CloseCode(binary.BigEndian.Uint16(payload[:2]))
		reason = string(payload[2:])
	}
	e.lastCloseCode = code
	e.lastCloseReason = reason
	e.closeReceived = true

	if !e.closeSendPending {
		e.closeSendPending = true
		_ = e.writer.WriteCloseFrame(e.writeBuf, code, reason)
		return
	}
	if e.closeSent {
		e.finishClose()
	}
	// else: our close is still queued/flushing; Write will finish once
	// closeSent flips true, since closeReceived is already set.
}

func (e *Endpoint) failProtocol(perr *wsproto.ProtocolError) {
	e.shouldFail = true
	if e.settings.FailByDrop {
		e.lastCloseCode = perr.Code
		e.lastCloseReason = perr.Error()
		e.state = StateClosed
		if e.cb.OnClose != nil {
			e.cb.OnClose(e, perr.Code, perr.Error())
		}
		return
	}
	if e.closeSendPending {
		return
	}
	e.closeSendPending = true
	e.lastCloseCode = perr.Code
	e.lastCloseReason = perr.Error()
	_ = e.writer.WriteCloseFrame(e.writeBuf, perr.Code, perr.Error())
}

func (e *Endpoint) finishClose() {
	e.state = StateClosed
	if e.cb.OnClose != nil {
		e.cb.OnClose(e, e.lastCloseCode, e.lastCloseReason)
	}
}

// ForceClose immediately tears down the endpoint without attempting a
// close handshake, invoking OnClose with code 0 and no reason. Used by
// supervisors (handshake timeout, heartbeat TTL expiry) that need to
// reclaim a connection unconditionally rather than wait on a graceful
// close exchange.
func (e *Endpoint) ForceClose() {
	e.failAbnormally()
}

// failAbnormally handles a socket I/O error or peer EOF: on_close fires
// with code 0 and no reason, since no close frame was ever exchanged.
func (e *Endpoint) failAbnormally() {
	if e.state == StateClosed {
		return
	}
	e.state = StateClosed
	e.lastCloseCode = 0
	e.lastCloseReason = ""
	if e.cb.OnClose != nil {
		e.cb.OnClose(e, 0, "")
	}
}
