package wsproto

import (
	"encoding/binary"

	"github.com/coregx/wsreactor/internal/wsbuf"
)

// EventKind classifies what a Parser.Next call produced.
type EventKind int

const (
	// EvNeedMore means the buffer does not yet hold a complete frame; the
	// caller must read more bytes and call Next again.
	EvNeedMore EventKind = iota

	// EvContinue means a fragment (FIN=0 data frame, or the first frame of
	// a still-incomplete message) was consumed and compacted; no
	// application event is ready yet, but there may be more frames
	// already buffered, so the caller should call Next again immediately.
	EvContinue

	// EvControlFrame means a complete control frame (close/ping/pong) was
	// parsed. Event.Opcode and Event.Payload describe it.
	EvControlFrame

	// EvMessageFinished means a complete application message (possibly
	// reassembled from several fragments) is ready at Event.Payload.
	// After handling it, the caller MUST call Parser.Commit to drop the
	// consumed bytes from the buffer and reset fragmentation state.
	EvMessageFinished

	// EvFail means a protocol violation was found. Event.Err carries the
	// close code to report; the connection must not continue reading.
	EvFail
)

// Event is the result of one Parser.Next call.
type Event struct {
	Kind    EventKind
	Opcode  Opcode
	MsgType MessageType
	// Payload views into the buffer passed to Next. It is only valid until
	// the next mutating call on that buffer (Commit, or another Next that
	// advances past it).
	Payload []byte
	Err     *ProtocolError
}

// frameHeader is the fixed-size decode of a frame's first two bytes plus
// whatever extended-length/mask-key fields follow.
type frameHeader struct {
	fin        bool
	opcode     Opcode
	masked     bool
	payloadLen int64
	// headerLen is the total size of header+extended-length+mask-key, i.e.
	// the offset at which payload bytes begin.
	headerLen int
}

// Parser is the incremental, buffer-driven frame decoder. It never
// blocks: every method either returns an Event or EvNeedMore, leaving
// the buffer untouched when more input is required. The zero value is
// not usable; construct with NewParser.
type Parser struct {
	role     Role
	settings Settings

	// msgType, accumulated, fragCount and utf8 track an in-progress
	// fragmented (or single-frame) message. accumulated bytes always live
	// at buffer offset [0, accumulated) — see wsbuf.Buffer.Collapse.
	msgType     MessageType
	accumulated int
	fragCount   int64
	utf8        UTF8State
}

// NewParser constructs a Parser enforcing role's masking rules under the
// given settings.
func NewParser(role Role, settings Settings) *Parser {
	return &Parser{role: role, settings: settings}
}

// Reset clears in-progress fragmentation state, e.g. after a connection is
// torn down and its Parser is recycled for a new connection drawn from a
// preallocated slot table.
func (p *Parser) Reset() {
	p.msgType = MessageNone
	p.accumulated = 0
	p.fragCount = 0
	p.utf8 = UTF8State{}
}

// Commit drops the accumulated message payload from buf after the caller
// has finished with the EvMessageFinished Event.Payload, and resets
// fragmentation state for the next message.
func (p *Parser) Commit(buf *wsbuf.Buffer) {
	buf.SliceOff(p.accumulated)
	p.msgType = MessageNone
	p.accumulated = 0
	p.fragCount = 0
	p.utf8 = UTF8State{}
}

// Next attempts to parse one frame out of buf, starting at the
// already-accumulated offset. See the EventKind docs for how to drive the
// loop: callers should call Next in a loop until it returns something
// other than EvContinue.
func (p *Parser) Next(buf *wsbuf.Buffer) Event {
	base := p.accumulated
	raw := buf.Bytes()

	hdr, ok, failErr := decodeHeader(raw[base:], p.role)
	if failErr != nil {
		return Event{Kind: EvFail, Err: failErr}
	}
	if !ok {
		return Event{Kind: EvNeedMore}
	}

	// Early size-cap check: reject a hostile declared length before
	// waiting for the (possibly huge, possibly slow-trickling) payload
	// to actually arrive.
	if IsDataFrame(hdr.opcode) {
		projected := int64(p.accumulated) + hdr.payloadLen
		if !withinInt64Cap(projected, p.settings.ReadMaxMsgSize) {
			return Event{Kind: EvFail, Err: newProtoErr(CloseMessageTooBig, ErrMessageTooLarge)}
		}
	}

	total := hdr.headerLen + int(hdr.payloadLen)
	if len(raw)-base < total {
		return Event{Kind: EvNeedMore}
	}

	payloadStart := base + hdr.headerLen
	payload := raw[payloadStart : payloadStart+int(hdr.payloadLen)]
	if hdr.masked {
		var key [4]byte
		copy(key[:], raw[payloadStart-4:payloadStart])
		applyMask(payload, key)
	}

	if IsControlFrame(hdr.opcode) {
		return p.handleControlFrame(buf, base, total, hdr, payload)
	}
	return p.handleDataFrame(buf, base, hdr, payloadStart, payload)
}

func (p *Parser) handleControlFrame(buf *wsbuf.Buffer, base, total int, hdr frameHeader, payload []byte) Event {
	if hdr.opcode == OpClose && len(payload) >= 2 {
		code := CloseCode(binary.BigEndian.Uint16(payload[:2]))
		if reservedCloseCode(code) {
			return Event{Kind: EvFail, Err: newProtoErr(CloseProtocolError, ErrInvalidCloseCode)}
		}
		if len(payload) > 2 {
			if offset := (&UTF8State{}).ValidateIncremental(payload[2:]); offset != -1 {
				return Event{Kind: EvFail, Err: newProtoErr(CloseInvalidFramePayloadData, ErrInvalidUTF8)}
			}
		}
	}

	out := make([]byte, len(payload))
	copy(out, payload)
	buf.Collapse(base, base+total)
	return Event{Kind: EvControlFrame, Opcode: hdr.opcode, Payload: out}
}

func (p *Parser) handleDataFrame(buf *wsbuf.Buffer, base int, hdr frameHeader, payloadStart int, payload []byte) Event {
	switch hdr.opcode {
	case OpContinuation:
		if p.msgType == MessageNone {
			return Event{Kind: EvFail, Err: newProtoErr(CloseProtocolError, ErrUnexpectedContinuation)}
		}
		p.fragCount++
		if !withinInt64Cap(p.fragCount, p.settings.ReadMaxNumFrames) {
			return Event{Kind: EvFail, Err: newProtoErr(CloseMessageTooBig, ErrTooManyFragments)}
		}
	case OpText, OpBinary:
		if p.msgType != MessageNone {
			return Event{Kind: EvFail, Err: newProtoErr(CloseProtocolError, ErrExpectedContinuation)}
		}
		p.msgType = TextMessage
		if hdr.opcode == OpBinary {
			p.msgType = BinaryMessage
		}
		p.fragCount = 1
	}

	if p.msgType == TextMessage {
		if offset := p.utf8.ValidateIncremental(payload); offset != -1 {
			return Event{Kind: EvFail, Err: newProtoErr(CloseInvalidFramePayloadData, ErrInvalidUTF8)}
		}
	}

	// Strip header+mask overhead so payload lands contiguous with whatever
	// is already accumulated at buffer offset 0.
	buf.Collapse(base, payloadStart)
	p.accumulated += len(payload)

	if !hdr.fin {
		return Event{Kind: EvContinue}
	}

	if p.msgType == TextMessage && !p.utf8.Accepting() {
		return Event{Kind: EvFail, Err: newProtoErr(CloseInvalidFramePayloadData, ErrInvalidUTF8)}
	}

	return Event{Kind: EvMessageFinished, MsgType: p.msgType, Payload: buf.Region(0, p.accumulated)}
}

// decodeHeader decodes a frame header starting at raw[0:]. It returns
// ok=false (no error) when raw does not yet hold enough bytes to decode the
// header, and a non-nil error for any RFC 6455 violation detectable from
// the header alone.
func decodeHeader(raw []byte, role Role) (frameHeader, bool, *ProtocolError) {
	if len(raw) < 2 {
		return frameHeader{}, false, nil
	}

	b0, b1 := raw[0], raw[1]
	fin := b0&0x80 != 0
	rsv := b0 & 0x70
	opcode := Opcode(b0 & 0x0F)
	masked := b1&0x80 != 0
	lenField := int(b1 & 0x7F)

	if rsv != 0 {
		return frameHeader{}, false, newProtoErr(CloseProtocolError, ErrReservedBits)
	}
	if !IsValidOpcode(opcode) {
		return frameHeader{}, false, newProtoErr(CloseProtocolError, ErrInvalidOpcode)
	}
	if IsControlFrame(opcode) && !fin {
		return frameHeader{}, false, newProtoErr(CloseProtocolError, ErrControlFragmented)
	}

	wantMasked := role == RoleServer
	if masked != wantMasked {
		if wantMasked {
			return frameHeader{}, false, newProtoErr(CloseProtocolError, ErrMaskRequired)
		}
		return frameHeader{}, false, newProtoErr(CloseProtocolError, ErrMaskUnexpected)
	}

	off := 2
	var payloadLen int64
	switch {
	case lenField <= 125:
		payloadLen = int64(lenField)
	case lenField == 126:
		if len(raw) < off+2 {
			return frameHeader{}, false, nil
		}
		payloadLen = int64(binary.BigEndian.Uint16(raw[off:]))
		off += 2
	default: // 127
		if len(raw) < off+8 {
			return frameHeader{}, false, nil
		}
		payloadLen = int64(binary.BigEndian.Uint64(raw[off:]))
		off += 8
	}

	if IsControlFrame(opcode) && payloadLen > 125 {
		return frameHeader{}, false, newProtoErr(CloseProtocolError, ErrControlTooLarge)
	}

	if masked {
		if len(raw) < off+4 {
			return frameHeader{}, false, nil
		}
		off += 4
	}

	return frameHeader{
		fin:        fin,
		opcode:     opcode,
		masked:     masked,
		payloadLen: payloadLen,
		headerLen:  off,
	}, true, nil
}

// applyMask XORs data in place with the repeating 4-byte mask key, per RFC
// 6455 Section 5.3.
func applyMask(data []byte, mask [4]byte) {
	for i := range data {
		data[i] ^= mask[i%4]
	}
}
