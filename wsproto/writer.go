package wsproto

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/coregx/wsreactor/internal/wsbuf"
)

// Writer serializes outgoing messages and control frames into a
// wsbuf.Buffer, applying client-side masking when role is RoleClient. The
// zero value is not usable; construct with NewWriter.
type Writer struct {
	role Role
	rand func(b []byte)
}

// NewWriter constructs a Writer for role. rand fills client masking keys;
// it is ignored for RoleServer.
func NewWriter(role Role, rand func(b []byte)) *Writer {
	return &Writer{role: role, rand: rand}
}

// WriteMessage serializes a complete application message into out,
// splitting it into ceil(len(payload)/maxFrameSize) frames (maxFrameSize
// <= 0 or Unlimited means a single frame regardless of size). Text
// messages are validated as UTF-8 upfront, since the whole message is
// already in hand.
func (w *Writer) WriteMessage(out *wsbuf.Buffer, mt MessageType, payload []byte, maxFrameSize int64) error {
	if mt == TextMessage && !utf8.Valid(payload) {
		return newProtoErr(CloseInvalidFramePayloadData, ErrInvalidUTF8)
	}

	opcode := OpBinary
	if mt == TextMessage {
		opcode = OpText
	}

	chunk := len(payload)
	if maxFrameSize > 0 && int64(chunk) > maxFrameSize {
		chunk = int(maxFrameSize)
	}
	if chunk == 0 {
		w.writeFrame(out, opcode, true, payload)
		return nil
	}

	first := true
	for len(payload) > 0 {
		n := chunk
		if n > len(payload) {
			n = len(payload)
		}
		piece := payload[:n]
		payload = payload[n:]
		fin := len(payload) == 0

		op := opcode
		if !first {
			op = OpContinuation
		}
		w.writeFrame(out, op, fin, piece)
		first = false
	}
	return nil
}

// WriteControl serializes a control frame (close/ping/pong). payload must
// be <= 125 bytes (RFC 6455 Section 5.5); control frames are never
// fragmented.
func (w *Writer) WriteControl(out *wsbuf.Buffer, opcode Opcode, payload []byte) error {
	if len(payload) > 125 {
		return newProtoErr(CloseProtocolError, ErrControlTooLarge)
	}
	w.writeFrame(out, opcode, true, payload)
	return nil
}

// WriteCloseFrame builds a close control frame carrying code and an
// optional UTF-8 reason, per RFC 6455 Section 5.5.1.
func (w *Writer) WriteCloseFrame(out *wsbuf.Buffer, code CloseCode, reason string) error {
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(code))
	copy(payload[2:], reason)
	return w.WriteControl(out, OpClose, payload)
}

// writeFrame appends a single frame (header, extended length, mask key if
// client, and payload) to out.
func (w *Writer) writeFrame(out *wsbuf.Buffer, opcode Opcode, fin bool, payload []byte) {
	masked := w.role == RoleClient

	var b0 byte = byte(opcode)
	if fin {
		b0 |= 0x80
	}

	n := len(payload)
	var b1 byte
	switch {
	case n <= 125:
		b1 = byte(n)
	case n <= 0xFFFF:
		b1 = 126
	default:
		b1 = 127
	}
	if masked {
		b1 |= 0x80
	}

	out.Append([]byte{b0, b1})
	switch {
	case n <= 125:
	case n <= 0xFFFF:
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(n))
		out.Append(ext[:])
	default:
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		out.Append(ext[:])
	}

	if masked {
		keyDst := out.Grow(4)
		var key [4]byte
		w.rand(key[:])
		copy(keyDst, key[:])

		dst := out.Grow(n)
		copy(dst, payload)
		applyMask(dst, key)
		return
	}

	dst := out.Grow(n)
	copy(dst, payload)
}
