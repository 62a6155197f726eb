package framer

import (
	"encoding/binary"

	"github.com/serhmarch/gomodbuslib/status"
)

// TCPBufferSize is the wire buffer the port reserves for this framing
// (spec.md §3: 268 B).
const TCPBufferSize = 268

// MBAPSize is the fixed MBAP header length.
const MBAPSize = 7

// MaxTCPPayload is the largest PDU payload (func + data) TCP framing can
// carry given TCPBufferSize.
const MaxTCPPayload = TCPBufferSize - MBAPSize - 1

// TCP implements the framer.Framer trait for MBAP-prefixed TCP framing. It
// is stateful: it tracks the client-side outbound transaction id counter and
// the server-side id to echo back, so one TCP value must be owned by exactly
// one port (matching the "Exclusively owned by one client object" /
// per-connection-port invariants in spec.md §3).
type TCP struct {
	nextID       uint16
	lastOutbound uint16
	lastInbound  uint16
	haveOutbound bool
}

// NewTCP returns a TCP framer with its transaction id counter starting at 1.
func NewTCP() *TCP {
	return &TCP{nextID: 1}
}

// EncodeRequest assigns the current transaction id counter to the frame and
// advances it by one, unless repeated is true, in which case the last
// outbound id is reused (the retrying-client case).
func (t *TCP) EncodeRequest(unit, function uint8, payload []byte, repeated bool) ([]byte, status.Code) {
	if len(payload)+1 > MaxTCPPayload {
		return nil, status.WriteBufferOverflow
	}
	id := t.nextID
	if repeated && t.haveOutbound {
		id = t.lastOutbound
	} else {
		t.nextID++ // wraps 0xFFFF -> 0 automatically (uint16)
	}
	t.lastOutbound = id
	t.haveOutbound = true
	return encodeMBAP(id, unit, function, payload), status.Good
}

// EncodeResponse echoes the transaction id of the last request decoded by
// DecodeRequest.
func (t *TCP) EncodeResponse(unit, function uint8, payload []byte) ([]byte, status.Code) {
	if len(payload)+1 > MaxTCPPayload {
		return nil, status.WriteBufferOverflow
	}
	return encodeMBAP(t.lastInbound, unit, function, payload), status.Good
}

func encodeMBAP(transID uint16, unit, function uint8, payload []byte) []byte {
	length := 1 + 1 + len(payload) // unit + func + payload
	frame := make([]byte, MBAPSize+1+len(payload))
	binary.BigEndian.PutUint16(frame[0:2], transID)
	binary.BigEndian.PutUint16(frame[2:4], 0) // protocol id, always 0
	binary.BigEndian.PutUint16(frame[4:6], uint16(length))
	frame[6] = unit
	frame[7] = function
	copy(frame[8:], payload)
	return frame
}

// DecodeResponse parses a client-side inbound TCP frame; the transaction id
// must equal the last outbound id.
func (t *TCP) DecodeResponse(data []byte, reqUnit, reqFunction uint8) (Frame, status.Code) {
	id, f, st := decodeMBAP(data)
	if !st.IsGood() {
		return Frame{}, st
	}
	if id != t.lastOutbound {
		return Frame{}, status.NotCorrectResponse
	}
	if f.Function&0x80 != 0 {
		if len(data) <= MBAPSize+1 {
			return Frame{}, status.NotCorrectResponse
		}
		if len(f.Payload) < 1 {
			return Frame{}, status.NotCorrectResponse
		}
		return f, status.FromExceptionByte(f.Payload[0])
	}
	if f.Unit != reqUnit || f.Function != reqFunction {
		return Frame{}, status.NotCorrectResponse
	}
	return f, status.Good
}

// DecodeRequest parses a server-side inbound TCP frame and remembers its
// transaction id so EncodeResponse can echo it.
func (t *TCP) DecodeRequest(data []byte) (Frame, status.Code) {
	id, f, st := decodeMBAP(data)
	if !st.IsGood() {
		return Frame{}, st
	}
	t.lastInbound = id
	return f, status.Good
}

func decodeMBAP(data []byte) (uint16, Frame, status.Code) {
	if len(data) < MBAPSize+1 {
		return 0, Frame{}, status.ReadBufferOverflow
	}
	id := binary.BigEndian.Uint16(data[0:2])
	proto := binary.BigEndian.Uint16(data[2:4])
	length := binary.BigEndian.Uint16(data[4:6])
	unit := data[6]

	if proto != 0 {
		return 0, Frame{}, status.NotCorrectResponse
	}
	if int(length) != len(data)-6 {
		return 0, Frame{}, status.NotCorrectResponse
	}

	function := data[7]
	payload := append([]byte(nil), data[8:]...)
	return id, Frame{Unit: unit, Function: function, Payload: payload}, status.Good
}

// MaxPayload reports the maximum TCP PDU payload size.
func (t *TCP) MaxPayload() int { return MaxTCPPayload - 1 }
