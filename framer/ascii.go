package framer

import (
	"github.com/serhmarch/gomodbuslib/status"
	"github.com/serhmarch/gomodbuslib/wire"
)

// AsciiBufferSize is the maximum ASCII ADU size the port reserves for this
// framing (spec.md §3: 529 B).
const AsciiBufferSize = 529

// MaxASCIIPayload is half the ASCII buffer minus the ':' + unit + func + lrc
// header/trailer bytes, expressed as inner (binary) PDU bytes.
const MaxASCIIPayload = AsciiBufferSize/2 - 3

const (
	colon = ':'
	cr    = '\r'
	lf    = '\n'
)

// ASCII implements the framer.Framer trait for the ASCII wire framing:
// ':' + hex(unit+func+payload+lrc) + CR LF.
type ASCII struct{}

// EncodeRequest builds the ASCII request frame. repeated is a no-op (no
// transaction id in ASCII framing).
func (ASCII) EncodeRequest(unit, function uint8, payload []byte, repeated bool) ([]byte, status.Code) {
	return encodeASCII(unit, function, payload)
}

// EncodeResponse mirrors EncodeRequest.
func (ASCII) EncodeResponse(unit, function uint8, payload []byte) ([]byte, status.Code) {
	return encodeASCII(unit, function, payload)
}

func encodeASCII(unit, function uint8, payload []byte) ([]byte, status.Code) {
	if len(payload) > MaxASCIIPayload {
		return nil, status.WriteBufferOverflow
	}
	body := make([]byte, 0, 2+len(payload)+1)
	body = append(body, unit, function)
	body = append(body, payload...)
	body = append(body, wire.LRC(body))

	ascii := wire.BytesToASCII(body)
	frame := make([]byte, 0, 1+len(ascii)+2)
	frame = append(frame, colon)
	frame = append(frame, ascii...)
	frame = append(frame, cr, lf)
	return frame, status.Good
}

// DecodeResponse parses a client-side inbound ASCII frame.
func (ASCII) DecodeResponse(data []byte, reqUnit, reqFunction uint8) (Frame, status.Code) {
	f, st := decodeASCII(data)
	if !st.IsGood() {
		return Frame{}, st
	}
	if f.Function&0x80 != 0 {
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

// DecodeRequest parses a server-side inbound ASCII frame.
func (ASCII) DecodeRequest(data []byte) (Frame, status.Code) {
	return decodeASCII(data)
}

func decodeASCII(data []byte) (Frame, status.Code) {
	// ':' + 2*unit + 2*func + 2*lrc(min) + CR + LF
	if len(data) < 9 {
		return Frame{}, status.ReadBufferOverflow
	}
	if data[0] != colon {
		return Frame{}, status.AscMissColon
	}
	n := len(data)
	if data[n-2] != cr || data[n-1] != lf {
		return Frame{}, status.AscMissCrLf
	}

	body := wire.ASCIIToBytes(data[1 : n-2])
	if body == nil {
		return Frame{}, status.AscChar
	}
	if len(body) < 3 {
		return Frame{}, status.ReadBufferOverflow
	}

	lrc := wire.LRC(body[:len(body)-1])
	if lrc != body[len(body)-1] {
		return Frame{}, status.Lrc
	}

	return Frame{
		Unit:     body[0],
		Function: body[1],
		Payload:  append([]byte(nil), body[2:len(body)-1]...),
	}, status.Good
}

// MaxPayload reports the maximum ASCII PDU payload size.
func (ASCII) MaxPayload() int { return MaxASCIIPayload }
