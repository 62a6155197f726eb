package framer

import (
	"github.com/serhmarch/gomodbuslib/status"
	"github.com/serhmarch/gomodbuslib/wire"
)

// MaxRTUPayload is the largest PDU payload RTU framing can carry: the wire
// frame is unit+func+payload+crc(2), and the overall frame must fit within
// 255 bytes excluding the CRC, leaving 253 bytes of payload.
const MaxRTUPayload = 253

// RTU implements the framer.Framer trait for the RTU wire framing:
// [unit][func][payload...][crcLo][crcHi].
type RTU struct{}

// EncodeRequest builds `[unit][func][payload...][crcLo][crcHi]`. repeated is
// a no-op for RTU (no transaction id to preserve).
func (RTU) EncodeRequest(unit, function uint8, payload []byte, repeated bool) ([]byte, status.Code) {
	return encodeRTU(unit, function, payload)
}

// EncodeResponse mirrors EncodeRequest; RTU has no transaction bookkeeping to
// echo.
func (RTU) EncodeResponse(unit, function uint8, payload []byte) ([]byte, status.Code) {
	return encodeRTU(unit, function, payload)
}

func encodeRTU(unit, function uint8, payload []byte) ([]byte, status.Code) {
	if len(payload) > MaxRTUPayload {
		return nil, status.WriteBufferOverflow
	}
	frame := make([]byte, 0, 2+len(payload)+2)
	frame = append(frame, unit, function)
	frame = append(frame, payload...)
	frame = wire.AppendCRC(frame)
	return frame, status.Good
}

// DecodeResponse parses a client-side inbound RTU frame and validates it
// against the request's unit/function.
func (RTU) DecodeResponse(data []byte, reqUnit, reqFunction uint8) (Frame, status.Code) {
	f, st := decodeRTU(data)
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

// DecodeRequest parses a server-side inbound RTU frame.
func (RTU) DecodeRequest(data []byte) (Frame, status.Code) {
	return decodeRTU(data)
}

func decodeRTU(data []byte) (Frame, status.Code) {
	if len(data) < 4 {
		return Frame{}, status.ReadBufferOverflow
	}
	body := data[:len(data)-2]
	crcLo, crcHi := data[len(data)-2], data[len(data)-1]
	crc := wire.CRC16(body)
	if byte(crc) != crcLo || byte(crc>>8) != crcHi {
		return Frame{}, status.Crc
	}
	return Frame{
		Unit:     body[0],
		Function: body[1],
		Payload:  append([]byte(nil), body[2:]...),
	}, status.Good
}

// MaxPayload reports the maximum RTU PDU payload size.
func (RTU) MaxPayload() int { return MaxRTUPayload }
