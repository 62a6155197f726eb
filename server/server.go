// Package server implements the server resource engine (spec.md §4.8): it
// drives a single connection's (or serial port's) server side, parsing an
// inbound request, dispatching it to a device.Device, and writing back the
// framed reply. It generalizes the teacher's Server (server.go), which
// dispatches through a fixed transport.RequestHandler switch, onto the
// generic device.Device interface and the port state machine.
package server

import (
	"encoding/binary"

	"github.com/serhmarch/gomodbuslib/device"
	"github.com/serhmarch/gomodbuslib/port"
	"github.com/serhmarch/gomodbuslib/status"
	"go.uber.org/zap"
)

const (
	maxDiscreteCount  = 2040
	maxRegisterCount  = 127
	maxReadWriteCount = 121
)

// Engine drives one connection's server-side request/response cycle
// (spec.md §4.8). One Engine is created per accepted TCP connection, or one
// per serial port for RTU/ASCII.
type Engine struct {
	Port      *port.Port
	Device    device.Device
	UnitMap   *device.UnitMap
	Broadcast bool
	Log       *zap.Logger

	lastError status.Code
}

// New returns an Engine bound to an already-open server-role Port.
func New(p *port.Port, dev device.Device, log *zap.Logger) *Engine {
	return &Engine{Port: p, Device: dev, Log: log}
}

// Tick drives one request/response round trip. It reads a frame, and if
// the port is not yet done reading, returns Processing so the caller (a
// listener's tick loop) re-invokes Tick later. Dropped/broadcast requests
// that produce no reply still return Good.
func (e *Engine) Tick() status.Code {
	st := e.Port.Read()
	if st.IsProcessing() {
		return status.Processing
	}
	if !st.IsGood() {
		// Remote close (Uncertain) and transport-level read failures (Bad)
		// both end this connection's lifetime (spec.md §3/§4.9): close the
		// port so the listener's next tick reaps the dead connEntry.
		e.Port.Close()
		return st
	}

	f, dst := e.Port.Framer.DecodeRequest(e.Port.ReadRawBuffer())
	if !dst.IsGood() {
		if e.Log != nil {
			e.Log.Debug("dropping malformed request", zap.String("status", dst.String()))
		}
		return status.Good
	}

	broadcast := f.Unit == 0 && e.Broadcast
	if !broadcast && e.UnitMap != nil && !e.UnitMap.Allows(f.Unit) {
		return status.Good // spec.md §4.8.1: silently drop, no reply
	}

	respPayload, code := e.dispatch(f.Unit, f.Function, f.Payload)
	if code == status.NotCorrectRequest {
		if e.Log != nil {
			e.Log.Debug("malformed request body, dropping", zap.Uint8("function", f.Function))
		}
		return status.Good
	}
	if broadcast {
		return status.Good
	}

	var frame []byte
	if code.IsStandardError() {
		frame, _ = e.Port.Framer.EncodeResponse(f.Unit, f.Function|0x80, []byte{code.ExceptionByte()})
	} else if !code.IsGood() {
		frame, _ = e.Port.Framer.EncodeResponse(f.Unit, f.Function|0x80, []byte{status.ServerDeviceFailure.ExceptionByte()})
	} else {
		frame, _ = e.Port.Framer.EncodeResponse(f.Unit, f.Function, respPayload)
	}
	return e.Port.WriteRawBuffer(frame)
}

func be16(hi, lo byte) uint16 { return uint16(hi)<<8 | uint16(lo) }

// dispatch recognizes function codes {1,2,3,4,5,6,7,8,11,12,15,16,17,22,23,24}
// (spec.md §4.8 dispatch key); any other code is IllegalFunction.
func (e *Engine) dispatch(unit, function uint8, payload []byte) ([]byte, status.Code) {
	switch function {
	case 1:
		return e.readBits(unit, payload, maxDiscreteCount, e.Device.ReadCoils)
	case 2:
		return e.readBits(unit, payload, maxDiscreteCount, e.Device.ReadDiscreteInputs)
	case 3:
		return e.readRegs(unit, payload, maxRegisterCount, e.Device.ReadHoldingRegisters)
	case 4:
		return e.readRegs(unit, payload, maxRegisterCount, e.Device.ReadInputRegisters)
	case 5:
		return e.writeSingleCoil(unit, payload)
	case 6:
		return e.writeSingleRegister(unit, payload)
	case 7:
		var b byte
		if st := e.Device.ReadExceptionStatus(unit, &b); !st.IsGood() {
			return nil, st
		}
		return []byte{b}, status.Good
	case 8:
		if len(payload) < 2 {
			return nil, status.NotCorrectRequest
		}
		subFunc := be16(payload[0], payload[1])
		data, st := e.Device.Diagnostics(unit, subFunc, payload[2:])
		if !st.IsGood() {
			return nil, st
		}
		out := append([]byte{payload[0], payload[1]}, data...)
		return out, status.Good
	case 11:
		sw, cnt, st := e.Device.GetCommEventCounter(unit)
		if !st.IsGood() {
			return nil, st
		}
		return []byte{byte(sw >> 8), byte(sw), byte(cnt >> 8), byte(cnt)}, status.Good
	case 12:
		sw, evc, msgc, events, st := e.Device.GetCommEventLog(unit)
		if !st.IsGood() {
			return nil, st
		}
		out := []byte{byte(6 + len(events)), byte(sw >> 8), byte(sw), byte(evc >> 8), byte(evc), byte(msgc >> 8), byte(msgc)}
		out = append(out, events...)
		return out, status.Good
	case 15:
		return e.writeMultipleCoils(unit, payload)
	case 16:
		return e.writeMultipleRegisters(unit, payload)
	case 17:
		id, st := e.Device.ReportServerID(unit)
		if !st.IsGood() {
			return nil, st
		}
		return append([]byte{byte(len(id))}, id...), status.Good
	case 22:
		return e.maskWriteRegister(unit, payload)
	case 23:
		return e.readWriteMultipleRegisters(unit, payload)
	case 24:
		return e.readFIFOQueue(unit, payload)
	default:
		return nil, status.IllegalFunction
	}
}

func (e *Engine) readBits(unit uint8, payload []byte, maxCount int, op func(uint8, int, int, []byte) status.Code) ([]byte, status.Code) {
	if len(payload) != 4 {
		return nil, status.NotCorrectRequest
	}
	offset := int(be16(payload[0], payload[1]))
	count := int(be16(payload[2], payload[3]))
	if count == 0 || count > maxCount {
		return nil, status.IllegalDataValue
	}
	byteCount := (count + 7) / 8
	out := make([]byte, byteCount)
	if st := op(unit, offset, count, out); !st.IsGood() {
		return nil, st
	}
	return append([]byte{byte(byteCount)}, out...), status.Good
}

func (e *Engine) readRegs(unit uint8, payload []byte, maxCount int, op func(uint8, int, int, []uint16) status.Code) ([]byte, status.Code) {
	if len(payload) != 4 {
		return nil, status.NotCorrectRequest
	}
	offset := int(be16(payload[0], payload[1]))
	count := int(be16(payload[2], payload[3]))
	if count == 0 || count > maxCount {
		return nil, status.IllegalDataValue
	}
	regs := make([]uint16, count)
	if st := op(unit, offset, count, regs); !st.IsGood() {
		return nil, st
	}
	out := make([]byte, 1+2*count)
	out[0] = byte(2 * count)
	for i, v := range regs {
		binary.BigEndian.PutUint16(out[1+2*i:], v)
	}
	return out, status.Good
}

func (e *Engine) writeSingleCoil(unit uint8, payload []byte) ([]byte, status.Code) {
	if len(payload) != 4 {
		return nil, status.NotCorrectRequest
	}
	valHi, valLo := payload[2], payload[3]
	if !((valHi == 0xFF && valLo == 0x00) || (valHi == 0x00 && valLo == 0x00)) {
		return nil, status.IllegalDataValue
	}
	offset := int(be16(payload[0], payload[1]))
	if st := e.Device.WriteSingleCoil(unit, offset, valHi == 0xFF); !st.IsGood() {
		return nil, st
	}
	return append([]byte(nil), payload...), status.Good
}

func (e *Engine) writeSingleRegister(unit uint8, payload []byte) ([]byte, status.Code) {
	if len(payload) != 4 {
		return nil, status.NotCorrectRequest
	}
	offset := int(be16(payload[0], payload[1]))
	value := be16(payload[2], payload[3])
	if st := e.Device.WriteSingleRegister(unit, offset, value); !st.IsGood() {
		return nil, st
	}
	return append([]byte(nil), payload...), status.Good
}

func (e *Engine) writeMultipleCoils(unit uint8, payload []byte) ([]byte, status.Code) {
	if len(payload) < 5 {
		return nil, status.NotCorrectRequest
	}
	offset := int(be16(payload[0], payload[1]))
	count := int(be16(payload[2], payload[3]))
	byteCount := int(payload[4])
	if len(payload) != 5+byteCount || byteCount != (count+7)/8 {
		return nil, status.NotCorrectRequest
	}
	if count == 0 || count > maxDiscreteCount {
		return nil, status.IllegalDataValue
	}
	if st := e.Device.WriteMultipleCoils(unit, offset, count, payload[5:]); !st.IsGood() {
		return nil, st
	}
	return []byte{payload[0], payload[1], payload[2], payload[3]}, status.Good
}

func (e *Engine) writeMultipleRegisters(unit uint8, payload []byte) ([]byte, status.Code) {
	if len(payload) < 5 {
		return nil, status.NotCorrectRequest
	}
	offset := int(be16(payload[0], payload[1]))
	count := int(be16(payload[2], payload[3]))
	byteCount := int(payload[4])
	if len(payload) != 5+byteCount || byteCount != 2*count {
		return nil, status.NotCorrectRequest
	}
	if count == 0 || count > maxRegisterCount {
		return nil, status.IllegalDataValue
	}
	regs := make([]uint16, count)
	for i := 0; i < count; i++ {
		regs[i] = binary.BigEndian.Uint16(payload[5+2*i:])
	}
	if st := e.Device.WriteMultipleRegisters(unit, offset, count, regs); !st.IsGood() {
		return nil, st
	}
	return []byte{payload[0], payload[1], payload[2], payload[3]}, status.Good
}

func (e *Engine) maskWriteRegister(unit uint8, payload []byte) ([]byte, status.Code) {
	if len(payload) != 6 {
		return nil, status.NotCorrectRequest
	}
	offset := int(be16(payload[0], payload[1]))
	and := be16(payload[2], payload[3])
	or := be16(payload[4], payload[5])
	if st := e.Device.MaskWriteRegister(unit, offset, and, or); !st.IsGood() {
		return nil, st
	}
	return append([]byte(nil), payload...), status.Good
}

func (e *Engine) readWriteMultipleRegisters(unit uint8, payload []byte) ([]byte, status.Code) {
	if len(payload) < 9 {
		return nil, status.NotCorrectRequest
	}
	readOffset := int(be16(payload[0], payload[1]))
	readCount := int(be16(payload[2], payload[3]))
	writeOffset := int(be16(payload[4], payload[5]))
	writeCount := int(be16(payload[6], payload[7]))
	byteCount := int(payload[8])
	if len(payload) != 9+byteCount || byteCount != 2*writeCount {
		return nil, status.NotCorrectRequest
	}
	if readCount == 0 || readCount > maxReadWriteCount || writeCount == 0 || writeCount > maxReadWriteCount {
		return nil, status.IllegalDataValue
	}
	writeData := make([]uint16, writeCount)
	for i := 0; i < writeCount; i++ {
		writeData[i] = binary.BigEndian.Uint16(payload[9+2*i:])
	}
	out := make([]uint16, readCount)
	if st := e.Device.ReadWriteMultipleRegisters(unit, readOffset, readCount, writeOffset, writeCount, writeData, out); !st.IsGood() {
		return nil, st
	}
	resp := make([]byte, 1+2*readCount)
	resp[0] = byte(2 * readCount)
	for i, v := range out {
		binary.BigEndian.PutUint16(resp[1+2*i:], v)
	}
	return resp, status.Good
}

func (e *Engine) readFIFOQueue(unit uint8, payload []byte) ([]byte, status.Code) {
	if len(payload) != 2 {
		return nil, status.NotCorrectRequest
	}
	address := int(be16(payload[0], payload[1]))
	values, st := e.Device.ReadFIFOQueue(unit, address)
	if !st.IsGood() {
		return nil, st
	}
	out := make([]byte, 4+2*len(values))
	binary.BigEndian.PutUint16(out[0:], uint16(2+2*len(values)))
	binary.BigEndian.PutUint16(out[2:], uint16(len(values)))
	for i, v := range values {
		binary.BigEndian.PutUint16(out[4+2*i:], v)
	}
	return out, status.Good
}
