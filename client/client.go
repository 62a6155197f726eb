// Package client implements the client transaction engine (spec.md §4.6)
// and the client PDU façade (§4.7): one entry point per supported Modbus
// function, each building a request PDU, driving a shared port through its
// write/read cycle with retry and arbitration, and parsing the reply back
// into caller buffers. It generalizes the teacher's Client (client.go) and
// its pdu.Request/pdu.Response plumbing (pdu/requests.go, pdu/responses.go)
// onto the port state machine and status.Code model instead of a
// transport.Transport and Go errors.
package client

import (
	"encoding/binary"

	"github.com/serhmarch/gomodbuslib/port"
	"github.com/serhmarch/gomodbuslib/status"
)

const (
	maxDiscreteCount  = 2040
	maxRegisterCount  = 127
	maxReadWriteCount = 121
)

// Client couples a client PDU façade to a shared Port (spec.md §4.6). Its
// own pointer identity is the arbitration handle Port.GetRequestStatus
// compares against.
type Client struct {
	Port *port.Port
	Unit uint8

	// RepeatCount governs recoverable retries on a transport Bad* result;
	// default 1 means "no retry" (one attempt only).
	RepeatCount int
}

// New returns a Client bound to p, addressing unit.
func New(p *port.Port, unit uint8) *Client {
	return &Client{Port: p, Unit: unit, RepeatCount: 1}
}

// transact drives one request/response round trip to completion: open the
// port, write the request, read the reply, hand it to the framer. It loops
// internally because Port's own Open/Write/Read already block to
// completion when the port was built with blocking=true; for a
// non-blocking port the same call sequence is driven by the caller's own
// tick loop, and transact simply returns Processing until the underlying
// port catches up.
func (c *Client) transact(function uint8, reqPayload []byte) ([]byte, status.Code) {
	retry := 0
	for {
		switch c.Port.GetRequestStatus(c) {
		case port.RequestDisable:
			return nil, status.Processing
		}

		if st := c.Port.Open(); !st.IsGood() {
			if st.IsProcessing() {
				return nil, status.Processing
			}
			c.Port.ReleaseClient(c)
			return nil, st
		}

		var st status.Code
		if c.Port.IsBlocked() {
			// Our request is already committed to the port: resume it
			// rather than encoding and committing it a second time.
			st = c.Port.Write()
		} else {
			frame, est := c.Port.Framer.EncodeRequest(c.Unit, function, reqPayload, c.Port.RepeatNext())
			if !est.IsGood() {
				c.Port.ReleaseClient(c)
				return nil, est
			}
			st = c.Port.WriteBuffer(frame)
		}
		if st.IsProcessing() {
			return nil, status.Processing
		}
		if st.IsGood() {
			st = c.Port.Read()
		}
		if st.IsProcessing() {
			return nil, status.Processing
		}

		if st.IsGood() {
			raw := c.Port.ReadRawBuffer()
			f, dst := c.Port.Framer.DecodeResponse(raw, c.Unit, function)
			c.Port.FreeWriteBuffer()
			c.Port.ReleaseClient(c)
			if dst.IsGood() {
				return f.Payload, status.Good
			}
			return nil, dst
		}

		// st is Bad: apply the retry policy (spec.md §4.6).
		retry++
		if retry < c.RepeatCount {
			c.Port.FreeWriteBuffer()
			c.Port.SetNextRequestRepeated(true)
			continue
		}
		c.Port.FreeWriteBuffer()
		c.Port.ReleaseClient(c)
		return nil, st
	}
}

// broadcast drives a fire-and-forget request to unit 0 (spec.md glossary,
// "Broadcast"): the request is written like any other, but no reply is
// ever read back, mirroring the teacher's sendBroadcast (client.go).
func (c *Client) broadcast(function uint8, reqPayload []byte) status.Code {
	switch c.Port.GetRequestStatus(c) {
	case port.RequestDisable:
		return status.Processing
	}

	if st := c.Port.Open(); !st.IsGood() {
		if !st.IsProcessing() {
			c.Port.ReleaseClient(c)
		}
		return st
	}

	frame, st := c.Port.Framer.EncodeRequest(0, function, reqPayload, false)
	if !st.IsGood() {
		c.Port.ReleaseClient(c)
		return st
	}

	st = c.Port.WriteBuffer(frame)
	if st.IsProcessing() {
		return status.Processing
	}
	c.Port.FreeWriteBuffer()
	c.Port.ReleaseClient(c)
	return st
}

// BroadcastWriteSingleCoil implements function 5 addressed to unit 0.
func (c *Client) BroadcastWriteSingleCoil(offset int, value bool) status.Code {
	v := uint16(0x0000)
	if value {
		v = 0xFF00
	}
	req := []byte{byte(offset >> 8), byte(offset), byte(v >> 8), byte(v)}
	return c.broadcast(5, req)
}

// BroadcastWriteSingleRegister implements function 6 addressed to unit 0.
func (c *Client) BroadcastWriteSingleRegister(offset int, value uint16) status.Code {
	req := []byte{byte(offset >> 8), byte(offset), byte(value >> 8), byte(value)}
	return c.broadcast(6, req)
}

// BroadcastWriteMultipleCoils implements function 15 addressed to unit 0.
func (c *Client) BroadcastWriteMultipleCoils(offset, count int, values []byte) status.Code {
	if st := checkCount(count, maxDiscreteCount); !st.IsGood() {
		return st
	}
	byteCount := (count + 7) / 8
	req := make([]byte, 5+byteCount)
	req[0], req[1] = byte(offset>>8), byte(offset)
	req[2], req[3] = byte(count>>8), byte(count)
	req[4] = byte(byteCount)
	copy(req[5:], values[:byteCount])
	return c.broadcast(15, req)
}

// BroadcastWriteMultipleRegisters implements function 16 addressed to unit 0.
func (c *Client) BroadcastWriteMultipleRegisters(offset int, values []uint16) status.Code {
	count := len(values)
	if st := checkCount(count, maxRegisterCount); !st.IsGood() {
		return st
	}
	req := make([]byte, 5+2*count)
	req[0], req[1] = byte(offset>>8), byte(offset)
	req[2], req[3] = byte(count>>8), byte(count)
	req[4] = byte(2 * count)
	for i, v := range values {
		binary.BigEndian.PutUint16(req[5+2*i:], v)
	}
	return c.broadcast(16, req)
}

func checkCount(count, max int) status.Code {
	if count <= 0 || count > max {
		return status.IllegalDataValue
	}
	return status.Good
}

func be16(hi, lo byte) uint16 { return uint16(hi)<<8 | uint16(lo) }

// ReadCoils implements function 1.
func (c *Client) ReadCoils(offset, count int, out []byte) status.Code {
	if st := checkCount(count, maxDiscreteCount); !st.IsGood() {
		return st
	}
	req := []byte{byte(offset >> 8), byte(offset), byte(count >> 8), byte(count)}
	resp, st := c.transact(1, req)
	if !st.IsGood() {
		return st
	}
	if len(resp) < 1 || len(resp) != 1+int(resp[0]) {
		return status.NotCorrectResponse
	}
	copy(out[:(count+7)/8], resp[1:])
	return status.Good
}

// ReadCoilsBool is the expanded bool-array convenience form of ReadCoils.
func (c *Client) ReadCoilsBool(offset, count int, out []bool) status.Code {
	packed := make([]byte, (count+7)/8)
	if st := c.ReadCoils(offset, count, packed); !st.IsGood() {
		return st
	}
	unpackBits(packed, count, out)
	return status.Good
}

// ReadDiscreteInputs implements function 2.
func (c *Client) ReadDiscreteInputs(offset, count int, out []byte) status.Code {
	if st := checkCount(count, maxDiscreteCount); !st.IsGood() {
		return st
	}
	req := []byte{byte(offset >> 8), byte(offset), byte(count >> 8), byte(count)}
	resp, st := c.transact(2, req)
	if !st.IsGood() {
		return st
	}
	if len(resp) < 1 || len(resp) != 1+int(resp[0]) {
		return status.NotCorrectResponse
	}
	copy(out[:(count+7)/8], resp[1:])
	return status.Good
}

// ReadDiscreteInputsBool is the expanded bool-array form of ReadDiscreteInputs.
func (c *Client) ReadDiscreteInputsBool(offset, count int, out []bool) status.Code {
	packed := make([]byte, (count+7)/8)
	if st := c.ReadDiscreteInputs(offset, count, packed); !st.IsGood() {
		return st
	}
	unpackBits(packed, count, out)
	return status.Good
}

// ReadHoldingRegisters implements function 3.
func (c *Client) ReadHoldingRegisters(offset, count int, out []uint16) status.Code {
	if st := checkCount(count, maxRegisterCount); !st.IsGood() {
		return st
	}
	req := []byte{byte(offset >> 8), byte(offset), byte(count >> 8), byte(count)}
	resp, st := c.transact(3, req)
	if !st.IsGood() {
		return st
	}
	if len(resp) < 1 || int(resp[0]) != 2*count || len(resp) != 1+int(resp[0]) {
		return status.NotCorrectResponse
	}
	for i := 0; i < count; i++ {
		out[i] = binary.BigEndian.Uint16(resp[1+2*i:])
	}
	return status.Good
}

// ReadInputRegisters implements function 4.
func (c *Client) ReadInputRegisters(offset, count int, out []uint16) status.Code {
	if st := checkCount(count, maxRegisterCount); !st.IsGood() {
		return st
	}
	req := []byte{byte(offset >> 8), byte(offset), byte(count >> 8), byte(count)}
	resp, st := c.transact(4, req)
	if !st.IsGood() {
		return st
	}
	if len(resp) < 1 || int(resp[0]) != 2*count || len(resp) != 1+int(resp[0]) {
		return status.NotCorrectResponse
	}
	for i := 0; i < count; i++ {
		out[i] = binary.BigEndian.Uint16(resp[1+2*i:])
	}
	return status.Good
}

// WriteSingleCoil implements function 5.
func (c *Client) WriteSingleCoil(offset int, value bool) status.Code {
	v := uint16(0x0000)
	if value {
		v = 0xFF00
	}
	req := []byte{byte(offset >> 8), byte(offset), byte(v >> 8), byte(v)}
	_, st := c.transact(5, req)
	return st
}

// WriteSingleRegister implements function 6.
func (c *Client) WriteSingleRegister(offset int, value uint16) status.Code {
	req := []byte{byte(offset >> 8), byte(offset), byte(value >> 8), byte(value)}
	_, st := c.transact(6, req)
	return st
}

// ReadExceptionStatus implements function 7 (serial line only).
func (c *Client) ReadExceptionStatus(out *byte) status.Code {
	resp, st := c.transact(7, nil)
	if !st.IsGood() {
		return st
	}
	if len(resp) != 1 {
		return status.NotCorrectResponse
	}
	*out = resp[0]
	return status.Good
}

// Diagnostics implements function 8 (serial line only).
func (c *Client) Diagnostics(subFunc uint16, data []byte) ([]byte, status.Code) {
	req := append([]byte{byte(subFunc >> 8), byte(subFunc)}, data...)
	resp, st := c.transact(8, req)
	if !st.IsGood() {
		return nil, st
	}
	if len(resp) < 2 {
		return nil, status.NotCorrectResponse
	}
	return resp[2:], status.Good
}

// GetCommEventCounter implements function 11.
func (c *Client) GetCommEventCounter() (statusWord, count uint16, code status.Code) {
	resp, st := c.transact(11, nil)
	if !st.IsGood() {
		return 0, 0, st
	}
	if len(resp) != 4 {
		return 0, 0, status.NotCorrectResponse
	}
	return be16(resp[0], resp[1]), be16(resp[2], resp[3]), status.Good
}

// GetCommEventLog implements function 12.
func (c *Client) GetCommEventLog() (statusWord, eventCount, msgCount uint16, events []byte, code status.Code) {
	resp, st := c.transact(12, nil)
	if !st.IsGood() {
		return 0, 0, 0, nil, st
	}
	if len(resp) < 7 || len(resp) != 1+int(resp[0]) {
		return 0, 0, 0, nil, status.NotCorrectResponse
	}
	return be16(resp[1], resp[2]), be16(resp[3], resp[4]), be16(resp[5], resp[6]), resp[7:], status.Good
}

// WriteMultipleCoils implements function 15.
func (c *Client) WriteMultipleCoils(offset, count int, values []byte) status.Code {
	if st := checkCount(count, maxDiscreteCount); !st.IsGood() {
		return st
	}
	byteCount := (count + 7) / 8
	req := make([]byte, 5+byteCount)
	req[0], req[1] = byte(offset>>8), byte(offset)
	req[2], req[3] = byte(count>>8), byte(count)
	req[4] = byte(byteCount)
	copy(req[5:], values[:byteCount])
	resp, st := c.transact(15, req)
	if !st.IsGood() {
		return st
	}
	if len(resp) != 4 {
		return status.NotCorrectResponse
	}
	return status.Good
}

// WriteMultipleCoilsBool is the expanded bool-array form of WriteMultipleCoils.
func (c *Client) WriteMultipleCoilsBool(offset int, values []bool) status.Code {
	packed := make([]byte, (len(values)+7)/8)
	packBits(values, packed)
	return c.WriteMultipleCoils(offset, len(values), packed)
}

// WriteMultipleRegisters implements function 16.
func (c *Client) WriteMultipleRegisters(offset int, values []uint16) status.Code {
	count := len(values)
	if st := checkCount(count, maxRegisterCount); !st.IsGood() {
		return st
	}
	req := make([]byte, 5+2*count)
	req[0], req[1] = byte(offset>>8), byte(offset)
	req[2], req[3] = byte(count>>8), byte(count)
	req[4] = byte(2 * count)
	for i, v := range values {
		binary.BigEndian.PutUint16(req[5+2*i:], v)
	}
	resp, st := c.transact(16, req)
	if !st.IsGood() {
		return st
	}
	if len(resp) != 4 {
		return status.NotCorrectResponse
	}
	return status.Good
}

// ReportServerID implements function 17.
func (c *Client) ReportServerID() ([]byte, status.Code) {
	resp, st := c.transact(17, nil)
	if !st.IsGood() {
		return nil, st
	}
	if len(resp) < 1 || len(resp) != 1+int(resp[0]) {
		return nil, status.NotCorrectResponse
	}
	return resp[1:], status.Good
}

// MaskWriteRegister implements function 22.
func (c *Client) MaskWriteRegister(offset int, andMask, orMask uint16) status.Code {
	req := make([]byte, 6)
	binary.BigEndian.PutUint16(req[0:], uint16(offset))
	binary.BigEndian.PutUint16(req[2:], andMask)
	binary.BigEndian.PutUint16(req[4:], orMask)
	_, st := c.transact(22, req)
	return st
}

// ReadWriteMultipleRegisters implements function 23.
func (c *Client) ReadWriteMultipleRegisters(readOffset, readCount, writeOffset int, writeValues []uint16, out []uint16) status.Code {
	if st := checkCount(readCount, maxReadWriteCount); !st.IsGood() {
		return st
	}
	writeCount := len(writeValues)
	if st := checkCount(writeCount, maxReadWriteCount); !st.IsGood() {
		return st
	}
	req := make([]byte, 9+2*writeCount)
	binary.BigEndian.PutUint16(req[0:], uint16(readOffset))
	binary.BigEndian.PutUint16(req[2:], uint16(readCount))
	binary.BigEndian.PutUint16(req[4:], uint16(writeOffset))
	binary.BigEndian.PutUint16(req[6:], uint16(writeCount))
	req[8] = byte(2 * writeCount)
	for i, v := range writeValues {
		binary.BigEndian.PutUint16(req[9+2*i:], v)
	}
	resp, st := c.transact(23, req)
	if !st.IsGood() {
		return st
	}
	if len(resp) < 1 || int(resp[0]) != 2*readCount || len(resp) != 1+int(resp[0]) {
		return status.NotCorrectResponse
	}
	for i := 0; i < readCount; i++ {
		out[i] = binary.BigEndian.Uint16(resp[1+2*i:])
	}
	return status.Good
}

// ReadFIFOQueue implements function 24.
func (c *Client) ReadFIFOQueue(address int, out []uint16) (n int, code status.Code) {
	req := []byte{byte(address >> 8), byte(address)}
	resp, st := c.transact(24, req)
	if !st.IsGood() {
		return 0, st
	}
	if len(resp) < 4 {
		return 0, status.NotCorrectResponse
	}
	fifoCount := int(be16(resp[2], resp[3]))
	if len(resp) != 4+2*fifoCount || fifoCount > len(out) {
		return 0, status.NotCorrectResponse
	}
	for i := 0; i < fifoCount; i++ {
		out[i] = binary.BigEndian.Uint16(resp[4+2*i:])
	}
	return fifoCount, status.Good
}

// packBits packs a bool slice into Modbus bit-stream form: bit 0 of byte 0
// is values[0].
func packBits(values []bool, out []byte) {
	for i := range out {
		out[i] = 0
	}
	for i, v := range values {
		if v {
			out[i/8] |= 1 << uint(i%8)
		}
	}
}

// unpackBits reverses packBits.
func unpackBits(in []byte, count int, out []bool) {
	for i := 0; i < count; i++ {
		out[i] = in[i/8]&(1<<uint(i%8)) != 0
	}
}
