// Package framer implements the three wire framings named in the spec: RTU,
// ASCII and TCP. Each Framer both builds outbound frames from a unit/function/
// payload triple and parses inbound frames back into one, validating the
// framing-specific trailer (CRC, LRC, or MBAP header) along the way.
package framer

import "github.com/serhmarch/gomodbuslib/status"

// Frame is a decoded Modbus PDU plus the unit it was addressed to.
type Frame struct {
	Unit     uint8
	Function uint8
	Payload  []byte
}

// Framer is the dispatch trait shared by RTU, ASCII and TCP. The client side
// calls EncodeRequest/DecodeResponse; the server side calls
// DecodeRequest/EncodeResponse. Keeping both directions on one interface
// lets the transport port stay agnostic of which role it is playing.
type Framer interface {
	// EncodeRequest builds an outbound request frame for unit/function/payload.
	// repeated, when true, asks a TCP framer to reuse the last transaction id
	// (set via SetNextRequestRepeated); RTU/ASCII ignore it.
	EncodeRequest(unit, function uint8, payload []byte, repeated bool) ([]byte, status.Code)

	// DecodeResponse parses an inbound client-side frame. reqUnit/reqFunction
	// are the values of the request this response is expected to match.
	DecodeResponse(data []byte, reqUnit, reqFunction uint8) (Frame, status.Code)

	// DecodeRequest parses an inbound server-side frame.
	DecodeRequest(data []byte) (Frame, status.Code)

	// EncodeResponse builds an outbound reply frame, echoing whatever
	// transaction bookkeeping the inbound request carried (the MBAP
	// transaction id on TCP; a no-op on RTU/ASCII).
	EncodeResponse(unit, function uint8, payload []byte) ([]byte, status.Code)

	// MaxPayload returns the largest PDU payload (function code's data,
	// excluding unit/function/trailer) this framing can carry.
	MaxPayload() int
}
