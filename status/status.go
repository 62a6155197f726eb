// Package status implements the tagged status code shared by every layer of the
// protocol core: transports, framers, the client transaction engine and the
// server resource engine all report outcomes as a status.Code rather than a
// plain bool, so that "still in flight" (Processing) is distinguishable from
// both success and failure without an extra return value.
package status

import "fmt"

// Code is a 32-bit tagged status. The top bits classify the code; when the
// Bad bit is set the low 16 bits carry a reason drawn from the closed set of
// constants below.
type Code uint32

// Classification bits.
const (
	bitProcessing Code = 0x80000000
	bitUncertain  Code = 0x02000000
	bitBad        Code = 0x01000000
)

// Good is the zero value: the operation succeeded.
const Good Code = 0

// Processing indicates the operation is still in flight; the caller must
// re-invoke the same operation on its next tick.
const Processing Code = bitProcessing

// Standard Modbus exceptions (1-11), returned as wire exception replies.
const (
	IllegalFunction        Code = bitBad | 0x01
	IllegalDataAddress     Code = bitBad | 0x02
	IllegalDataValue       Code = bitBad | 0x03
	ServerDeviceFailure    Code = bitBad | 0x04
	Acknowledge            Code = bitBad | 0x05
	ServerDeviceBusy       Code = bitBad | 0x06
	NegativeAcknowledge    Code = bitBad | 0x07
	MemoryParityError      Code = bitBad | 0x08
	GatewayPathUnavailable Code = bitBad | 0x0A
	GatewayTargetFailed    Code = bitBad | 0x0B
)

// Framing / protocol-shape errors. These never become wire exceptions.
const (
	EmptyResponse       Code = bitBad | 0x0100
	NotCorrectRequest   Code = bitBad | 0x0101
	NotCorrectResponse  Code = bitBad | 0x0102
	WriteBufferOverflow Code = bitBad | 0x0103
	ReadBufferOverflow  Code = bitBad | 0x0104
	AscMissColon        Code = bitBad | 0x0105
	AscMissCrLf         Code = bitBad | 0x0106
	AscChar             Code = bitBad | 0x0107
	Lrc                 Code = bitBad | 0x0108
	Crc                 Code = bitBad | 0x0109
)

// Transport errors.
const (
	SerialOpen      Code = bitBad | 0x0200
	SerialRead      Code = bitBad | 0x0201
	SerialReadTimeout Code = bitBad | 0x0202
	SerialWrite     Code = bitBad | 0x0203

	TcpCreate      Code = bitBad | 0x0210
	TcpBind        Code = bitBad | 0x0211
	TcpListen      Code = bitBad | 0x0212
	TcpAccept      Code = bitBad | 0x0213
	TcpConnect     Code = bitBad | 0x0214
	TcpRead        Code = bitBad | 0x0215
	TcpReadTimeout Code = bitBad | 0x0216
	TcpWrite       Code = bitBad | 0x0217
)

// Uncertain marks a benign inconclusive outcome, e.g. the server observing a
// remote close while reading.
const uncertainBase Code = bitUncertain

// RemoteClosed is the one Uncertain reason the core currently produces.
const RemoteClosed Code = uncertainBase | 0x01

// IsGood reports whether c is the success value.
func (c Code) IsGood() bool { return c == Good }

// IsProcessing reports whether the operation is still in flight.
func (c Code) IsProcessing() bool { return c&bitProcessing != 0 }

// IsBad reports whether c carries a failure reason.
func (c Code) IsBad() bool { return c&bitBad != 0 && c&bitProcessing == 0 }

// IsUncertain reports whether c is a benign inconclusive outcome.
func (c Code) IsUncertain() bool { return c&bitUncertain != 0 && c&bitProcessing == 0 }

// IsStandardError reports whether c is a standard Modbus exception status:
// Bad bit set, low byte 1-11, and every other bit zero.
func (c Code) IsStandardError() bool {
	return c.IsBad() && (c&0xFFFFFF00) == bitBad && (c&0xFF) >= 1 && (c&0xFF) <= 0x0B
}

// ExceptionByte returns the low byte to place in a wire exception reply. Only
// meaningful when IsStandardError is true.
func (c Code) ExceptionByte() byte { return byte(c & 0xFF) }

// FromExceptionByte builds the Bad status a client surfaces when a response
// PDU's exception bit is set: Bad | (low byte of the wire exception code).
func FromExceptionByte(b byte) Code { return bitBad | Code(b) }

// Reason returns the low 16 bits carried by a Bad code.
func (c Code) Reason() uint16 { return uint16(c & 0xFFFF) }

// String renders a short symbolic name for known codes, and the raw hex value
// otherwise.
func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	switch {
	case c.IsGood():
		return "Good"
	case c.IsProcessing():
		return "Processing"
	case c.IsUncertain():
		return fmt.Sprintf("Uncertain(0x%04X)", c.Reason())
	case c.IsBad():
		return fmt.Sprintf("Bad(0x%04X)", c.Reason())
	default:
		return fmt.Sprintf("Code(0x%08X)", uint32(c))
	}
}

// Error implements the error interface so a Code composes with idiomatic Go
// error handling at the client/server convenience layer. Good and Processing
// never reach this path in practice (callers check IsGood/IsProcessing
// first), but Error still renders sensibly for them.
func (c Code) Error() string { return c.String() }

var names = map[Code]string{
	Good:                   "Good",
	Processing:             "Processing",
	IllegalFunction:        "IllegalFunction",
	IllegalDataAddress:     "IllegalDataAddress",
	IllegalDataValue:       "IllegalDataValue",
	ServerDeviceFailure:    "ServerDeviceFailure",
	Acknowledge:            "Acknowledge",
	ServerDeviceBusy:       "ServerDeviceBusy",
	NegativeAcknowledge:    "NegativeAcknowledge",
	MemoryParityError:      "MemoryParityError",
	GatewayPathUnavailable: "GatewayPathUnavailable",
	GatewayTargetFailed:    "GatewayTargetDeviceFailedToRespond",
	EmptyResponse:          "EmptyResponse",
	NotCorrectRequest:      "NotCorrectRequest",
	NotCorrectResponse:     "NotCorrectResponse",
	WriteBufferOverflow:    "WriteBufferOverflow",
	ReadBufferOverflow:     "ReadBufferOverflow",
	AscMissColon:           "AscMissColon",
	AscMissCrLf:            "AscMissCrLf",
	AscChar:                "AscChar",
	Lrc:                    "Lrc",
	Crc:                    "Crc",
	SerialOpen:             "SerialOpen",
	SerialRead:             "SerialRead",
	SerialReadTimeout:      "SerialReadTimeout",
	SerialWrite:            "SerialWrite",
	TcpCreate:              "TcpCreate",
	TcpBind:                "TcpBind",
	TcpListen:              "TcpListen",
	TcpAccept:              "TcpAccept",
	TcpConnect:             "TcpConnect",
	TcpRead:                "TcpRead",
	TcpReadTimeout:         "TcpReadTimeout",
	TcpWrite:               "TcpWrite",
	RemoteClosed:           "RemoteClosed",
}

// Error wraps a Code with free-form diagnostic text, matching the "every
// error carries a free-form text" requirement for the port's lastErrorText.
type Error struct {
	Code Code
	Text string
}

// NewError builds an *Error from a code and a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Text: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Text == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code.String(), e.Text)
}

// Unwrap lets errors.Is/As see through to the underlying Code.
func (e *Error) Unwrap() error { return e.Code }
