package port

import (
	"time"

	goserial "go.bug.st/serial"
)

// rawConn is the minimal handle the port state machine drives: a byte
// stream with deadline-based read/write, satisfied directly by net.Conn and,
// via serialConn below, by go.bug.st/serial's Port.
type rawConn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// serialConn adapts go.bug.st/serial's Port (which takes a relative
// SetReadTimeout rather than an absolute deadline, and has no write timeout
// at all) to the rawConn interface the port state machine expects.
type serialConn struct {
	goserial.Port
	readDeadline time.Time
}

func (s *serialConn) SetReadDeadline(t time.Time) error {
	s.readDeadline = t
	if t.IsZero() {
		return s.Port.SetReadTimeout(goserial.NoTimeout)
	}
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	return s.Port.SetReadTimeout(d)
}

// SetWriteDeadline is a no-op: go.bug.st/serial exposes no write-timeout
// primitive, and serial writes to a local UART do not block indefinitely the
// way a congested TCP socket can.
func (s *serialConn) SetWriteDeadline(t time.Time) error { return nil }

func openSerial(s SerialSettings) (rawConn, error) {
	mode := &goserial.Mode{
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
	}
	switch s.Parity {
	case ParityEven:
		mode.Parity = goserial.EvenParity
	case ParityOdd:
		mode.Parity = goserial.OddParity
	case ParityMark:
		mode.Parity = goserial.MarkParity
	case ParitySpace:
		mode.Parity = goserial.SpaceParity
	default:
		mode.Parity = goserial.NoParity
	}
	switch s.StopBits {
	case StopBits1_5:
		mode.StopBits = goserial.OnePointFiveStopBits
	case StopBits2:
		mode.StopBits = goserial.TwoStopBits
	default:
		mode.StopBits = goserial.OneStopBit
	}

	p, err := goserial.Open(s.PortName, mode)
	if err != nil {
		return nil, err
	}

	if s.FlowControl == FlowHardware {
		_ = p.SetRTS(true)
	}

	return &serialConn{Port: p}, nil
}
