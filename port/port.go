// Package port implements the shared transport I/O state machine (spec.md
// §4.2): the same state machine drives both blocking callers (who want
// open/write/read to run to completion) and cooperative non-blocking
// callers (who tick the machine and accept Status_Processing). A Port owns
// exactly one OS handle — a serial line or a TCP socket — one read buffer
// and one write buffer, and arbitrates access across client objects that
// share it.
package port

import (
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/serhmarch/gomodbuslib/framer"
	"github.com/serhmarch/gomodbuslib/signal"
	"github.com/serhmarch/gomodbuslib/status"
)

// pollSlice bounds how long a single non-blocking tick may wait on the OS
// handle before giving control back to the caller, per spec.md §5 ("no
// operation may sleep beyond a short OS poll").
const pollSlice = 5 * time.Millisecond

// Port is the transport state machine described in spec.md §4.2.
type Port struct {
	Name   string
	Kind   Kind
	Role   Role
	Framer framer.Framer

	serialSettings SerialSettings
	tcpSettings    TCPSettings

	Signals *signal.Registry
	Log     *zap.Logger

	Blocking bool
	conn     rawConn

	state   State
	changed bool
	blocked bool

	lastError     status.Code
	lastErrorText string

	readBuf  []byte
	writeBuf []byte
	writeOff int

	readPhase    readPhase
	readStart    time.Time
	lastByteTime time.Time
	tcpPending   int

	currentClient any
	repeatNext    bool

	opening *asyncResult
}

type readPhase int

const (
	phaseIdle readPhase = iota
	phaseFirstByte
	phaseInterByte
)

// NewSerialPort builds a Port over a serial line using RTU or ASCII framing.
func NewSerialPort(name string, kind Kind, role Role, settings SerialSettings, blocking bool, sig *signal.Registry, log *zap.Logger) *Port {
	var f framer.Framer
	if kind == ASCII {
		f = framer.ASCII{}
	} else {
		f = framer.RTU{}
	}
	return &Port{
		Name:           name,
		Kind:           kind,
		Role:           role,
		Framer:         f,
		serialSettings: settings,
		Blocking:       blocking,
		Signals:        sig,
		Log:            log,
		state:          StateUnknown,
		readBuf:        make([]byte, 0, bufferSize(kind)),
		writeBuf:       make([]byte, 0, bufferSize(kind)),
	}
}

// NewTCPClientPort builds a Port that dials out to a remote TCP server.
func NewTCPClientPort(name string, settings TCPSettings, blocking bool, sig *signal.Registry, log *zap.Logger) *Port {
	return &Port{
		Name:        name,
		Kind:        TCP,
		Role:        RoleClient,
		Framer:      framer.NewTCP(),
		tcpSettings: settings,
		Blocking:    blocking,
		Signals:     sig,
		Log:         log,
		state:       StateUnknown,
		readBuf:     make([]byte, 0, bufferSize(TCP)),
		writeBuf:    make([]byte, 0, bufferSize(TCP)),
	}
}

// NewTCPServerPort wraps an already-accepted connection (from the listener,
// or directly by tests) as a Port whose handle is already open.
func NewTCPServerPort(name string, conn net.Conn, blocking bool, sig *signal.Registry, log *zap.Logger) *Port {
	p := &Port{
		Name:     name,
		Kind:     TCP,
		Role:     RoleServer,
		Framer:   framer.NewTCP(),
		Blocking: blocking,
		Signals:  sig,
		Log:      log,
		state:    StateOpened,
		readBuf:  make([]byte, 0, bufferSize(TCP)),
		writeBuf: make([]byte, 0, bufferSize(TCP)),
		conn:     conn,
	}
	return p
}

// State returns the port's current lifecycle state.
func (p *Port) State() State { return p.state }

// LastError returns the most recent failure code and its diagnostic text.
func (p *Port) LastError() (status.Code, string) { return p.lastError, p.lastErrorText }

func (p *Port) fail(code status.Code, format string, args ...any) status.Code {
	p.lastError = code
	p.lastErrorText = status.NewError(code, format, args...).Text
	if p.Log != nil {
		p.Log.Debug("port error", zap.String("port", p.Name), zap.String("status", code.String()), zap.String("text", p.lastErrorText))
	}
	if p.Signals != nil {
		p.Signals.Emit(signal.Error, signal.ErrorArgs{Source: p.Name, Code: code, Text: p.lastErrorText})
	}
	return code
}

// SetSerialSettings replaces the serial configuration. If it differs from
// the current settings, the changed flag is raised so the next Open tears
// down and rebuilds the handle.
func (p *Port) SetSerialSettings(s SerialSettings) {
	if !p.serialSettings.Equal(s) {
		p.serialSettings = s
		p.changed = true
	}
}

// SetTCPSettings replaces the TCP configuration, raising changed on
// difference.
func (p *Port) SetTCPSettings(s TCPSettings) {
	if !p.tcpSettings.Equal(s) {
		p.tcpSettings = s
		p.changed = true
	}
}

// SetNextRequestRepeated marks the next outbound frame as a retry: TCP
// reuses the current transaction id, RTU/ASCII are unaffected.
func (p *Port) SetNextRequestRepeated(repeated bool) { p.repeatNext = repeated }

// RepeatNext reports whether the next EncodeRequest call should reuse the
// last transaction id, and clears the flag (one-shot, per spec.md §4.6).
func (p *Port) RepeatNext() bool {
	r := p.repeatNext
	p.repeatNext = false
	return r
}

// GetRequestStatus arbitrates port ownership among client objects sharing
// it (spec.md §4.6). identity is any comparable value a client transaction
// uses to identify itself across calls (commonly the *Client pointer).
func (p *Port) GetRequestStatus(identity any) RequestStatus {
	if p.currentClient == nil {
		p.currentClient = identity
		return RequestEnable
	}
	if p.currentClient == identity {
		return RequestProcess
	}
	return RequestDisable
}

// CancelRequest releases port ownership mid-flight so another client may be
// granted it on the next arbitration call.
func (p *Port) CancelRequest(identity any) {
	if p.currentClient == identity {
		p.currentClient = nil
	}
	p.FreeWriteBuffer()
}

// ReleaseClient clears port ownership on transaction completion.
func (p *Port) ReleaseClient(identity any) {
	if p.currentClient == identity {
		p.currentClient = nil
	}
}

// IsBlocked reports whether the write buffer is currently occupied by a
// pending request (spec.md §3 invariant).
func (p *Port) IsBlocked() bool { return p.blocked }

// FreeWriteBuffer releases the write buffer, allowing a new WriteBuffer call
// to proceed. Only the owning transaction engine should call this.
func (p *Port) FreeWriteBuffer() {
	p.blocked = false
	p.writeBuf = p.writeBuf[:0]
	p.writeOff = 0
}

// ---- Open ----

// Open idempotently advances the port toward Opened. In blocking mode it
// loops internally until the handle is open or a Bad* status is final; in
// non-blocking mode it performs one tick and may return Processing.
func (p *Port) Open() status.Code {
	if p.changed {
		p.closeHandle()
		p.changed = false
		p.state = StateUnknown
	}
	if p.Blocking {
		for {
			st := p.openTick()
			if !st.IsProcessing() {
				return st
			}
		}
	}
	return p.openTick()
}

func (p *Port) openTick() status.Code {
	switch p.state {
	case StateOpened:
		return status.Good
	case StateClosed:
		return status.Good // server-side ports are opened by the listener; re-open is a no-op once accepted
	}

	if p.opening == nil {
		p.opening = startAsync(p.dial)
	}
	p.state = StateWaitForOpen
	conn, err, done := p.opening.Poll()
	if !done {
		return status.Processing
	}
	p.opening = nil
	if err != nil {
		code := status.SerialOpen
		if p.Kind == TCP {
			code = status.TcpConnect
		}
		p.state = StateUnknown
		return p.fail(code, "%v", err)
	}
	p.conn = conn.(rawConn)
	p.state = StateOpened
	if p.Signals != nil {
		p.Signals.Emit(signal.Opened, signal.SourceArgs{Source: p.Name})
	}
	if p.Log != nil {
		p.Log.Info("port opened", zap.String("port", p.Name))
	}
	return status.Good
}

func (p *Port) dial() (any, error) {
	if p.Kind == TCP {
		d := net.Dialer{Timeout: p.tcpSettings.ConnectTimeout}
		addr := p.tcpSettings.Host
		if p.tcpSettings.Port != 0 {
			addr = net.JoinHostPort(p.tcpSettings.Host, itoa(p.tcpSettings.Port))
		}
		conn, err := d.Dial("tcp", addr)
		if err != nil {
			return nil, err
		}
		return rawConn(conn), nil
	}
	return openSerial(p.serialSettings)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (p *Port) closeHandle() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the OS handle at once, passing through WaitForClose to
// Closed within the same call; the teardown is not deferred to a later
// tick. Calling it on a port that is already Closed does nothing.
func (p *Port) Close() status.Code {
	if p.state == StateClosed {
		return status.Good
	}
	p.state = StateWaitForClose
	p.closeHandle()
	p.state = StateClosed
	if p.Signals != nil {
		p.Signals.Emit(signal.Closed, signal.SourceArgs{Source: p.Name})
	}
	if p.Log != nil {
		p.Log.Info("port closed", zap.String("port", p.Name))
	}
	return status.Good
}

// ---- Write ----

// WriteBuffer commits data as the pending request/response and drives
// write() to completion (blocking) or one tick (non-blocking).
func (p *Port) WriteBuffer(data []byte) status.Code {
	if p.Role == RoleClient {
		if p.blocked {
			return status.Processing
		}
		p.blocked = true
	}
	if len(data) > cap(p.writeBuf) {
		return p.fail(status.WriteBufferOverflow, "write buffer overflow: %d > %d", len(data), cap(p.writeBuf))
	}
	p.writeBuf = append(p.writeBuf[:0], data...)
	p.writeOff = 0
	return p.Write()
}

// Write flushes the current write buffer. Blocking mode flushes completely
// or returns a Bad*; non-blocking mode returns Processing until all bytes
// are accepted by the OS.
func (p *Port) Write() status.Code {
	if p.conn == nil {
		return p.fail(status.TcpWrite, "write on closed port")
	}
	if p.Blocking {
		p.state = StateWaitForWriteAll
		for {
			st := p.writeTick()
			if !st.IsProcessing() {
				p.state = StateOpened
				return st
			}
		}
	}
	if p.writeOff == 0 {
		p.state = StatePrepareToWrite
	} else {
		p.state = StateWaitForWrite
	}
	st := p.writeTick()
	if !st.IsProcessing() {
		p.state = StateOpened
	}
	return st
}

func (p *Port) writeTick() status.Code {
	if p.writeOff >= len(p.writeBuf) {
		return status.Good
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(pollSlice))
	n, err := p.conn.Write(p.writeBuf[p.writeOff:])
	p.writeOff += n
	if p.writeOff >= len(p.writeBuf) {
		if p.Signals != nil {
			p.Signals.Emit(signal.Tx, signal.BufferArgs{Source: p.Name, Buffer: p.writeBuf})
		}
		if p.Log != nil {
			p.Log.Debug("tx", zap.String("port", p.Name), zap.Int("bytes", len(p.writeBuf)))
		}
		return status.Good
	}
	if err != nil && !isTimeout(err) {
		code := status.SerialWrite
		if p.Kind == TCP {
			code = status.TcpWrite
		}
		return p.fail(code, "%v", err)
	}
	return status.Processing
}

// ---- Read ----

// Read fills the read buffer using a two-phase first-byte/inter-byte timer.
// It returns Good once a frame is complete (TCP: the length the MBAP header
// announces; ASCII: a trailing CR LF; RTU: inter-byte silence after at
// least one byte), and a read-timeout status if no byte arrives within the
// first-byte timeout. Blocking mode loops until one of these outcomes;
// non-blocking mode runs one poll and may return Processing.
func (p *Port) Read() status.Code {
	if p.conn == nil {
		return p.fail(status.TcpRead, "read on closed port")
	}
	if p.readPhase == phaseIdle {
		p.readBuf = p.readBuf[:0]
		p.readPhase = phaseFirstByte
		p.readStart = time.Now()
		p.tcpPending = 0
		if p.Kind == TCP {
			p.tcpPending = framer.MBAPSize
		}
	}
	if p.Blocking {
		p.state = StateWaitForReadAll
		for {
			st := p.readTick()
			if !st.IsProcessing() {
				p.state = StateOpened
				return st
			}
		}
	}
	if p.readPhase == phaseFirstByte && len(p.readBuf) == 0 {
		p.state = StatePrepareToRead
	} else {
		p.state = StateWaitForRead
	}
	st := p.readTick()
	if !st.IsProcessing() {
		p.state = StateOpened
	}
	return st
}

func (p *Port) readTick() status.Code {
	firstByteTimeout := p.firstByteTimeout()
	interByteTimeout := p.interByteTimeout()

	_ = p.conn.SetReadDeadline(time.Now().Add(pollSlice))
	tmp := make([]byte, cap(p.readBuf)-len(p.readBuf))
	if len(tmp) > 0 {
		n, err := p.conn.Read(tmp)
		if n > 0 {
			p.readBuf = append(p.readBuf, tmp[:n]...)
			p.lastByteTime = time.Now()
			if p.readPhase == phaseFirstByte {
				p.readPhase = phaseInterByte
			}
		}
		if err != nil && !isTimeout(err) {
			p.readPhase = phaseIdle
			if err == io.EOF {
				if p.Signals != nil {
					p.Signals.Emit(signal.Error, signal.ErrorArgs{Source: p.Name, Code: status.RemoteClosed, Text: "remote closed"})
				}
				return status.RemoteClosed
			}
			code := status.SerialRead
			if p.Kind == TCP {
				code = status.TcpRead
			}
			return p.fail(code, "%v", err)
		}
	}

	if done, st := p.readFrameComplete(); done {
		p.readPhase = phaseIdle
		if st.IsGood() && p.Signals != nil {
			p.Signals.Emit(signal.Rx, signal.BufferArgs{Source: p.Name, Buffer: p.readBuf})
		}
		if st.IsGood() && p.Log != nil {
			p.Log.Debug("rx", zap.String("port", p.Name), zap.Int("bytes", len(p.readBuf)))
		}
		return st
	}

	now := time.Now()
	if p.readPhase == phaseFirstByte {
		if firstByteTimeout > 0 && now.Sub(p.readStart) > firstByteTimeout {
			p.readPhase = phaseIdle
			code := status.SerialReadTimeout
			if p.Kind == TCP {
				code = status.TcpReadTimeout
			}
			return p.fail(code, "timed out waiting for first byte")
		}
	} else {
		if interByteTimeout > 0 && now.Sub(p.lastByteTime) > interByteTimeout {
			// Silence after at least one byte: for RTU/ASCII this marks the
			// frame boundary; deliver what we have.
			p.readPhase = phaseIdle
			if len(p.readBuf) == 0 {
				code := status.SerialReadTimeout
				if p.Kind == TCP {
					code = status.TcpReadTimeout
				}
				return p.fail(code, "inter-byte timeout with no data")
			}
			return status.Good
		}
	}
	return status.Processing
}

// readFrameComplete reports whether the accumulated readBuf already holds a
// full frame for this Kind.
func (p *Port) readFrameComplete() (bool, status.Code) {
	switch p.Kind {
	case TCP:
		if len(p.readBuf) >= framer.MBAPSize && p.tcpPending == framer.MBAPSize {
			length := int(p.readBuf[4])<<8 | int(p.readBuf[5])
			p.tcpPending = 6 + length
		}
		if p.tcpPending > framer.MBAPSize && len(p.readBuf) >= p.tcpPending {
			return true, status.Good
		}
		if len(p.readBuf) >= cap(p.readBuf) {
			return true, status.ReadBufferOverflow
		}
		return false, status.Processing
	case ASCII:
		if n := len(p.readBuf); n >= 2 && p.readBuf[n-2] == '\r' && p.readBuf[n-1] == '\n' {
			return true, status.Good
		}
		if len(p.readBuf) >= cap(p.readBuf) {
			return true, status.ReadBufferOverflow
		}
		return false, status.Processing
	default: // RTU: no explicit terminator, rely on inter-byte silence.
		if len(p.readBuf) >= cap(p.readBuf) {
			return true, status.ReadBufferOverflow
		}
		return false, status.Processing
	}
}

func (p *Port) firstByteTimeout() time.Duration {
	if p.Kind == TCP {
		return p.tcpSettings.ReadTimeout
	}
	return p.serialSettings.TimeoutFirstByte
}

func (p *Port) interByteTimeout() time.Duration {
	if p.Kind == TCP {
		return p.tcpSettings.ReadTimeout
	}
	return p.serialSettings.TimeoutInterByte
}

// ---- Raw buffer plane ----

// WriteRawBuffer exposes the raw payload plane to framers and pass-through
// diagnostics, bypassing WriteBuffer's client-arbitration guard.
func (p *Port) WriteRawBuffer(data []byte) status.Code {
	p.writeBuf = append(p.writeBuf[:0], data...)
	p.writeOff = 0
	return p.Write()
}

// ReadRawBuffer returns the bytes currently accumulated in the read buffer.
func (p *Port) ReadRawBuffer() []byte { return p.readBuf }

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
