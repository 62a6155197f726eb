// Package listener implements the TCP listener (spec.md §4.9): it accepts
// connections, wraps each in a server-role port.Port and server.Engine
// pair, and ticks every live connection once per Tick call. It generalizes
// the teacher's TCPServer (transport/tcp.go), which spawns one goroutine per
// connection around a fixed RequestHandler, into the cooperative tick model
// the rest of this module uses: Tick never blocks longer than a short OS
// poll, so a caller can drive many listeners from one loop.
package listener

import (
	"net"

	"go.uber.org/zap"

	"github.com/serhmarch/gomodbuslib/device"
	"github.com/serhmarch/gomodbuslib/port"
	"github.com/serhmarch/gomodbuslib/server"
	"github.com/serhmarch/gomodbuslib/signal"
	"github.com/serhmarch/gomodbuslib/status"
)

// Listener binds a TCP socket and serves Modbus connections against a
// shared device.Device.
type Listener struct {
	Addr      string
	MaxConn   int
	Device    device.Device
	UnitMap   *device.UnitMap
	Broadcast bool
	Signals   *signal.Registry
	Log       *zap.Logger

	ln      net.Listener
	conns   []*connEntry
	closing bool
	accepts chan net.Conn
	done    chan struct{}
}

type connEntry struct {
	port   *port.Port
	engine *server.Engine
}

// New returns an unbound Listener. Call Open before Tick.
func New(addr string, maxConn int, dev device.Device, sig *signal.Registry, log *zap.Logger) *Listener {
	return &Listener{Addr: addr, MaxConn: maxConn, Device: dev, Signals: sig, Log: log}
}

// Open binds and begins listening. Mirrors the teacher's
// socket-create/setReuseAddr/bind/listen sequence via net.Listen, which
// sets SO_REUSEADDR on Unix targets by default. A single background
// goroutine pumps accepted connections onto a channel so Tick can poll it
// without blocking or spawning per-tick goroutines, the way the teacher's
// acceptLoop (transport/tcp.go) runs once per server rather than once per
// event.
func (l *Listener) Open() status.Code {
	ln, err := net.Listen("tcp", l.Addr)
	if err != nil {
		return status.TcpListen
	}
	l.ln = ln
	l.accepts = make(chan net.Conn)
	l.done = make(chan struct{})
	go l.acceptPump()
	return status.Good
}

func (l *Listener) acceptPump() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return // listener closed
		}
		select {
		case l.accepts <- conn:
		case <-l.done:
			conn.Close()
			return
		}
	}
}

// Tick runs one iteration of the listener's lifecycle loop (spec.md §4.9):
// accept at most one pending connection (admitting it only if under
// MaxConn), then tick every live connection's server engine, then reap any
// connection whose port has closed.
func (l *Listener) Tick() status.Code {
	if l.ln == nil {
		return status.TcpListen
	}

	if !l.closing {
		if err := l.acceptOnce(); err != nil {
			return status.TcpAccept
		}
	}

	for _, c := range l.conns {
		c.engine.Tick()
	}
	l.reapClosed()

	return status.Good
}

func (l *Listener) acceptOnce() error {
	select {
	case conn := <-l.accepts:
		if l.MaxConn > 0 && len(l.conns) >= l.MaxConn {
			_ = conn.Close() // admission: over capacity, close silently, no signal
			return nil
		}
		p := port.NewTCPServerPort(conn.RemoteAddr().String(), conn, false, l.Signals, l.Log)
		e := &server.Engine{Port: p, Device: l.Device, UnitMap: l.UnitMap, Broadcast: l.Broadcast, Log: l.Log}
		l.conns = append(l.conns, &connEntry{port: p, engine: e})
		if l.Signals != nil {
			l.Signals.Emit(signal.NewConnection, signal.ConnArgs{Listener: l.Addr, Remote: conn.RemoteAddr().String()})
		}
		return nil
	default:
		return nil // no pending connection this tick
	}
}

func (l *Listener) reapClosed() {
	live := l.conns[:0]
	for _, c := range l.conns {
		if c.port.State() == port.StateClosed {
			if l.Signals != nil {
				l.Signals.Emit(signal.CloseConnection, signal.ConnArgs{Listener: l.Addr, Remote: c.port.Name})
			}
			continue
		}
		live = append(live, c)
	}
	l.conns = live
}

// Close begins graceful shutdown: the listening socket stops accepting and
// every live connection is asked to close. Subsequent Tick calls drain
// connections as their state machines reach Closed.
func (l *Listener) Close() status.Code {
	if l.closing {
		return status.Good
	}
	l.closing = true
	if l.done != nil {
		close(l.done)
	}
	if l.ln != nil {
		_ = l.ln.Close()
	}
	for _, c := range l.conns {
		c.port.Close()
	}
	return status.Good
}

// ConnCount reports the number of currently tracked connections.
func (l *Listener) ConnCount() int { return len(l.conns) }

// Serve is an optional convenience runner atop the cooperative Tick core:
// it loops Tick on the calling goroutine until stop is closed, then calls
// Close and returns, for callers who don't want to drive their own loop.
func (l *Listener) Serve(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			l.Close()
			return
		default:
			l.Tick()
		}
	}
}
