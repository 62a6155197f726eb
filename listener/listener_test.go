package listener

import (
	"net"
	"testing"
	"time"

	"github.com/serhmarch/gomodbuslib/device"
	"github.com/serhmarch/gomodbuslib/framer"
)

func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestListenerAcceptsAndServesOneRequest(t *testing.T) {
	addr := freeLoopbackAddr(t)
	store := device.NewStore(0, 0, 4, 0)
	store.SetHoldingRegister(0, 0x2A)

	l := New(addr, 10, store, nil, nil)
	if st := l.Open(); !st.IsGood() {
		t.Fatalf("open: %v", st)
	}
	defer l.Close()

	stop := make(chan struct{})
	go l.Serve(stop)
	defer close(stop)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frame, _ := framer.NewTCP().EncodeRequest(1, 3, []byte{0, 0, 0, 1}, false)
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 11)
	n := 0
	for n < len(buf) {
		k, err := conn.Read(buf[n:])
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
		n += k
	}
	if buf[7] != 3 || buf[8] != 2 || buf[9] != 0 || buf[10] != 0x2A {
		t.Fatalf("unexpected reply: % X", buf)
	}
}

func TestListenerAdmissionRejectsOverMaxConn(t *testing.T) {
	addr := freeLoopbackAddr(t)
	store := device.NewStore(0, 0, 4, 0)

	l := New(addr, 1, store, nil, nil)
	if st := l.Open(); !st.IsGood() {
		t.Fatalf("open: %v", st)
	}
	defer l.Close()

	stop := make(chan struct{})
	go l.Serve(stop)
	defer close(stop)

	first, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()

	// Give the accept loop a moment to register the first connection
	// before trying the second.
	time.Sleep(50 * time.Millisecond)

	second, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := second.Read(buf); err == nil {
		t.Fatalf("expected the over-capacity connection to be closed by the server")
	}
}

func TestListenerReapsConnectionAfterRemoteClose(t *testing.T) {
	addr := freeLoopbackAddr(t)
	store := device.NewStore(0, 0, 4, 0)

	l := New(addr, 10, store, nil, nil)
	if st := l.Open(); !st.IsGood() {
		t.Fatalf("open: %v", st)
	}
	defer l.Close()

	stop := make(chan struct{})
	go l.Serve(stop)
	defer close(stop)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	// Give the accept loop a moment to register the connection.
	deadline := time.Now().Add(time.Second)
	for l.ConnCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if l.ConnCount() != 1 {
		t.Fatalf("ConnCount() = %d, want 1 before close", l.ConnCount())
	}

	conn.Close() // simulate the remote peer disconnecting

	deadline = time.Now().Add(time.Second)
	for l.ConnCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if l.ConnCount() != 0 {
		t.Fatalf("ConnCount() = %d, want 0 after remote close", l.ConnCount())
	}
}
