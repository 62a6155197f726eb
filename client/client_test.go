package client

import (
	"net"
	"testing"
	"time"

	"github.com/serhmarch/gomodbuslib/device"
	"github.com/serhmarch/gomodbuslib/port"
	"github.com/serhmarch/gomodbuslib/server"
	"github.com/serhmarch/gomodbuslib/status"
)

func newLinkedClientAndServer(t *testing.T, dev device.Device) (*Client, *server.Engine) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	cp := port.NewTCPServerPort("client-side", clientConn, true, nil, nil)
	cp.Open()
	sp := port.NewTCPServerPort("server-side", serverConn, true, nil, nil)

	c := New(cp, 1)
	e := &server.Engine{Port: sp, Device: dev}
	return c, e
}

// runServerOnce ticks the server engine once on a goroutine so the
// blocking client call on the other end of the pipe can complete.
func runServerOnce(e *server.Engine) {
	go e.Tick()
}

func TestClientReadHoldingRegistersRoundTrip(t *testing.T) {
	store := device.NewStore(0, 0, 16, 0)
	store.SetHoldingRegister(0, 0x1111)
	store.SetHoldingRegister(1, 0x2222)
	c, e := newLinkedClientAndServer(t, store)

	runServerOnce(e)
	out := make([]uint16, 2)
	if st := c.ReadHoldingRegisters(0, 2, out); !st.IsGood() {
		t.Fatalf("read: %v", st)
	}
	if out[0] != 0x1111 || out[1] != 0x2222 {
		t.Fatalf("out = %#v", out)
	}
}

func TestClientWriteSingleRegisterThenReadBack(t *testing.T) {
	store := device.NewStore(0, 0, 4, 0)
	c, e := newLinkedClientAndServer(t, store)

	runServerOnce(e)
	if st := c.WriteSingleRegister(2, 0x00FF); !st.IsGood() {
		t.Fatalf("write: %v", st)
	}

	runServerOnce(e)
	out := make([]uint16, 1)
	if st := c.ReadHoldingRegisters(2, 1, out); !st.IsGood() {
		t.Fatalf("read: %v", st)
	}
	if out[0] != 0x00FF {
		t.Fatalf("out = %#v", out)
	}
}

func TestClientReadCoilsBool(t *testing.T) {
	store := device.NewStore(8, 0, 0, 0)
	c, e := newLinkedClientAndServer(t, store)

	runServerOnce(e)
	if st := c.WriteSingleCoil(3, true); !st.IsGood() {
		t.Fatalf("write coil: %v", st)
	}

	runServerOnce(e)
	out := make([]bool, 8)
	if st := c.ReadCoilsBool(0, 8, out); !st.IsGood() {
		t.Fatalf("read coils: %v", st)
	}
	for i, v := range out {
		if i == 3 && !v {
			t.Fatalf("coil 3 not set")
		}
		if i != 3 && v {
			t.Fatalf("unexpected coil %d set", i)
		}
	}
}

func TestClientReadCountZeroIsIllegalDataValueWithoutRoundTrip(t *testing.T) {
	store := device.NewStore(0, 0, 4, 0)
	c, _ := newLinkedClientAndServer(t, store)

	out := make([]uint16, 0)
	st := c.ReadHoldingRegisters(0, 0, out)
	if st != status.IllegalDataValue {
		t.Fatalf("got %v, want IllegalDataValue for zero count", st)
	}
}

func TestClientMaskWriteRegister(t *testing.T) {
	store := device.NewStore(0, 0, 4, 0)
	store.SetHoldingRegister(0, 0x0012)
	c, e := newLinkedClientAndServer(t, store)

	runServerOnce(e)
	if st := c.MaskWriteRegister(0, 0x00F2, 0x0025); !st.IsGood() {
		t.Fatalf("mask write: %v", st)
	}

	runServerOnce(e)
	out := make([]uint16, 1)
	if st := c.ReadHoldingRegisters(0, 1, out); !st.IsGood() {
		t.Fatalf("read: %v", st)
	}
	if out[0] != 0x0017 {
		t.Fatalf("out = %#X, want 0x17", out[0])
	}
}

func TestBroadcastWriteSingleCoilWritesButReadsNoReply(t *testing.T) {
	store := device.NewStore(8, 0, 0, 0)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cp := port.NewTCPServerPort("client-side", clientConn, true, nil, nil)
	c := New(cp, 0)

	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 12)
		n := 0
		for n < len(buf) {
			k, err := serverConn.Read(buf[n:])
			if err != nil {
				readDone <- nil
				return
			}
			n += k
		}
		readDone <- buf
	}()

	if st := c.BroadcastWriteSingleCoil(3, true); !st.IsGood() {
		t.Fatalf("broadcast write: %v", st)
	}

	select {
	case buf := <-readDone:
		if buf == nil {
			t.Fatalf("server side never received the broadcast frame")
		}
		if buf[6] != 0 { // MBAP unit id must be 0 for a broadcast
			t.Fatalf("unit = %d, want 0", buf[6])
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for broadcast frame")
	}
}
