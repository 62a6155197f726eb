package port

import (
	"net"
	"testing"
	"time"

	"github.com/serhmarch/gomodbuslib/status"
)

func TestWriteBufferThenReadRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cp := NewTCPServerPort("client-side", client, true, nil, nil)
	cp.tcpSettings = TCPSettings{ReadTimeout: time.Second}

	go func() {
		buf := make([]byte, 12)
		n := 0
		for n < len(buf) {
			k, err := server.Read(buf[n:])
			if err != nil {
				return
			}
			n += k
		}
		server.Write(buf) // echo the MBAP frame back verbatim
	}()

	frame, st := cp.Framer.EncodeRequest(1, 3, []byte{0, 0, 0, 0x0A}, false)
	if !st.IsGood() {
		t.Fatalf("encode: %v", st)
	}
	if st := cp.WriteBuffer(frame); !st.IsGood() {
		t.Fatalf("write: %v", st)
	}
	if st := cp.Read(); !st.IsGood() {
		t.Fatalf("read: %v", st)
	}
	f, st := cp.Framer.DecodeResponse(cp.ReadRawBuffer(), 1, 3)
	if !st.IsGood() {
		t.Fatalf("decode: %v", st)
	}
	if f.Unit != 1 || f.Function != 3 {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestWriteBufferOverflow(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	cp := NewTCPServerPort("p", client, true, nil, nil)
	big := make([]byte, bufferSize(TCP)+1)
	if st := cp.WriteBuffer(big); st != status.WriteBufferOverflow {
		t.Fatalf("got %v, want WriteBufferOverflow", st)
	}
}

func TestOpenOnAlreadyOpenedPortIsNoOp(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	cp := NewTCPServerPort("p", client, true, nil, nil)
	if st := cp.Open(); !st.IsGood() {
		t.Fatalf("open: %v", st)
	}
	if cp.State() != StateOpened {
		t.Fatalf("state = %v", cp.State())
	}
}

func TestCloseTransitionsToClosed(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	cp := NewTCPServerPort("p", client, true, nil, nil)
	if st := cp.Close(); !st.IsGood() {
		t.Fatalf("close: %v", st)
	}
	if cp.State() != StateClosed {
		t.Fatalf("state = %v", cp.State())
	}
}

func TestArbitrationGrantsOneOwnerAtATime(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	cp := NewTCPServerPort("p", client, true, nil, nil)

	alice, bob := 1, 2
	if st := cp.GetRequestStatus(&alice); st != RequestEnable {
		t.Fatalf("alice first call: got %v", st)
	}
	if st := cp.GetRequestStatus(&bob); st != RequestDisable {
		t.Fatalf("bob while alice owns: got %v", st)
	}
	if st := cp.GetRequestStatus(&alice); st != RequestProcess {
		t.Fatalf("alice second call: got %v", st)
	}
	cp.ReleaseClient(&alice)
	if st := cp.GetRequestStatus(&bob); st != RequestEnable {
		t.Fatalf("bob after release: got %v", st)
	}
}
