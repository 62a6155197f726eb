package framer

import (
	"bytes"
	"testing"

	"github.com/serhmarch/gomodbuslib/status"
)

func TestRTUScenario1(t *testing.T) {
	// spec.md §8 scenario 1: client request bytes.
	req := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xCD, 0xC5}
	f, st := RTU{}.DecodeRequest(req)
	if !st.IsGood() {
		t.Fatalf("decode request: %v", st)
	}
	if f.Unit != 1 || f.Function != 3 {
		t.Fatalf("unexpected unit/function: %+v", f)
	}

	payload := []byte{0x14}
	for i := 1; i <= 10; i++ {
		payload = append(payload, 0x00, byte(i))
	}
	reply, st := RTU{}.EncodeResponse(1, 3, payload)
	if !st.IsGood() {
		t.Fatalf("encode response: %v", st)
	}
	want := []byte{0x01, 0x03, 0x14, 0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04, 0x00, 0x05,
		0x00, 0x06, 0x00, 0x07, 0x00, 0x08, 0x00, 0x09, 0x00, 0x0A}
	if !bytes.Equal(reply[:len(want)], want) {
		t.Fatalf("reply body = % X, want % X", reply[:len(want)], want)
	}

	back, st := RTU{}.DecodeResponse(reply, 1, 3)
	if !st.IsGood() {
		t.Fatalf("decode reply: %v", st)
	}
	if !bytes.Equal(back.Payload, payload) {
		t.Fatalf("payload mismatch: % X vs % X", back.Payload, payload)
	}
}

func TestRTUSingleByteFlipIsCRCError(t *testing.T) {
	req := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xCD, 0xC5}
	for i := range req {
		corrupt := append([]byte(nil), req...)
		corrupt[i] ^= 0xFF
		_, st := RTU{}.DecodeRequest(corrupt)
		if st.IsGood() {
			t.Fatalf("flipping byte %d should not decode cleanly", i)
		}
		if st != status.Crc {
			t.Fatalf("flipping byte %d: got %v, want Crc", i, st)
		}
	}
}

func TestRTUResponseUnitFunctionMismatch(t *testing.T) {
	req := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}
	frame := append([]byte{}, req...)
	frame = appendCRCForTest(frame)
	if _, st := (RTU{}).DecodeResponse(frame, 2, 3); st != status.NotCorrectResponse {
		t.Fatalf("unit mismatch: got %v", st)
	}
	if _, st := (RTU{}).DecodeResponse(frame, 1, 4); st != status.NotCorrectResponse {
		t.Fatalf("function mismatch: got %v", st)
	}
}

func appendCRCForTest(b []byte) []byte {
	frame, _ := RTU{}.EncodeResponse(b[0], b[1], b[2:])
	return frame
}

func TestASCIIScenario2(t *testing.T) {
	frame, st := ASCII{}.EncodeRequest(1, 3, []byte{0x00, 0x00, 0x00, 0x0A}, false)
	if !st.IsGood() {
		t.Fatalf("encode: %v", st)
	}
	want := []byte(":01030000000AF2\r\n")
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame = %q, want %q", frame, want)
	}

	f, st := ASCII{}.DecodeRequest(frame)
	if !st.IsGood() {
		t.Fatalf("decode: %v", st)
	}
	if f.Unit != 1 || f.Function != 3 || !bytes.Equal(f.Payload, []byte{0, 0, 0, 0x0A}) {
		t.Fatalf("unexpected decode: %+v", f)
	}
}

func TestASCIIMissingColonAndCRLF(t *testing.T) {
	frame, _ := ASCII{}.EncodeRequest(1, 3, []byte{0, 0, 0, 0x0A}, false)
	bad := append([]byte(nil), frame...)
	bad[0] = '#'
	if _, st := (ASCII{}).DecodeRequest(bad); st != status.AscMissColon {
		t.Fatalf("got %v, want AscMissColon", st)
	}

	bad2 := append([]byte(nil), frame...)
	bad2[len(bad2)-1] = 'X'
	if _, st := (ASCII{}).DecodeRequest(bad2); st != status.AscMissCrLf {
		t.Fatalf("got %v, want AscMissCrLf", st)
	}
}

func TestTCPScenario3(t *testing.T) {
	tcp := NewTCP()
	tcp.nextID = 7
	frame, st := tcp.EncodeRequest(1, 3, []byte{0x00, 0x00, 0x00, 0x0A}, false)
	if !st.IsGood() {
		t.Fatalf("encode: %v", st)
	}
	want := []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame = % X, want % X", frame, want)
	}

	goodReply := append([]byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x03, 0x01}, 0x83, 0x02)
	if _, st := tcp.DecodeResponse(goodReply, 1, 3); !st.IsBad() || st.ExceptionByte() != 0x02 {
		t.Fatalf("got %v", st)
	}

	tcp2 := NewTCP()
	tcp2.nextID = 7
	tcp2.EncodeRequest(1, 3, []byte{0, 0, 0, 0x0A}, false)
	wrongID := append([]byte{0x00, 0x08, 0x00, 0x00, 0x00, 0x03, 0x01}, 0x03, 0x02)
	if _, st := tcp2.DecodeResponse(wrongID, 1, 3); st != status.NotCorrectResponse {
		t.Fatalf("wrong id: got %v, want NotCorrectResponse", st)
	}
}

func TestTCPTransactionIDWraps(t *testing.T) {
	tcp := NewTCP()
	tcp.nextID = 0xFFFF
	frame, _ := tcp.EncodeRequest(1, 3, nil, false)
	if frame[0] != 0xFF || frame[1] != 0xFF {
		t.Fatalf("expected id 0xFFFF in first frame, got % X", frame[:2])
	}
	frame2, _ := tcp.EncodeRequest(1, 3, nil, false)
	if frame2[0] != 0x00 || frame2[1] != 0x00 {
		t.Fatalf("expected wraparound to 0x0000, got % X", frame2[:2])
	}
}

func TestTCPRepeatedPreservesTransactionID(t *testing.T) {
	tcp := NewTCP()
	tcp.nextID = 5
	first, _ := tcp.EncodeRequest(1, 3, nil, false)
	second, _ := tcp.EncodeRequest(1, 3, nil, true)
	if !bytes.Equal(first[:2], second[:2]) {
		t.Fatalf("repeated request changed transaction id: %X vs %X", first[:2], second[:2])
	}
}

func TestRTUWriteBufferOverflow(t *testing.T) {
	big := make([]byte, MaxRTUPayload+1)
	if _, st := (RTU{}).EncodeRequest(1, 3, big, false); st != status.WriteBufferOverflow {
		t.Fatalf("got %v, want WriteBufferOverflow", st)
	}
}
