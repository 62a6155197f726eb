package device

import (
	"testing"

	"github.com/serhmarch/gomodbuslib/status"
)

func TestStoreRoundTripRegisters(t *testing.T) {
	s := NewStore(16, 16, 16, 16)
	for i := 0; i < 10; i++ {
		s.SetHoldingRegister(i, uint16(i+1))
	}
	out := make([]uint16, 10)
	if st := s.ReadHoldingRegisters(1, 0, 10, out); !st.IsGood() {
		t.Fatalf("read: %v", st)
	}
	for i, v := range out {
		if v != uint16(i+1) {
			t.Fatalf("out[%d] = %d, want %d", i, v, i+1)
		}
	}
}

func TestStoreReadOutOfRange(t *testing.T) {
	s := NewStore(16, 16, 16, 16)
	out := make([]uint16, 20)
	if st := s.ReadHoldingRegisters(1, 0, 20, out); st != status.IllegalDataAddress {
		t.Fatalf("got %v, want IllegalDataAddress", st)
	}
}

func TestStoreWriteSingleCoilThenReadCoils(t *testing.T) {
	s := NewStore(16, 16, 16, 16)
	if st := s.WriteSingleCoil(1, 3, true); !st.IsGood() {
		t.Fatalf("write: %v", st)
	}
	out := make([]byte, 1)
	if st := s.ReadCoils(1, 0, 8, out); !st.IsGood() {
		t.Fatalf("read: %v", st)
	}
	if out[0] != 0x08 {
		t.Fatalf("out = %08b, want bit 3 set", out[0])
	}
}

func TestMaskWriteRegister(t *testing.T) {
	s := NewStore(16, 16, 16, 16)
	s.SetHoldingRegister(0, 0x0012)
	if st := s.MaskWriteRegister(1, 0, 0xF2, 0x25); !st.IsGood() {
		t.Fatalf("mask write: %v", st)
	}
	out := make([]uint16, 1)
	s.ReadHoldingRegisters(1, 0, 1, out)
	if out[0] != 0x17 {
		t.Fatalf("got 0x%04X, want 0x17", out[0])
	}
}

func TestReadWriteMultipleRegisters(t *testing.T) {
	s := NewStore(16, 16, 16, 16)
	for i := 0; i < 4; i++ {
		s.SetHoldingRegister(i, uint16(100+i))
	}
	out := make([]uint16, 4)
	st := s.ReadWriteMultipleRegisters(1, 0, 4, 4, 2, []uint16{1, 2}, out)
	if !st.IsGood() {
		t.Fatalf("rwmr: %v", st)
	}
	for i, v := range out {
		if v != uint16(100+i) {
			t.Fatalf("out[%d] = %d", i, v)
		}
	}
	written := make([]uint16, 2)
	s.ReadHoldingRegisters(1, 4, 2, written)
	if written[0] != 1 || written[1] != 2 {
		t.Fatalf("written = %v", written)
	}
}

func TestUnitMapDefaultAllowsAll(t *testing.T) {
	m := NewUnitMap()
	if !m.Allows(0) || !m.Allows(200) {
		t.Fatalf("empty map should allow all units")
	}
}

func TestUnitMapRestricts(t *testing.T) {
	m := NewUnitMap()
	m.Enable(5)
	if m.Allows(4) {
		t.Fatalf("unit 4 should not be allowed")
	}
	if !m.Allows(5) {
		t.Fatalf("unit 5 should be allowed")
	}
}
