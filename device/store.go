package device

import (
	"sync"

	"github.com/serhmarch/gomodbuslib/status"
	"github.com/serhmarch/gomodbuslib/wire"
)

// Protocol maxima from spec.md §4.7/§3, not the teacher's modbus/constants.go
// values (the teacher's 2000/125 limits predate this spec's 2040/127/121
// figures and are superseded here).
const (
	MaxDiscreteCount  = 2040
	MaxRegisterCount  = 127
	MaxReadWriteCount = 121
)

// Store is an in-memory reference Device, generalized from the teacher's
// DefaultDataStore (server.go) to the full sixteen-function interface and
// to status.Code returns instead of Go errors.
type Store struct {
	mu sync.RWMutex

	coils          []byte // packed bits, memory.go layout
	discreteInputs []byte
	holdingRegs    []uint16
	inputRegs      []uint16

	coilCount  int
	inputCount int

	exceptionStatus byte
	serverID        []byte

	diag struct {
		busMessageCount    uint16
		busCommErrorCount  uint16
		busExceptionCount  uint16
		serverMessageCount uint16
		echoMode           bool
	}
	commEventCount uint16
	commEventLog   []byte
}

// NewStore allocates a Store with the given coil/discrete/holding/input
// sizes.
func NewStore(coilCount, discreteCount, holdingCount, inputCount int) *Store {
	return &Store{
		coils:          make([]byte, (coilCount+7)/8),
		discreteInputs: make([]byte, (discreteCount+7)/8),
		holdingRegs:    make([]uint16, holdingCount),
		inputRegs:      make([]uint16, inputCount),
		coilCount:      coilCount,
		inputCount:     discreteCount,
		serverID:       []byte{0x01},
	}
}

// SetHoldingRegister seeds a single holding register, for test fixtures and
// server bootstrap.
func (s *Store) SetHoldingRegister(offset int, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdingRegs[offset] = value
}

// SetInputRegister seeds a single input register.
func (s *Store) SetInputRegister(offset int, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputRegs[offset] = value
}

func (s *Store) ReadCoils(unit uint8, offset, count int, out []byte) status.Code {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.diag.busMessageCount++
	return wire.ReadMemBits(offset, count, out, s.coils, s.coilCount)
}

func (s *Store) ReadDiscreteInputs(unit uint8, offset, count int, out []byte) status.Code {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.diag.busMessageCount++
	return wire.ReadMemBits(offset, count, out, s.discreteInputs, s.inputCount)
}

func (s *Store) ReadHoldingRegisters(unit uint8, offset, count int, out []uint16) status.Code {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.diag.busMessageCount++
	return wire.ReadMemRegs(offset, count, out, s.holdingRegs, len(s.holdingRegs))
}

func (s *Store) ReadInputRegisters(unit uint8, offset, count int, out []uint16) status.Code {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.diag.busMessageCount++
	return wire.ReadMemRegs(offset, count, out, s.inputRegs, len(s.inputRegs))
}

func (s *Store) WriteSingleCoil(unit uint8, offset int, value bool) status.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := []byte{0}
	if value {
		in[0] = 1
	}
	return wire.WriteMemBits(offset, 1, in, s.coils, s.coilCount)
}

func (s *Store) WriteSingleRegister(unit uint8, offset int, value uint16) status.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wire.WriteMemRegs(offset, 1, []uint16{value}, s.holdingRegs, len(s.holdingRegs))
}

func (s *Store) WriteMultipleCoils(unit uint8, offset, count int, in []byte) status.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wire.WriteMemBits(offset, count, in, s.coils, s.coilCount)
}

func (s *Store) WriteMultipleRegisters(unit uint8, offset, count int, in []uint16) status.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wire.WriteMemRegs(offset, count, in, s.holdingRegs, len(s.holdingRegs))
}

func (s *Store) ReadExceptionStatus(unit uint8, out *byte) status.Code {
	s.mu.RLock()
	defer s.mu.RUnlock()
	*out = s.exceptionStatus
	return status.Good
}

// SetExceptionStatus sets the byte returned by ReadExceptionStatus.
func (s *Store) SetExceptionStatus(b byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptionStatus = b
}

// Diagnostics implements sub-function 0x00 (return query data, echo) and
// 0x0A (clear counters); anything else echoes data back unchanged, matching
// the teacher's GetDiagnosticData default case.
func (s *Store) Diagnostics(unit uint8, subFunc uint16, data []byte) ([]byte, status.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch subFunc {
	case 0x0A:
		s.diag.busMessageCount = 0
		s.diag.busCommErrorCount = 0
		s.diag.busExceptionCount = 0
		s.diag.serverMessageCount = 0
		return append([]byte(nil), data...), status.Good
	default:
		return append([]byte(nil), data...), status.Good
	}
}

func (s *Store) GetCommEventCounter(unit uint8) (uint16, uint16, status.Code) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return 0, s.commEventCount, status.Good
}

func (s *Store) GetCommEventLog(unit uint8) (uint16, uint16, uint16, []byte, status.Code) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return 0, s.commEventCount, s.diag.serverMessageCount, append([]byte(nil), s.commEventLog...), status.Good
}

func (s *Store) ReportServerID(unit uint8) ([]byte, status.Code) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.serverID...), status.Good
}

func (s *Store) MaskWriteRegister(unit uint8, offset int, andMask, orMask uint16) status.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset >= len(s.holdingRegs) {
		return status.IllegalDataAddress
	}
	cur := s.holdingRegs[offset]
	s.holdingRegs[offset] = (cur & andMask) | (orMask &^ andMask)
	return status.Good
}

func (s *Store) ReadWriteMultipleRegisters(unit uint8, readOffset, readCount, writeOffset, writeCount int, writeData []uint16, out []uint16) status.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := wire.WriteMemRegs(writeOffset, writeCount, writeData, s.holdingRegs, len(s.holdingRegs)); !st.IsGood() {
		return st
	}
	return wire.ReadMemRegs(readOffset, readCount, out, s.holdingRegs, len(s.holdingRegs))
}

func (s *Store) ReadFIFOQueue(unit uint8, address int) ([]uint16, status.Code) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if address < 0 || address >= len(s.holdingRegs) {
		return nil, status.IllegalDataAddress
	}
	return []uint16{s.holdingRegs[address]}, status.Good
}
