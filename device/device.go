// Package device defines the capability set a server resource engine
// dispatches through (spec.md §4.8/§6) and the unit map that gates which
// unit ids a server answers to. It generalizes the teacher's DataStore
// interface (modbus/types.go) from the six data-access methods it names to
// the full sixteen-function set spec.md requires, with every method
// returning a status.Code instead of a Go error so it composes directly
// with the server engine's dispatch loop.
package device

import "github.com/serhmarch/gomodbuslib/status"

// Device is the polymorphic capability set a server resource engine routes
// requests to. Every method returns a status.Code; Good or a standard
// Modbus exception code are both legal device-level outcomes, and the
// server is responsible for turning the latter into a wire exception
// reply.
type Device interface {
	ReadCoils(unit uint8, offset, count int, out []byte) status.Code
	ReadDiscreteInputs(unit uint8, offset, count int, out []byte) status.Code
	ReadHoldingRegisters(unit uint8, offset, count int, out []uint16) status.Code
	ReadInputRegisters(unit uint8, offset, count int, out []uint16) status.Code
	WriteSingleCoil(unit uint8, offset int, value bool) status.Code
	WriteSingleRegister(unit uint8, offset int, value uint16) status.Code
	ReadExceptionStatus(unit uint8, out *byte) status.Code
	Diagnostics(unit uint8, subFunc uint16, data []byte) ([]byte, status.Code)
	GetCommEventCounter(unit uint8) (statusWord, count uint16, code status.Code)
	GetCommEventLog(unit uint8) (statusWord, eventCount, msgCount uint16, events []byte, code status.Code)
	WriteMultipleCoils(unit uint8, offset, count int, in []byte) status.Code
	WriteMultipleRegisters(unit uint8, offset, count int, in []uint16) status.Code
	ReportServerID(unit uint8) (id []byte, code status.Code)
	MaskWriteRegister(unit uint8, offset int, andMask, orMask uint16) status.Code
	ReadWriteMultipleRegisters(unit uint8, readOffset, readCount, writeOffset, writeCount int, writeData []uint16, out []uint16) status.Code
	ReadFIFOQueue(unit uint8, address int) (values []uint16, code status.Code)
}

// UnitMap is a 256-bit gate on which unit ids a server answers to
// (spec.md §3: "32-byte bitmap addressed by unit id 0..255"). A nil/zero
// UnitMap accepts every unit.
type UnitMap struct {
	bits    [32]byte
	enabled bool
}

// NewUnitMap returns an empty map; until Enable is called it accepts every
// unit, and once Enable has been called only the enabled units pass.
func NewUnitMap() *UnitMap { return &UnitMap{} }

// Enable marks unit as servable.
func (m *UnitMap) Enable(unit uint8) {
	m.enabled = true
	m.bits[unit/8] |= 1 << (unit % 8)
}

// Disable marks unit as not servable.
func (m *UnitMap) Disable(unit uint8) {
	m.bits[unit/8] &^= 1 << (unit % 8)
}

// Allows reports whether unit should be processed. A nil map, or one on
// which Enable was never called, allows every unit (spec.md §3: "If
// absent, all units are accepted").
func (m *UnitMap) Allows(unit uint8) bool {
	if m == nil || !m.enabled {
		return true
	}
	return m.bits[unit/8]&(1<<(unit%8)) != 0
}
