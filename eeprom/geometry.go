package eeprom

import "time"

// Geometry describes the addressing layout of a serial EEPROM. The device
// address byte is BaseAddr OR'd with the device-select bits, which pick one
// SelectBlock sized region; the one byte word address selects a byte inside
// that region. Writes may not cross a WritePage boundary.
type Geometry struct {
	BaseAddr    uint8
	Size        int
	WritePage   int
	SelectBlock int

	// WriteCycle is the documented worst case internal write time
	WriteCycle time.Duration

	// WrapsOnRead is set when reading the last byte rolls the address
	// counter over to 0
	WrapsOnRead bool
}

// AT24C04 is the 4 Kbit (512 x 8) Atmel part. A0 of the device address
// picks the 256 byte half.
var AT24C04 = Geometry{
	BaseAddr:    0x50,
	Size:        512,
	WritePage:   16,
	SelectBlock: 256,
	WriteCycle:  500 * time.Microsecond,
	WrapsOnRead: true,
}

// Decompose splits a linear address into its device-select bits and the
// word address inside the selected block
func (g Geometry) Decompose(addr uint16) (page uint8, offset uint8) {
	blocks := g.Size / g.SelectBlock
	page = uint8((int(addr) / g.SelectBlock) & (blocks - 1))
	offset = uint8(int(addr) % g.SelectBlock)
	return
}

// Decompose splits a linear AT24C04 address into (addr >> 8) & 1 and
// addr & 0xff
func Decompose(addr uint16) (page uint8, offset uint8) {
	return AT24C04.Decompose(addr)
}

// deviceAddr is the bus address that reaches the block holding addr
func (g Geometry) deviceAddr(addr uint16) uint8 {
	page, _ := g.Decompose(addr)
	return g.BaseAddr | page
}
