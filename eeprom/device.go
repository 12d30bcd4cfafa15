package eeprom

import (
	"github.com/pkg/errors"
	"github.com/synthread/go-i2ceprog/bus"
)

var ErrInvalidArgument = errors.New("invalid eeprom argument")
var ErrAddressRange = errors.New("address outside eeprom")

// Device issues EEPROM accesses over a bus transport. Every operation is
// exactly one bus transaction and transport errors are returned unchanged.
type Device struct {
	bus      bus.Transport
	geometry Geometry
}

// NewDevice binds a transport to a device geometry
func NewDevice(t bus.Transport, g Geometry) *Device {
	return &Device{bus: t, geometry: g}
}

// Geometry returns the layout the device was created with
func (d *Device) Geometry() Geometry {
	return d.geometry
}

func (d *Device) checkRange(addr uint16) error {
	if int(addr) >= d.geometry.Size {
		return errors.Wrapf(ErrAddressRange, "0x%03x", addr)
	}
	return nil
}

// addressed builds a request whose command byte moves the device's internal
// pointer to addr
func (d *Device) addressed(op bus.Op, addr uint16, buf []byte) *bus.Request {
	_, offset := d.geometry.Decompose(addr)
	return &bus.Request{
		Op:   op,
		Addr: d.geometry.deviceAddr(addr),
		Cmd:  []byte{offset},
		Buf:  buf,
	}
}

// WriteByteAt writes a single byte at addr
func (d *Device) WriteByteAt(addr uint16, val byte) error {
	if err := d.checkRange(addr); err != nil {
		return err
	}
	return d.bus.Exec(d.addressed(bus.OpWriteWithStop, addr, []byte{val}))
}

// WritePage writes data starting at addr in one transaction. addr must sit
// on a write page boundary and data may not be longer than a write page,
// otherwise ErrInvalidArgument is returned without touching the bus.
func (d *Device) WritePage(addr uint16, data []byte) error {
	if len(data) > d.geometry.WritePage || !aligned(int(addr), d.geometry.WritePage) ||
		int(addr) >= d.geometry.Size {
		return errors.Wrapf(ErrInvalidArgument, "page write of %d bytes at 0x%03x", len(data), addr)
	}
	return d.bus.Exec(d.addressed(bus.OpWriteWithStop, addr, data))
}

// ReadSequential fills data from the device's current address counter. No
// address is sent, the device continues one past the last byte accessed.
func (d *Device) ReadSequential(data []byte) error {
	return d.bus.Exec(&bus.Request{
		Op:   bus.OpReadWithStop,
		Addr: d.geometry.BaseAddr,
		Buf:  data,
	})
}

// ReadRandom reads the byte at addr. As a side effect the device's address
// counter is left at addr+1, and on a 24C04 reading the last byte wraps it
// to 0. Callers rely on this to position a following ReadSequential.
func (d *Device) ReadRandom(addr uint16) (byte, error) {
	if err := d.checkRange(addr); err != nil {
		return 0, err
	}
	buf := make([]byte, 1)
	if err := d.bus.Exec(d.addressed(bus.OpReadWithStop, addr, buf)); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Close releases the underlying transport
func (d *Device) Close() error {
	return d.bus.Close()
}
