// Package bus executes I2C transactions for the EEPROM programmer.
package bus

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrClosed = errors.New("i2c bus is closed")
var ErrNACK = errors.New("i2c device did not acknowledge")

// Op is the kind of transaction executed on the bus
type Op int

const (
	OpReadWithStop Op = iota
	OpWriteWithStop
)

func (o Op) String() string {
	switch o {
	case OpReadWithStop:
		return "read"
	case OpWriteWithStop:
		return "write"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Request describes one I2C transaction. Cmd is sent to the device first
// (usually a register or memory address) and may be empty. For reads Buf
// receives len(Buf) bytes, for writes Buf is sent after Cmd.
type Request struct {
	Op   Op
	Addr uint8
	Cmd  []byte
	Buf  []byte
}

func (r *Request) String() string {
	return fmt.Sprintf("%s addr=0x%02x cmd=%x len=%d", r.Op, r.Addr, r.Cmd, len(r.Buf))
}

// Transport executes requests against an I2C bus. Implementations own the
// underlying handle until Close is called.
type Transport interface {
	Exec(req *Request) error
	Close() error
}
