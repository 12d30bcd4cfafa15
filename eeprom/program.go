package eeprom

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/synthread/go-i2ceprog/bus"
)

// WaitFunc blocks until the device has committed the last write
type WaitFunc func(d *Device) error

// Sleep returns a WaitFunc that waits a fixed time after every write
func Sleep(d time.Duration) WaitFunc {
	return func(*Device) error {
		time.Sleep(d)
		return nil
	}
}

// Config defines how a device is programmed
type Config struct {
	// Geometry defaults to AT24C04
	Geometry Geometry

	// ChunkSize is the number of bytes per page write and per verify read,
	// it defaults to the write page size
	ChunkSize int

	// Settle is the pause after each page write, ten times the write cycle
	// by default. Ignored when Wait is set.
	Settle time.Duration
	Wait   WaitFunc

	// WriteProtectGPIO is the sysfs number of the pin wired to WP, 0 if the
	// pin is tied low
	WriteProtectGPIO int
}

// Result tells how far a run got
type Result struct {
	Written   int
	Verified  int
	ShortRead bool
}

// Programmer writes an image to the device and reads it back for
// verification
type Programmer struct {
	config *Config
	dev    *Device
	wp     *writeProtect
	closed bool
}

// NewProgrammer takes ownership of t, it is released by Close
func NewProgrammer(t bus.Transport, c *Config) (*Programmer, error) {
	if c == nil {
		c = &Config{}
	}
	if c.Geometry.Size <= 0 {
		c.Geometry = AT24C04
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = c.Geometry.WritePage
	}
	if c.Settle <= 0 {
		c.Settle = 10 * c.Geometry.WriteCycle
	}
	if c.Wait == nil {
		c.Wait = Sleep(c.Settle)
	}

	p := &Programmer{
		config: c,
		dev:    NewDevice(t, c.Geometry),
	}

	if c.WriteProtectGPIO > 0 {
		wp, err := newWriteProtect(c.WriteProtectGPIO)
		if err != nil {
			return nil, errors.Wrap(err, "could not setup write protect pin")
		}
		p.wp = wp
	}

	return p, nil
}

// Device returns the device being programmed
func (p *Programmer) Device() *Device {
	return p.dev
}

// ProgramFile will program the device with the contents of the file at path
func (p *Programmer) ProgramFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return p.Program(f)
}

// Program writes the first Size bytes of src to the device, padding with
// Fill if src is shorter, then rewinds src and compares it to the device
// contents. The returned error is nil only when every chunk matched, any
// failure after the write pass satisfies errors.Is(err, ErrVerify).
func (p *Programmer) Program(src io.ReadSeeker) (*Result, error) {
	res := &Result{}

	if err := p.write(src, res); err != nil {
		return res, err
	}

	logrus.Info("verifying eeprom write")

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return res, &VerifyError{Err: errors.Wrap(err, "could not rewind input")}
	}
	if err := p.rewind(); err != nil {
		return res, &VerifyError{Err: errors.Wrap(err, "could not reset address counter")}
	}
	if err := p.verify(src, res); err != nil {
		return res, &VerifyError{Err: err}
	}

	return res, nil
}

// write runs the page write pass
func (p *Programmer) write(src io.Reader, res *Result) error {
	g := p.dev.Geometry()

	if p.wp != nil {
		p.wp.disable()
		defer p.wp.enable()
	}

	for i, addr := 0, 0; addr < g.Size; i, addr = i+1, addr+p.config.ChunkSize {
		n := min(p.config.ChunkSize, g.Size-addr)

		blk, err := ReadBlock(src, n, Fill)
		if err != nil {
			return err
		}
		if blk.Padded() && !res.ShortRead {
			logrus.Warn("short file read, padding with 0xFF")
			res.ShortRead = true
		}

		page, offset := g.Decompose(uint16(addr))
		logrus.Infof("page: %X, byte_no: %X: %s", page, offset, hexdump(blk.Data))

		if err := p.dev.WritePage(uint16(addr), blk.Data); err != nil {
			return errors.Wrapf(err, "could not write chunk %d", i)
		}
		res.Written++

		if err := p.config.Wait(p.dev); err != nil {
			return errors.Wrapf(err, "device not ready after chunk %d", i)
		}
	}

	return nil
}

// rewind moves the device address counter to 0 by reading the last byte and
// letting the counter roll over. Only parts that wrap on read support this.
func (p *Programmer) rewind() error {
	g := p.dev.Geometry()
	if !g.WrapsOnRead {
		return errors.Errorf("device at 0x%02x does not wrap its address counter", g.BaseAddr)
	}
	_, err := p.dev.ReadRandom(uint16(g.Size - 1))
	return err
}

// verify reads the device back chunk by chunk and compares it to src,
// stopping at the first failure
func (p *Programmer) verify(src io.Reader, res *Result) error {
	g := p.dev.Geometry()

	for i, addr := 0, 0; addr < g.Size; i, addr = i+1, addr+p.config.ChunkSize {
		n := min(p.config.ChunkSize, g.Size-addr)

		blk, ferr := ReadBlock(src, n, Fill)

		got := make([]byte, n)
		if err := p.dev.ReadSequential(got); err != nil {
			return errors.Wrapf(err, "could not read chunk %d", i)
		}

		logrus.Infof("eeprom buf: %s", hexdump(got))
		logrus.Infof("file buf:   %s", hexdump(blk.Data))

		if ferr != nil {
			return ferr
		}
		if !bytes.Equal(got, blk.Data) {
			return &MismatchError{
				Chunk: i,
				Addr:  uint16(addr),
				Want:  blk.Data,
				Got:   got,
			}
		}
		res.Verified++
	}

	return nil
}

// Close releases the bus and the write protect pin. Later calls are no-ops.
func (p *Programmer) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	if p.wp != nil {
		p.wp.cleanup()
	}

	logrus.Debug("programmer close")

	return p.dev.Close()
}
