//go:build linux

package bus

import (
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// from linux/i2c-dev.h and linux/i2c.h
const (
	ioctlI2CRDWR = 0x0707
	i2cMsgRead   = 0x0001
)

var DefaultDevice = "/dev/i2c-1"

type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type i2cRdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// Devfs is a transport backed by a Linux i2c-dev character device
type Devfs struct {
	path string
	fd   int
}

// OpenDevfs opens the i2c-dev node at path, DefaultDevice if empty
func OpenDevfs(path string) (*Devfs, error) {
	if path == "" {
		path = DefaultDevice
	}
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", path)
	}

	logrus.Debugf("i2c open %s", path)

	return &Devfs{path: path, fd: fd}, nil
}

// Exec runs the request as a single I2C_RDWR transfer. A read with a command
// is issued as write(cmd) + repeated start + read, a write sends cmd and buf
// in one message.
func (d *Devfs) Exec(req *Request) error {
	if d.fd < 0 {
		return ErrClosed
	}

	var msgs []i2cMsg
	var out []byte

	switch req.Op {
	case OpWriteWithStop:
		out = make([]byte, 0, len(req.Cmd)+len(req.Buf))
		out = append(out, req.Cmd...)
		out = append(out, req.Buf...)
		msgs = append(msgs, newMsg(req.Addr, 0, out))
	case OpReadWithStop:
		if len(req.Cmd) > 0 {
			msgs = append(msgs, newMsg(req.Addr, 0, req.Cmd))
		}
		msgs = append(msgs, newMsg(req.Addr, i2cMsgRead, req.Buf))
	default:
		return errors.Errorf("unsupported op %s", req.Op)
	}

	data := i2cRdwrData{
		msgs:  uintptr(unsafe.Pointer(&msgs[0])),
		nmsgs: uint32(len(msgs)),
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), ioctlI2CRDWR, uintptr(unsafe.Pointer(&data)))
	runtime.KeepAlive(msgs)
	runtime.KeepAlive(out)
	runtime.KeepAlive(req)
	if errno != 0 {
		return errors.Wrapf(errno, "i2c %s", req)
	}

	logrus.Debugf("i2c %s: %x", req, req.Buf)

	return nil
}

func newMsg(addr uint8, flags uint16, buf []byte) i2cMsg {
	m := i2cMsg{addr: uint16(addr), flags: flags, len: uint16(len(buf))}
	if len(buf) > 0 {
		m.buf = uintptr(unsafe.Pointer(&buf[0]))
	}
	return m
}

// Close releases the device node
func (d *Devfs) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1

	logrus.Debugf("i2c close %s", d.path)

	return err
}
