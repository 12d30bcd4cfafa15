package bus

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

var DefaultBaud = 19200
var DefaultTTY = "/dev/ttyUSB0"

var BridgeTimeout = 500 * time.Millisecond

var ErrTimeout = errors.New("timed out reading from i2c bridge")

// USB-I2C adapter command bytes, one per register address width
const (
	bridgeCmdAD0 byte = 0x54
	bridgeCmdAD1 byte = 0x55
	bridgeCmdAD2 byte = 0x56
)

// bridgeMaxData is the largest payload the adapter accepts per command
const bridgeMaxData = 60

// BridgeConfig defines how to reach a serial USB-I2C adapter
type BridgeConfig struct {
	TTY  string
	Baud int
}

// Bridge is a transport that tunnels I2C transactions through a serial
// USB-I2C adapter speaking the Devantech command set
type Bridge struct {
	port io.ReadWriteCloser

	rx     chan byte
	done   chan struct{}
	closer sync.Once
}

// OpenBridge opens the serial port of the adapter
func OpenBridge(c *BridgeConfig) (*Bridge, error) {
	if c == nil {
		c = &BridgeConfig{}
	}
	tty := c.TTY
	if tty == "" {
		tty = DefaultTTY
	}
	baud := c.Baud
	if baud <= 0 {
		baud = DefaultBaud
	}

	port, err := serial.Open(tty, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.TwoStopBits,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not open serial")
	}
	if err := port.SetReadTimeout(1 * time.Millisecond); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "could not set read timeout")
	}

	logrus.Debugf("bridge open %s @ %d", tty, baud)

	return NewBridge(port), nil
}

// NewBridge wraps an already open port. The bridge takes ownership of it.
func NewBridge(port io.ReadWriteCloser) *Bridge {
	b := &Bridge{
		port: port,
		rx:   make(chan byte, 64),
		done: make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// readLoop forwards every byte received on the port to the rx chan until the
// port is closed
func (b *Bridge) readLoop() {
	buf := make([]byte, 64)

	for {
		n, err := b.port.Read(buf)
		if err != nil {
			select {
			case <-b.done:
			default:
				if perr, ok := err.(*serial.PortError); !ok || perr.Code() != serial.PortClosed {
					logrus.Error("bridge rx err: ", err.Error())
				}
			}
			return
		}

		for _, c := range buf[:n] {
			select {
			case b.rx <- c:
			case <-b.done:
				return
			}
		}
		if n > 0 {
			logrus.Debugf("bridge rx: %x", buf[:n])
		}
	}
}

// Exec frames the request as one adapter command and waits for its answer
func (b *Bridge) Exec(req *Request) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	frame, err := bridgeFrame(req)
	if err != nil {
		return err
	}

	// late answers to a timed out command would be taken for this one
	b.drain()

	if _, err := b.port.Write(frame); err != nil {
		return errors.Wrap(err, "bridge tx")
	}
	logrus.Debugf("bridge tx: %x", frame)

	if req.Op == OpWriteWithStop {
		status, err := b.readN(1, BridgeTimeout)
		if err != nil {
			return err
		}
		if status[0] == 0 {
			return errors.Wrapf(ErrNACK, "i2c %s", req)
		}
		return nil
	}

	bs, err := b.readN(len(req.Buf), BridgeTimeout)
	if err != nil {
		return err
	}
	copy(req.Buf, bs)

	return nil
}

// bridgeFrame builds the adapter command for a request
func bridgeFrame(req *Request) ([]byte, error) {
	if len(req.Buf) > bridgeMaxData {
		return nil, errors.Errorf("bridge transfer of %d bytes exceeds %d", len(req.Buf), bridgeMaxData)
	}

	var cmd byte
	switch len(req.Cmd) {
	case 0:
		cmd = bridgeCmdAD0
	case 1:
		cmd = bridgeCmdAD1
	case 2:
		cmd = bridgeCmdAD2
	default:
		return nil, errors.Errorf("bridge does not support %d command bytes", len(req.Cmd))
	}

	addr := req.Addr << 1
	switch req.Op {
	case OpReadWithStop:
		addr |= 1
	case OpWriteWithStop:
	default:
		return nil, errors.Errorf("unsupported op %s", req.Op)
	}

	frame := make([]byte, 0, 4+len(req.Cmd)+len(req.Buf))
	frame = append(frame, cmd, addr)
	frame = append(frame, req.Cmd...)
	frame = append(frame, byte(len(req.Buf)))
	if req.Op == OpWriteWithStop {
		frame = append(frame, req.Buf...)
	}

	return frame, nil
}

// drain discards bytes already received
func (b *Bridge) drain() {
	for {
		select {
		case c := <-b.rx:
			logrus.Debugf("bridge drop: %02x", c)
		default:
			return
		}
	}
}

// readN will read exactly n bytes from the rx chan
func (b *Bridge) readN(n int, to time.Duration) ([]byte, error) {
	bs := make([]byte, n)

	for i := 0; i < n; i++ {
		select {
		case <-time.After(to):
			return nil, ErrTimeout
		case <-b.done:
			return nil, ErrClosed
		case c := <-b.rx:
			bs[i] = c
		}
	}

	return bs, nil
}

// Close will close the serial port
func (b *Bridge) Close() (err error) {
	b.closer.Do(func() {
		close(b.done)
		err = b.port.Close()
		logrus.Debug("bridge close")
	})
	return
}
