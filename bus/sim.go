package bus

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SimConfig describes the geometry of the simulated device. Zero values
// default to a 24C04: 512 bytes at 0x50, 16 byte write pages and one
// device-select bit.
type SimConfig struct {
	BaseAddr    uint8
	Size        int
	WritePage   int
	SelectBlock int

	// WriteCycle makes the device NACK any access for this long after a
	// write. Zero disables the busy window.
	WriteCycle time.Duration
}

// Sim is an in-memory serial EEPROM that answers requests the way a
// 24C04 does. Page writes roll over inside their write page and the address
// counter wraps from the last byte back to 0. Reads without a command byte
// continue from the counter and ignore the device-select bits.
type Sim struct {
	mu     sync.Mutex
	config SimConfig

	mem    []byte
	ptr    int
	closed bool

	busyUntil time.Time
	now       func() time.Time

	requests []Request
	failAt   int
	failErr  error
}

// NewSim creates an erased simulated device
func NewSim(c *SimConfig) *Sim {
	cfg := SimConfig{}
	if c != nil {
		cfg = *c
	}
	if cfg.BaseAddr == 0 {
		cfg.BaseAddr = 0x50
	}
	if cfg.Size <= 0 {
		cfg.Size = 512
	}
	if cfg.WritePage <= 0 {
		cfg.WritePage = 16
	}
	if cfg.SelectBlock <= 0 {
		cfg.SelectBlock = 256
	}

	s := &Sim{
		config: cfg,
		mem:    make([]byte, cfg.Size),
		now:    time.Now,
	}
	for i := range s.mem {
		s.mem[i] = 0xff
	}
	return s
}

// FailAt makes the nth request (1-based, counting every Exec) fail with err.
// n <= 0 disables the fault.
func (s *Sim) FailAt(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt = n
	s.failErr = err
}

// Load overwrites device memory starting at 0
func (s *Sim) Load(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.mem, data)
}

// Bytes returns a copy of the device memory
func (s *Sim) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.mem...)
}

// Pointer returns the current internal address counter
func (s *Sim) Pointer() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptr
}

// Requests returns a copy of every request executed so far
func (s *Sim) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	for i, r := range s.requests {
		out[i] = Request{
			Op:   r.Op,
			Addr: r.Addr,
			Cmd:  append([]byte(nil), r.Cmd...),
			Buf:  append([]byte(nil), r.Buf...),
		}
	}
	return out
}

func (s *Sim) Exec(req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.requests = append(s.requests, Request{
		Op:   req.Op,
		Addr: req.Addr,
		Cmd:  append([]byte(nil), req.Cmd...),
	})
	rec := &s.requests[len(s.requests)-1]

	if s.failAt > 0 && len(s.requests) == s.failAt {
		if s.failErr != nil {
			return s.failErr
		}
		return ErrNACK
	}

	blocks := s.config.Size / s.config.SelectBlock
	if blocks < 1 {
		blocks = 1
	}
	mask := uint8(blocks - 1)
	if req.Addr&^mask != s.config.BaseAddr {
		return errors.Wrapf(ErrNACK, "sim: no device at 0x%02x", req.Addr)
	}
	if s.now().Before(s.busyUntil) {
		return errors.Wrap(ErrNACK, "sim: write cycle in progress")
	}
	if len(req.Cmd) > 1 {
		return errors.Errorf("sim: %d command bytes", len(req.Cmd))
	}
	if len(req.Cmd) == 1 {
		s.ptr = (int(req.Addr&mask)*s.config.SelectBlock + int(req.Cmd[0])) % s.config.Size
	}

	switch req.Op {
	case OpWriteWithStop:
		if len(req.Cmd) == 0 {
			return errors.New("sim: write without word address")
		}
		page := s.ptr - s.ptr%s.config.WritePage
		for _, c := range req.Buf {
			s.mem[s.ptr] = c
			s.ptr = page + (s.ptr+1-page)%s.config.WritePage
		}
		rec.Buf = append([]byte(nil), req.Buf...)
		if s.config.WriteCycle > 0 {
			s.busyUntil = s.now().Add(s.config.WriteCycle)
		}
	case OpReadWithStop:
		for i := range req.Buf {
			req.Buf[i] = s.mem[s.ptr]
			s.ptr = (s.ptr + 1) % s.config.Size
		}
		rec.Buf = append([]byte(nil), req.Buf...)
	default:
		return errors.Errorf("unsupported op %s", req.Op)
	}

	logrus.Debugf("sim %s: %x", req, req.Buf)

	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
