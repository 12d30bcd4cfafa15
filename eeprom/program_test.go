package eeprom

import (
	"bytes"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/synthread/go-i2ceprog/bus"
)

func newTestProgrammer(t *testing.T, tr bus.Transport) (*Programmer, *int) {
	t.Helper()
	waits := 0
	p, err := NewProgrammer(tr, &Config{
		Wait: func(*Device) error {
			waits++
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewProgrammer failed: %v", err)
	}
	return p, &waits
}

func randomImage(n int) []byte {
	r := rand.New(rand.NewSource(int64(n)))
	bs := make([]byte, n)
	r.Read(bs)
	return bs
}

func writesOf(reqs []bus.Request) []bus.Request {
	var out []bus.Request
	for _, r := range reqs {
		if r.Op == bus.OpWriteWithStop {
			out = append(out, r)
		}
	}
	return out
}

func TestProgramRoundTrip(t *testing.T) {
	img := randomImage(512)
	sim := bus.NewSim(nil)
	p, waits := newTestProgrammer(t, sim)

	res, err := p.Program(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("Program failed: %v", err)
	}
	if res.Written != 32 || res.Verified != 32 || res.ShortRead {
		t.Errorf("unexpected result %+v", res)
	}
	if *waits != 32 {
		t.Errorf("waited %d times, want 32", *waits)
	}

	// the recorded page writes alone must rebuild the image
	rebuilt := make([]byte, 512)
	writes := writesOf(sim.Requests())
	if len(writes) != 32 {
		t.Fatalf("expected 32 page writes, got %d", len(writes))
	}
	for i, w := range writes {
		addr := int(w.Addr&1)<<8 | int(w.Cmd[0])
		if addr != i*16 || len(w.Buf) != 16 {
			t.Fatalf("write %d: addr 0x%03x len %d", i, addr, len(w.Buf))
		}
		copy(rebuilt[addr:], w.Buf)
	}
	if !bytes.Equal(rebuilt, img) {
		t.Error("page writes do not reconstruct the image")
	}
	if !bytes.Equal(sim.Bytes(), img) {
		t.Error("device content differs from image")
	}
}

func TestProgramResetsPointerBeforeVerify(t *testing.T) {
	sim := bus.NewSim(nil)
	p, _ := newTestProgrammer(t, sim)

	if _, err := p.Program(bytes.NewReader(randomImage(512))); err != nil {
		t.Fatalf("Program failed: %v", err)
	}

	reqs := sim.Requests()
	rw := reqs[32]
	if rw.Op != bus.OpReadWithStop || rw.Addr != 0x51 || !bytes.Equal(rw.Cmd, []byte{0xff}) || len(rw.Buf) != 1 {
		t.Errorf("expected dummy read of 0x1ff, got %s", &rw)
	}
	for i, r := range reqs[33:] {
		if r.Op != bus.OpReadWithStop || r.Addr != 0x50 || len(r.Cmd) != 0 || len(r.Buf) != 16 {
			t.Errorf("verify read %d: unexpected %s", i, &r)
		}
	}
	if len(reqs) != 32+1+32 {
		t.Errorf("expected 65 requests, got %d", len(reqs))
	}
}

func TestProgramWriteFailureAborts(t *testing.T) {
	for _, k := range []int{0, 1, 15, 31} {
		sim := bus.NewSim(nil)
		sim.FailAt(k+1, bus.ErrNACK)
		p, _ := newTestProgrammer(t, sim)

		res, err := p.Program(bytes.NewReader(randomImage(512)))
		if !errors.Is(err, bus.ErrNACK) {
			t.Fatalf("k=%d: expected ErrNACK, got %v", k, err)
		}
		if res.Written != k || res.Verified != 0 {
			t.Errorf("k=%d: unexpected result %+v", k, res)
		}

		reqs := sim.Requests()
		if len(reqs) != k+1 {
			t.Errorf("k=%d: %d requests issued after failure", k, len(reqs)-k-1)
		}
		for _, r := range reqs {
			if r.Op != bus.OpWriteWithStop {
				t.Errorf("k=%d: unexpected %s after failed write", k, &r)
			}
		}
	}
}

// corruptingBus flips a byte of one sequential read
type corruptingBus struct {
	*bus.Sim
	chunk int
	reads int
}

func (c *corruptingBus) Exec(req *bus.Request) error {
	if err := c.Sim.Exec(req); err != nil {
		return err
	}
	if req.Op == bus.OpReadWithStop && len(req.Cmd) == 0 {
		if c.reads == c.chunk {
			req.Buf[3] ^= 0xff
		}
		c.reads++
	}
	return nil
}

func TestProgramVerifyMismatch(t *testing.T) {
	for _, j := range []int{0, 9, 31} {
		cb := &corruptingBus{Sim: bus.NewSim(nil), chunk: j}
		p, _ := newTestProgrammer(t, cb)

		res, err := p.Program(bytes.NewReader(randomImage(512)))
		if !errors.Is(err, ErrVerify) {
			t.Fatalf("j=%d: expected ErrVerify, got %v", j, err)
		}

		var mm *MismatchError
		if !errors.As(err, &mm) {
			t.Fatalf("j=%d: expected MismatchError, got %T", j, err)
		}
		if mm.Chunk != j || mm.Addr != uint16(j*16) {
			t.Errorf("j=%d: mismatch reported at chunk %d addr 0x%03x", j, mm.Chunk, mm.Addr)
		}
		if res.Verified != j {
			t.Errorf("j=%d: verified %d chunks", j, res.Verified)
		}
		if cb.reads != j+1 {
			t.Errorf("j=%d: %d sequential reads, want %d", j, cb.reads, j+1)
		}
	}
}

func TestProgramVerifyReadFailure(t *testing.T) {
	sim := bus.NewSim(nil)
	// 32 writes, the dummy read, then the 5th verify read
	sim.FailAt(32+1+5, bus.ErrNACK)
	p, _ := newTestProgrammer(t, sim)

	res, err := p.Program(bytes.NewReader(randomImage(512)))
	if !errors.Is(err, bus.ErrNACK) {
		t.Fatalf("expected ErrNACK, got %v", err)
	}
	if res.Written != 32 || res.Verified != 4 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestProgramEmptyFile(t *testing.T) {
	sim := bus.NewSim(nil)
	sim.Load(make([]byte, 512))
	p, _ := newTestProgrammer(t, sim)

	res, err := p.Program(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Program failed: %v", err)
	}
	if !res.ShortRead || res.Verified != 32 {
		t.Errorf("unexpected result %+v", res)
	}
	if !bytes.Equal(sim.Bytes(), bytes.Repeat([]byte{0xff}, 512)) {
		t.Error("device not filled with 0xff")
	}
}

func TestProgramShortAndLongFiles(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		short bool
	}{
		{"short", 100, true},
		{"one page", 16, true},
		{"exact", 512, false},
		{"long", 700, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := randomImage(tt.size)
			sim := bus.NewSim(nil)
			sim.Load(make([]byte, 512))
			p, _ := newTestProgrammer(t, sim)

			res, err := p.Program(bytes.NewReader(img))
			if err != nil {
				t.Fatalf("Program failed: %v", err)
			}
			if res.ShortRead != tt.short {
				t.Errorf("ShortRead = %v", res.ShortRead)
			}

			want := bytes.Repeat([]byte{0xff}, 512)
			copy(want, img)
			if !bytes.Equal(sim.Bytes(), want) {
				t.Error("device content differs")
			}
		})
	}
}

func TestProgramWaitFailure(t *testing.T) {
	sim := bus.NewSim(nil)
	calls := 0
	p, err := NewProgrammer(sim, &Config{
		Wait: func(*Device) error {
			calls++
			if calls == 3 {
				return errors.New("still busy")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := p.Program(bytes.NewReader(randomImage(512)))
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Written != 3 || len(sim.Requests()) != 3 {
		t.Errorf("run continued after wait failure: %+v", res)
	}
}

func TestProgramSettleGuardsWriteCycle(t *testing.T) {
	sim := bus.NewSim(&bus.SimConfig{WriteCycle: AT24C04.WriteCycle})
	p, err := NewProgrammer(sim, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Program(bytes.NewReader(randomImage(512))); err != nil {
		t.Fatalf("Program failed with default settle: %v", err)
	}
}

func TestProgramNoRollOver(t *testing.T) {
	g := AT24C04
	g.WrapsOnRead = false
	sim := bus.NewSim(nil)
	p, err := NewProgrammer(sim, &Config{Geometry: g, Wait: func(*Device) error { return nil }})
	if err != nil {
		t.Fatal(err)
	}

	res, err := p.Program(bytes.NewReader(randomImage(512)))
	if err == nil {
		t.Fatal("expected error for geometry without roll over")
	}
	if res.Written != 32 || res.Verified != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestProgramFile(t *testing.T) {
	img := randomImage(512)
	path := filepath.Join(t.TempDir(), "image.bin")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatal(err)
	}

	sim := bus.NewSim(nil)
	p, _ := newTestProgrammer(t, sim)

	if _, err := p.ProgramFile(path); err != nil {
		t.Fatalf("ProgramFile failed: %v", err)
	}
	if !bytes.Equal(sim.Bytes(), img) {
		t.Error("device content differs")
	}

	if _, err := p.ProgramFile(filepath.Join(t.TempDir(), "missing")); !os.IsNotExist(errors.Cause(err)) {
		t.Errorf("expected not exist error, got %v", err)
	}
}

func TestProgrammerCloseOnce(t *testing.T) {
	m := &mockBus{}
	p, err := NewProgrammer(m, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := p.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if m.closed != 1 {
		t.Errorf("transport closed %d times", m.closed)
	}
}

// flakySource serves an image one block per Read call and fails the nth
// call, counting across rewinds
type flakySource struct {
	*bytes.Reader
	failAt int
	calls  int
}

var errDisk = errors.New("eio")

func (f *flakySource) Read(p []byte) (int, error) {
	f.calls++
	if f.calls == f.failAt {
		return 0, errDisk
	}
	return f.Reader.Read(p[:min(len(p), 16)])
}

func TestProgramFileErrorDuringWrite(t *testing.T) {
	sim := bus.NewSim(nil)
	p, _ := newTestProgrammer(t, sim)
	src := &flakySource{Reader: bytes.NewReader(randomImage(512)), failAt: 4}

	res, err := p.Program(src)
	if !errors.Is(err, ErrFileRead) || !errors.Is(err, errDisk) {
		t.Fatalf("expected ErrFileRead, got %v", err)
	}
	if errors.Is(err, ErrVerify) {
		t.Error("write pass failure reported as verify failure")
	}
	if res.Written != 3 || res.Verified != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if n := len(sim.Requests()); n != 3 {
		t.Errorf("%d requests issued, want 3", n)
	}
}

func TestProgramFileErrorDuringVerify(t *testing.T) {
	sim := bus.NewSim(nil)
	p, _ := newTestProgrammer(t, sim)
	// 32 reads in the write pass, then the 4th verify chunk fails
	src := &flakySource{Reader: bytes.NewReader(randomImage(512)), failAt: 32 + 4}

	res, err := p.Program(src)
	if !errors.Is(err, ErrFileRead) || !errors.Is(err, ErrVerify) {
		t.Fatalf("expected ErrFileRead during verify, got %v", err)
	}
	if res.Written != 32 || res.Verified != 3 {
		t.Errorf("unexpected result %+v", res)
	}
	// writes, the dummy read, and the device read of the failing chunk
	if n := len(sim.Requests()); n != 32+1+4 {
		t.Errorf("%d requests issued, want %d", n, 32+1+4)
	}
}

func TestProgramWarnsOnceOnShortFile(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	sim := bus.NewSim(nil)
	p, _ := newTestProgrammer(t, sim)

	if _, err := p.Program(bytes.NewReader(randomImage(40))); err != nil {
		t.Fatalf("Program failed: %v", err)
	}

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	if warnings != 1 {
		t.Errorf("got %d warnings, want 1", warnings)
	}
}

func TestProgramNoWarningOnFullFile(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	p, _ := newTestProgrammer(t, bus.NewSim(nil))
	if _, err := p.Program(io.NewSectionReader(bytes.NewReader(randomImage(512)), 0, 512)); err != nil {
		t.Fatalf("Program failed: %v", err)
	}

	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			t.Errorf("unexpected warning %q", e.Message)
		}
	}
}
