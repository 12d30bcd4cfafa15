//go:build !linux

package bus

import "github.com/pkg/errors"

var DefaultDevice = ""

// Devfs is only available on linux
type Devfs struct{}

func OpenDevfs(path string) (*Devfs, error) {
	return nil, errors.New("i2c-dev is only supported on linux")
}

func (d *Devfs) Exec(req *Request) error {
	return ErrClosed
}

func (d *Devfs) Close() error {
	return nil
}
