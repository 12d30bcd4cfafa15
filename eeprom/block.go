package eeprom

import (
	"io"

	"github.com/pkg/errors"
)

// Fill is the erased value of an EEPROM cell, also used to pad short input
const Fill byte = 0xff

// Block is one fixed size chunk pulled from an input source
type Block struct {
	Data []byte

	// N is the number of bytes that came from the source
	N int
}

// Padded reports whether the source ran out before the block was full
func (b *Block) Padded() bool {
	return b.N < len(b.Data)
}

// ReadBlock reads size bytes from r. If r reaches EOF first the remainder is
// filled with fill, so an exhausted source keeps producing fully padded
// blocks. Any other read failure is returned wrapping ErrFileRead.
func ReadBlock(r io.Reader, size int, fill byte) (*Block, error) {
	b := &Block{Data: make([]byte, size)}

	n, err := io.ReadFull(r, b.Data)
	b.N = n
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		for i := n; i < size; i++ {
			b.Data[i] = fill
		}
	default:
		return b, &FileError{Err: err}
	}

	return b, nil
}
