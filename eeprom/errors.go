package eeprom

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrFileRead = errors.New("input file read failed")
var ErrVerify = errors.New("eeprom verify failed")

// FileError is a non-EOF failure of the input source
type FileError struct {
	Err error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s", ErrFileRead, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

func (e *FileError) Is(target error) bool {
	return target == ErrFileRead
}

// VerifyError is any failure of the read back pass
type VerifyError struct {
	Err error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrVerify, e.Err)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

func (e *VerifyError) Is(target error) bool {
	return target == ErrVerify
}

// MismatchError reports the first chunk whose read back content differs
// from the input
type MismatchError struct {
	Chunk int
	Addr  uint16
	Want  []byte
	Got   []byte
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("chunk %d at 0x%03x does not match: want [%s], got [%s]",
		e.Chunk, e.Addr, hexdump(e.Want), hexdump(e.Got))
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrVerify
}
