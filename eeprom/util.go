package eeprom

import (
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
)

// aligned reports whether v is a multiple of n
func aligned[T constraints.Integer](v, n T) bool {
	return n != 0 && v%n == 0
}

// min will return the minimum of the two values
func min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// hexdump formats bs as space separated upper case hex bytes
func hexdump(bs []byte) string {
	var sb strings.Builder
	for i, c := range bs {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}
