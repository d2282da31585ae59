package memutils

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
)

// WordSize is the width in bytes of a native pointer, and the stride used by every conservative scan
const WordSize int = int(unsafe.Sizeof(uintptr(0)))

type Number interface {
	~int | ~uint | ~uintptr
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckAligned returns an error wrapping AlignmentError if value is not a multiple of alignment.
// alignment must be a power of two.
func CheckAligned[T Number](value T, alignment T, name string) error {
	if !IsAligned(value, alignment) {
		return cerrors.Wrapf(AlignmentError, "%s is %#x, which is not %d-byte aligned", name, uint64(value), uint64(alignment))
	}
	return nil
}

func IsAligned[T Number](value T, alignment T) bool {
	return value&(alignment-1) == 0
}

func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) & ^(alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value & ^(alignment - 1)
}
