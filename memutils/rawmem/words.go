package rawmem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/rgc/memutils"
)

func checkWordOffset(data []byte, offset int) error {
	if offset < 0 || offset+memutils.WordSize > len(data) {
		return errors.Newf("a word at offset %d does not fit in %d bytes", offset, len(data))
	}
	return memutils.CheckAligned(AddressOf(data)+uintptr(offset), uintptr(memutils.WordSize), "word address")
}

// Word reads the aligned word at offset within data
func Word(data []byte, offset int) (uintptr, error) {
	err := checkWordOffset(data, offset)
	if err != nil {
		return 0, err
	}
	return *(*uintptr)(unsafe.Pointer(&data[offset])), nil
}

// PutWord writes value as a native word at offset within data
func PutWord(data []byte, offset int, value uintptr) error {
	err := checkWordOffset(data, offset)
	if err != nil {
		return err
	}
	*(*uintptr)(unsafe.Pointer(&data[offset])) = value
	return nil
}
