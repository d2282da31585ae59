package rawmem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/rgc/memutils"
)

// PageSource provides the storage behind each block. Storage handed out by a PageSource must
// stay at a fixed address until it is released.
type PageSource interface {
	// Acquire returns zero-filled, word-aligned storage of exactly size bytes
	Acquire(size int) ([]byte, error)
	// Release returns storage previously returned from Acquire
	Release(data []byte) error
}

// HeapPageSource serves storage from the Go heap. The Go heap does not move objects, but storage
// from this source is only kept alive by the slice returned from Acquire, and native code may not
// retain Go pointers, so it is only suitable for Go-only callers and platforms without mmap.
type HeapPageSource struct{}

var _ PageSource = HeapPageSource{}

func (HeapPageSource) Acquire(size int) ([]byte, error) {
	if size < 1 {
		return nil, errors.Newf("cannot allocate %d bytes", size)
	}

	// Allocating whole words keeps the storage word aligned
	words := make([]uintptr, memutils.AlignUp(size, memutils.WordSize)/memutils.WordSize)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size), nil
}

func (HeapPageSource) Release(data []byte) error {
	return nil
}
