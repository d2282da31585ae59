//go:build unix

package rawmem

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/rgc/memutils"
	"golang.org/x/sys/unix"
)

// MmapPageSource maps a fresh anonymous private mapping for every block. Anonymous mappings are
// zero-filled by the kernel, page aligned, and invisible to the Go garbage collector, so native
// callers may store their addresses anywhere.
type MmapPageSource struct {
	pageSize int
}

var _ PageSource = &MmapPageSource{}

func NewMmapPageSource() *MmapPageSource {
	pageSize := unix.Getpagesize()
	memutils.DebugCheckPow2(pageSize, "pageSize")

	return &MmapPageSource{pageSize: pageSize}
}

// DefaultPageSource returns the PageSource used when an allocator is not given one: slabs carved
// from anonymous mappings
func DefaultPageSource() PageSource {
	return newSlabPageSource(NewMmapPageSource(), DefaultSlabChunkSize)
}

func (s *MmapPageSource) Acquire(size int) ([]byte, error) {
	if size < 1 {
		return nil, errors.Newf("cannot map %d bytes", size)
	}

	length := memutils.AlignUp(size, s.pageSize)
	data, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %d bytes", length)
	}

	// Capacity is left intact so Release can restore the full mapping for Munmap
	return data[:size], nil
}

func (s *MmapPageSource) Release(data []byte) error {
	err := unix.Munmap(data[:cap(data)])
	if err != nil {
		return errors.Wrap(err, "failed to unmap block storage")
	}
	return nil
}
