package rawmem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/rgc/memutils"
)

// ErrInvertedRegion is returned when a region ends before it starts
var ErrInvertedRegion = errors.New("region end precedes region start")

// Region is the half-open address range [Start, End)
type Region struct {
	Start uintptr
	End   uintptr
}

// RegionOf returns the region occupied by data. data must not live on the Go heap if the
// region will be scanned.
func RegionOf(data []byte) Region {
	if len(data) == 0 {
		return Region{}
	}
	start := AddressOf(data)
	return Region{Start: start, End: start + uintptr(len(data))}
}

// AddressOf returns the address of the first byte of data
func AddressOf(data []byte) uintptr {
	if len(data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&data[0]))
}

func (r Region) Len() uintptr {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

func (r Region) IsEmpty() bool {
	return r.End <= r.Start
}

func (r Region) Contains(address uintptr) bool {
	return address >= r.Start && address < r.End
}

// Aligned shrinks the region to word boundaries: the start rounds up and the end rounds down
func (r Region) Aligned() Region {
	aligned := Region{
		Start: memutils.AlignUp(r.Start, uintptr(memutils.WordSize)),
		End:   memutils.AlignDown(r.End, uintptr(memutils.WordSize)),
	}
	if aligned.End < aligned.Start {
		aligned.End = aligned.Start
	}
	return aligned
}

func (r Region) Validate() error {
	if r.End < r.Start {
		return errors.Wrapf(ErrInvertedRegion, "region [%#x, %#x)", r.Start, r.End)
	}

	err := memutils.CheckAligned(r.Start, uintptr(memutils.WordSize), "region start")
	if err != nil {
		return err
	}

	return memutils.CheckAligned(r.End, uintptr(memutils.WordSize), "region end")
}

// ForEachWord reads every word in the region from low address to high address and passes its
// address and value to visit. The region must be word aligned and entirely readable.
func (r Region) ForEachWord(visit func(address, value uintptr)) error {
	err := r.Validate()
	if err != nil {
		return err
	}

	step := uintptr(memutils.WordSize)
	for address := r.Start; address < r.End; address += step {
		visit(address, readWord(address))
	}

	return nil
}

func readWord(address uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(address))
}

// ForEachBlockWord reads the words of data that begin before limit, passing each word's offset
// and value to visit. The final word may extend past limit, so data must hold at least limit
// rounded up to a whole word.
func ForEachBlockWord(data []byte, limit int, visit func(offset int, value uintptr)) error {
	if limit <= 0 {
		return nil
	}
	if limit > len(data) {
		return errors.Newf("scan limit %d exceeds the block's %d bytes", limit, len(data))
	}

	reserved := memutils.AlignUp(limit, memutils.WordSize)
	if reserved > len(data) {
		return errors.Newf("a block scanned to %d bytes must reserve %d bytes, but only %d are reserved", limit, reserved, len(data))
	}

	err := memutils.CheckAligned(AddressOf(data), uintptr(memutils.WordSize), "block address")
	if err != nil {
		return err
	}

	base := unsafe.Pointer(&data[0])
	for offset := 0; offset < limit; offset += memutils.WordSize {
		visit(offset, *(*uintptr)(unsafe.Add(base, offset)))
	}

	return nil
}
