//go:build unix

package rawmem_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/rgc/memutils"
	"github.com/vkngwrapper/rgc/memutils/rawmem"
)

func mapRegion(t *testing.T, size int) []byte {
	source := rawmem.NewMmapPageSource()
	data, err := source.Acquire(size)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, source.Release(data))
	})
	return data
}

func putWord(t *testing.T, data []byte, offset int, value uintptr) {
	require.NoError(t, rawmem.PutWord(data, offset, value))
}

func TestRegionForEachWord(t *testing.T) {
	data := mapRegion(t, 64)
	putWord(t, data, 0, 0x1111)
	putWord(t, data, 24, 0x2222)
	putWord(t, data, 56, 0x3333)

	region := rawmem.RegionOf(data)
	require.Equal(t, uintptr(64), region.Len())

	var addresses, values []uintptr
	err := region.ForEachWord(func(address, value uintptr) {
		addresses = append(addresses, address)
		values = append(values, value)
	})
	require.NoError(t, err)

	require.Len(t, addresses, 8)
	for i, address := range addresses {
		require.Equal(t, region.Start+uintptr(i*memutils.WordSize), address, "words must be visited from low to high")
	}
	require.Equal(t, []uintptr{0x1111, 0, 0, 0x2222, 0, 0, 0, 0x3333}, values)
}

func TestRegionValidate(t *testing.T) {
	require.NoError(t, rawmem.Region{Start: 0x1000, End: 0x2000}.Validate())
	require.NoError(t, rawmem.Region{}.Validate())

	err := rawmem.Region{Start: 0x2000, End: 0x1000}.Validate()
	require.True(t, errors.Is(err, rawmem.ErrInvertedRegion))

	err = rawmem.Region{Start: 0x1001, End: 0x2000}.Validate()
	require.True(t, errors.Is(err, memutils.AlignmentError))

	err = rawmem.Region{Start: 0x1000, End: 0x2004}.Validate()
	require.True(t, errors.Is(err, memutils.AlignmentError))

	err = rawmem.Region{Start: 0x1001, End: 0x2000}.ForEachWord(func(address, value uintptr) {
		t.Fatal("an unaligned region must not be read")
	})
	require.Error(t, err)
}

func TestRegionAligned(t *testing.T) {
	require.Equal(t, rawmem.Region{Start: 0x1008, End: 0x2000}, rawmem.Region{Start: 0x1001, End: 0x2007}.Aligned())
	require.Equal(t, rawmem.Region{Start: 0x1000, End: 0x2000}, rawmem.Region{Start: 0x1000, End: 0x2000}.Aligned())
	require.True(t, rawmem.Region{Start: 0x1001, End: 0x1007}.Aligned().IsEmpty())
}

func TestRegionEmpty(t *testing.T) {
	region := rawmem.Region{Start: 0x1000, End: 0x1000}
	require.True(t, region.IsEmpty())
	require.Equal(t, uintptr(0), region.Len())

	err := region.ForEachWord(func(address, value uintptr) {
		t.Fatal("an empty region has no words")
	})
	require.NoError(t, err)
}

func TestForEachBlockWord(t *testing.T) {
	data := mapRegion(t, 528)
	putWord(t, data, 0, 0xAAAA)
	putWord(t, data, 520, 0xBBBB)

	var offsets []int
	var found []uintptr
	err := rawmem.ForEachBlockWord(data, 521, func(offset int, value uintptr) {
		offsets = append(offsets, offset)
		if value != 0 {
			found = append(found, value)
		}
	})
	require.NoError(t, err)

	require.Len(t, offsets, 66)
	require.Equal(t, 0, offsets[0])
	require.Equal(t, 520, offsets[65], "the last partial word is still read")
	require.Equal(t, []uintptr{0xAAAA, 0xBBBB}, found)
}

func TestForEachBlockWordBounds(t *testing.T) {
	data := mapRegion(t, 521)

	err := rawmem.ForEachBlockWord(data, 521, func(offset int, value uintptr) {})
	require.Error(t, err, "reading the final partial word would run past the block's storage")

	err = rawmem.ForEachBlockWord(data, 1024, func(offset int, value uintptr) {})
	require.Error(t, err)

	err = rawmem.ForEachBlockWord(data, 0, func(offset int, value uintptr) {
		t.Fatal("nothing to read")
	})
	require.NoError(t, err)
}
