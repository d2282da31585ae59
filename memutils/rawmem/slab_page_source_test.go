package rawmem_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/rgc/memutils"
	"github.com/vkngwrapper/rgc/memutils/rawmem"
	"github.com/vkngwrapper/rgc/memutils/rawmem/mocks"
	"go.uber.org/mock/gomock"
)

func heapChunk(t *testing.T, size int) []byte {
	data, err := rawmem.HeapPageSource{}.Acquire(size)
	require.NoError(t, err)
	return data
}

func TestSlabPageSource(t *testing.T) {
	source, err := rawmem.NewSlabPageSource(rawmem.HeapPageSource{}, 8192)
	require.NoError(t, err)

	testPageSource(t, source)
}

func TestNewSlabPageSourceInvalid(t *testing.T) {
	_, err := rawmem.NewSlabPageSource(nil, 4096)
	require.Error(t, err)

	_, err = rawmem.NewSlabPageSource(rawmem.HeapPageSource{}, 4)
	require.Error(t, err)

	_, err = rawmem.NewSlabPageSource(rawmem.HeapPageSource{}, 4100)
	require.True(t, errors.Is(err, memutils.AlignmentError))
}

func TestSlabPageSourceCarvesChunks(t *testing.T) {
	ctrl := gomock.NewController(t)
	chunks := mocks.NewMockPageSource(ctrl)

	source, err := rawmem.NewSlabPageSource(chunks, 4096)
	require.NoError(t, err)

	first := heapChunk(t, 4096)
	chunks.EXPECT().Acquire(4096).Return(first, nil)

	// Seven 528 byte slots fit in a 4096 byte chunk
	var slots [][]byte
	for i := 0; i < 7; i++ {
		slot, err := source.Acquire(528)
		require.NoError(t, err)
		require.Len(t, slot, 528)
		slots = append(slots, slot)
	}
	require.Equal(t, rawmem.AddressOf(first), rawmem.AddressOf(slots[0]))
	require.Equal(t, rawmem.AddressOf(first)+528, rawmem.AddressOf(slots[1]))
	require.Equal(t, 1, source.ChunkCount())

	second := heapChunk(t, 4096)
	chunks.EXPECT().Acquire(4096).Return(second, nil)

	slot, err := source.Acquire(528)
	require.NoError(t, err)
	require.Equal(t, rawmem.AddressOf(second), rawmem.AddressOf(slot))
	require.Equal(t, 2, source.ChunkCount())

	// A different size gets its own chunk
	third := heapChunk(t, 4096)
	chunks.EXPECT().Acquire(4096).Return(third, nil)
	small, err := source.Acquire(20)
	require.NoError(t, err)
	require.Len(t, small, 20)
	require.Equal(t, rawmem.AddressOf(third), rawmem.AddressOf(small))
	require.Equal(t, 3, source.ChunkCount())

	// Released slots come back zero-filled
	for i := range slots[3] {
		slots[3][i] = 0xff
	}
	require.NoError(t, source.Release(slots[3]))
	reused, err := source.Acquire(528)
	require.NoError(t, err)
	require.Equal(t, rawmem.AddressOf(slots[3]), rawmem.AddressOf(reused))
	require.Equal(t, make([]byte, 528), reused)

	// The second chunk empties but is kept as the only empty chunk
	require.NoError(t, source.Release(slot))
	require.Equal(t, 3, source.ChunkCount())

	// Once the first chunk empties too, one of them goes back
	chunks.EXPECT().Release(gomock.Any()).Return(nil)
	slots[3] = reused
	for _, slot := range slots {
		require.NoError(t, source.Release(slot))
	}
	require.Equal(t, 2, source.ChunkCount())

	err = source.Release(slots[0])
	require.True(t, errors.Is(err, rawmem.ErrForeignStorage))
}

func TestSlabPageSourcePassThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	chunks := mocks.NewMockPageSource(ctrl)

	source, err := rawmem.NewSlabPageSource(chunks, 4096)
	require.NoError(t, err)

	large := heapChunk(t, 2048)
	chunks.EXPECT().Acquire(2048).Return(large, nil)
	data, err := source.Acquire(2048)
	require.NoError(t, err)
	require.Equal(t, rawmem.AddressOf(large), rawmem.AddressOf(data))
	require.Equal(t, 0, source.ChunkCount())

	chunks.EXPECT().Release(gomock.Any()).DoAndReturn(func(data []byte) error {
		require.Equal(t, rawmem.AddressOf(large), rawmem.AddressOf(data))
		return nil
	})
	require.NoError(t, source.Release(data))

	chunks.EXPECT().Acquire(4096).Return(nil, errors.New("no memory"))
	_, err = source.Acquire(64)
	require.EqualError(t, err, "failed to acquire a chunk for 64 byte slots: no memory")
}
