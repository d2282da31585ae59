package rawmem

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/rgc/memutils"
)

// DefaultSlabChunkSize is the size of the chunks the default page source carves block storage from
const DefaultSlabChunkSize = 64 * 1024

// ErrForeignStorage is returned when storage is released to a page source that did not provide it
var ErrForeignStorage = errors.New("storage was not acquired from this page source")

// slabChunk is one chunk of backing storage divided into equal slots
type slabChunk struct {
	data     []byte
	slotSize int

	// next is the offset of the first slot that has never been handed out
	next int
	free []int
	live int
}

func (c *slabChunk) isFull() bool {
	return len(c.free) == 0 && c.next+c.slotSize > len(c.data)
}

func (c *slabChunk) isEmpty() bool {
	return c.live == 0
}

func (c *slabChunk) take() int {
	c.live++

	if len(c.free) > 0 {
		offset := c.free[len(c.free)-1]
		c.free = c.free[:len(c.free)-1]
		return offset
	}

	offset := c.next
	c.next += c.slotSize
	return offset
}

// put returns a slot to the chunk. The slot is zeroed so the next take hands out zero-filled storage.
func (c *slabChunk) put(offset int) {
	slot := c.data[offset : offset+c.slotSize]
	for i := range slot {
		slot[i] = 0
	}

	c.free = append(c.free, offset)
	c.live--
}

type slabList struct {
	chunks []*slabChunk
}

func (l *slabList) available() *slabChunk {
	for _, chunk := range l.chunks {
		if !chunk.isFull() {
			return chunk
		}
	}
	return nil
}

func (l *slabList) hasEmptyChunk() bool {
	for _, chunk := range l.chunks {
		if chunk.isEmpty() {
			return true
		}
	}
	return false
}

func (l *slabList) remove(chunk *slabChunk) {
	for i, candidate := range l.chunks {
		if candidate == chunk {
			l.chunks = append(l.chunks[:i], l.chunks[i+1:]...)
			return
		}
	}
}

// SlabPageSource carves storage for small requests out of larger chunks acquired from another
// PageSource, keeping one list of chunks per word-aligned request size. Requests larger than a
// quarter of a chunk are passed straight through. A chunk is returned to the underlying source once
// it is empty, unless it is the only empty chunk for its size.
type SlabPageSource struct {
	mutex     sync.Mutex
	chunks    PageSource
	chunkSize int

	slabs  *swiss.Map[int, *slabList]
	owners *swiss.Map[uintptr, *slabChunk]
}

var _ PageSource = &SlabPageSource{}

// NewSlabPageSource creates a SlabPageSource drawing chunks of chunkSize bytes from chunks.
// chunkSize must be a positive multiple of the word size.
func NewSlabPageSource(chunks PageSource, chunkSize int) (*SlabPageSource, error) {
	if chunks == nil {
		return nil, errors.New("a slab page source requires a chunk source")
	}
	if chunkSize < memutils.WordSize {
		return nil, errors.Newf("chunk size %d is smaller than a word", chunkSize)
	}
	err := memutils.CheckAligned(chunkSize, memutils.WordSize, "chunkSize")
	if err != nil {
		return nil, err
	}

	return newSlabPageSource(chunks, chunkSize), nil
}

func newSlabPageSource(chunks PageSource, chunkSize int) *SlabPageSource {
	return &SlabPageSource{
		chunks:    chunks,
		chunkSize: chunkSize,
		slabs:     swiss.NewMap[int, *slabList](8),
		owners:    swiss.NewMap[uintptr, *slabChunk](64),
	}
}

func (s *SlabPageSource) Acquire(size int) ([]byte, error) {
	if size < 1 {
		return nil, errors.Newf("cannot allocate %d bytes", size)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	slotSize := memutils.AlignUp(size, memutils.WordSize)
	if slotSize > s.chunkSize/4 {
		data, err := s.chunks.Acquire(size)
		if err != nil {
			return nil, err
		}
		// Passed-through storage is owned by no chunk
		s.owners.Put(AddressOf(data), nil)
		return data, nil
	}

	list, ok := s.slabs.Get(slotSize)
	if !ok {
		list = &slabList{}
		s.slabs.Put(slotSize, list)
	}

	chunk := list.available()
	if chunk == nil {
		data, err := s.chunks.Acquire(s.chunkSize)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to acquire a chunk for %d byte slots", slotSize)
		}

		chunk = &slabChunk{data: data, slotSize: slotSize}
		list.chunks = append(list.chunks, chunk)
	}

	offset := chunk.take()
	slot := chunk.data[offset : offset+size : offset+slotSize]
	s.owners.Put(AddressOf(slot), chunk)

	return slot, nil
}

func (s *SlabPageSource) Release(data []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	address := AddressOf(data)
	chunk, ok := s.owners.Get(address)
	if !ok {
		return errors.Wrapf(ErrForeignStorage, "address %#x", address)
	}
	s.owners.Delete(address)

	if chunk == nil {
		return s.chunks.Release(data)
	}

	list, _ := s.slabs.Get(chunk.slotSize)
	hadEmptyChunk := list.hasEmptyChunk()

	chunk.put(int(address - AddressOf(chunk.data)))

	if chunk.isEmpty() && hadEmptyChunk {
		list.remove(chunk)
		return s.chunks.Release(chunk.data)
	}

	return nil
}

// ChunkCount returns the number of chunks currently held from the underlying source
func (s *SlabPageSource) ChunkCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	count := 0
	s.slabs.Iter(func(_ int, list *slabList) bool {
		count += len(list.chunks)
		return false
	})
	return count
}
