package metadata

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/rgc/memutils"
	"golang.org/x/exp/slices"
)

// ErrUnknownBlock is returned when a handle or address does not identify a live block
var ErrUnknownBlock = errors.New("no live block matches")

// BlockRegistry is the set of live blocks owned by an allocator. Blocks are keyed by a
// handle internally; the address index exists so that raw addresses received at the
// boundary can be resolved with an exact match. An address inside a block that is not
// the block's payload address never resolves.
//
// BlockRegistry is not safe for concurrent use.
type BlockRegistry struct {
	nextHandle BlockHandle
	blocks     *swiss.Map[BlockHandle, *Block]
	byAddress  *swiss.Map[uintptr, BlockHandle]
}

var _ memutils.Validatable = &BlockRegistry{}

func NewBlockRegistry() *BlockRegistry {
	registry := &BlockRegistry{}
	registry.Clear()
	return registry
}

// Register begins tracking a block at address. The address must be non-zero and not
// already tracked.
func (r *BlockRegistry) Register(address uintptr, classSize, requestedSize int, userData any) (BlockHandle, error) {
	if address == 0 {
		return NoBlock, errors.New("cannot register a block at the null address")
	}
	if requestedSize < 1 || classSize < requestedSize {
		return NoBlock, errors.Newf("block at %#x has an invalid size: requested %d bytes, class %d bytes", address, requestedSize, classSize)
	}
	if r.byAddress.Has(address) {
		return NoBlock, errors.Newf("a block is already registered at %#x", address)
	}

	handle := BlockHandle(atomic.AddUint64((*uint64)(&r.nextHandle), 1))
	r.blocks.Put(handle, &Block{
		Handle:        handle,
		Address:       address,
		ClassSize:     classSize,
		RequestedSize: requestedSize,
		UserData:      userData,
	})
	r.byAddress.Put(address, handle)

	return handle, nil
}

// Find resolves an exact payload address to its handle
func (r *BlockRegistry) Find(address uintptr) (BlockHandle, bool) {
	handle, ok := r.byAddress.Get(address)
	if !ok {
		return NoBlock, false
	}
	return handle, true
}

func (r *BlockRegistry) Block(handle BlockHandle) (*Block, error) {
	block, ok := r.blocks.Get(handle)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownBlock, "handle %d", handle)
	}
	return block, nil
}

// Remove stops tracking a block and returns its final record
func (r *BlockRegistry) Remove(handle BlockHandle) (Block, error) {
	block, ok := r.blocks.Get(handle)
	if !ok {
		return Block{}, errors.Wrapf(ErrUnknownBlock, "handle %d", handle)
	}

	r.blocks.Delete(handle)
	r.byAddress.Delete(block.Address)

	return *block, nil
}

func (r *BlockRegistry) Count() int {
	return r.blocks.Count()
}

func (r *BlockRegistry) IsEmpty() bool {
	return r.blocks.Count() == 0
}

// VisitAllBlocks calls handleBlock once for each live block, in no particular order. Blocks
// must not be registered or removed from within the callback.
func (r *BlockRegistry) VisitAllBlocks(handleBlock func(block *Block) error) error {
	var err error
	r.blocks.Iter(func(handle BlockHandle, block *Block) bool {
		err = handleBlock(block)
		return err != nil
	})
	return err
}

// Addresses returns the payload address of every live block in ascending order
func (r *BlockRegistry) Addresses() []uintptr {
	addresses := make([]uintptr, 0, r.byAddress.Count())
	r.byAddress.Iter(func(address uintptr, handle BlockHandle) bool {
		addresses = append(addresses, address)
		return false
	})
	slices.Sort(addresses)
	return addresses
}

// Clear stops tracking every block at once
func (r *BlockRegistry) Clear() {
	r.blocks = swiss.NewMap[BlockHandle, *Block](42)
	r.byAddress = swiss.NewMap[uintptr, BlockHandle](42)
}

func (r *BlockRegistry) Validate() error {
	if r.blocks.Count() != r.byAddress.Count() {
		return errors.Errorf("the registry holds %d blocks but %d indexed addresses", r.blocks.Count(), r.byAddress.Count())
	}

	return r.VisitAllBlocks(func(block *Block) error {
		if block.Address == 0 {
			return errors.Errorf("block %d has a null address", block.Handle)
		}
		if block.RequestedSize < 1 || block.ClassSize < block.RequestedSize {
			return errors.Errorf("block at %#x has class size %d smaller than its requested size %d", block.Address, block.ClassSize, block.RequestedSize)
		}

		handle, ok := r.byAddress.Get(block.Address)
		if !ok {
			return errors.Errorf("block at %#x is missing from the address index", block.Address)
		}
		if handle != block.Handle {
			return errors.Errorf("block at %#x has handle %d, but the address index lists handle %d", block.Address, block.Handle, handle)
		}

		return nil
	})
}

func (r *BlockRegistry) AddStatistics(stats *memutils.Statistics) {
	r.blocks.Iter(func(handle BlockHandle, block *Block) bool {
		stats.AddBlock(block.ClassSize, block.RequestedSize)
		return false
	})
}

func (r *BlockRegistry) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	r.blocks.Iter(func(handle BlockHandle, block *Block) bool {
		stats.AddBlock(block.ClassSize, block.RequestedSize)
		return false
	})
}

// BlockJsonData populates a json object with summary information about the registry
func (r *BlockRegistry) BlockJsonData(json *jwriter.ObjectState) {
	var stats memutils.Statistics
	r.AddStatistics(&stats)

	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("TotalBytes").Int(stats.BlockBytes)
	json.Name("RequestedBytes").Int(stats.RequestedBytes)
	json.Name("SlackBytes").Int(stats.BlockBytes - stats.RequestedBytes)
}

// PrintDetailedMap writes one json object per live block, ordered by address
func (r *BlockRegistry) PrintDetailedMap(json *jwriter.ArrayState) {
	for _, address := range r.Addresses() {
		handle, _ := r.byAddress.Get(address)
		block, _ := r.blocks.Get(handle)

		o := json.Object()
		block.PrintParameters(&o)
		o.End()
	}
}
