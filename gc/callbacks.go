package gc

import "github.com/vkngwrapper/rgc/memutils/metadata"

// AllocateBlockCallback is called after a block has been registered. block is a copy of the
// registry's record, so its Handle, Address, ClassSize and RequestedSize are all available.
type AllocateBlockCallback func(
	allocator *Allocator,
	block metadata.Block,
	userData interface{},
)

// FreeBlockCallback is called after a block's storage has been released, whether it was
// freed by the caller or collected. block is the final record the registry held for it.
type FreeBlockCallback func(
	allocator *Allocator,
	block metadata.Block,
	userData interface{},
)

// MemoryCallbackOptions is an optional set of callbacks executed as blocks come and go. They run
// while the allocator's lock is held and must not call back into the allocator.
type MemoryCallbackOptions struct {
	Allocate AllocateBlockCallback
	Free     FreeBlockCallback
	UserData interface{}
}

type memoryCallbacks struct {
	Callbacks *MemoryCallbackOptions
	Allocator *Allocator
}

// publicRecord strips the allocator's private storage from a block before it leaves the package
func publicRecord(block *metadata.Block) metadata.Block {
	record := *block
	record.UserData = nil
	return record
}

func (c *memoryCallbacks) Allocate(block *metadata.Block) {
	if c.Callbacks != nil && c.Callbacks.Allocate != nil {
		c.Callbacks.Allocate(c.Allocator, publicRecord(block), c.Callbacks.UserData)
	}
}

func (c *memoryCallbacks) Free(block *metadata.Block) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Allocator, publicRecord(block), c.Callbacks.UserData)
	}
}
