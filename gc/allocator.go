package gc

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/rgc/gc/internal/utils"
	"github.com/vkngwrapper/rgc/memutils"
	"github.com/vkngwrapper/rgc/memutils/metadata"
	"github.com/vkngwrapper/rgc/memutils/rawmem"
	"golang.org/x/exp/slog"
)

var (
	// ErrAllocatorDestroyed is returned from operations on an allocator after Destroy
	ErrAllocatorDestroyed = errors.New("the allocator has been destroyed")
	// ErrUnreleasedBlocks is returned from Destroy when blocks were still allocated
	ErrUnreleasedBlocks = errors.New("some blocks were not freed before the allocator was destroyed")
	// ErrOutOfBounds is returned when a read or write would leave a block
	ErrOutOfBounds = errors.New("access is outside the block")
)

// blockStorage is the UserData of every block in the registry
type blockStorage struct {
	data []byte
}

func storageOf(block *metadata.Block) *blockStorage {
	return block.UserData.(*blockStorage)
}

func addressAttr(key string, address uintptr) slog.Attr {
	return slog.String(key, fmt.Sprintf("%#x", address))
}

// Allocator serves fixed-class blocks and reclaims the ones that can no longer be reached
// from the caller's root regions. Every operation holds the allocator's lock for its whole
// duration, so Malloc, Free and Collect never overlap.
type Allocator struct {
	logger          *slog.Logger
	mutex           utils.OptionalMutex
	createFlags     CreateFlags
	sizeClasses     *metadata.SizeClassLadder
	pageSource      rawmem.PageSource
	memoryCallbacks memoryCallbacks

	registry  *metadata.BlockRegistry
	destroyed bool
}

// SizeClasses returns the block sizes this allocator serves, smallest first
func (a *Allocator) SizeClasses() []int {
	return a.sizeClasses.Classes()
}

// Malloc reserves a zero-filled block of at least requested bytes and returns its address.
// A request of zero or fewer bytes returns the null address and no error. A request too
// large for every size class returns an error wrapping metadata.ErrOversizedRequest.
func (a *Allocator) Malloc(requested int) (uintptr, error) {
	if requested <= 0 {
		return 0, nil
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return 0, ErrAllocatorDestroyed
	}

	classSize, err := a.sizeClasses.Classify(requested)
	if err != nil {
		return 0, err
	}

	// Heap scans read whole words, so the final partial word of a class must be backed
	data, err := a.pageSource.Acquire(memutils.AlignUp(classSize, memutils.WordSize))
	if err != nil {
		return 0, errors.Wrapf(err, "failed to acquire storage for a %d byte block", classSize)
	}

	address := rawmem.AddressOf(data)
	handle, err := a.registry.Register(address, classSize, requested, &blockStorage{data: data})
	if err != nil {
		releaseErr := a.pageSource.Release(data)
		if releaseErr != nil {
			a.logger.LogAttrs(context.Background(), slog.LevelError, "error attempting to release storage after registration failure",
				slog.Any("error", releaseErr))
		}
		return 0, err
	}
	memutils.DebugValidate(a.registry)

	block, err := a.registry.Block(handle)
	if err != nil {
		return 0, err
	}
	a.memoryCallbacks.Allocate(block)
	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "allocated block",
		addressAttr("address", address),
		slog.Int("requestedSize", requested),
		slog.Int("classSize", classSize),
	)

	return address, nil
}

// Free releases the block whose payload address is exactly address. The null address is
// ignored. An address that does not identify a live block, including an address inside a
// block and an address that was already freed, is logged and otherwise ignored.
func (a *Allocator) Free(address uintptr) {
	a.FreeVerbose(address)
}

// FreeVerbose is Free, but reports the requested and class size of the block that was freed.
// Both are 0 if no block was freed.
func (a *Allocator) FreeVerbose(address uintptr) (requestedSize, classSize int) {
	if address == 0 {
		return 0, 0
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		a.logger.LogAttrs(context.Background(), slog.LevelWarn, "free called on a destroyed allocator",
			addressAttr("address", address))
		return 0, 0
	}

	return a.freeBlock(address)
}

func (a *Allocator) freeBlock(address uintptr) (requestedSize, classSize int) {
	handle, ok := a.registry.Find(address)
	if !ok {
		a.logger.LogAttrs(context.Background(), slog.LevelWarn, "invalid free call",
			addressAttr("address", address))
		return 0, 0
	}

	block, err := a.registry.Remove(handle)
	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelError, "error removing block from the registry",
			slog.Any("error", err))
		return 0, 0
	}
	memutils.DebugValidate(a.registry)

	a.releaseStorage(&block)

	return block.RequestedSize, block.ClassSize
}

func (a *Allocator) releaseStorage(block *metadata.Block) {
	err := a.pageSource.Release(storageOf(block).data)
	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelError, "error releasing block storage",
			addressAttr("address", block.Address),
			slog.Any("error", err))
	}

	a.memoryCallbacks.Free(block)
}

// BlockCount returns the number of live blocks
func (a *Allocator) BlockCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.registry.Count()
}

// Lookup returns the record of the block whose payload address is exactly address
func (a *Allocator) Lookup(address uintptr) (metadata.Block, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	handle, ok := a.registry.Find(address)
	if !ok {
		return metadata.Block{}, false
	}

	block, err := a.registry.Block(handle)
	if err != nil {
		return metadata.Block{}, false
	}

	record := *block
	record.UserData = nil
	return record, true
}

// withBlock runs access against the storage of the block at address while the lock is held
func (a *Allocator) withBlock(address uintptr, access func(block *metadata.Block, data []byte) error) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return ErrAllocatorDestroyed
	}

	handle, ok := a.registry.Find(address)
	if !ok {
		return errors.Wrapf(metadata.ErrUnknownBlock, "address %#x", address)
	}

	block, err := a.registry.Block(handle)
	if err != nil {
		return err
	}

	return access(block, storageOf(block).data)
}

func checkBounds(block *metadata.Block, offset, length int) error {
	if offset < 0 || length < 0 || offset > block.ClassSize-length {
		return errors.Wrapf(ErrOutOfBounds, "%d bytes at offset %d of a %d byte block", length, offset, block.ClassSize)
	}
	return nil
}

// Read copies len(dst) bytes starting at offset within the block at address into dst
func (a *Allocator) Read(address uintptr, offset int, dst []byte) error {
	return a.withBlock(address, func(block *metadata.Block, data []byte) error {
		err := checkBounds(block, offset, len(dst))
		if err != nil {
			return err
		}
		copy(dst, data[offset:offset+len(dst)])
		return nil
	})
}

// Write copies src into the block at address, starting at offset
func (a *Allocator) Write(address uintptr, offset int, src []byte) error {
	return a.withBlock(address, func(block *metadata.Block, data []byte) error {
		err := checkBounds(block, offset, len(src))
		if err != nil {
			return err
		}
		copy(data[offset:], src)
		return nil
	})
}

// ReadWord reads the native word at offset within the block at address. offset must be word aligned.
func (a *Allocator) ReadWord(address uintptr, offset int) (uintptr, error) {
	var value uintptr
	err := a.withBlock(address, func(block *metadata.Block, data []byte) error {
		err := checkBounds(block, offset, memutils.WordSize)
		if err != nil {
			return err
		}
		value, err = rawmem.Word(data, offset)
		return err
	})
	return value, err
}

// WriteWord stores value as a native word at offset within the block at address. This is how a
// Go caller records a reference from one block to another. offset must be word aligned.
func (a *Allocator) WriteWord(address uintptr, offset int, value uintptr) error {
	return a.withBlock(address, func(block *metadata.Block, data []byte) error {
		err := checkBounds(block, offset, memutils.WordSize)
		if err != nil {
			return err
		}
		return rawmem.PutWord(data, offset, value)
	})
}

// Destroy ends the allocator's life. Every block that is still allocated is logged as
// unreleased memory and dropped from the registry. Its storage is only released if the allocator
// was created with AllocatorCreateReleaseOnDestroy; otherwise Destroy returns an error wrapping
// ErrUnreleasedBlocks and the storage stays valid for any native caller still holding it.
func (a *Allocator) Destroy() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return ErrAllocatorDestroyed
	}
	a.destroyed = true

	if a.registry.IsEmpty() {
		return nil
	}

	releaseStorage := a.createFlags&AllocatorCreateReleaseOnDestroy != 0

	var stats memutils.Statistics
	a.registry.AddStatistics(&stats)

	for _, address := range a.registry.Addresses() {
		handle, _ := a.registry.Find(address)
		block, err := a.registry.Block(handle)
		if err != nil {
			a.logger.LogAttrs(context.Background(), slog.LevelError, "error looking up unreleased block during destroy",
				addressAttr("address", address),
				slog.Any("error", err))
			continue
		}

		a.logUnreleasedMemory(block)
		if releaseStorage {
			a.releaseStorage(block)
		}
	}
	a.registry.Clear()

	if releaseStorage {
		return nil
	}

	return errors.Wrapf(ErrUnreleasedBlocks, "%d blocks holding %d bytes", stats.BlockCount, stats.BlockBytes)
}

func (a *Allocator) logUnreleasedMemory(block *metadata.Block) {
	a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed block",
		addressAttr("address", block.Address),
		slog.Int("requestedSize", block.RequestedSize),
		slog.Int("classSize", block.ClassSize),
	)
}
