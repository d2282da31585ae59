package gc

import (
	"strings"

	"github.com/vkngwrapper/rgc/gc/internal/utils"
	"github.com/vkngwrapper/rgc/memutils/metadata"
	"github.com/vkngwrapper/rgc/memutils/rawmem"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator will not be synchronized
	// internally. The consumer must guarantee that Malloc, Free and Collect are never called
	// concurrently.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
	// AllocatorCreateReleaseOnDestroy causes Destroy to release the storage of blocks that are
	// still allocated. Without it, Destroy only drops its bookkeeping and outstanding storage stays
	// mapped, since native callers may still be using it.
	AllocatorCreateReleaseOnDestroy
)

var createFlagsMapping = map[CreateFlags]string{
	AllocatorCreateExternallySynchronized: "AllocatorCreateExternallySynchronized",
	AllocatorCreateReleaseOnDestroy:       "AllocatorCreateReleaseOnDestroy",
}

func (f CreateFlags) String() string {
	flags := maps.Keys(createFlagsMapping)
	slices.Sort(flags)

	var names []string
	for _, flag := range flags {
		if f&flag != 0 {
			names = append(names, createFlagsMapping[flag])
		}
	}
	return strings.Join(names, "|")
}

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags

	// BaseClassSize is the smallest block size in bytes. Each further size class doubles the one
	// before it. Defaults to 521.
	BaseClassSize int
	// SizeClassCount is the number of size classes. Defaults to 8.
	SizeClassCount int

	// PageSource provides block storage. Defaults to rawmem.DefaultPageSource, which maps
	// anonymous memory on unix platforms.
	PageSource rawmem.PageSource

	// MemoryCallbacks is an optional set of callbacks that will be executed when blocks are
	// allocated and freed
	MemoryCallbacks *MemoryCallbackOptions
}

// New creates a new Allocator
//
// logger - Receives diagnostics: invalid frees, misaligned root regions and collection
// summaries. If nil, slog.Default() is used.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	baseClassSize := options.BaseClassSize
	if baseClassSize == 0 {
		baseClassSize = metadata.DefaultBaseClassSize
	}

	sizeClassCount := options.SizeClassCount
	if sizeClassCount == 0 {
		sizeClassCount = metadata.DefaultSizeClassCount
	}

	sizeClasses, err := metadata.NewSizeClassLadder(baseClassSize, sizeClassCount)
	if err != nil {
		return nil, err
	}

	pageSource := options.PageSource
	if pageSource == nil {
		pageSource = rawmem.DefaultPageSource()
	}

	allocator := &Allocator{
		logger:      logger,
		mutex:       utils.OptionalMutex{UseMutex: options.Flags&AllocatorCreateExternallySynchronized == 0},
		createFlags: options.Flags,
		sizeClasses: sizeClasses,
		pageSource:  pageSource,
		registry:    metadata.NewBlockRegistry(),
	}
	allocator.memoryCallbacks = memoryCallbacks{
		Callbacks: options.MemoryCallbacks,
		Allocator: allocator,
	}

	return allocator, nil
}
