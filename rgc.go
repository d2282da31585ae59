// Package rgc is the boundary of a conservative mark-and-sweep heap. Native callers receive raw
// block addresses from Allocate, hand them back to Release, and periodically call Collect with
// the bounds of their static data and stack so that blocks nothing refers to any longer can be
// reclaimed.
package rgc

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/rgc/gc"
	"golang.org/x/exp/slog"
)

// ErrUnsupportedArchitecture is returned from Init on targets whose pointers are not 64 bits wide
var ErrUnsupportedArchitecture = errors.New("rgc requires a 64-bit target")

var pointerWidth = int(unsafe.Sizeof(uintptr(0)))

// Context owns a single heap. Every boundary operation is made through a Context; independent
// Contexts share nothing.
type Context struct {
	allocator *gc.Allocator
}

// Init creates a new heap. It fails with ErrUnsupportedArchitecture unless pointers are 8 bytes.
func Init(logger *slog.Logger, options gc.CreateOptions) (*Context, error) {
	if pointerWidth != 8 {
		return nil, errors.Wrapf(ErrUnsupportedArchitecture, "pointer width is %d bytes", pointerWidth)
	}

	allocator, err := gc.New(logger, options)
	if err != nil {
		return nil, err
	}

	return &Context{allocator: allocator}, nil
}

// Allocator exposes the underlying allocator, for Go callers that need to read or write block
// contents
func (c *Context) Allocator() *gc.Allocator {
	return c.allocator
}

// Allocate returns the address of a new zero-filled block of at least size bytes. A size of
// zero or less returns the null address and no error.
func (c *Context) Allocate(size int64) (uintptr, error) {
	if size <= 0 {
		return 0, nil
	}

	return c.allocator.Malloc(int(size))
}

// Release frees the block at address. The null address is ignored.
func (c *Context) Release(address uintptr) {
	c.allocator.Free(address)
}

// Collect frees every block that cannot be reached from the static region
// [staticStart, staticEnd) or the stack region [stackTop, stackBottom)
func (c *Context) Collect(staticStart, staticEnd, stackTop, stackBottom uintptr) (gc.CollectionSummary, error) {
	return c.allocator.Collect(gc.RootRegions{
		StaticStart: staticStart,
		StaticEnd:   staticEnd,
		StackTop:    stackTop,
		StackBottom: stackBottom,
	})
}

// Teardown destroys the heap. Blocks still allocated are reported through the returned error
// unless the Context was created with gc.AllocatorCreateReleaseOnDestroy.
func (c *Context) Teardown() error {
	return c.allocator.Destroy()
}

// Stats returns a json document describing the live blocks
func (c *Context) Stats(detailed bool) string {
	return c.allocator.BuildStatsString(detailed)
}
