package gc

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/rgc/memutils"
	"github.com/vkngwrapper/rgc/memutils/rawmem"
	"golang.org/x/exp/slog"
)

// ErrUnalignedStack is returned from Collect when either stack bound is not word aligned
var ErrUnalignedStack = errors.New("stack bounds must be word aligned")

// RootRegions are the two regions of caller memory that may hold references into the heap.
// The addresses are supplied by the host environment and are taken as given.
type RootRegions struct {
	// StaticStart is the start of initialized static data. It is rounded up to a word boundary.
	StaticStart uintptr
	// StaticEnd is the first address past all static data, initialized and zero-initialized.
	// It is rounded down to a word boundary, with a warning if it was not already aligned.
	StaticEnd uintptr

	// StackTop is the lowest live stack address, nearest to the current frame
	StackTop uintptr
	// StackBottom is the highest stack address, where the stack began
	StackBottom uintptr
}

func (a *Allocator) staticRegion(roots RootRegions) (rawmem.Region, error) {
	region := rawmem.Region{Start: roots.StaticStart, End: roots.StaticEnd}
	if region.End < region.Start {
		return rawmem.Region{}, errors.Wrapf(rawmem.ErrInvertedRegion, "static region [%#x, %#x)", region.Start, region.End)
	}

	aligned := region.Aligned()
	if aligned.End != region.End {
		a.logger.LogAttrs(context.Background(), slog.LevelWarn, "static region end is not 8-byte aligned",
			addressAttr("end", region.End),
			addressAttr("evaluatedAs", aligned.End))
	}

	return aligned, nil
}

func stackRegion(roots RootRegions) (rawmem.Region, error) {
	word := uintptr(memutils.WordSize)
	if !memutils.IsAligned(roots.StackTop, word) || !memutils.IsAligned(roots.StackBottom, word) {
		return rawmem.Region{}, errors.Wrapf(ErrUnalignedStack, "stack top %#x, stack bottom %#x", roots.StackTop, roots.StackBottom)
	}

	region := rawmem.Region{Start: roots.StackTop, End: roots.StackBottom}
	err := region.Validate()
	if err != nil {
		return rawmem.Region{}, errors.Wrap(err, "invalid stack region")
	}

	return region, nil
}

// scanRegion reads every word of region from low to high address. Each non-zero word that falls
// inside a block adds an edge from the word's own address to that block. It returns the number
// of edges added.
func scanRegion(region rawmem.Region, graph *heapGraph, table *objectTable) (int, error) {
	found := 0
	err := region.ForEachWord(func(address, value uintptr) {
		if value == 0 {
			return
		}

		target, ok := table.find(value)
		if ok && graph.addEdge(address, target) {
			found++
		}
	})
	return found, err
}
