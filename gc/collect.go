package gc

import (
	"context"

	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/rgc/memutils"
	"golang.org/x/exp/slog"
)

// CollectionSummary reports the outcome of a single collection
type CollectionSummary struct {
	// ObjectsCollected is the number of unreachable blocks that were freed
	ObjectsCollected int
	// BytesCollected is the sum of the class sizes of the freed blocks
	BytesCollected int
	// RequestedBytesCollected is the sum of the requested sizes of the freed blocks
	RequestedBytesCollected int
	// ObjectsRetained is the number of reachable blocks left alive
	ObjectsRetained int
	// RootReferences is the number of root slots found referencing a block
	RootReferences int
	// HeapReferences is the number of block-to-block references found
	HeapReferences int
}

func (s CollectionSummary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("objectsCollected", s.ObjectsCollected),
		slog.Int("bytesCollected", s.BytesCollected),
		slog.Int("requestedBytesCollected", s.RequestedBytesCollected),
		slog.Int("objectsRetained", s.ObjectsRetained),
		slog.Int("rootReferences", s.RootReferences),
		slog.Int("heapReferences", s.HeapReferences),
	)
}

// Collect runs one full mark-and-sweep cycle. It scans every block, the static region and the
// stack region for words that fall inside a block, traces reachability from the root slots, and
// frees every block that was not reached.
//
// The scan is conservative. Any word whose value lands inside a block keeps that block alive,
// whether or not it was meant as a pointer. A reference the scan cannot see, such as one held only
// in a register, one outside both root regions, or one stored in an encoded form, does not keep
// its block alive.
//
// The allocator's lock is held throughout, but it does not stop other threads from writing to
// the root regions or to block contents. The caller must keep that memory quiescent while Collect
// runs.
func (a *Allocator) Collect(roots RootRegions) (CollectionSummary, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return CollectionSummary{}, ErrAllocatorDestroyed
	}

	// Both regions are checked before anything is scanned or freed
	static, err := a.staticRegion(roots)
	if err != nil {
		return CollectionSummary{}, err
	}
	stack, err := stackRegion(roots)
	if err != nil {
		return CollectionSummary{}, err
	}

	table, err := newObjectTable(a.registry)
	if err != nil {
		return CollectionSummary{}, err
	}

	graph, err := buildHeapEdges(a.registry, table)
	if err != nil {
		return CollectionSummary{}, err
	}

	var summary CollectionSummary
	summary.HeapReferences = graph.edgeCount

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "scanning static region",
		addressAttr("start", static.Start),
		addressAttr("end", static.End))
	found, err := scanRegion(static, graph, table)
	if err != nil {
		return CollectionSummary{}, err
	}
	summary.RootReferences += found

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "scanning stack region",
		addressAttr("top", stack.Start),
		addressAttr("bottom", stack.End))
	found, err = scanRegion(stack, graph, table)
	if err != nil {
		return CollectionSummary{}, err
	}
	summary.RootReferences += found

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "heap graph", slog.Any("graph", graph))

	visited := a.markReachable(graph)
	a.sweep(visited, &summary)
	memutils.DebugValidate(a.registry)

	a.logger.LogAttrs(context.Background(), slog.LevelInfo, "garbage collection summary", slog.Any("summary", summary))
	return summary, nil
}

// markReachable walks the graph depth first from every root node and returns every node reached
func (a *Allocator) markReachable(graph *heapGraph) *swiss.Map[uintptr, struct{}] {
	visited := swiss.NewMap[uintptr, struct{}](uint32(graph.nodeCount() + 1))

	var stack []uintptr
	for _, root := range graph.rootNodes() {
		stack = a.walk(root, graph, visited, stack)
	}

	return visited
}

// walk is an iterative depth-first traversal from start. stack is scratch space that is
// returned for reuse.
func (a *Allocator) walk(start uintptr, graph *heapGraph, visited *swiss.Map[uintptr, struct{}], stack []uintptr) []uintptr {
	if visited.Has(start) {
		return stack
	}
	visited.Put(start, struct{}{})

	stack = append(stack[:0], start)
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		edges, ok := graph.edges(node)
		if !ok {
			a.logger.LogAttrs(context.Background(), slog.LevelError, "traversal node does not exist in the heap graph",
				addressAttr("node", node))
			continue
		}
		if edges == nil {
			continue
		}

		edges.Iter(func(next uintptr, _ struct{}) bool {
			if !visited.Has(next) {
				visited.Put(next, struct{}{})
				stack = append(stack, next)
			}
			return false
		})
	}

	return stack
}

// sweep frees every block that was not visited
func (a *Allocator) sweep(visited *swiss.Map[uintptr, struct{}], summary *CollectionSummary) {
	for _, address := range a.registry.Addresses() {
		if visited.Has(address) {
			summary.ObjectsRetained++
			continue
		}

		requestedSize, classSize := a.freeBlock(address)
		if classSize == 0 {
			continue
		}

		summary.ObjectsCollected++
		summary.BytesCollected += classSize
		summary.RequestedBytesCollected += requestedSize

		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "collected unreachable block",
			slog.Int("count", summary.ObjectsCollected),
			addressAttr("address", address),
			slog.Int("classSize", classSize))
	}
}
