package gc

import (
	"fmt"
	"sort"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/rgc/memutils/metadata"
	"github.com/vkngwrapper/rgc/memutils/rawmem"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

type objectRange struct {
	address uintptr
	size    uintptr
}

// objectTable maps each live block's payload address to its class size, ordered by address.
// Blocks never overlap, so any value falls inside at most one entry.
type objectTable struct {
	objects []objectRange
}

func newObjectTable(registry *metadata.BlockRegistry) (*objectTable, error) {
	addresses := registry.Addresses()
	table := &objectTable{objects: make([]objectRange, 0, len(addresses))}

	for _, address := range addresses {
		handle, _ := registry.Find(address)
		block, err := registry.Block(handle)
		if err != nil {
			return nil, err
		}

		table.objects = append(table.objects, objectRange{address: block.Address, size: uintptr(block.ClassSize)})
	}

	return table, nil
}

// find returns the payload address of the block whose byte range contains value
func (t *objectTable) find(value uintptr) (uintptr, bool) {
	i := sort.Search(len(t.objects), func(i int) bool {
		return t.objects[i].address > value
	}) - 1
	if i < 0 {
		return 0, false
	}

	object := t.objects[i]
	if value-object.address >= object.size {
		return 0, false
	}
	return object.address, true
}

// isObject reports whether address is exactly the payload address of a block
func (t *objectTable) isObject(address uintptr) bool {
	found, ok := t.find(address)
	return ok && found == address
}

func (t *objectTable) count() int {
	return len(t.objects)
}

// heapGraph maps a source address to the set of block payload addresses it appears to
// reference. A source is either a block's payload address or the address of a root slot.
type heapGraph struct {
	table     *objectTable
	nodes     *swiss.Map[uintptr, *swiss.Map[uintptr, struct{}]]
	edgeCount int
}

func newHeapGraph(table *objectTable) *heapGraph {
	return &heapGraph{
		table: table,
		nodes: swiss.NewMap[uintptr, *swiss.Map[uintptr, struct{}]](uint32(table.count() + 1)),
	}
}

func (g *heapGraph) addNode(address uintptr) {
	if !g.nodes.Has(address) {
		g.nodes.Put(address, nil)
	}
}

// addEdge records that from references to, creating the from node if needed. It returns false
// if the edge was already present.
func (g *heapGraph) addEdge(from, to uintptr) bool {
	edges, _ := g.nodes.Get(from)
	if edges == nil {
		edges = swiss.NewMap[uintptr, struct{}](4)
		g.nodes.Put(from, edges)
	}

	if edges.Has(to) {
		return false
	}

	edges.Put(to, struct{}{})
	g.edgeCount++
	return true
}

// edges returns the references out of node. ok is false if node is not in the graph.
func (g *heapGraph) edges(node uintptr) (edges *swiss.Map[uintptr, struct{}], ok bool) {
	return g.nodes.Get(node)
}

func (g *heapGraph) nodeCount() int {
	return g.nodes.Count()
}

// rootNodes returns every node that is not a block, in ascending address order
func (g *heapGraph) rootNodes() []uintptr {
	var roots []uintptr
	g.nodes.Iter(func(address uintptr, edges *swiss.Map[uintptr, struct{}]) bool {
		if !g.table.isObject(address) {
			roots = append(roots, address)
		}
		return false
	})
	slices.Sort(roots)
	return roots
}

func sortedEdges(edges *swiss.Map[uintptr, struct{}]) []uintptr {
	if edges == nil {
		return nil
	}

	targets := make([]uintptr, 0, edges.Count())
	edges.Iter(func(target uintptr, _ struct{}) bool {
		targets = append(targets, target)
		return false
	})
	slices.Sort(targets)
	return targets
}

// buildHeapEdges creates a node for every block, then scans each block's storage one word at a
// time for values that fall inside some other block
func buildHeapEdges(registry *metadata.BlockRegistry, table *objectTable) (*heapGraph, error) {
	graph := newHeapGraph(table)
	for _, object := range table.objects {
		graph.addNode(object.address)
	}

	err := registry.VisitAllBlocks(func(block *metadata.Block) error {
		source := block.Address
		return rawmem.ForEachBlockWord(storageOf(block).data, block.ClassSize, func(offset int, value uintptr) {
			target, ok := table.find(value)
			// A block pointing into itself is not an edge worth tracing
			if !ok || target == source {
				return
			}
			graph.addEdge(source, target)
		})
	})
	if err != nil {
		return nil, err
	}

	return graph, nil
}

func (g *heapGraph) writeJSON(writer *jwriter.Writer) {
	addresses := make([]uintptr, 0, g.nodes.Count())
	g.nodes.Iter(func(address uintptr, _ *swiss.Map[uintptr, struct{}]) bool {
		addresses = append(addresses, address)
		return false
	})
	slices.Sort(addresses)

	nodes := writer.Array()
	defer nodes.End()

	for _, address := range addresses {
		edges, _ := g.nodes.Get(address)

		kind := "R"
		if g.table.isObject(address) {
			kind = "H"
		}

		node := nodes.Object()
		node.Name("Kind").String(kind)
		node.Name("Address").String(fmt.Sprintf("%#x", address))
		references := node.Name("References").Array()
		for _, target := range sortedEdges(edges) {
			references.String(fmt.Sprintf("%#x", target))
		}
		references.End()
		node.End()
	}
}

// LogValue renders the graph as json, only when a handler actually records it
func (g *heapGraph) LogValue() slog.Value {
	writer := jwriter.NewWriter()
	g.writeJSON(&writer)
	return slog.StringValue(string(writer.Bytes()))
}
